package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/livesync/internal/config"
	"github.com/DoyleJ11/livesync/internal/logging"
	"github.com/DoyleJ11/livesync/internal/metrics"
	"github.com/DoyleJ11/livesync/internal/session"
	"github.com/DoyleJ11/livesync/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var errSessionClosed = errors.New("session closed before joining")

type clientFlags struct {
	envFile    string
	url        string
	scope      string
	credential string
	user       string
}

// client is one attached scope plus what the commands need around it.
type client struct {
	cfg     config.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	manager *session.Manager
	handle  *session.Handle
}

func (f clientFlags) resolve(cfg config.Config) config.Config {
	if f.url != "" {
		cfg.RelayURL = f.url
	}
	if f.scope != "" {
		cfg.Scope = f.scope
	}
	if f.credential != "" {
		cfg.Credential = f.credential
	}
	if f.user != "" {
		cfg.UserID = f.user
	}
	return cfg
}

func attach(ctx context.Context, f clientFlags) (*client, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, err
	}
	cfg = f.resolve(cfg)
	if cfg.Scope == "" {
		return nil, errors.New("a scope is required (--scope or LIVESYNC_SCOPE)")
	}

	log, err := logging.New(cfg.Logging("livewatch"))
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts := cfg.SessionOptions()
	opts.Logger = log
	opts.Metrics = m
	manager := session.NewManager(transport.WSDialer{URL: cfg.RelayURL}, opts)

	h, err := manager.Acquire(ctx, cfg.Scope, cfg.Credential)
	if err != nil {
		_ = manager.Shutdown()
		return nil, fmt.Errorf("acquire %s: %w", cfg.Scope, err)
	}
	return &client{cfg: cfg, log: log, reg: reg, metrics: m, manager: manager, handle: h}, nil
}

// waitJoined blocks until the scope is joined or the session gives up.
func (c *client) waitJoined(ctx context.Context) error {
	updates, stop := c.handle.Watch()
	defer stop()
	for {
		st := c.handle.Status()
		switch {
		case st.Joined():
			return nil
		case st.State == session.StateError, st.State == session.StateDisconnected:
			if st.Err != nil {
				return fmt.Errorf("scope %s: %w", c.cfg.Scope, st.Err)
			}
			return fmt.Errorf("scope %s: %s", c.cfg.Scope, st.State)
		}
		select {
		case _, ok := <-updates:
			if !ok {
				return errSessionClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *client) close() error {
	c.handle.Release()
	_ = c.log.Sync()
	return c.manager.Shutdown()
}
