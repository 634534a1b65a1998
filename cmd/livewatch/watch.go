package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/DoyleJ11/livesync/internal/feature"
	"github.com/DoyleJ11/livesync/internal/metrics"
	"github.com/DoyleJ11/livesync/internal/session"
	"github.com/DoyleJ11/livesync/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// snapshotter is the part of every feature client the watch loop needs.
type snapshotter interface {
	OnChange(fn func())
	Close()
}

func newWatchCmd(flags *clientFlags) *cobra.Command {
	var features []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print feature snapshots as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), *flags, features)
		},
	}
	cmd.Flags().StringSliceVar(&features, "features",
		[]string{"gamification", "heatmap", "networking", "leads", "chat", "subtitles"},
		"Feature streams to follow")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, flags clientFlags, names []string) error {
	c, err := attach(ctx, flags)
	if err != nil {
		return err
	}
	defer c.close()

	opts := c.cfg.FeatureOptions()
	opts.Logger = c.log
	opts.Metrics = c.metrics

	var mu sync.Mutex
	enc := types.JSON.NewEncoder(out)
	emit := func(name string, snap any) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(struct {
			Feature  string `json:"feature"`
			At       string `json:"at"`
			Snapshot any    `json:"snapshot"`
		}{name, time.Now().UTC().Format(time.RFC3339), snap}); err != nil {
			c.log.Warn("write snapshot", zap.Error(err))
		}
	}

	for _, name := range names {
		f, snapshot, err := openFeature(name, c, opts)
		if err != nil {
			return err
		}
		defer f.Close()
		f.OnChange(func() { emit(name, snapshot()) })
	}

	if err := c.waitJoined(ctx); err != nil {
		return err
	}
	c.log.Info("watching", zap.String("scope", c.cfg.Scope), zap.Strings("features", names))

	g, ctx := errgroup.WithContext(ctx)
	if c.cfg.MetricsAddr != "" {
		srv := metrics.NewServer(c.cfg.MetricsAddr, c.reg)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		updates, stop := c.handle.Watch()
		defer stop()
		followStatus(ctx, updates, emit)
		return nil
	})
	return g.Wait()
}

// followStatus emits every session status until ctx ends or the session
// closes its watch channel.
func followStatus(ctx context.Context, updates <-chan session.Status, emit func(string, any)) {
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				return
			}
			emit("session", st)
		case <-ctx.Done():
			return
		}
	}
}

func openFeature(name string, c *client, opts feature.Options) (snapshotter, func() any, error) {
	switch name {
	case "gamification":
		f := feature.NewGamification(c.handle, opts)
		return f, func() any { return f.Snapshot() }, nil
	case "heatmap":
		f := feature.NewHeatmap(c.handle, opts)
		return f, func() any { return f.Snapshot() }, nil
	case "networking":
		f := feature.NewNetworking(c.handle, opts)
		return f, func() any { return f.Snapshot() }, nil
	case "leads":
		f := feature.NewLeads(c.handle, opts)
		return f, func() any { return f.Snapshot() }, nil
	case "chat":
		f := feature.NewChat(c.handle, opts)
		return f, func() any { return f.Snapshot() }, nil
	case "subtitles":
		f := feature.NewSubtitles(c.handle, opts)
		return f, func() any { return f.Snapshot() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown feature %q", name)
	}
}
