package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/DoyleJ11/livesync/internal/feature"
	"github.com/DoyleJ11/livesync/internal/logging"
	"github.com/DoyleJ11/livesync/internal/session"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Relay server
	RelayAddr   string `env:"RELAY_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Client
	RelayURL   string `env:"RELAY_URL" envDefault:"ws://localhost:8080/ws"`
	Credential string `env:"CREDENTIAL"`
	Scope      string `env:"SCOPE"`
	UserID     string `env:"USER_ID"`

	CallTimeout       time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
	JoinTimeout       time.Duration `env:"JOIN_TIMEOUT" envDefault:"10s"`
	MutationTimeout   time.Duration `env:"MUTATION_TIMEOUT" envDefault:"30s"`
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectInitial  time.Duration `env:"RECONNECT_INITIAL" envDefault:"1s"`
	ReconnectMax      time.Duration `env:"RECONNECT_MAX" envDefault:"10s"`
	BatchQuiet        time.Duration `env:"BATCH_QUIET" envDefault:"100ms"`
	CacheCapacity     int           `env:"CACHE_CAPACITY" envDefault:"500"`
	ListLimit         int           `env:"LIST_LIMIT" envDefault:"50"`

	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads an optional .env file, then parses LIVESYNC_* variables.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LIVESYNC_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("LIVESYNC_RECONNECT_ATTEMPTS must be at least 1, got %d", c.ReconnectAttempts)
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("LIVESYNC_CACHE_CAPACITY must be at least 1, got %d", c.CacheCapacity)
	}
	if c.ListLimit < 1 {
		return fmt.Errorf("LIVESYNC_LIST_LIMIT must be at least 1, got %d", c.ListLimit)
	}
	return nil
}

func (c Config) Logging(service string) logging.Config {
	return logging.Config{Environment: c.Environment, LogLevel: c.LogLevel, ServiceName: service}
}

func (c Config) SessionOptions() session.Options {
	return session.Options{
		JoinTimeout:       c.JoinTimeout,
		CallTimeout:       c.CallTimeout,
		ReconnectAttempts: c.ReconnectAttempts,
		ReconnectInitial:  c.ReconnectInitial,
		ReconnectMax:      c.ReconnectMax,
	}
}

func (c Config) FeatureOptions() feature.Options {
	return feature.Options{
		UserID:          c.UserID,
		ListLimit:       c.ListLimit,
		BatchQuiet:      c.BatchQuiet,
		CacheCapacity:   c.CacheCapacity,
		CallTimeout:     c.CallTimeout,
		MutationTimeout: c.MutationTimeout,
	}
}
