// Package config holds the service settings read from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/capability"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	StoreDriver       string        `env:"STORE_DRIVER" envDefault:"postgres"`
	RedisURL          string        `env:"REDIS_URL"`
	SessionSecret     string        `env:"SESSION_SECRET"`
	SessionIssuer     string        `env:"SESSION_ISSUER" envDefault:"membership"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CapabilityFile    string        `env:"CAPABILITY_FILE"`
	FeedWindow        int           `env:"FEED_WINDOW" envDefault:"50"`
	PasswordMinLength int           `env:"PASSWORD_MIN_LENGTH" envDefault:"6"`
	BcryptCost        int           `env:"BCRYPT_COST" envDefault:"12"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if c.FeedWindow <= 0 {
		return errors.New("FEED_WINDOW must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// Capabilities returns the admin table from CAPABILITY_FILE, or the built-in
// defaults when no file is configured.
func (c Config) Capabilities() (*capability.Table, error) {
	if c.CapabilityFile == "" {
		return capability.Default(), nil
	}
	return capability.Load(c.CapabilityFile)
}
