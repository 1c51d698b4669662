// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. CLI flags override these values.
type Config struct {
	Voices       int           `env:"EARSHOT_VOICES" envDefault:"32"`
	History      int           `env:"EARSHOT_HISTORY" envDefault:"64"`
	TickRate     time.Duration `env:"EARSHOT_TICK_RATE" envDefault:"16ms"`
	RemovalDelay float64       `env:"EARSHOT_REMOVAL_DELAY" envDefault:"1"`
	Language     string        `env:"EARSHOT_LANGUAGE" envDefault:"en"`
	DB           string        `env:"EARSHOT_DB"`

	OTelEndpoint string `env:"EARSHOT_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"EARSHOT_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Voices < 1 {
		return fmt.Errorf("EARSHOT_VOICES must be at least 1, got %d", c.Voices)
	}
	if c.History < 1 {
		return fmt.Errorf("EARSHOT_HISTORY must be at least 1, got %d", c.History)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("EARSHOT_TICK_RATE must be positive, got %s", c.TickRate)
	}
	if c.RemovalDelay < 0 {
		return fmt.Errorf("EARSHOT_REMOVAL_DELAY must not be negative, got %g", c.RemovalDelay)
	}
	return nil
}
