package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type StoreConfig struct {
	Driver      string `env:"PETFARM_STORE" envDefault:"sqlite"`
	SQLitePath  string `env:"PETFARM_SQLITE_PATH" envDefault:"petfarm.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	MaxConns    int32  `env:"PETFARM_DB_MAX_CONNS" envDefault:"20"`
}

// GameConfig carries the economy rules, integrity limits and timer cadences.
type GameConfig struct {
	MaxLevel      int           `env:"PETFARM_MAX_LEVEL" envDefault:"10"`
	MinBreedLevel int           `env:"PETFARM_MIN_BREED_LEVEL" envDefault:"5"`
	BreedDuration time.Duration `env:"PETFARM_BREED_DURATION" envDefault:"18h"`
	BaseInterval  time.Duration `env:"PETFARM_BASE_INTERVAL" envDefault:"5m"`
	MaxCatchUp    time.Duration `env:"PETFARM_MAX_CATCH_UP" envDefault:"24h"`

	MaxActionsPerMinute int           `env:"PETFARM_MAX_ACTIONS_PER_MINUTE" envDefault:"60"`
	ClockTolerance      time.Duration `env:"PETFARM_CLOCK_TOLERANCE" envDefault:"100ms"`
	LockAfterHigh       int           `env:"PETFARM_LOCK_AFTER_HIGH" envDefault:"2"`

	AccrualEvery   time.Duration `env:"PETFARM_ACCRUAL_EVERY" envDefault:"1m"`
	BreedingEvery  time.Duration `env:"PETFARM_BREEDING_EVERY" envDefault:"10s"`
	ProceedsEvery  time.Duration `env:"PETFARM_PROCEEDS_EVERY" envDefault:"15s"`
	FastCheckEvery time.Duration `env:"PETFARM_FAST_CHECK_EVERY" envDefault:"1s"`
	AuditEvery     time.Duration `env:"PETFARM_AUDIT_EVERY" envDefault:"5s"`
	AutosaveEvery  time.Duration `env:"PETFARM_AUTOSAVE_EVERY" envDefault:"30s"`
}

type APIConfig struct {
	Addr           string        `env:"PETFARM_API_ADDR" envDefault:":8080"`
	CatalogPath    string        `env:"PETFARM_CATALOG_PATH"`
	IdentitySecret string        `env:"PETFARM_IDENTITY_SECRET,required,notEmpty"`
	AdminIDs       []string      `env:"PETFARM_ADMIN_IDS" envSeparator:","`
	RequestsPerSec float64       `env:"PETFARM_API_RPS" envDefault:"20"`
	RequestBurst   int           `env:"PETFARM_API_BURST" envDefault:"40"`
	StreamEvery    time.Duration `env:"PETFARM_STREAM_EVERY" envDefault:"2s"`
	SessionIdle    time.Duration `env:"PETFARM_SESSION_IDLE" envDefault:"30m"`
	Store          StoreConfig
	Game           GameConfig
}

type AuditConfig struct {
	CatalogPath string        `env:"PETFARM_CATALOG_PATH"`
	Every       time.Duration `env:"PETFARM_AUDIT_SWEEP_EVERY" envDefault:"10m"`
	RunOnce     bool          `env:"PETFARM_AUDIT_RUN_ONCE"`
	Store       StoreConfig
	Game        GameConfig
}

type CLIConfig struct {
	APIBaseURL     string `env:"PF_API_BASE_URL" envDefault:"http://localhost:8080"`
	IdentitySecret string `env:"PF_IDENTITY_SECRET"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	for i, id := range cfg.AdminIDs {
		cfg.AdminIDs[i] = strings.TrimSpace(id)
	}
	if err := cfg.Store.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Game.validate(); err != nil {
		return cfg, err
	}
	if cfg.RequestsPerSec <= 0 || cfg.RequestBurst <= 0 {
		return cfg, fmt.Errorf("PETFARM_API_RPS and PETFARM_API_BURST must be > 0")
	}
	return cfg, nil
}

func LoadAuditFromEnv() (AuditConfig, error) {
	var cfg AuditConfig
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Store.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Game.validate(); err != nil {
		return cfg, err
	}
	if cfg.Every <= 0 {
		return cfg, fmt.Errorf("PETFARM_AUDIT_SWEEP_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	var cfg CLIConfig
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg, nil
}

func (c *StoreConfig) validate() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	switch c.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("PETFARM_SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("PETFARM_STORE must be memory, sqlite or postgres, got %q", c.Driver)
	}
	return nil
}

func (g GameConfig) validate() error {
	switch {
	case g.MaxLevel < 1:
		return fmt.Errorf("PETFARM_MAX_LEVEL must be >= 1")
	case g.MinBreedLevel < 1 || g.MinBreedLevel > g.MaxLevel:
		return fmt.Errorf("PETFARM_MIN_BREED_LEVEL must be within [1, %d]", g.MaxLevel)
	case g.BaseInterval <= 0:
		return fmt.Errorf("PETFARM_BASE_INTERVAL must be > 0")
	case g.MaxActionsPerMinute <= 0:
		return fmt.Errorf("PETFARM_MAX_ACTIONS_PER_MINUTE must be > 0")
	case g.LockAfterHigh <= 0:
		return fmt.Errorf("PETFARM_LOCK_AFTER_HIGH must be > 0")
	}
	return nil
}
