package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/decred/slog"

	"github.com/abhishek-72-cmd/LuckyFive-server/fivegame"
)

// Config is the server configuration. Fields load from LUCKYFIVE_*
// environment variables; LogBackend is wired by the caller.
type Config struct {
	ListenAddr string `env:"LUCKYFIVE_LISTEN_ADDR" envDefault:":8080"`

	// OpsAddr enables the operational HTTP endpoint (healthz, metrics)
	// when non-empty.
	OpsAddr string `env:"LUCKYFIVE_OPS_ADDR"`

	// DBDriver selects the ledger backend: bolt, sqlite or postgres.
	DBDriver string `env:"LUCKYFIVE_DB_DRIVER" envDefault:"bolt"`
	DBDSN    string `env:"LUCKYFIVE_DB_DSN" envDefault:"luckyfive.db"`

	JWTSecret string `env:"LUCKYFIVE_JWT_SECRET"`

	// StartingBalance seeds accounts created on first authentication,
	// in minor units.
	StartingBalance int64 `env:"LUCKYFIVE_STARTING_BALANCE" envDefault:"1000"`

	RoundDuration time.Duration `env:"LUCKYFIVE_ROUND_DURATION" envDefault:"30s"`
	FreezeOffset  time.Duration `env:"LUCKYFIVE_FREEZE_OFFSET" envDefault:"20s"`
	ResultOffset  time.Duration `env:"LUCKYFIVE_RESULT_OFFSET" envDefault:"7s"`
	WinMultiplier int64         `env:"LUCKYFIVE_WIN_MULTIPLIER" envDefault:"5"`

	Debug       string `env:"LUCKYFIVE_DEBUG" envDefault:"info"`
	DebugEngine string `env:"LUCKYFIVE_DEBUG_ENGINE" envDefault:"info"`

	LogBackend *slog.Backend `env:"-"`
}

// LoadConfig reads the environment into a Config.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with. Timing
// invariants are delegated to the engine config.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LUCKYFIVE_LISTEN_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("LUCKYFIVE_JWT_SECRET is required")
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("LUCKYFIVE_STARTING_BALANCE must not be negative")
	}
	if err := c.RoundConfig().Validate(); err != nil {
		return fmt.Errorf("round timing: %w", err)
	}
	return nil
}

// RoundConfig maps the timing fields onto the engine config.
func (c Config) RoundConfig() fivegame.Config {
	return fivegame.Config{
		RoundDuration: c.RoundDuration,
		FreezeOffset:  c.FreezeOffset,
		ResultOffset:  c.ResultOffset,
		WinMultiplier: c.WinMultiplier,
	}
}
