// Package config loads and validates process configuration from the
// environment, with optional .env support for local runs.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/liqingnz/time-ticket/internal/app/services/game"
)

// Config is the full process configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Bank       BankConfig
	Randomness RandomnessConfig
	Game       GameConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host       string `env:"HTTP_HOST,default=0.0.0.0"`
	Port       int    `env:"HTTP_PORT,default=8080"`
	AdminToken string `env:"ADMIN_TOKEN"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER,default=memory"`
	DSN    string `env:"DATABASE_URL"`
}

// BankConfig names the ledger's well-known accounts.
type BankConfig struct {
	VaultAddress string `env:"VAULT_ADDRESS,default=vault"`
}

// RandomnessConfig controls the coordinator boundary.
type RandomnessConfig struct {
	CoordinatorToken string        `env:"COORDINATOR_TOKEN"`
	RequestInterval  time.Duration `env:"RANDOMNESS_REQUEST_INTERVAL,default=5s"`
}

// GameConfig holds the engine's tunable parameters.
type GameConfig struct {
	PotAddress   string `env:"POT_ADDRESS,default=game-pot"`
	FeeRecipient string `env:"FEE_RECIPIENT,default=fee-recipient"`

	StartPrice     int64 `env:"TICKET_START_PRICE,default=100"`
	PriceIncrement int64 `env:"TICKET_PRICE_INCREMENT,default=10"`

	ExtensionPerTicket time.Duration `env:"EXTENSION_PER_TICKET,default=30s"`
	BaseDuration       time.Duration `env:"BASE_ROUND_DURATION,default=5m"`
	MaxRoundDuration   time.Duration `env:"MAX_ROUND_DURATION,default=24h"`

	FundingRatioMinBps   int64 `env:"FUNDING_RATIO_MIN_BPS,default=500"`
	FundingRatioRangeBps int64 `env:"FUNDING_RATIO_RANGE_BPS,default=501"`

	WinnerShareBps   int64 `env:"WINNER_SHARE_BPS,default=4000"`
	DividendShareBps int64 `env:"DIVIDEND_SHARE_BPS,default=2500"`
	AirdropShareBps  int64 `env:"AIRDROP_SHARE_BPS,default=1000"`
	TeamShareBps     int64 `env:"TEAM_SHARE_BPS,default=1000"`
	CarryShareBps    int64 `env:"CARRY_SHARE_BPS,default=1500"`

	AirdropWinnerCount int64 `env:"AIRDROP_WINNER_COUNT,default=3"`
	ExpiryWindow       int64 `env:"CLAIM_EXPIRY_WINDOW,default=10"`

	FeePPM     int64  `env:"FEE_PPM,default=10000"`
	VoucherKey string `env:"VOUCHER_KEY"`

	SettleInterval time.Duration `env:"SETTLE_INTERVAL,default=5s"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints Decode cannot express.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.Bank.VaultAddress == "" {
		return fmt.Errorf("VAULT_ADDRESS must not be empty")
	}
	// Reuse the engine's own parameter validation so a bad split or a
	// zero funding range is rejected before anything starts.
	if err := c.GameParams().Validate(); err != nil {
		return err
	}
	return nil
}

// GameParams maps the configuration onto engine parameters.
func (c Config) GameParams() game.Params {
	return game.Params{
		PotAddress:           c.Game.PotAddress,
		FeeRecipient:         c.Game.FeeRecipient,
		StartPrice:           c.Game.StartPrice,
		PriceIncrement:       c.Game.PriceIncrement,
		ExtensionPerTicket:   c.Game.ExtensionPerTicket,
		BaseDuration:         c.Game.BaseDuration,
		MaxRoundDuration:     c.Game.MaxRoundDuration,
		FundingRatioMinBps:   c.Game.FundingRatioMinBps,
		FundingRatioRangeBps: c.Game.FundingRatioRangeBps,
		WinnerShareBps:       c.Game.WinnerShareBps,
		DividendShareBps:     c.Game.DividendShareBps,
		AirdropShareBps:      c.Game.AirdropShareBps,
		TeamShareBps:         c.Game.TeamShareBps,
		CarryShareBps:        c.Game.CarryShareBps,
		AirdropWinnerCount:   c.Game.AirdropWinnerCount,
		ExpiryWindow:         c.Game.ExpiryWindow,
		FeePPM:               c.Game.FeePPM,
		VoucherKey:           voucherKeyBytes(c.Game.VoucherKey),
	}
}

func voucherKeyBytes(key string) []byte {
	if key == "" {
		return nil
	}
	return []byte(key)
}
