// Package config loads the daemon's TOML configuration: risk parameters,
// the configured collateral denoms, fee routing, storage location, and the
// HTTP listen/auth settings. Structured the way native/lending/config.go
// lays out its own Config/BreakerThresholds split: one struct per concern,
// toml tags throughout, no business logic here beyond loading and
// validating shape.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RiskParams holds the risk settings read from the config file. Only
// ProtocolFeeBps is applied by the daemon (a zero value falls back to
// ironvault.DefaultProtocolFeeBps); MinimumCollateralRatioBps and
// LiquidationThresholdBps are loaded but not read by any engine, which use
// the constants in internal/ironvault.
type RiskParams struct {
	MinimumCollateralRatioBps uint64 `toml:"MinimumCollateralRatioBps"`
	LiquidationThresholdBps   uint64 `toml:"LiquidationThresholdBps"`
	ProtocolFeeBps            uint64 `toml:"ProtocolFeeBps"`
}

// CollateralDenom is one admin-configured collateral asset: its oracle feed
// identifier and native decimal precision, mirroring oracle.CollateralConfig
// but expressed as the on-disk config shape before it is loaded into the
// gateway's persistent store.
type CollateralDenom struct {
	Denom    string `toml:"Denom"`
	Decimals uint8  `toml:"Decimals"`
	FeedID   string `toml:"FeedID"`
}

// FeeRouting is the initial FeeRouter configuration loaded at daemon
// bootstrap; subsequent changes go through the admin HTTP endpoints and are
// persisted independently.
type FeeRouting struct {
	StakeEnabled bool   `toml:"StakeEnabled"`
	FeeAddress1  string `toml:"FeeAddress1"`
	FeeAddress2  string `toml:"FeeAddress2"`
}

// Storage configures the persistent key-value backend.
type Storage struct {
	LevelDBPath string `toml:"LevelDBPath"`
}

// HTTP configures the daemon's API listener and admin authentication.
type HTTP struct {
	ListenAddr       string `toml:"ListenAddr"`
	AdminJWTSecret   string `toml:"AdminJWTSecret"`
	AdminJWTIssuer   string `toml:"AdminJWTIssuer"`
	RedeemRatePerSec float64 `toml:"RedeemRatePerSec"`
	RedeemBurst      int    `toml:"RedeemBurst"`
}

// External configures the RPC endpoints of the out-of-scope collaborator
// services this engine drives: the stablecoin mint authority, the
// collateral custody vault, and the upstream Pyth Hermes price feed.
type External struct {
	StablecoinRPCURL   string `toml:"StablecoinRPCURL"`
	StablecoinAuthToken string `toml:"StablecoinAuthToken"`
	VaultRPCURL        string `toml:"VaultRPCURL"`
	VaultAuthToken     string `toml:"VaultAuthToken"`
	PythHermesURL      string `toml:"PythHermesURL"`
}

// Config is the full daemon configuration, loaded from a single TOML file.
type Config struct {
	Risk       RiskParams        `toml:"risk"`
	Collateral []CollateralDenom `toml:"collateral"`
	Fees       FeeRouting        `toml:"fees"`
	Storage    Storage           `toml:"storage"`
	HTTP       HTTP              `toml:"http"`
	External   External          `toml:"external"`
}

// Load reads and parses the TOML configuration at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.LevelDBPath == "" {
		c.Storage.LevelDBPath = "./ironvault-data"
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8420"
	}
	if c.HTTP.RedeemRatePerSec == 0 {
		c.HTTP.RedeemRatePerSec = 5
	}
	if c.HTTP.RedeemBurst == 0 {
		c.HTTP.RedeemBurst = 10
	}
}

// Validate checks that the loaded configuration is internally consistent
// enough to bootstrap the daemon. It does not second-guess risk-parameter
// values the operator has deliberately chosen.
func (c *Config) Validate() error {
	if len(c.Collateral) == 0 {
		return fmt.Errorf("config: at least one [[collateral]] entry is required")
	}
	seen := make(map[string]struct{}, len(c.Collateral))
	for _, denom := range c.Collateral {
		if denom.Denom == "" {
			return fmt.Errorf("config: collateral entry missing Denom")
		}
		if _, dup := seen[denom.Denom]; dup {
			return fmt.Errorf("config: duplicate collateral denom %q", denom.Denom)
		}
		seen[denom.Denom] = struct{}{}
		if denom.FeedID == "" {
			return fmt.Errorf("config: collateral %q missing FeedID", denom.Denom)
		}
	}
	if c.Fees.StakeEnabled == false && (c.Fees.FeeAddress1 == "" || c.Fees.FeeAddress2 == "") {
		return fmt.Errorf("config: fees.FeeAddress1 and fees.FeeAddress2 are required when StakeEnabled is false")
	}
	if c.External.StablecoinRPCURL == "" {
		return fmt.Errorf("config: external.StablecoinRPCURL is required")
	}
	if c.External.VaultRPCURL == "" {
		return fmt.Errorf("config: external.VaultRPCURL is required")
	}
	return nil
}

// MustLoad loads path and exits the process on failure, used by cmd/ironvaultd
// at startup where a bad config file is unrecoverable.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
