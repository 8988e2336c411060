// Package oracle implements the price gateway every component that values
// collateral reads through: a small admin-managed registry of supported
// denoms plus a pluggable upstream PriceSource, with staleness and
// confidence validation applied uniformly regardless of which upstream
// answered.
package oracle

import (
	"context"
	"time"

	"ironvault/internal/ironvault"
)

const moduleName = "oracle"

// CollateralConfig is the admin-set registration for one supported
// collateral denom: its decimal precision and the upstream feed identifier
// used to look it up.
type CollateralConfig struct {
	Denom        string `json:"denom"`
	Decimals     uint8  `json:"decimals"`
	FeedID       string `json:"feed_id"`
	ConfiguredAt int64  `json:"configured_at"`
}

// Clone returns a deep copy of the collateral configuration.
func (c *CollateralConfig) Clone() *CollateralConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Price is a point-in-time price quote expressed the Pyth way: an integer
// mantissa scaled by 10^Exponent, with a confidence interval and the
// unix-seconds timestamp it was published at.
type Price struct {
	Denom      string `json:"denom"`
	Mantissa   int64  `json:"mantissa"`
	Exponent   int32  `json:"exponent"`
	Confidence uint64 `json:"confidence"`
	Timestamp  int64  `json:"timestamp"`
}

// PriceSource is the external upstream feed collaborator. Implementations
// might wrap a Pyth client, a REST price API, or (in tests) a fixed table.
type PriceSource interface {
	Price(ctx context.Context, feedID string) (Price, error)
}

// engineState is the persistence seam the gateway is wired against, mirroring
// the teacher engine's narrow per-entity Get/Put interface rather than a
// single do-everything store. Admin authorization for the Set/Remove calls
// below is enforced by the HTTP layer, not here.
type engineState interface {
	GetCollateralConfigs() ([]CollateralConfig, error)
	PutCollateralConfigs([]CollateralConfig) error
}

// Gateway validates and serves prices for the collateral denoms the admin
// has registered.
type Gateway struct {
	state  engineState
	source PriceSource
	now    func() time.Time

	maxAgeSeconds int64
	minConfidence uint64
}

// NewGateway constructs a Gateway bound to a persistence seam and upstream
// source, using the default staleness and confidence thresholds.
func NewGateway(state engineState, source PriceSource) *Gateway {
	return &Gateway{
		state:         state,
		source:        source,
		now:           time.Now,
		maxAgeSeconds: ironvault.OracleMaxAgeSeconds,
		minConfidence: ironvault.OracleMinConfidence,
	}
}

// SetClock overrides the wall clock used for staleness checks; used by
// tests that need deterministic "now" values.
func (g *Gateway) SetClock(now func() time.Time) { g.now = now }

// SetThresholds overrides the staleness/confidence thresholds. A zero value
// for either argument leaves the corresponding threshold unchanged.
func (g *Gateway) SetThresholds(maxAgeSeconds int64, minConfidence uint64) {
	if maxAgeSeconds > 0 {
		g.maxAgeSeconds = maxAgeSeconds
	}
	if minConfidence > 0 {
		g.minConfidence = minConfidence
	}
}

func (g *Gateway) findConfig(denom string) (*CollateralConfig, error) {
	configs, err := g.state.GetCollateralConfigs()
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].Denom == denom {
			cfg := configs[i]
			return &cfg, nil
		}
	}
	return nil, ironvault.Fail("oracle.findConfig", ironvault.CodePriceFeedNotFound)
}

// Price fetches, validates, and returns the current price for denom.
// Validation enforces three independent checks beyond whatever the upstream
// itself provides: the mantissa must be positive, the quote must not be
// older than the configured maximum age, and its confidence must not fall
// below the configured minimum.
func (g *Gateway) Price(ctx context.Context, denom string) (Price, error) {
	const op = "oracle.Price"
	cfg, err := g.findConfig(denom)
	if err != nil {
		return Price{}, err
	}
	price, err := g.source.Price(ctx, cfg.FeedID)
	if err != nil {
		return Price{}, ironvault.Wrap(op, ironvault.CodePriceFeedNotFound, err)
	}
	if err := g.validate(op, price); err != nil {
		return Price{}, err
	}
	return price, nil
}

// AllPrices returns a validated price for every registered collateral
// denom. A single denom whose upstream quote fails validation aborts the
// whole call rather than returning a partial map, since every caller of
// AllPrices (batch liquidation, redemption) needs a complete price set to
// reason about collateral ratios correctly.
func (g *Gateway) AllPrices(ctx context.Context) (map[string]Price, error) {
	const op = "oracle.AllPrices"
	configs, err := g.state.GetCollateralConfigs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Price, len(configs))
	for _, cfg := range configs {
		price, err := g.source.Price(ctx, cfg.FeedID)
		if err != nil {
			return nil, ironvault.Wrap(op, ironvault.CodePriceFeedNotFound, err)
		}
		if err := g.validate(op, price); err != nil {
			return nil, err
		}
		out[cfg.Denom] = price
	}
	return out, nil
}

func (g *Gateway) validate(op string, price Price) error {
	if price.Mantissa <= 0 {
		return ironvault.Fail(op, ironvault.CodeInvalidPrice)
	}
	age := g.now().Unix() - price.Timestamp
	if age > g.maxAgeSeconds {
		return ironvault.Fail(op, ironvault.CodePriceTooOld)
	}
	if price.Confidence < g.minConfidence {
		return ironvault.Fail(op, ironvault.CodeLowConfidence)
	}
	return nil
}

// CollateralDecimals returns the registered decimal precision for denom,
// used by callers (TroveOps, Liquidator, Redeemer) that must convert a raw
// collateral balance into a USD value alongside the price this gateway
// already validated.
func (g *Gateway) CollateralDecimals(denom string) (uint8, error) {
	cfg, err := g.findConfig(denom)
	if err != nil {
		return 0, err
	}
	return cfg.Decimals, nil
}

// SetCollateralConfig registers or updates the configuration for denom,
// matching the upstream registry's upsert-by-denom behavior: admin calls
// are idempotent, never duplicating an entry for a denom already present.
func (g *Gateway) SetCollateralConfig(cfg CollateralConfig) error {
	configs, err := g.state.GetCollateralConfigs()
	if err != nil {
		return err
	}
	for i := range configs {
		if configs[i].Denom == cfg.Denom {
			configs[i] = cfg
			return g.state.PutCollateralConfigs(configs)
		}
	}
	configs = append(configs, cfg)
	return g.state.PutCollateralConfigs(configs)
}

// RemoveCollateralConfig deregisters denom. It is not an error to remove a
// denom that was never registered.
func (g *Gateway) RemoveCollateralConfig(denom string) error {
	configs, err := g.state.GetCollateralConfigs()
	if err != nil {
		return err
	}
	for i := range configs {
		if configs[i].Denom == denom {
			configs = append(configs[:i], configs[i+1:]...)
			return g.state.PutCollateralConfigs(configs)
		}
	}
	return nil
}
