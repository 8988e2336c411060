// Package feerouter distributes protocol fees collected from collateral
// deposits (Open, AddCollateral), liquidations and redemptions, splitting
// between the stability pool and two flat
// fee addresses depending on whether stake-based routing is enabled.
package feerouter

import (
	"context"
	"math/big"

	"ironvault/internal/ironvault"
	"ironvault/internal/types"
)

const moduleName = "feerouter"

// StabilityPoolSink receives fee proceeds when stake-based routing is
// enabled, letting stakers absorb the protocol's fee income.
type StabilityPoolSink interface {
	CreditFees(ctx context.Context, amount *big.Int) error
}

// Transfer moves amount to recipient. FeeRouter never moves tokens itself:
// every payout goes through this collaborator, matching the external
// collateral vault and stablecoin interfaces the rest of the engine uses.
type Transfer interface {
	Pay(ctx context.Context, to types.Owner, amount *big.Int) error
}

// Config is the admin-controlled routing configuration.
type Config struct {
	StakeEnabled bool        `json:"stake_enabled"`
	FeeAddress1  types.Owner `json:"fee_address_1"`
	FeeAddress2  types.Owner `json:"fee_address_2"`
}

// Clone returns a deep copy of the routing configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// engineState is the persistence seam: the routing config plus the running
// total of fees ever collected.
type engineState interface {
	GetFeeConfig() (Config, error)
	PutFeeConfig(Config) error
	GetTotalFeesCollected() (*big.Int, error)
	PutTotalFeesCollected(*big.Int) error
}

// Router applies the configured split to each fee payment it is handed.
type Router struct {
	state    engineState
	pool     StabilityPoolSink
	transfer Transfer
}

// NewRouter constructs a Router bound to its persistence seam and payout
// collaborators.
func NewRouter(state engineState, pool StabilityPoolSink, transfer Transfer) *Router {
	return &Router{state: state, pool: pool, transfer: transfer}
}

// Distribute routes amount according to the current configuration: entirely
// to the stability pool when stake-based routing is enabled, or split
// evenly between the two fee addresses otherwise. An odd amount's leftover
// unit goes to the second fee address, matching the upstream's
// half-then-remainder split.
func (r *Router) Distribute(ctx context.Context, payer types.Owner, amount *big.Int) error {
	const op = "feerouter.Distribute"
	if amount == nil || amount.Sign() <= 0 {
		return ironvault.Fail(op, ironvault.CodeNoFeesToDistribute)
	}

	total, err := r.state.GetTotalFeesCollected()
	if err != nil {
		return err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	total = new(big.Int).Add(total, amount)
	if err := r.state.PutTotalFeesCollected(total); err != nil {
		return err
	}

	cfg, err := r.state.GetFeeConfig()
	if err != nil {
		return err
	}

	if cfg.StakeEnabled {
		if r.pool == nil {
			return ironvault.Fail(op, ironvault.CodeTransferFailed)
		}
		return r.pool.CreditFees(ctx, amount)
	}

	half := new(big.Int).Div(amount, big.NewInt(2))
	remainder := new(big.Int).Sub(amount, half)

	if half.Sign() > 0 {
		if err := r.transfer.Pay(ctx, cfg.FeeAddress1, half); err != nil {
			return ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
		}
	}
	if remainder.Sign() > 0 {
		if err := r.transfer.Pay(ctx, cfg.FeeAddress2, remainder); err != nil {
			return ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
		}
	}
	return nil
}

// SetConfig updates the routing configuration.
func (r *Router) SetConfig(cfg Config) error {
	return r.state.PutFeeConfig(cfg)
}

// TotalFeesCollected returns the lifetime running total of fees processed.
func (r *Router) TotalFeesCollected() (*big.Int, error) {
	total, err := r.state.GetTotalFeesCollected()
	if err != nil {
		return nil, err
	}
	if total == nil {
		return big.NewInt(0), nil
	}
	return total, nil
}
