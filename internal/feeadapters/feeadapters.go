// Package feeadapters binds FeeRouter's generic StabilityPoolSink/Transfer
// collaborator interfaces to the concrete components (CollateralVault,
// MintBurner, StabilityPool) a given fee payment actually moves through.
// FeeRouter itself stays asset-agnostic; these adapters are where "this fee
// is denominated in SOL" or "this fee is denominated in aUSD" gets decided.
package feeadapters

import (
	"context"
	"math/big"

	"ironvault/internal/stabilitypool"
	"ironvault/internal/stablecoin"
	"ironvault/internal/types"
	"ironvault/internal/vault"
)

// CollateralTransfer adapts a vault.CollateralVault into feerouter.Transfer,
// withdrawing a fee portion of a single denom out of protocol custody to the
// fee recipient. Used for the Open/AddCollateral collateral-side fee and the
// Liquidator's collateral-gain fee.
type CollateralTransfer struct {
	Vault vault.CollateralVault
	Denom types.Denom
}

// Pay withdraws amount of the bound denom from protocol custody to to.
func (c CollateralTransfer) Pay(ctx context.Context, to types.Owner, amount *big.Int) error {
	return c.Vault.Withdraw(ctx, string(c.Denom), to, amount)
}

// StablecoinTransfer adapts a stablecoin.MintBurner into feerouter.Transfer.
// The redemption fee is never burned along with the net amount; instead it
// is minted fresh to the fee recipient, which is economically equivalent to
// carving the fee out of the gross amount before burning the remainder.
type StablecoinTransfer struct {
	Mint stablecoin.MintBurner
}

// Pay mints amount of stablecoin to to.
func (s StablecoinTransfer) Pay(ctx context.Context, to types.Owner, amount *big.Int) error {
	return s.Mint.Mint(ctx, to, amount)
}

// PoolSink adapts a stabilitypool.Pool into feerouter.StabilityPoolSink,
// crediting routed fees as a pending gain in a fixed denom rather than as
// additional stake.
type PoolSink struct {
	Pool  *stabilitypool.Pool
	Denom types.Denom
}

// CreditFees routes amount into the pool as a pending gain in the bound
// denom, pro rata to every current staker.
func (p PoolSink) CreditFees(ctx context.Context, amount *big.Int) error {
	return p.Pool.CreditFees(p.Denom, amount)
}
