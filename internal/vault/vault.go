// Package vault declares the external collateral custody collaborator
// TroveOps, Liquidator, and Redeemer move collateral through. It has no
// implementation here: custody is backed by whatever token-account or
// bridge-escrow mechanism the daemon is configured against, outside this
// engine's scope.
package vault

import (
	"context"
	"math/big"

	"ironvault/internal/types"
)

// CollateralVault takes custody of collateral deposited into a trove and
// releases it back out on withdrawal, redemption, or liquidation.
type CollateralVault interface {
	Deposit(ctx context.Context, denom string, from types.Owner, amount *big.Int) error
	Withdraw(ctx context.Context, denom string, to types.Owner, amount *big.Int) error
}
