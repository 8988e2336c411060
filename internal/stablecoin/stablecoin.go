// Package stablecoin declares the external stablecoin mint/burn collaborator
// TroveOps and Redeemer draw and repay debt through. It has no implementation
// here: minting is backed by whatever SPL-token-equivalent mint authority the
// daemon is configured against, outside this engine's scope.
package stablecoin

import (
	"context"
	"math/big"

	"ironvault/internal/types"
)

// MintBurner mints stablecoin into a borrower's account when debt is drawn
// and burns it out of circulation when debt is repaid or redeemed away.
type MintBurner interface {
	Mint(ctx context.Context, to types.Owner, amount *big.Int) error
	Burn(ctx context.Context, from types.Owner, amount *big.Int) error
}
