// Package ironvault holds the constants and error taxonomy shared by every
// trove-engine package, so that no two packages drift on a basis-point
// constant or error code spelling.
package ironvault

import "math/big"

// Protocol-wide constants shared by every engine component.
const (
	BasisPoints               = 10_000
	MinimumCollateralRatioBps = 11_500 // 115%
	LiquidationThresholdBps   = 11_000 // 110%
	DefaultProtocolFeeBps     = 500    // 5%
	OracleMaxAgeSeconds       = 60
	OracleMinConfidence       = 1_000
	RedistributionMaxTroves   = 10
)

// DecimalFraction6 and DecimalFraction18 are the fixed-point scaling
// constants used for 6-decimal and 18-decimal quantities respectively.
var (
	DecimalFraction6  = big.NewInt(1_000_000)
	DecimalFraction18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// MinLoan is the minimum non-zero debt a trove may carry (1 unit of the
// 18-decimal stablecoin).
var MinLoan = new(big.Int).Set(DecimalFraction18)

// MinCollateralUnits is the minimum non-zero collateral balance a trove may
// hold for any single denom.
var MinCollateralUnits = big.NewInt(5_000_000_000)

// MaxICR represents an "infinite" individual collateral ratio, reported when
// a trove carries collateral but no debt.
const MaxICR = ^uint64(0)

// StablecoinDenom names the protocol's own minted stablecoin for the
// purposes of StabilityPool fee-gain bookkeeping (FeeRouter routes both
// collateral-denominated and stablecoin-denominated fees through the same
// pool, distinguished only by this denom tag).
const StablecoinDenom = "AUSD"
