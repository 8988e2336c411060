// Package fixedmath provides checked, overflow-detecting arithmetic over
// unsigned big integers for basis-point percentages and fixed-point token
// amounts. No float ever appears on the hot path: every multiplication goes
// through a widening big.Int before being narrowed back down.
package fixedmath

import (
	"math/big"

	"ironvault/internal/ironvault"
)

// Rounding selects the tie-break direction for SafeMulDiv.
type Rounding int

const (
	// RoundDown truncates toward zero (the default integer division
	// behavior).
	RoundDown Rounding = iota
	// RoundUp rounds any non-zero remainder away from zero.
	RoundUp
)

var basisPoints = big.NewInt(ironvault.BasisPoints)

// SafeMulDiv computes a*b/d with overflow and divide-by-zero detection,
// rounding per the supplied direction. a, b, and d must be non-negative;
// negative inputs are treated as a programmer error and rejected as
// CodeInvalidAmount since this engine only ever deals in unsigned
// quantities.
func SafeMulDiv(a, b, d *big.Int, rounding Rounding) (*big.Int, error) {
	const op = "fixedmath.SafeMulDiv"
	if a == nil || b == nil || d == nil {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}
	if a.Sign() < 0 || b.Sign() < 0 || d.Sign() < 0 {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}
	if d.Sign() == 0 {
		return nil, ironvault.Fail(op, ironvault.CodeDivideByZero)
	}

	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, d, new(big.Int))
	if rounding == RoundUp && remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient, nil
}

// BpsOf computes amount * bps / BASIS_POINTS, rounded down. bps is expected
// in the 0-10000 range but is not bounds-checked here.
func BpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	if amount == nil {
		return nil, ironvault.Fail("fixedmath.BpsOf", ironvault.CodeInvalidAmount)
	}
	return SafeMulDiv(amount, new(big.Int).SetUint64(bps), basisPoints, RoundDown)
}

// CollateralValueUSD converts a native-decimal collateral amount to its USD
// value, scaled into the same 18-decimal fixed-point space the stablecoin
// debt is tracked in so the two operands ICR divides are always
// commensurate, regardless of a collateral denom's own native decimals. A
// negative exponent divides; the division always happens after widening so
// precision is never lost on the multiply.
//
//	value = amount * |price| * 10^exponent * 10^18 / 10^denomDecimals
func CollateralValueUSD(amount *big.Int, price int64, exponent int32, denomDecimals uint8) (*big.Int, error) {
	const op = "fixedmath.CollateralValueUSD"
	if amount == nil {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}
	if amount.Sign() == 0 || price == 0 {
		return big.NewInt(0), nil
	}

	absPrice := price
	if absPrice < 0 {
		absPrice = -absPrice
	}

	numerator := new(big.Int).Mul(amount, big.NewInt(absPrice))
	numerator.Mul(numerator, ironvault.DecimalFraction18)
	denomScale := pow10(int(denomDecimals))

	if exponent >= 0 {
		numerator.Mul(numerator, pow10(int(exponent)))
		return new(big.Int).Quo(numerator, denomScale), nil
	}

	// Negative exponent: fold the 10^-exponent divisor in with the
	// denom-decimals divisor before the single final division so rounding
	// only happens once.
	denominator := new(big.Int).Mul(denomScale, pow10(int(-exponent)))
	return new(big.Int).Quo(numerator, denominator), nil
}

// ICR computes the individual collateral ratio in basis points:
// collateralValueUSD * 10000 / debt. A zero debt yields an "infinite"
// sentinel (u64::MAX).
func ICR(collateralValueUSD, debt *big.Int) uint64 {
	if debt == nil || debt.Sign() == 0 {
		return ironvault.MaxICR
	}
	if collateralValueUSD == nil || collateralValueUSD.Sign() == 0 {
		return 0
	}
	ratio, err := SafeMulDiv(collateralValueUSD, basisPoints, debt, RoundDown)
	if err != nil {
		return 0
	}
	if !ratio.IsUint64() {
		return ironvault.MaxICR
	}
	value := ratio.Uint64()
	if value > uint64(ironvault.MaxICR) {
		return ironvault.MaxICR
	}
	return value
}

// CompoundInterest compounds principal at a basis-point rate over a whole
// number of periods. No caller in this engine invokes it yet: trove debt
// here never accrues interest on its own.
func CompoundInterest(principal *big.Int, rateBps uint64, periods uint64) (*big.Int, error) {
	const op = "fixedmath.CompoundInterest"
	if principal == nil || principal.Sign() < 0 {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}
	amount := new(big.Int).Set(principal)
	for i := uint64(0); i < periods; i++ {
		interest, err := BpsOf(amount, rateBps)
		if err != nil {
			return nil, err
		}
		amount.Add(amount, interest)
	}
	return amount, nil
}

func pow10(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
