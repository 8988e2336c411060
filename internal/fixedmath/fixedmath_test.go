package fixedmath

import (
	"math/big"
	"testing"

	"ironvault/internal/ironvault"
)

func TestSafeMulDivRounding(t *testing.T) {
	a := big.NewInt(7)
	b := big.NewInt(3)
	d := big.NewInt(2)

	down, err := SafeMulDiv(a, b, d, RoundDown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if down.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("round down: got %s, want 10", down)
	}

	up, err := SafeMulDiv(a, b, d, RoundUp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("round up: got %s, want 11", up)
	}
}

func TestSafeMulDivDivideByZero(t *testing.T) {
	_, err := SafeMulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), RoundDown)
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeDivideByZero {
		t.Fatalf("expected CodeDivideByZero, got %v", err)
	}
}

func TestCollateralValueUSDPositiveExponent(t *testing.T) {
	// 10 units at price 5 scaled by 10^0, 1 decimal -> $50, scaled to 18
	// decimals to match debt's fixed-point space.
	value, err := CollateralValueUSD(big.NewInt(100), 5, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(50), ironvault.DecimalFraction18)
	if value.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", value, want)
	}
}

func TestCollateralValueUSDLargeDecimalsDenom(t *testing.T) {
	// SOL-like collateral: $100 price, 9 decimals, 9.524e9 native units ->
	// exactly $952.4, scaled to 18 decimals.
	amount := big.NewInt(9_524_000_000)
	value, err := CollateralValueUSD(amount, 100, 0, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, ok := new(big.Int).SetString("952400000000000000000", 10)
	if !ok {
		t.Fatalf("bad literal")
	}
	if value.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", value, want)
	}
}

func TestICRZeroDebtIsInfinite(t *testing.T) {
	if got := ICR(big.NewInt(1), big.NewInt(0)); got != ironvault.MaxICR {
		t.Fatalf("got %d, want MaxICR", got)
	}
}

func TestICRBasic(t *testing.T) {
	// collateral value $200, debt 100 -> ICR 20000 bps (200%).
	got := ICR(big.NewInt(200), big.NewInt(100))
	if got != 20000 {
		t.Fatalf("got %d, want 20000", got)
	}
}

func TestCompoundInterestUnused(t *testing.T) {
	amount, err := CompoundInterest(big.NewInt(1000), 1000, 2) // 10% x2 periods
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.Cmp(big.NewInt(1210)) != 0 {
		t.Fatalf("got %s, want 1210", amount)
	}
}
