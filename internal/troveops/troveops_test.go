package troveops

import (
	"context"
	"math/big"
	"testing"
	"time"

	"ironvault/internal/ironvault"
	"ironvault/internal/oracle"
	"ironvault/internal/stabilitypool"
	"ironvault/internal/storage"
	"ironvault/internal/types"
)

type fixedSource struct {
	prices map[string]oracle.Price
}

func (f *fixedSource) Price(_ context.Context, feedID string) (oracle.Price, error) {
	p, ok := f.prices[feedID]
	if !ok {
		return oracle.Price{}, ironvault.Fail("fixedSource.Price", ironvault.CodePriceFeedNotFound)
	}
	return p, nil
}

type fakeVault struct {
	balances map[types.Denom]map[types.Owner]*big.Int
}

func newFakeVault() *fakeVault {
	return &fakeVault{balances: map[types.Denom]map[types.Owner]*big.Int{}}
}

func (v *fakeVault) Deposit(_ context.Context, denom string, from types.Owner, amount *big.Int) error {
	d := types.Denom(denom)
	if v.balances[d] == nil {
		v.balances[d] = map[types.Owner]*big.Int{}
	}
	v.balances[d][from] = new(big.Int).Add(zero(v.balances[d][from]), amount)
	return nil
}

func (v *fakeVault) Withdraw(_ context.Context, denom string, to types.Owner, amount *big.Int) error {
	d := types.Denom(denom)
	if v.balances[d] == nil {
		v.balances[d] = map[types.Owner]*big.Int{}
	}
	v.balances[d][to] = new(big.Int).Sub(zero(v.balances[d][to]), amount)
	return nil
}

type fakeMint struct {
	supply map[types.Owner]*big.Int
}

func newFakeMint() *fakeMint {
	return &fakeMint{supply: map[types.Owner]*big.Int{}}
}

func (m *fakeMint) Mint(_ context.Context, to types.Owner, amount *big.Int) error {
	m.supply[to] = new(big.Int).Add(zero(m.supply[to]), amount)
	return nil
}

func (m *fakeMint) Burn(_ context.Context, from types.Owner, amount *big.Int) error {
	m.supply[from] = new(big.Int).Sub(zero(m.supply[from]), amount)
	return nil
}

func zero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func owner(b byte) types.Owner {
	var o types.Owner
	o[0] = b
	return o
}

func newTestEngine(t *testing.T) (*Engine, *fakeVault, *fakeMint) {
	t.Helper()
	db := storage.NewMemDB()
	oracleGW := oracle.NewGateway(oracle.NewStore(db), &fixedSource{prices: map[string]oracle.Price{
		"sol-feed": {Mantissa: 100, Exponent: 0, Confidence: 1000, Timestamp: 1_700_000_050},
	}})
	oracleGW.SetClock(func() time.Time { return time.Unix(1_700_000_100, 0) })
	if err := oracleGW.SetCollateralConfig(oracle.CollateralConfig{Denom: "SOL", Decimals: 9, FeedID: "sol-feed"}); err != nil {
		t.Fatalf("seed collateral config: %v", err)
	}
	pool := stabilitypool.NewPool(stabilitypool.NewPersistentState(db))
	mint := newFakeMint()
	vault := newFakeVault()
	engine := NewEngine(db, oracleGW, pool, mint, vault, ironvault.DefaultProtocolFeeBps)
	return engine, vault, mint
}

// scaled10SOL returns 10 SOL expressed in 9-decimal native units.
func scaled10SOL() *big.Int {
	return new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000))
}

func TestOpenAppliesFeeAndMints(t *testing.T) {
	engine, vault, mint := newTestEngine(t)
	o := owner(1)

	icr, err := engine.Open(context.Background(), o, "SOL", scaled10SOL(), ironvault.MinLoan, Hint{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if icr < ironvault.MinimumCollateralRatioBps {
		t.Fatalf("icr %d below minimum", icr)
	}
	if got := mint.supply[o]; got.Cmp(ironvault.MinLoan) != 0 {
		t.Fatalf("minted %v, want %v", got, ironvault.MinLoan)
	}
	// The vault records the full gross deposit; the net fee-deducted amount
	// is only a TroveStore-side accounting split.
	if got := vault.balances["SOL"][o]; got.Cmp(scaled10SOL()) != 0 {
		t.Fatalf("vault balance %v, want %v", got, scaled10SOL())
	}
}

func TestOpenBelowMinimumCollateralRatioFails(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	o := owner(1)
	// 6 SOL nets to ~5.714 SOL ($571.43) after the deposit fee, still above
	// MIN_COLLATERAL_UNITS (5 SOL) but nowhere near enough to back 1000 aUSD.
	collateral := new(big.Int).Mul(big.NewInt(6), big.NewInt(1_000_000_000))
	loan := new(big.Int).Mul(big.NewInt(1000), ironvault.DecimalFraction18)

	_, err := engine.Open(context.Background(), o, "SOL", collateral, loan, Hint{})
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInsufficientCollateralRatio {
		t.Fatalf("expected CodeInsufficientCollateralRatio, got %v", err)
	}
}

func TestBorrowPassingAndFailingICR(t *testing.T) {
	engine, _, mint := newTestEngine(t)
	o := owner(1)
	// 5.25 SOL gross nets to 5 SOL after the 5% deposit fee: $500 collateral
	// @ $100, debt 250 aUSD -> ICR 20000 bps.
	collateral := big.NewInt(5_250_000_000)
	debt := new(big.Int).Mul(big.NewInt(250), ironvault.DecimalFraction18)
	if _, err := engine.Open(context.Background(), o, "SOL", collateral, debt, Hint{}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// +182.5 aUSD -> debt 432.5, ICR 11560 bps (passes).
	pass := new(big.Int).Mul(big.NewInt(1825), big.NewInt(100_000_000_000_000_000))
	icr, err := engine.Borrow(context.Background(), o, pass, Hint{})
	if err != nil {
		t.Fatalf("borrow 182.5: %v", err)
	}
	if icr < ironvault.MinimumCollateralRatioBps {
		t.Fatalf("icr %d below minimum after passing borrow", icr)
	}
	if got := mint.supply[o]; got.Cmp(new(big.Int).Add(debt, pass)) != 0 {
		t.Fatalf("minted supply %v, want %v", got, new(big.Int).Add(debt, pass))
	}

	// +2.5 aUSD more -> debt 435, ICR 11494 bps (rejected).
	fail := new(big.Int).Mul(big.NewInt(25), big.NewInt(100_000_000_000_000_000))
	_, err = engine.Borrow(context.Background(), o, fail, Hint{})
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInsufficientCollateralRatio {
		t.Fatalf("expected CodeInsufficientCollateralRatio, got %v", err)
	}
}

func TestRepayFullClosesTroveAndReturnsCollateral(t *testing.T) {
	engine, vault, mint := newTestEngine(t)
	o := owner(1)
	collateral := scaled10SOL()

	if _, err := engine.Open(context.Background(), o, "SOL", collateral, ironvault.MinLoan, Hint{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	netBefore := vault.balances["SOL"][o]

	if _, err := engine.Repay(context.Background(), o, ironvault.MinLoan, Hint{}); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if got := mint.supply[o]; got.Sign() != 0 {
		t.Fatalf("minted supply after full repay = %v, want 0", got)
	}
	// Close returns only the net collateral; the deposit fee already left
	// for the fee addresses, so that fee is what remains on the balance.
	net := new(big.Int).Div(new(big.Int).Mul(collateral, big.NewInt(ironvault.BasisPoints)), big.NewInt(ironvault.BasisPoints+ironvault.DefaultProtocolFeeBps))
	wantResidual := new(big.Int).Sub(collateral, net)
	if got := vault.balances["SOL"][o]; got.Cmp(wantResidual) != 0 {
		t.Fatalf("vault balance after close = %v, want deposit fee %v (net of %v)", got, wantResidual, netBefore)
	}
}

func TestRepayPartialLeavingDustBelowMinimumFails(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	o := owner(1)
	collateral := scaled10SOL()
	loan := new(big.Int).Mul(big.NewInt(2), ironvault.DecimalFraction18)
	if _, err := engine.Open(context.Background(), o, "SOL", collateral, loan, Hint{}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Repaying all but a fraction of a unit of debt leaves dust below MIN_LOAN.
	almostAll := new(big.Int).Sub(loan, big.NewInt(1))
	_, err := engine.Repay(context.Background(), o, almostAll, Hint{})
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeLoanBelowMinimum {
		t.Fatalf("expected CodeLoanBelowMinimum, got %v", err)
	}
}

func TestRemoveCollateralRejectedBelowMinimumRatio(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	o := owner(1)
	collateral := new(big.Int).Mul(big.NewInt(12), big.NewInt(1_000_000_000)) // nets to ~11.43 SOL, ICR ~12698 bps
	loan := new(big.Int).Mul(big.NewInt(900), ironvault.DecimalFraction18)
	if _, err := engine.Open(context.Background(), o, "SOL", collateral, loan, Hint{}); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := engine.RemoveCollateral(context.Background(), o, "SOL", big.NewInt(2_000_000_000), Hint{})
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInsufficientCollateralRatio {
		t.Fatalf("expected CodeInsufficientCollateralRatio, got %v", err)
	}
}
