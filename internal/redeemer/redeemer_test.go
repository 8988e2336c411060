package redeemer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"ironvault/internal/ironvault"
	"ironvault/internal/oracle"
	"ironvault/internal/sortedtroves"
	"ironvault/internal/stabilitypool"
	"ironvault/internal/storage"
	"ironvault/internal/trovestore"
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
	v.balances[d][to] = new(big.Int).Add(zero(v.balances[d][to]), amount)
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

func sol(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000_000))
}

func ausd(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), ironvault.DecimalFraction18)
}

type testEngine struct {
	db       storage.Database
	oracleGW *oracle.Gateway
	pool     *stabilitypool.Pool
	mint     *fakeMint
	vault    *fakeVault
	engine   *Engine
}

func newTestEngine(t *testing.T) *testEngine {
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
	return &testEngine{db: db, oracleGW: oracleGW, pool: pool, mint: mint, vault: vault, engine: engine}
}

func (te *testEngine) openTroveDirectly(t *testing.T, o types.Owner, collateral, debt *big.Int) {
	t.Helper()
	batch := storage.NewBatch(te.db)
	store := trovestore.NewStore(trovestore.NewPersistentState(batch))
	list := sortedtroves.NewList(sortedtroves.NewPersistentState(batch))
	if err := store.Open(o, debt, types.Denom("SOL"), collateral); err != nil {
		t.Fatalf("open trove %x: %v", o, err)
	}

	prices, err := te.oracleGW.AllPrices(context.Background())
	if err != nil {
		t.Fatalf("all prices: %v", err)
	}
	icr, err := te.engine.icrFor(debt, map[types.Denom]*big.Int{"SOL": collateral}, prices)
	if err != nil {
		t.Fatalf("icr: %v", err)
	}
	if err := list.Insert(o, icr, nil, nil); err != nil {
		t.Fatalf("insert %x: %v", o, err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
}

// TestRedeemCascadesFromRiskiestTrove covers spec.md §8 scenario 5: a
// redemption larger than the riskiest trove's debt fully consumes that
// trove (closing it) and spills the remainder into the next-riskiest trove,
// which survives with reduced debt and a higher ICR.
func TestRedeemCascadesFromRiskiestTrove(t *testing.T) {
	te := newTestEngine(t)
	a, b, caller := owner(1), owner(2), owner(9)

	// A: 1.2 SOL @ $100 = $120 backing 100 aUSD debt -> 12000 bps, the
	// riskiest trove.
	te.openTroveDirectly(t, a, new(big.Int).Div(sol(120), big.NewInt(100)), ausd(100))
	// B: 4 SOL @ $100 = $400 backing 100 aUSD debt -> 40000 bps, safer.
	te.openTroveDirectly(t, b, sol(4), ausd(100))

	result, err := te.engine.Redeem(context.Background(), caller, ausd(120))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	wantFee := new(big.Int).Div(ausd(120), big.NewInt(20)) // 5% of gross
	if result.Fee.Cmp(wantFee) != 0 {
		t.Fatalf("fee = %v, want %v", result.Fee, wantFee)
	}
	wantNet := new(big.Int).Sub(ausd(120), wantFee)
	if result.NetRedeemed.Cmp(wantNet) != 0 {
		t.Fatalf("net redeemed = %v, want %v", result.NetRedeemed, wantNet)
	}
	if len(result.Troves) != 2 {
		t.Fatalf("expected redemption to touch 2 troves, got %d: %+v", len(result.Troves), result.Troves)
	}
	if result.Troves[0].Owner != a || result.Troves[0].DebtRedeemed.Cmp(ausd(100)) != 0 {
		t.Fatalf("first trove touched = %+v, want A fully consumed at 100 aUSD", result.Troves[0])
	}
	if result.Troves[1].Owner != b {
		t.Fatalf("second trove touched = %+v, want B", result.Troves[1])
	}

	batch := storage.NewBatch(te.db)
	store := trovestore.NewStore(trovestore.NewPersistentState(batch))
	list := sortedtroves.NewList(sortedtroves.NewPersistentState(batch))

	if exists, err := store.Exists(a); err != nil || exists {
		t.Fatalf("expected A closed by full redemption, exists=%v err=%v", exists, err)
	}
	if contains, err := list.Contains(a); err != nil || contains {
		t.Fatalf("expected A removed from sorted list, contains=%v err=%v", contains, err)
	}

	troveB, err := store.Get(b)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	wantDebtB := new(big.Int).Sub(ausd(100), result.Troves[1].DebtRedeemed)
	if troveB.Debt.Cmp(wantDebtB) != 0 {
		t.Fatalf("B debt after partial redemption = %v, want %v", troveB.Debt, wantDebtB)
	}
	if contains, err := list.Contains(b); err != nil || !contains {
		t.Fatalf("expected B still present in sorted list, contains=%v err=%v", contains, err)
	}

	// B was only partially redeemed (14 of its 100 aUSD debt): it must give
	// up a proportional USD-value slice of its collateral, not its entire 4
	// SOL balance.
	collateralB := troveB.Collateral["SOL"]
	if collateralB == nil || collateralB.Sign() <= 0 {
		t.Fatalf("expected B to retain positive SOL collateral, got %v", collateralB)
	}
	if collateralB.Cmp(sol(4)) >= 0 {
		t.Fatalf("expected B to give up some collateral for its partial redemption, still holds full %v", collateralB)
	}
	wantCollateralB := new(big.Int).Sub(sol(4), new(big.Int).Div(sol(14), big.NewInt(100)))
	if collateralB.Cmp(wantCollateralB) != 0 {
		t.Fatalf("B collateral after partial redemption = %v, want %v", collateralB, wantCollateralB)
	}

	if got := te.mint.supply[caller]; got.Cmp(new(big.Int).Neg(ausd(120))) != 0 {
		t.Fatalf("burned supply for caller = %v, want -120 aUSD tracked as 120 burn", got)
	}
	if got := te.vault.balances["SOL"][caller]; got == nil || got.Sign() <= 0 {
		t.Fatalf("expected caller to receive positive SOL payout, got %v", got)
	}
}

// TestRedeemRejectsAmountExceedingOutstandingDebt covers the
// NotEnoughLiquidityForRedeem edge case: a redemption larger than total
// outstanding debt is rejected outright rather than silently partially
// filled.
func TestRedeemRejectsAmountExceedingOutstandingDebt(t *testing.T) {
	te := newTestEngine(t)
	a, caller := owner(1), owner(9)
	te.openTroveDirectly(t, a, sol(2), ausd(100))

	_, err := te.engine.Redeem(context.Background(), caller, ausd(500))
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeNotEnoughLiquidityForRedeem {
		t.Fatalf("expected CodeNotEnoughLiquidityForRedeem, got %v", err)
	}
}

// TestRedeemRejectsNonPositiveAmount covers the InvalidAmount input guard.
func TestRedeemRejectsNonPositiveAmount(t *testing.T) {
	te := newTestEngine(t)
	a, caller := owner(1), owner(9)
	te.openTroveDirectly(t, a, sol(2), ausd(100))

	_, err := te.engine.Redeem(context.Background(), caller, big.NewInt(0))
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInvalidAmount {
		t.Fatalf("expected CodeInvalidAmount for zero amount, got %v", err)
	}

	_, err = te.engine.Redeem(context.Background(), caller, big.NewInt(-1))
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInvalidAmount {
		t.Fatalf("expected CodeInvalidAmount for negative amount, got %v", err)
	}
}
