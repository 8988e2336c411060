package liquidator

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

// openTroveDirectly seeds TroveStore and SortedTroves without going through
// troveops, so a trove can be placed at an arbitrary ICR (including below
// MINIMUM_COLLATERAL_RATIO) for liquidation tests.
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

// TestLiquidateAbsorbedByStabilityPool covers spec.md §8 scenario 3: a
// trove at 105% ICR is liquidated with enough stability-pool stake to cover
// its debt in full, so the trove is absorbed rather than redistributed and
// its net-of-fee collateral is credited to the staker as a pending gain.
func TestLiquidateAbsorbedByStabilityPool(t *testing.T) {
	te := newTestEngine(t)
	a, staker := owner(1), owner(9)

	// A: 1.05 SOL @ $100 = $105 collateral backing 100 aUSD debt -> 10500 bps,
	// below the 11000 bps liquidation threshold.
	collateralA := new(big.Int).Div(sol(105), big.NewInt(100))
	te.openTroveDirectly(t, a, collateralA, ausd(100))

	if err := te.pool.Stake(staker, ausd(200)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	result, err := te.engine.Liquidate(context.Background(), []types.Owner{a})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Outcome != OutcomeAbsorbed {
		t.Fatalf("expected single absorbed candidate, got %+v", result.Candidates)
	}

	batch := storage.NewBatch(te.db)
	store := trovestore.NewStore(trovestore.NewPersistentState(batch))
	list := sortedtroves.NewList(sortedtroves.NewPersistentState(batch))
	if exists, err := store.Exists(a); err != nil || exists {
		t.Fatalf("expected trove A closed, exists=%v err=%v", exists, err)
	}
	if contains, err := list.Contains(a); err != nil || contains {
		t.Fatalf("expected A removed from sorted list, contains=%v err=%v", contains, err)
	}

	totalStake, err := te.pool.TotalStake()
	if err != nil {
		t.Fatalf("total stake: %v", err)
	}
	if totalStake.Cmp(ausd(100)) != 0 {
		t.Fatalf("total stake after absorb = %v, want 100 aUSD", totalStake)
	}
	if got := te.mint.supply[a]; got.Cmp(new(big.Int).Neg(ausd(100))) != 0 {
		t.Fatalf("burned supply for A = %v, want -100 aUSD tracked as 100 burn", got)
	}

	gain, err := te.pool.PendingGain(staker, "SOL")
	if err != nil {
		t.Fatalf("pending gain: %v", err)
	}
	if gain.Sign() <= 0 {
		t.Fatalf("expected positive SOL pending gain for staker, got %v", gain)
	}
	// The protocol fee (5%) was skimmed off the seized collateral before
	// crediting the pool, so the gain is strictly less than the full amount.
	if gain.Cmp(collateralA) >= 0 {
		t.Fatalf("pending gain %v should be net of protocol fee, full seizure was %v", gain, collateralA)
	}
}

// TestLiquidateRedistributesWhenPoolCannotCover covers spec.md §8 scenario
// 4: with no stability-pool stake, a liquidated trove's debt and collateral
// are spread across the one surviving trove, which is reinserted at its new,
// lower ICR.
func TestLiquidateRedistributesWhenPoolCannotCover(t *testing.T) {
	te := newTestEngine(t)
	a, b := owner(1), owner(2)

	collateralA := new(big.Int).Div(sol(105), big.NewInt(100))
	te.openTroveDirectly(t, a, collateralA, ausd(100))

	// B: 4 SOL @ $100 = $400 backing 50 aUSD debt -> 80000 bps, safely above
	// threshold and the only eligible redistribution survivor.
	te.openTroveDirectly(t, b, sol(4), ausd(50))

	result, err := te.engine.Liquidate(context.Background(), []types.Owner{a})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Outcome != OutcomeRedistributed {
		t.Fatalf("expected single redistributed candidate, got %+v", result.Candidates)
	}

	batch := storage.NewBatch(te.db)
	store := trovestore.NewStore(trovestore.NewPersistentState(batch))
	list := sortedtroves.NewList(sortedtroves.NewPersistentState(batch))

	if exists, err := store.Exists(a); err != nil || exists {
		t.Fatalf("expected trove A closed, exists=%v err=%v", exists, err)
	}

	troveB, err := store.Get(b)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if troveB.Debt.Cmp(ausd(150)) != 0 {
		t.Fatalf("B debt after redistribution = %v, want 150 aUSD", troveB.Debt)
	}
	wantCollateralB := new(big.Int).Add(sol(4), collateralA)
	if troveB.Collateral["SOL"].Cmp(wantCollateralB) != 0 {
		t.Fatalf("B collateral after redistribution = %v, want %v", troveB.Collateral["SOL"], wantCollateralB)
	}

	if owner, ok, err := list.First(); err != nil || !ok || owner != b {
		t.Fatalf("expected B to be sole remaining list entry, got owner=%x ok=%v err=%v", owner, ok, err)
	}

	totalStake, err := te.pool.TotalStake()
	if err != nil {
		t.Fatalf("total stake: %v", err)
	}
	if totalStake.Sign() != 0 {
		t.Fatalf("expected zero pool stake untouched, got %v", totalStake)
	}
}

// TestLiquidateSkipsTroveAtOrAboveThreshold covers the LIQUIDATION_THRESHOLD
// boundary: a candidate whose ICR already sits at or above 11000 bps is
// reported as skipped, and Liquidate fails the whole call with
// CodeInvalidList when every candidate turns out ineligible.
func TestLiquidateSkipsTroveAtOrAboveThreshold(t *testing.T) {
	te := newTestEngine(t)
	a := owner(1)

	// 2 SOL @ $100 = $200 backing 100 aUSD debt -> 20000 bps, well above the
	// liquidation threshold.
	te.openTroveDirectly(t, a, sol(2), ausd(100))

	_, err := te.engine.Liquidate(context.Background(), []types.Owner{a})
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInvalidList {
		t.Fatalf("expected CodeInvalidList when every candidate is ineligible, got %v", err)
	}
}

// TestLiquidateEmptyListRejected covers the zero-candidate edge case.
func TestLiquidateEmptyListRejected(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.engine.Liquidate(context.Background(), nil)
	if code, ok := ironvault.CodeOf(err); !ok || code != ironvault.CodeInvalidList {
		t.Fatalf("expected CodeInvalidList for empty candidate list, got %v", err)
	}
}
