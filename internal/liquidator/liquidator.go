// Package liquidator processes a batch of candidate trove owners deemed
// under-collateralized by an off-chain keeper, re-validating each against
// current prices before either absorbing its debt into the stability pool or
// redistributing it across the healthiest surviving troves.
package liquidator

import (
	"context"
	"math/big"

	"ironvault/internal/feeadapters"
	"ironvault/internal/feerouter"
	"ironvault/internal/fixedmath"
	"ironvault/internal/ironvault"
	"ironvault/internal/oracle"
	"ironvault/internal/sortedtroves"
	"ironvault/internal/stabilitypool"
	"ironvault/internal/stablecoin"
	"ironvault/internal/storage"
	"ironvault/internal/trovestore"
	"ironvault/internal/types"
	"ironvault/internal/vault"
)

const moduleName = "liquidator"

// Outcome records what happened to one candidate owner in a batch call.
type Outcome string

const (
	// OutcomeAbsorbed means the trove's debt was covered by the stability
	// pool and its collateral credited to stakers.
	OutcomeAbsorbed Outcome = "absorbed"
	// OutcomeRedistributed means the trove's debt and collateral were
	// spread across surviving troves because the pool could not cover it.
	OutcomeRedistributed Outcome = "redistributed"
	// OutcomeSkipped means the candidate was not eligible (ICR at or above
	// the liquidation threshold, already closed, or had no survivor to
	// redistribute to) and no state was changed for it.
	OutcomeSkipped Outcome = "skipped"
)

// CandidateResult reports the outcome for one owner processed by Liquidate.
type CandidateResult struct {
	Owner   types.Owner
	Outcome Outcome
	Debt    *big.Int
}

// Result summarizes a full Liquidate call.
type Result struct {
	Candidates []CandidateResult
}

// Engine wires TroveStore, SortedTroves, StabilityPool, OracleGateway, and
// the external vault/mint collaborators behind the liquidation batch
// discipline spec.md §4.8 describes.
type Engine struct {
	db       storage.Database
	oracleGW *oracle.Gateway
	mint     stablecoin.MintBurner
	vault    vault.CollateralVault
	feeBps   uint64
}

// NewEngine constructs an Engine. feeBps is the protocol fee rate applied to
// the collateral side of a stability-pool absorption; pass
// ironvault.DefaultProtocolFeeBps for the default 5%. pool is accepted for
// constructor-signature parity with the other engines sharing db — each call
// rebinds its own stability-pool handle to its batch in begin() rather than
// writing through the shared one, so a stake burn or pending-gain credit from
// one candidate in a multi-candidate batch never outlives a later candidate's
// failure.
func NewEngine(db storage.Database, oracleGW *oracle.Gateway, pool *stabilitypool.Pool, mint stablecoin.MintBurner, collVault vault.CollateralVault, feeBps uint64) *Engine {
	return &Engine{db: db, oracleGW: oracleGW, mint: mint, vault: collVault, feeBps: feeBps}
}

// txn is the per-call set of components bound to one batch. pool is rebound
// to the same batch as store and list: a stake burn, pending-gain credit, or
// fee-routed pool credit must land or roll back together with the trove
// removal it accompanies, never commit ahead of it.
type txn struct {
	batch *storage.Batch
	store *trovestore.Store
	list  *sortedtroves.List
	pool  *stabilitypool.Pool
}

func (e *Engine) begin() *txn {
	batch := storage.NewBatch(e.db)
	return &txn{
		batch: batch,
		store: trovestore.NewStore(trovestore.NewPersistentState(batch)),
		list:  sortedtroves.NewList(sortedtroves.NewPersistentState(batch)),
		pool:  stabilitypool.NewPool(stabilitypool.NewPersistentState(batch)),
	}
}

func (e *Engine) router(t *txn, denom types.Denom) *feerouter.Router {
	return feerouter.NewRouter(
		feerouter.NewStore(t.batch),
		feeadapters.PoolSink{Pool: t.pool, Denom: denom},
		feeadapters.CollateralTransfer{Vault: e.vault, Denom: denom},
	)
}

func (e *Engine) icrFor(debt *big.Int, collateral map[types.Denom]*big.Int, prices map[string]oracle.Price) (uint64, error) {
	const op = "liquidator.icrFor"
	value := big.NewInt(0)
	for denom, amount := range collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		price, ok := prices[string(denom)]
		if !ok {
			return 0, ironvault.Fail(op, ironvault.CodePriceFeedNotFound)
		}
		decimals, err := e.oracleGW.CollateralDecimals(string(denom))
		if err != nil {
			return 0, err
		}
		usd, err := fixedmath.CollateralValueUSD(amount, price.Mantissa, price.Exponent, decimals)
		if err != nil {
			return 0, err
		}
		value = value.Add(value, usd)
	}
	return fixedmath.ICR(value, debt), nil
}

// Liquidate re-validates every owner in candidates against current prices
// and liquidates each one still below LIQUIDATION_THRESHOLD, via
// stability-pool absorption when the pool can cover its debt in full or
// redistribution across up to REDISTRIBUTION_MAX_TROVES_PER_CALL surviving
// troves otherwise. Candidates at or above the threshold, already closed, or
// left without any survivor to redistribute to, are silently skipped rather
// than failing the whole call. Liquidate fails with CodeInvalidList only if
// every candidate turns out ineligible.
func (e *Engine) Liquidate(ctx context.Context, candidates []types.Owner) (*Result, error) {
	const op = "liquidator.Liquidate"
	if len(candidates) == 0 {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidList)
	}

	inBatch := make(map[types.Owner]bool, len(candidates))
	for _, c := range candidates {
		inBatch[c] = true
	}

	prices, err := e.oracleGW.AllPrices(ctx)
	if err != nil {
		return nil, err
	}

	t := e.begin()
	result := &Result{}
	anyLiquidated := false

	for _, owner := range candidates {
		trove, err := t.store.Get(owner)
		if err != nil {
			if code, ok := ironvault.CodeOf(err); ok && code == ironvault.CodeTroveDoesNotExist {
				result.Candidates = append(result.Candidates, CandidateResult{Owner: owner, Outcome: OutcomeSkipped})
				continue
			}
			return nil, err
		}

		icr, err := e.icrFor(trove.Debt, trove.Collateral, prices)
		if err != nil {
			return nil, err
		}
		if icr >= ironvault.LiquidationThresholdBps {
			result.Candidates = append(result.Candidates, CandidateResult{Owner: owner, Outcome: OutcomeSkipped})
			continue
		}

		debt := new(big.Int).Set(trove.Debt)
		collateral := cloneCollateral(trove.Collateral)

		totalStake, err := t.pool.TotalStake()
		if err != nil {
			return nil, err
		}

		if totalStake.Cmp(debt) >= 0 {
			netCollateral, err := e.chargeCollateralFee(ctx, t, owner, collateral)
			if err != nil {
				return nil, err
			}
			absorbed, err := t.pool.Absorb(debt, netCollateral)
			if err != nil {
				return nil, err
			}
			if !absorbed {
				return nil, ironvault.Fail(op, ironvault.CodeInsufficientStake)
			}
			if err := e.mint.Burn(ctx, owner, debt); err != nil {
				return nil, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
			}
			if err := e.removeTrove(t, owner, trove); err != nil {
				return nil, err
			}
			result.Candidates = append(result.Candidates, CandidateResult{Owner: owner, Outcome: OutcomeAbsorbed, Debt: debt})
			anyLiquidated = true
			continue
		}

		survivors, err := e.selectSurvivors(t, owner, inBatch)
		if err != nil {
			return nil, err
		}
		if len(survivors) == 0 {
			result.Candidates = append(result.Candidates, CandidateResult{Owner: owner, Outcome: OutcomeSkipped})
			continue
		}
		if err := e.redistribute(t, debt, collateral, survivors, prices); err != nil {
			return nil, err
		}
		if err := e.removeTrove(t, owner, trove); err != nil {
			return nil, err
		}
		result.Candidates = append(result.Candidates, CandidateResult{Owner: owner, Outcome: OutcomeRedistributed, Debt: debt})
		anyLiquidated = true
	}

	if !anyLiquidated {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidList)
	}
	if err := t.batch.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// chargeCollateralFee withdraws feeBps of each seized denom to the protocol
// fee destination via FeeRouter, returning the net collateral that StabilityPool
// credits to stakers.
func (e *Engine) chargeCollateralFee(ctx context.Context, t *txn, owner types.Owner, collateral map[types.Denom]*big.Int) (map[types.Denom]*big.Int, error) {
	net := make(map[types.Denom]*big.Int, len(collateral))
	for denom, amount := range collateral {
		if amount == nil || amount.Sign() == 0 {
			net[denom] = big.NewInt(0)
			continue
		}
		fee, err := fixedmath.BpsOf(amount, e.feeBps)
		if err != nil {
			return nil, err
		}
		net[denom] = new(big.Int).Sub(amount, fee)
		if fee.Sign() > 0 {
			if err := e.router(t, denom).Distribute(ctx, owner, fee); err != nil {
				return nil, err
			}
		}
	}
	return net, nil
}

// removeTrove zeroes out trove's debt and every collateral denom (updating
// GlobalTotals) and removes it from both TroveStore and SortedTroves. Unlike
// troveops.closeTrove it never releases collateral back to owner: the debt
// and collateral have already been absorbed or redistributed elsewhere.
func (e *Engine) removeTrove(t *txn, owner types.Owner, trove *trovestore.Trove) error {
	if trove.Debt.Sign() > 0 {
		if err := t.store.AdjustDebt(owner, new(big.Int).Neg(trove.Debt)); err != nil {
			return err
		}
	}
	for denom, amount := range trove.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if err := t.store.AdjustCollateral(owner, denom, new(big.Int).Neg(amount)); err != nil {
			return err
		}
	}
	if err := t.store.Close(owner); err != nil {
		return err
	}
	return t.list.Remove(owner)
}

type survivor struct {
	Owner types.Owner
	Debt  *big.Int
}

// selectSurvivors walks SortedTroves from the tail (safest) toward the head
// (riskiest), collecting up to REDISTRIBUTION_MAX_TROVES_PER_CALL owners
// other than exclude and anyone else in the current batch, matching
// spec.md §4.8's fixed safest-first redistribution direction.
func (e *Engine) selectSurvivors(t *txn, exclude types.Owner, inBatch map[types.Owner]bool) ([]survivor, error) {
	var result []survivor
	owner, ok, err := t.list.Last()
	if err != nil {
		return nil, err
	}
	for ok && len(result) < ironvault.RedistributionMaxTroves {
		if owner != exclude && !inBatch[owner] {
			trove, err := t.store.Get(owner)
			if err != nil {
				return nil, err
			}
			if trove.Debt.Sign() > 0 {
				result = append(result, survivor{Owner: owner, Debt: new(big.Int).Set(trove.Debt)})
			}
		}
		owner, ok, err = t.list.Prev(owner)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// redistribute spreads debt and collateral across survivors in proportion to
// each survivor's own debt share of the selected redistribution set, and
// reinserts every touched survivor at its new ICR. The last survivor in
// iteration order absorbs any remainder left by earlier truncating
// divisions, so the full debt and collateral amounts are always fully
// accounted for.
func (e *Engine) redistribute(t *txn, debt *big.Int, collateral map[types.Denom]*big.Int, survivors []survivor, prices map[string]oracle.Price) error {
	const op = "liquidator.redistribute"
	totalDebt := big.NewInt(0)
	for _, s := range survivors {
		totalDebt = totalDebt.Add(totalDebt, s.Debt)
	}
	if totalDebt.Sign() == 0 {
		return ironvault.Fail(op, ironvault.CodeInvalidTroveParameters)
	}

	distributedDebt := big.NewInt(0)
	distributedCollateral := make(map[types.Denom]*big.Int, len(collateral))
	for denom := range collateral {
		distributedCollateral[denom] = big.NewInt(0)
	}

	for i, s := range survivors {
		last := i == len(survivors)-1

		debtShare, err := distributeShare(debt, s.Debt, totalDebt, distributedDebt, last)
		if err != nil {
			return err
		}
		distributedDebt = distributedDebt.Add(distributedDebt, debtShare)
		if debtShare.Sign() > 0 {
			if err := t.store.AdjustDebt(s.Owner, debtShare); err != nil {
				return err
			}
		}

		for denom, amount := range collateral {
			if amount == nil || amount.Sign() == 0 {
				continue
			}
			share, err := distributeShare(amount, s.Debt, totalDebt, distributedCollateral[denom], last)
			if err != nil {
				return err
			}
			distributedCollateral[denom] = distributedCollateral[denom].Add(distributedCollateral[denom], share)
			if share.Sign() > 0 {
				if err := t.store.AdjustCollateral(s.Owner, denom, share); err != nil {
					return err
				}
			}
		}

		trove, err := t.store.Get(s.Owner)
		if err != nil {
			return err
		}
		icr, err := e.icrFor(trove.Debt, trove.Collateral, prices)
		if err != nil {
			return err
		}
		if err := t.list.Reinsert(s.Owner, icr, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// distributeShare computes survivorDebt/totalDebt of amount, rounded down,
// except on the last survivor where it instead returns whatever remains of
// amount after already-distributed, so truncation never leaves dust unowned.
func distributeShare(amount, survivorDebt, totalDebt, alreadyDistributed *big.Int, last bool) (*big.Int, error) {
	if last {
		return new(big.Int).Sub(amount, alreadyDistributed), nil
	}
	return fixedmath.SafeMulDiv(amount, survivorDebt, totalDebt, fixedmath.RoundDown)
}

func cloneCollateral(collateral map[types.Denom]*big.Int) map[types.Denom]*big.Int {
	clone := make(map[types.Denom]*big.Int, len(collateral))
	for denom, amount := range collateral {
		if amount != nil {
			clone[denom] = new(big.Int).Set(amount)
		}
	}
	return clone
}
