// Package redeemer lets any stablecoin holder redeem aUSD for collateral at
// par, walking SortedTroves from the head (riskiest) toward the tail and
// consuming each trove's debt in turn until the redemption amount is
// exhausted or the list runs dry.
package redeemer

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

const moduleName = "redeemer"

// TroveRedemption records how much debt was pulled from one trove during a
// Redeem call.
type TroveRedemption struct {
	Owner        types.Owner
	DebtRedeemed *big.Int
}

// Result summarizes a completed Redeem call.
type Result struct {
	GrossAmount *big.Int
	Fee         *big.Int
	NetRedeemed *big.Int
	Troves      []TroveRedemption
}

// Engine wires TroveStore, SortedTroves, OracleGateway, FeeRouter, and the
// external vault/mint collaborators behind the redemption discipline
// spec.md §4.9 describes.
type Engine struct {
	db       storage.Database
	oracleGW *oracle.Gateway
	mint     stablecoin.MintBurner
	vault    vault.CollateralVault
	feeBps   uint64
}

// NewEngine constructs an Engine. feeBps is the protocol fee rate applied to
// the gross redemption amount before it is burned. pool is accepted for
// constructor-signature parity with the other engines sharing db — each call
// rebinds its own stability-pool handle to its batch in begin() rather than
// writing through the shared one, so the routed redemption fee commits
// atomically with the rest of the call.
func NewEngine(db storage.Database, oracleGW *oracle.Gateway, pool *stabilitypool.Pool, mint stablecoin.MintBurner, collVault vault.CollateralVault, feeBps uint64) *Engine {
	return &Engine{db: db, oracleGW: oracleGW, mint: mint, vault: collVault, feeBps: feeBps}
}

// txn is the per-call set of components bound to one batch. pool is rebound
// to the same batch as store and list so a fee credited into the stability
// pool is staged with every other mutation of the call and only becomes
// visible at Commit, never ahead of it.
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

// router returns a FeeRouter wired for the stablecoin-denominated redemption
// fee: StablecoinTransfer mints the fee fresh to the flat-split addresses,
// and PoolSink credits it to stakers tagged under StablecoinDenom when
// stake-based routing is enabled.
func (e *Engine) router(t *txn) *feerouter.Router {
	return feerouter.NewRouter(
		feerouter.NewStore(t.batch),
		feeadapters.PoolSink{Pool: t.pool, Denom: ironvault.StablecoinDenom},
		feeadapters.StablecoinTransfer{Mint: e.mint},
	)
}

func (e *Engine) icrFor(debt *big.Int, collateral map[types.Denom]*big.Int, prices map[string]oracle.Price) (uint64, error) {
	const op = "redeemer.icrFor"
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

// collateralUSDValue sums the USD value (scaled to the 18-decimal space
// debt is tracked in) of every denom in collateral, at the given prices.
func (e *Engine) collateralUSDValue(collateral map[types.Denom]*big.Int, prices map[string]oracle.Price) (*big.Int, error) {
	const op = "redeemer.collateralUSDValue"
	total := big.NewInt(0)
	for denom, amount := range collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		price, ok := prices[string(denom)]
		if !ok {
			return nil, ironvault.Fail(op, ironvault.CodePriceFeedNotFound)
		}
		decimals, err := e.oracleGW.CollateralDecimals(string(denom))
		if err != nil {
			return nil, err
		}
		usd, err := fixedmath.CollateralValueUSD(amount, price.Mantissa, price.Exponent, decimals)
		if err != nil {
			return nil, err
		}
		total = total.Add(total, usd)
	}
	return total, nil
}

// Redeem exchanges amount of aUSD for collateral at USD parity, starting
// from the riskiest open trove and working toward the safest until amount
// (net of the protocol fee) is fully satisfied or the trove list is
// exhausted, in which case the redemption is partial. The caller's stablecoin
// balance is checked by mint.Burn's own collaborator; Redeem itself only
// enforces that amount is positive and that total outstanding debt can cover
// it in full (a partial-liquidity redemption is rejected outright rather
// than silently redeeming less than requested).
//
// Each consumed trove gives up collateral whose USD value equals its share of
// the net redeemed amount, not a flat fraction of its physical collateral
// balance: since every surviving trove sits above 100% collateralization,
// this leaves more collateral per unit of remaining debt than before,
// exactly the ICR-rising effect a redemption is meant to have (the redeemer
// always pays par USD value for the collateral they receive, never a
// discount tied to the trove's own collateralization ratio).
func (e *Engine) Redeem(ctx context.Context, caller types.Owner, amount *big.Int) (*Result, error) {
	const op = "redeemer.Redeem"
	if amount == nil || amount.Sign() <= 0 {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	t := e.begin()

	totals, err := t.store.Totals()
	if err != nil {
		return nil, err
	}
	if totals.TotalDebt == nil || amount.Cmp(totals.TotalDebt) > 0 {
		return nil, ironvault.Fail(op, ironvault.CodeNotEnoughLiquidityForRedeem)
	}

	fee, err := fixedmath.BpsOf(amount, e.feeBps)
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Sub(amount, fee)
	if net.Sign() <= 0 {
		return nil, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	prices, err := e.oracleGW.AllPrices(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{GrossAmount: amount, Fee: fee, NetRedeemed: big.NewInt(0)}
	remaining := new(big.Int).Set(net)

	for remaining.Sign() > 0 {
		owner, ok, err := t.list.First()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		trove, err := t.store.Get(owner)
		if err != nil {
			return nil, err
		}

		take := new(big.Int).Set(trove.Debt)
		if take.Cmp(remaining) > 0 {
			take = new(big.Int).Set(remaining)
		}
		if take.Sign() == 0 {
			break
		}

		collateralUSD, err := e.collateralUSDValue(trove.Collateral, prices)
		if err != nil {
			return nil, err
		}
		if collateralUSD.Sign() == 0 {
			return nil, ironvault.Fail(op, ironvault.CodeInvalidTroveParameters)
		}

		if err := e.transferCollateralShare(ctx, t, owner, caller, trove.Collateral, take, collateralUSD, prices); err != nil {
			return nil, err
		}
		if err := t.store.AdjustDebt(owner, new(big.Int).Neg(take)); err != nil {
			return nil, err
		}

		newDebt := new(big.Int).Sub(trove.Debt, take)
		if newDebt.Sign() == 0 {
			if err := t.store.Close(owner); err != nil {
				return nil, err
			}
			if err := t.list.Remove(owner); err != nil {
				return nil, err
			}
		} else {
			refreshed, err := t.store.Get(owner)
			if err != nil {
				return nil, err
			}
			icr, err := e.icrFor(refreshed.Debt, refreshed.Collateral, prices)
			if err != nil {
				return nil, err
			}
			if err := t.list.Reinsert(owner, icr, nil, nil); err != nil {
				return nil, err
			}
		}

		remaining = remaining.Sub(remaining, take)
		result.NetRedeemed = result.NetRedeemed.Add(result.NetRedeemed, take)
		result.Troves = append(result.Troves, TroveRedemption{Owner: owner, DebtRedeemed: new(big.Int).Set(take)})
	}

	if result.NetRedeemed.Sign() == 0 {
		return nil, ironvault.Fail(op, ironvault.CodeNotEnoughLiquidityForRedeem)
	}

	if err := e.mint.Burn(ctx, caller, amount); err != nil {
		return nil, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}
	if fee.Sign() > 0 {
		if err := e.router(t).Distribute(ctx, caller, fee); err != nil {
			return nil, err
		}
	}

	if err := t.batch.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// transferCollateralShare withdraws, per denom, collateralUSD's take/totalUSD
// share of owner's trove collateral to caller and debits it from the trove's
// ledger balance, so the USD value handed over exactly matches take
// regardless of how many denoms the trove holds or their relative prices.
func (e *Engine) transferCollateralShare(ctx context.Context, t *txn, owner, caller types.Owner, collateral map[types.Denom]*big.Int, take, totalUSD *big.Int, prices map[string]oracle.Price) error {
	const op = "redeemer.transferCollateralShare"

	type denomValue struct {
		denom  types.Denom
		amount *big.Int
		usd    *big.Int
	}
	values := make([]denomValue, 0, len(collateral))
	for denom, amount := range collateral {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		price, ok := prices[string(denom)]
		if !ok {
			return ironvault.Fail(op, ironvault.CodePriceFeedNotFound)
		}
		decimals, err := e.oracleGW.CollateralDecimals(string(denom))
		if err != nil {
			return err
		}
		usd, err := fixedmath.CollateralValueUSD(amount, price.Mantissa, price.Exponent, decimals)
		if err != nil {
			return err
		}
		values = append(values, denomValue{denom: denom, amount: amount, usd: usd})
	}

	// distributedUSD tracks the USD value already handed over so the last
	// denom's remainder is computed against take, never against that denom's
	// own full native balance — a partially consumed trove must only give up
	// the USD-value fraction of collateral matching the debt fraction redeemed,
	// not its entire remaining balance.
	distributedUSD := big.NewInt(0)
	for i, dv := range values {
		last := i == len(values)-1

		var shareUSD *big.Int
		if last {
			shareUSD = new(big.Int).Sub(take, distributedUSD)
			if shareUSD.Sign() < 0 {
				shareUSD = big.NewInt(0)
			}
		} else {
			var err error
			shareUSD, err = fixedmath.SafeMulDiv(dv.usd, take, totalUSD, fixedmath.RoundDown)
			if err != nil {
				return err
			}
		}
		if shareUSD.Cmp(dv.usd) > 0 {
			shareUSD = new(big.Int).Set(dv.usd)
		}
		if shareUSD.Sign() <= 0 {
			continue
		}

		share, err := fixedmath.SafeMulDiv(dv.amount, shareUSD, dv.usd, fixedmath.RoundDown)
		if err != nil {
			return err
		}
		if share.Sign() <= 0 {
			continue
		}
		distributedUSD = distributedUSD.Add(distributedUSD, shareUSD)
		if err := e.withdrawShare(ctx, t, owner, caller, dv.denom, share); err != nil {
			return err
		}
	}
	return nil
}

// withdrawShare reduces the redeemed trove's on-chain collateral balance and
// pays it out to caller via the collateral vault. It is split out from
// transferCollateralShare purely so the per-denom bookkeeping above stays
// focused on USD-value apportionment.
func (e *Engine) withdrawShare(ctx context.Context, t *txn, owner, caller types.Owner, denom types.Denom, share *big.Int) error {
	const op = "redeemer.withdrawShare"
	if err := t.store.AdjustCollateral(owner, denom, new(big.Int).Neg(share)); err != nil {
		return err
	}
	if err := e.vault.Withdraw(ctx, string(denom), caller, share); err != nil {
		return ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}
	return nil
}
