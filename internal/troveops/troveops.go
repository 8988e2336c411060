// Package troveops implements the user-facing trove lifecycle: open, add
// collateral, remove collateral, borrow, repay, and close. The owner passed
// in is taken as given; no authentication happens here. Every operation
// follows the same discipline — price, propose,
// check risk direction against the collateral ratio floor, collect the
// protocol fee, mutate the ledger and ordering, then effect the external
// token transfers — staged inside a single storage.Batch so that either the
// whole operation lands or none of it does.
package troveops

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

const moduleName = "troveops"

// Hint carries the off-chain-computed neighbor pair used to make a
// SortedTroves insert or reinsert O(1) in the common case. A nil field (or
// a nil Hint altogether) falls back to a linear scan from the head.
type Hint struct {
	Prev *types.Owner
	Next *types.Owner
}

// Engine wires TroveStore, SortedTroves, OracleGateway, FeeRouter, and the
// external vault/mint collaborators together behind the transactional
// discipline every operation needs. It owns no persistent state of its own;
// every call stages its writes in a fresh storage.Batch bound to db and
// commits atomically only once every step has succeeded.
type Engine struct {
	db       storage.Database
	oracleGW *oracle.Gateway
	mint     stablecoin.MintBurner
	vault    vault.CollateralVault
	feeBps   uint64
}

// NewEngine constructs an Engine. feeBps is the protocol fee rate applied to
// Open and AddCollateral (the deposit-fee operations); pass
// ironvault.DefaultProtocolFeeBps for the default 5%. pool is accepted for
// constructor-signature parity with the other engines sharing db — each call
// rebinds its own stability-pool handle to its batch in begin() rather than
// writing through the shared one, so fee credits commit atomically with the
// rest of the call.
func NewEngine(db storage.Database, oracleGW *oracle.Gateway, pool *stabilitypool.Pool, mint stablecoin.MintBurner, collVault vault.CollateralVault, feeBps uint64) *Engine {
	return &Engine{db: db, oracleGW: oracleGW, mint: mint, vault: collVault, feeBps: feeBps}
}

// txn is the per-call set of components bound to one batch, committed by the
// caller once every step succeeds. pool is rebound to the same batch as store
// and list so a fee credited into the stability pool mid-call is staged
// alongside every other mutation rather than written straight through to the
// database: either the whole operation lands at Commit or none of it does.
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

// icrFor computes the ICR a trove would have given debt and a collateral
// set, fetching and validating a price for every denom present.
func (e *Engine) icrFor(ctx context.Context, debt *big.Int, collateral map[types.Denom]*big.Int) (uint64, error) {
	value := big.NewInt(0)
	for denom, amount := range collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		price, err := e.oracleGW.Price(ctx, string(denom))
		if err != nil {
			return 0, err
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

// splitDepositFee grosses down a collateral deposit so that the fee routed
// away is feeBps/BASIS_POINTS of the net amount kept (not of the pre-fee
// amount): net = amount * BASIS / (BASIS + feeBps), fee = amount - net. Used for Open and AddCollateral; Borrow, RemoveCollateral,
// and Repay carry no fee.
func splitDepositFee(amount *big.Int, feeBps uint64) (net, fee *big.Int, err error) {
	denominator := new(big.Int).Add(big.NewInt(ironvault.BasisPoints), new(big.Int).SetUint64(feeBps))
	net, err = fixedmath.SafeMulDiv(amount, big.NewInt(ironvault.BasisPoints), denominator, fixedmath.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	fee = new(big.Int).Sub(amount, net)
	return net, fee, nil
}

// Open creates a new trove for owner, depositing collateralAmount of denom
// and drawing loanAmount of stablecoin debt against it.
func (e *Engine) Open(ctx context.Context, owner types.Owner, denom types.Denom, collateralAmount, loanAmount *big.Int, hint Hint) (uint64, error) {
	const op = "troveops.Open"
	if loanAmount == nil || loanAmount.Sign() <= 0 || loanAmount.Cmp(ironvault.MinLoan) < 0 {
		return 0, ironvault.Fail(op, ironvault.CodeLoanBelowMinimum)
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return 0, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	t := e.begin()

	exists, err := t.store.Exists(owner)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ironvault.Fail(op, ironvault.CodeTroveExists)
	}

	netCollateral, fee, err := splitDepositFee(collateralAmount, e.feeBps)
	if err != nil {
		return 0, err
	}
	if netCollateral.Cmp(ironvault.MinCollateralUnits) < 0 {
		return 0, ironvault.Fail(op, ironvault.CodeCollateralBelowMinimum)
	}

	icr, err := e.icrFor(ctx, loanAmount, map[types.Denom]*big.Int{denom: netCollateral})
	if err != nil {
		return 0, err
	}
	if icr < ironvault.MinimumCollateralRatioBps {
		return 0, ironvault.Fail(op, ironvault.CodeInsufficientCollateralRatio)
	}

	if err := t.store.Open(owner, loanAmount, denom, netCollateral); err != nil {
		return 0, err
	}
	if err := t.list.Insert(owner, icr, hint.Prev, hint.Next); err != nil {
		return 0, err
	}

	if err := e.vault.Deposit(ctx, string(denom), owner, collateralAmount); err != nil {
		return 0, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}
	if fee.Sign() > 0 {
		if err := e.router(t, denom).Distribute(ctx, owner, fee); err != nil {
			return 0, err
		}
	}
	if err := e.mint.Mint(ctx, owner, loanAmount); err != nil {
		return 0, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}

	if err := t.batch.Commit(); err != nil {
		return 0, err
	}
	return icr, nil
}

// AddCollateral deposits additional collateral of denom into owner's
// existing trove, net of the deposit-side protocol fee. It always passes
// the collateral-ratio check (adding collateral only ever reduces risk) but
// still recomputes and returns the resulting ICR.
func (e *Engine) AddCollateral(ctx context.Context, owner types.Owner, denom types.Denom, amount *big.Int, hint Hint) (uint64, error) {
	const op = "troveops.AddCollateral"
	if amount == nil || amount.Sign() <= 0 {
		return 0, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	t := e.begin()
	trove, err := t.store.Get(owner)
	if err != nil {
		return 0, err
	}

	netAmount, fee, err := splitDepositFee(amount, e.feeBps)
	if err != nil {
		return 0, err
	}

	newCollateral := trove.Clone().Collateral
	if newCollateral == nil {
		newCollateral = map[types.Denom]*big.Int{}
	}
	newCollateral[denom] = new(big.Int).Add(trove.CollateralAmount(denom), netAmount)

	icr, err := e.icrFor(ctx, trove.Debt, newCollateral)
	if err != nil {
		return 0, err
	}

	if err := t.store.AdjustCollateral(owner, denom, netAmount); err != nil {
		return 0, err
	}
	if err := t.list.Reinsert(owner, icr, hint.Prev, hint.Next); err != nil {
		return 0, err
	}

	if err := e.vault.Deposit(ctx, string(denom), owner, amount); err != nil {
		return 0, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}
	if fee.Sign() > 0 {
		if err := e.router(t, denom).Distribute(ctx, owner, fee); err != nil {
			return 0, err
		}
	}

	if err := t.batch.Commit(); err != nil {
		return 0, err
	}
	return icr, nil
}

// RemoveCollateral withdraws amount of denom out of owner's trove back to
// them. Removing collateral increases risk, so the resulting ICR must still
// clear the minimum collateral ratio. No protocol fee applies.
func (e *Engine) RemoveCollateral(ctx context.Context, owner types.Owner, denom types.Denom, amount *big.Int, hint Hint) (uint64, error) {
	const op = "troveops.RemoveCollateral"
	if amount == nil || amount.Sign() <= 0 {
		return 0, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	t := e.begin()
	trove, err := t.store.Get(owner)
	if err != nil {
		return 0, err
	}
	current := trove.CollateralAmount(denom)
	if current.Cmp(amount) < 0 {
		return 0, ironvault.Fail(op, ironvault.CodeCollateralBelowMinimum)
	}
	remaining := new(big.Int).Sub(current, amount)
	if remaining.Sign() > 0 && remaining.Cmp(ironvault.MinCollateralUnits) < 0 {
		return 0, ironvault.Fail(op, ironvault.CodeCollateralBelowMinimum)
	}

	proposed := trove.Clone().Collateral
	proposed[denom] = remaining
	icr, err := e.icrFor(ctx, trove.Debt, proposed)
	if err != nil {
		return 0, err
	}
	if icr < ironvault.MinimumCollateralRatioBps {
		return 0, ironvault.Fail(op, ironvault.CodeInsufficientCollateralRatio)
	}

	if err := t.store.AdjustCollateral(owner, denom, new(big.Int).Neg(amount)); err != nil {
		return 0, err
	}
	if err := t.list.Reinsert(owner, icr, hint.Prev, hint.Next); err != nil {
		return 0, err
	}
	if err := e.vault.Withdraw(ctx, string(denom), owner, amount); err != nil {
		return 0, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}

	if err := t.batch.Commit(); err != nil {
		return 0, err
	}
	return icr, nil
}

// Borrow draws additional stablecoin debt against owner's existing
// collateral. Borrowing increases risk, so the resulting ICR must still
// clear the minimum collateral ratio. No protocol fee applies.
func (e *Engine) Borrow(ctx context.Context, owner types.Owner, amount *big.Int, hint Hint) (uint64, error) {
	const op = "troveops.Borrow"
	if amount == nil || amount.Sign() <= 0 {
		return 0, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	t := e.begin()
	trove, err := t.store.Get(owner)
	if err != nil {
		return 0, err
	}
	newDebt := new(big.Int).Add(trove.Debt, amount)

	icr, err := e.icrFor(ctx, newDebt, trove.Collateral)
	if err != nil {
		return 0, err
	}
	if icr < ironvault.MinimumCollateralRatioBps {
		return 0, ironvault.Fail(op, ironvault.CodeInsufficientCollateralRatio)
	}

	if err := t.store.AdjustDebt(owner, amount); err != nil {
		return 0, err
	}
	if err := t.list.Reinsert(owner, icr, hint.Prev, hint.Next); err != nil {
		return 0, err
	}
	if err := e.mint.Mint(ctx, owner, amount); err != nil {
		return 0, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}

	if err := t.batch.Commit(); err != nil {
		return 0, err
	}
	return icr, nil
}

// Repay burns amount of owner's outstanding debt. Repaying only ever
// decreases risk, so no collateral-ratio check applies, but a partial repay
// that would leave a nonzero debt below MIN_LOAN is rejected — the trove
// holder must repay in full instead. Repaying the full outstanding debt
// closes the trove: every collateral denom is returned and the trove is
// removed from both TroveStore and SortedTroves. No protocol fee applies
// either way.
func (e *Engine) Repay(ctx context.Context, owner types.Owner, amount *big.Int, hint Hint) (uint64, error) {
	const op = "troveops.Repay"
	if amount == nil || amount.Sign() <= 0 {
		return 0, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	t := e.begin()
	trove, err := t.store.Get(owner)
	if err != nil {
		return 0, err
	}
	if amount.Cmp(trove.Debt) > 0 {
		return 0, ironvault.Fail(op, ironvault.CodeNoDebtToRepay)
	}
	newDebt := new(big.Int).Sub(trove.Debt, amount)
	if newDebt.Sign() > 0 && newDebt.Cmp(ironvault.MinLoan) < 0 {
		return 0, ironvault.Fail(op, ironvault.CodeLoanBelowMinimum)
	}

	if err := e.mint.Burn(ctx, owner, amount); err != nil {
		return 0, ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
	}

	if newDebt.Sign() == 0 {
		return e.closeTrove(ctx, t, owner, trove)
	}

	if err := t.store.AdjustDebt(owner, new(big.Int).Neg(amount)); err != nil {
		return 0, err
	}
	icr, err := e.icrFor(ctx, newDebt, trove.Collateral)
	if err != nil {
		return 0, err
	}
	if err := t.list.Reinsert(owner, icr, hint.Prev, hint.Next); err != nil {
		return 0, err
	}

	if err := t.batch.Commit(); err != nil {
		return 0, err
	}
	return icr, nil
}

// Close repays owner's full outstanding debt and returns every collateral
// denom, equivalent to Repay(ctx, owner, currentDebt, hint).
func (e *Engine) Close(ctx context.Context, owner types.Owner) error {
	const op = "troveops.Close"
	t := e.begin()
	trove, err := t.store.Get(owner)
	if err != nil {
		return err
	}
	if trove.Debt.Sign() > 0 {
		if err := e.mint.Burn(ctx, owner, trove.Debt); err != nil {
			return ironvault.Wrap(op, ironvault.CodeTransferFailed, err)
		}
	}
	if _, err := e.closeTrove(ctx, t, owner, trove); err != nil {
		return err
	}
	return nil
}

// closeTrove zeroes out trove's debt and every collateral denom (updating
// GlobalTotals as it goes), releases the collateral back to owner, and
// removes the trove from both TroveStore and SortedTroves.
func (e *Engine) closeTrove(ctx context.Context, t *txn, owner types.Owner, trove *trovestore.Trove) (uint64, error) {
	if trove.Debt.Sign() > 0 {
		if err := t.store.AdjustDebt(owner, new(big.Int).Neg(trove.Debt)); err != nil {
			return 0, err
		}
	}
	for denom, amount := range trove.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if err := t.store.AdjustCollateral(owner, denom, new(big.Int).Neg(amount)); err != nil {
			return 0, err
		}
	}
	if err := t.store.Close(owner); err != nil {
		return 0, err
	}
	if err := t.list.Remove(owner); err != nil {
		return 0, err
	}
	for denom, amount := range trove.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if err := e.vault.Withdraw(ctx, string(denom), owner, amount); err != nil {
			return 0, ironvault.Wrap("troveops.closeTrove", ironvault.CodeTransferFailed, err)
		}
	}
	if err := t.batch.Commit(); err != nil {
		return 0, err
	}
	return ironvault.MaxICR, nil
}
