// Package trovestore holds the per-owner debt and collateral ledger: the
// ground truth every other component (SortedTroves, TroveOps, Liquidator,
// Redeemer) reads and writes through. It does not itself compute collateral
// ratios or enforce any invariant; it is a pure accounting layer.
package trovestore

import (
	"math/big"

	"ironvault/internal/ironvault"
	"ironvault/internal/types"
)

const moduleName = "trovestore"

// Trove is one owner's open position: how much debt they have drawn and how
// much of each collateral denom backs it.
type Trove struct {
	Owner      types.Owner              `json:"owner"`
	Debt       *big.Int                 `json:"debt"`
	Collateral map[types.Denom]*big.Int `json:"collateral"`
}

// Clone returns a deep copy of the trove so callers can mutate the result
// without aliasing the stored value.
func (t *Trove) Clone() *Trove {
	if t == nil {
		return nil
	}
	clone := &Trove{Owner: t.Owner}
	if t.Debt != nil {
		clone.Debt = new(big.Int).Set(t.Debt)
	}
	if t.Collateral != nil {
		clone.Collateral = make(map[types.Denom]*big.Int, len(t.Collateral))
		for denom, amount := range t.Collateral {
			if amount != nil {
				clone.Collateral[denom] = new(big.Int).Set(amount)
			}
		}
	}
	return clone
}

// CollateralAmount returns the trove's balance for denom, or zero if the
// trove holds none of it.
func (t *Trove) CollateralAmount(denom types.Denom) *big.Int {
	if t == nil || t.Collateral == nil {
		return big.NewInt(0)
	}
	if amount, ok := t.Collateral[denom]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// Totals is the protocol-wide aggregate accounting mirror of every open
// trove, maintained incrementally as troves open, adjust, and close.
type Totals struct {
	TotalDebt       *big.Int                 `json:"total_debt"`
	TotalCollateral map[types.Denom]*big.Int `json:"total_collateral"`
}

// Clone returns a deep copy of the totals.
func (tt *Totals) Clone() *Totals {
	if tt == nil {
		return &Totals{TotalDebt: big.NewInt(0), TotalCollateral: map[types.Denom]*big.Int{}}
	}
	clone := &Totals{}
	if tt.TotalDebt != nil {
		clone.TotalDebt = new(big.Int).Set(tt.TotalDebt)
	} else {
		clone.TotalDebt = big.NewInt(0)
	}
	clone.TotalCollateral = make(map[types.Denom]*big.Int, len(tt.TotalCollateral))
	for denom, amount := range tt.TotalCollateral {
		if amount != nil {
			clone.TotalCollateral[denom] = new(big.Int).Set(amount)
		}
	}
	return clone
}

// engineState is the persistence seam the store is wired against.
type engineState interface {
	GetTrove(owner types.Owner) (*Trove, error)
	PutTrove(trove *Trove) error
	DeleteTrove(owner types.Owner) error
	GetTotals() (*Totals, error)
	PutTotals(*Totals) error
}

// Store is the trove ledger proper.
type Store struct {
	state engineState
}

// NewStore constructs a Store bound to its persistence seam.
func NewStore(state engineState) *Store {
	return &Store{state: state}
}

// Get returns the trove for owner, or CodeTroveDoesNotExist if none is open.
func (s *Store) Get(owner types.Owner) (*Trove, error) {
	trove, err := s.state.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if trove == nil {
		return nil, ironvault.Fail("trovestore.Get", ironvault.CodeTroveDoesNotExist)
	}
	return trove, nil
}

// Exists reports whether owner currently has an open trove.
func (s *Store) Exists(owner types.Owner) (bool, error) {
	trove, err := s.state.GetTrove(owner)
	if err != nil {
		return false, err
	}
	return trove != nil, nil
}

// Open creates a new trove for owner with the given initial debt and
// collateral, failing with CodeTroveExists if one is already open, and
// updates the running totals to match.
func (s *Store) Open(owner types.Owner, debt *big.Int, denom types.Denom, collateralAmount *big.Int) error {
	const op = "trovestore.Open"
	exists, err := s.Exists(owner)
	if err != nil {
		return err
	}
	if exists {
		return ironvault.Fail(op, ironvault.CodeTroveExists)
	}

	trove := &Trove{
		Owner:      owner,
		Debt:       new(big.Int).Set(debt),
		Collateral: map[types.Denom]*big.Int{denom: new(big.Int).Set(collateralAmount)},
	}
	if err := s.state.PutTrove(trove); err != nil {
		return err
	}
	return s.adjustTotals(debt, denom, collateralAmount)
}

// AdjustDebt applies delta (positive for borrow, negative for repay) to
// owner's outstanding debt and the running total, failing if the resulting
// debt would go negative.
func (s *Store) AdjustDebt(owner types.Owner, delta *big.Int) error {
	const op = "trovestore.AdjustDebt"
	trove, err := s.Get(owner)
	if err != nil {
		return err
	}
	newDebt := new(big.Int).Add(trove.Debt, delta)
	if newDebt.Sign() < 0 {
		return ironvault.Fail(op, ironvault.CodeNoDebtToRepay)
	}
	trove.Debt = newDebt
	if err := s.state.PutTrove(trove); err != nil {
		return err
	}
	return s.adjustTotals(delta, "", nil)
}

// AdjustCollateral applies delta (positive for deposit, negative for
// withdrawal) to owner's balance of denom, failing if the resulting balance
// would go negative.
func (s *Store) AdjustCollateral(owner types.Owner, denom types.Denom, delta *big.Int) error {
	const op = "trovestore.AdjustCollateral"
	trove, err := s.Get(owner)
	if err != nil {
		return err
	}
	if trove.Collateral == nil {
		trove.Collateral = map[types.Denom]*big.Int{}
	}
	current, ok := trove.Collateral[denom]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	newAmount := new(big.Int).Add(current, delta)
	if newAmount.Sign() < 0 {
		return ironvault.Fail(op, ironvault.CodeCollateralBelowMinimum)
	}
	trove.Collateral[denom] = newAmount
	if err := s.state.PutTrove(trove); err != nil {
		return err
	}
	return s.adjustTotals(big.NewInt(0), denom, delta)
}

// Close removes owner's trove entirely and subtracts its remaining debt and
// collateral from the running totals. Callers are responsible for zeroing
// the trove's debt and releasing its collateral (via TroveOps, Liquidator,
// or Redeemer) before calling Close.
func (s *Store) Close(owner types.Owner) error {
	trove, err := s.Get(owner)
	if err != nil {
		return err
	}
	if err := s.state.DeleteTrove(owner); err != nil {
		return err
	}
	negDebt := new(big.Int).Neg(trove.Debt)
	if err := s.adjustTotals(negDebt, "", nil); err != nil {
		return err
	}
	for denom, amount := range trove.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if err := s.adjustTotals(big.NewInt(0), denom, new(big.Int).Neg(amount)); err != nil {
			return err
		}
	}
	return nil
}

// Totals returns the current protocol-wide aggregate totals.
func (s *Store) Totals() (*Totals, error) {
	totals, err := s.state.GetTotals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

func (s *Store) adjustTotals(debtDelta *big.Int, denom types.Denom, collateralDelta *big.Int) error {
	totals, err := s.state.GetTotals()
	if err != nil {
		return err
	}
	totals = totals.Clone()
	if debtDelta != nil && debtDelta.Sign() != 0 {
		totals.TotalDebt = new(big.Int).Add(totals.TotalDebt, debtDelta)
	}
	if denom != "" && collateralDelta != nil {
		current, ok := totals.TotalCollateral[denom]
		if !ok || current == nil {
			current = big.NewInt(0)
		}
		totals.TotalCollateral[denom] = new(big.Int).Add(current, collateralDelta)
	}
	return s.state.PutTotals(totals)
}
