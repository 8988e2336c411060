// Package stabilitypool implements the first line of defense against
// undercollateralized troves: stakers deposit stablecoin, and when a trove
// is liquidated the pool burns staked stablecoin to cover its debt and
// credits the seized collateral back to stakers pro rata to their stake at
// the moment of absorption.
package stabilitypool

import (
	"math/big"

	"ironvault/internal/fixedmath"
	"ironvault/internal/ironvault"
	"ironvault/internal/types"
)

const moduleName = "stabilitypool"

// engineState is the persistence seam the pool is wired against.
type engineState interface {
	GetStake(owner types.Owner) (*big.Int, error)
	PutStake(owner types.Owner, amount *big.Int) error
	ListStakers() ([]types.Owner, error)
	GetTotalStake() (*big.Int, error)
	PutTotalStake(*big.Int) error
	GetPendingGain(owner types.Owner, denom types.Denom) (*big.Int, error)
	AddPendingGain(owner types.Owner, denom types.Denom, delta *big.Int) error
	GetAllPendingGains(owner types.Owner) (map[types.Denom]*big.Int, error)
	ClearPendingGains(owner types.Owner) error
	NextEpoch() (uint64, error)
}

// Pool is the stability pool proper.
type Pool struct {
	state engineState
}

// NewPool constructs a Pool bound to its persistence seam.
func NewPool(state engineState) *Pool {
	return &Pool{state: state}
}

// Stake credits amount to owner's deposit and the running total.
func (p *Pool) Stake(owner types.Owner, amount *big.Int) error {
	const op = "stabilitypool.Stake"
	if amount == nil || amount.Sign() <= 0 {
		return ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}
	if amount.Cmp(ironvault.MinLoan) < 0 {
		return ironvault.Fail(op, ironvault.CodeLoanBelowMinimum)
	}

	current, err := p.state.GetStake(owner)
	if err != nil {
		return err
	}
	newStake := new(big.Int).Add(current, amount)
	if err := p.state.PutStake(owner, newStake); err != nil {
		return err
	}

	total, err := p.state.GetTotalStake()
	if err != nil {
		return err
	}
	return p.state.PutTotalStake(new(big.Int).Add(total, amount))
}

// Unstake debits amount from owner's deposit and the running total, failing
// if owner does not have enough staked.
func (p *Pool) Unstake(owner types.Owner, amount *big.Int) error {
	const op = "stabilitypool.Unstake"
	if amount == nil || amount.Sign() <= 0 {
		return ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}
	current, err := p.state.GetStake(owner)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return ironvault.Fail(op, ironvault.CodeInsufficientStake)
	}
	newStake := new(big.Int).Sub(current, amount)
	if err := p.state.PutStake(owner, newStake); err != nil {
		return err
	}
	total, err := p.state.GetTotalStake()
	if err != nil {
		return err
	}
	return p.state.PutTotalStake(new(big.Int).Sub(total, amount))
}

// StakeOf returns owner's current stake, zero if they have never staked.
func (p *Pool) StakeOf(owner types.Owner) (*big.Int, error) {
	return p.state.GetStake(owner)
}

// TotalStake returns the pool's current aggregate stake.
func (p *Pool) TotalStake() (*big.Int, error) {
	return p.state.GetTotalStake()
}

// Absorb attempts to cover debt using the pool's staked stablecoin, crediting
// collateral back to every current staker pro rata to their stake at the
// moment of absorption. It returns false without modifying any state if the
// pool does not have enough total stake to cover debt in full — callers
// (Liquidator) then fall back to redistribution instead.
//
// Each staker's stake is burned in the same proportion as the collateral
// they receive, mirroring a liquidation event applying uniformly across
// every depositor regardless of when they joined the pool.
func (p *Pool) Absorb(debt *big.Int, collateral map[types.Denom]*big.Int) (bool, error) {
	const op = "stabilitypool.Absorb"
	if debt == nil || debt.Sign() <= 0 {
		return false, ironvault.Fail(op, ironvault.CodeInvalidAmount)
	}

	totalBefore, err := p.state.GetTotalStake()
	if err != nil {
		return false, err
	}
	if totalBefore.Cmp(debt) < 0 {
		return false, nil
	}

	stakers, err := p.state.ListStakers()
	if err != nil {
		return false, err
	}

	totalBurned := big.NewInt(0)
	for _, staker := range stakers {
		stake, err := p.state.GetStake(staker)
		if err != nil {
			return false, err
		}
		if stake == nil || stake.Sign() <= 0 {
			continue
		}

		burn, err := fixedmath.SafeMulDiv(debt, stake, totalBefore, fixedmath.RoundDown)
		if err != nil {
			return false, err
		}
		if burn.Sign() > 0 {
			newStake := new(big.Int).Sub(stake, burn)
			if newStake.Sign() < 0 {
				newStake = big.NewInt(0)
			}
			if err := p.state.PutStake(staker, newStake); err != nil {
				return false, err
			}
			totalBurned = new(big.Int).Add(totalBurned, burn)
		}

		for denom, seized := range collateral {
			if seized == nil || seized.Sign() == 0 {
				continue
			}
			gain, err := fixedmath.SafeMulDiv(seized, stake, totalBefore, fixedmath.RoundDown)
			if err != nil {
				return false, err
			}
			if gain.Sign() > 0 {
				if err := p.state.AddPendingGain(staker, denom, gain); err != nil {
					return false, err
				}
			}
		}
	}

	newTotal := new(big.Int).Sub(totalBefore, totalBurned)
	if newTotal.Sign() < 0 {
		newTotal = big.NewInt(0)
	}
	if err := p.state.PutTotalStake(newTotal); err != nil {
		return false, err
	}
	if _, err := p.state.NextEpoch(); err != nil {
		return false, err
	}
	return true, nil
}

// CreditFees credits amount as a pending gain in denom to every current
// staker pro rata to their stake, used when FeeRouter routes protocol fee
// income to the pool instead of the flat fee addresses. Unlike Absorb, it
// never touches total_stake or a staker's principal: fee income is pure
// upside, not a liquidation event.
func (p *Pool) CreditFees(denom types.Denom, amount *big.Int) error {
	const op = "stabilitypool.CreditFees"
	if amount == nil || amount.Sign() <= 0 {
		return ironvault.Fail(op, ironvault.CodeNoFeesToDistribute)
	}
	total, err := p.state.GetTotalStake()
	if err != nil {
		return err
	}
	if total.Sign() <= 0 {
		return ironvault.Fail(op, ironvault.CodeInsufficientStake)
	}
	stakers, err := p.state.ListStakers()
	if err != nil {
		return err
	}
	for _, staker := range stakers {
		stake, err := p.state.GetStake(staker)
		if err != nil {
			return err
		}
		if stake == nil || stake.Sign() <= 0 {
			continue
		}
		gain, err := fixedmath.SafeMulDiv(amount, stake, total, fixedmath.RoundDown)
		if err != nil {
			return err
		}
		if gain.Sign() > 0 {
			if err := p.state.AddPendingGain(staker, denom, gain); err != nil {
				return err
			}
		}
	}
	return nil
}

// PendingGain returns owner's unclaimed collateral gain in denom.
func (p *Pool) PendingGain(owner types.Owner, denom types.Denom) (*big.Int, error) {
	return p.state.GetPendingGain(owner, denom)
}

// WithdrawGains returns owner's full set of pending gains and clears them,
// matching the source's claim-then-zero semantics: a second withdrawal with
// nothing pending is a CodeGainsAlreadyClaimed error rather than a silent
// no-op, so callers can distinguish "nothing to claim" from "already
// claimed everything available".
func (p *Pool) WithdrawGains(owner types.Owner) (map[types.Denom]*big.Int, error) {
	const op = "stabilitypool.WithdrawGains"
	gains, err := p.state.GetAllPendingGains(owner)
	if err != nil {
		return nil, err
	}
	any := false
	for _, amount := range gains {
		if amount != nil && amount.Sign() > 0 {
			any = true
			break
		}
	}
	if !any {
		return nil, ironvault.Fail(op, ironvault.CodeGainsAlreadyClaimed)
	}
	if err := p.state.ClearPendingGains(owner); err != nil {
		return nil, err
	}
	return gains, nil
}
