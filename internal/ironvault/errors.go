package ironvault

import (
	"errors"
	"fmt"
)

// Code classifies a failure so callers can branch on kind: input, state,
// invariant, external, and arithmetic errors are never collapsed into a
// single generic error type.
type Code string

// Input errors.
const (
	CodeInvalidAmount          Code = "invalid_amount"
	CodeLoanBelowMinimum       Code = "loan_below_minimum"
	CodeCollateralBelowMinimum Code = "collateral_below_minimum"
	CodeInvalidList            Code = "invalid_list"
	CodeInvalidDenom           Code = "invalid_denom"
	CodeUnauthorized           Code = "unauthorized"
)

// State errors.
const (
	CodeTroveExists                 Code = "trove_exists"
	CodeTroveDoesNotExist           Code = "trove_does_not_exist"
	CodeInsufficientStake           Code = "insufficient_stake"
	CodeGainsAlreadyClaimed         Code = "gains_already_claimed"
	CodeNotEnoughLiquidityForRedeem Code = "not_enough_liquidity_for_redeem"
)

// Invariant breaches.
const (
	CodeInsufficientCollateralRatio Code = "insufficient_collateral_ratio"
	CodeInvalidTroveParameters      Code = "invalid_trove_parameters"
)

// External errors.
const (
	CodePriceFeedNotFound Code = "price_feed_not_found"
	CodePriceTooOld       Code = "price_too_old"
	CodeInvalidPrice      Code = "invalid_price"
	CodeLowConfidence     Code = "low_confidence"
	CodeTransferFailed    Code = "transfer_failed"
)

// Arithmetic errors.
const (
	CodeOverflow     Code = "overflow"
	CodeDivideByZero Code = "divide_by_zero"
)

// Additional state errors required by fee routing and no-fees/no-debt edge
// cases.
const (
	CodeNoFeesToDistribute Code = "no_fees_to_distribute"
	CodeNoDebtToRepay      Code = "no_debt_to_repay"
	CodeNotLiquidatable    Code = "not_liquidatable"
)

// Error wraps a Code with the operation that raised it and, optionally, an
// underlying cause. It implements Unwrap so callers can use errors.Is against
// a sentinel cause while still branching on Code for client-facing messages.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail constructs an *Error for the given operation and code.
func Fail(op string, code Code) error {
	return &Error{Op: op, Code: code}
}

// Wrap constructs an *Error for the given operation and code, preserving an
// underlying cause for errors.Is/errors.As.
func Wrap(op string, code Code, err error) error {
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf extracts the Code from err, if err is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var ive *Error
	if errors.As(err, &ive) {
		return ive.Code, true
	}
	return "", false
}
