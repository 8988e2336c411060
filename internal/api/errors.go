package api

import (
	"net/http"

	"ironvault/internal/ironvault"
)

// statusFor maps an engine Code to the HTTP status a client should see. Any
// error that is not (or does not wrap) an *ironvault.Error is treated as an
// unexpected internal failure.
func statusFor(err error) int {
	code, ok := ironvault.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case ironvault.CodeInvalidAmount,
		ironvault.CodeLoanBelowMinimum,
		ironvault.CodeCollateralBelowMinimum,
		ironvault.CodeInvalidList,
		ironvault.CodeInvalidDenom,
		ironvault.CodeInvalidTroveParameters,
		ironvault.CodeNoDebtToRepay,
		ironvault.CodeNoFeesToDistribute:
		return http.StatusBadRequest
	case ironvault.CodeUnauthorized:
		return http.StatusForbidden
	case ironvault.CodeTroveExists:
		return http.StatusConflict
	case ironvault.CodeTroveDoesNotExist, ironvault.CodePriceFeedNotFound:
		return http.StatusNotFound
	case ironvault.CodeInsufficientStake,
		ironvault.CodeGainsAlreadyClaimed,
		ironvault.CodeNotEnoughLiquidityForRedeem,
		ironvault.CodeInsufficientCollateralRatio,
		ironvault.CodeNotLiquidatable:
		return http.StatusUnprocessableEntity
	case ironvault.CodePriceTooOld, ironvault.CodeInvalidPrice, ironvault.CodeLowConfidence:
		return http.StatusServiceUnavailable
	case ironvault.CodeTransferFailed:
		return http.StatusBadGateway
	case ironvault.CodeOverflow, ironvault.CodeDivideByZero:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	code, _ := ironvault.CodeOf(err)
	status := statusFor(err)
	body := map[string]string{"error": err.Error()}
	if code != "" {
		body["code"] = string(code)
	}
	writeJSON(w, status, body)
}
