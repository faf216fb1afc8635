package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"autorepay/native/autorepay"
	nativecommon "autorepay/native/common"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{autorepay.ErrInvalidAmount, http.StatusBadRequest},
	{autorepay.ErrInsufficientCollateral, http.StatusUnprocessableEntity},
	{autorepay.ErrArithmeticOverflow, http.StatusUnprocessableEntity},
	{autorepay.ErrDebtNotFullyRepaid, http.StatusConflict},
	{nativecommon.ErrActionPaused, http.StatusConflict},
	{autorepay.ErrCompensationFailed, http.StatusInternalServerError},
	{autorepay.ErrExternalMarketFailure, http.StatusBadGateway},
	{autorepay.ErrOracleUnavailable, http.StatusServiceUnavailable},
	{autorepay.ErrNotConfigured, http.StatusServiceUnavailable},
}

// statusFor maps an engine error to its HTTP status. Compensation failures
// are matched before the collaborator kind they wrap.
func statusFor(err error) int {
	for _, entry := range errorStatus {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, message)
}
