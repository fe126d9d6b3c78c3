package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/warp/billing-engine/billing"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var overpay *billing.OverpaymentError
	switch {
	case errors.As(err, &overpay),
		errors.Is(err, billing.ErrInstallmentSettled),
		errors.Is(err, billing.ErrNoFeeContract):
		return http.StatusUnprocessableEntity
	case billing.IsClientError(err):
		return http.StatusBadRequest
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the short, stable error label sent to clients.
func messageFor(err error) string {
	switch {
	case errors.Is(err, billing.ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, billing.ErrOverpayment):
		return "Payment exceeds installment value"
	case errors.Is(err, billing.ErrInstallmentSettled):
		return "Installment already settled"
	case errors.Is(err, billing.ErrNoFeeContract):
		return "Client has no fee contract"
	case errors.Is(err, billing.ErrInvalidContract):
		return "Invalid fee contract"
	case errors.Is(err, billing.ErrInvalidTransaction):
		return "Invalid transaction"
	case errors.Is(err, billing.ErrClientNotFound):
		return "Client not found"
	case errors.Is(err, billing.ErrInstallmentNotFound):
		return "Installment not found"
	case errors.Is(err, billing.ErrPaymentNotFound):
		return "Installment has no payment"
	case errors.Is(err, billing.ErrTransactionNotFound):
		return "Transaction not found"
	case errors.Is(err, billing.ErrConcurrentModification):
		return "Installment was modified concurrently"
	case errors.Is(err, billing.ErrDuplicateIdempotencyKey):
		return "Duplicate request"
	default:
		return "Internal error"
	}
}

// writeDomainError writes err with the status its class maps to. Internal
// errors are logged and their details withheld.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, status, messageFor(err), nil)
		return
	}
	writeError(w, status, messageFor(err), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
