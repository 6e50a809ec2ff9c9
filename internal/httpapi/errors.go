package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/R3E-Network/raffle/internal/gasbank"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/storage"
	"github.com/R3E-Network/raffle/internal/vrf"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, raffle.ErrInsufficientPayment),
		errors.Is(err, raffle.ErrNoRandomWords),
		errors.Is(err, raffle.ErrPoolOverflow),
		errors.Is(err, gasbank.ErrInvalidAmount),
		errors.Is(err, vrf.ErrInvalidRandomWords):
		return http.StatusBadRequest
	case errors.Is(err, gasbank.ErrInsufficientBalance),
		errors.Is(err, vrf.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, gasbank.ErrAccountFrozen),
		errors.Is(err, gasbank.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, raffle.ErrIndexOutOfRange),
		errors.Is(err, raffle.ErrUnknownRequest),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, vrf.ErrNonexistentRequest),
		errors.Is(err, vrf.ErrInvalidSubscription):
		return http.StatusNotFound
	case errors.Is(err, raffle.ErrRoundNotOpen),
		errors.Is(err, raffle.ErrUpkeepNotNeeded),
		errors.Is(err, storage.ErrRoundExists):
		return http.StatusConflict
	case errors.Is(err, raffle.ErrTransferFailed),
		errors.Is(err, vrf.ErrCallbackFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError writes err with its mapped status. Unmet upkeep carries the
// predicate breakdown.
func writeDomainError(w http.ResponseWriter, err error) {
	var notNeeded *raffle.UpkeepNotNeededError
	if errors.As(err, &notNeeded) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  err.Error(),
			"upkeep": notNeeded.Status,
		})
		return
	}
	writeError(w, statusFor(err), err)
}
