package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"zapspay/ledger"
	"zapspay/ledgerrpc"
	"zapspay/sponsor"
	"zapspay/storage"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"txHash,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP responses. Bodies carry a
// stable category code and a generic message; raw node error bodies and
// anything that could identify key material never pass through.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *ledger.ValidationError
		encoding   *ledger.EncodingError
		compliance *ComplianceError
		configErr  *sponsor.ConfigurationError
		simErr     *sponsor.SimulationError
		simOdd     *sponsor.SimulationUnexpectedError
		transport  *ledgerrpc.TransportError
		rejected   *sponsor.TransactionRejectedError
		failed     *sponsor.TransactionFailedError
		timeout    *sponsor.FinalityTimeoutError
		transition *storage.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, apiError{Code: "validation_error", Message: validation.Msg})
	case errors.As(err, &encoding):
		writeJSON(w, http.StatusBadRequest, apiError{Code: "encoding_error", Message: encoding.Msg})
	case errors.As(err, &compliance):
		writeJSON(w, http.StatusForbidden, apiError{Code: "compliance_rejected", Message: compliance.Reason})
	case errors.As(err, &simErr):
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Code: "simulation_rejected", Message: "the invocation was rejected during simulation"})
	case errors.As(err, &simOdd):
		writeJSON(w, http.StatusBadGateway, apiError{Code: "simulation_unexpected", Message: "the network returned an ambiguous simulation response"})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Code: "transaction_rejected", Message: "the network rejected the transaction; rebuild and retry", TxHash: rejected.Hash})
	case errors.As(err, &failed):
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Code: "transaction_failed", Message: "the transaction failed on-chain; rebuild and retry", TxHash: failed.Hash})
	case errors.As(err, &timeout):
		writeJSON(w, http.StatusGatewayTimeout, apiError{Code: "finality_timeout", Message: "the transaction was not final before the deadline; it may still settle", TxHash: timeout.Hash})
	case errors.As(err, &transport):
		writeJSON(w, http.StatusServiceUnavailable, apiError{Code: "network_unavailable", Message: "the ledger network is unreachable; retry later"})
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusServiceUnavailable, apiError{Code: "not_configured", Message: "sponsorship is not available"})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, apiError{Code: "invalid_transition", Message: transition.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Code: "not_found", Message: "no such record"})
	default:
		writeJSON(w, http.StatusInternalServerError, apiError{Code: "internal", Message: "internal error"})
	}
}
