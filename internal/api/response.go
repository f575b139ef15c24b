package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"claims_adjudicator/internal/domain"
	"claims_adjudicator/internal/ledger"
	"claims_adjudicator/internal/processor"
	"claims_adjudicator/pkg/crypto"
)

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(Envelope{Status: "success", Data: data}); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// sendDomainError maps err onto a status and code. Unexpected errors are logged and hidden.
func (h *APIHandler) sendDomainError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, code, msg := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed",
			slog.String("operation", operation),
			slog.String("request_id", requestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
	} else {
		h.logger.WarnContext(r.Context(), "Request rejected",
			slog.String("operation", operation),
			slog.String("request_id", requestIDFromContext(r.Context())),
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	h.sendError(w, msg, status, code)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, crypto.ErrInvalidToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing admin token"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, "EXPIRED", err.Error()
	case errors.Is(err, domain.ErrIneligible):
		return http.StatusUnprocessableEntity, "PAYOUT_INELIGIBLE", err.Error()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", err.Error()
	case errors.Is(err, domain.ErrInsufficientJurors):
		return http.StatusServiceUnavailable, "INSUFFICIENT_JURORS", err.Error()
	case errors.Is(err, processor.ErrPayoutNotExecuted), errors.Is(err, ledger.ErrRejected):
		return http.StatusBadGateway, "PAYOUT_FAILED", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("body", err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.NewValidationError("body", "must contain a single JSON value")
	}
	return nil
}
