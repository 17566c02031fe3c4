package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"marketplace-bidding/internal/domain"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	MinimumBid string `json:"minimum_bid,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// StatusFor maps the domain error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrInvalidState, domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func NewErrorResponse(err error) ErrorResponse {
	kind := domain.KindOf(err)
	if kind == "" {
		return ErrorResponse{Error: "internal error"}
	}
	resp := ErrorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Retryable: domain.IsRetryable(err),
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		resp.Error = derr.Message
		if derr.MinimumBid.Valid {
			resp.MinimumBid = derr.MinimumBid.Decimal.StringFixed(2)
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), NewErrorResponse(err))
}
