package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xtrntr/backoffice/internal/apperr"
	"go.uber.org/zap"
)

const msgInternal = "Internal server error"

// errorResponse is the body of every failed request. Error is a string or,
// for aggregated validation failures, a list of strings.
type errorResponse struct {
	Error any `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps err to a status and a user-safe body. Anything that is
// not an apperr.Error is logged and hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.log.Error("request failed",
			zap.String("request_id", requestID(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.Validation, apperr.Duplicate:
		status = http.StatusBadRequest
	case apperr.Authentication:
		status = http.StatusUnauthorized
	case apperr.Constraint:
		h.log.Error("constraint violation",
			zap.String("request_id", requestID(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	if ae.IsList() {
		writeJSON(w, status, errorResponse{Error: ae.Messages})
		return
	}
	msg := msgInternal
	if len(ae.Messages) > 0 {
		msg = ae.Messages[0]
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
