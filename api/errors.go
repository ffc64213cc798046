package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/eduportal/reports"
	"github.com/jmcleod/eduportal/upstream"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with {error, code}; the status always mirrors the code.
func writeError(w http.ResponseWriter, code upstream.Code, msg string) {
	writeJSON(w, code.HTTPStatus(), ErrorResponse{Error: msg, Code: code})
}

// mapError writes err as its typed upstream error and returns it so callers
// can audit the outcome.
func mapError(w http.ResponseWriter, err error) *upstream.Error {
	var e *upstream.Error
	switch {
	case errors.Is(err, reports.ErrEmptyReport):
		e = upstream.SessionExpired("upstream returned an empty report, log in again")
	default:
		e = upstream.AsError(err)
	}
	writeError(w, e.Code, e.Message)
	return e
}
