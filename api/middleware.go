package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jmcleod/eduportal/upstream"
)

type contextKey int

const requestIDKey contextKey = iota

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxAuthBodySize bounds login and refresh bodies.
const maxAuthBodySize = 4 << 10

// RequestID tags every request with an id, reusing a well-formed incoming
// X-Request-ID so ids survive a reverse proxy.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// decodeJSON reads a JSON body of at most limit bytes. An empty body decodes
// to the zero value when allowEmpty is set. On failure the error response has
// already been written.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return v, true
		}
		writeError(w, upstream.CodeBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
