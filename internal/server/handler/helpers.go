package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// Error taxonomy exposed to clients. Every error response carries one of
// these in its "type" field alongside the matching HTTP status.
const (
	typeValidation  = "VALIDATION"
	typeExternalAPI = "EXTERNAL_API"
	typeTimeout     = "TIMEOUT"
	typeRateLimit   = "RATE_LIMIT"
	typeNotFound    = "NOT_FOUND"
	typeInternal    = "INTERNAL"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error","type":"INTERNAL"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeErr classifies err against the taxonomy and sends the matching error
// envelope. Rate-limited errors echo the upstream Retry-After when known.
func writeErr(w http.ResponseWriter, err error) {
	status, errType := classify(err)

	if errType == typeRateLimit {
		var upErr *domain.UpstreamError
		if errors.As(err, &upErr) && upErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(upErr.RetryAfter.Seconds())))
		}
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Type: errType})
}

// writeValidation sends a 400 VALIDATION response.
func writeValidation(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error: fmt.Sprintf(format, args...),
		Type:  typeValidation,
	})
}

// classify maps an error chain onto the response taxonomy.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, typeValidation
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, typeRateLimit
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, typeNotFound
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusRequestTimeout, typeTimeout
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, typeExternalAPI
	}

	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		return http.StatusServiceUnavailable, typeExternalAPI
	}
	return http.StatusInternalServerError, typeInternal
}

// queryInt parses an integer query parameter, returning def when absent and
// an error when malformed.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be an integer", name)
	}
	return n, nil
}

// validInterval reports whether interval is one the upstream supports.
func validInterval(interval string) bool {
	return interval == "1h" || interval == "1d"
}
