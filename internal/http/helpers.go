package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"vocht/internal/core"
	applog "vocht/internal/log"
	"vocht/internal/lookup"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its HTTP status and responds with a
// JSON error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= 500 {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldError, err.Error(),
			applog.FieldPath, r.URL.Path,
			applog.FieldMethod, r.Method)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoCupConfigured):
		return http.StatusConflict
	case errors.Is(err, lookup.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body of at most 1MB into dst.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseQuantityField accepts a raw JSON quantity as either a number or a
// string like "250 ml".
func parseQuantityField(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: quantity is required", core.ErrInvalidQuantity)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: quantity must be a number or a string", core.ErrInvalidQuantity)
	}
	return core.ParseMillilitres(s)
}

// parseDateField parses an optional YYYY-MM-DD field, defaulting to today.
func parseDateField(s string) (core.Date, error) {
	if strings.TrimSpace(s) == "" {
		return core.Today(), nil
	}
	return core.ParseDate(s)
}

// parseShift extracts the day-navigation offset from the query string.
func parseShift(r *http.Request) int {
	v := strings.TrimSpace(r.URL.Query().Get("shift"))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// clientIP extracts the client address, considering proxies.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
