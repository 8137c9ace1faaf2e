// Package http exposes the intake ledger over a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"

	"vocht/internal/core"
	applog "vocht/internal/log"
	"vocht/internal/middleware/trace"
)

// IntakeWriter records intake through the application service.
type IntakeWriter interface {
	LogProduct(ctx context.Context, name string, quantity, originalQuantity float64, imageURL string, date core.Date) (core.Entry, error)
	LogScan(ctx context.Context, barcode string, percent float64, date core.Date) (core.Entry, error)
	LogCup(ctx context.Context) (core.Entry, error)
	Reset(ctx context.Context) error
}

// LedgerReader serves the read endpoints from current ledger state.
type LedgerReader interface {
	CurrentTotal() float64
	Entries() []core.Entry
	CupSize() (float64, bool)
}

// CupConfigurator manages the default cup and storage reconciliation.
type CupConfigurator interface {
	SetCupSize(ctx context.Context, size float64) error
	ClearCupSize(ctx context.Context) error
	Flush(ctx context.Context) error
}

type Server struct {
	http.Server
	intake IntakeWriter
	reader LedgerReader
	cups   CupConfigurator
	goalML float64

	rateLimiter  *rateLimiter
	tracer       *trace.Middleware
	slog         *applog.StructuredLogger
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, logger *applog.Logger, intake IntakeWriter, reader LedgerReader, cups CupConfigurator, goalML float64) *Server {
	if goalML <= 0 {
		goalML = core.DefaultDailyGoalML
	}

	mux := http.NewServeMux()

	s := &Server{
		intake:      intake,
		reader:      reader,
		cups:        cups,
		goalML:      goalML,
		rateLimiter: newRateLimiter(),
		tracer:      trace.NewMiddleware(clientIP),
		slog:        applog.NewStructuredLogger(logger),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/total", s.handleTotal)
	mux.HandleFunc("GET /api/entries", s.handleListEntries)
	mux.HandleFunc("GET /api/day/{date}", s.handleDay)

	mux.HandleFunc("POST /api/intake", s.handleLogIntake)
	mux.HandleFunc("POST /api/intake/scan", s.handleLogScan)
	mux.HandleFunc("POST /api/intake/cup", s.handleLogCup)

	mux.HandleFunc("GET /api/cup", s.handleGetCup)
	mux.HandleFunc("PUT /api/cup", s.handleSetCup)
	mux.HandleFunc("DELETE /api/cup", s.handleClearCup)

	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/flush", s.handleFlush)

	// Middleware chain, outermost first: tracing, logger injection,
	// request ID enrichment, then rate limiting and response headers.
	var handler http.Handler = s.withProtection(mux)
	handler = applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = applog.Middleware(logger)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:    addr,
		Handler: handler,
	}

	return s
}

// withProtection rate limits mutating requests and sets security headers.
func (s *Server) withProtection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP(r)) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, clientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, please try again later"})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
