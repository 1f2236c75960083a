// Package httpapi exposes the Treasury engine over HTTP.
//
// Routes are mounted on a chi router under a configurable base path. The
// package translates engine sentinel errors and settlement validation codes
// into HTTP statuses; it holds no business logic of its own.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	treasury "github.com/xraph/treasury"
)

// Server is the Treasury HTTP API server.
type Server struct {
	core           *treasury.Core
	logger         *slog.Logger
	basePath       string
	metricsEnabled bool
	eventsToken    string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithBasePath sets the URL prefix for all treasury routes.
func WithBasePath(path string) ServerOption {
	return func(s *Server) { s.basePath = path }
}

// WithMetrics enables the /metrics Prometheus endpoint.
func WithMetrics() ServerOption {
	return func(s *Server) { s.metricsEnabled = true }
}

// WithEventsToken sets the bearer token required to ingest economic events.
// Ingestion is meant for internal services only; without a token the route
// stays open, which is acceptable in development environments only.
func WithEventsToken(token string) ServerOption {
	return func(s *Server) { s.eventsToken = token }
}

// NewServer creates a new API server around the given engine.
func NewServer(core *treasury.Core, opts ...ServerOption) *Server {
	s := &Server{
		core:     core,
		logger:   slog.Default(),
		basePath: "/treasury",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.logMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := s.core.Ping(req.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route(s.basePath, func(r chi.Router) {
		r.Post("/checkout", s.handleCreateCheckout)

		r.Get("/subscriptions/{userID}", s.handleSubscriptionStatus)
		r.Delete("/subscriptions/{userID}", s.handleCancelSubscription)

		// Webhook deliveries carry the provider signature in a header; the
		// body is passed through untouched for signature verification.
		r.Post("/webhooks/provider", s.handleWebhook)

		r.Get("/transactions", s.handleListTransactions)
		r.Get("/transactions/{txnID}", s.handleGetTransaction)
		r.Post("/transactions/{txnID}/refund", s.handleRequestRefund)

		r.Post("/wallets", s.handleCreateWallet)
		r.Get("/wallets/balance", s.handleWalletBalance)
		r.Get("/wallets/{walletID}", s.handleGetWallet)
		r.Get("/wallets/{walletID}/entries", s.handleWalletEntries)
		r.Post("/wallets/{walletID}/reconcile", s.handleReconcileWallet)

		r.With(s.requireEventsAuth).Post("/events", s.handleIngestEvents)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/{eventID}", s.handleGetEvent)

		r.Post("/settlements", s.handleProcessSettlement)
	})

	return r
}

// requireEventsAuth gates event ingestion behind the configured bearer
// token. The comparison is constant-time.
func (s *Server) requireEventsAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.eventsToken == "" {
			next.ServeHTTP(w, req)
			return
		}
		token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.eventsToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// logMiddleware logs each request at Info with duration and status.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		s.logger.Info("http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(req.Context()),
		)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
		},
	})
}
