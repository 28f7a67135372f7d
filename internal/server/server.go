// Package server exposes the verification pipeline over HTTP so an operator
// can browse invoices, start verifications, approve signatures and issue.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"invoicechain/internal/logger"
	"invoicechain/internal/reconciliation"
	"invoicechain/internal/verification"
	"invoicechain/internal/wallet"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Service    *verification.Service
	Approvals  *wallet.QueueApprover
	Notices    *verification.Recorder
	Reconciler *reconciliation.Reconciler
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	svc        *verification.Service
	approvals  *wallet.QueueApprover
	notices    *verification.Recorder
	reconciler *reconciliation.Reconciler
	log        zerolog.Logger

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	srv := &Server{
		svc:        cfg.Service,
		approvals:  cfg.Approvals,
		notices:    cfg.Notices,
		reconciler: cfg.Reconciler,
		log:        logger.WithComponent("server"),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP API listening")
		errs <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info().Msg("Shutting down HTTP API")
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/invoices", s.ListInvoices)
		api.Post("/invoices/refresh", s.RefreshInvoices)
		api.Post("/invoices/{id}/verify", s.VerifyInvoice)
		api.Post("/issue", s.IssueInvoices)

		api.Get("/attempts", s.ListAttempts)
		api.Get("/outcomes", s.ListOutcomes)
		api.Get("/notices", s.ListNotices)

		api.Get("/approvals", s.ListApprovals)
		api.Post("/approvals/{id}/approve", s.decide(true))
		api.Post("/approvals/{id}/reject", s.decide(false))

		api.Get("/divergences", s.ListDivergences)
		api.Post("/divergences/{id}/retry", s.RetryDivergence)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := logger.WithRequestID(chimw.GetReqID(r.Context()))
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if kind := verification.KindName(err); kind != "unknown" && kind != "none" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, verification.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, verification.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, verification.ErrNotVerified), errors.Is(err, verification.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, verification.ErrUserCancellation):
		return http.StatusConflict
	case errors.Is(err, verification.ErrChainRejection), errors.Is(err, verification.ErrBackendRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, verification.ErrTransientNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
