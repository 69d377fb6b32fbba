// Package server exposes the HTTP surface: webhook intake, reconciliation,
// refund staging, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paywatch/engine"
	"paywatch/reconcile"
	"paywatch/refunds"
	"paywatch/webhook"
)

// maxBodyBytes bounds webhook and API request bodies. Provider events are
// well under this.
const maxBodyBytes = 1 << 20

// Options carries the server's collaborators and tuning.
type Options struct {
	Pipeline      *engine.Pipeline
	Reconciler    *reconcile.Reconciler
	RefundCreator *refunds.Creator
	Log           *slog.Logger
	RatePerSecond float64
	RateBurst     int
}

// Server is the HTTP front of the toolkit.
type Server struct {
	pipeline   *engine.Pipeline
	reconciler *reconcile.Reconciler
	refunds    *refunds.Creator
	log        *slog.Logger
	router     http.Handler
}

// New builds a Server and its router.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		pipeline:   opts.Pipeline,
		reconciler: opts.Reconciler,
		refunds:    opts.RefundCreator,
		log:        log,
	}
	s.router = s.buildRouter(opts)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	limiter := newRateLimiter(opts.RatePerSecond, opts.RateBurst)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(limited chi.Router) {
		limited.Use(limiter.middleware)
		limited.Post("/webhooks/stripe", s.handleWebhook)
		limited.Post("/reconcile", s.handleReconcile)
	})
	r.Post("/refunds", s.handleRefund)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook reads the byte-exact body and runs the ingest pipeline.
// Status mapping: applied and terminal duplicates answer 200 so the
// provider stops redelivering; non-terminal duplicates and recorded
// failures answer 409 to invite a retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "failed", "error": "unreadable body"})
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "failed", "error": "missing Stripe-Signature header"})
		return
	}

	result, err := s.pipeline.Ingest(r.Context(), rawBody, sig)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignatureMalformed),
			errors.Is(err, webhook.ErrSignatureTimestamp),
			errors.Is(err, webhook.ErrSignatureMismatch),
			errors.Is(err, webhook.ErrMalformedPayload):
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "failed", "error": err.Error()})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failed", "error": "canceled"})
		default:
			s.log.ErrorContext(r.Context(), "webhook pipeline error", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "failed", "error": "internal error"})
		}
		return
	}

	switch result.Status {
	case engine.StatusApplied:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case engine.StatusDuplicate:
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	case engine.StatusRetry:
		writeJSON(w, http.StatusConflict, map[string]string{"status": "retry", "error": "delivery in progress or previously failed"})
	default:
		msg := "processing failed"
		if result.Outcome != nil && result.Outcome.ErrorMessage != "" {
			msg = result.Outcome.ErrorMessage
		}
		writeJSON(w, http.StatusConflict, map[string]string{"status": "failed", "error": msg})
	}
}

type reconcileRequest struct {
	Limit                int    `json:"limit"`
	CreatedAfter         int64  `json:"created_after"`
	StartingAfterEventID string `json:"starting_after_event_id"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
				return
			}
		}
	}

	params := reconcile.Params{
		Limit:                req.Limit,
		StartingAfterEventID: req.StartingAfterEventID,
	}
	if req.CreatedAfter > 0 {
		params.CreatedAfter = time.Unix(req.CreatedAfter, 0).UTC()
	}

	result, err := s.reconciler.Run(r.Context(), params)
	if err != nil {
		s.log.ErrorContext(r.Context(), "reconciliation failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "reconciliation failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refunds.Request
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	resp, err := s.refunds.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, refunds.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, refunds.ErrPaymentNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, refunds.ErrPaymentNotOwned):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		case errors.Is(err, refunds.ErrPaymentNotSettled), errors.Is(err, refunds.ErrPaymentNotLinked):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, refunds.ErrProviderRefundFail):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		default:
			s.log.ErrorContext(r.Context(), "refund failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
