// Package api exposes the HTTP interface for the indexing service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/config"
	"github.com/launchindex/indexer/internal/indexer"
	"github.com/launchindex/indexer/internal/metrics"
	"github.com/launchindex/indexer/internal/verify"
)

// Verifier runs an on-demand verification pass for one address.
type Verifier interface {
	VerifyAddress(ctx context.Context, addressID string) (indexer.Address, error)
}

// CredentialTester checks that a service-account key is usable.
type CredentialTester interface {
	Test(ctx context.Context, cred indexer.Credential) error
}

// Exporter renders a project's addresses as CSV.
type Exporter interface {
	WriteCSV(ctx context.Context, projectID string, buf *bytes.Buffer) (int, error)
}

// Server wires HTTP handlers to the store and workers.
type Server struct {
	router   chi.Router
	store    indexer.Store
	queue    indexer.TaskQueue
	verifier Verifier
	tester   CredentialTester
	exporter Exporter
	settings *verify.Settings
	idGen    indexer.IDGenerator
	clock    indexer.Clock
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store indexer.Store,
	queue indexer.TaskQueue,
	verifier Verifier,
	tester CredentialTester,
	exporter Exporter,
	settings *verify.Settings,
	idGen indexer.IDGenerator,
	clock indexer.Clock,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		store:    store,
		queue:    queue,
		verifier: verifier,
		tester:   tester,
		exporter: exporter,
		settings: settings,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}

	timeout := 60 * time.Second
	if cfg.Server.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.createProject)
			r.Get("/", s.listProjects)
			r.Route("/{project_id}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Delete("/", s.deleteProject)
				r.Post("/addresses", s.addAddresses)
				r.Get("/addresses", s.listAddresses)
				r.Get("/export", s.exportCSV)
			})
		})
		r.Route("/addresses/{address_id}", func(r chi.Router) {
			r.Get("/", s.getAddress)
			r.Delete("/", s.deleteAddress)
			r.Post("/resubmit", s.resubmitAddress)
			r.Post("/check", s.checkAddress)
			r.Get("/transactions", s.addressTransactions)
		})
		r.Route("/users/{user_id}/credits", func(r chi.Router) {
			r.Get("/", s.getBalance)
			r.Post("/", s.addCredits)
			r.Get("/transactions", s.listTransactions)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Get("/status", s.reportStatus)
			r.Get("/channels", s.reportChannels)
			r.Get("/speed", s.reportSpeed)
			r.Get("/indexed-by-service", s.reportIndexedByService)
			r.Get("/daily", s.reportDaily)
		})
		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", s.addCredential)
			r.Get("/", s.listCredentials)
			r.Get("/settings", s.getVerifySettings)
			r.Put("/settings", s.updateVerifySettings)
			r.Delete("/{credential_id}", s.removeCredential)
			r.Post("/{credential_id}/test", s.testCredential)
		})
		r.Get("/queue/stats", s.queueStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total":    stats.Total,
		"eligible": stats.Eligible,
		"delayed":  stats.Delayed,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps domain sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, indexer.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, indexer.ErrAlreadyIndexed):
		writeError(w, http.StatusConflict, "address already indexed")
	case errors.Is(err, indexer.ErrInsufficientCredit):
		writeError(w, http.StatusPaymentRequired, "insufficient credit")
	case errors.Is(err, indexer.ErrConcurrencyLost):
		writeError(w, http.StatusConflict, "conflicting update in progress")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
