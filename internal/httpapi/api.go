// Package httpapi exposes the agent's local diagnostic HTTP surface:
// health, current printer status, the persisted job journal and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/printwatch/moonraker-bridge/internal/printer"
	"github.com/printwatch/moonraker-bridge/internal/storage"
)

// StatusSource exposes the router's projection to HTTP consumers.
type StatusSource interface {
	State() *printer.State
	LinkedPrinter() map[string]any
	BoostStatus()
}

// ConnReporter reports connection readiness and triggers re-queries.
type ConnReporter interface {
	Ready() bool
	RequestStatusUpdate() int64
}

// ReadyReporter reports readiness only.
type ReadyReporter interface {
	Ready() bool
}

// Journal reads the persisted job history and lifecycle log.
type Journal interface {
	ListJobs(ctx context.Context, limit int) ([]storage.PrintJob, error)
	ListLifecycleEvents(ctx context.Context, limit int) ([]storage.LifecycleEvent, error)
}

// API groups the HTTP handlers and their dependencies.
type API struct {
	app         StatusSource
	printerConn ConnReporter
	cloudConn   ReadyReporter
	journal     Journal
	metrics     http.Handler
	logger      *slog.Logger
}

func New(app StatusSource, printerConn ConnReporter, cloudConn ReadyReporter, journal Journal, metrics http.Handler, logger *slog.Logger) *API {
	return &API{
		app:         app,
		printerConn: printerConn,
		cloudConn:   cloudConn,
		journal:     journal,
		metrics:     metrics,
		logger:      logger,
	}
}

// Handler builds the routing tree.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(a.logger))
	r.Use(middleware.Timeout(20 * time.Second))
	r.Use(RequestLogger(a.logger))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/status", a.status)
		api.Get("/jobs", a.listJobs)
		api.Get("/events", a.listEvents)
		api.Post("/refresh", a.refresh)
	})
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"moonraker_ready": a.printerConn.Ready(),
		"cloud_ready":     a.cloudConn.Ready(),
		"printer_state":   string(a.app.State().Current()),
	})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"printer":          a.app.State().ToStatusPayload(printer.StatusOptions{}),
		"current_print_ts": a.app.State().CurrentPrintTs(),
		"linked_printer":   a.app.LinkedPrinter(),
	})
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusConflict, "journal_disabled", "Job journal is not configured")
		return
	}
	limit, err := limitParam(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	jobs, err := a.journal.ListJobs(r.Context(), limit)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusConflict, "journal_disabled", "Job journal is not configured")
		return
	}
	limit, err := limitParam(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	events, err := a.journal.ListLifecycleEvents(r.Context(), limit)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.app.BoostStatus()
	if a.printerConn.Ready() {
		a.printerConn.RequestStatusUpdate()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func limitParam(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// RunServer starts and gracefully stops the HTTP server with context
// cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
