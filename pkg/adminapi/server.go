// Package adminapi is the thin HTTP wrapper spec §6 calls "collaborator, not
// core": it exposes the Scheduler's and Progress Store's in-process entry
// points (sync_all, sync_entity, retry, status, count, last_sync_date) as
// plain JSON routes, plus the ambient /health, /ready, /live, /metrics
// endpoints every service in this stack carries — and nothing else: no
// dashboard HTML, no status/log/history browsing. Every sync-facing handler
// is a direct pass-through to the Scheduler or StatusSource it wraps; the
// core's behavior lives there, not here.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/log"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler is the subset of pkg/scheduler.Scheduler the admin surface drives.
type Scheduler interface {
	SyncAll(ctx context.Context, full bool) map[types.EntityKind]types.SyncOutcome
	SyncEntity(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (types.SyncOutcome, error)
	Retry(ctx context.Context, syncID string) (types.SyncOutcome, error)
	LastResult(entityKind types.EntityKind) (types.SyncOutcome, bool)
}

// StatusSource is the subset of the Progress Store the admin surface reads
// status(kind), count(kind) and last_sync_date(kind) from.
type StatusSource interface {
	GetLastSyncDate(ctx context.Context, entityKind types.EntityKind) (time.Time, error)
	Count(ctx context.Context, entityKind types.EntityKind) (int, error)
}

// Server is the admin HTTP surface.
type Server struct {
	scheduler Scheduler
	store     StatusSource
	mux       *http.ServeMux
	logger    zerolog.Logger
}

// New wires the admin surface's routes: POST /sync, POST /sync/{entity},
// POST /sync/retry/{sync_id}, GET /sync/{entity}/status, GET /stats, plus
// /metrics (pkg/metrics) since the donor's health server carries it on the
// same mux.
func New(scheduler Scheduler, store StatusSource) *Server {
	s := &Server{
		scheduler: scheduler,
		store:     store,
		mux:       http.NewServeMux(),
		logger:    log.WithComponent("adminapi"),
	}

	s.mux.HandleFunc("/sync", s.handleSyncAll)
	s.mux.HandleFunc("/sync/retry/", s.handleRetry)
	s.mux.HandleFunc("/sync/", s.handleEntityRoute)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/health", metrics.HealthHandler())
	s.mux.HandleFunc("/ready", metrics.ReadyHandler())
	s.mux.HandleFunc("/live", metrics.LivenessHandler())

	return s
}

// Start runs the admin HTTP server until ctx is cancelled or ListenAndServe
// returns. Mirrors the donor's plain net/http health server: short timeouts,
// no TLS — this surface is meant for operator tooling behind a trusted
// network boundary, not the paginated vendor transport pkg/vendorapi covers.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the mux directly, e.g. for tests using httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	full := r.URL.Query().Get("full") == "true"
	results := s.scheduler.SyncAll(r.Context(), full)
	writeJSON(w, http.StatusOK, results)
}

// handleEntityRoute dispatches both "POST /sync/{entity}" and
// "GET /sync/{entity}/status" since both hang off the same prefix.
func (s *Server) handleEntityRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sync/")
	if rest == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}

	if strings.HasSuffix(rest, "/status") {
		s.handleStatus(w, r, strings.TrimSuffix(rest, "/status"))
		return
	}
	s.handleSyncEntity(w, r, rest)
}

func (s *Server) handleSyncEntity(w http.ResponseWriter, r *http.Request, entity string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	entityKind := types.EntityKind(entity)
	if !entityKind.Valid() {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown entity kind %q", entity))
		return
	}

	mode := types.ModeIncremental
	daysWindowN := 0
	switch r.URL.Query().Get("mode") {
	case "full":
		mode = types.ModeFull
	case "days_window":
		mode = types.ModeDaysWindow
		fmt.Sscanf(r.URL.Query().Get("days"), "%d", &daysWindowN)
	case "retry":
		mode = types.ModeRetry
	}

	outcome, err := s.scheduler.SyncEntity(r.Context(), entityKind, mode, daysWindowN)
	if err != nil {
		s.logger.Warn().Err(err).Str("entity_kind", entity).Msg("sync_entity rejected")
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	syncID := strings.TrimPrefix(r.URL.Path, "/sync/retry/")
	if syncID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sync_id required"))
		return
	}

	outcome, err := s.scheduler.Retry(r.Context(), syncID)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, entity string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	entityKind := types.EntityKind(entity)
	if !entityKind.Valid() {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown entity kind %q", entity))
		return
	}

	resp := entityStatus{EntityKind: entity}
	if outcome, ok := s.scheduler.LastResult(entityKind); ok {
		resp.LastOutcome = &outcome
	}
	if lastSync, err := s.store.GetLastSyncDate(r.Context(), entityKind); err == nil {
		resp.LastSyncDate = &lastSync
	}
	if count, err := s.store.Count(r.Context(), entityKind); err == nil {
		resp.Count = &count
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats implements spec §6's count(kind)/last_sync_date(kind) across
// every entity kind in one call, the in-process equivalent of "GET /stats".
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	stats := make(map[string]entityStatus, len(types.AllEntityKinds))
	for _, entityKind := range types.AllEntityKinds {
		entry := entityStatus{EntityKind: string(entityKind)}
		if outcome, ok := s.scheduler.LastResult(entityKind); ok {
			entry.LastOutcome = &outcome
		}
		if lastSync, err := s.store.GetLastSyncDate(r.Context(), entityKind); err == nil {
			entry.LastSyncDate = &lastSync
		}
		if count, err := s.store.Count(r.Context(), entityKind); err == nil {
			entry.Count = &count
		}
		stats[string(entityKind)] = entry
	}
	writeJSON(w, http.StatusOK, stats)
}

type entityStatus struct {
	EntityKind   string             `json:"entity_kind"`
	LastOutcome  *types.SyncOutcome `json:"last_outcome,omitempty"`
	LastSyncDate *time.Time         `json:"last_sync_date,omitempty"`
	Count        *int               `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
