// Package scheduler dispatches per-entity sync jobs, enforcing at most one
// running job per entity kind while letting distinct entities run
// concurrently (spec §4.G).
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Rene1985-stack/picqer-sync/pkg/events"
	"github.com/Rene1985-stack/picqer-sync/pkg/log"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/rs/zerolog"
)

// Engine is the subset of the Sync Engine the scheduler drives.
type Engine interface {
	Run(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (types.SyncOutcome, error)
	Resume(ctx context.Context, progress *types.SyncProgress) (types.SyncOutcome, error)
}

// ProgressLocator is the subset of the Progress Store the scheduler needs
// to implement retry(sync_id).
type ProgressLocator interface {
	GetBySyncID(ctx context.Context, syncID string) (*types.SyncProgress, error)
	MarkInProgress(ctx context.Context, syncID string) error
}

// Scheduler ensures at most one job per entity kind runs at a time.
type Scheduler struct {
	engine  Engine
	store   ProgressLocator
	broker  *events.Broker
	logger  zerolog.Logger
	mu      sync.Mutex
	active  map[types.EntityKind]bool
	results map[types.EntityKind]types.SyncOutcome
	stopCh  chan struct{}
}

// New creates a new scheduler.
func New(engine Engine, store ProgressLocator, broker *events.Broker) *Scheduler {
	return &Scheduler{
		engine:  engine,
		store:   store,
		broker:  broker,
		logger:  log.WithComponent("scheduler"),
		active:  make(map[types.EntityKind]bool),
		results: make(map[types.EntityKind]types.SyncOutcome),
		stopCh:  make(chan struct{}),
	}
}

// Stop closes the scheduler's stop channel. SyncEntity, SyncAll and Retry
// do not consult it, so dispatches made after Stop still run, and jobs
// already running are not cancelled; callers cancel their own context.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// tryAcquire marks entityKind as running, returning false if it already is.
func (s *Scheduler) tryAcquire(entityKind types.EntityKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[entityKind] {
		return false
	}
	s.active[entityKind] = true
	metrics.ActiveSyncs.WithLabelValues(string(entityKind)).Set(1)
	return true
}

func (s *Scheduler) release(entityKind types.EntityKind, outcome types.SyncOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, entityKind)
	s.results[entityKind] = outcome
	metrics.ActiveSyncs.WithLabelValues(string(entityKind)).Set(0)
}

// LastResult returns the most recently completed outcome for entityKind, if any.
func (s *Scheduler) LastResult(entityKind types.EntityKind) (types.SyncOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.results[entityKind]
	return outcome, ok
}

// SyncEntity dispatches one job for entityKind and blocks until it
// completes. It returns an error immediately, without running anything, if
// a job for this entity kind is already active.
func (s *Scheduler) SyncEntity(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (types.SyncOutcome, error) {
	if !entityKind.Valid() {
		return types.SyncOutcome{}, fmt.Errorf("scheduler: unknown entity kind %q", entityKind)
	}
	if !s.tryAcquire(entityKind) {
		metrics.SchedulerRejectedTotal.WithLabelValues(string(entityKind)).Inc()
		return types.SyncOutcome{}, fmt.Errorf("scheduler: a sync for %q is already running", entityKind)
	}
	metrics.SchedulerDispatchesTotal.WithLabelValues(string(entityKind)).Inc()
	s.logger.Info().Str("entity_kind", string(entityKind)).Str("mode", string(mode)).Msg("dispatching sync")

	outcome, err := s.engine.Run(ctx, entityKind, mode, daysWindowN)
	if err != nil && outcome.EntityKind == "" {
		outcome = types.SyncOutcome{Success: false, EntityKind: entityKind, Error: err.Error()}
	}
	s.release(entityKind, outcome)
	return outcome, err
}

// SyncAll dispatches one job per entity kind concurrently and joins the
// results; a failure in one entity does not fail the others (spec §4.G:
// "Cross-entity sync all").
func (s *Scheduler) SyncAll(ctx context.Context, full bool) map[types.EntityKind]types.SyncOutcome {
	mode := types.ModeIncremental
	if full {
		mode = types.ModeFull
	}

	results := make(map[types.EntityKind]types.SyncOutcome, len(types.AllEntityKinds))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, entityKind := range types.AllEntityKinds {
		wg.Add(1)
		go func(kind types.EntityKind) {
			defer wg.Done()
			outcome, err := s.SyncEntity(ctx, kind, mode, 0)
			if err != nil && outcome.EntityKind == "" {
				outcome = types.SyncOutcome{Success: false, EntityKind: kind, Error: err.Error()}
			}
			mu.Lock()
			results[kind] = outcome
			mu.Unlock()
		}(entityKind)
	}

	wg.Wait()
	return results
}

// Retry implements retry(sync_id): it parses the entity kind from the
// sync_id prefix, locates the progress row, re-marks it in_progress, and
// hands it to a fresh Sync Engine which resumes from the stored offset.
func (s *Scheduler) Retry(ctx context.Context, syncID string) (types.SyncOutcome, error) {
	entityKind, err := entityKindFromSyncID(syncID)
	if err != nil {
		return types.SyncOutcome{}, err
	}

	if !s.tryAcquire(entityKind) {
		metrics.SchedulerRejectedTotal.WithLabelValues(string(entityKind)).Inc()
		return types.SyncOutcome{}, fmt.Errorf("scheduler: a sync for %q is already running", entityKind)
	}

	progress, err := s.store.GetBySyncID(ctx, syncID)
	if err != nil {
		s.release(entityKind, types.SyncOutcome{})
		return types.SyncOutcome{}, fmt.Errorf("scheduler: failed to locate sync %q: %w", syncID, err)
	}
	if err := s.store.MarkInProgress(ctx, syncID); err != nil {
		s.release(entityKind, types.SyncOutcome{})
		return types.SyncOutcome{}, fmt.Errorf("scheduler: failed to mark sync %q in_progress: %w", syncID, err)
	}

	metrics.SchedulerDispatchesTotal.WithLabelValues(string(entityKind)).Inc()
	s.logger.Info().Str("sync_id", syncID).Str("entity_kind", string(entityKind)).Msg("retrying sync")

	outcome, err := s.engine.Resume(ctx, progress)
	if err != nil && outcome.EntityKind == "" {
		outcome = types.SyncOutcome{Success: false, EntityKind: entityKind, SyncID: syncID, Error: err.Error()}
	}
	s.release(entityKind, outcome)
	return outcome, err
}

// entityKindFromSyncID parses the "<entity_kind>-<uuid>" sync_id format
// produced by the engine (see pkg/syncengine).
func entityKindFromSyncID(syncID string) (types.EntityKind, error) {
	idx := strings.Index(syncID, "-")
	if idx <= 0 {
		return "", fmt.Errorf("scheduler: malformed sync_id %q", syncID)
	}
	entityKind := types.EntityKind(syncID[:idx])
	if !entityKind.Valid() {
		return "", fmt.Errorf("scheduler: sync_id %q has unknown entity kind prefix %q", syncID, entityKind)
	}
	return entityKind, nil
}
