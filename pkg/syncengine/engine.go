// Package syncengine implements the Sync Engine (spec §4.F): it resolves
// a sync's mode and since-window, pulls the vendor's paginated stream
// through the HTTP Client, deduplicates and sorts each page, hands it to
// the Upsert Writer, and checkpoints progress after every page. It is the
// scheduler.Engine implementation the Scheduler drives.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/config"
	"github.com/Rene1985-stack/picqer-sync/pkg/events"
	"github.com/Rene1985-stack/picqer-sync/pkg/log"
	"github.com/Rene1985-stack/picqer-sync/pkg/mapper"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/Rene1985-stack/picqer-sync/pkg/vendorapi"
	"github.com/rs/zerolog"
)

// ProgressStore is the subset of pkg/store the engine needs.
type ProgressStore interface {
	GetOrCreate(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (*types.SyncProgress, error)
	Update(ctx context.Context, syncID string, patch types.ProgressPatch) error
	Complete(ctx context.Context, syncID string, success bool) error
	GetLastSyncDate(ctx context.Context, entityKind types.EntityKind) (time.Time, error)
	SetLastSync(ctx context.Context, entityKind types.EntityKind, at time.Time, count int) error
}

// Writer is the subset of pkg/store the engine needs to persist mapped rows.
type Writer interface {
	Write(ctx context.Context, entityKind string, chunk []mapper.Mapped) error
}

// Fetcher is the subset of pkg/vendorapi the engine needs.
type Fetcher interface {
	FetchPages(ctx context.Context, opts vendorapi.FetchOptions, cb vendorapi.PageCallback) error
	GetOne(ctx context.Context, entityKind, endpoint string, params map[string]string) (json.RawMessage, error)
}

// Engine orchestrates one entity's sync per spec §4.F.
type Engine struct {
	client  Fetcher
	store   ProgressStore
	writer  Writer
	broker  *events.Broker
	cfg     config.Config
	logger  zerolog.Logger
}

// New creates a Sync Engine.
func New(client Fetcher, store ProgressStore, writer Writer, broker *events.Broker, cfg config.Config) *Engine {
	return &Engine{client: client, store: store, writer: writer, broker: broker, cfg: cfg, logger: log.WithComponent("syncengine")}
}

// Run implements scheduler.Engine: resolve mode, acquire a progress
// record, and execute the sync.
func (e *Engine) Run(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (types.SyncOutcome, error) {
	progress, err := e.store.GetOrCreate(ctx, entityKind, mode, daysWindowN)
	if err != nil {
		return types.SyncOutcome{Success: false, EntityKind: entityKind, Error: err.Error()}, err
	}
	return e.execute(ctx, entityKind, progress)
}

// Resume implements scheduler.Engine's retry path: it continues the
// supplied progress record (already re-marked in_progress by the
// Scheduler) using the mode recorded on it.
func (e *Engine) Resume(ctx context.Context, progress *types.SyncProgress) (types.SyncOutcome, error) {
	return e.execute(ctx, progress.EntityKind, progress)
}

func (e *Engine) execute(ctx context.Context, entityKind types.EntityKind, progress *types.SyncProgress) (types.SyncOutcome, error) {
	e.publish(events.EventSyncStarting, entityKind, progress.SyncID, progress.CurrentOffset, "")

	params, cutoff, err := e.resolveWindow(ctx, entityKind, progress)
	if err != nil {
		_ = e.store.Complete(ctx, progress.SyncID, false)
		e.publish(events.EventSyncFailed, entityKind, progress.SyncID, progress.CurrentOffset, err.Error())
		return types.SyncOutcome{Success: false, EntityKind: entityKind, SyncID: progress.SyncID, Error: err.Error()}, err
	}

	run := &runState{
		seen:           make(map[int64]bool),
		itemsProcessed: progress.ItemsProcessed,
		batchNumber:    progress.BatchNumber,
	}

	fetchErr := e.client.FetchPages(ctx, vendorapi.FetchOptions{
		EntityKind:  string(entityKind),
		Endpoint:    endpointFor(entityKind),
		Params:      params,
		Limit:       e.cfg.PageLimit,
		StartAt:     progress.CurrentOffset,
		Cutoff:      cutoff,
		UpdatedAtOf: updatedAtOf,
	}, func(ctx context.Context, page []json.RawMessage, pageOffset int) error {
		return e.handlePage(ctx, entityKind, progress, run, page, pageOffset)
	})

	if fetchErr != nil {
		return e.fail(ctx, entityKind, progress, run, fetchErr)
	}
	return e.finish(ctx, entityKind, progress, run)
}

// runState accumulates the engine's per-run, in-memory bookkeeping: the
// dedup set (spec §4.F step 4, private to one sync per spec §5) and
// running totals.
type runState struct {
	seen           map[int64]bool
	itemsProcessed int
	batchNumber    int
	mappingErrors  int
}

func (e *Engine) handlePage(ctx context.Context, entityKind types.EntityKind, progress *types.SyncProgress, run *runState, page []json.RawMessage, pageOffset int) error {
	e.publish(events.EventSyncFetching, entityKind, progress.SyncID, pageOffset, "")

	type timedRow struct {
		mapped mapper.Mapped
		at     time.Time
	}
	var rows []timedRow

	for _, raw := range page {
		raw, err := e.applySpecialization(ctx, entityKind, raw)
		if err != nil {
			return err
		}

		// Spec §4.F's inter-parent pause happens here, between each parent's
		// own detail fetch, not once per page — a page of 100 batches would
		// otherwise hit the vendor API in a single burst.
		if entityKind == types.EntityBatches || entityKind == types.EntityPicklists {
			time.Sleep(time.Duration(e.cfg.InterParentPauseMs) * time.Millisecond)
		}

		if key, ok := dedupKey(raw); ok {
			if run.seen[key] {
				continue
			}
			run.seen[key] = true
		}

		mapped, err := mapper.Map(entityKind, raw)
		if err != nil {
			run.mappingErrors++
			metrics.MappingErrorsTotal.WithLabelValues(string(entityKind)).Inc()
			e.logger.Warn().Str("entity_kind", string(entityKind)).Err(err).Msg("skipping record with mapping error")
			continue
		}

		at, _ := updatedAtOf(raw)
		rows = append(rows, timedRow{mapped: mapped, at: at})
	}

	// Sort descending by updated_at so a restart-from-offset preserves
	// recent-first priority (spec §4.F step 5).
	sortDescendingByTime(rows, func(r timedRow) time.Time { return r.at })

	chunk := make([]mapper.Mapped, len(rows))
	for i, r := range rows {
		chunk[i] = r.mapped
	}

	e.publish(events.EventSyncWriting, entityKind, progress.SyncID, pageOffset, "")
	if err := e.writer.Write(ctx, string(entityKind), chunk); err != nil {
		return err
	}

	run.itemsProcessed += len(chunk)
	run.batchNumber++
	newOffset := pageOffset + e.cfg.PageLimit
	itemsProcessed := run.itemsProcessed
	batchNumber := run.batchNumber
	if err := e.store.Update(ctx, progress.SyncID, types.ProgressPatch{
		CurrentOffset:  &newOffset,
		BatchNumber:    &batchNumber,
		ItemsProcessed: &itemsProcessed,
	}); err != nil {
		e.logger.Warn().Str("sync_id", progress.SyncID).Err(err).Msg("failed to checkpoint progress")
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, entityKind types.EntityKind, progress *types.SyncProgress, run *runState, err error) (types.SyncOutcome, error) {
	if syncerr.IsChunkRecoverable(err) {
		recoverable := types.StatusErrorRecoverable
		_ = e.store.Update(ctx, progress.SyncID, types.ProgressPatch{Status: &recoverable})
	} else {
		_ = e.store.Complete(ctx, progress.SyncID, false)
	}
	metrics.SyncRunsTotal.WithLabelValues(string(entityKind), "failed").Inc()
	e.publish(events.EventSyncFailed, entityKind, progress.SyncID, progress.CurrentOffset, err.Error())
	return types.SyncOutcome{
		Success: false, EntityKind: entityKind, SyncID: progress.SyncID,
		ItemsProcessed: run.itemsProcessed, Error: err.Error(),
	}, err
}

func (e *Engine) finish(ctx context.Context, entityKind types.EntityKind, progress *types.SyncProgress, run *runState) (types.SyncOutcome, error) {
	e.publish(events.EventSyncCompleting, entityKind, progress.SyncID, progress.CurrentOffset, "")

	itemsProcessed := run.itemsProcessed
	if err := e.store.Update(ctx, progress.SyncID, types.ProgressPatch{TotalItems: &itemsProcessed}); err != nil {
		e.logger.Warn().Str("sync_id", progress.SyncID).Err(err).Msg("failed to record total_items")
	}
	if err := e.store.Complete(ctx, progress.SyncID, true); err != nil {
		e.logger.Warn().Str("sync_id", progress.SyncID).Err(err).Msg("failed to mark sync complete")
	}
	if err := e.store.SetLastSync(ctx, entityKind, time.Now().UTC(), run.itemsProcessed); err != nil {
		e.logger.Warn().Str("entity_kind", string(entityKind)).Err(err).Msg("failed to set last sync mark")
	}

	metrics.SyncRunsTotal.WithLabelValues(string(entityKind), "completed").Inc()
	metrics.ItemsProcessedTotal.WithLabelValues(string(entityKind)).Add(float64(run.itemsProcessed))
	e.publish(events.EventSyncDone, entityKind, progress.SyncID, progress.CurrentOffset, "")

	return types.SyncOutcome{
		Success: true, EntityKind: entityKind, SyncID: progress.SyncID,
		ItemsProcessed: run.itemsProcessed,
	}, nil
}

func (e *Engine) publish(eventType events.EventType, entityKind types.EntityKind, syncID string, offset int, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:       eventType,
		EntityKind: string(entityKind),
		SyncID:     syncID,
		Offset:     offset,
		Message:    message,
	})
}

// resolveWindow implements spec §4.F step 3: determine the "since"
// parameter (or cutoff, for days_window) per mode.
func (e *Engine) resolveWindow(ctx context.Context, entityKind types.EntityKind, progress *types.SyncProgress) (map[string]string, time.Time, error) {
	params := map[string]string{}
	if entityKind == types.EntityProducts {
		params["includestock"] = "1"
		params["includefields"] = "1"
	}

	// retry(sync_id) resumes with the mode recorded on the original sync
	// (spec §4.F step 1), which pkg/store persists on the SyncProgress row.
	// An empty or literal ModeRetry value only reaches this function for a
	// malformed/pre-migration row; coerce it to incremental rather than
	// falling into the fatal default branch below.
	mode := progress.Mode
	if mode == "" || mode == types.ModeRetry {
		mode = types.ModeIncremental
	}

	switch mode {
	case types.ModeFull:
		return params, time.Time{}, nil

	case types.ModeIncremental:
		lastSync, err := e.store.GetLastSyncDate(ctx, entityKind)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("syncengine: resolving last sync date: %w", err)
		}
		rollingDays := e.cfg.RollingWindowDays
		if rollingDays <= 0 {
			rollingDays = 30
		}
		since := lastSync.Add(-time.Duration(rollingDays) * 24 * time.Hour)
		params["updated_since"] = vendorapi.FormatSince(since)
		return params, time.Time{}, nil

	case types.ModeDaysWindow:
		cutoff := time.Now().UTC().AddDate(0, 0, -progress.DaysWindowN)
		params["updated_since"] = vendorapi.FormatSince(cutoff)
		// The early-stop cutoff optimization (spec §4.B) applies only to
		// batches; other entities still filter server-side via updated_since
		// but paginate to exhaustion rather than assuming sort order.
		if entityKind == types.EntityBatches {
			return params, cutoff, nil
		}
		return params, time.Time{}, nil

	default:
		return nil, time.Time{}, fmt.Errorf("syncengine: unknown sync mode %q", progress.Mode)
	}
}

func endpointFor(entityKind types.EntityKind) string {
	switch entityKind {
	case types.EntityProducts:
		return "/products"
	case types.EntityPicklists:
		return "/picklists"
	case types.EntityBatches:
		return "/picklists/batches"
	case types.EntityUsers:
		return "/users"
	case types.EntitySuppliers:
		return "/suppliers"
	case types.EntityWarehouses:
		return "/warehouses"
	case types.EntityReceipts:
		return "/receipts"
	default:
		return ""
	}
}

func sortDescendingByTime[T any](items []T, at func(T) time.Time) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && at(items[j]).After(at(items[j-1])); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
