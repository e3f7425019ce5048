package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/google/uuid"
)

// rollingWindowFallback is spec §4.C's "30 days ago" fallback when neither
// a sync-status row nor any parent row has a last_sync_date.
const rollingWindowFallback = 30 * 24 * time.Hour

// parentTableFor maps an entity kind to its parent table name (spec §6).
var parentTableFor = map[types.EntityKind]string{
	types.EntityProducts:   "Products",
	types.EntityPicklists:  "Picklists",
	types.EntityBatches:    "Batches",
	types.EntityUsers:      "Users",
	types.EntitySuppliers:  "Suppliers",
	types.EntityWarehouses: "Warehouses",
	types.EntityReceipts:   "Receipts",
}

// GetOrCreate implements spec §4.C's get_or_create: for full/days_window
// modes it abandons any existing in_progress row (preserving invariant
// §3.1) and starts fresh; for incremental it resumes the existing
// in_progress row if present.
func (db *DB) GetOrCreate(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (*types.SyncProgress, error) {
	if mode == types.ModeFull || mode == types.ModeDaysWindow {
		if err := db.abandonInProgress(ctx, entityKind); err != nil {
			return db.degradedProgress(entityKind, mode, daysWindowN), nil
		}
		return db.createProgress(ctx, entityKind, mode, daysWindowN)
	}

	existing, err := db.findInProgress(ctx, entityKind)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return db.degradedProgress(entityKind, mode, daysWindowN), nil
	}
	if existing != nil {
		return existing, nil
	}
	return db.createProgress(ctx, entityKind, mode, daysWindowN)
}

// degradedProgress returns the §4.C sentinel for an unreachable store: the
// engine keeps making forward progress in memory, but status=in_progress
// cannot be durably enforced in this mode.
func (db *DB) degradedProgress(entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) *types.SyncProgress {
	now := time.Now().UTC()
	return &types.SyncProgress{
		SyncID:      fmt.Sprintf("%s-%s", entityKind, uuid.NewString()),
		EntityKind:  entityKind,
		Mode:        mode,
		DaysWindowN: daysWindowN,
		Status:      types.StatusInProgress,
		StartedAt:   now,
		LastUpdated: now,
	}
}

func (db *DB) abandonInProgress(ctx context.Context, entityKind types.EntityKind) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE SyncProgress SET status = @p1, last_updated = @p2
		 WHERE entity_type = @p3 AND status = @p4`,
		types.StatusAbandoned, time.Now().UTC(), entityKind, types.StatusInProgress)
	return err
}

func (db *DB) findInProgress(ctx context.Context, entityKind types.EntityKind) (*types.SyncProgress, error) {
	var row progressRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT TOP 1 sync_id, entity_type, mode, days_window, current_offset, batch_number, total_batches,
		        items_processed, total_items, status, started_at, last_updated, completed_at
		 FROM SyncProgress WHERE entity_type = @p1 AND status = @p2
		 ORDER BY started_at DESC`,
		entityKind, types.StatusInProgress)
	if err != nil {
		return nil, err
	}
	progress := row.toDomain()
	return &progress, nil
}

func (db *DB) createProgress(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (*types.SyncProgress, error) {
	now := time.Now().UTC()
	progress := types.SyncProgress{
		SyncID:      fmt.Sprintf("%s-%s", entityKind, uuid.NewString()),
		EntityKind:  entityKind,
		Mode:        mode,
		DaysWindowN: daysWindowN,
		Status:      types.StatusInProgress,
		StartedAt:   now,
		LastUpdated: now,
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO SyncProgress (sync_id, entity_type, mode, days_window, current_offset, batch_number,
		        items_processed, status, started_at, last_updated)
		 VALUES (@p1, @p2, @p3, @p4, 0, 0, 0, @p5, @p6, @p7)`,
		progress.SyncID, progress.EntityKind, progress.Mode, progress.DaysWindowN,
		progress.Status, progress.StartedAt, progress.LastUpdated)
	if err != nil {
		return nil, syncerr.DatabaseRecoverable(fmt.Errorf("store: creating progress row: %w", err))
	}
	return &progress, nil
}

// GetBySyncID looks up one progress row by its unique sync_id.
func (db *DB) GetBySyncID(ctx context.Context, syncID string) (*types.SyncProgress, error) {
	var row progressRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT sync_id, entity_type, mode, days_window, current_offset, batch_number, total_batches,
		        items_processed, total_items, status, started_at, last_updated, completed_at
		 FROM SyncProgress WHERE sync_id = @p1`, syncID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: no progress row for sync_id %q: %w", syncID, err)
		}
		return nil, syncerr.DatabaseRecoverable(fmt.Errorf("store: loading progress %q: %w", syncID, err))
	}
	progress := row.toDomain()
	return &progress, nil
}

// MarkInProgress re-marks a progress row in_progress with a fresh
// last_updated, as required by retry(sync_id) (spec §4.G).
func (db *DB) MarkInProgress(ctx context.Context, syncID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE SyncProgress SET status = @p1, last_updated = @p2 WHERE sync_id = @p3`,
		types.StatusInProgress, time.Now().UTC(), syncID)
	if err != nil {
		return syncerr.DatabaseRecoverable(fmt.Errorf("store: marking %q in_progress: %w", syncID, err))
	}
	return nil
}

// Update applies a partial patch to a progress row and always refreshes
// last_updated (spec §4.C). current_offset is validated by the caller to
// be monotonically non-decreasing (spec §3 invariant 3); this layer does
// not re-check it.
func (db *DB) Update(ctx context.Context, syncID string, patch types.ProgressPatch) error {
	sets := []string{"last_updated = @p1"}
	args := []any{time.Now().UTC()}
	n := 2

	addSet := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = @p%d", col, n))
		args = append(args, val)
		n++
	}
	if patch.CurrentOffset != nil {
		addSet("current_offset", *patch.CurrentOffset)
	}
	if patch.BatchNumber != nil {
		addSet("batch_number", *patch.BatchNumber)
	}
	if patch.ItemsProcessed != nil {
		addSet("items_processed", *patch.ItemsProcessed)
	}
	if patch.TotalItems != nil {
		addSet("total_items", *patch.TotalItems)
	}
	if patch.TotalBatches != nil {
		addSet("total_batches", *patch.TotalBatches)
	}
	if patch.Status != nil {
		addSet("status", *patch.Status)
	}

	query := fmt.Sprintf("UPDATE SyncProgress SET %s WHERE sync_id = @p%d", joinSets(sets), n)
	args = append(args, syncID)

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return syncerr.DatabaseRecoverable(fmt.Errorf("store: updating progress %q: %w", syncID, err))
	}
	return nil
}

// Complete implements spec §4.C's complete: sets a terminal status and
// completed_at, satisfying invariant §3.4 (completed_at == last_updated).
func (db *DB) Complete(ctx context.Context, syncID string, success bool) error {
	status := types.StatusCompleted
	if !success {
		status = types.StatusFailed
	}
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE SyncProgress SET status = @p1, last_updated = @p2, completed_at = @p3 WHERE sync_id = @p4`,
		status, now, now, syncID)
	if err != nil {
		return syncerr.DatabaseRecoverable(fmt.Errorf("store: completing progress %q: %w", syncID, err))
	}
	return nil
}

// GetLastSyncDate implements spec §4.C's three-level fallback: sync-status
// row, then max(last_sync_date) on the parent table, then 30 days ago.
func (db *DB) GetLastSyncDate(ctx context.Context, entityKind types.EntityKind) (time.Time, error) {
	var t sql.NullTime
	err := db.conn.GetContext(ctx, &t,
		`SELECT last_sync_date FROM SyncStatus WHERE entity_type = @p1`, entityKind)
	if err == nil && t.Valid {
		return t.Time, nil
	}

	parentTable, ok := parentTableFor[entityKind]
	if ok {
		var fallback sql.NullTime
		q := fmt.Sprintf("SELECT MAX(last_sync_date) FROM %s", parentTable)
		if err := db.conn.GetContext(ctx, &fallback, q); err == nil && fallback.Valid {
			return fallback.Time, nil
		}
	}

	return time.Now().UTC().Add(-rollingWindowFallback), nil
}

// SetLastSync implements spec §4.C's set_last_sync upsert.
func (db *DB) SetLastSync(ctx context.Context, entityKind types.EntityKind, at time.Time, count int) error {
	_, err := db.conn.ExecContext(ctx,
		`MERGE SyncStatus AS target
		 USING (SELECT @p1 AS entity_type) AS src
		 ON target.entity_type = src.entity_type
		 WHEN MATCHED THEN UPDATE SET last_sync_date = @p2, last_sync_count = @p3,
		        total_count = total_count + @p3
		 WHEN NOT MATCHED THEN INSERT (entity_name, entity_type, last_sync_date, last_sync_count, total_count)
		        VALUES (@p1, @p1, @p2, @p3, @p3);`,
		entityKind, at.UTC(), count)
	if err != nil {
		return syncerr.DatabaseRecoverable(fmt.Errorf("store: setting last sync for %q: %w", entityKind, err))
	}
	return nil
}

// Count implements spec §6's count(kind): the current row count of
// entityKind's parent table.
func (db *DB) Count(ctx context.Context, entityKind types.EntityKind) (int, error) {
	parentTable, ok := parentTableFor[entityKind]
	if !ok {
		return 0, fmt.Errorf("store: unknown entity kind %q", entityKind)
	}
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", parentTable)
	if err := db.conn.GetContext(ctx, &n, q); err != nil {
		return 0, syncerr.DatabaseRecoverable(fmt.Errorf("store: counting %s: %w", parentTable, err))
	}
	return n, nil
}

// LastSyncTimestamps implements metrics.StatusSource for the Prometheus
// collector (pkg/metrics).
func (db *DB) LastSyncTimestamps(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT entity_type, last_sync_date FROM SyncStatus`)
	if err != nil {
		return nil, syncerr.DatabaseRecoverable(err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var entityType string
		var lastSync sql.NullTime
		if err := rows.Scan(&entityType, &lastSync); err != nil {
			return nil, err
		}
		if lastSync.Valid {
			result[entityType] = lastSync.Time
		}
	}
	return result, rows.Err()
}

// ActiveEntityKinds implements metrics.StatusSource.
func (db *DB) ActiveEntityKinds(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT entity_type FROM SyncProgress WHERE status = @p1`, types.StatusInProgress)
	if err != nil {
		return nil, syncerr.DatabaseRecoverable(err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var entityType string
		if err := rows.Scan(&entityType); err != nil {
			return nil, err
		}
		result[entityType] = true
	}
	return result, rows.Err()
}

// progressRow is the sqlx scan target for SyncProgress, converting SQL
// nullable columns to the domain's pointer fields.
type progressRow struct {
	SyncID         string         `db:"sync_id"`
	EntityType     string         `db:"entity_type"`
	Mode           sql.NullString `db:"mode"`
	DaysWindow     sql.NullInt64  `db:"days_window"`
	CurrentOffset  int            `db:"current_offset"`
	BatchNumber    int            `db:"batch_number"`
	TotalBatches   sql.NullInt64  `db:"total_batches"`
	ItemsProcessed int            `db:"items_processed"`
	TotalItems     sql.NullInt64  `db:"total_items"`
	Status         string         `db:"status"`
	StartedAt      time.Time      `db:"started_at"`
	LastUpdated    time.Time      `db:"last_updated"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

func (r progressRow) toDomain() types.SyncProgress {
	p := types.SyncProgress{
		SyncID:         r.SyncID,
		EntityKind:     types.EntityKind(r.EntityType),
		Mode:           types.ModeIncremental,
		CurrentOffset:  r.CurrentOffset,
		BatchNumber:    r.BatchNumber,
		ItemsProcessed: r.ItemsProcessed,
		Status:         types.ProgressStatus(r.Status),
		StartedAt:      r.StartedAt,
		LastUpdated:    r.LastUpdated,
	}
	if r.Mode.Valid && r.Mode.String != "" {
		p.Mode = types.SyncMode(r.Mode.String)
	}
	if r.DaysWindow.Valid {
		p.DaysWindowN = int(r.DaysWindow.Int64)
	}
	if r.TotalBatches.Valid {
		n := int(r.TotalBatches.Int64)
		p.TotalBatches = &n
	}
	if r.TotalItems.Valid {
		n := int(r.TotalItems.Int64)
		p.TotalItems = &n
	}
	if r.CompletedAt.Valid {
		p.CompletedAt = &r.CompletedAt.Time
	}
	return p
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}
