package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/mapper"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/jmoiron/sqlx"
)

// maxChildRowsPerInsert is spec §4.E's batching rule: "chunks are split at
// 500 child rows per INSERT statement."
const maxChildRowsPerInsert = 500

// Write implements the Upsert Writer (spec §4.E): for each mapped record,
// upsert-by-primary-key the parent row, then replace-all each child table
// keyed by the parent's primary key, inside one transaction per chunk.
// The chunk is whatever the caller passes; the Sync Engine passes one
// fetched page (up to page_limit records) per call, and batch_size is not
// consulted.
func (db *DB) Write(ctx context.Context, entityKind string, chunk []mapper.Mapped) error {
	if len(chunk) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return syncerr.DatabaseRecoverable(fmt.Errorf("store: beginning transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	for _, record := range chunk {
		if err := upsertParent(ctx, tx, record); err != nil {
			return syncerr.DatabaseRecoverable(fmt.Errorf("store: upserting %s: %w", record.ParentTable, err))
		}
		for table, rows := range record.Children {
			if err := replaceChildren(ctx, tx, table, record.ParentKey, record.Parent[record.ParentKey], rows); err != nil {
				return syncerr.DatabaseRecoverable(fmt.Errorf("store: replacing children in %s: %w", table, err))
			}
		}
		metrics.RowsUpsertedTotal.WithLabelValues(record.ParentTable).Inc()
	}

	if err := tx.Commit(); err != nil {
		return syncerr.DatabaseRecoverable(fmt.Errorf("store: committing chunk: %w", err))
	}
	timer.ObserveDurationVec(metrics.ChunkWriteDuration, entityKind)
	return nil
}

// upsertParent implements spec §4.E step 1: UPDATE if a row with the
// primary key exists, else INSERT. It also stamps last_sync_date (spec §3:
// "a mirror-managed last_sync_date timestamp, wall clock at write time") —
// the Entity Mapper stays pure and never sees a clock, so the Writer is
// where this column is set.
func upsertParent(ctx context.Context, tx *sqlx.Tx, record mapper.Mapped) error {
	record.Parent["last_sync_date"] = time.Now().UTC()
	cols, args := sortedColumns(record.Parent)

	var exists int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = @p1", record.ParentTable, record.ParentKey)
	if err := tx.GetContext(ctx, &exists, query, record.Parent[record.ParentKey]); err != nil {
		return fmt.Errorf("checking existence: %w", err)
	}

	if exists > 0 {
		return updateRow(ctx, tx, record.ParentTable, record.ParentKey, cols, args, record.Parent[record.ParentKey])
	}
	return insertRow(ctx, tx, record.ParentTable, cols, args)
}

func updateRow(ctx context.Context, tx *sqlx.Tx, table, pkCol string, cols []string, args []any, pkVal any) error {
	var sets string
	var setArgs []any
	n := 1
	for i, col := range cols {
		if col == pkCol {
			continue
		}
		if n > 1 {
			sets += ", "
		}
		sets += fmt.Sprintf("%s = @p%d", col, n)
		setArgs = append(setArgs, args[i])
		n++
	}
	setArgs = append(setArgs, pkVal)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = @p%d", table, sets, pkCol, n)
	_, err := tx.ExecContext(ctx, query, setArgs...)
	return err
}

func insertRow(ctx context.Context, tx *sqlx.Tx, table string, cols []string, args []any) error {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, join(cols), join(placeholders))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// replaceChildren implements spec §4.E step 2: DELETE WHERE parent-fk =
// parent-pk, then INSERT the supplied rows, splitting at
// maxChildRowsPerInsert rows per INSERT statement.
func replaceChildren(ctx context.Context, tx *sqlx.Tx, table, parentFK string, parentPK any, rows []mapper.Row) error {
	delQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = @p1", table, parentFK)
	if _, err := tx.ExecContext(ctx, delQuery, parentPK); err != nil {
		return fmt.Errorf("deleting existing children: %w", err)
	}

	for start := 0; start < len(rows); start += maxChildRowsPerInsert {
		end := start + maxChildRowsPerInsert
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertChildBatch(ctx, tx, table, rows[start:end]); err != nil {
			return fmt.Errorf("inserting children: %w", err)
		}
	}
	return nil
}

func insertChildBatch(ctx context.Context, tx *sqlx.Tx, table string, rows []mapper.Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, _ := sortedColumns(rows[0])

	var valueClauses []string
	var args []any
	n := 1
	for _, row := range rows {
		placeholders := make([]string, len(cols))
		for i, col := range cols {
			placeholders[i] = fmt.Sprintf("@p%d", n)
			args = append(args, row[col])
			n++
		}
		valueClauses = append(valueClauses, "("+join(placeholders)+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, join(cols), join(valueClauses))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// sortedColumns returns a row's column names in a stable order (and the
// matching values) so generated SQL is deterministic across calls.
func sortedColumns(row mapper.Row) ([]string, []any) {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = row[col]
	}
	return cols, args
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
