package store

import (
	"context"
	"fmt"
)

// columnDef describes one column this package expects to exist.
type columnDef struct {
	name   string
	sqlTyp string // e.g. "BIGINT", "NVARCHAR(MAX)", "DATETIME2", "BIT", "FLOAT"
	pk     bool
}

// tableDef is one managed table: its name and the columns the mapper or
// progress store writes into it. Column sets are historically unstable
// upstream (spec §9's open question); EnsureSchema only ever adds missing
// nullable columns, never drops or alters existing ones.
type tableDef struct {
	name    string
	columns []columnDef
}

// managedTables enumerates every table named in spec §6. Parent tables
// get their primary key column plus last_sync_date; child and bookkeeping
// tables are listed explicitly since their columns are fixed by contract.
var managedTables = []tableDef{
	{"Products", []columnDef{
		{"idproduct", "BIGINT", true}, {"productcode", "NVARCHAR(100)", false},
		{"name", "NVARCHAR(500)", false}, {"price", "FLOAT", false},
		{"stock", "BIGINT", false}, {"active", "BIT", false}, {"weight", "FLOAT", false},
		{"pricelists", "NVARCHAR(MAX)", false}, {"tags", "NVARCHAR(MAX)", false},
		{"productfields", "NVARCHAR(MAX)", false}, {"images", "NVARCHAR(MAX)", false},
		{"updated_at", "DATETIME2", false}, {"last_sync_date", "DATETIME2", false},
	}},
	{"Picklists", []columnDef{
		{"idpicklist", "BIGINT", true}, {"picklistid", "NVARCHAR(100)", false},
		{"reference", "NVARCHAR(200)", false}, {"status", "NVARCHAR(50)", false},
		{"amount", "FLOAT", false}, {"amount_picked", "FLOAT", false},
		{"updated_at", "DATETIME2", false}, {"last_sync_date", "DATETIME2", false},
	}},
	{"PicklistProducts", []columnDef{
		{"idpicklist_product", "BIGINT", true}, {"idpicklist", "BIGINT", false},
		{"idproduct", "BIGINT", false}, {"productcode", "NVARCHAR(100)", false},
		{"amount", "BIGINT", false}, {"amount_picked", "BIGINT", false},
	}},
	{"PicklistProductLocations", []columnDef{
		{"idlocation", "BIGINT", false}, {"idpicklist", "BIGINT", false},
		{"idpicklist_product", "BIGINT", false}, {"name", "NVARCHAR(200)", false},
		{"amount", "BIGINT", false},
	}},
	{"Batches", []columnDef{
		{"idpicklist_batch", "BIGINT", true}, {"picklist_batchid", "NVARCHAR(100)", false},
		{"status", "NVARCHAR(50)", false}, {"type", "NVARCHAR(50)", false},
		{"total_products", "BIGINT", false}, {"total_picklists", "BIGINT", false},
		{"assigned_to_iduser", "BIGINT", false}, {"assigned_to_full_name", "NVARCHAR(200)", false},
		{"completed_by_iduser", "BIGINT", false}, {"completed_by_full_name", "NVARCHAR(200)", false},
		{"assigned_to", "NVARCHAR(MAX)", false}, {"completed_by", "NVARCHAR(MAX)", false},
		{"updated_at", "DATETIME2", false}, {"last_sync_date", "DATETIME2", false},
	}},
	{"BatchProducts", []columnDef{
		{"idpicklist_batch_product", "BIGINT", true}, {"idpicklist_batch", "BIGINT", false},
		{"idproduct", "BIGINT", false}, {"productcode", "NVARCHAR(100)", false},
		{"amount", "BIGINT", false}, {"barcodes", "NVARCHAR(MAX)", false},
	}},
	{"BatchPicklists", []columnDef{
		{"idpicklist_batch", "BIGINT", false}, {"idpicklist", "BIGINT", false},
		{"reference", "NVARCHAR(200)", false},
	}},
	{"Users", []columnDef{
		{"iduser", "BIGINT", true}, {"username", "NVARCHAR(200)", false},
		{"admin", "BIT", false}, {"active", "BIT", false},
		{"updated_at", "DATETIME2", false}, {"last_sync_date", "DATETIME2", false},
	}},
	{"UserRights", []columnDef{
		{"iduser", "BIGINT", false}, {"right", "NVARCHAR(200)", false},
	}},
	{"Suppliers", []columnDef{
		{"idsupplier", "BIGINT", true}, {"name", "NVARCHAR(200)", false},
		{"active", "BIT", false}, {"updated_at", "DATETIME2", false},
		{"last_sync_date", "DATETIME2", false},
	}},
	{"Warehouses", []columnDef{
		{"idwarehouse", "BIGINT", true}, {"name", "NVARCHAR(200)", false},
		{"active", "BIT", false}, {"updated_at", "DATETIME2", false},
		{"last_sync_date", "DATETIME2", false},
	}},
	{"Receipts", []columnDef{
		{"idreceipt", "BIGINT", true}, {"receiptid", "NVARCHAR(100)", false},
		{"remarks", "NVARCHAR(MAX)", false}, {"status", "NVARCHAR(50)", false},
		{"comment_count", "BIGINT", false}, {"updated_at", "DATETIME2", false},
		{"last_sync_date", "DATETIME2", false},
	}},
	{"ReceiptProducts", []columnDef{
		{"idreceipt_product", "BIGINT", true}, {"idreceipt", "BIGINT", false},
		{"idproduct", "BIGINT", false}, {"productcode", "NVARCHAR(100)", false},
		{"amount", "BIGINT", false}, {"amount_received", "BIGINT", false},
	}},
	{"SyncStatus", []columnDef{
		{"entity_name", "NVARCHAR(50)", false}, {"entity_type", "NVARCHAR(50)", true},
		{"last_sync_date", "DATETIME2", false}, {"last_sync_count", "BIGINT", false},
		{"total_count", "BIGINT", false},
	}},
	{"SyncProgress", []columnDef{
		{"sync_id", "NVARCHAR(100)", true}, {"entity_type", "NVARCHAR(50)", false},
		{"mode", "NVARCHAR(50)", false}, {"days_window", "BIGINT", false},
		{"current_offset", "BIGINT", false}, {"batch_number", "BIGINT", false},
		{"total_batches", "BIGINT", false}, {"items_processed", "BIGINT", false},
		{"total_items", "BIGINT", false}, {"status", "NVARCHAR(50)", false},
		{"started_at", "DATETIME2", false}, {"last_updated", "DATETIME2", false},
		{"completed_at", "DATETIME2", false},
	}},
}

// EnsureSchema creates any managed table that does not exist and adds any
// missing nullable column to tables that do (spec §6's schema-evolution
// contract, observed in the source's ensureProductColumnsExist-style
// routines). It never drops or widens an existing column.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, table := range managedTables {
		exists, err := db.tableExists(ctx, table.name)
		if err != nil {
			return fmt.Errorf("store: checking table %q: %w", table.name, err)
		}
		if !exists {
			if err := db.createTable(ctx, table); err != nil {
				return fmt.Errorf("store: creating table %q: %w", table.name, err)
			}
			db.logger.Info().Str("table", table.name).Msg("created missing table")
			continue
		}
		if err := db.addMissingColumns(ctx, table); err != nil {
			return fmt.Errorf("store: evolving table %q: %w", table.name, err)
		}
	}
	return nil
}

func (db *DB) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := db.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1`, table)
	return n > 0, err
}

func (db *DB) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		existing[name] = true
	}
	return existing, rows.Err()
}

func (db *DB) addMissingColumns(ctx context.Context, table tableDef) error {
	existing, err := db.existingColumns(ctx, table.name)
	if err != nil {
		return err
	}
	for _, col := range table.columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s %s NULL", table.name, col.name, col.sqlTyp)
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column %q: %w", col.name, err)
		}
		db.logger.Info().Str("table", table.name).Str("column", col.name).Msg("added missing column")
	}
	return nil
}

func (db *DB) createTable(ctx context.Context, table tableDef) error {
	stmt := buildCreateTable(table)
	_, err := db.conn.ExecContext(ctx, stmt)
	return err
}

func buildCreateTable(table tableDef) string {
	stmt := fmt.Sprintf("CREATE TABLE %s (", table.name)
	for i, col := range table.columns {
		if i > 0 {
			stmt += ", "
		}
		stmt += fmt.Sprintf("%s %s", col.name, col.sqlTyp)
		if col.pk {
			stmt += " NOT NULL PRIMARY KEY"
		} else {
			stmt += " NULL"
		}
	}
	stmt += ")"
	return stmt
}
