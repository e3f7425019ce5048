// Package types holds the domain types shared across the sync engine:
// entity kinds, sync modes, and progress/status records. Vendor record
// shapes live in records.go; error classification lives in pkg/syncerr.
package types

import "time"

// EntityKind is one of the seven replicated record families. The set is
// closed; callers should validate against AllEntityKinds rather than
// accepting arbitrary strings.
type EntityKind string

const (
	EntityProducts   EntityKind = "products"
	EntityPicklists  EntityKind = "picklists"
	EntityBatches    EntityKind = "batches"
	EntityUsers      EntityKind = "users"
	EntitySuppliers  EntityKind = "suppliers"
	EntityWarehouses EntityKind = "warehouses"
	EntityReceipts   EntityKind = "receipts"
)

// AllEntityKinds lists every replicated entity kind, in the order
// sync_all dispatches them.
var AllEntityKinds = []EntityKind{
	EntityProducts,
	EntityPicklists,
	EntityBatches,
	EntityUsers,
	EntitySuppliers,
	EntityWarehouses,
	EntityReceipts,
}

// Valid reports whether k is one of the closed set of entity kinds.
func (k EntityKind) Valid() bool {
	for _, candidate := range AllEntityKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// SyncMode selects how a sync determines its starting point.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
	ModeDaysWindow  SyncMode = "days_window"
	ModeRetry       SyncMode = "retry"
)

// ProgressStatus is the lifecycle state of one sync attempt.
type ProgressStatus string

const (
	StatusInProgress       ProgressStatus = "in_progress"
	StatusCompleted        ProgressStatus = "completed"
	StatusFailed           ProgressStatus = "failed"
	StatusErrorRecoverable ProgressStatus = "error_recoverable"
	StatusAbandoned        ProgressStatus = "abandoned"
)

// SyncProgress is one row per sync attempt (spec: "Sync-progress record").
type SyncProgress struct {
	SyncID         string
	EntityKind     EntityKind
	Mode           SyncMode
	DaysWindowN    int // only meaningful when Mode == ModeDaysWindow
	CurrentOffset  int
	BatchNumber    int
	ItemsProcessed int
	TotalItems     *int
	TotalBatches   *int
	Status         ProgressStatus
	StartedAt      time.Time
	LastUpdated    time.Time
	CompletedAt    *time.Time
}

// ProgressPatch is a partial, atomic update applied to a SyncProgress row.
// Nil fields are left unchanged.
type ProgressPatch struct {
	CurrentOffset  *int
	BatchNumber    *int
	ItemsProcessed *int
	TotalItems     *int
	TotalBatches   *int
	Status         *ProgressStatus
}

// SyncStatus is the one-row-per-entity-kind durable checkpoint (spec:
// "Sync-status record").
type SyncStatus struct {
	EntityKind    EntityKind
	LastSyncDate  time.Time
	TotalCount    int
	LastSyncCount int
}

// SyncOutcome is the user-visible result of one completed sync run.
type SyncOutcome struct {
	Success        bool
	EntityKind     EntityKind
	SyncID         string
	ItemsProcessed int
	Error          string
}

// SyncState is the Sync Engine's per-attempt state machine position.
type SyncState string

const (
	SyncStateStarting   SyncState = "starting"
	SyncStateFetching   SyncState = "fetching"
	SyncStateWriting    SyncState = "writing"
	SyncStateCompleting SyncState = "completing"
	SyncStateDone       SyncState = "done"
	SyncStateFailed     SyncState = "failed"
)
