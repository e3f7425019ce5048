package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/config"
	"github.com/Rene1985-stack/picqer-sync/pkg/mapper"
	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/Rene1985-stack/picqer-sync/pkg/vendorapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves pre-canned pages and details without touching the network.
type fakeFetcher struct {
	pages      [][]json.RawMessage
	details    map[string]json.RawMessage
	fetchCalls int
	detailLog  []string
}

func (f *fakeFetcher) FetchPages(ctx context.Context, opts vendorapi.FetchOptions, cb vendorapi.PageCallback) error {
	offset := opts.StartAt
	limit := opts.Limit
	if limit <= 0 {
		limit = vendorapi.DefaultPageLimit
	}
	pageIndex := offset / limit
	for pageIndex < len(f.pages) {
		f.fetchCalls++
		page := f.pages[pageIndex]
		if !opts.Cutoff.IsZero() && opts.UpdatedAtOf != nil {
			var kept []json.RawMessage
			stop := false
			for _, raw := range page {
				at, ok := opts.UpdatedAtOf(raw)
				if ok && at.Before(opts.Cutoff) {
					stop = true
					continue
				}
				kept = append(kept, raw)
			}
			page = kept
			if stop {
				return cb(ctx, page, offset)
			}
		}
		if err := cb(ctx, page, offset); err != nil {
			return err
		}
		pageIndex++
		offset += limit
	}
	return nil
}

func (f *fakeFetcher) GetOne(ctx context.Context, entityKind, endpoint string, params map[string]string) (json.RawMessage, error) {
	f.detailLog = append(f.detailLog, endpoint)
	if d, ok := f.details[endpoint]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("fakeFetcher: no detail stubbed for %s", endpoint)
}

// fakeStore implements ProgressStore in memory.
type fakeStore struct {
	progress     *types.SyncProgress
	lastSync     time.Time
	updates      []types.ProgressPatch
	completeArgs []bool
	setLastSync  struct {
		at    time.Time
		count int
	}
}

func (f *fakeStore) GetOrCreate(ctx context.Context, entityKind types.EntityKind, mode types.SyncMode, daysWindowN int) (*types.SyncProgress, error) {
	if f.progress == nil {
		f.progress = &types.SyncProgress{
			SyncID:      fmt.Sprintf("%s-test", entityKind),
			EntityKind:  entityKind,
			Mode:        mode,
			DaysWindowN: daysWindowN,
			Status:      types.StatusInProgress,
			StartedAt:   time.Now(),
		}
	}
	return f.progress, nil
}

func (f *fakeStore) Update(ctx context.Context, syncID string, patch types.ProgressPatch) error {
	f.updates = append(f.updates, patch)
	if patch.CurrentOffset != nil {
		f.progress.CurrentOffset = *patch.CurrentOffset
	}
	if patch.BatchNumber != nil {
		f.progress.BatchNumber = *patch.BatchNumber
	}
	if patch.ItemsProcessed != nil {
		f.progress.ItemsProcessed = *patch.ItemsProcessed
	}
	return nil
}

func (f *fakeStore) Complete(ctx context.Context, syncID string, success bool) error {
	f.completeArgs = append(f.completeArgs, success)
	return nil
}

func (f *fakeStore) GetLastSyncDate(ctx context.Context, entityKind types.EntityKind) (time.Time, error) {
	return f.lastSync, nil
}

func (f *fakeStore) SetLastSync(ctx context.Context, entityKind types.EntityKind, at time.Time, count int) error {
	f.setLastSync.at = at
	f.setLastSync.count = count
	return nil
}

// fakeWriter records what chunks it was asked to persist.
type fakeWriter struct {
	chunks [][]mapper.Mapped
	err    error
}

func (f *fakeWriter) Write(ctx context.Context, entityKind string, chunk []mapper.Mapped) error {
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func rawProduct(id int64, updatedAt string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"idproduct": id, "updated_at": updatedAt})
	return b
}

func rawBatchSummary(id int64, updatedAt string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"idpicklist_batch": id, "updated_at": updatedAt})
	return b
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InterParentPauseMs = 0
	return cfg
}

func TestRunIncrementalUsesRollingWindowBeforeLastSync(t *testing.T) {
	store := &fakeStore{lastSync: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	var gotParams map[string]string
	fetcher := &recordingFetcher{onFetch: func(opts vendorapi.FetchOptions) { gotParams = opts.Params }}
	writer := &fakeWriter{}

	e := New(fetcher, store, writer, nil, testConfig())
	_, err := e.Run(context.Background(), types.EntityProducts, types.ModeIncremental, 0)
	require.NoError(t, err)

	want := vendorapi.FormatSince(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).Add(-30 * 24 * time.Hour))
	assert.Equal(t, want, gotParams["updated_since"])
}

type recordingFetcher struct {
	onFetch func(opts vendorapi.FetchOptions)
}

func (r *recordingFetcher) FetchPages(ctx context.Context, opts vendorapi.FetchOptions, cb vendorapi.PageCallback) error {
	r.onFetch(opts)
	return nil
}

func (r *recordingFetcher) GetOne(ctx context.Context, entityKind, endpoint string, params map[string]string) (json.RawMessage, error) {
	return nil, nil
}

func TestRunWritesMappedChunkAndChecksPointsOffset(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]json.RawMessage{
		{rawProduct(1, "2026-07-01 10:00:00"), rawProduct(2, "2026-07-02 10:00:00")},
	}}
	store := &fakeStore{}
	writer := &fakeWriter{}
	cfg := testConfig()
	cfg.PageLimit = 2

	e := New(fetcher, store, writer, nil, cfg)
	outcome, err := e.Run(context.Background(), types.EntityProducts, types.ModeFull, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.ItemsProcessed)

	require.Len(t, writer.chunks, 1)
	assert.Len(t, writer.chunks[0], 2)
	assert.Equal(t, []bool{true}, store.completeArgs)
	assert.Equal(t, 2, store.setLastSync.count)
	assert.Equal(t, 2, store.progress.CurrentOffset) // page at offset 0 + page limit 2
}

func TestRunResumesFromStoredOffset(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]json.RawMessage{
		{rawProduct(1, "2026-07-01 10:00:00")},
		{rawProduct(2, "2026-07-02 10:00:00")},
	}}
	store := &fakeStore{progress: &types.SyncProgress{
		SyncID: "products-resume", EntityKind: types.EntityProducts,
		Mode: types.ModeIncremental, CurrentOffset: 1, Status: types.StatusInProgress,
	}}
	writer := &fakeWriter{}
	cfg := testConfig()
	cfg.PageLimit = 1

	e := New(fetcher, store, writer, nil, cfg)
	outcome, err := e.Resume(context.Background(), store.progress)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	// Only the second page (offset 1) should have been fetched.
	require.Len(t, writer.chunks, 1)
	assert.Equal(t, 1, fetcher.fetchCalls)
}

func TestRunDaysWindowStopsBatchesAtCutoff(t *testing.T) {
	now := time.Now().UTC()
	recent := rawBatchSummary(1, now.AddDate(0, 0, -1).Format("2006-01-02 15:04:05"))
	old := rawBatchSummary(2, now.AddDate(0, 0, -30).Format("2006-01-02 15:04:05"))
	fetcher := &fakeFetcher{
		pages: [][]json.RawMessage{{recent, old}},
		details: map[string]json.RawMessage{
			"/picklists/batches/1": recent,
		},
	}
	store := &fakeStore{}
	writer := &fakeWriter{}

	e := New(fetcher, store, writer, nil, testConfig())
	_, err := e.Run(context.Background(), types.EntityBatches, types.ModeDaysWindow, 3)
	require.NoError(t, err)

	require.Len(t, writer.chunks, 1)
	assert.Len(t, writer.chunks[0], 1, "the record older than the cutoff should be dropped before any detail fetch")
}

func TestRunSkipsRecordsWithMappingErrorsButContinues(t *testing.T) {
	bad, _ := json.Marshal(map[string]any{"updated_at": "2026-07-01 10:00:00"}) // missing idproduct
	fetcher := &fakeFetcher{pages: [][]json.RawMessage{
		{bad, rawProduct(2, "2026-07-02 10:00:00")},
	}}
	store := &fakeStore{}
	writer := &fakeWriter{}

	e := New(fetcher, store, writer, nil, testConfig())
	outcome, err := e.Run(context.Background(), types.EntityProducts, types.ModeFull, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.ItemsProcessed)
}

func TestRunFetchesBatchDetailForEveryParent(t *testing.T) {
	summary, _ := json.Marshal(map[string]any{"idpicklist_batch": 5, "updated_at": "2026-07-01 10:00:00"})
	detail, _ := json.Marshal(map[string]any{
		"idpicklist_batch": 5, "updated_at": "2026-07-01 10:00:00",
		"products":  []map[string]any{{"idpicklist_batch_product": 1, "idproduct": 9}},
		"picklists": []map[string]any{{"idpicklist": 7}},
	})
	fetcher := &fakeFetcher{
		pages:   [][]json.RawMessage{{summary}},
		details: map[string]json.RawMessage{"/picklists/batches/5": detail},
	}
	store := &fakeStore{}
	writer := &fakeWriter{}

	e := New(fetcher, store, writer, nil, testConfig())
	outcome, err := e.Run(context.Background(), types.EntityBatches, types.ModeFull, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	require.Len(t, writer.chunks, 1)
	require.Len(t, writer.chunks[0], 1)
	assert.Contains(t, writer.chunks[0][0].Children, "BatchProducts")
	assert.Equal(t, []string{"/picklists/batches/5"}, fetcher.detailLog)
}

func TestRunDedupesRepeatedRecordsAcrossPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]json.RawMessage{
		{rawProduct(1, "2026-07-01 10:00:00")},
		{rawProduct(1, "2026-07-01 10:00:00")},
	}}
	store := &fakeStore{}
	writer := &fakeWriter{}
	cfg := testConfig()
	cfg.PageLimit = 1

	e := New(fetcher, store, writer, nil, cfg)
	outcome, err := e.Run(context.Background(), types.EntityProducts, types.ModeFull, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ItemsProcessed)
}

// TestResumeCoercesEmptyModeToIncremental guards the retry(sync_id) path
// for a progress row whose Mode was never set — the shape a pre-migration
// SyncProgress row would have before the store persisted it. Resume must
// not fall into resolveWindow's fatal default branch.
func TestResumeCoercesEmptyModeToIncremental(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]json.RawMessage{
		{rawProduct(1, "2026-07-01 10:00:00")},
	}}
	store := &fakeStore{lastSync: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	writer := &fakeWriter{}

	e := New(fetcher, store, writer, nil, testConfig())
	progress := &types.SyncProgress{
		SyncID: "products-retry", EntityKind: types.EntityProducts,
		Status: types.StatusInProgress,
	}
	outcome, err := e.Resume(context.Background(), progress)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestRunMarksRecoverableOnRecoverableWriteFailureWithoutFailingOutright(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]json.RawMessage{{rawProduct(1, "2026-07-01 10:00:00")}}}
	store := &fakeStore{}
	writer := &fakeWriter{err: syncerr.DatabaseRecoverable(fmt.Errorf("connection reset"))}

	e := New(fetcher, store, writer, nil, testConfig())
	outcome, err := e.Run(context.Background(), types.EntityProducts, types.ModeFull, 0)
	require.Error(t, err)
	assert.False(t, outcome.Success)
	require.NotEmpty(t, store.updates)
	last := store.updates[len(store.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, types.StatusErrorRecoverable, *last.Status)
}
