package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/types"
)

// idProbe extracts whichever primary-key field is present on a raw vendor
// record, without committing to one entity kind's Raw* type. Used for the
// in-memory dedup set (spec §4.F step 4).
type idProbe struct {
	IDProduct       *int64 `json:"idproduct"`
	IDPicklist      *int64 `json:"idpicklist"`
	IDPicklistBatch *int64 `json:"idpicklist_batch"`
	IDUser          *int64 `json:"iduser"`
	IDSupplier      *int64 `json:"idsupplier"`
	IDWarehouse     *int64 `json:"idwarehouse"`
	IDReceipt       *int64 `json:"idreceipt"`
}

// dedupKey returns the record's primary key and true, or false if none of
// the known id fields is present.
func dedupKey(raw json.RawMessage) (int64, bool) {
	var probe idProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, false
	}
	for _, p := range []*int64{
		probe.IDProduct, probe.IDPicklist, probe.IDPicklistBatch,
		probe.IDUser, probe.IDSupplier, probe.IDWarehouse, probe.IDReceipt,
	} {
		if p != nil {
			return *p, true
		}
	}
	return 0, false
}

var updatedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// updatedAtOf extracts and parses a record's updated_at field, used both by
// the cutoff optimization (spec §4.B) and the per-page descending sort
// (spec §4.F step 5).
func updatedAtOf(raw json.RawMessage) (time.Time, bool) {
	var probe struct {
		UpdatedAt *string `json:"updated_at"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.UpdatedAt == nil {
		return time.Time{}, false
	}
	for _, layout := range updatedAtLayouts {
		if t, err := time.Parse(layout, *probe.UpdatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// applySpecialization implements spec §4.F's per-entity detail-fetch rule:
// picklists and users fetch their detail endpoint only when the summary
// payload omits the nested collection that carries their child rows;
// batches always fetch detail, since the batch summary never includes
// products/picklists.
func (e *Engine) applySpecialization(ctx context.Context, entityKind types.EntityKind, raw json.RawMessage) (json.RawMessage, error) {
	switch entityKind {
	case types.EntityPicklists:
		var r types.RawPicklist
		if err := json.Unmarshal(raw, &r); err != nil || r.IDPicklist == nil || r.Products != nil {
			return raw, nil
		}
		return e.fetchDetail(ctx, entityKind, fmt.Sprintf("/picklists/%d", *r.IDPicklist))

	case types.EntityUsers:
		var r types.RawUser
		if err := json.Unmarshal(raw, &r); err != nil || r.IDUser == nil || r.Rights != nil {
			return raw, nil
		}
		return e.fetchDetail(ctx, entityKind, fmt.Sprintf("/users/%d", *r.IDUser))

	case types.EntityBatches:
		var r types.RawBatch
		if err := json.Unmarshal(raw, &r); err != nil || r.IDPicklistBatch == nil {
			return raw, nil
		}
		return e.fetchDetail(ctx, entityKind, fmt.Sprintf("/picklists/batches/%d", *r.IDPicklistBatch))

	default:
		return raw, nil
	}
}

func (e *Engine) fetchDetail(ctx context.Context, entityKind types.EntityKind, endpoint string) (json.RawMessage, error) {
	detail, err := e.client.GetOne(ctx, string(entityKind), endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("syncengine: fetching detail %s: %w", endpoint, err)
	}
	return detail, nil
}
