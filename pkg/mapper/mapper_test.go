package mapper

import (
	"encoding/json"
	"testing"

	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64       { return &v }
func f64(v float64) *float64   { return &v }
func str(v string) *string     { return &v }
func bl(v bool) *bool          { return &v }

func TestMapProductAbsentNumericIsNullExceptWeight(t *testing.T) {
	r := types.RawProduct{IDProduct: i64(1)}
	mapped, err := MapProduct(r)
	require.NoError(t, err)

	assert.Nil(t, mapped.Parent["price"])
	assert.Nil(t, mapped.Parent["stock"])
	assert.Equal(t, float64(0), mapped.Parent["weight"]) // default-0
}

func TestMapProductMissingPrimaryKeyIsMappingError(t *testing.T) {
	_, err := MapProduct(types.RawProduct{})
	require.Error(t, err)
}

func TestMapProductBlankStringMapsToNull(t *testing.T) {
	r := types.RawProduct{IDProduct: i64(1), Name: str("")}
	mapped, err := MapProduct(r)
	require.NoError(t, err)
	assert.Nil(t, mapped.Parent["name"])
}

func TestMapProductBooleanMapsToZeroOrOne(t *testing.T) {
	r := types.RawProduct{IDProduct: i64(1), Active: bl(true)}
	mapped, err := MapProduct(r)
	require.NoError(t, err)
	assert.Equal(t, 1, mapped.Parent["active"])

	r2 := types.RawProduct{IDProduct: i64(1), Active: bl(false)}
	mapped2, err := MapProduct(r2)
	require.NoError(t, err)
	assert.Equal(t, 0, mapped2.Parent["active"])
}

func TestMapProductCarriesArrayFieldsAsJSONText(t *testing.T) {
	r := types.RawProduct{IDProduct: i64(1), Tags: json.RawMessage(`["a","b"]`)}
	mapped, err := MapProduct(r)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, mapped.Parent["tags"])
}

func TestMapBatchSynthesizesBatchIDWhenAbsent(t *testing.T) {
	r := types.RawBatch{IDPicklistBatch: i64(42)}
	mapped, err := MapBatch(r)
	require.NoError(t, err)
	assert.Equal(t, "BATCH-42", mapped.Parent["picklist_batchid"])
}

func TestMapBatchKeepsExplicitBatchID(t *testing.T) {
	r := types.RawBatch{IDPicklistBatch: i64(42), PicklistBatchid: str("CUSTOM-1")}
	mapped, err := MapBatch(r)
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM-1", mapped.Parent["picklist_batchid"])
}

func TestMapBatchFlattensAndKeepsJSONForUserRefs(t *testing.T) {
	r := types.RawBatch{
		IDPicklistBatch: i64(1),
		AssignedTo:      &types.RawBatchUserRef{IDUser: i64(7), FullName: str("Jane Doe")},
	}
	mapped, err := MapBatch(r)
	require.NoError(t, err)
	assert.Equal(t, int64(7), mapped.Parent["assigned_to_iduser"])
	assert.Equal(t, "Jane Doe", mapped.Parent["assigned_to_full_name"])
	assert.Contains(t, mapped.Parent["assigned_to"], "Jane Doe")
}

func TestMapBatchProducesChildRowsKeyedByParent(t *testing.T) {
	r := types.RawBatch{
		IDPicklistBatch: i64(1),
		Products: []types.RawBatchProduct{
			{IDBatchProduct: i64(10), IDProduct: i64(100)},
			{IDBatchProduct: i64(11), IDProduct: i64(101)},
		},
		Picklists: []types.RawBatchPicklist{
			{IDPicklist: i64(500)},
		},
	}
	mapped, err := MapBatch(r)
	require.NoError(t, err)
	require.Len(t, mapped.Children["BatchProducts"], 2)
	require.Len(t, mapped.Children["BatchPicklists"], 1)
	for _, row := range mapped.Children["BatchProducts"] {
		assert.Equal(t, int64(1), row["idpicklist_batch"])
	}
}

func TestMapPicklistNestsProductLocations(t *testing.T) {
	r := types.RawPicklist{
		IDPicklist: i64(9),
		Products: []types.RawPicklistProduct{
			{
				IDPicklistProduct: i64(55),
				Locations: []types.RawPicklistProductLocation{
					{IDLocation: i64(1), Amount: i64(3)},
				},
			},
		},
	}
	mapped, err := MapPicklist(r)
	require.NoError(t, err)
	require.Len(t, mapped.Children["PicklistProducts"], 1)
	require.Len(t, mapped.Children["PicklistProductLocations"], 1)
	loc := mapped.Children["PicklistProductLocations"][0]
	assert.Equal(t, int64(9), loc["idpicklist"])
	assert.Equal(t, int64(55), loc["idpicklist_product"])
}

func TestMapDispatchesOnEntityKind(t *testing.T) {
	raw := json.RawMessage(`{"idsupplier": 3, "name": "Acme"}`)
	mapped, err := Map(types.EntitySuppliers, raw)
	require.NoError(t, err)
	assert.Equal(t, "Suppliers", mapped.ParentTable)
	assert.Equal(t, int64(3), mapped.Parent["idsupplier"])
}

func TestMapRejectsUnknownEntityKind(t *testing.T) {
	_, err := Map(types.EntityKind("bogus"), json.RawMessage(`{}`))
	require.Error(t, err)
}

// TestMapRoundTripIsStable covers the "re-mapping produces identical rows"
// boundary law (spec §8): mapping a record, re-serializing the parent's
// JSON-text fields, and decoding again yields the same values.
func TestMapRoundTripIsStable(t *testing.T) {
	r := types.RawProduct{
		IDProduct: i64(1),
		Name:      str("Widget"),
		Tags:      json.RawMessage(`["red","blue"]`),
	}
	first, err := MapProduct(r)
	require.NoError(t, err)

	var roundTripped []string
	require.NoError(t, json.Unmarshal([]byte(first.Parent["tags"].(string)), &roundTripped))

	reEncoded, err := json.Marshal(roundTripped)
	require.NoError(t, err)
	r2 := r
	r2.Tags = reEncoded

	second, err := MapProduct(r2)
	require.NoError(t, err)
	assert.JSONEq(t, first.Parent["tags"].(string), second.Parent["tags"].(string))
}
