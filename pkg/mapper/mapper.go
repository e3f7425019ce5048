// Package mapper implements the Entity Mapper (spec §4.D): one pure,
// per-record function per entity kind, turning a decoded vendor record
// into a parent row plus zero or more child-table row sets. Mapping never
// touches the network or the database.
package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/syncerr"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
)

// Row is one database row, keyed by column name. Values are either a Go
// scalar (int64, float64, string, time.Time, or int 0/1 for booleans) or
// nil for SQL NULL.
type Row map[string]any

// Mapped is the result of mapping one record: its parent table and row,
// plus any child rows keyed by child table name. ParentKey is the column
// name of the parent's primary key, used by the Upsert Writer to decide
// UPDATE vs INSERT and to scope the replace-all DELETE on child tables.
type Mapped struct {
	ParentTable string
	ParentKey   string
	Parent      Row
	Children    map[string][]Row
}

// DefaultZeroFields is the caller-visible "default-0" set from spec §4.D
// rule 1: numeric fields in this set map to 0 when absent, everywhere they
// occur, rather than NULL like every other absent numeric field.
var DefaultZeroFields = map[string]bool{
	"total_products":  true,
	"total_picklists": true,
	"amount":          true,
	"amount_picked":   true,
	"comment_count":   true,
	"weight":          true,
}

// Map dispatches to the per-kind mapping function based on entityKind,
// unmarshaling raw into that kind's Raw* record type first.
func Map(entityKind types.EntityKind, raw json.RawMessage) (Mapped, error) {
	switch entityKind {
	case types.EntityProducts:
		var r types.RawProduct
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapProduct(r)
	case types.EntityPicklists:
		var r types.RawPicklist
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapPicklist(r)
	case types.EntityBatches:
		var r types.RawBatch
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapBatch(r)
	case types.EntityUsers:
		var r types.RawUser
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapUser(r)
	case types.EntitySuppliers:
		var r types.RawSupplier
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapSupplier(r)
	case types.EntityWarehouses:
		var r types.RawWarehouse
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapWarehouse(r)
	case types.EntityReceipts:
		var r types.RawReceipt
		if err := json.Unmarshal(raw, &r); err != nil {
			return Mapped{}, syncerr.Decode(err)
		}
		return MapReceipt(r)
	default:
		return Mapped{}, syncerr.Mapping("mapper: unknown entity kind %q", entityKind)
	}
}

// MapProduct implements spec §4.D for /products. Pricelists, Tags,
// Productfields and Images have no dedicated child table and are stored
// as opaque JSON text (rule 3).
func MapProduct(r types.RawProduct) (Mapped, error) {
	if r.IDProduct == nil {
		return Mapped{}, syncerr.Mapping("product: missing idproduct")
	}
	parent := Row{
		"idproduct":     *r.IDProduct,
		"productcode":   ns(r.ProductCode),
		"name":          ns(r.Name),
		"price":         nf(r.Price),
		"stock":         ni(r.Stock),
		"active":        nb(r.Active),
		"weight":        zf(r.Weight), // default-0
		"updated_at":    ndt(r.UpdatedAt),
		"pricelists":    jsonText(r.Pricelists),
		"tags":          jsonText(r.Tags),
		"productfields": jsonText(r.Productfields),
		"images":        jsonText(r.Images),
	}
	return Mapped{ParentTable: "Products", ParentKey: "idproduct", Parent: parent}, nil
}

// MapPicklist implements spec §4.D for /picklists. Products and their
// nested Locations are dedicated child tables, both keyed by the
// top-level idpicklist so the Upsert Writer can replace-all them together.
func MapPicklist(r types.RawPicklist) (Mapped, error) {
	if r.IDPicklist == nil {
		return Mapped{}, syncerr.Mapping("picklist: missing idpicklist")
	}
	parent := Row{
		"idpicklist":    *r.IDPicklist,
		"picklistid":    ns(r.PicklistID),
		"reference":     ns(r.Reference),
		"status":        ns(r.Status),
		"amount":        zf(r.Amount),       // default-0
		"amount_picked": zf(r.AmountPicked), // default-0
		"updated_at":    ndt(r.UpdatedAt),
	}

	var products, locations []Row
	for _, p := range r.Products {
		if p.IDPicklistProduct == nil {
			continue
		}
		products = append(products, Row{
			"idpicklist":          *r.IDPicklist,
			"idpicklist_product":  *p.IDPicklistProduct,
			"idproduct":           ni(p.IDProduct),
			"productcode":         ns(p.ProductCode),
			"amount":              zi(p.Amount),       // default-0
			"amount_picked":       zi(p.AmountPicked), // default-0
		})
		for _, loc := range p.Locations {
			locations = append(locations, Row{
				"idpicklist":         *r.IDPicklist,
				"idpicklist_product": *p.IDPicklistProduct,
				"idlocation":         ni(loc.IDLocation),
				"name":               ns(loc.Name),
				"amount":             zi(loc.Amount), // default-0
			})
		}
	}

	children := map[string][]Row{}
	if products != nil {
		children["PicklistProducts"] = products
	}
	if locations != nil {
		children["PicklistProductLocations"] = locations
	}
	return Mapped{ParentTable: "Picklists", ParentKey: "idpicklist", Parent: parent, Children: children}, nil
}

// MapBatch implements spec §4.D for /picklists/batches. PicklistBatchid is
// synthesized as "BATCH-<idpicklist_batch>" when absent (rule 2).
// AssignedTo/CompletedBy are stored both flattened into scalar columns and
// as authoritative JSON (rule 3).
func MapBatch(r types.RawBatch) (Mapped, error) {
	if r.IDPicklistBatch == nil {
		return Mapped{}, syncerr.Mapping("batch: missing idpicklist_batch")
	}

	batchID := ns(r.PicklistBatchid)
	if batchID == nil {
		batchID = fmt.Sprintf("BATCH-%d", *r.IDPicklistBatch)
	}

	parent := Row{
		"idpicklist_batch":       *r.IDPicklistBatch,
		"picklist_batchid":       batchID,
		"status":                 ns(r.Status),
		"type":                   ns(r.Type),
		"total_products":         zi(r.TotalProducts),  // default-0
		"total_picklists":        zi(r.TotalPicklists), // default-0
		"assigned_to_iduser":     userRefID(r.AssignedTo),
		"assigned_to_full_name":  userRefName(r.AssignedTo),
		"completed_by_iduser":    userRefID(r.CompletedBy),
		"completed_by_full_name": userRefName(r.CompletedBy),
		"assigned_to":            jsonEncodeUserRef(r.AssignedTo),
		"completed_by":           jsonEncodeUserRef(r.CompletedBy),
		"updated_at":             ndt(r.UpdatedAt),
	}

	var products, picklists []Row
	for _, p := range r.Products {
		if p.IDBatchProduct == nil {
			continue
		}
		products = append(products, Row{
			"idpicklist_batch":          *r.IDPicklistBatch,
			"idpicklist_batch_product":  *p.IDBatchProduct,
			"idproduct":                 ni(p.IDProduct),
			"productcode":               ns(p.ProductCode),
			"amount":                    zi(p.Amount), // default-0
			"barcodes":                  jsonText(p.Barcodes),
		})
	}
	for _, bp := range r.Picklists {
		if bp.IDPicklist == nil {
			continue
		}
		picklists = append(picklists, Row{
			"idpicklist_batch": *r.IDPicklistBatch,
			"idpicklist":       *bp.IDPicklist,
			"reference":        ns(bp.Reference),
		})
	}

	children := map[string][]Row{}
	if products != nil {
		children["BatchProducts"] = products
	}
	if picklists != nil {
		children["BatchPicklists"] = picklists
	}
	return Mapped{ParentTable: "Batches", ParentKey: "idpicklist_batch", Parent: parent, Children: children}, nil
}

// MapUser implements spec §4.D for /users.
func MapUser(r types.RawUser) (Mapped, error) {
	if r.IDUser == nil {
		return Mapped{}, syncerr.Mapping("user: missing iduser")
	}
	parent := Row{
		"iduser":     *r.IDUser,
		"username":   ns(r.Username),
		"admin":      nb(r.Admin),
		"active":     nb(r.Active),
		"updated_at": ndt(r.UpdatedAt),
	}

	var rights []Row
	for _, right := range r.Rights {
		if right.Right == nil {
			continue
		}
		rights = append(rights, Row{
			"iduser": *r.IDUser,
			"right":  *right.Right,
		})
	}

	children := map[string][]Row{}
	if rights != nil {
		children["UserRights"] = rights
	}
	return Mapped{ParentTable: "Users", ParentKey: "iduser", Parent: parent, Children: children}, nil
}

// MapSupplier implements spec §4.D for /suppliers.
func MapSupplier(r types.RawSupplier) (Mapped, error) {
	if r.IDSupplier == nil {
		return Mapped{}, syncerr.Mapping("supplier: missing idsupplier")
	}
	parent := Row{
		"idsupplier": *r.IDSupplier,
		"name":       ns(r.Name),
		"active":     nb(r.Active),
		"updated_at": ndt(r.UpdatedAt),
	}
	return Mapped{ParentTable: "Suppliers", ParentKey: "idsupplier", Parent: parent}, nil
}

// MapWarehouse implements spec §4.D for /warehouses.
func MapWarehouse(r types.RawWarehouse) (Mapped, error) {
	if r.IDWarehouse == nil {
		return Mapped{}, syncerr.Mapping("warehouse: missing idwarehouse")
	}
	parent := Row{
		"idwarehouse": *r.IDWarehouse,
		"name":        ns(r.Name),
		"active":      nb(r.Active),
		"updated_at":  ndt(r.UpdatedAt),
	}
	return Mapped{ParentTable: "Warehouses", ParentKey: "idwarehouse", Parent: parent}, nil
}

// MapReceipt implements spec §4.D for /receipts.
func MapReceipt(r types.RawReceipt) (Mapped, error) {
	if r.IDReceipt == nil {
		return Mapped{}, syncerr.Mapping("receipt: missing idreceipt")
	}
	parent := Row{
		"idreceipt":     *r.IDReceipt,
		"receiptid":     ns(r.Receiptid),
		"remarks":       ns(r.Remarks),
		"status":        ns(r.Status),
		"comment_count": zi(r.CommentCount), // default-0
		"updated_at":    ndt(r.UpdatedAt),
	}

	var products []Row
	for _, p := range r.Products {
		if p.IDReceiptProduct == nil {
			continue
		}
		products = append(products, Row{
			"idreceipt":          *r.IDReceipt,
			"idreceipt_product":  *p.IDReceiptProduct,
			"idproduct":          ni(p.IDProduct),
			"productcode":        ns(p.ProductCode),
			"amount":             zi(p.Amount), // default-0
			"amount_received":    ni(p.AmountReceived),
		})
	}

	children := map[string][]Row{}
	if products != nil {
		children["ReceiptProducts"] = products
	}
	return Mapped{ParentTable: "Receipts", ParentKey: "idreceipt", Parent: parent, Children: children}, nil
}

// --- value-mapping helpers (spec §4.D rules 1, 2, 4, 5) ---

func ni(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func zi(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func nf(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func zf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// ns returns nil for an absent or blank string, otherwise the string
// value (spec rule 2).
func ns(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

// nb maps a boolean field to 0/1, or nil if absent (spec rule 4).
func nb(p *bool) any {
	if p == nil {
		return nil
	}
	if *p {
		return 1
	}
	return 0
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ndt maps an ISO-8601 string to a SQL datetime, or nil if absent or
// unparseable (spec rule 5).
func ndt(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, *p); err == nil {
			return t
		}
	}
	return nil
}

// jsonText carries an array/nested-object field with no dedicated child
// table verbatim into a text column (spec rule 3).
func jsonText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// jsonEncodeUserRef re-serializes a batch user reference back to its JSON
// text form, used for the authoritative assigned_to/completed_by columns
// (spec rule 3).
func jsonEncodeUserRef(ref *types.RawBatchUserRef) any {
	if ref == nil {
		return nil
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return nil
	}
	return string(b)
}

func userRefID(ref *types.RawBatchUserRef) any {
	if ref == nil {
		return nil
	}
	return ni(ref.IDUser)
}

func userRefName(ref *types.RawBatchUserRef) any {
	if ref == nil {
		return nil
	}
	return ns(ref.FullName)
}
