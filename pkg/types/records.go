package types

import "encoding/json"

// Raw* types are the decoded shape of one vendor API record, before
// mapping. Pointer fields distinguish "absent from the payload" (nil) from
// an explicit zero value, which the Entity Mapper needs to apply the
// NULL-vs-default-0 rule (spec §4.D rule 1). Array and nested-object
// fields that have no dedicated child table are carried as json.RawMessage
// so the Mapper can store them verbatim in a text column without
// interpreting their shape.

// RawProduct is one /products record.
type RawProduct struct {
	IDProduct     *int64          `json:"idproduct"`
	ProductCode   *string         `json:"productcode"`
	Name          *string         `json:"name"`
	Price         *float64        `json:"price"`
	Stock         *int64          `json:"stock"`
	Active        *bool           `json:"active"`
	Weight        *float64        `json:"weight"`
	UpdatedAt     *string         `json:"updated_at"`
	Pricelists    json.RawMessage `json:"pricelists"`
	Tags          json.RawMessage `json:"tags"`
	Productfields json.RawMessage `json:"productfields"`
	Images        json.RawMessage `json:"images"`
}

// RawPicklist is one /picklists (or /picklists/{id}) record. Products is
// nil when the summary payload omits it, which is the Sync Engine's signal
// that a detail fetch is needed (spec §4.F).
type RawPicklist struct {
	IDPicklist   *int64               `json:"idpicklist"`
	PicklistID   *string              `json:"picklistid"`
	Reference    *string              `json:"reference"`
	Status       *string              `json:"status"`
	Amount       *float64             `json:"amount"`
	AmountPicked *float64             `json:"amount_picked"`
	UpdatedAt    *string              `json:"updated_at"`
	Products     []RawPicklistProduct `json:"products"`
}

type RawPicklistProduct struct {
	IDPicklistProduct *int64                       `json:"idpicklist_product"`
	IDProduct         *int64                       `json:"idproduct"`
	ProductCode       *string                      `json:"productcode"`
	Amount            *int64                       `json:"amount"`
	AmountPicked      *int64                       `json:"amount_picked"`
	Locations         []RawPicklistProductLocation `json:"locations"`
}

type RawPicklistProductLocation struct {
	IDLocation *int64  `json:"idlocation"`
	Name       *string `json:"name"`
	Amount     *int64  `json:"amount"`
}

// RawBatch is one /picklists/batches (or .../{id}) record. Products and
// Picklists are present only in the detail response (spec §4.F: "a
// per-parent detail fetch is always performed" for batches).
type RawBatch struct {
	IDPicklistBatch *int64            `json:"idpicklist_batch"`
	PicklistBatchid *string           `json:"picklist_batchid"`
	Status          *string           `json:"status"`
	Type            *string           `json:"type"`
	TotalProducts   *int64            `json:"total_products"`
	TotalPicklists  *int64            `json:"total_picklists"`
	AssignedTo      *RawBatchUserRef  `json:"assigned_to"`
	CompletedBy     *RawBatchUserRef  `json:"completed_by"`
	UpdatedAt       *string           `json:"updated_at"`
	Products        []RawBatchProduct  `json:"products"`
	Picklists       []RawBatchPicklist `json:"picklists"`
}

// RawBatchUserRef is the nested user reference vendors embed as
// assigned_to/completed_by. The Mapper stores it both as JSON (authoritative)
// and flattened into scalar columns (spec §4.D rule 3).
type RawBatchUserRef struct {
	IDUser   *int64  `json:"iduser"`
	FullName *string `json:"full_name"`
}

type RawBatchProduct struct {
	IDBatchProduct *int64          `json:"idpicklist_batch_product"`
	IDProduct      *int64          `json:"idproduct"`
	ProductCode    *string         `json:"productcode"`
	Amount         *int64          `json:"amount"`
	Barcodes       json.RawMessage `json:"barcodes"`
}

type RawBatchPicklist struct {
	IDPicklist *int64  `json:"idpicklist"`
	Reference  *string `json:"reference"`
}

// RawUser is one /users (or /users/{id}) record; Rights is nested under
// the detail endpoint.
type RawUser struct {
	IDUser    *int64          `json:"iduser"`
	Username  *string         `json:"username"`
	Admin     *bool           `json:"admin"`
	Active    *bool           `json:"active"`
	UpdatedAt *string         `json:"updated_at"`
	Rights    []RawUserRight  `json:"rights"`
}

type RawUserRight struct {
	Right *string `json:"right"`
}

// RawSupplier is one /suppliers record.
type RawSupplier struct {
	IDSupplier *int64  `json:"idsupplier"`
	Name       *string `json:"name"`
	Active     *bool   `json:"active"`
	UpdatedAt  *string `json:"updated_at"`
}

// RawWarehouse is one /warehouses record.
type RawWarehouse struct {
	IDWarehouse *int64  `json:"idwarehouse"`
	Name        *string `json:"name"`
	Active      *bool   `json:"active"`
	UpdatedAt   *string `json:"updated_at"`
}

// RawReceipt is one /receipts (or /receipts/{id}) record.
type RawReceipt struct {
	IDReceipt    *int64             `json:"idreceipt"`
	Receiptid    *string            `json:"receiptid"`
	Remarks      *string            `json:"remarks"`
	Status       *string            `json:"status"`
	CommentCount *int64             `json:"comment_count"`
	UpdatedAt    *string            `json:"updated_at"`
	Products     []RawReceiptProduct `json:"products"`
}

type RawReceiptProduct struct {
	IDReceiptProduct *int64  `json:"idreceipt_product"`
	IDProduct        *int64  `json:"idproduct"`
	ProductCode      *string `json:"productcode"`
	Amount           *int64  `json:"amount"`
	AmountReceived   *int64  `json:"amount_received"`
}
