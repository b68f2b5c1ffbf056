package purchasing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// DefaultGSTPercent applies when a purchase is recorded without a rate.
var DefaultGSTPercent = decimal.NewFromInt(10)

// Line is one product on a purchase invoice.
type Line struct {
	ProductID uuid.UUID       `json:"productId"`
	Label     string          `json:"label,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
}

// Total returns price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(l.Quantity))
}

// Purchase is a supplier invoice whose lines were credited into a warehouse.
type Purchase struct {
	ID          uuid.UUID       `json:"id"`
	Date        time.Time       `json:"date"`
	InvoiceNo   string          `json:"invoiceNo"`
	WarehouseID uuid.UUID       `json:"warehouseId"`
	SupplierID  uuid.UUID       `json:"supplierId"`
	Lines       []Line          `json:"products"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	GSTPercent  decimal.Decimal `json:"gstPercent"`
	GST         decimal.Decimal `json:"gst"`
	Total       decimal.Decimal `json:"total"`
	UserID      uuid.UUID       `json:"userId"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// RecomputeTotals derives subtotal, GST and total from the lines, rounded to cents.
func (p *Purchase) RecomputeTotals() {
	subtotal := decimal.Zero
	for _, line := range p.Lines {
		subtotal = subtotal.Add(line.Total())
	}
	p.Subtotal = subtotal.Round(2)
	p.GST = subtotal.Mul(p.GSTPercent).Div(decimal.NewFromInt(100)).Round(2)
	p.Total = p.Subtotal.Add(p.GST)
}

func (p *Purchase) index(productID uuid.UUID) int {
	for i := range p.Lines {
		if p.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Quantity returns the purchased quantity of a product, zero when absent.
func (p *Purchase) Quantity(productID uuid.UUID) int64 {
	if i := p.index(productID); i >= 0 {
		return p.Lines[i].Quantity
	}
	return 0
}

// AdjustmentLine records one product delta of an adjustment.
type AdjustmentLine struct {
	ProductID   uuid.UUID `json:"productId"`
	OldQuantity int64     `json:"oldQuantity"`
	NewQuantity int64     `json:"newQuantity"`
	Difference  int64     `json:"difference"`
}

// Adjustment is the immutable record of one correction to a purchase.
type Adjustment struct {
	ID          uuid.UUID `json:"id"`
	PurchaseID  uuid.UUID `json:"purchaseId"`
	WarehouseID uuid.UUID `json:"warehouseId"`

	// FromWarehouseID is set when the correction moved the purchase to WarehouseID.
	FromWarehouseID *uuid.UUID       `json:"fromWarehouseId,omitempty"`
	UserID          uuid.UUID        `json:"userId"`
	Date            time.Time        `json:"date"`
	Lines           []AdjustmentLine `json:"products"`
}

// RelocationStatus tracks the two steps of moving a purchase to another warehouse.
type RelocationStatus string

const (
	// RelocationReleased means the old warehouse was debited and the new one not yet credited.
	RelocationReleased RelocationStatus = "released"
	// RelocationCompleted means the new warehouse was credited and the purchase updated.
	RelocationCompleted RelocationStatus = "completed"
)

// Relocation persists a warehouse change between its debit and credit steps.
type Relocation struct {
	ID              uuid.UUID        `json:"id"`
	PurchaseID      uuid.UUID        `json:"purchaseId"`
	FromWarehouseID uuid.UUID        `json:"fromWarehouseId"`
	ToWarehouseID   uuid.UUID        `json:"toWarehouseId"`
	Status          RelocationStatus `json:"status"`
	Lines           []Line           `json:"products"`
	Adjustments     []AdjustmentLine `json:"adjustments"`
	UserID          uuid.UUID        `json:"userId"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// LineInput is the canonical purchase line accepted at the boundary.
type LineInput struct {
	ProductID uuid.UUID
	Label     string
	Price     decimal.Decimal
	Quantity  int64
}

// CreatePurchaseInput describes a new purchase.
type CreatePurchaseInput struct {
	Date        time.Time
	InvoiceNo   string
	WarehouseID uuid.UUID
	SupplierID  uuid.UUID
	Lines       []LineInput

	// GSTPercent defaults to DefaultGSTPercent when nil.
	GSTPercent     *decimal.Decimal
	Actor          shared.Actor
	IdempotencyKey string
}

// CorrectedLine sets a purchase line to a new quantity. Price is required
// only when the product is not yet on the purchase.
type CorrectedLine struct {
	ProductID   uuid.UUID
	NewQuantity int64
	Price       *decimal.Decimal
}

// AdjustPurchaseInput describes a correction to a purchase.
type AdjustPurchaseInput struct {
	PurchaseID uuid.UUID
	Lines      []CorrectedLine
	Removed    []uuid.UUID

	// WarehouseID moves the purchase to another warehouse when set and different.
	WarehouseID *uuid.UUID
	Actor       shared.Actor
}

// AdjustmentResult is returned by AdjustPurchase and ResumeRelocation.
type AdjustmentResult struct {
	Purchase   Purchase    `json:"purchase"`
	Adjustment *Adjustment `json:"adjustment,omitempty"`
}

// ListFilter narrows ListPurchases. Zero values are ignored; To includes the whole day.
type ListFilter struct {
	WarehouseID uuid.UUID
	SupplierID  uuid.UUID
	From        time.Time
	To          time.Time
}

// ProductPurchase is one purchase line of a product in a warehouse.
type ProductPurchase struct {
	PurchaseID uuid.UUID       `json:"purchaseId"`
	Date       time.Time       `json:"date"`
	InvoiceNo  string          `json:"invoiceNo"`
	SupplierID uuid.UUID       `json:"supplierId"`
	Line       Line            `json:"product"`
	LineTotal  decimal.Decimal `json:"lineTotal"`
}

// PurchaseNotFoundError reports a missing purchase.
type PurchaseNotFoundError struct {
	PurchaseID uuid.UUID
}

func (e *PurchaseNotFoundError) Error() string {
	return fmt.Sprintf("purchase %s not found", e.PurchaseID)
}

// Code returns the machine readable error code.
func (e *PurchaseNotFoundError) Code() string { return "purchase_not_found" }

// Is matches shared.ErrNotFound.
func (e *PurchaseNotFoundError) Is(target error) bool { return target == shared.ErrNotFound }

// PurchaseLockedError reports a purchase that can no longer be adjusted.
type PurchaseLockedError struct {
	PurchaseID uuid.UUID
	Reason     string
}

func (e *PurchaseLockedError) Error() string {
	return fmt.Sprintf("purchase %s cannot be adjusted: %s", e.PurchaseID, e.Reason)
}

// Code returns the machine readable error code.
func (e *PurchaseLockedError) Code() string { return "purchase_locked" }

// Is matches shared.ErrConflict.
func (e *PurchaseLockedError) Is(target error) bool { return target == shared.ErrConflict }

// RelocationIncompleteError reports a warehouse change whose old warehouse was
// debited but whose new warehouse could not be credited. ResumeRelocation
// finishes it.
type RelocationIncompleteError struct {
	RelocationID uuid.UUID
	Err          error
}

func (e *RelocationIncompleteError) Error() string {
	return fmt.Sprintf("relocation %s incomplete, resume required: %v", e.RelocationID, e.Err)
}

// Code returns the machine readable error code.
func (e *RelocationIncompleteError) Code() string { return "relocation_incomplete" }

// Is matches shared.ErrInconsistent; the cause is reachable through Unwrap.
func (e *RelocationIncompleteError) Is(target error) bool { return target == shared.ErrInconsistent }

func (e *RelocationIncompleteError) Unwrap() error { return e.Err }
