package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Line is one product held in a warehouse.
type Line struct {
	ProductID uuid.UUID       `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
}

// WarehouseInventory is the stock record of a single warehouse. CurrentStock
// always equals the sum of line quantities once the record passes Verify.
type WarehouseInventory struct {
	WarehouseID       uuid.UUID `json:"warehouseId"`
	Lines             []Line    `json:"products"`
	CurrentStock      int64     `json:"currentStock"`
	MinimumStockLevel int64     `json:"minimumStockLevel"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// Availability is the answer to an availability check.
type Availability struct {
	WarehouseID uuid.UUID `json:"warehouseId"`
	ProductID   uuid.UUID `json:"productId"`
	Requested   int64     `json:"requested"`
	Available   int64     `json:"available"`
	Sufficient  bool      `json:"sufficient"`
}

// RepairResult summarises a repair of a corrupt warehouse record.
type RepairResult struct {
	WarehouseID   uuid.UUID `json:"warehouseId"`
	MergedLines   int       `json:"mergedLines"`
	DroppedLines  int       `json:"droppedLines"`
	PreviousStock int64     `json:"previousStock"`
	CurrentStock  int64     `json:"currentStock"`
}

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = &shared.ValidationError{Field: "quantity", Message: "must be greater than zero"}

// InsufficientStockError reports a debit larger than the quantity on hand.
type InsufficientStockError struct {
	WarehouseID uuid.UUID
	ProductID   uuid.UUID

	// Label and Warehouse are optional human readable names.
	Label     string
	Warehouse string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	product := e.Label
	if product == "" {
		product = e.ProductID.String()
	}
	warehouse := e.Warehouse
	if warehouse == "" {
		warehouse = e.WarehouseID.String()
	}
	return fmt.Sprintf("insufficient stock of %s in warehouse %s (requested %d, available %d)",
		product, warehouse, e.Requested, e.Available)
}

// Code returns the machine readable error code.
func (e *InsufficientStockError) Code() string { return "insufficient_stock" }

// Is matches shared.ErrConflict.
func (e *InsufficientStockError) Is(target error) bool { return target == shared.ErrConflict }

// LedgerCorruptionError reports a stored record that violates the ledger
// invariants. Mutations on the warehouse are refused until it is repaired.
type LedgerCorruptionError struct {
	WarehouseID  uuid.UUID
	CurrentStock int64
	LineTotal    int64
	Reason       string
}

func (e *LedgerCorruptionError) Error() string {
	return fmt.Sprintf("inventory: warehouse %s ledger corrupt: %s (currentStock %d, line total %d)",
		e.WarehouseID, e.Reason, e.CurrentStock, e.LineTotal)
}

// Code returns the machine readable error code.
func (e *LedgerCorruptionError) Code() string { return "ledger_corruption" }

// Is matches shared.ErrInconsistent.
func (e *LedgerCorruptionError) Is(target error) bool { return target == shared.ErrInconsistent }

// IsInsufficientStock reports whether err carries an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}
