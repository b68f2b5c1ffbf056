package orderrequests

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks an order request through procurement.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusSent      Status = "Sent"
	StatusFulfilled Status = "Fulfilled"
	StatusCancelled Status = "Cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// Item asks procurement to restock one product in one warehouse.
type Item struct {
	ProductID                  uuid.UUID `json:"productId"`
	WarehouseID                uuid.UUID `json:"warehouseId"`
	CurrentStockAtRequest      int64     `json:"currentStockAtRequest"`
	MinimumStockLevelAtRequest int64     `json:"minimumStockLevelAtRequest"`
	QuantityToOrder            int64     `json:"quantityToOrder"`
}

// Placement records that a warehouse has received a product before.
type Placement struct {
	WarehouseID uuid.UUID
	ProductID   uuid.UUID
}

// OrderRequest is a restocking document produced by the low-stock scan.
type OrderRequest struct {
	ID          uuid.UUID `json:"id"`
	RequestDate time.Time `json:"requestDate"`
	Status      Status    `json:"status"`
	GeneratedBy uuid.UUID `json:"generatedBy"`
	UserID      uuid.UUID `json:"userId"`
	Items       []Item    `json:"items"`
	Notes       string    `json:"notes"`
	EmailSent   bool      `json:"emailSent"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// quantityToOrder tops the stock up to the threshold, ordering at least one unit.
func quantityToOrder(threshold, current int64) int64 {
	return max(threshold-current, 1)
}
