package transfers

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Transfer is the immutable record of stock moved between two warehouses.
type Transfer struct {
	ID              uuid.UUID `json:"id"`
	FromWarehouseID uuid.UUID `json:"fromWarehouseId"`
	ToWarehouseID   uuid.UUID `json:"toWarehouseId"`
	ProductID       uuid.UUID `json:"productId"`
	ProductLabel    string    `json:"productLabel"`
	Quantity        int64     `json:"quantity"`
	Reason          string    `json:"reason"`

	// PurchaseID points at the oldest purchase of the product into the
	// source warehouse. Informational only.
	PurchaseID *uuid.UUID `json:"purchaseId,omitempty"`
	UserID     uuid.UUID  `json:"userId"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Input describes a requested transfer.
type Input struct {
	FromWarehouseID uuid.UUID
	ToWarehouseID   uuid.UUID
	ProductID       uuid.UUID
	Quantity        int64
	Reason          string
	Actor           shared.Actor
	IdempotencyKey  string
}

// DefaultListLimit caps transfer listings.
const DefaultListLimit = 1000

// TransferConsistencyError reports a transfer that failed after the source
// warehouse was debited. The transaction is rolled back, but the failure is
// surfaced separately from business rule rejections so an operator can check
// both warehouses.
type TransferConsistencyError struct {
	FromWarehouseID uuid.UUID
	ToWarehouseID   uuid.UUID
	ProductID       uuid.UUID
	Quantity        int64
	Err             error
}

func (e *TransferConsistencyError) Error() string {
	return fmt.Sprintf("transfer of %d x %s from %s to %s failed after debit: %v",
		e.Quantity, e.ProductID, e.FromWarehouseID, e.ToWarehouseID, e.Err)
}

// Code returns the machine readable error code.
func (e *TransferConsistencyError) Code() string { return "transfer_consistency" }

// Is matches shared.ErrInconsistent.
func (e *TransferConsistencyError) Is(target error) bool { return target == shared.ErrInconsistent }

func (e *TransferConsistencyError) Unwrap() error { return e.Err }
