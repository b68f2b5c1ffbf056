package inventory

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (inv *WarehouseInventory) index(productID uuid.UUID) int {
	for i := range inv.Lines {
		if inv.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Line returns the line holding productID.
func (inv *WarehouseInventory) Line(productID uuid.UUID) (Line, bool) {
	if i := inv.index(productID); i >= 0 {
		return inv.Lines[i], true
	}
	return Line{}, false
}

// Available returns the quantity of productID on hand, zero when absent.
func (inv *WarehouseInventory) Available(productID uuid.UUID) int64 {
	if i := inv.index(productID); i >= 0 {
		return inv.Lines[i].Quantity
	}
	return 0
}

// Debit removes qty of productID. The line is dropped once it reaches zero.
func (inv *WarehouseInventory) Debit(productID uuid.UUID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	i := inv.index(productID)
	available := int64(0)
	if i >= 0 {
		available = inv.Lines[i].Quantity
	}
	if i < 0 || available < qty {
		return &InsufficientStockError{
			WarehouseID: inv.WarehouseID,
			ProductID:   productID,
			Requested:   qty,
			Available:   available,
		}
	}
	inv.Lines[i].Quantity -= qty
	if inv.Lines[i].Quantity <= 0 {
		inv.Lines = append(inv.Lines[:i], inv.Lines[i+1:]...)
	}
	inv.CurrentStock -= qty
	return nil
}

// Credit adds qty of productID. A new line takes price, or zero when price is nil;
// an existing line keeps its price.
func (inv *WarehouseInventory) Credit(productID uuid.UUID, qty int64, price *decimal.Decimal) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if i := inv.index(productID); i >= 0 {
		inv.Lines[i].Quantity += qty
	} else {
		line := Line{ProductID: productID, Price: decimal.Zero, Quantity: qty}
		if price != nil {
			line.Price = *price
		}
		inv.Lines = append(inv.Lines, line)
	}
	inv.CurrentStock += qty
	return nil
}

// MergeDuplicateLines collapses lines sharing a product into the first one,
// summing quantities. It returns the number of lines removed.
func (inv *WarehouseInventory) MergeDuplicateLines() int {
	seen := make(map[uuid.UUID]int, len(inv.Lines))
	merged := make([]Line, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		if i, ok := seen[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		seen[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	removed := len(inv.Lines) - len(merged)
	inv.Lines = merged
	return removed
}

// DropEmptyLines removes lines with a non-positive quantity.
func (inv *WarehouseInventory) DropEmptyLines() int {
	kept := inv.Lines[:0]
	for _, line := range inv.Lines {
		if line.Quantity > 0 {
			kept = append(kept, line)
		}
	}
	dropped := len(inv.Lines) - len(kept)
	inv.Lines = kept
	return dropped
}

// RecomputeCurrentStock sets CurrentStock to the sum of line quantities.
func (inv *WarehouseInventory) RecomputeCurrentStock() int64 {
	inv.CurrentStock = inv.LineTotal()
	return inv.CurrentStock
}

// LineTotal sums line quantities.
func (inv *WarehouseInventory) LineTotal() int64 {
	var total int64
	for _, line := range inv.Lines {
		total += line.Quantity
	}
	return total
}

// Verify checks the stored invariants: unique positive lines whose sum is CurrentStock.
func (inv *WarehouseInventory) Verify() error {
	total := inv.LineTotal()
	corrupt := func(reason string) error {
		return &LedgerCorruptionError{
			WarehouseID:  inv.WarehouseID,
			CurrentStock: inv.CurrentStock,
			LineTotal:    total,
			Reason:       reason,
		}
	}
	seen := make(map[uuid.UUID]struct{}, len(inv.Lines))
	for _, line := range inv.Lines {
		if _, ok := seen[line.ProductID]; ok {
			return corrupt("duplicate product line " + line.ProductID.String())
		}
		seen[line.ProductID] = struct{}{}
		if line.Quantity <= 0 {
			return corrupt("non-positive quantity for product " + line.ProductID.String())
		}
	}
	if total != inv.CurrentStock {
		return corrupt("current stock does not match lines")
	}
	return nil
}

// Clone returns a deep copy.
func (inv WarehouseInventory) Clone() WarehouseInventory {
	out := inv
	out.Lines = append([]Line(nil), inv.Lines...)
	return out
}
