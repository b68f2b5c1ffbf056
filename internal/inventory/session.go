package inventory

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxRepository is the transactional view over warehouse inventories.
type TxRepository interface {
	// LockInventory loads a warehouse record for update, creating an empty
	// one when the warehouse has never held stock.
	LockInventory(ctx context.Context, warehouseID uuid.UUID) (WarehouseInventory, error)
	SaveInventory(ctx context.Context, inv WarehouseInventory) error
}

// Demand is a quantity of a product required from a warehouse.
type Demand struct {
	WarehouseID uuid.UUID
	ProductID   uuid.UUID
	Quantity    int64
}

// Session is a unit of work over the ledger inside one transaction. Records are
// locked on first use, verified, mutated in memory and written back by Flush.
type Session struct {
	tx      TxRepository
	held    map[uuid.UUID]*WarehouseInventory
	dirty   map[uuid.UUID]struct{}
	touched []uuid.UUID
	now     func() time.Time
}

// NewSession starts a unit of work on tx.
func NewSession(tx TxRepository) *Session {
	return &Session{
		tx:    tx,
		held:  make(map[uuid.UUID]*WarehouseInventory),
		dirty: make(map[uuid.UUID]struct{}),
		now:   time.Now,
	}
}

// Lock acquires the given warehouse records in ascending id order. Callers
// touching several warehouses lock them all up front so concurrent workflows
// always queue in the same order.
func (s *Session) Lock(ctx context.Context, warehouseIDs ...uuid.UUID) error {
	pending := make([]uuid.UUID, 0, len(warehouseIDs))
	for _, id := range warehouseIDs {
		if _, ok := s.held[id]; ok || slices.Contains(pending, id) {
			continue
		}
		pending = append(pending, id)
	}
	slices.SortFunc(pending, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for _, id := range pending {
		inv, err := s.tx.LockInventory(ctx, id)
		if err != nil {
			return err
		}
		if err := inv.Verify(); err != nil {
			return err
		}
		s.held[id] = &inv
	}
	return nil
}

// Inventory returns the locked record of a warehouse.
func (s *Session) Inventory(ctx context.Context, warehouseID uuid.UUID) (*WarehouseInventory, error) {
	if inv, ok := s.held[warehouseID]; ok {
		return inv, nil
	}
	if err := s.Lock(ctx, warehouseID); err != nil {
		return nil, err
	}
	return s.held[warehouseID], nil
}

// Available returns the quantity of productID held by warehouseID.
func (s *Session) Available(ctx context.Context, warehouseID, productID uuid.UUID) (int64, error) {
	inv, err := s.Inventory(ctx, warehouseID)
	if err != nil {
		return 0, err
	}
	return inv.Available(productID), nil
}

// Debit removes stock. See WarehouseInventory.Debit.
func (s *Session) Debit(ctx context.Context, warehouseID, productID uuid.UUID, qty int64) error {
	inv, err := s.Inventory(ctx, warehouseID)
	if err != nil {
		return err
	}
	if err := inv.Debit(productID, qty); err != nil {
		return err
	}
	s.markDirty(warehouseID)
	return nil
}

// Credit adds stock. See WarehouseInventory.Credit.
func (s *Session) Credit(ctx context.Context, warehouseID, productID uuid.UUID, qty int64, price *decimal.Decimal) error {
	inv, err := s.Inventory(ctx, warehouseID)
	if err != nil {
		return err
	}
	if err := inv.Credit(productID, qty, price); err != nil {
		return err
	}
	s.markDirty(warehouseID)
	return nil
}

// Require checks that every demand can be met at once, summing demands for
// the same warehouse and product. Nothing is mutated. The first shortfall in
// input order is returned.
func (s *Session) Require(ctx context.Context, demands []Demand) error {
	ids := make([]uuid.UUID, 0, len(demands))
	for _, d := range demands {
		ids = append(ids, d.WarehouseID)
	}
	if err := s.Lock(ctx, ids...); err != nil {
		return err
	}
	type key struct{ warehouse, product uuid.UUID }
	totals := make(map[key]int64, len(demands))
	for _, d := range demands {
		if d.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		totals[key{d.WarehouseID, d.ProductID}] += d.Quantity
	}
	for _, d := range demands {
		k := key{d.WarehouseID, d.ProductID}
		need, ok := totals[k]
		if !ok {
			continue
		}
		delete(totals, k)
		available := s.held[d.WarehouseID].Available(d.ProductID)
		if available < need {
			return &InsufficientStockError{
				WarehouseID: d.WarehouseID,
				ProductID:   d.ProductID,
				Requested:   need,
				Available:   available,
			}
		}
	}
	return nil
}

// Flush writes every modified record back through the transaction.
func (s *Session) Flush(ctx context.Context) error {
	now := s.now().UTC()
	for _, id := range s.touched {
		inv := s.held[id]
		inv.LastUpdated = now
		if err := s.tx.SaveInventory(ctx, *inv); err != nil {
			return err
		}
	}
	return nil
}

// Touched lists the warehouses modified in this session, in first-touch order.
func (s *Session) Touched() []uuid.UUID {
	return append([]uuid.UUID(nil), s.touched...)
}

func (s *Session) markDirty(warehouseID uuid.UUID) {
	if _, ok := s.dirty[warehouseID]; ok {
		return
	}
	s.dirty[warehouseID] = struct{}{}
	s.touched = append(s.touched, warehouseID)
}
