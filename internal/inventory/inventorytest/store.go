// Package inventorytest provides an in-memory ledger for tests.
package inventorytest

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Store is an in-memory ledger. Transactions run one at a time and work on
// a copy that replaces the committed state only on success.
type Store struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	warehouses map[uuid.UUID]bool
	data       map[uuid.UUID]inventory.WarehouseInventory
	// FailSave makes SaveInventory fail for the given warehouse.
	FailSave map[uuid.UUID]error
}

// New returns an empty store that accepts any warehouse id.
func New() *Store {
	return &Store{data: make(map[uuid.UUID]inventory.WarehouseInventory)}
}

// RestrictWarehouses limits the known warehouses; locking any other id fails with not found.
func (s *Store) RestrictWarehouses(ids ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warehouses = make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		s.warehouses[id] = true
	}
}

// Seed stores a record as-is, without verification, so tests can model corrupt data.
func (s *Store) Seed(inv inventory.WarehouseInventory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[inv.WarehouseID] = inv.Clone()
}

// Stock creates or replaces a consistent record holding the given quantities at zero price.
func (s *Store) Stock(warehouseID uuid.UUID, quantities map[uuid.UUID]int64) {
	inv := inventory.WarehouseInventory{WarehouseID: warehouseID}
	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for _, id := range ids {
		inv.Lines = append(inv.Lines, inventory.Line{ProductID: id, Price: decimal.Zero, Quantity: quantities[id]})
	}
	inv.RecomputeCurrentStock()
	s.Seed(inv)
}

// Inventory returns the committed record of a warehouse.
func (s *Store) Inventory(warehouseID uuid.UUID) (inventory.WarehouseInventory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.data[warehouseID]
	return inv.Clone(), ok
}

// Quantity returns the committed quantity of a product, zero when absent.
func (s *Store) Quantity(warehouseID, productID uuid.UUID) int64 {
	inv, ok := s.Inventory(warehouseID)
	if !ok {
		return 0
	}
	return inv.Available(productID)
}

// Snapshot returns a deep copy of all committed records.
func (s *Store) Snapshot() map[uuid.UUID]inventory.WarehouseInventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]inventory.WarehouseInventory, len(s.data))
	for id, inv := range s.data {
		out[id] = inv.Clone()
	}
	return out
}

// Tx is an open transaction on the store.
type Tx struct {
	store *Store
	data  map[uuid.UUID]inventory.WarehouseInventory
}

// Begin opens a transaction, blocking until the previous one finished.
// Every Begin must be followed by Commit or Rollback.
func (s *Store) Begin() *Tx {
	s.txMu.Lock()
	return &Tx{store: s, data: s.Snapshot()}
}

// Commit publishes the transaction's changes.
func (t *Tx) Commit() {
	t.store.mu.Lock()
	t.store.data = t.data
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
}

// Rollback discards the transaction's changes.
func (t *Tx) Rollback() {
	t.store.txMu.Unlock()
}

// LockInventory implements inventory.TxRepository.
func (t *Tx) LockInventory(_ context.Context, warehouseID uuid.UUID) (inventory.WarehouseInventory, error) {
	t.store.mu.Lock()
	known := t.store.warehouses == nil || t.store.warehouses[warehouseID]
	t.store.mu.Unlock()
	if !known {
		return inventory.WarehouseInventory{}, shared.NotFound("warehouse", warehouseID)
	}
	inv, ok := t.data[warehouseID]
	if !ok {
		inv = inventory.WarehouseInventory{WarehouseID: warehouseID}
		t.data[warehouseID] = inv
	}
	return inv.Clone(), nil
}

// SaveInventory implements inventory.TxRepository.
func (t *Tx) SaveInventory(_ context.Context, inv inventory.WarehouseInventory) error {
	t.store.mu.Lock()
	failure := t.store.FailSave[inv.WarehouseID]
	t.store.mu.Unlock()
	if failure != nil {
		return failure
	}
	t.data[inv.WarehouseID] = inv.Clone()
	return nil
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	tx := s.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// GetInventory implements inventory.RepositoryPort.
func (s *Store) GetInventory(_ context.Context, warehouseID uuid.UUID) (inventory.WarehouseInventory, error) {
	inv, ok := s.Inventory(warehouseID)
	if !ok {
		return inventory.WarehouseInventory{}, shared.NotFound("warehouse inventory", warehouseID)
	}
	return inv, nil
}

// ListWarehouseIDs implements inventory.RepositoryPort.
func (s *Store) ListWarehouseIDs(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids, nil
}

// CheckInvariants verifies every committed record and returns the first violation.
func (s *Store) CheckInvariants() error {
	for _, inv := range s.Snapshot() {
		if err := inv.Verify(); err != nil {
			return err
		}
	}
	return nil
}
