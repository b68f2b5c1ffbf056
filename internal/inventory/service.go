package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInventory(ctx context.Context, warehouseID uuid.UUID) (WarehouseInventory, error)
	ListWarehouseIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes standalone ledger operations. Multi-record workflows in
// other modules drive a Session on their own transaction instead.
type Service struct {
	repo     RepositoryPort
	cache    *Cache
	audit    AuditPort
	observer Observer
	logger   *slog.Logger
}

// NewService builds Service. cache, audit and observer may be nil.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, observer: Observers(observer), logger: logger}
}

// Debit removes qty of a product from a warehouse.
func (s *Service) Debit(ctx context.Context, warehouseID, productID uuid.UUID, qty int64) error {
	return s.mutate(ctx, "debit", func(ctx context.Context, sess *Session) error {
		return sess.Debit(ctx, warehouseID, productID, qty)
	})
}

// Credit adds qty of a product to a warehouse.
func (s *Service) Credit(ctx context.Context, warehouseID, productID uuid.UUID, qty int64, price *decimal.Decimal) error {
	return s.mutate(ctx, "credit", func(ctx context.Context, sess *Session) error {
		return sess.Credit(ctx, warehouseID, productID, qty, price)
	})
}

func (s *Service) mutate(ctx context.Context, op string, fn func(context.Context, *Session) error) error {
	var touched []uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess := NewSession(tx)
		if err := fn(ctx, sess); err != nil {
			return err
		}
		touched = sess.Touched()
		return sess.Flush(ctx)
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, op, err)
		return err
	}
	s.observer.LedgerCommitted(ctx, op, touched)
	return nil
}

// CheckAvailability reports how much of a product a warehouse holds and
// whether qty could be debited. The answer is advisory; debits re-check under lock.
func (s *Service) CheckAvailability(ctx context.Context, warehouseID, productID uuid.UUID, qty int64) (Availability, error) {
	if qty <= 0 {
		return Availability{}, ErrInvalidQuantity
	}
	result := Availability{WarehouseID: warehouseID, ProductID: productID, Requested: qty}
	inv, err := s.repo.GetInventory(ctx, warehouseID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Availability{}, err
	}
	if err == nil {
		if err := inv.Verify(); err != nil {
			return Availability{}, err
		}
		result.Available = inv.Available(productID)
	}
	result.Sufficient = result.Available >= qty
	return result, nil
}

// GetInventory returns the current record of a warehouse.
func (s *Service) GetInventory(ctx context.Context, warehouseID uuid.UUID) (WarehouseInventory, error) {
	return s.cache.Fetch(ctx, warehouseID, func(ctx context.Context) (WarehouseInventory, error) {
		return s.repo.GetInventory(ctx, warehouseID)
	})
}

// ListInventories returns every warehouse record.
func (s *Service) ListInventories(ctx context.Context) ([]WarehouseInventory, error) {
	ids, err := s.repo.ListWarehouseIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]WarehouseInventory, 0, len(ids))
	for _, id := range ids {
		inv, err := s.GetInventory(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// MergeDuplicateLines collapses duplicate product lines of a warehouse.
func (s *Service) MergeDuplicateLines(ctx context.Context, warehouseID uuid.UUID, actor shared.Actor) (RepairResult, error) {
	return s.repair(ctx, "merge_duplicate_lines", warehouseID, actor, func(inv *WarehouseInventory, res *RepairResult) {
		res.MergedLines = inv.MergeDuplicateLines()
	})
}

// RecomputeCurrentStock resets currentStock to the sum of line quantities.
// Running it twice leaves the record unchanged.
func (s *Service) RecomputeCurrentStock(ctx context.Context, warehouseID uuid.UUID, actor shared.Actor) (RepairResult, error) {
	return s.repair(ctx, "recompute_current_stock", warehouseID, actor, func(inv *WarehouseInventory, _ *RepairResult) {
		inv.RecomputeCurrentStock()
	})
}

// Repair merges duplicates, drops empty lines and recomputes currentStock so a
// corrupt record accepts mutations again.
func (s *Service) Repair(ctx context.Context, warehouseID uuid.UUID, actor shared.Actor) (RepairResult, error) {
	return s.repair(ctx, "repair", warehouseID, actor, func(inv *WarehouseInventory, res *RepairResult) {
		res.MergedLines = inv.MergeDuplicateLines()
		res.DroppedLines = inv.DropEmptyLines()
		inv.RecomputeCurrentStock()
	})
}

func (s *Service) repair(ctx context.Context, op string, warehouseID uuid.UUID, actor shared.Actor, fn func(*WarehouseInventory, *RepairResult)) (RepairResult, error) {
	var result RepairResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInventory(ctx, warehouseID)
		if err != nil {
			return err
		}
		result = RepairResult{WarehouseID: warehouseID, PreviousStock: inv.CurrentStock}
		fn(&inv, &result)
		result.CurrentStock = inv.CurrentStock
		inv.LastUpdated = time.Now().UTC()
		return tx.SaveInventory(ctx, inv)
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, op, err)
		return RepairResult{}, err
	}
	s.observer.LedgerCommitted(ctx, op, []uuid.UUID{warehouseID})
	s.recordAudit(ctx, actor, op, warehouseID, map[string]any{
		"merged_lines":   result.MergedLines,
		"dropped_lines":  result.DroppedLines,
		"previous_stock": result.PreviousStock,
		"current_stock":  result.CurrentStock,
	})
	return result, nil
}

// VerifyAll checks every warehouse record with bounded concurrency and returns
// the corrupt ones. Other load failures abort the scan.
func (s *Service) VerifyAll(ctx context.Context, concurrency int) ([]*LedgerCorruptionError, error) {
	ids, err := s.repo.ListWarehouseIDs(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]*LedgerCorruptionError, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			inv, err := s.repo.GetInventory(gctx, id)
			if err != nil {
				return err
			}
			var corrupt *LedgerCorruptionError
			if errors.As(inv.Verify(), &corrupt) {
				results[i] = corrupt
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*LedgerCorruptionError
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, warehouseID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "inventory." + action,
		Entity:   "warehouse_inventory",
		EntityID: warehouseID.String(),
		Meta:     meta,
		At:       time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("inventory audit", slog.String("action", action), slog.Any("error", err))
	}
}
