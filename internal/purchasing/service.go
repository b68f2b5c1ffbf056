package purchasing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/shared"
)

const idempotencyModule = "purchasing.create"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error)
	ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error)
	PurchasesByProduct(ctx context.Context, warehouseID, productID uuid.UUID) ([]ProductPurchase, error)
	ListAdjustments(ctx context.Context, purchaseID uuid.UUID) ([]Adjustment, error)
}

// IdempotencyPort guards request replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records purchases and replays corrections to them onto the ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	observer    inventory.Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the purchasing service. audit, idem and observer may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, observer inventory.Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		observer:    inventory.Observers(observer),
		logger:      logger,
		now:         time.Now,
	}
}

// CreatePurchase stores a purchase and credits every line into its warehouse
// in one transaction.
func (s *Service) CreatePurchase(ctx context.Context, input CreatePurchaseInput) (Purchase, error) {
	if err := validateCreate(input); err != nil {
		return Purchase{}, err
	}
	inserted := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return Purchase{}, err
		}
		inserted = true
	}

	now := s.now().UTC()
	purchase := Purchase{
		ID:          uuid.New(),
		Date:        defaultTime(input.Date, now),
		InvoiceNo:   strings.TrimSpace(input.InvoiceNo),
		WarehouseID: input.WarehouseID,
		SupplierID:  input.SupplierID,
		GSTPercent:  DefaultGSTPercent,
		UserID:      input.Actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.GSTPercent != nil {
		purchase.GSTPercent = *input.GSTPercent
	}
	for _, line := range input.Lines {
		purchase.Lines = append(purchase.Lines, Line{
			ProductID: line.ProductID,
			Label:     strings.TrimSpace(line.Label),
			Price:     line.Price,
			Quantity:  line.Quantity,
		})
	}
	purchase.RecomputeTotals()

	var touched []uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess := inventory.NewSession(tx.Ledger())
		for _, line := range purchase.Lines {
			price := line.Price
			if err := sess.Credit(ctx, purchase.WarehouseID, line.ProductID, line.Quantity, &price); err != nil {
				return err
			}
		}
		if err := tx.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		touched = sess.Touched()
		return sess.Flush(ctx)
	})
	if err != nil {
		if inserted {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		s.observer.LedgerRejected(ctx, "purchase_create", err)
		return Purchase{}, err
	}
	s.observer.LedgerCommitted(ctx, "purchase_create", touched)
	s.recordAudit(ctx, input.Actor, "create", purchase.ID, map[string]any{
		"invoice_no":   purchase.InvoiceNo,
		"warehouse_id": purchase.WarehouseID.String(),
		"total":        purchase.Total.StringFixed(2),
	})
	return purchase, nil
}

// AdjustPurchase corrects purchase lines and replays each quantity delta on
// the ledger. A warehouse change runs as two steps: the old warehouse is
// debited and a relocation persisted, then ResumeRelocation credits the new
// one. If the second step fails the relocation stays released and a
// RelocationIncompleteError is returned.
func (s *Service) AdjustPurchase(ctx context.Context, input AdjustPurchaseInput) (AdjustmentResult, error) {
	if input.PurchaseID == uuid.Nil {
		return AdjustmentResult{}, shared.Invalid("purchaseId", "is required")
	}
	if len(input.Lines) == 0 && len(input.Removed) == 0 && input.WarehouseID == nil {
		return AdjustmentResult{}, shared.Invalid("lines", "nothing to adjust")
	}

	var (
		result     AdjustmentResult
		relocation *Relocation
		touched    []uuid.UUID
	)
	op := "purchase_adjust"
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, input.PurchaseID)
		if err != nil {
			return err
		}
		if err := ensureAdjustable(ctx, tx, purchase); err != nil {
			return err
		}
		updated, diffs, err := applyCorrections(purchase, input.Lines, input.Removed)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		sess := inventory.NewSession(tx.Ledger())

		if input.WarehouseID != nil && *input.WarehouseID != uuid.Nil && *input.WarehouseID != purchase.WarehouseID {
			op = "purchase_relocate_release"
			if err := sess.Lock(ctx, purchase.WarehouseID, *input.WarehouseID); err != nil {
				return err
			}
			for _, line := range purchase.Lines {
				if err := sess.Debit(ctx, purchase.WarehouseID, line.ProductID, line.Quantity); err != nil {
					return labelShortfall(err, line)
				}
			}
			rel := Relocation{
				ID:              uuid.New(),
				PurchaseID:      purchase.ID,
				FromWarehouseID: purchase.WarehouseID,
				ToWarehouseID:   *input.WarehouseID,
				Status:          RelocationReleased,
				Lines:           updated.Lines,
				Adjustments:     diffs,
				UserID:          input.Actor.UserID,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.InsertRelocation(ctx, rel); err != nil {
				return err
			}
			relocation = &rel
			touched = sess.Touched()
			return sess.Flush(ctx)
		}

		for _, diff := range diffs {
			switch {
			case diff.Difference > 0:
				price := updated.Lines[updated.index(diff.ProductID)].Price
				err = sess.Credit(ctx, purchase.WarehouseID, diff.ProductID, diff.Difference, &price)
			case diff.Difference < 0:
				err = sess.Debit(ctx, purchase.WarehouseID, diff.ProductID, -diff.Difference)
				if i := purchase.index(diff.ProductID); i >= 0 {
					err = labelShortfall(err, purchase.Lines[i])
				}
			}
			if err != nil {
				return err
			}
		}
		updated.UpdatedAt = now
		if err := tx.UpdatePurchase(ctx, updated); err != nil {
			return err
		}
		result.Purchase = updated
		if len(diffs) > 0 {
			adj := Adjustment{
				ID:          uuid.New(),
				PurchaseID:  purchase.ID,
				WarehouseID: purchase.WarehouseID,
				UserID:      input.Actor.UserID,
				Date:        now,
				Lines:       diffs,
			}
			if err := tx.InsertAdjustment(ctx, adj); err != nil {
				return err
			}
			result.Adjustment = &adj
		}
		touched = sess.Touched()
		return sess.Flush(ctx)
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, op, err)
		return AdjustmentResult{}, err
	}
	s.observer.LedgerCommitted(ctx, op, touched)

	if relocation == nil {
		meta := map[string]any{"lines": len(input.Lines), "removed": len(input.Removed)}
		if result.Adjustment != nil {
			meta["adjustment_id"] = result.Adjustment.ID.String()
		}
		s.recordAudit(ctx, input.Actor, "adjust", input.PurchaseID, meta)
		return result, nil
	}

	s.recordAudit(ctx, input.Actor, "relocation_released", input.PurchaseID, map[string]any{
		"relocation_id": relocation.ID.String(),
		"from":          relocation.FromWarehouseID.String(),
		"to":            relocation.ToWarehouseID.String(),
	})
	result, err = s.ResumeRelocation(ctx, relocation.ID, input.Actor)
	if err != nil {
		s.logger.Error("purchase relocation incomplete",
			slog.String("relocation_id", relocation.ID.String()),
			slog.String("purchase_id", relocation.PurchaseID.String()),
			slog.Bool("alert", true),
			slog.Any("error", err))
		return AdjustmentResult{}, &RelocationIncompleteError{RelocationID: relocation.ID, Err: err}
	}
	return result, nil
}

// ResumeRelocation credits the new warehouse of a released relocation and
// moves the purchase there. Resuming a completed relocation returns the
// purchase unchanged.
func (s *Service) ResumeRelocation(ctx context.Context, relocationID uuid.UUID, actor shared.Actor) (AdjustmentResult, error) {
	var (
		result  AdjustmentResult
		touched []uuid.UUID
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rel, err := tx.GetRelocationForUpdate(ctx, relocationID)
		if err != nil {
			return err
		}
		purchase, err := tx.GetPurchaseForUpdate(ctx, rel.PurchaseID)
		if err != nil {
			return err
		}
		if rel.Status == RelocationCompleted {
			result.Purchase = purchase
			already = true
			return nil
		}

		sess := inventory.NewSession(tx.Ledger())
		for _, line := range rel.Lines {
			price := line.Price
			if err := sess.Credit(ctx, rel.ToWarehouseID, line.ProductID, line.Quantity, &price); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		purchase.WarehouseID = rel.ToWarehouseID
		purchase.Lines = rel.Lines
		purchase.RecomputeTotals()
		purchase.UpdatedAt = now
		if err := tx.UpdatePurchase(ctx, purchase); err != nil {
			return err
		}
		from := rel.FromWarehouseID
		userID := actor.UserID
		if userID == uuid.Nil {
			userID = rel.UserID
		}
		adj := Adjustment{
			ID:              uuid.New(),
			PurchaseID:      purchase.ID,
			WarehouseID:     rel.ToWarehouseID,
			FromWarehouseID: &from,
			UserID:          userID,
			Date:            now,
			Lines:           rel.Adjustments,
		}
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		if err := tx.UpdateRelocationStatus(ctx, rel.ID, RelocationCompleted); err != nil {
			return err
		}
		result = AdjustmentResult{Purchase: purchase, Adjustment: &adj}
		touched = sess.Touched()
		return sess.Flush(ctx)
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, "purchase_relocate_complete", err)
		return AdjustmentResult{}, err
	}
	if already {
		return result, nil
	}
	s.observer.LedgerCommitted(ctx, "purchase_relocate_complete", touched)
	s.recordAudit(ctx, actor, "relocation_completed", result.Purchase.ID, map[string]any{
		"relocation_id": relocationID.String(),
		"warehouse_id":  result.Purchase.WarehouseID.String(),
	})
	return result, nil
}

// GetPurchase returns a purchase with its lines.
func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListPurchases returns purchases matching filter.
func (s *Service) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Invalid("to", "must not be before from")
	}
	return s.repo.ListPurchases(ctx, filter)
}

// PurchasesByProduct lists purchase lines of a product received into a warehouse.
func (s *Service) PurchasesByProduct(ctx context.Context, warehouseID, productID uuid.UUID) ([]ProductPurchase, error) {
	if warehouseID == uuid.Nil {
		return nil, shared.Invalid("warehouse_id", "is required")
	}
	if productID == uuid.Nil {
		return nil, shared.Invalid("product_id", "is required")
	}
	return s.repo.PurchasesByProduct(ctx, warehouseID, productID)
}

// ListAdjustments returns the adjustment history of a purchase.
func (s *Service) ListAdjustments(ctx context.Context, purchaseID uuid.UUID) ([]Adjustment, error) {
	if _, err := s.repo.GetPurchase(ctx, purchaseID); err != nil {
		return nil, err
	}
	return s.repo.ListAdjustments(ctx, purchaseID)
}

func ensureAdjustable(ctx context.Context, tx TxRepository, purchase Purchase) error {
	transferred, err := tx.HasTransfers(ctx, purchase.ID)
	if err != nil {
		return err
	}
	if transferred {
		return &PurchaseLockedError{PurchaseID: purchase.ID, Reason: "stock from this purchase has been transferred"}
	}
	pending, err := tx.PendingRelocation(ctx, purchase.ID)
	if err != nil {
		return err
	}
	if pending != nil {
		return &PurchaseLockedError{PurchaseID: purchase.ID, Reason: fmt.Sprintf("relocation %s is waiting to be resumed", pending.ID)}
	}
	return nil
}

// applyCorrections returns the corrected purchase and the non-zero deltas in
// request order, corrected lines first.
func applyCorrections(purchase Purchase, corrected []CorrectedLine, removed []uuid.UUID) (Purchase, []AdjustmentLine, error) {
	updated := purchase
	updated.Lines = slices.Clone(purchase.Lines)
	seen := make(map[uuid.UUID]bool, len(corrected)+len(removed))
	var diffs []AdjustmentLine

	for i, c := range corrected {
		if c.ProductID == uuid.Nil {
			return Purchase{}, nil, shared.Invalid(fmt.Sprintf("lines[%d].productId", i), "is required")
		}
		if seen[c.ProductID] {
			return Purchase{}, nil, shared.Invalid(fmt.Sprintf("lines[%d].productId", i), "duplicate product %s", c.ProductID)
		}
		seen[c.ProductID] = true
		if c.NewQuantity < 0 {
			return Purchase{}, nil, shared.Invalid(fmt.Sprintf("lines[%d].newQuantity", i), "must not be negative")
		}
		if c.Price != nil && c.Price.IsNegative() {
			return Purchase{}, nil, shared.Invalid(fmt.Sprintf("lines[%d].price", i), "must not be negative")
		}

		idx := updated.index(c.ProductID)
		if idx < 0 {
			if c.NewQuantity == 0 {
				return Purchase{}, nil, shared.Invalid(fmt.Sprintf("lines[%d].newQuantity", i), "product %s is not on the purchase", c.ProductID)
			}
			if c.Price == nil {
				return Purchase{}, nil, shared.Invalid(fmt.Sprintf("lines[%d].price", i), "is required for a new line")
			}
			updated.Lines = append(updated.Lines, Line{ProductID: c.ProductID, Price: *c.Price, Quantity: c.NewQuantity})
			diffs = append(diffs, AdjustmentLine{ProductID: c.ProductID, NewQuantity: c.NewQuantity, Difference: c.NewQuantity})
			continue
		}

		old := updated.Lines[idx].Quantity
		if c.Price != nil {
			updated.Lines[idx].Price = *c.Price
		}
		if c.NewQuantity == 0 {
			updated.Lines = slices.Delete(updated.Lines, idx, idx+1)
		} else {
			updated.Lines[idx].Quantity = c.NewQuantity
		}
		if old != c.NewQuantity {
			diffs = append(diffs, AdjustmentLine{ProductID: c.ProductID, OldQuantity: old, NewQuantity: c.NewQuantity, Difference: c.NewQuantity - old})
		}
	}

	for i, productID := range removed {
		if seen[productID] {
			return Purchase{}, nil, shared.Invalid(fmt.Sprintf("removed[%d]", i), "product %s is also corrected", productID)
		}
		seen[productID] = true
		idx := updated.index(productID)
		if idx < 0 {
			return Purchase{}, nil, shared.Invalid(fmt.Sprintf("removed[%d]", i), "product %s is not on the purchase", productID)
		}
		old := updated.Lines[idx].Quantity
		updated.Lines = slices.Delete(updated.Lines, idx, idx+1)
		diffs = append(diffs, AdjustmentLine{ProductID: productID, OldQuantity: old, Difference: -old})
	}

	updated.RecomputeTotals()
	return updated, diffs, nil
}

func validateCreate(input CreatePurchaseInput) error {
	if strings.TrimSpace(input.InvoiceNo) == "" {
		return shared.Invalid("invoiceNo", "is required")
	}
	if input.WarehouseID == uuid.Nil {
		return shared.Invalid("warehouseId", "is required")
	}
	if input.SupplierID == uuid.Nil {
		return shared.Invalid("supplierId", "is required")
	}
	if input.GSTPercent != nil && (input.GSTPercent.IsNegative() || input.GSTPercent.GreaterThan(decimal.NewFromInt(100))) {
		return shared.Invalid("gstPercent", "must be between 0 and 100")
	}
	if len(input.Lines) == 0 {
		return shared.Invalid("products", "at least one line is required")
	}
	seen := make(map[uuid.UUID]bool, len(input.Lines))
	for i, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return shared.Invalid(fmt.Sprintf("products[%d].productId", i), "is required")
		}
		if seen[line.ProductID] {
			return shared.Invalid(fmt.Sprintf("products[%d].productId", i), "duplicate product %s", line.ProductID)
		}
		seen[line.ProductID] = true
		if line.Quantity <= 0 {
			return shared.Invalid(fmt.Sprintf("products[%d].quantity", i), "must be greater than zero")
		}
		if line.Price.IsNegative() {
			return shared.Invalid(fmt.Sprintf("products[%d].price", i), "must not be negative")
		}
	}
	return nil
}

// labelShortfall names the purchase line in an insufficient stock error.
func labelShortfall(err error, line Line) error {
	var short *inventory.InsufficientStockError
	if errors.As(err, &short) && short.Label == "" {
		short.Label = line.Label
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, purchaseID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "purchasing." + action,
		Entity:   "purchase",
		EntityID: purchaseID.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("purchasing audit", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
