package transfers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/shared"
)

const idempotencyModule = "transfers.create"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	OldestPurchase(ctx context.Context, warehouseID, productID uuid.UUID) (*uuid.UUID, error)
	List(ctx context.Context, search string, limit int) ([]Transfer, error)
}

// NamePort resolves display names for products and warehouses.
type NamePort interface {
	ProductName(ctx context.Context, id uuid.UUID) string
	WarehouseName(ctx context.Context, id uuid.UUID) string
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

// Service moves stock between warehouses.
type Service struct {
	repo        RepositoryPort
	names       NamePort
	audit       AuditPort
	idempotency IdempotencyPort
	observer    inventory.Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the transfer service. names, audit, idem and observer may be nil.
func NewService(repo RepositoryPort, names NamePort, audit AuditPort, idem IdempotencyPort, observer inventory.Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		names:       names,
		audit:       audit,
		idempotency: idem,
		observer:    inventory.Observers(observer),
		logger:      logger,
		now:         time.Now,
	}
}

// Transfer debits the source warehouse and credits the destination in one
// transaction. A new destination line takes the source line's price.
func (s *Service) Transfer(ctx context.Context, input Input) (Transfer, error) {
	if err := validate(input); err != nil {
		return Transfer{}, err
	}
	inserted := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return Transfer{}, err
		}
		inserted = true
	}

	transfer := Transfer{
		ID:              uuid.New(),
		FromWarehouseID: input.FromWarehouseID,
		ToWarehouseID:   input.ToWarehouseID,
		ProductID:       input.ProductID,
		ProductLabel:    s.productName(ctx, input.ProductID),
		Quantity:        input.Quantity,
		Reason:          strings.TrimSpace(input.Reason),
		UserID:          input.Actor.UserID,
		CreatedAt:       s.now().UTC(),
	}
	purchaseID, err := s.repo.OldestPurchase(ctx, input.FromWarehouseID, input.ProductID)
	if err != nil {
		s.logger.Warn("resolve transfer purchase", slog.String("product_id", input.ProductID.String()), slog.Any("error", err))
	}
	transfer.PurchaseID = purchaseID

	var touched []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess := inventory.NewSession(tx.Ledger())
		if err := sess.Lock(ctx, input.FromWarehouseID, input.ToWarehouseID); err != nil {
			return err
		}
		demand := inventory.Demand{WarehouseID: input.FromWarehouseID, ProductID: input.ProductID, Quantity: input.Quantity}
		if err := sess.Require(ctx, []inventory.Demand{demand}); err != nil {
			return s.describeShortfall(ctx, err, transfer.ProductLabel)
		}
		src, err := sess.Inventory(ctx, input.FromWarehouseID)
		if err != nil {
			return err
		}
		line, _ := src.Line(input.ProductID)
		price := line.Price
		if err := sess.Debit(ctx, input.FromWarehouseID, input.ProductID, input.Quantity); err != nil {
			return err
		}

		if err := sess.Credit(ctx, input.ToWarehouseID, input.ProductID, input.Quantity, &price); err != nil {
			return s.inconsistent(input, err)
		}
		if err := tx.Insert(ctx, transfer); err != nil {
			return s.inconsistent(input, err)
		}
		touched = sess.Touched()
		if err := sess.Flush(ctx); err != nil {
			return s.inconsistent(input, err)
		}
		return nil
	})
	if err != nil {
		if inserted {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		s.observer.LedgerRejected(ctx, "transfer", err)
		return Transfer{}, err
	}
	s.observer.LedgerCommitted(ctx, "transfer", touched)
	s.recordAudit(ctx, input.Actor, transfer)
	return transfer, nil
}

// List returns recent transfers matching search on product label or reason.
func (s *Service) List(ctx context.Context, search string, limit int) ([]Transfer, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.repo.List(ctx, strings.TrimSpace(search), limit)
}

func (s *Service) inconsistent(input Input, err error) error {
	wrapped := &TransferConsistencyError{
		FromWarehouseID: input.FromWarehouseID,
		ToWarehouseID:   input.ToWarehouseID,
		ProductID:       input.ProductID,
		Quantity:        input.Quantity,
		Err:             err,
	}
	s.logger.Error("transfer failed after debit",
		slog.String("from_warehouse_id", input.FromWarehouseID.String()),
		slog.String("to_warehouse_id", input.ToWarehouseID.String()),
		slog.String("product_id", input.ProductID.String()),
		slog.Int64("quantity", input.Quantity),
		slog.Bool("alert", true),
		slog.Any("error", err))
	return wrapped
}

func (s *Service) describeShortfall(ctx context.Context, err error, label string) error {
	var short *inventory.InsufficientStockError
	if errors.As(err, &short) {
		short.Label = label
		if s.names != nil {
			short.Warehouse = s.names.WarehouseName(ctx, short.WarehouseID)
		}
	}
	return err
}

func (s *Service) productName(ctx context.Context, id uuid.UUID) string {
	if s.names == nil {
		return id.String()
	}
	return s.names.ProductName(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, t Transfer) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "transfers.create",
		Entity:   "stock_transfer",
		EntityID: t.ID.String(),
		Meta: map[string]any{
			"from":     t.FromWarehouseID.String(),
			"to":       t.ToWarehouseID.String(),
			"product":  t.ProductID.String(),
			"quantity": t.Quantity,
		},
		At: t.CreatedAt,
	}); err != nil {
		s.logger.Warn("transfers audit", slog.Any("error", err))
	}
}

func validate(input Input) error {
	switch {
	case input.FromWarehouseID == uuid.Nil:
		return shared.Invalid("fromWarehouseId", "is required")
	case input.ToWarehouseID == uuid.Nil:
		return shared.Invalid("toWarehouseId", "is required")
	case input.FromWarehouseID == input.ToWarehouseID:
		return shared.Invalid("toWarehouseId", "must differ from fromWarehouseId")
	case input.ProductID == uuid.Nil:
		return shared.Invalid("productId", "is required")
	case input.Quantity <= 0:
		return inventory.ErrInvalidQuantity
	}
	return nil
}
