package orderrequests

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/masterdata"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Insert(ctx context.Context, req OrderRequest) error
	Get(ctx context.Context, id uuid.UUID) (OrderRequest, error)
	List(ctx context.Context, status Status) ([]OrderRequest, error)
	Placements(ctx context.Context) ([]Placement, error)
}

// LedgerReader lists the current warehouse records.
type LedgerReader interface {
	ListInventories(ctx context.Context) ([]inventory.WarehouseInventory, error)
}

// CatalogPort reads reorder thresholds and display names.
type CatalogPort interface {
	ListReorderProducts(ctx context.Context) ([]masterdata.Product, error)
	ProductName(ctx context.Context, id uuid.UUID) string
	WarehouseName(ctx context.Context, id uuid.UUID) string
}

// Service builds order requests for stock below its reorder threshold.
type Service struct {
	repo         RepositoryPort
	ledger       LedgerReader
	catalog      CatalogPort
	systemUserID uuid.UUID
	logger       *slog.Logger
	now          func() time.Time
}

// NewService constructs the order request service. Generated requests are
// attributed to systemUserID.
func NewService(repo RepositoryPort, ledger LedgerReader, catalog CatalogPort, systemUserID uuid.UUID, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, catalog: catalog, systemUserID: systemUserID, logger: logger, now: time.Now}
}

// ScanLowStock stores one Pending request covering every product that is below
// its reorder level in a warehouse, and returns nil when nothing is low. The
// ledger is only read.
//
// A warehouse is checked for the products on its lines, the products it
// received before (purchases and transfers in) and, when its minimum stock
// level is positive, every reorder product. A product without a line counts
// as zero. The level is the product's threshold, or the warehouse minimum for
// products without one.
func (s *Service) ScanLowStock(ctx context.Context) (*OrderRequest, error) {
	products, err := s.catalog.ListReorderProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderrequests: list reorder products: %w", err)
	}
	inventories, err := s.ledger.ListInventories(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderrequests: list inventories: %w", err)
	}
	placements, err := s.repo.Placements(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderrequests: list placements: %w", err)
	}

	reorder := make(map[uuid.UUID]masterdata.Product, len(products))
	for _, p := range products {
		reorder[p.ID] = p
	}
	held := make(map[uuid.UUID][]uuid.UUID)
	for _, pl := range placements {
		held[pl.WarehouseID] = append(held[pl.WarehouseID], pl.ProductID)
	}

	var (
		items []Item
		notes []string
	)
	for _, inv := range inventories {
		onHand := make(map[uuid.UUID]int64, len(inv.Lines))
		candidates := make([]uuid.UUID, 0, len(inv.Lines))
		for _, line := range inv.Lines {
			onHand[line.ProductID] += line.Quantity
			candidates = append(candidates, line.ProductID)
		}
		candidates = append(candidates, held[inv.WarehouseID]...)
		if inv.MinimumStockLevel > 0 {
			for _, p := range products {
				candidates = append(candidates, p.ID)
			}
		}

		seen := make(map[uuid.UUID]bool, len(candidates))
		for _, productID := range candidates {
			if seen[productID] {
				continue
			}
			seen[productID] = true
			level := inv.MinimumStockLevel
			product, isReorder := reorder[productID]
			if isReorder {
				level = product.MinimumStockThreshold
			}
			current := onHand[productID]
			if level <= 0 || current >= level {
				continue
			}
			items = append(items, Item{
				ProductID:                  productID,
				WarehouseID:                inv.WarehouseID,
				CurrentStockAtRequest:      current,
				MinimumStockLevelAtRequest: level,
				QuantityToOrder:            quantityToOrder(level, current),
			})
			name := product.Name
			if !isReorder || name == "" {
				name = s.catalog.ProductName(ctx, productID)
			}
			notes = append(notes, fmt.Sprintf("%s in %s", name, s.catalog.WarehouseName(ctx, inv.WarehouseID)))
		}
	}
	if len(items) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	req := OrderRequest{
		ID:          uuid.New(),
		RequestDate: now,
		Status:      StatusPending,
		GeneratedBy: s.systemUserID,
		UserID:      s.systemUserID,
		Items:       items,
		Notes:       "Auto-generated for low stock: " + strings.Join(notes, "; "),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("low stock order request created", slog.String("order_request_id", req.ID.String()), slog.Int("items", len(items)))
	return &req, nil
}

// Get loads one order request.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (OrderRequest, error) {
	return s.repo.Get(ctx, id)
}

// List returns order requests, optionally by status.
func (s *Service) List(ctx context.Context, status Status) ([]OrderRequest, error) {
	if status != "" && !status.Valid() {
		return nil, shared.Invalid("status", "unknown status %q", status)
	}
	return s.repo.List(ctx, status)
}
