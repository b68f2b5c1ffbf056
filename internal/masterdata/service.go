package masterdata

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Service resolves master data for labels and error messages.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new master data service
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// GetProduct loads a product.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// GetWarehouse loads a warehouse.
func (s *Service) GetWarehouse(ctx context.Context, id uuid.UUID) (Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

// ListReorderProducts returns products that carry a reorder threshold.
func (s *Service) ListReorderProducts(ctx context.Context) ([]Product, error) {
	return s.repo.ListReorderProducts(ctx)
}

// ProductName returns the product name, or its id when the lookup fails.
func (s *Service) ProductName(ctx context.Context, id uuid.UUID) string {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil || p.Name == "" {
		if err != nil {
			s.logger.Debug("product lookup", slog.String("product_id", id.String()), slog.Any("error", err))
		}
		return id.String()
	}
	return p.Name
}

// WarehouseName returns the warehouse name, or its id when the lookup fails.
func (s *Service) WarehouseName(ctx context.Context, id uuid.UUID) string {
	w, err := s.repo.GetWarehouse(ctx, id)
	if err != nil || w.Name == "" {
		if err != nil {
			s.logger.Debug("warehouse lookup", slog.String("warehouse_id", id.String()), slog.Any("error", err))
		}
		return id.String()
	}
	return w.Name
}
