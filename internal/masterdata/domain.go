package masterdata

import (
	"context"

	"github.com/google/uuid"
)

// Product is the catalogue entry referenced by ledger lines. Maintained
// outside this service; read only here.
type Product struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	SKU                   string    `json:"sku"`
	Type                  string    `json:"type"`
	SecondaryType         string    `json:"secondaryType"`
	Brand                 string    `json:"brand"`
	MinimumStockThreshold int64     `json:"minimumStockThreshold"`
	Active                bool      `json:"active"`
}

// Warehouse is a stock location.
type Warehouse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Address  string    `json:"address"`
	Active   bool      `json:"active"`
}

// Repository reads master data.
type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetWarehouse(ctx context.Context, id uuid.UUID) (Warehouse, error)
	ListReorderProducts(ctx context.Context) ([]Product, error)
}
