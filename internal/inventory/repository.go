package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository persists warehouse inventories in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

type txRepo struct {
	q Querier
}

// NewTxRepository exposes ledger operations on an open transaction so other
// modules can mutate stock atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetInventory loads a warehouse record without locking it.
func (r *Repository) GetInventory(ctx context.Context, warehouseID uuid.UUID) (WarehouseInventory, error) {
	inv, err := loadInventory(ctx, r.pool, warehouseID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return WarehouseInventory{}, shared.NotFound("warehouse inventory", warehouseID)
	}
	return inv, err
}

// ListInventories loads every warehouse record.
func (r *Repository) ListInventories(ctx context.Context) ([]WarehouseInventory, error) {
	ids, err := r.ListWarehouseIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]WarehouseInventory, 0, len(ids))
	for _, id := range ids {
		inv, err := loadInventory(ctx, r.pool, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// ListWarehouseIDs returns the ids of all warehouses holding a record.
func (r *Repository) ListWarehouseIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id FROM warehouse_inventories ORDER BY warehouse_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (t *txRepo) LockInventory(ctx context.Context, warehouseID uuid.UUID) (WarehouseInventory, error) {
	_, err := t.q.Exec(ctx, `INSERT INTO warehouse_inventories (warehouse_id) VALUES ($1) ON CONFLICT (warehouse_id) DO NOTHING`, warehouseID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return WarehouseInventory{}, shared.NotFound("warehouse", warehouseID)
		}
		return WarehouseInventory{}, fmt.Errorf("inventory: ensure record: %w", err)
	}
	return loadInventory(ctx, t.q, warehouseID, true)
}

func (t *txRepo) SaveInventory(ctx context.Context, inv WarehouseInventory) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE warehouse_inventories SET current_stock = $2, minimum_stock_level = $3, last_updated = $4 WHERE warehouse_id = $1`,
		inv.WarehouseID, inv.CurrentStock, inv.MinimumStockLevel, inv.LastUpdated)
	batch.Queue(`DELETE FROM warehouse_inventory_lines WHERE warehouse_id = $1`, inv.WarehouseID)
	for i, line := range inv.Lines {
		batch.Queue(`INSERT INTO warehouse_inventory_lines (warehouse_id, line_no, product_id, price, quantity) VALUES ($1, $2, $3, $4, $5)`,
			inv.WarehouseID, i+1, line.ProductID, line.Price, line.Quantity)
	}
	results := t.q.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("inventory: save warehouse %s: %w", inv.WarehouseID, err)
		}
	}
	return results.Close()
}

func loadInventory(ctx context.Context, q Querier, warehouseID uuid.UUID, forUpdate bool) (WarehouseInventory, error) {
	query := `SELECT warehouse_id, current_stock, minimum_stock_level, last_updated FROM warehouse_inventories WHERE warehouse_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var inv WarehouseInventory
	if err := q.QueryRow(ctx, query, warehouseID).Scan(&inv.WarehouseID, &inv.CurrentStock, &inv.MinimumStockLevel, &inv.LastUpdated); err != nil {
		return WarehouseInventory{}, err
	}
	rows, err := q.Query(ctx, `SELECT product_id, price, quantity FROM warehouse_inventory_lines WHERE warehouse_id = $1 ORDER BY line_no`, warehouseID)
	if err != nil {
		return WarehouseInventory{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ProductID, &line.Price, &line.Quantity); err != nil {
			return WarehouseInventory{}, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	return inv, rows.Err()
}
