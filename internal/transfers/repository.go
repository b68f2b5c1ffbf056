package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/platform/db"
)

// TxRepository exposes transfer writes and the ledger on one transaction.
type TxRepository interface {
	Ledger() inventory.TxRepository
	Insert(ctx context.Context, t Transfer) error
}

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) Ledger() inventory.TxRepository {
	return inventory.NewTxRepository(t.tx)
}

func (t *txRepo) Insert(ctx context.Context, tr Transfer) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_transfers (id, from_warehouse_id, to_warehouse_id, product_id, product_label, quantity, reason, purchase_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tr.ID, tr.FromWarehouseID, tr.ToWarehouseID, tr.ProductID, tr.ProductLabel, tr.Quantity, tr.Reason, tr.PurchaseID, tr.UserID, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("transfers: insert: %w", err)
	}
	return nil
}

// OldestPurchase returns the earliest purchase of productID into warehouseID, or nil.
func (r *Repository) OldestPurchase(ctx context.Context, warehouseID, productID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT p.id FROM purchases p
		WHERE p.warehouse_id = $1 AND EXISTS (SELECT 1 FROM purchase_lines l WHERE l.purchase_id = p.id AND l.product_id = $2)
		ORDER BY p.date ASC, p.created_at ASC
		LIMIT 1`, warehouseID, productID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List returns transfers newest first, optionally filtered by a
// case-insensitive match on product label or reason.
func (r *Repository) List(ctx context.Context, search string, limit int) ([]Transfer, error) {
	query := `SELECT id, from_warehouse_id, to_warehouse_id, product_id, product_label, quantity, reason, purchase_id, user_id, created_at FROM stock_transfers`
	args := []any{limit}
	if search != "" {
		query += ` WHERE product_label ILIKE $2 OR reason ILIKE $2`
		args = append(args, "%"+likeEscaper.Replace(search)+"%")
	}
	query += ` ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transfer, error) {
		var t Transfer
		err := row.Scan(&t.ID, &t.FromWarehouseID, &t.ToWarehouseID, &t.ProductID, &t.ProductLabel, &t.Quantity, &t.Reason, &t.PurchaseID, &t.UserID, &t.CreatedAt)
		return t, err
	})
}
