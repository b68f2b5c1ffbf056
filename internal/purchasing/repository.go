package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// TxRepository exposes purchase persistence inside a transaction together
// with the ledger bound to the same transaction.
type TxRepository interface {
	Ledger() inventory.TxRepository
	InsertPurchase(ctx context.Context, p Purchase) error
	GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	HasTransfers(ctx context.Context, purchaseID uuid.UUID) (bool, error)
	PendingRelocation(ctx context.Context, purchaseID uuid.UUID) (*Relocation, error)
	InsertAdjustment(ctx context.Context, a Adjustment) error
	InsertRelocation(ctx context.Context, r Relocation) error
	GetRelocationForUpdate(ctx context.Context, id uuid.UUID) (Relocation, error)
	UpdateRelocationStatus(ctx context.Context, id uuid.UUID, status RelocationStatus) error
}

// Repository persists purchases in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
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

const purchaseColumns = `id, date, invoice_no, warehouse_id, supplier_id, subtotal, gst_percent, gst, total, user_id, created_at, updated_at`

func (t *txRepo) InsertPurchase(ctx context.Context, p Purchase) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchases (`+purchaseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Date, p.InvoiceNo, p.WarehouseID, p.SupplierID, p.Subtotal, p.GSTPercent, p.GST, p.Total, p.UserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("purchasing: insert purchase: %w", err)
	}
	return t.insertLines(ctx, p)
}

func (t *txRepo) insertLines(ctx context.Context, p Purchase) error {
	batch := &pgx.Batch{}
	for i, line := range p.Lines {
		batch.Queue(`INSERT INTO purchase_lines (purchase_id, line_no, product_id, label, price, quantity) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, i+1, line.ProductID, line.Label, line.Price, line.Quantity)
	}
	results := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("purchasing: insert line: %w", err)
		}
	}
	return results.Close()
}

func (t *txRepo) GetPurchaseForUpdate(ctx context.Context, id uuid.UUID) (Purchase, error) {
	return loadPurchase(ctx, t.tx, id, true)
}

func (t *txRepo) UpdatePurchase(ctx context.Context, p Purchase) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchases SET warehouse_id = $2, subtotal = $3, gst_percent = $4, gst = $5, total = $6, updated_at = $7 WHERE id = $1`,
		p.ID, p.WarehouseID, p.Subtotal, p.GSTPercent, p.GST, p.Total, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("purchasing: update purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &PurchaseNotFoundError{PurchaseID: p.ID}
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_lines WHERE purchase_id = $1`, p.ID); err != nil {
		return fmt.Errorf("purchasing: replace lines: %w", err)
	}
	return t.insertLines(ctx, p)
}

func (t *txRepo) HasTransfers(ctx context.Context, purchaseID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_transfers WHERE purchase_id = $1)`, purchaseID).Scan(&exists)
	return exists, err
}

const relocationColumns = `id, purchase_id, from_warehouse_id, to_warehouse_id, status, lines, adjustments, user_id, created_at, updated_at`

func scanRelocation(row pgx.Row) (Relocation, error) {
	var r Relocation
	err := row.Scan(&r.ID, &r.PurchaseID, &r.FromWarehouseID, &r.ToWarehouseID, &r.Status, &r.Lines, &r.Adjustments, &r.UserID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (t *txRepo) PendingRelocation(ctx context.Context, purchaseID uuid.UUID) (*Relocation, error) {
	r, err := scanRelocation(t.tx.QueryRow(ctx, `SELECT `+relocationColumns+` FROM purchase_relocations WHERE purchase_id = $1 AND status = $2 LIMIT 1`,
		purchaseID, RelocationReleased))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *txRepo) InsertAdjustment(ctx context.Context, a Adjustment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_adjustments (id, purchase_id, warehouse_id, from_warehouse_id, user_id, date, lines) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.PurchaseID, a.WarehouseID, a.FromWarehouseID, a.UserID, a.Date, a.Lines)
	if err != nil {
		return fmt.Errorf("purchasing: insert adjustment: %w", err)
	}
	return nil
}

func (t *txRepo) InsertRelocation(ctx context.Context, r Relocation) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_relocations (`+relocationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.PurchaseID, r.FromWarehouseID, r.ToWarehouseID, r.Status, r.Lines, r.Adjustments, r.UserID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("purchasing: insert relocation: %w", err)
	}
	return nil
}

func (t *txRepo) GetRelocationForUpdate(ctx context.Context, id uuid.UUID) (Relocation, error) {
	r, err := scanRelocation(t.tx.QueryRow(ctx, `SELECT `+relocationColumns+` FROM purchase_relocations WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Relocation{}, shared.NotFound("relocation", id)
	}
	return r, err
}

func (t *txRepo) UpdateRelocationStatus(ctx context.Context, id uuid.UUID, status RelocationStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_relocations SET status = $2, updated_at = $3 WHERE id = $1`, id, status, time.Now().UTC())
	return err
}

// GetPurchase loads a purchase with its lines.
func (r *Repository) GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error) {
	return loadPurchase(ctx, r.pool, id, false)
}

// ListPurchases returns purchases matching the filter, newest first.
func (r *Repository) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE 1=1`
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.WarehouseID != uuid.Nil {
		add("warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.SupplierID != uuid.Nil {
		add("supplier_id = $%d", filter.SupplierID)
	}
	if !filter.From.IsZero() {
		add("date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("date < $%d", endOfDay(filter.To))
	}
	query += ` ORDER BY date DESC, created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	purchases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Purchase, error) {
		return scanPurchase(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range purchases {
		if purchases[i].Lines, err = loadLines(ctx, r.pool, purchases[i].ID); err != nil {
			return nil, err
		}
	}
	return purchases, nil
}

// PurchasesByProduct returns the lines of a product purchased into a warehouse.
func (r *Repository) PurchasesByProduct(ctx context.Context, warehouseID, productID uuid.UUID) ([]ProductPurchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.date, p.invoice_no, p.supplier_id, l.product_id, l.label, l.price, l.quantity
		FROM purchases p
		JOIN purchase_lines l ON l.purchase_id = p.id
		WHERE p.warehouse_id = $1 AND l.product_id = $2
		ORDER BY p.date DESC`, warehouseID, productID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProductPurchase, error) {
		var pp ProductPurchase
		err := row.Scan(&pp.PurchaseID, &pp.Date, &pp.InvoiceNo, &pp.SupplierID,
			&pp.Line.ProductID, &pp.Line.Label, &pp.Line.Price, &pp.Line.Quantity)
		pp.LineTotal = pp.Line.Total()
		return pp, err
	})
}

// ListAdjustments returns the adjustments of a purchase, newest first.
func (r *Repository) ListAdjustments(ctx context.Context, purchaseID uuid.UUID) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_id, warehouse_id, from_warehouse_id, user_id, date, lines FROM stock_adjustments WHERE purchase_id = $1 ORDER BY date DESC`, purchaseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Adjustment, error) {
		var a Adjustment
		err := row.Scan(&a.ID, &a.PurchaseID, &a.WarehouseID, &a.FromWarehouseID, &a.UserID, &a.Date, &a.Lines)
		return a, err
	})
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.Date, &p.InvoiceNo, &p.WarehouseID, &p.SupplierID, &p.Subtotal, &p.GSTPercent, &p.GST, &p.Total, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func loadPurchase(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPurchase(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, &PurchaseNotFoundError{PurchaseID: id}
	}
	if err != nil {
		return Purchase{}, err
	}
	p.Lines, err = loadLines(ctx, q, id)
	return p, err
}

func loadLines(ctx context.Context, q querier, purchaseID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT product_id, label, price, quantity FROM purchase_lines WHERE purchase_id = $1 ORDER BY line_no`, purchaseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ProductID, &l.Label, &l.Price, &l.Quantity)
		return l, err
	})
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}
