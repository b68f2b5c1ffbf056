package orderrequests

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Repository persists order requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, request_date, status, generated_by, user_id, items, notes, email_sent, created_at, updated_at`

// Insert stores a new order request. Items are kept as a JSON document.
func (r *Repository) Insert(ctx context.Context, req OrderRequest) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO order_requests (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.RequestDate, req.Status, req.GeneratedBy, req.UserID, req.Items, req.Notes, req.EmailSent, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orderrequests: insert: %w", err)
	}
	return nil
}

// Get loads one order request.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (OrderRequest, error) {
	req, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM order_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderRequest{}, shared.NotFound("order request", id)
	}
	return req, err
}

// List returns order requests newest first, optionally by status.
func (r *Repository) List(ctx context.Context, status Status) ([]OrderRequest, error) {
	query := `SELECT ` + columns + ` FROM order_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY request_date DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderRequest, error) {
		return scan(row)
	})
}

// Placements lists every warehouse and product pair that stock has been
// purchased into or transferred into.
func (r *Repository) Placements(ctx context.Context) ([]Placement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.warehouse_id, l.product_id
		  FROM purchase_lines l
		  JOIN purchases p ON p.id = l.purchase_id
		UNION
		SELECT to_warehouse_id, product_id FROM stock_transfers`)
	if err != nil {
		return nil, fmt.Errorf("orderrequests: placements: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Placement])
}

func scan(row pgx.Row) (OrderRequest, error) {
	var req OrderRequest
	err := row.Scan(&req.ID, &req.RequestDate, &req.Status, &req.GeneratedBy, &req.UserID,
		&req.Items, &req.Notes, &req.EmailSent, &req.CreatedAt, &req.UpdatedAt)
	return req, err
}
