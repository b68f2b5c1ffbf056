package installers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// TxRepository exposes installer rows inside a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (Installer, error)
	Save(ctx context.Context, installer Installer) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists installers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads an installer without locking.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Installer, error) {
	return load(ctx, r.pool, id, false)
}

type txRepo struct {
	q querier
}

// NewTxRepository binds installer operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Installer, error) {
	return load(ctx, t.q, id, true)
}

func (t *txRepo) Save(ctx context.Context, installer Installer) error {
	tag, err := t.q.Exec(ctx, `UPDATE installers SET stock_issued = $2, stock_installed = $3, updated_at = $4 WHERE id = $1`,
		installer.ID, installer.StockIssued, installer.StockInstalled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("installers: update %s: %w", installer.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("installer", installer.ID)
	}
	for i, jobID := range installer.Jobs {
		if _, err := t.q.Exec(ctx, `INSERT INTO installer_jobs (installer_id, job_id, position) VALUES ($1, $2, $3) ON CONFLICT (installer_id, job_id) DO NOTHING`,
			installer.ID, jobID, i+1); err != nil {
			return fmt.Errorf("installers: append job %s: %w", jobID, err)
		}
	}
	return nil
}

func load(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Installer, error) {
	query := `SELECT id, name, contact_no, stock_issued, stock_installed, notes, updated_at FROM installers WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var in Installer
	err := q.QueryRow(ctx, query, id).Scan(&in.ID, &in.Name, &in.ContactNo, &in.StockIssued, &in.StockInstalled, &in.Notes, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Installer{}, shared.NotFound("installer", id)
	}
	if err != nil {
		return Installer{}, err
	}
	rows, err := q.Query(ctx, `SELECT job_id FROM installer_jobs WHERE installer_id = $1 ORDER BY position`, id)
	if err != nil {
		return Installer{}, err
	}
	in.Jobs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return Installer{}, err
	}
	return in, nil
}
