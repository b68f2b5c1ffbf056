package jobstock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/installers"
	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// TxRepository exposes job persistence inside a transaction together with
// the ledger and installer counters bound to the same transaction.
type TxRepository interface {
	Ledger() inventory.TxRepository
	Installers() installers.TxRepository
	InsertJob(ctx context.Context, job Job) error
	GetJobForUpdate(ctx context.Context, id uuid.UUID) (Job, error)
	UpdateJob(ctx context.Context, job Job) error
}

const (
	lineKindProduct     = "product"
	lineKindRequirement = "requirement"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists jobs in PostgreSQL.
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

func (t *txRepo) Installers() installers.TxRepository {
	return installers.NewTxRepository(t.tx)
}

const jobColumns = `id, work_type, address, installer_id, status, user_id, issued_date, actual_completed_date, history, created_at, updated_at`

func (t *txRepo) InsertJob(ctx context.Context, job Job) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.WorkType, job.Address, job.InstallerID, job.Status, job.UserID,
		job.IssuedDate, job.ActualCompletedDate, job.History, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("jobstock: insert job: %w", err)
	}
	return t.insertLines(ctx, job)
}

func (t *txRepo) insertLines(ctx context.Context, job Job) error {
	batch := &pgx.Batch{}
	queue := func(kind string, lines []Line) {
		for i, line := range lines {
			batch.Queue(`INSERT INTO job_lines (job_id, kind, line_no, product_id, warehouse_id, quantity) VALUES ($1, $2, $3, $4, $5, $6)`,
				job.ID, kind, i+1, line.ProductID, line.WarehouseID, line.Quantity)
		}
	}
	queue(lineKindProduct, job.Products)
	queue(lineKindRequirement, job.Requirements)
	if batch.Len() == 0 {
		return nil
	}
	results := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("jobstock: insert line: %w", err)
		}
	}
	return results.Close()
}

func (t *txRepo) GetJobForUpdate(ctx context.Context, id uuid.UUID) (Job, error) {
	return loadJob(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateJob(ctx context.Context, job Job) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE jobs SET work_type = $2, address = $3, installer_id = $4, status = $5,
			issued_date = $6, actual_completed_date = $7, history = $8, updated_at = $9
		WHERE id = $1`,
		job.ID, job.WorkType, job.Address, job.InstallerID, job.Status,
		job.IssuedDate, job.ActualCompletedDate, job.History, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("jobstock: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("job", job.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM job_lines WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("jobstock: replace lines: %w", err)
	}
	return t.insertLines(ctx, job)
}

// GetJob loads a job with its lines.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	return loadJob(ctx, r.pool, id, false)
}

// ListJobs returns jobs matching the filter, newest first.
func (r *Repository) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.UserID != uuid.Nil {
		add("user_id = $%d", filter.UserID)
	}
	if filter.InstallerID != uuid.Nil {
		add("installer_id = $%d", filter.InstallerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if err := loadLines(ctx, r.pool, &jobs[i]); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.WorkType, &j.Address, &j.InstallerID, &j.Status, &j.UserID,
		&j.IssuedDate, &j.ActualCompletedDate, &j.History, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

func loadJob(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	job, err := scanJob(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, shared.NotFound("job", id)
	}
	if err != nil {
		return Job{}, err
	}
	if err := loadLines(ctx, q, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func loadLines(ctx context.Context, q querier, job *Job) error {
	rows, err := q.Query(ctx, `SELECT kind, product_id, warehouse_id, quantity FROM job_lines WHERE job_id = $1 ORDER BY kind, line_no`, job.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var line Line
		if err := rows.Scan(&kind, &line.ProductID, &line.WarehouseID, &line.Quantity); err != nil {
			return err
		}
		if kind == lineKindRequirement {
			job.Requirements = append(job.Requirements, line)
		} else {
			job.Products = append(job.Products, line)
		}
	}
	return rows.Err()
}
