package jobstock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/installers"
	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, error)
}

// NamePort resolves display names for products and warehouses.
type NamePort interface {
	ProductName(ctx context.Context, id uuid.UUID) string
	WarehouseName(ctx context.Context, id uuid.UUID) string
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options carries deployment specific settings.
type Options struct {
	// UnassignedInstallerID receives jobs created without an installer.
	UnassignedInstallerID uuid.UUID
	ReturnPolicy          ReturnPolicy
}

// Service drives the stock side of the job lifecycle. Every workflow commits
// ledger changes, installer counters and the job row in one transaction.
type Service struct {
	repo     RepositoryPort
	names    NamePort
	audit    AuditPort
	observer inventory.Observer
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewService constructs the job stock service. names, audit and observer may be nil.
func NewService(repo RepositoryPort, names NamePort, audit AuditPort, observer inventory.Observer, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReturnPolicy == "" {
		opts.ReturnPolicy = ReturnFromInstalled
	}
	return &Service{
		repo:     repo,
		names:    names,
		audit:    audit,
		observer: inventory.Observers(observer),
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// CreateJob commits the job's products: each line is debited from its
// warehouse and the total is issued to the installer.
func (s *Service) CreateJob(ctx context.Context, input CreateInput) (Job, error) {
	job, err := s.newJob(input)
	if err != nil {
		return Job{}, err
	}

	var touched []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess := inventory.NewSession(tx.Ledger())
		if err := sess.Lock(ctx, warehouseIDs(job.Products)...); err != nil {
			return err
		}
		if err := sess.Require(ctx, demands(job.Products)); err != nil {
			return s.describeShortfall(ctx, err)
		}
		crew, err := lockInstallers(ctx, tx.Installers(), job.InstallerID)
		if err != nil {
			return err
		}
		for _, line := range job.Products {
			if err := sess.Debit(ctx, line.WarehouseID, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		crew.get(job.InstallerID).Issue(job.CommittedQuantity())
		if err := crew.save(ctx); err != nil {
			return err
		}
		if err := tx.InsertJob(ctx, job); err != nil {
			return err
		}
		touched = sess.Touched()
		return sess.Flush(ctx)
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, "job_create", err)
		return Job{}, err
	}
	s.observer.LedgerCommitted(ctx, "job_create", touched)
	s.recordAudit(ctx, "create", input.Actor, job, map[string]any{"status": job.Status, "units": job.CommittedQuantity()})
	return job, nil
}

func (s *Service) newJob(input CreateInput) (Job, error) {
	status := input.Status
	if status == "" {
		status = StatusPending
	}
	switch status {
	case StatusDraft, StatusPending, StatusIssued:
	default:
		return Job{}, shared.Invalid("status", "a job cannot be created as %s", status)
	}
	products, err := normalizeLines("products", input.Products)
	if err != nil {
		return Job{}, err
	}
	requirements, err := normalizeLines("requirements", input.Requirements)
	if err != nil {
		return Job{}, err
	}
	now := s.now().UTC()
	job := Job{
		ID:           uuid.New(),
		WorkType:     strings.TrimSpace(input.WorkType),
		Address:      strings.TrimSpace(input.Address),
		InstallerID:  s.installerOrUnassigned(input.InstallerID),
		Status:       status,
		UserID:       input.Actor.UserID,
		Products:     products,
		Requirements: requirements,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status == StatusIssued {
		job.IssuedDate = &now
	}
	job.appendHistory(now, "created as %s by %s", status, input.Actor.UserID)
	return job, nil
}

// UpdateJob edits a job. When the products or the installer change, the old
// commitment is reversed and the new one applied; the status transition then
// installs or cancels what is committed. Installed and Cancelled jobs only
// accept a request that changes nothing; there a nil InstallerID or Products
// means unchanged.
func (s *Service) UpdateJob(ctx context.Context, input UpdateInput) (Job, error) {
	if input.Status != "" && !input.Status.Valid() {
		return Job{}, shared.Invalid("status", "unknown status %q", input.Status)
	}
	products, err := normalizeLines("products", input.Products)
	if err != nil {
		return Job{}, err
	}
	requirements, err := normalizeLines("requirements", input.Requirements)
	if err != nil {
		return Job{}, err
	}
	installerID := s.installerOrUnassigned(input.InstallerID)

	var (
		updated Job
		touched []uuid.UUID
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		job, err := tx.GetJobForUpdate(ctx, input.JobID)
		if err != nil {
			return err
		}
		next := input.Status
		if next == "" {
			next = job.Status
		}
		reassigned := installerID != job.InstallerID || !sameLines(products, job.Products)
		if job.Status.Terminal() {
			// Omitted installer and products leave a closed job as it is.
			changed := (input.InstallerID != nil && installerID != job.InstallerID) ||
				(input.Products != nil && !sameLines(products, job.Products))
			if next == job.Status && !changed {
				updated = job
				return nil
			}
			return &JobLockedError{JobID: job.ID, Status: job.Status}
		}
		if !job.Status.CanTransition(next) {
			return shared.Invalid("status", "cannot move a %s job to %s", job.Status, next)
		}

		sess := inventory.NewSession(tx.Ledger())
		if err := sess.Lock(ctx, warehouseIDs(job.Products, products)...); err != nil {
			return err
		}
		crew, err := lockInstallers(ctx, tx.Installers(), job.InstallerID, installerID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if reassigned {
			for _, line := range job.Products {
				if err := sess.Credit(ctx, line.WarehouseID, line.ProductID, line.Quantity, nil); err != nil {
					return err
				}
			}
			if err := crew.get(job.InstallerID).Unissue(job.CommittedQuantity()); err != nil {
				return s.inconsistent(job.ID, err)
			}
			if err := sess.Require(ctx, demands(products)); err != nil {
				return s.describeShortfall(ctx, err)
			}
			for _, line := range products {
				if err := sess.Debit(ctx, line.WarehouseID, line.ProductID, line.Quantity); err != nil {
					return err
				}
			}
			crew.get(installerID).Issue(totalQuantity(products))
			job.appendHistory(now, "products committed to installer %s by %s", installerID, input.Actor.UserID)
		}
		job.WorkType = strings.TrimSpace(input.WorkType)
		job.Address = strings.TrimSpace(input.Address)
		job.InstallerID = installerID
		job.Products = products
		job.Requirements = requirements

		if next != job.Status {
			installer := crew.get(installerID)
			switch next {
			case StatusInstalled:
				if err := installer.Install(job.CommittedQuantity()); err != nil {
					return s.inconsistent(job.ID, err)
				}
				installer.AddJob(job.ID)
				job.ActualCompletedDate = &now
			case StatusCancelled:
				if err := installer.Unissue(job.CommittedQuantity()); err != nil {
					return s.inconsistent(job.ID, err)
				}
				for _, line := range job.Products {
					if err := sess.Credit(ctx, line.WarehouseID, line.ProductID, line.Quantity, nil); err != nil {
						return err
					}
				}
			case StatusIssued:
				job.IssuedDate = &now
			}
			job.appendHistory(now, "status %s -> %s by %s", job.Status, next, input.Actor.UserID)
			job.Status = next
		}
		job.UpdatedAt = now

		if err := crew.save(ctx); err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		touched = sess.Touched()
		if err := sess.Flush(ctx); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, "job_update", err)
		return Job{}, err
	}
	if len(touched) > 0 {
		s.observer.LedgerCommitted(ctx, "job_update", touched)
	}
	s.recordAudit(ctx, "update", input.Actor, updated, map[string]any{"status": updated.Status, "units": updated.CommittedQuantity()})
	return updated, nil
}

type plannedReturn struct {
	index    int
	returned int64
}

// ReturnProducts takes unused stock back from an installed job. Each line
// states how much of a product the job keeps; the difference is credited to
// the warehouse it came from. Every line is checked before anything changes.
func (s *Service) ReturnProducts(ctx context.Context, input ReturnInput) (Job, error) {
	if len(input.Lines) == 0 {
		return Job{}, shared.Invalid("products", "at least one line is required")
	}

	var (
		updated Job
		touched []uuid.UUID
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		job, err := tx.GetJobForUpdate(ctx, input.JobID)
		if err != nil {
			return err
		}
		if job.Status != StatusInstalled {
			return shared.Invalid("status", "products can only be returned from an %s job", StatusInstalled)
		}
		plan, err := planReturns(job, input.Lines)
		if err != nil {
			return err
		}
		updated = job
		if len(plan) == 0 {
			return nil
		}

		sess := inventory.NewSession(tx.Ledger())
		ids := make([]uuid.UUID, 0, len(plan))
		for _, p := range plan {
			ids = append(ids, job.Products[p.index].WarehouseID)
		}
		if err := sess.Lock(ctx, ids...); err != nil {
			return err
		}
		crew, err := lockInstallers(ctx, tx.Installers(), job.InstallerID)
		if err != nil {
			return err
		}
		installer := crew.get(job.InstallerID)
		now := s.now().UTC()
		for _, p := range plan {
			line := &job.Products[p.index]
			if err := sess.Credit(ctx, line.WarehouseID, line.ProductID, p.returned, nil); err != nil {
				return err
			}
			if err := s.releaseReturned(installer, job.ID, p.returned); err != nil {
				return err
			}
			line.Quantity -= p.returned
			job.appendHistory(now, "%d of product %s returned to warehouse %s by %s",
				p.returned, line.ProductID, line.WarehouseID, input.Actor.UserID)
		}
		job.Products = slices.DeleteFunc(job.Products, func(l Line) bool { return l.Quantity == 0 })
		job.UpdatedAt = now

		if err := crew.save(ctx); err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		touched = sess.Touched()
		if err := sess.Flush(ctx); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		s.observer.LedgerRejected(ctx, "job_return", err)
		return Job{}, err
	}
	if len(touched) > 0 {
		s.observer.LedgerCommitted(ctx, "job_return", touched)
	}
	s.recordAudit(ctx, "return", input.Actor, updated, map[string]any{"lines": len(input.Lines)})
	return updated, nil
}

func (s *Service) releaseReturned(installer *installers.Installer, jobID uuid.UUID, qty int64) error {
	if s.opts.ReturnPolicy == ReturnFromIssued {
		if installer.UnissueClamped(qty) {
			s.logger.Warn("installer issued counter clamped on return",
				slog.String("installer_id", installer.ID.String()),
				slog.String("job_id", jobID.String()),
				slog.Int64("returned", qty))
		}
		return nil
	}
	if err := installer.Uninstall(qty); err != nil {
		return s.inconsistent(jobID, err)
	}
	return nil
}

func planReturns(job Job, lines []ReturnLine) ([]plannedReturn, error) {
	plan := make([]plannedReturn, 0, len(lines))
	seen := make(map[int]struct{}, len(lines))
	for i, rl := range lines {
		field := fmt.Sprintf("products[%d]", i)
		if rl.ProductID == uuid.Nil {
			return nil, shared.Invalid(field+".productId", "is required")
		}
		if rl.QuantityRemaining < 0 {
			return nil, shared.Invalid(field+".quantityRemaining", "must not be negative")
		}
		idx, matches := -1, 0
		for j, line := range job.Products {
			if line.ProductID != rl.ProductID {
				continue
			}
			if rl.WarehouseID != uuid.Nil && line.WarehouseID != rl.WarehouseID {
				continue
			}
			idx = j
			matches++
		}
		switch {
		case matches == 0:
			return nil, shared.Invalid(field+".productId", "is not committed to this job")
		case matches > 1:
			return nil, shared.Invalid(field+".warehouseId", "is required when the product came from several warehouses")
		}
		if _, dup := seen[idx]; dup {
			return nil, shared.Invalid(field+".productId", "is listed more than once")
		}
		seen[idx] = struct{}{}

		committed := job.Products[idx].Quantity
		if rl.QuantityRemaining > committed {
			return nil, &OverReturnError{JobID: job.ID, ProductID: rl.ProductID, Committed: committed, Remaining: rl.QuantityRemaining}
		}
		if returned := committed - rl.QuantityRemaining; returned > 0 {
			plan = append(plan, plannedReturn{index: idx, returned: returned})
		}
	}
	return plan, nil
}

// GetJob loads a job.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	return s.repo.GetJob(ctx, id)
}

// ListJobs lists jobs matching filter.
func (s *Service) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Invalid("status", "unknown status %q", filter.Status)
	}
	return s.repo.ListJobs(ctx, filter)
}

func (s *Service) installerOrUnassigned(id *uuid.UUID) uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return s.opts.UnassignedInstallerID
	}
	return *id
}

func (s *Service) describeShortfall(ctx context.Context, err error) error {
	var short *inventory.InsufficientStockError
	if errors.As(err, &short) && s.names != nil {
		short.Label = s.names.ProductName(ctx, short.ProductID)
		short.Warehouse = s.names.WarehouseName(ctx, short.WarehouseID)
	}
	return err
}

func (s *Service) inconsistent(jobID uuid.UUID, err error) error {
	s.logger.Error("installer counters disagree with job",
		slog.String("job_id", jobID.String()),
		slog.Bool("alert", true),
		slog.Any("error", err))
	return err
}

func (s *Service) recordAudit(ctx context.Context, action string, actor shared.Actor, job Job, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "jobstock." + action,
		Entity:   "job",
		EntityID: job.ID.String(),
		Meta:     meta,
		At:       job.UpdatedAt,
	}); err != nil {
		s.logger.Warn("jobstock audit", slog.Any("error", err))
	}
}

func demands(lines []Line) []inventory.Demand {
	out := make([]inventory.Demand, 0, len(lines))
	for _, line := range lines {
		out = append(out, inventory.Demand{WarehouseID: line.WarehouseID, ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}

// installerLocks holds installer rows locked for the current transaction.
type installerLocks struct {
	repo  installers.TxRepository
	held  map[uuid.UUID]*installers.Installer
	order []uuid.UUID
}

// lockInstallers locks the given installers in ascending id order.
func lockInstallers(ctx context.Context, repo installers.TxRepository, ids ...uuid.UUID) (*installerLocks, error) {
	c := &installerLocks{repo: repo, held: make(map[uuid.UUID]*installers.Installer, len(ids))}
	for _, id := range ids {
		if !slices.Contains(c.order, id) {
			c.order = append(c.order, id)
		}
	}
	slices.SortFunc(c.order, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for _, id := range c.order {
		in, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		c.held[id] = &in
	}
	return c, nil
}

func (c *installerLocks) get(id uuid.UUID) *installers.Installer {
	return c.held[id]
}

func (c *installerLocks) save(ctx context.Context) error {
	for _, id := range c.order {
		if err := c.repo.Save(ctx, *c.held[id]); err != nil {
			return err
		}
	}
	return nil
}
