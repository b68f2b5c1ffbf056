package jobstock

import (
	"context"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/installers"
	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/inventory/inventorytest"
	"github.com/fieldstock/fieldstock/internal/shared"
)

type memoryJobRepo struct {
	ledger     *inventorytest.Store
	mu         sync.Mutex
	jobs       map[uuid.UUID]Job
	installers map[uuid.UUID]installers.Installer
}

type memoryJobTx struct {
	ledger     *inventorytest.Tx
	jobs       map[uuid.UUID]Job
	installers map[uuid.UUID]installers.Installer
}

func newMemoryJobRepo(ledger *inventorytest.Store, crew ...uuid.UUID) *memoryJobRepo {
	repo := &memoryJobRepo{
		ledger:     ledger,
		jobs:       make(map[uuid.UUID]Job),
		installers: make(map[uuid.UUID]installers.Installer),
	}
	for _, id := range crew {
		repo.installers[id] = installers.Installer{ID: id, Name: id.String()[:8]}
	}
	return repo
}

// WithTx works on copies; the ledger transaction serializes callers.
func (r *memoryJobRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ledgerTx := r.ledger.Begin()
	r.mu.Lock()
	tx := &memoryJobTx{ledger: ledgerTx, jobs: maps.Clone(r.jobs), installers: maps.Clone(r.installers)}
	r.mu.Unlock()
	if err := fn(ctx, tx); err != nil {
		ledgerTx.Rollback()
		return err
	}
	r.mu.Lock()
	r.jobs = tx.jobs
	r.installers = tx.installers
	r.mu.Unlock()
	ledgerTx.Commit()
	return nil
}

func (r *memoryJobRepo) GetJob(_ context.Context, id uuid.UUID) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, shared.NotFound("job", id)
	}
	return job, nil
}

func (r *memoryJobRepo) ListJobs(_ context.Context, filter ListFilter) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, job := range r.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.UserID != uuid.Nil && job.UserID != filter.UserID {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (r *memoryJobRepo) installer(id uuid.UUID) installers.Installer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installers[id]
}

func (tx *memoryJobTx) Ledger() inventory.TxRepository { return tx.ledger }

func (tx *memoryJobTx) Installers() installers.TxRepository { return tx }

func (tx *memoryJobTx) GetForUpdate(_ context.Context, id uuid.UUID) (installers.Installer, error) {
	in, ok := tx.installers[id]
	if !ok {
		return installers.Installer{}, shared.NotFound("installer", id)
	}
	in.Jobs = slices.Clone(in.Jobs)
	return in, nil
}

func (tx *memoryJobTx) Save(_ context.Context, in installers.Installer) error {
	tx.installers[in.ID] = in
	return nil
}

func (tx *memoryJobTx) InsertJob(_ context.Context, job Job) error {
	tx.jobs[job.ID] = cloneJob(job)
	return nil
}

func (tx *memoryJobTx) GetJobForUpdate(_ context.Context, id uuid.UUID) (Job, error) {
	job, ok := tx.jobs[id]
	if !ok {
		return Job{}, shared.NotFound("job", id)
	}
	return cloneJob(job), nil
}

func (tx *memoryJobTx) UpdateJob(_ context.Context, job Job) error {
	tx.jobs[job.ID] = cloneJob(job)
	return nil
}

func cloneJob(job Job) Job {
	job.Products = slices.Clone(job.Products)
	job.Requirements = slices.Clone(job.Requirements)
	job.History = slices.Clone(job.History)
	return job
}

type staticNames map[uuid.UUID]string

func (n staticNames) ProductName(_ context.Context, id uuid.UUID) string {
	if name, ok := n[id]; ok {
		return name
	}
	return id.String()
}

func (n staticNames) WarehouseName(ctx context.Context, id uuid.UUID) string {
	return n.ProductName(ctx, id)
}

type jobFixture struct {
	ledger     *inventorytest.Store
	repo       *memoryJobRepo
	svc        *Service
	warehouse  uuid.UUID
	product    uuid.UUID
	installer  uuid.UUID
	unassigned uuid.UUID
	actor      shared.Actor
}

func newJobFixture(t *testing.T, stock int64, policy ReturnPolicy) *jobFixture {
	t.Helper()
	f := &jobFixture{
		ledger:     inventorytest.New(),
		warehouse:  uuid.New(),
		product:    uuid.New(),
		installer:  uuid.New(),
		unassigned: uuid.New(),
		actor:      shared.Actor{UserID: uuid.New()},
	}
	f.ledger.Stock(f.warehouse, map[uuid.UUID]int64{f.product: stock})
	f.repo = newMemoryJobRepo(f.ledger, f.installer, f.unassigned)
	names := staticNames{f.product: "Cable", f.warehouse: "Depot North"}
	f.svc = NewService(f.repo, names, nil, nil, nil, Options{UnassignedInstallerID: f.unassigned, ReturnPolicy: policy})
	return f
}

func (f *jobFixture) create(t *testing.T, qty int64) Job {
	t.Helper()
	job, err := f.svc.CreateJob(context.Background(), CreateInput{
		WorkType:    "install",
		Address:     "1 Main St",
		InstallerID: &f.installer,
		Products:    []Line{{ProductID: f.product, WarehouseID: f.warehouse, Quantity: qty}},
		Actor:       f.actor,
	})
	require.NoError(t, err)
	return job
}

func (f *jobFixture) update(job Job, qty int64, status Status) (Job, error) {
	input := UpdateInput{
		JobID:       job.ID,
		WorkType:    job.WorkType,
		Address:     job.Address,
		InstallerID: &f.installer,
		Status:      status,
		Actor:       f.actor,
	}
	if qty > 0 {
		input.Products = []Line{{ProductID: f.product, WarehouseID: f.warehouse, Quantity: qty}}
	}
	return f.svc.UpdateJob(context.Background(), input)
}

func TestCreateJobDebitsAndIssues(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)

	job := f.create(t, 3)

	require.Equal(t, StatusPending, job.Status)
	require.Equal(t, int64(7), f.ledger.Quantity(f.warehouse, f.product))
	require.Equal(t, int64(3), f.repo.installer(f.installer).StockIssued)
	require.Len(t, job.History, 1)
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestCreateJobShortfallChangesNothing(t *testing.T) {
	f := newJobFixture(t, 2, ReturnFromInstalled)

	_, err := f.svc.CreateJob(context.Background(), CreateInput{
		InstallerID: &f.installer,
		Products:    []Line{{ProductID: f.product, WarehouseID: f.warehouse, Quantity: 5}},
		Actor:       f.actor,
	})
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int64(2), short.Available)
	require.Contains(t, err.Error(), "Cable")
	require.Contains(t, err.Error(), "Depot North")

	require.Equal(t, int64(2), f.ledger.Quantity(f.warehouse, f.product))
	require.Zero(t, f.repo.installer(f.installer).StockIssued)
	require.Empty(t, f.repo.jobs)
}

func TestCreateJobWithoutInstallerUsesUnassigned(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)

	job, err := f.svc.CreateJob(context.Background(), CreateInput{
		Products: []Line{{ProductID: f.product, WarehouseID: f.warehouse, Quantity: 2}},
		Status:   StatusIssued,
		Actor:    f.actor,
	})
	require.NoError(t, err)
	require.Equal(t, f.unassigned, job.InstallerID)
	require.NotNil(t, job.IssuedDate)
	require.Equal(t, int64(2), f.repo.installer(f.unassigned).StockIssued)
}

func TestCreateJobRejectsTerminalStatus(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)

	_, err := f.svc.CreateJob(context.Background(), CreateInput{Status: StatusInstalled, Actor: f.actor})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateJobRecommitsThenInstalls(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 4)
	require.Equal(t, int64(6), f.ledger.Quantity(f.warehouse, f.product))

	job, err := f.update(job, 7, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), f.ledger.Quantity(f.warehouse, f.product))
	require.Equal(t, int64(7), f.repo.installer(f.installer).StockIssued)

	job, err = f.update(job, 7, StatusInstalled)
	require.NoError(t, err)
	require.Equal(t, StatusInstalled, job.Status)
	require.NotNil(t, job.ActualCompletedDate)
	require.Equal(t, int64(3), f.ledger.Quantity(f.warehouse, f.product))

	installer := f.repo.installer(f.installer)
	require.Zero(t, installer.StockIssued)
	require.Equal(t, int64(7), installer.StockInstalled)
	require.Equal(t, []uuid.UUID{job.ID}, installer.Jobs)
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestUpdateJobShortfallRollsBack(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 4)

	_, err := f.update(job, 11, "")
	require.True(t, inventory.IsInsufficientStock(err))

	require.Equal(t, int64(6), f.ledger.Quantity(f.warehouse, f.product))
	require.Equal(t, int64(4), f.repo.installer(f.installer).StockIssued)
	stored, err := f.repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), stored.CommittedQuantity())
}

func TestCreateThenCancelRestoresState(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	before := f.ledger.Quantity(f.warehouse, f.product)
	job := f.create(t, 6)

	job, err := f.update(job, 6, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, job.Status)

	require.Equal(t, before, f.ledger.Quantity(f.warehouse, f.product))
	installer := f.repo.installer(f.installer)
	require.Zero(t, installer.StockIssued)
	require.Zero(t, installer.StockInstalled)
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestUpdateJobReassignsInstaller(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 5)
	other := uuid.New()
	f.repo.installers[other] = installers.Installer{ID: other}

	job, err := f.svc.UpdateJob(context.Background(), UpdateInput{
		JobID:       job.ID,
		InstallerID: &other,
		Products:    job.Products,
		Actor:       f.actor,
	})
	require.NoError(t, err)
	require.Equal(t, other, job.InstallerID)
	require.Zero(t, f.repo.installer(f.installer).StockIssued)
	require.Equal(t, int64(5), f.repo.installer(other).StockIssued)
	require.Equal(t, int64(5), f.ledger.Quantity(f.warehouse, f.product))
}

func TestTerminalJobIsLocked(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 3)
	job, err := f.update(job, 3, StatusInstalled)
	require.NoError(t, err)

	same, err := f.update(job, 3, StatusInstalled)
	require.NoError(t, err)
	require.Equal(t, job.UpdatedAt, same.UpdatedAt)

	_, err = f.update(job, 4, StatusInstalled)
	var locked *JobLockedError
	require.ErrorAs(t, err, &locked)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.update(job, 3, StatusCancelled)
	require.ErrorAs(t, err, &locked)
	require.Equal(t, int64(7), f.ledger.Quantity(f.warehouse, f.product))
}

func TestTerminalJobStatusOnlyUpdateIsNoop(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 3)
	job, err := f.update(job, 3, StatusInstalled)
	require.NoError(t, err)

	same, err := f.svc.UpdateJob(context.Background(), UpdateInput{JobID: job.ID, Status: StatusInstalled, Actor: f.actor})
	require.NoError(t, err)
	require.Equal(t, job.UpdatedAt, same.UpdatedAt)
	require.Equal(t, job.Products, same.Products)
	require.Equal(t, job.InstallerID, same.InstallerID)

	_, err = f.svc.UpdateJob(context.Background(), UpdateInput{JobID: job.ID, Status: StatusCancelled, Actor: f.actor})
	var locked *JobLockedError
	require.ErrorAs(t, err, &locked)
	require.Equal(t, int64(7), f.ledger.Quantity(f.warehouse, f.product))
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	_, err := f.svc.ListJobs(context.Background(), ListFilter{Status: "50%d off"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.EqualError(t, err, `status: unknown status "50%d off"`)
}

func TestUpdateJobRejectsBackwardTransition(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 3)
	job, err := f.update(job, 3, StatusIssued)
	require.NoError(t, err)
	require.NotNil(t, job.IssuedDate)

	_, err = f.update(job, 3, StatusPending)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnProductsCreditsWarehouse(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	job := f.create(t, 5)
	job, err := f.update(job, 5, StatusInstalled)
	require.NoError(t, err)

	job, err = f.svc.ReturnProducts(context.Background(), ReturnInput{
		JobID: job.ID,
		Lines: []ReturnLine{{ProductID: f.product, QuantityRemaining: 3}},
		Actor: f.actor,
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), f.ledger.Quantity(f.warehouse, f.product))
	require.Equal(t, int64(3), job.CommittedQuantity())
	require.Equal(t, int64(3), f.repo.installer(f.installer).StockInstalled)

	job, err = f.svc.ReturnProducts(context.Background(), ReturnInput{
		JobID: job.ID,
		Lines: []ReturnLine{{ProductID: f.product, QuantityRemaining: 0}},
		Actor: f.actor,
	})
	require.NoError(t, err)
	require.Empty(t, job.Products)
	require.Equal(t, int64(10), f.ledger.Quantity(f.warehouse, f.product))
}

func TestReturnProductsIssuedPolicyClamps(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromIssued)
	job := f.create(t, 5)
	job, err := f.update(job, 5, StatusInstalled)
	require.NoError(t, err)

	_, err = f.svc.ReturnProducts(context.Background(), ReturnInput{
		JobID: job.ID,
		Lines: []ReturnLine{{ProductID: f.product, QuantityRemaining: 3}},
		Actor: f.actor,
	})
	require.NoError(t, err)
	installer := f.repo.installer(f.installer)
	require.Zero(t, installer.StockIssued)
	require.Equal(t, int64(5), installer.StockInstalled)
	require.Equal(t, int64(7), f.ledger.Quantity(f.warehouse, f.product))
}

func TestReturnProductsRejectsOverReturn(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)
	second := uuid.New()
	f.ledger.Stock(f.warehouse, map[uuid.UUID]int64{f.product: 10, second: 10})
	job, err := f.svc.CreateJob(context.Background(), CreateInput{
		InstallerID: &f.installer,
		Products: []Line{
			{ProductID: f.product, WarehouseID: f.warehouse, Quantity: 4},
			{ProductID: second, WarehouseID: f.warehouse, Quantity: 2},
		},
		Actor: f.actor,
	})
	require.NoError(t, err)
	job, err = f.svc.UpdateJob(context.Background(), UpdateInput{
		JobID: job.ID, InstallerID: &f.installer, Products: job.Products, Status: StatusInstalled, Actor: f.actor,
	})
	require.NoError(t, err)

	_, err = f.svc.ReturnProducts(context.Background(), ReturnInput{
		JobID: job.ID,
		Lines: []ReturnLine{
			{ProductID: f.product, QuantityRemaining: 1},
			{ProductID: second, QuantityRemaining: 3},
		},
		Actor: f.actor,
	})
	var over *OverReturnError
	require.ErrorAs(t, err, &over)
	require.Equal(t, int64(2), over.Committed)

	require.Equal(t, int64(6), f.ledger.Quantity(f.warehouse, f.product))
	require.Equal(t, int64(8), f.ledger.Quantity(f.warehouse, second))
	require.Equal(t, int64(6), f.repo.installer(f.installer).StockInstalled)
}

func TestReturnProductsValidation(t *testing.T) {
	f := newJobFixture(t, 20, ReturnFromInstalled)
	other := uuid.New()
	f.ledger.Stock(other, map[uuid.UUID]int64{f.product: 5})
	job, err := f.svc.CreateJob(context.Background(), CreateInput{
		InstallerID: &f.installer,
		Products: []Line{
			{ProductID: f.product, WarehouseID: f.warehouse, Quantity: 2},
			{ProductID: f.product, WarehouseID: other, Quantity: 2},
		},
		Actor: f.actor,
	})
	require.NoError(t, err)

	returnLine := func(line ReturnLine) error {
		_, err := f.svc.ReturnProducts(context.Background(), ReturnInput{JobID: job.ID, Lines: []ReturnLine{line}, Actor: f.actor})
		return err
	}
	require.ErrorIs(t, returnLine(ReturnLine{ProductID: f.product, WarehouseID: f.warehouse}), shared.ErrValidation)

	job, err = f.svc.UpdateJob(context.Background(), UpdateInput{
		JobID: job.ID, InstallerID: &f.installer, Products: job.Products, Status: StatusInstalled, Actor: f.actor,
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		line ReturnLine
	}{
		{name: "ambiguous warehouse", line: ReturnLine{ProductID: f.product, QuantityRemaining: 1}},
		{name: "unknown product", line: ReturnLine{ProductID: uuid.New(), QuantityRemaining: 0}},
		{name: "negative remaining", line: ReturnLine{ProductID: f.product, WarehouseID: other, QuantityRemaining: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, returnLine(tc.line), shared.ErrValidation)
		})
	}

	require.NoError(t, returnLine(ReturnLine{ProductID: f.product, WarehouseID: other, QuantityRemaining: 0}))
	require.Equal(t, int64(5), f.ledger.Quantity(other, f.product))
	require.Equal(t, int64(18), f.ledger.Quantity(f.warehouse, f.product))
}

func TestConcurrentJobsNeverOversell(t *testing.T) {
	f := newJobFixture(t, 10, ReturnFromInstalled)

	var wg sync.WaitGroup
	errs := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateJob(context.Background(), CreateInput{
				InstallerID: &f.installer,
				Products:    []Line{{ProductID: f.product, WarehouseID: f.warehouse, Quantity: 1}},
				Actor:       f.actor,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, inventory.IsInsufficientStock(err))
	}
	require.Equal(t, 10, succeeded)
	require.Zero(t, f.ledger.Quantity(f.warehouse, f.product))
	require.Equal(t, int64(10), f.repo.installer(f.installer).StockIssued)
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestParseReturnPolicy(t *testing.T) {
	policy, err := ParseReturnPolicy("")
	require.NoError(t, err)
	require.Equal(t, ReturnFromInstalled, policy)

	policy, err = ParseReturnPolicy("issued")
	require.NoError(t, err)
	require.Equal(t, ReturnFromIssued, policy)

	_, err = ParseReturnPolicy("both")
	require.Error(t, err)
}
