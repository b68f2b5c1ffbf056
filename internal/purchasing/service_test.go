package purchasing

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/inventory/inventorytest"
	"github.com/fieldstock/fieldstock/internal/shared"
)

type memoryPurchaseRepo struct {
	ledger      *inventorytest.Store
	mu          sync.Mutex
	purchases   map[uuid.UUID]Purchase
	adjustments []Adjustment
	relocations map[uuid.UUID]Relocation
	transferred map[uuid.UUID]bool
}

type memoryPurchaseTx struct {
	ledger      *inventorytest.Tx
	purchases   map[uuid.UUID]Purchase
	adjustments []Adjustment
	relocations map[uuid.UUID]Relocation
	transferred map[uuid.UUID]bool
}

func newMemoryPurchaseRepo(ledger *inventorytest.Store) *memoryPurchaseRepo {
	return &memoryPurchaseRepo{
		ledger:      ledger,
		purchases:   make(map[uuid.UUID]Purchase),
		relocations: make(map[uuid.UUID]Relocation),
		transferred: make(map[uuid.UUID]bool),
	}
}

func (r *memoryPurchaseRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ledgerTx := r.ledger.Begin()
	r.mu.Lock()
	tx := &memoryPurchaseTx{
		ledger:      ledgerTx,
		purchases:   maps.Clone(r.purchases),
		adjustments: slices.Clone(r.adjustments),
		relocations: maps.Clone(r.relocations),
		transferred: r.transferred,
	}
	r.mu.Unlock()
	if err := fn(ctx, tx); err != nil {
		ledgerTx.Rollback()
		return err
	}
	r.mu.Lock()
	r.purchases, r.adjustments, r.relocations = tx.purchases, tx.adjustments, tx.relocations
	r.mu.Unlock()
	ledgerTx.Commit()
	return nil
}

func (r *memoryPurchaseRepo) GetPurchase(_ context.Context, id uuid.UUID) (Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return Purchase{}, &PurchaseNotFoundError{PurchaseID: id}
	}
	return p, nil
}

func (r *memoryPurchaseRepo) ListPurchases(_ context.Context, filter ListFilter) ([]Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Purchase
	for _, p := range r.purchases {
		if filter.WarehouseID != uuid.Nil && p.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryPurchaseRepo) PurchasesByProduct(_ context.Context, warehouseID, productID uuid.UUID) ([]ProductPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProductPurchase
	for _, p := range r.purchases {
		if p.WarehouseID != warehouseID {
			continue
		}
		for _, line := range p.Lines {
			if line.ProductID == productID {
				out = append(out, ProductPurchase{PurchaseID: p.ID, InvoiceNo: p.InvoiceNo, Line: line, LineTotal: line.Total()})
			}
		}
	}
	return out, nil
}

func (r *memoryPurchaseRepo) ListAdjustments(_ context.Context, purchaseID uuid.UUID) ([]Adjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Adjustment
	for _, a := range r.adjustments {
		if a.PurchaseID == purchaseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tx *memoryPurchaseTx) Ledger() inventory.TxRepository { return tx.ledger }

func (tx *memoryPurchaseTx) InsertPurchase(_ context.Context, p Purchase) error {
	p.Lines = slices.Clone(p.Lines)
	tx.purchases[p.ID] = p
	return nil
}

func (tx *memoryPurchaseTx) GetPurchaseForUpdate(_ context.Context, id uuid.UUID) (Purchase, error) {
	p, ok := tx.purchases[id]
	if !ok {
		return Purchase{}, &PurchaseNotFoundError{PurchaseID: id}
	}
	p.Lines = slices.Clone(p.Lines)
	return p, nil
}

func (tx *memoryPurchaseTx) UpdatePurchase(_ context.Context, p Purchase) error {
	if _, ok := tx.purchases[p.ID]; !ok {
		return &PurchaseNotFoundError{PurchaseID: p.ID}
	}
	p.Lines = slices.Clone(p.Lines)
	tx.purchases[p.ID] = p
	return nil
}

func (tx *memoryPurchaseTx) HasTransfers(_ context.Context, purchaseID uuid.UUID) (bool, error) {
	return tx.transferred[purchaseID], nil
}

func (tx *memoryPurchaseTx) PendingRelocation(_ context.Context, purchaseID uuid.UUID) (*Relocation, error) {
	for _, r := range tx.relocations {
		if r.PurchaseID == purchaseID && r.Status == RelocationReleased {
			return &r, nil
		}
	}
	return nil, nil
}

func (tx *memoryPurchaseTx) InsertAdjustment(_ context.Context, a Adjustment) error {
	tx.adjustments = append(tx.adjustments, a)
	return nil
}

func (tx *memoryPurchaseTx) InsertRelocation(_ context.Context, r Relocation) error {
	tx.relocations[r.ID] = r
	return nil
}

func (tx *memoryPurchaseTx) GetRelocationForUpdate(_ context.Context, id uuid.UUID) (Relocation, error) {
	r, ok := tx.relocations[id]
	if !ok {
		return Relocation{}, shared.NotFound("relocation", id)
	}
	return r, nil
}

func (tx *memoryPurchaseTx) UpdateRelocationStatus(_ context.Context, id uuid.UUID, status RelocationStatus) error {
	r := tx.relocations[id]
	r.Status = status
	tx.relocations[id] = r
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type memoryAudit struct {
	actions []string
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.actions = append(m.actions, log.Action)
	return nil
}

type purchaseFixture struct {
	ledger *inventorytest.Store
	repo   *memoryPurchaseRepo
	audit  *memoryAudit
	idem   *memoryIdempotency
	svc    *Service
	actor  shared.Actor
}

func newPurchaseFixture() *purchaseFixture {
	ledger := inventorytest.New()
	f := &purchaseFixture{
		ledger: ledger,
		repo:   newMemoryPurchaseRepo(ledger),
		audit:  &memoryAudit{},
		idem:   &memoryIdempotency{},
		actor:  shared.Actor{UserID: uuid.New(), Role: "staff"},
	}
	f.svc = NewService(f.repo, f.audit, f.idem, nil, nil)
	return f
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pct(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func (f *purchaseFixture) create(t *testing.T, warehouseID uuid.UUID, lines ...LineInput) Purchase {
	t.Helper()
	p, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		InvoiceNo:   "INV-" + uuid.NewString()[:8],
		WarehouseID: warehouseID,
		SupplierID:  uuid.New(),
		Lines:       lines,
		GSTPercent:  pct("10"),
		Actor:       f.actor,
	})
	require.NoError(t, err)
	return p
}

func TestCreatePurchaseCreditsLedger(t *testing.T) {
	f := newPurchaseFixture()
	wh, p := uuid.New(), uuid.New()
	f.ledger.Stock(wh, map[uuid.UUID]int64{p: 10})

	purchase := f.create(t, wh, LineInput{ProductID: p, Label: "Cable", Price: money("2.00"), Quantity: 5})

	require.Equal(t, int64(15), f.ledger.Quantity(wh, p))
	require.Equal(t, "10.00", purchase.Subtotal.StringFixed(2))
	require.Equal(t, "1.00", purchase.GST.StringFixed(2))
	require.Equal(t, "11.00", purchase.Total.StringFixed(2))
	require.NoError(t, f.ledger.CheckInvariants())

	stored, err := f.svc.GetPurchase(context.Background(), purchase.ID)
	require.NoError(t, err)
	require.Equal(t, purchase.InvoiceNo, stored.InvoiceNo)
	require.Equal(t, []string{"purchasing.create"}, f.audit.actions)
}

func TestCreatePurchaseDefaultsGST(t *testing.T) {
	f := newPurchaseFixture()
	wh, p := uuid.New(), uuid.New()

	purchase, err := f.svc.CreatePurchase(context.Background(), CreatePurchaseInput{
		InvoiceNo:   "INV-1",
		WarehouseID: wh,
		SupplierID:  uuid.New(),
		Lines:       []LineInput{{ProductID: p, Price: money("3.35"), Quantity: 3}},
		Actor:       f.actor,
	})
	require.NoError(t, err)
	require.True(t, purchase.GSTPercent.Equal(DefaultGSTPercent))
	require.Equal(t, "10.05", purchase.Subtotal.StringFixed(2))
	require.Equal(t, "1.01", purchase.GST.StringFixed(2))
	require.Equal(t, "11.06", purchase.Total.StringFixed(2))
}

func TestCreatePurchaseRejectsBadInput(t *testing.T) {
	f := newPurchaseFixture()
	wh, p := uuid.New(), uuid.New()
	base := CreatePurchaseInput{InvoiceNo: "INV-1", WarehouseID: wh, SupplierID: uuid.New(), Actor: f.actor}

	cases := map[string][]LineInput{
		"empty":     nil,
		"duplicate": {{ProductID: p, Quantity: 1}, {ProductID: p, Quantity: 2}},
		"zero qty":  {{ProductID: p, Quantity: 0}},
		"negative":  {{ProductID: p, Quantity: 1, Price: money("-1")}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			input := base
			input.Lines = lines
			_, err := f.svc.CreatePurchase(context.Background(), input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	input := base
	input.Lines = []LineInput{{ProductID: p, Quantity: 1}}
	input.GSTPercent = pct("120")
	_, err := f.svc.CreatePurchase(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Empty(t, f.ledger.Snapshot())
}

func TestCreatePurchaseIdempotency(t *testing.T) {
	f := newPurchaseFixture()
	wh, p := uuid.New(), uuid.New()
	input := CreatePurchaseInput{
		InvoiceNo:      "INV-7",
		WarehouseID:    wh,
		SupplierID:     uuid.New(),
		Lines:          []LineInput{{ProductID: p, Price: money("1"), Quantity: 4}},
		Actor:          f.actor,
		IdempotencyKey: "key-1",
	}
	_, err := f.svc.CreatePurchase(context.Background(), input)
	require.NoError(t, err)
	_, err = f.svc.CreatePurchase(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(4), f.ledger.Quantity(wh, p))

	// A failed attempt releases its key.
	other := uuid.New()
	f.ledger.FailSave = map[uuid.UUID]error{other: errors.New("disk full")}
	input.WarehouseID = other
	input.IdempotencyKey = "key-2"
	_, err = f.svc.CreatePurchase(context.Background(), input)
	require.Error(t, err)
	f.ledger.FailSave = nil
	_, err = f.svc.CreatePurchase(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, int64(4), f.ledger.Quantity(other, p))
}

func TestAdjustPurchaseReplaysDeltas(t *testing.T) {
	f := newPurchaseFixture()
	ctx := context.Background()
	wh, p1, p2, p3 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	purchase := f.create(t, wh,
		LineInput{ProductID: p1, Price: money("2.00"), Quantity: 5},
		LineInput{ProductID: p2, Price: money("4.00"), Quantity: 3},
	)

	res, err := f.svc.AdjustPurchase(ctx, AdjustPurchaseInput{
		PurchaseID: purchase.ID,
		Lines: []CorrectedLine{
			{ProductID: p1, NewQuantity: 8},
			{ProductID: p3, NewQuantity: 2, Price: pct("1.50")},
		},
		Removed: []uuid.UUID{p2},
		Actor:   f.actor,
	})
	require.NoError(t, err)

	require.Equal(t, int64(8), f.ledger.Quantity(wh, p1))
	require.Equal(t, int64(0), f.ledger.Quantity(wh, p2))
	require.Equal(t, int64(2), f.ledger.Quantity(wh, p3))
	require.NoError(t, f.ledger.CheckInvariants())

	require.Equal(t, "19.00", res.Purchase.Subtotal.StringFixed(2))
	require.Equal(t, "1.90", res.Purchase.GST.StringFixed(2))
	require.Equal(t, "20.90", res.Purchase.Total.StringFixed(2))
	require.NotNil(t, res.Adjustment)
	require.Equal(t, []AdjustmentLine{
		{ProductID: p1, OldQuantity: 5, NewQuantity: 8, Difference: 3},
		{ProductID: p3, OldQuantity: 0, NewQuantity: 2, Difference: 2},
		{ProductID: p2, OldQuantity: 3, NewQuantity: 0, Difference: -3},
	}, res.Adjustment.Lines)

	history, err := f.svc.ListAdjustments(ctx, purchase.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestAdjustPurchaseZeroQuantityRemovesLine(t *testing.T) {
	f := newPurchaseFixture()
	wh, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	purchase := f.create(t, wh,
		LineInput{ProductID: p1, Price: money("1"), Quantity: 2},
		LineInput{ProductID: p2, Price: money("1"), Quantity: 2},
	)

	res, err := f.svc.AdjustPurchase(context.Background(), AdjustPurchaseInput{
		PurchaseID: purchase.ID,
		Lines:      []CorrectedLine{{ProductID: p1, NewQuantity: 0}},
		Actor:      f.actor,
	})
	require.NoError(t, err)
	require.Len(t, res.Purchase.Lines, 1)
	require.Equal(t, p2, res.Purchase.Lines[0].ProductID)
	require.Equal(t, int64(0), f.ledger.Quantity(wh, p1))
}

func TestAdjustPurchaseRejectsWhenTransferred(t *testing.T) {
	f := newPurchaseFixture()
	wh, p := uuid.New(), uuid.New()
	purchase := f.create(t, wh, LineInput{ProductID: p, Price: money("1"), Quantity: 5})
	f.repo.transferred[purchase.ID] = true

	_, err := f.svc.AdjustPurchase(context.Background(), AdjustPurchaseInput{
		PurchaseID: purchase.ID,
		Lines:      []CorrectedLine{{ProductID: p, NewQuantity: 1}},
		Actor:      f.actor,
	})
	var locked *PurchaseLockedError
	require.ErrorAs(t, err, &locked)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(5), f.ledger.Quantity(wh, p))
}

func TestAdjustPurchaseRollsBackOnShortfall(t *testing.T) {
	f := newPurchaseFixture()
	ctx := context.Background()
	wh, p1, p2 := uuid.New(), uuid.New(), uuid.New()
	purchase := f.create(t, wh,
		LineInput{ProductID: p1, Price: money("1"), Quantity: 5},
		LineInput{ProductID: p2, Label: "Bracket", Price: money("1"), Quantity: 5},
	)
	// Stock of p2 was consumed elsewhere after the purchase.
	f.ledger.Stock(wh, map[uuid.UUID]int64{p1: 5, p2: 1})

	_, err := f.svc.AdjustPurchase(ctx, AdjustPurchaseInput{
		PurchaseID: purchase.ID,
		Lines: []CorrectedLine{
			{ProductID: p1, NewQuantity: 9},
			{ProductID: p2, NewQuantity: 2},
		},
		Actor: f.actor,
	})
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, "Bracket", short.Label)
	require.Equal(t, int64(3), short.Requested)
	require.Equal(t, int64(1), short.Available)

	require.Equal(t, int64(5), f.ledger.Quantity(wh, p1))
	stored, err := f.svc.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), stored.Quantity(p2))
	history, err := f.svc.ListAdjustments(ctx, purchase.ID)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestAdjustPurchaseValidation(t *testing.T) {
	f := newPurchaseFixture()
	wh, p, absent := uuid.New(), uuid.New(), uuid.New()
	purchase := f.create(t, wh, LineInput{ProductID: p, Price: money("1"), Quantity: 5})

	cases := []struct {
		name  string
		input AdjustPurchaseInput
	}{
		{"nothing", AdjustPurchaseInput{PurchaseID: purchase.ID}},
		{"new line without price", AdjustPurchaseInput{PurchaseID: purchase.ID, Lines: []CorrectedLine{{ProductID: absent, NewQuantity: 1}}}},
		{"remove absent product", AdjustPurchaseInput{PurchaseID: purchase.ID, Removed: []uuid.UUID{absent}}},
		{"duplicate line", AdjustPurchaseInput{PurchaseID: purchase.ID, Lines: []CorrectedLine{{ProductID: p, NewQuantity: 1}, {ProductID: p, NewQuantity: 2}}}},
		{"corrected and removed", AdjustPurchaseInput{PurchaseID: purchase.ID, Lines: []CorrectedLine{{ProductID: p, NewQuantity: 1}}, Removed: []uuid.UUID{p}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AdjustPurchase(context.Background(), tc.input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := f.svc.AdjustPurchase(context.Background(), AdjustPurchaseInput{
		PurchaseID: uuid.New(),
		Lines:      []CorrectedLine{{ProductID: p, NewQuantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, int64(5), f.ledger.Quantity(wh, p))
}

func TestAdjustPurchaseMovesWarehouse(t *testing.T) {
	f := newPurchaseFixture()
	ctx := context.Background()
	from, to, p := uuid.New(), uuid.New(), uuid.New()
	purchase := f.create(t, from, LineInput{ProductID: p, Price: money("2"), Quantity: 5})

	res, err := f.svc.AdjustPurchase(ctx, AdjustPurchaseInput{
		PurchaseID:  purchase.ID,
		Lines:       []CorrectedLine{{ProductID: p, NewQuantity: 4}},
		WarehouseID: &to,
		Actor:       f.actor,
	})
	require.NoError(t, err)

	require.Equal(t, int64(0), f.ledger.Quantity(from, p))
	require.Equal(t, int64(4), f.ledger.Quantity(to, p))
	require.Equal(t, to, res.Purchase.WarehouseID)
	require.Equal(t, "8.00", res.Purchase.Subtotal.StringFixed(2))
	require.NotNil(t, res.Adjustment.FromWarehouseID)
	require.Equal(t, from, *res.Adjustment.FromWarehouseID)
	require.NoError(t, f.ledger.CheckInvariants())
	for _, r := range f.repo.relocations {
		require.Equal(t, RelocationCompleted, r.Status)
	}
}

func TestRelocationResumesAfterCreditFailure(t *testing.T) {
	f := newPurchaseFixture()
	ctx := context.Background()
	from, to, p := uuid.New(), uuid.New(), uuid.New()
	purchase := f.create(t, from, LineInput{ProductID: p, Price: money("2"), Quantity: 5})

	f.ledger.FailSave = map[uuid.UUID]error{to: errors.New("connection reset")}
	_, err := f.svc.AdjustPurchase(ctx, AdjustPurchaseInput{PurchaseID: purchase.ID, WarehouseID: &to, Actor: f.actor})
	var incomplete *RelocationIncompleteError
	require.ErrorAs(t, err, &incomplete)
	require.ErrorIs(t, err, shared.ErrInconsistent)

	// The release step committed on its own.
	require.Equal(t, int64(0), f.ledger.Quantity(from, p))
	require.Equal(t, int64(0), f.ledger.Quantity(to, p))
	stored, err := f.svc.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	require.Equal(t, from, stored.WarehouseID)

	_, err = f.svc.AdjustPurchase(ctx, AdjustPurchaseInput{
		PurchaseID: purchase.ID,
		Lines:      []CorrectedLine{{ProductID: p, NewQuantity: 1}},
		Actor:      f.actor,
	})
	var locked *PurchaseLockedError
	require.ErrorAs(t, err, &locked)

	f.ledger.FailSave = nil
	res, err := f.svc.ResumeRelocation(ctx, incomplete.RelocationID, f.actor)
	require.NoError(t, err)
	require.Equal(t, to, res.Purchase.WarehouseID)
	require.Equal(t, int64(5), f.ledger.Quantity(to, p))

	again, err := f.svc.ResumeRelocation(ctx, incomplete.RelocationID, f.actor)
	require.NoError(t, err)
	require.Nil(t, again.Adjustment)
	require.Equal(t, int64(5), f.ledger.Quantity(to, p))
	require.NoError(t, f.ledger.CheckInvariants())
}

func TestPurchasesByProductRequiresIDs(t *testing.T) {
	f := newPurchaseFixture()
	wh, p := uuid.New(), uuid.New()
	f.create(t, wh, LineInput{ProductID: p, Price: money("2.50"), Quantity: 2})

	_, err := f.svc.PurchasesByProduct(context.Background(), uuid.Nil, p)
	require.ErrorIs(t, err, shared.ErrValidation)

	lines, err := f.svc.PurchasesByProduct(context.Background(), wh, p)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "5.00", lines[0].LineTotal.StringFixed(2))
}
