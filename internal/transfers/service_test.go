package transfers

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/inventory/inventorytest"
	"github.com/fieldstock/fieldstock/internal/shared"
)

type memoryTransferRepo struct {
	ledger    *inventorytest.Store
	mu        sync.Mutex
	transfers []Transfer
	oldest    map[uuid.UUID]uuid.UUID
	lastLimit int
}

type memoryTransferTx struct {
	ledger  *inventorytest.Tx
	pending []Transfer
}

func newMemoryTransferRepo(ledger *inventorytest.Store) *memoryTransferRepo {
	return &memoryTransferRepo{ledger: ledger, oldest: make(map[uuid.UUID]uuid.UUID)}
}

func (r *memoryTransferRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTransferTx{ledger: r.ledger.Begin()}
	if err := fn(ctx, tx); err != nil {
		tx.ledger.Rollback()
		return err
	}
	r.mu.Lock()
	r.transfers = append(r.transfers, tx.pending...)
	r.mu.Unlock()
	tx.ledger.Commit()
	return nil
}

func (r *memoryTransferRepo) OldestPurchase(_ context.Context, _ uuid.UUID, productID uuid.UUID) (*uuid.UUID, error) {
	id, ok := r.oldest[productID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (r *memoryTransferRepo) List(_ context.Context, _ string, limit int) ([]Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	return append([]Transfer(nil), r.transfers...), nil
}

func (tx *memoryTransferTx) Ledger() inventory.TxRepository { return tx.ledger }

func (tx *memoryTransferTx) Insert(_ context.Context, t Transfer) error {
	tx.pending = append(tx.pending, t)
	return nil
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

func newTransferService(ledger *inventorytest.Store, names staticNames) (*Service, *memoryTransferRepo) {
	repo := newMemoryTransferRepo(ledger)
	return NewService(repo, names, nil, nil, nil, nil), repo
}

func TestTransferMovesStock(t *testing.T) {
	ledger := inventorytest.New()
	w1, w2, p := uuid.New(), uuid.New(), uuid.New()
	ledger.Seed(inventory.WarehouseInventory{
		WarehouseID:  w1,
		Lines:        []inventory.Line{{ProductID: p, Price: decimal.RequireFromString("7.25"), Quantity: 12}},
		CurrentStock: 12,
	})
	svc, repo := newTransferService(ledger, staticNames{p: "Junction box"})
	purchaseID := uuid.New()
	repo.oldest[p] = purchaseID
	actor := shared.Actor{UserID: uuid.New()}

	tr, err := svc.Transfer(context.Background(), Input{
		FromWarehouseID: w1,
		ToWarehouseID:   w2,
		ProductID:       p,
		Quantity:        4,
		Reason:          "rebalance",
		Actor:           actor,
	})
	require.NoError(t, err)

	require.Equal(t, int64(8), ledger.Quantity(w1, p))
	require.Equal(t, int64(4), ledger.Quantity(w2, p))
	dest, _ := ledger.Inventory(w2)
	line, ok := dest.Line(p)
	require.True(t, ok)
	require.Equal(t, "7.25", line.Price.StringFixed(2))

	require.Equal(t, "Junction box", tr.ProductLabel)
	require.Equal(t, &purchaseID, tr.PurchaseID)
	require.Equal(t, actor.UserID, tr.UserID)
	require.Len(t, repo.transfers, 1)
	require.NoError(t, ledger.CheckInvariants())
}

func TestTransferRejectsShortfall(t *testing.T) {
	ledger := inventorytest.New()
	w1, w2, p := uuid.New(), uuid.New(), uuid.New()
	ledger.Stock(w1, map[uuid.UUID]int64{p: 12})
	svc, repo := newTransferService(ledger, staticNames{p: "Conduit", w1: "Depot North"})

	_, err := svc.Transfer(context.Background(), Input{FromWarehouseID: w1, ToWarehouseID: w2, ProductID: p, Quantity: 20})
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int64(12), short.Available)
	require.Contains(t, err.Error(), "Conduit")
	require.Contains(t, err.Error(), "Depot North")

	require.Equal(t, int64(12), ledger.Quantity(w1, p))
	require.Equal(t, int64(0), ledger.Quantity(w2, p))
	require.Empty(t, repo.transfers)
}

func TestTransferValidation(t *testing.T) {
	svc, _ := newTransferService(inventorytest.New(), nil)
	w, p := uuid.New(), uuid.New()

	_, err := svc.Transfer(context.Background(), Input{FromWarehouseID: w, ToWarehouseID: w, ProductID: p, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Transfer(context.Background(), Input{FromWarehouseID: w, ToWarehouseID: uuid.New(), ProductID: p, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferFailureAfterDebitIsConsistencyError(t *testing.T) {
	ledger := inventorytest.New()
	w1, w2, p := uuid.New(), uuid.New(), uuid.New()
	ledger.Stock(w1, map[uuid.UUID]int64{p: 10})
	ledger.FailSave = map[uuid.UUID]error{w2: errors.New("connection reset")}
	svc, repo := newTransferService(ledger, nil)

	_, err := svc.Transfer(context.Background(), Input{FromWarehouseID: w1, ToWarehouseID: w2, ProductID: p, Quantity: 3})
	var inconsistent *TransferConsistencyError
	require.ErrorAs(t, err, &inconsistent)
	require.ErrorIs(t, err, shared.ErrInconsistent)
	require.Equal(t, "transfer_consistency", inconsistent.Code())

	require.Equal(t, int64(10), ledger.Quantity(w1, p))
	require.Equal(t, int64(0), ledger.Quantity(w2, p))
	require.Empty(t, repo.transfers)
}

func TestRandomTransfersConserveUnits(t *testing.T) {
	ledger := inventorytest.New()
	warehouses := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	products := []uuid.UUID{uuid.New(), uuid.New()}
	for _, w := range warehouses {
		ledger.Stock(w, map[uuid.UUID]int64{products[0]: 20, products[1]: 5})
	}
	svc, _ := newTransferService(ledger, nil)
	total := func(p uuid.UUID) int64 {
		var sum int64
		for _, w := range warehouses {
			sum += ledger.Quantity(w, p)
		}
		return sum
	}
	before := []int64{total(products[0]), total(products[1])}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		from := warehouses[rng.Intn(len(warehouses))]
		to := warehouses[rng.Intn(len(warehouses))]
		if from == to {
			continue
		}
		p := products[rng.Intn(len(products))]
		qty := int64(rng.Intn(8) + 1)
		available := ledger.Quantity(from, p)

		_, err := svc.Transfer(context.Background(), Input{FromWarehouseID: from, ToWarehouseID: to, ProductID: p, Quantity: qty})
		if qty > available {
			require.True(t, inventory.IsInsufficientStock(err))
		} else {
			require.NoError(t, err)
		}
		require.NoError(t, ledger.CheckInvariants())
	}
	require.Equal(t, before, []int64{total(products[0]), total(products[1])})
}

func TestListClampsLimit(t *testing.T) {
	svc, repo := newTransferService(inventorytest.New(), nil)

	_, err := svc.List(context.Background(), " cable ", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultListLimit, repo.lastLimit)

	_, err = svc.List(context.Background(), "", 25)
	require.NoError(t, err)
	require.Equal(t, 25, repo.lastLimit)
}
