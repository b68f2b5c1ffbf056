package inventory

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDebitRemovesEmptyLine(t *testing.T) {
	wh, p := uuid.New(), uuid.New()
	inv := WarehouseInventory{WarehouseID: wh}
	require.NoError(t, inv.Credit(p, 5, nil))
	require.NoError(t, inv.Debit(p, 5))
	require.Empty(t, inv.Lines)
	require.Zero(t, inv.CurrentStock)
	require.NoError(t, inv.Verify())
}

func TestDebitInsufficientReportsAvailable(t *testing.T) {
	wh, p := uuid.New(), uuid.New()
	inv := WarehouseInventory{WarehouseID: wh}
	require.NoError(t, inv.Credit(p, 3, nil))

	err := inv.Debit(p, 4)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(3), insufficient.Available)
	require.Equal(t, int64(4), insufficient.Requested)
	require.Equal(t, int64(3), inv.Available(p))

	err = inv.Debit(uuid.New(), 1)
	require.ErrorAs(t, err, &insufficient)
	require.Zero(t, insufficient.Available)
}

func TestCreditKeepsExistingPrice(t *testing.T) {
	p := uuid.New()
	first := decimal.RequireFromString("12.50")
	second := decimal.RequireFromString("99")
	inv := WarehouseInventory{WarehouseID: uuid.New()}
	require.NoError(t, inv.Credit(p, 1, &first))
	require.NoError(t, inv.Credit(p, 2, &second))

	line, ok := inv.Line(p)
	require.True(t, ok)
	require.True(t, line.Price.Equal(first))
	require.Equal(t, int64(3), line.Quantity)

	q := uuid.New()
	require.NoError(t, inv.Credit(q, 1, nil))
	line, _ = inv.Line(q)
	require.True(t, line.Price.IsZero())
}

func TestNonPositiveQuantityRejected(t *testing.T) {
	inv := WarehouseInventory{WarehouseID: uuid.New()}
	require.ErrorIs(t, inv.Credit(uuid.New(), 0, nil), ErrInvalidQuantity)
	require.ErrorIs(t, inv.Debit(uuid.New(), -1), ErrInvalidQuantity)
}

func TestMergeAndRecompute(t *testing.T) {
	p, q := uuid.New(), uuid.New()
	inv := WarehouseInventory{
		WarehouseID:  uuid.New(),
		CurrentStock: 100,
		Lines: []Line{
			{ProductID: p, Quantity: 2},
			{ProductID: q, Quantity: 1},
			{ProductID: p, Quantity: 3},
		},
	}
	var corrupt *LedgerCorruptionError
	require.ErrorAs(t, inv.Verify(), &corrupt)

	require.Equal(t, 1, inv.MergeDuplicateLines())
	require.Equal(t, int64(5), inv.Available(p))
	require.Equal(t, int64(6), inv.RecomputeCurrentStock())
	require.Equal(t, int64(6), inv.RecomputeCurrentStock())
	require.NoError(t, inv.Verify())
}

func TestVerifyDetectsNonPositiveLine(t *testing.T) {
	inv := WarehouseInventory{WarehouseID: uuid.New(), Lines: []Line{{ProductID: uuid.New(), Quantity: 0}}}
	var corrupt *LedgerCorruptionError
	require.ErrorAs(t, inv.Verify(), &corrupt)
	require.Equal(t, 1, inv.DropEmptyLines())
	require.NoError(t, inv.Verify())
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for run := 0; run < 50; run++ {
		a := WarehouseInventory{WarehouseID: uuid.New()}
		b := WarehouseInventory{WarehouseID: uuid.New()}
		for step := 0; step < 200; step++ {
			p := products[rng.Intn(len(products))]
			qty := int64(rng.Intn(6) + 1)
			switch rng.Intn(3) {
			case 0:
				require.NoError(t, a.Credit(p, qty, nil))
			case 1:
				before := a.Available(p)
				err := a.Debit(p, qty)
				if before < qty {
					require.True(t, IsInsufficientStock(err))
					require.Equal(t, before, a.Available(p))
				} else {
					require.NoError(t, err)
				}
			case 2:
				total := a.CurrentStock + b.CurrentStock
				if err := a.Debit(p, qty); err == nil {
					require.NoError(t, b.Credit(p, qty, nil))
				}
				require.Equal(t, total, a.CurrentStock+b.CurrentStock)
			}
			require.NoError(t, a.Verify())
			require.NoError(t, b.Verify())
		}
	}
}
