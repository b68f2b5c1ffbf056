package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Observer receives ledger outcomes once a workflow has finished: the
// warehouses changed by a committed transaction, or the error that rejected it.
type Observer interface {
	LedgerCommitted(ctx context.Context, op string, warehouses []uuid.UUID)
	LedgerRejected(ctx context.Context, op string, err error)
}

type nopObserver struct{}

func (nopObserver) LedgerCommitted(context.Context, string, []uuid.UUID) {}
func (nopObserver) LedgerRejected(context.Context, string, error) {}

type fanout []Observer

func (f fanout) LedgerCommitted(ctx context.Context, op string, warehouses []uuid.UUID) {
	for _, o := range f {
		o.LedgerCommitted(ctx, op, warehouses)
	}
}

func (f fanout) LedgerRejected(ctx context.Context, op string, err error) {
	for _, o := range f {
		o.LedgerRejected(ctx, op, err)
	}
}

// Observers combines observers, skipping nil ones. It never returns nil.
func Observers(observers ...Observer) Observer {
	var out fanout
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nopObserver{}
	}
	return out
}
