package jobstock

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusPending   Status = "Pending"
	StatusIssued    Status = "Issued"
	StatusInstalled Status = "Installed"
	StatusCancelled Status = "Cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:   {StatusPending, StatusIssued, StatusCancelled},
	StatusPending: {StatusIssued, StatusInstalled, StatusCancelled},
	StatusIssued:  {StatusInstalled, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusIssued, StatusInstalled, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further edits are allowed.
func (s Status) Terminal() bool {
	return s == StatusInstalled || s == StatusCancelled
}

// CanTransition reports whether a job in s may move to next. Staying in the
// same state is always allowed.
func (s Status) CanTransition(next Status) bool {
	return s == next || slices.Contains(transitions[s], next)
}

// ReturnPolicy selects which installer counter absorbs returned units.
type ReturnPolicy string

const (
	// ReturnFromInstalled decrements stockInstalled, since a returnable job is already installed.
	ReturnFromInstalled ReturnPolicy = "installed"
	// ReturnFromIssued decrements stockIssued and clamps it at zero.
	ReturnFromIssued ReturnPolicy = "issued"
)

// ParseReturnPolicy validates a configured policy. Empty selects ReturnFromInstalled.
func ParseReturnPolicy(raw string) (ReturnPolicy, error) {
	switch ReturnPolicy(raw) {
	case "", ReturnFromInstalled:
		return ReturnFromInstalled, nil
	case ReturnFromIssued:
		return ReturnFromIssued, nil
	}
	return "", fmt.Errorf("jobstock: unknown return policy %q", raw)
}

// Line is a product quantity drawn from one warehouse.
type Line struct {
	ProductID   uuid.UUID `json:"productId"`
	WarehouseID uuid.UUID `json:"warehouseId"`
	Quantity    int64     `json:"quantity"`
}

// Job is a field-service job. Products are the lines debited from the ledger
// and issued to the installer; Requirements record what was asked for.
type Job struct {
	ID                  uuid.UUID  `json:"id"`
	WorkType            string     `json:"workType"`
	Address             string     `json:"address"`
	InstallerID         uuid.UUID  `json:"installerId"`
	Status              Status     `json:"status"`
	UserID              uuid.UUID  `json:"userId"`
	Products            []Line     `json:"products"`
	Requirements        []Line     `json:"requirements"`
	IssuedDate          *time.Time `json:"issuedDate,omitempty"`
	ActualCompletedDate *time.Time `json:"actualCompletedDate,omitempty"`
	History             []string   `json:"history"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// CommittedQuantity sums the committed product quantities.
func (j *Job) CommittedQuantity() int64 {
	return totalQuantity(j.Products)
}

func (j *Job) appendHistory(at time.Time, format string, args ...any) {
	j.History = append(j.History, at.Format(time.RFC3339)+" "+fmt.Sprintf(format, args...))
}

// CreateInput describes a new job. A nil InstallerID assigns the job to the
// unassigned installer; an empty Status means Pending.
type CreateInput struct {
	WorkType     string
	Address      string
	InstallerID  *uuid.UUID
	Requirements []Line
	Products     []Line
	Status       Status
	Actor        shared.Actor
}

// UpdateInput replaces the editable fields of a job. A nil InstallerID
// assigns the unassigned installer; an empty Status keeps the current one.
type UpdateInput struct {
	JobID        uuid.UUID
	WorkType     string
	Address      string
	InstallerID  *uuid.UUID
	Requirements []Line
	Products     []Line
	Status       Status
	Actor        shared.Actor
}

// ReturnLine sets the quantity of a product the job keeps. WarehouseID is
// needed only when the job drew the product from several warehouses.
type ReturnLine struct {
	ProductID         uuid.UUID
	WarehouseID       uuid.UUID
	QuantityRemaining int64
}

// ReturnInput describes unused stock coming back from an installed job.
type ReturnInput struct {
	JobID uuid.UUID
	Lines []ReturnLine
	Actor shared.Actor
}

// ListFilter narrows ListJobs. Zero values are ignored.
type ListFilter struct {
	Status      Status
	UserID      uuid.UUID
	InstallerID uuid.UUID
}

// JobLockedError reports an edit of a job in a terminal state.
type JobLockedError struct {
	JobID  uuid.UUID
	Status Status
}

func (e *JobLockedError) Error() string {
	return fmt.Sprintf("cannot change values of a %s job (%s)", e.Status, e.JobID)
}

// Code returns the machine readable error code.
func (e *JobLockedError) Code() string { return "job_locked" }

// Is matches shared.ErrConflict.
func (e *JobLockedError) Is(target error) bool { return target == shared.ErrConflict }

// OverReturnError reports a return that would leave the job holding more
// than was issued to it.
type OverReturnError struct {
	JobID     uuid.UUID
	ProductID uuid.UUID
	Committed int64
	Remaining int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("cannot return more of product %s than job %s was issued (issued %d, remaining %d)",
		e.ProductID, e.JobID, e.Committed, e.Remaining)
}

// Code returns the machine readable error code.
func (e *OverReturnError) Code() string { return "over_return" }

// Is matches shared.ErrValidation.
func (e *OverReturnError) Is(target error) bool { return target == shared.ErrValidation }

// normalizeLines validates lines and merges repeats of the same product and
// warehouse, keeping first-seen order.
func normalizeLines(field string, lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for i, line := range lines {
		switch {
		case line.ProductID == uuid.Nil:
			return nil, shared.Invalid(fmt.Sprintf("%s[%d].productId", field, i), "is required")
		case line.WarehouseID == uuid.Nil:
			return nil, shared.Invalid(fmt.Sprintf("%s[%d].warehouseId", field, i), "is required")
		case line.Quantity <= 0:
			return nil, shared.Invalid(fmt.Sprintf("%s[%d].quantity", field, i), "must be greater than zero")
		}
		merged := false
		for j := range out {
			if out[j].ProductID == line.ProductID && out[j].WarehouseID == line.WarehouseID {
				out[j].Quantity += line.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, line)
		}
	}
	return out, nil
}

// sameLines compares two normalized line sets regardless of order.
func sameLines(a, b []Line) bool {
	if len(a) != len(b) {
		return false
	}
	sorted := func(lines []Line) []Line {
		out := slices.Clone(lines)
		slices.SortFunc(out, func(x, y Line) int {
			if c := bytes.Compare(x.ProductID[:], y.ProductID[:]); c != 0 {
				return c
			}
			return bytes.Compare(x.WarehouseID[:], y.WarehouseID[:])
		})
		return out
	}
	return slices.Equal(sorted(a), sorted(b))
}

func totalQuantity(lines []Line) int64 {
	var total int64
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}

func warehouseIDs(sets ...[]Line) []uuid.UUID {
	var ids []uuid.UUID
	for _, lines := range sets {
		for _, line := range lines {
			if !slices.Contains(ids, line.WarehouseID) {
				ids = append(ids, line.WarehouseID)
			}
		}
	}
	return ids
}
