package installers

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Installer is a field technician. StockIssued counts units handed out for
// open jobs and StockInstalled counts units consumed by completed jobs.
type Installer struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	ContactNo      string      `json:"contactNo"`
	StockIssued    int64       `json:"stockIssued"`
	StockInstalled int64       `json:"stockInstalled"`
	Jobs           []uuid.UUID `json:"jobs"`
	Notes          string      `json:"notes"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// CounterUnderflowError reports a decrement larger than the counter. It means
// the counters no longer match the committed jobs.
type CounterUnderflowError struct {
	InstallerID uuid.UUID
	Counter     string
	Current     int64
	Decrement   int64
}

func (e *CounterUnderflowError) Error() string {
	return fmt.Sprintf("installers: %s of installer %s would go negative (current %d, decrement %d)",
		e.Counter, e.InstallerID, e.Current, e.Decrement)
}

// Code returns the machine readable error code.
func (e *CounterUnderflowError) Code() string { return "installer_counter_underflow" }

// Is matches shared.ErrInconsistent.
func (e *CounterUnderflowError) Is(target error) bool { return target == shared.ErrInconsistent }

// Issue records qty units handed out.
func (i *Installer) Issue(qty int64) {
	i.StockIssued += qty
}

// Unissue takes back qty issued units.
func (i *Installer) Unissue(qty int64) error {
	if qty > i.StockIssued {
		return &CounterUnderflowError{InstallerID: i.ID, Counter: "stockIssued", Current: i.StockIssued, Decrement: qty}
	}
	i.StockIssued -= qty
	return nil
}

// UnissueClamped takes back up to qty issued units, stopping at zero. It
// reports whether the counter had to be clamped.
func (i *Installer) UnissueClamped(qty int64) bool {
	if qty > i.StockIssued {
		i.StockIssued = 0
		return true
	}
	i.StockIssued -= qty
	return false
}

// Install moves qty units from issued to installed.
func (i *Installer) Install(qty int64) error {
	if err := i.Unissue(qty); err != nil {
		return err
	}
	i.StockInstalled += qty
	return nil
}

// Uninstall takes back qty installed units.
func (i *Installer) Uninstall(qty int64) error {
	if qty > i.StockInstalled {
		return &CounterUnderflowError{InstallerID: i.ID, Counter: "stockInstalled", Current: i.StockInstalled, Decrement: qty}
	}
	i.StockInstalled -= qty
	return nil
}

// AddJob appends a job to the installer history once.
func (i *Installer) AddJob(jobID uuid.UUID) {
	if !slices.Contains(i.Jobs, jobID) {
		i.Jobs = append(i.Jobs, jobID)
	}
}
