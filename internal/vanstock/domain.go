package vanstock

import (
	"errors"
	"fmt"
	"time"

	"github.com/vanroute/vanroute/internal/unit"
)

// DayStatus enumerates the lifecycle stages of a van stock day. The
// status only ever advances; CLOSING_VERIFIED is terminal.
type DayStatus string

const (
	DayStatusOpen             DayStatus = "OPEN"
	DayStatusMorningCommitted DayStatus = "MORNING_COMMITTED"
	DayStatusClosingVerified  DayStatus = "CLOSING_VERIFIED"
)

// rank orders statuses for the forward-only transition guard.
func (s DayStatus) rank() int {
	switch s {
	case DayStatusOpen:
		return 0
	case DayStatusMorningCommitted:
		return 1
	case DayStatusClosingVerified:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether a transition from s to next is a legal
// forward step.
func (s DayStatus) CanAdvanceTo(next DayStatus) bool {
	return next.rank() == s.rank()+1
}

// StockDay is the reconciliation record for one vehicle on one business
// date, owned by a single operator.
type StockDay struct {
	ID            int64
	VehicleID     int64
	OperatorID    int64
	Date          time.Time
	Status        DayStatus
	StartOdometer *float64
	EndOdometer   *float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Locked reports whether quantity edits against the day are rejected.
func (d StockDay) Locked() bool {
	return d.Status == DayStatusClosingVerified
}

// StockLine is one product's quantities within a stock day. OrderedQty
// is written only by the order-sync path; StartQty and ReturnedQty stay
// operator-editable until the day is closing-verified.
type StockLine struct {
	ID          int64
	StockDayID  int64
	ProductID   int64
	Unit        unit.Unit
	StartQty    float64
	OrderedQty  float64
	ReturnedQty float64
}

// Left derives the quantity still in the vehicle. It is never stored:
// every read recomputes it from the three source fields.
func (l StockLine) Left() float64 {
	return l.StartQty - l.OrderedQty + l.ReturnedQty
}

// CarryForwardCandidate is the transient result of the backward stock
// search: draft lines seeded from a prior day's leftovers plus a
// suggested opening odometer reading. It is consumed straight into an
// EditSet and has no lifecycle of its own.
type CarryForwardCandidate struct {
	Lines         []StockLine
	SourceDayID   int64
	SourceDate    time.Time
	FromSnapshot  bool
	StartOdometer *float64
}

// Totals aggregates the four quantity fields in canonical units.
type Totals struct {
	Start    float64
	Ordered  float64
	Returned float64
	Left     float64
}

// ErrDayLocked rejects writes against a closing-verified day.
var ErrDayLocked = errors.New("vanstock: stock day is closing-verified and locked")

// ErrNoPriorStock signals an empty carry-forward result. Callers treat
// it as a normal "nothing to load" outcome, not a failure.
var ErrNoPriorStock = errors.New("vanstock: no prior stock found")

// ErrDayNotFound indicates the requested stock day does not exist.
var ErrDayNotFound = errors.New("vanstock: stock day not found")

// Precondition names the specific commit requirement that failed.
type Precondition string

const (
	PreconditionStartOdometer Precondition = "start odometer missing or zero"
	PreconditionEndOdometer   Precondition = "end odometer missing"
	PreconditionOdometerOrder Precondition = "end odometer must exceed start odometer"
	PreconditionVerification  Precondition = "closing balance not verified"
	PreconditionNoLines       Precondition = "no stock lines to commit"
	PreconditionStatus        Precondition = "day status does not allow this transition"
)

// PreconditionError carries the failed commit precondition. No partial
// state change accompanies it.
type PreconditionError struct {
	Condition Precondition
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("vanstock: precondition failed: %s", e.Condition)
}

// Failed builds a PreconditionError for the given condition.
func Failed(c Precondition) error {
	return &PreconditionError{Condition: c}
}
