package vanstock

import (
	"context"
	"time"
)

// OrderSyncPort is the contract to the external order-fulfilment domain.
// It reports the authoritative sum of order-line quantities per product
// for every order attributable to the vehicle's route on the date. The
// engine never computes ordered quantities itself; this port is the only
// source, which removes any precedence question between competing
// calculations.
type OrderSyncPort interface {
	OrderedQuantities(ctx context.Context, vehicleID int64, date time.Time) (map[int64]float64, error)
}

// StockChangedEvent is the push notification fanned out after persisted
// stock changes from order placement or an external recompute. Reset is
// caller-controlled: only when true do active sessions drop their
// unsaved drafts; otherwise the drafts survive and the persisted rows
// refresh on the next read.
type StockChangedEvent struct {
	VehicleID int64  `json:"vehicle_id"`
	Date      string `json:"date"`
	Reset     bool   `json:"reset"`
	Ref       string `json:"ref,omitempty"`
}

// EventDate parses the event's business date.
func (e StockChangedEvent) EventDate() (time.Time, error) {
	return time.Parse("2006-01-02", e.Date)
}
