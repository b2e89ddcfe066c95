package vanstock

import (
	"context"
	"time"

	"github.com/vanroute/vanroute/internal/unit"
)

// HistorySource provides read access to a vehicle's stock day history.
type HistorySource interface {
	// DaysBefore lists the vehicle's stock days dated strictly before
	// the target date, most recent first.
	DaysBefore(ctx context.Context, vehicleID int64, target time.Time) ([]StockDay, error)
	// LinesByDay returns all committed lines for a day.
	LinesByDay(ctx context.Context, stockDayID int64) ([]StockLine, error)
}

// SnapshotEntry is one product's live balance on a vehicle.
type SnapshotEntry struct {
	ProductID int64
	Qty       float64
	Unit      unit.Unit
	AsOf      time.Time
}

// SnapshotSource is the live-inventory fallback when no stock day in the
// history has leftovers.
type SnapshotSource interface {
	// LatestPositiveStock lists products with positive current stock on
	// the vehicle, most recent snapshot date first.
	LatestPositiveStock(ctx context.Context, vehicleID int64, before time.Time) ([]SnapshotEntry, error)
}

// CarryForwardResolver finds the best source of opening quantities for a
// new stock day. It runs only on explicit request; auto-running it would
// silently discard in-progress edits.
type CarryForwardResolver struct {
	history  HistorySource
	snapshot SnapshotSource
}

// NewCarryForwardResolver constructs a resolver over the two sources.
func NewCarryForwardResolver(history HistorySource, snapshot SnapshotSource) *CarryForwardResolver {
	return &CarryForwardResolver{history: history, snapshot: snapshot}
}

// Resolve scans the vehicle's history backward from target and stops at
// the first day with at least one line left over, building draft lines
// from that single day only: leftovers from an older day are no longer
// physically in the vehicle once a later day exists. When the whole
// history is empty it falls back to the live snapshot, and when that is
// empty too it returns ErrNoPriorStock.
func (r *CarryForwardResolver) Resolve(ctx context.Context, vehicleID int64, target time.Time) (CarryForwardCandidate, error) {
	days, err := r.history.DaysBefore(ctx, vehicleID, target)
	if err != nil {
		return CarryForwardCandidate{}, err
	}
	for _, day := range days {
		lines, err := r.history.LinesByDay(ctx, day.ID)
		if err != nil {
			return CarryForwardCandidate{}, err
		}
		drafts := leftoverDrafts(lines)
		if len(drafts) == 0 {
			continue
		}
		odo := day.EndOdometer
		if odo == nil {
			odo = day.StartOdometer
		}
		return CarryForwardCandidate{
			Lines:         drafts,
			SourceDayID:   day.ID,
			SourceDate:    day.Date,
			StartOdometer: odo,
		}, nil
	}

	if r.snapshot != nil {
		entries, err := r.snapshot.LatestPositiveStock(ctx, vehicleID, target)
		if err != nil {
			return CarryForwardCandidate{}, err
		}
		if len(entries) > 0 {
			drafts := make([]StockLine, 0, len(entries))
			for _, e := range entries {
				drafts = append(drafts, StockLine{
					ProductID: e.ProductID,
					Unit:      e.Unit,
					StartQty:  e.Qty,
				})
			}
			return CarryForwardCandidate{Lines: drafts, FromSnapshot: true}, nil
		}
	}

	return CarryForwardCandidate{}, ErrNoPriorStock
}

// leftoverDrafts turns a day's lines with positive leftovers into fresh
// drafts: start is seeded from the leftover, ordered and returned reset.
func leftoverDrafts(lines []StockLine) []StockLine {
	drafts := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		left := line.Left()
		if left <= 0 {
			continue
		}
		drafts = append(drafts, StockLine{
			ProductID: line.ProductID,
			Unit:      line.Unit,
			StartQty:  left,
		})
	}
	return drafts
}
