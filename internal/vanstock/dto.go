package vanstock

import (
	"time"

	"github.com/vanroute/vanroute/internal/unit"
)

type LineDraftRequest struct {
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	Unit        string  `json:"unit" validate:"max=20"`
	StartQty    float64 `json:"start_qty" validate:"gte=0"`
	ReturnedQty float64 `json:"returned_qty" validate:"gte=0"`
}

type StageDraftRequest struct {
	Lines []LineDraftRequest `json:"lines" validate:"required,min=1,dive"`
}

type CommitMorningRequest struct {
	StartOdometer float64 `json:"start_odometer" validate:"required,gt=0"`
}

type CommitClosingRequest struct {
	EndOdometer float64 `json:"end_odometer" validate:"required,gt=0"`
	Verified    bool    `json:"verified"`
}

// SyncNotificationRequest is the push intake from the order system.
type SyncNotificationRequest struct {
	VehicleID int64             `json:"vehicle_id" validate:"required,gt=0"`
	Date      string            `json:"date" validate:"required,datetime=2006-01-02"`
	Ordered   map[int64]float64 `json:"ordered" validate:"required,min=1"`
	Ref       string            `json:"ref" validate:"max=64"`
}

type LineResponse struct {
	ProductID   int64   `json:"product_id"`
	Unit        string  `json:"unit"`
	StartQty    float64 `json:"start_qty"`
	OrderedQty  float64 `json:"ordered_qty"`
	ReturnedQty float64 `json:"returned_qty"`
	LeftQty     float64 `json:"left_qty"`
	LeftDisplay string  `json:"left_display"`
	Persisted   bool    `json:"persisted"`
}

type TotalsResponse struct {
	Start        float64 `json:"start"`
	Ordered      float64 `json:"ordered"`
	Returned     float64 `json:"returned"`
	Left         float64 `json:"left"`
	LeftDisplay  string  `json:"left_display"`
	StartDisplay string  `json:"start_display"`
}

type DayResponse struct {
	ID            int64          `json:"id"`
	VehicleID     int64          `json:"vehicle_id"`
	OperatorID    int64          `json:"operator_id"`
	Date          string         `json:"date"`
	Status        string         `json:"status"`
	StartOdometer *float64       `json:"start_odometer"`
	EndOdometer   *float64       `json:"end_odometer"`
	Lines         []LineResponse `json:"lines"`
	Totals        TotalsResponse `json:"totals"`
}

type CarryForwardResponse struct {
	Found         bool           `json:"found"`
	FromSnapshot  bool           `json:"from_snapshot"`
	SourceDate    string         `json:"source_date,omitempty"`
	StartOdometer *float64       `json:"suggested_start_odometer,omitempty"`
	Lines         []LineResponse `json:"lines"`
}

func toDayResponse(view DayView) DayResponse {
	lines := make([]LineResponse, 0, len(view.Lines))
	for _, l := range view.Lines {
		lines = append(lines, toLineResponse(l))
	}
	return DayResponse{
		ID:            view.Day.ID,
		VehicleID:     view.Day.VehicleID,
		OperatorID:    view.Day.OperatorID,
		Date:          view.Day.Date.Format("2006-01-02"),
		Status:        string(view.Day.Status),
		StartOdometer: view.Day.StartOdometer,
		EndOdometer:   view.Day.EndOdometer,
		Lines:         lines,
		Totals: TotalsResponse{
			Start:        view.Totals.Start,
			Ordered:      view.Totals.Ordered,
			Returned:     view.Totals.Returned,
			Left:         view.Totals.Left,
			LeftDisplay:  unit.Format(view.Totals.Left),
			StartDisplay: unit.Format(view.Totals.Start),
		},
	}
}

func toLineResponse(l StockLine) LineResponse {
	return LineResponse{
		ProductID:   l.ProductID,
		Unit:        string(l.Unit),
		StartQty:    l.StartQty,
		OrderedQty:  l.OrderedQty,
		ReturnedQty: l.ReturnedQty,
		LeftQty:     l.Left(),
		LeftDisplay: unit.FormatIn(l.Left(), l.Unit),
		Persisted:   l.ID != 0,
	}
}

func toCarryForwardResponse(c CarryForwardCandidate) CarryForwardResponse {
	lines := make([]LineResponse, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, toLineResponse(l))
	}
	resp := CarryForwardResponse{
		Found:         true,
		FromSnapshot:  c.FromSnapshot,
		StartOdometer: c.StartOdometer,
		Lines:         lines,
	}
	if !c.SourceDate.IsZero() {
		resp.SourceDate = c.SourceDate.Format("2006-01-02")
	}
	return resp
}

func parseDate(raw string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", raw)
	return t, err == nil
}
