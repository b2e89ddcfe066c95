package vanstock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/vanroute/vanroute/internal/observability"
	"github.com/vanroute/vanroute/internal/platform/httpx"
	"github.com/vanroute/vanroute/internal/shared"
	"github.com/vanroute/vanroute/internal/unit"
)

// Handler serves the reconciliation JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  *observability.Metrics
	validate *validator.Validate
	recalc   singleflight.Group
}

// NewHandler constructs Handler. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		metrics:  metrics,
		validate: validator.New(),
	}
}

type dayParams struct {
	vehicleID  int64
	date       time.Time
	operatorID int64
}

func (h *Handler) params(r *http.Request) (dayParams, error) {
	vehicleID, err := strconv.ParseInt(chi.URLParam(r, "vehicleID"), 10, 64)
	if err != nil || vehicleID <= 0 {
		return dayParams{}, fmt.Errorf("%w: invalid vehicle id", httpx.ErrValidation)
	}
	date, ok := parseDate(chi.URLParam(r, "date"))
	if !ok {
		return dayParams{}, fmt.Errorf("%w: invalid date", httpx.ErrValidation)
	}
	operatorID := shared.OperatorFromContext(r.Context())
	if raw := r.URL.Query().Get("operator"); raw != "" {
		operatorID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if operatorID <= 0 {
		return dayParams{}, fmt.Errorf("%w: operator required", httpx.ErrValidation)
	}
	return dayParams{vehicleID: vehicleID, date: date, operatorID: operatorID}, nil
}

// Show returns the combined persisted+draft view with canonical totals.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.View(r.Context(), p.vehicleID, p.date, p.operatorID)
	if err != nil {
		h.respondError(w, "view stock day", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDayResponse(view))
}

// StageDraft stages edit-set lines for the session.
func (h *Handler) StageDraft(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req StageDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	lines := make([]StockLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, StockLine{
			ProductID:   l.ProductID,
			Unit:        unit.Normalize(l.Unit),
			StartQty:    l.StartQty,
			ReturnedQty: l.ReturnedQty,
		})
	}
	view, err := h.service.StageDraft(r.Context(), p.vehicleID, p.date, p.operatorID, lines)
	if err != nil {
		h.respondError(w, "stage draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDayResponse(view))
}

// SaveDraft persists the staged lines and clears the edit set.
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.SaveDraft(r.Context(), p.vehicleID, p.date, p.operatorID)
	if err != nil {
		h.respondError(w, "save draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDayResponse(view))
}

// DiscardDraft abandons the session's pending edits.
func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.service.DiscardDraft(p.vehicleID, p.date, p.operatorID)
	w.WriteHeader(http.StatusNoContent)
}

// CarryForward resolves opening stock for the day. An empty history is
// a normal outcome, rendered as found=false.
func (h *Handler) CarryForward(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	candidate, err := h.service.CarryForward(r.Context(), p.vehicleID, p.date, p.operatorID)
	if errors.Is(err, ErrNoPriorStock) {
		httpx.JSON(w, http.StatusOK, CarryForwardResponse{Found: false, Lines: []LineResponse{}})
		return
	}
	if err != nil {
		h.respondError(w, "carry forward", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCarryForwardResponse(candidate))
}

// CommitMorning runs the morning sign-off.
func (h *Handler) CommitMorning(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req CommitMorningRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	view, err := h.service.CommitMorning(r.Context(), CommitMorningInput{
		VehicleID:     p.vehicleID,
		Date:          p.date,
		OperatorID:    p.operatorID,
		StartOdometer: req.StartOdometer,
	})
	if err != nil {
		h.respondError(w, "commit morning", err)
		return
	}
	h.metrics.CommitObserved("morning")
	httpx.JSON(w, http.StatusOK, toDayResponse(view))
}

// CommitClosing runs the end-of-day sign-off.
func (h *Handler) CommitClosing(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req CommitClosingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	view, err := h.service.CommitClosing(r.Context(), CommitClosingInput{
		VehicleID:   p.vehicleID,
		Date:        p.date,
		OperatorID:  p.operatorID,
		EndOdometer: req.EndOdometer,
		Verified:    req.Verified,
	})
	if err != nil {
		h.respondError(w, "commit closing", err)
		return
	}
	h.metrics.CommitObserved("closing")
	httpx.JSON(w, http.StatusOK, toDayResponse(view))
}

// Recalculate pulls authoritative ordered quantities and returns the
// refreshed view. Concurrent calls for the same day collapse into one
// pull via singleflight.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	flightKey := fmt.Sprintf("%d:%s", p.vehicleID, p.date.Format("2006-01-02"))
	// The flight is shared across callers; detach it from this request's
	// context so one disconnecting caller cannot cancel the others' pull.
	flightCtx := context.WithoutCancel(r.Context())
	_, err, _ = h.recalc.Do(flightKey, func() (any, error) {
		return nil, h.service.SyncOrders(flightCtx, p.vehicleID, p.date)
	})
	if err != nil {
		h.respondError(w, "recalculate", err)
		return
	}
	view, err := h.service.Recompute(r.Context(), p.vehicleID, p.date, p.operatorID)
	if err != nil {
		h.respondError(w, "recompute", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDayResponse(view))
}

// SyncNotification is the push intake: the order system delivers the
// authoritative ordered map after placing or recomputing orders.
func (h *Handler) SyncNotification(w http.ResponseWriter, r *http.Request) {
	var req SyncNotificationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	date, _ := parseDate(req.Date)
	if err := h.service.ApplyOrderedQuantities(r.Context(), req.VehicleID, date, req.Ordered, req.Ref); err != nil {
		h.respondError(w, "apply ordered quantities", err)
		return
	}
	h.metrics.SyncMergeObserved()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var pre *PreconditionError
	switch {
	case errors.As(err, &pre):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Precondition Failed", string(pre.Condition))
	case errors.Is(err, ErrDayLocked):
		httpx.Problem(w, http.StatusConflict, "Day Locked", err.Error())
	case errors.Is(err, ErrDayNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
