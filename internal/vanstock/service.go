package vanstock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vanroute/vanroute/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDay(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (StockDay, error)
	GetDayByID(ctx context.Context, dayID int64) (StockDay, error)
	DaysOn(ctx context.Context, vehicleID int64, date time.Time) ([]StockDay, error)
	DaysBefore(ctx context.Context, vehicleID int64, target time.Time) ([]StockDay, error)
	LinesByDay(ctx context.Context, dayID int64) ([]StockLine, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort deduplicates externally supplied sync batches.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// NotifierPort broadcasts stock-changed events.
type NotifierPort interface {
	Publish(ctx context.Context, evt StockChangedEvent) error
}

// Service owns the per-day reconciliation lifecycle: implicit day
// creation, draft staging, the two commit checkpoints, the derived
// left-quantity view, and the idempotent order-sync merge.
type Service struct {
	repo        RepositoryPort
	resolver    *CarryForwardResolver
	sessions    *SessionRegistry
	syncPort    OrderSyncPort
	audit       AuditPort
	idempotency IdempotencyPort
	notifier    NotifierPort
	now         func() time.Time
}

// NewService builds Service. Audit, idempotency, notifier and syncPort
// may be nil in tests or degraded deployments.
func NewService(repo RepositoryPort, resolver *CarryForwardResolver, sessions *SessionRegistry, syncPort OrderSyncPort, audit AuditPort, idem IdempotencyPort, notifier NotifierPort) *Service {
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	return &Service{
		repo:        repo,
		resolver:    resolver,
		sessions:    sessions,
		syncPort:    syncPort,
		audit:       audit,
		idempotency: idem,
		notifier:    notifier,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Sessions exposes the registry for the notification listener.
func (s *Service) Sessions() *SessionRegistry {
	return s.sessions
}

// DayView is the merged read model: the day, the combined persisted+
// draft lines, and canonical totals over exactly that combined set.
type DayView struct {
	Day    StockDay
	Lines  []StockLine
	Totals Totals
}

// GetOrCreateDay loads the stock day for the triple, creating it in
// Open status on first access.
func (s *Service) GetOrCreateDay(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (StockDay, error) {
	if vehicleID == 0 || operatorID == 0 || date.IsZero() {
		return StockDay{}, errors.New("vanstock: vehicle, operator, and date required")
	}
	day, err := s.repo.GetDay(ctx, vehicleID, date, operatorID)
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, ErrDayNotFound) {
		return StockDay{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		day, err = tx.InsertDay(ctx, StockDay{
			VehicleID:  vehicleID,
			OperatorID: operatorID,
			Date:       date,
			Status:     DayStatusOpen,
		})
		return err
	})
	if err != nil {
		return StockDay{}, err
	}
	return day, nil
}

// View returns the combined read model for the session's day.
func (s *Service) View(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (DayView, error) {
	day, err := s.GetOrCreateDay(ctx, vehicleID, date, operatorID)
	if err != nil {
		return DayView{}, err
	}
	return s.buildView(ctx, day)
}

func (s *Service) buildView(ctx context.Context, day StockDay) (DayView, error) {
	persisted, err := s.repo.LinesByDay(ctx, day.ID)
	if err != nil {
		return DayView{}, err
	}
	draft, _ := s.sessions.Peek(NewSessionKey(day.VehicleID, day.OperatorID, day.Date))
	combined := Combine(persisted, draft)
	return DayView{Day: day, Lines: combined, Totals: SumTotals(combined)}, nil
}

// StageDraft stores the given lines in the session edit set without
// touching storage. Ordered quantities are not operator-editable and are
// zeroed on entry; the sync path is their only writer.
func (s *Service) StageDraft(ctx context.Context, vehicleID int64, date time.Time, operatorID int64, lines []StockLine) (DayView, error) {
	day, err := s.GetOrCreateDay(ctx, vehicleID, date, operatorID)
	if err != nil {
		return DayView{}, err
	}
	if day.Locked() {
		return DayView{}, ErrDayLocked
	}
	es := s.sessions.Acquire(NewSessionKey(vehicleID, operatorID, date))
	for _, line := range lines {
		line.StockDayID = day.ID
		line.OrderedQty = 0
		es.Put(line)
	}
	return s.buildView(ctx, day)
}

// DiscardDraft abandons the session's pending edits. Nothing was
// persisted, so there is nothing else to undo.
func (s *Service) DiscardDraft(vehicleID int64, date time.Time, operatorID int64) {
	s.sessions.Discard(NewSessionKey(vehicleID, operatorID, date))
}

// SaveDraft persists every staged line, clears the edit set, and
// returns the reloaded persisted view. All lines land or none do.
func (s *Service) SaveDraft(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (DayView, error) {
	day, err := s.GetOrCreateDay(ctx, vehicleID, date, operatorID)
	if err != nil {
		return DayView{}, err
	}
	key := NewSessionKey(vehicleID, operatorID, date)
	es, ok := s.sessions.Peek(key)
	if !ok || es.Len() == 0 {
		return s.buildView(ctx, day)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetDayForUpdate(ctx, day.ID)
		if err != nil {
			return err
		}
		if locked.Locked() {
			return ErrDayLocked
		}
		for _, line := range es.Lines() {
			if line.ProductID == 0 {
				continue
			}
			line.StockDayID = day.ID
			if err := tx.UpsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return DayView{}, err
	}
	es.Clear()
	return s.buildView(ctx, day)
}

// CarryForward resolves opening stock for the day and seeds the session
// edit set with the candidate lines. Runs only on explicit request.
// ErrNoPriorStock means the vehicle has no usable history or snapshot;
// callers render an empty result, not a failure.
func (s *Service) CarryForward(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (CarryForwardCandidate, error) {
	day, err := s.GetOrCreateDay(ctx, vehicleID, date, operatorID)
	if err != nil {
		return CarryForwardCandidate{}, err
	}
	if day.Locked() {
		return CarryForwardCandidate{}, ErrDayLocked
	}
	candidate, err := s.resolver.Resolve(ctx, vehicleID, date)
	if err != nil {
		return CarryForwardCandidate{}, err
	}
	for i := range candidate.Lines {
		candidate.Lines[i].StockDayID = day.ID
	}
	es := s.sessions.Acquire(NewSessionKey(vehicleID, operatorID, date))
	es.Replace(candidate.Lines)
	return candidate, nil
}

// CommitMorningInput carries the morning sign-off parameters.
type CommitMorningInput struct {
	VehicleID     int64
	Date          time.Time
	OperatorID    int64
	StartOdometer float64
}

// CommitMorning persists the staged lines and advances the day to
// MorningCommitted. Preconditions: a nonzero start odometer and at
// least one line. Re-running while not yet closing-verified re-applies
// the same upserts; the unique (day, product) constraint keeps that
// idempotent.
func (s *Service) CommitMorning(ctx context.Context, in CommitMorningInput) (DayView, error) {
	if in.StartOdometer <= 0 {
		return DayView{}, Failed(PreconditionStartOdometer)
	}
	day, err := s.GetOrCreateDay(ctx, in.VehicleID, in.Date, in.OperatorID)
	if err != nil {
		return DayView{}, err
	}
	key := NewSessionKey(in.VehicleID, in.OperatorID, in.Date)
	es, _ := s.sessions.Peek(key)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetDayForUpdate(ctx, day.ID)
		if err != nil {
			return err
		}
		if locked.Locked() {
			return ErrDayLocked
		}
		persisted, err := tx.LinesByDay(ctx, day.ID)
		if err != nil {
			return err
		}
		if len(persisted) == 0 && countValid(es) == 0 {
			return Failed(PreconditionNoLines)
		}
		for _, line := range es.Lines() {
			if line.ProductID == 0 {
				continue
			}
			line.StockDayID = day.ID
			if err := tx.UpsertLine(ctx, line); err != nil {
				return err
			}
		}
		if err := tx.SetStartOdometer(ctx, day.ID, in.StartOdometer); err != nil {
			return err
		}
		return tx.UpdateDayStatus(ctx, day.ID, DayStatusMorningCommitted)
	})
	if err != nil {
		return DayView{}, err
	}
	if es != nil {
		es.Clear()
	}
	s.recordAudit(ctx, in.OperatorID, "vanstock:commit_morning", day.ID, map[string]any{
		"vehicle_id":     in.VehicleID,
		"date":           in.Date.Format("2006-01-02"),
		"start_odometer": in.StartOdometer,
	})
	s.publish(ctx, in.VehicleID, in.Date, false, "")
	day, err = s.repo.GetDayByID(ctx, day.ID)
	if err != nil {
		return DayView{}, err
	}
	return s.buildView(ctx, day)
}

// CommitClosingInput carries the end-of-day sign-off parameters.
type CommitClosingInput struct {
	VehicleID   int64
	Date        time.Time
	OperatorID  int64
	EndOdometer float64
	// Verified records the operator's explicit acknowledgement that the
	// displayed left-in-vehicle quantity matched the physical count.
	Verified bool
}

// CommitClosing persists any still-staged lines, sets the end odometer,
// and moves the day to its terminal ClosingVerified state. After this
// no quantity edit on the day succeeds.
func (s *Service) CommitClosing(ctx context.Context, in CommitClosingInput) (DayView, error) {
	if in.EndOdometer <= 0 {
		return DayView{}, Failed(PreconditionEndOdometer)
	}
	if !in.Verified {
		return DayView{}, Failed(PreconditionVerification)
	}
	day, err := s.repo.GetDay(ctx, in.VehicleID, in.Date, in.OperatorID)
	if err != nil {
		return DayView{}, err
	}
	key := NewSessionKey(in.VehicleID, in.OperatorID, in.Date)
	es, _ := s.sessions.Peek(key)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetDayForUpdate(ctx, day.ID)
		if err != nil {
			return err
		}
		if locked.Locked() {
			return ErrDayLocked
		}
		if !locked.Status.CanAdvanceTo(DayStatusClosingVerified) {
			return Failed(PreconditionStatus)
		}
		if locked.StartOdometer == nil || in.EndOdometer <= *locked.StartOdometer {
			return Failed(PreconditionOdometerOrder)
		}
		for _, line := range es.Lines() {
			if line.ProductID == 0 {
				continue
			}
			line.StockDayID = day.ID
			if err := tx.UpsertLine(ctx, line); err != nil {
				return err
			}
		}
		if err := tx.SetEndOdometer(ctx, day.ID, in.EndOdometer); err != nil {
			return err
		}
		return tx.UpdateDayStatus(ctx, day.ID, DayStatusClosingVerified)
	})
	if err != nil {
		return DayView{}, err
	}
	if es != nil {
		es.Clear()
	}
	s.recordAudit(ctx, in.OperatorID, "vanstock:commit_closing", day.ID, map[string]any{
		"vehicle_id":   in.VehicleID,
		"date":         in.Date.Format("2006-01-02"),
		"end_odometer": in.EndOdometer,
	})
	s.publish(ctx, in.VehicleID, in.Date, false, "")
	day, err = s.repo.GetDayByID(ctx, day.ID)
	if err != nil {
		return DayView{}, err
	}
	return s.buildView(ctx, day)
}

// Recompute re-derives every line's left quantity and the totals. Left
// is never stored, so this is a pure read: safe to call arbitrarily
// often, mutating nothing. Available at any non-terminal state.
func (s *Service) Recompute(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (DayView, error) {
	day, err := s.GetOrCreateDay(ctx, vehicleID, date, operatorID)
	if err != nil {
		return DayView{}, err
	}
	if day.Locked() {
		return DayView{}, ErrDayLocked
	}
	return s.buildView(ctx, day)
}

// ApplyOrderedQuantities merges the authoritative per-product ordered
// sums into every stock day on the vehicle and date. Only ordered_qty
// is written: start and returned stay untouched, and unsaved session
// drafts are never consulted or modified. The merge sets absolute
// values, so redelivering the same map is a no-op.
func (s *Service) ApplyOrderedQuantities(ctx context.Context, vehicleID int64, date time.Time, qtys map[int64]float64, ref string) error {
	if vehicleID == 0 || date.IsZero() {
		return errors.New("vanstock: vehicle and date required")
	}
	days, err := s.repo.DaysOn(ctx, vehicleID, date)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return ErrDayNotFound
	}

	insertedKey := false
	idemKey := ""
	if s.idempotency != nil && ref != "" {
		idemKey = fmt.Sprintf("ordersync:%d:%s:%s", vehicleID, date.Format("2006-01-02"), ref)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "vanstock"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil
			}
			return err
		}
		insertedKey = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, day := range days {
			locked, err := tx.GetDayForUpdate(ctx, day.ID)
			if err != nil {
				return err
			}
			if locked.Locked() {
				return ErrDayLocked
			}
			for productID, qty := range qtys {
				if productID == 0 {
					continue
				}
				if err := tx.UpsertOrderedQty(ctx, day.ID, productID, qty); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return err
	}

	s.recordAudit(ctx, 0, "vanstock:ordersync", days[0].ID, map[string]any{
		"vehicle_id": vehicleID,
		"date":       date.Format("2006-01-02"),
		"products":   len(qtys),
		"ref":        ref,
	})
	s.publish(ctx, vehicleID, date, false, ref)
	return nil
}

// SyncOrders pulls the authoritative ordered quantities through the
// order-sync port and applies them. This is the externally triggered
// "recalculate": the pull result is authoritative, never a preview.
func (s *Service) SyncOrders(ctx context.Context, vehicleID int64, date time.Time) error {
	if s.syncPort == nil {
		return errors.New("vanstock: order sync port not configured")
	}
	qtys, err := s.syncPort.OrderedQuantities(ctx, vehicleID, date)
	if err != nil {
		return err
	}
	if len(qtys) == 0 {
		return nil
	}
	return s.ApplyOrderedQuantities(ctx, vehicleID, date, qtys, uuid.NewString())
}

func (s *Service) publish(ctx context.Context, vehicleID int64, date time.Time, reset bool, ref string) {
	if s.notifier == nil {
		return
	}
	evt := StockChangedEvent{
		VehicleID: vehicleID,
		Date:      date.Format("2006-01-02"),
		Reset:     reset,
		Ref:       ref,
	}
	_ = s.notifier.Publish(ctx, evt)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, dayID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "van_stock_day",
		EntityID: fmt.Sprintf("%d", dayID),
		Meta:     meta,
		At:       s.now(),
	})
}

func countValid(es *EditSet) int {
	n := 0
	for _, line := range es.Lines() {
		if line.ProductID != 0 {
			n++
		}
	}
	return n
}
