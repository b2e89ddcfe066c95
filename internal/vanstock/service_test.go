package vanstock

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanroute/vanroute/internal/shared"
	"github.com/vanroute/vanroute/internal/unit"
)

type memoryRepo struct {
	nextDayID  int64
	nextLineID int64
	days       map[int64]*StockDay
	lines      map[int64]map[int64]*StockLine
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		days:  make(map[int64]*StockDay),
		lines: make(map[int64]map[int64]*StockLine),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetDay(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (StockDay, error) {
	for _, d := range r.days {
		if d.VehicleID == vehicleID && d.OperatorID == operatorID && d.Date.Equal(date) {
			return *d, nil
		}
	}
	return StockDay{}, ErrDayNotFound
}

func (r *memoryRepo) GetDayByID(ctx context.Context, dayID int64) (StockDay, error) {
	if d, ok := r.days[dayID]; ok {
		return *d, nil
	}
	return StockDay{}, ErrDayNotFound
}

func (r *memoryRepo) DaysOn(ctx context.Context, vehicleID int64, date time.Time) ([]StockDay, error) {
	out := []StockDay{}
	for _, d := range r.days {
		if d.VehicleID == vehicleID && d.Date.Equal(date) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) DaysBefore(ctx context.Context, vehicleID int64, target time.Time) ([]StockDay, error) {
	out := []StockDay{}
	for _, d := range r.days {
		if d.VehicleID == vehicleID && d.Date.Before(target) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (r *memoryRepo) LinesByDay(ctx context.Context, dayID int64) ([]StockLine, error) {
	byPID := r.lines[dayID]
	out := make([]StockLine, 0, len(byPID))
	for _, line := range byPID {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (tx *memoryTx) GetDayForUpdate(ctx context.Context, dayID int64) (StockDay, error) {
	return tx.repo.GetDayByID(ctx, dayID)
}

func (tx *memoryTx) InsertDay(ctx context.Context, day StockDay) (StockDay, error) {
	if existing, err := tx.repo.GetDay(ctx, day.VehicleID, day.Date, day.OperatorID); err == nil {
		return existing, nil
	}
	tx.repo.nextDayID++
	day.ID = tx.repo.nextDayID
	day.CreatedAt = time.Now()
	day.UpdatedAt = day.CreatedAt
	tx.repo.days[day.ID] = &day
	return day, nil
}

func (tx *memoryTx) LinesByDay(ctx context.Context, dayID int64) ([]StockLine, error) {
	return tx.repo.LinesByDay(ctx, dayID)
}

func (tx *memoryTx) UpsertLine(ctx context.Context, line StockLine) error {
	byPID := tx.repo.lines[line.StockDayID]
	if byPID == nil {
		byPID = make(map[int64]*StockLine)
		tx.repo.lines[line.StockDayID] = byPID
	}
	if existing, ok := byPID[line.ProductID]; ok {
		existing.Unit = line.Unit
		existing.StartQty = line.StartQty
		existing.ReturnedQty = line.ReturnedQty
		return nil
	}
	tx.repo.nextLineID++
	line.ID = tx.repo.nextLineID
	byPID[line.ProductID] = &line
	return nil
}

func (tx *memoryTx) UpsertOrderedQty(ctx context.Context, dayID, productID int64, qty float64) error {
	byPID := tx.repo.lines[dayID]
	if byPID == nil {
		byPID = make(map[int64]*StockLine)
		tx.repo.lines[dayID] = byPID
	}
	if existing, ok := byPID[productID]; ok {
		existing.OrderedQty = qty
		return nil
	}
	tx.repo.nextLineID++
	byPID[productID] = &StockLine{ID: tx.repo.nextLineID, StockDayID: dayID, ProductID: productID, OrderedQty: qty}
	return nil
}

func (tx *memoryTx) UpdateDayStatus(ctx context.Context, dayID int64, status DayStatus) error {
	d, ok := tx.repo.days[dayID]
	if !ok {
		return ErrDayNotFound
	}
	d.Status = status
	return nil
}

func (tx *memoryTx) SetStartOdometer(ctx context.Context, dayID int64, odometer float64) error {
	d, ok := tx.repo.days[dayID]
	if !ok {
		return ErrDayNotFound
	}
	d.StartOdometer = &odometer
	return nil
}

func (tx *memoryTx) SetEndOdometer(ctx context.Context, dayID int64, odometer float64) error {
	d, ok := tx.repo.days[dayID]
	if !ok {
		return ErrDayNotFound
	}
	d.EndOdometer = &odometer
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (s *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys == nil {
		s.keys = make(map[string]bool)
	}
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

type stubSyncPort struct {
	qtys  map[int64]float64
	calls int
}

func (p *stubSyncPort) OrderedQuantities(ctx context.Context, vehicleID int64, date time.Time) (map[int64]float64, error) {
	p.calls++
	return p.qtys, nil
}

var testDate = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, NewSessionRegistry(), nil, nil, &memoryIdempotency{}, nil)
}

func TestGetOrCreateDayIsImplicit(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	day, err := svc.GetOrCreateDay(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Equal(t, DayStatusOpen, day.Status)
	require.NotZero(t, day.ID)

	again, err := svc.GetOrCreateDay(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Equal(t, day.ID, again.ID)
}

func TestStageDraftDerivesLeftAndZeroesOrdered(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	view, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{
		{ProductID: 1, Unit: unit.Kilogram, StartQty: 10, OrderedQty: 99, ReturnedQty: 2},
		{ProductID: 2, Unit: unit.Unit("PCS"), StartQty: 6},
	})
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	require.Zero(t, view.Lines[0].OrderedQty)
	require.InDelta(t, 12.0, view.Lines[0].Left(), 0.0001)
	require.InDelta(t, 6.0, view.Lines[1].Left(), 0.0001)
	require.InDelta(t, 18.0, view.Totals.Left, 0.0001)

	// Nothing persisted yet.
	persisted, err := repo.LinesByDay(ctx, view.Day.ID)
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestSaveDraftPersistsAndClears(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{
		{ProductID: 1, Unit: unit.Kilogram, StartQty: 10},
		{ProductID: 2, Unit: unit.Litre, StartQty: 4},
	})
	require.NoError(t, err)

	view, err := svc.SaveDraft(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	for _, line := range view.Lines {
		require.NotZero(t, line.ID)
	}

	es, ok := svc.Sessions().Peek(NewSessionKey(7, 21, testDate))
	require.True(t, ok)
	require.Zero(t, es.Len())
}

func TestViewPersistedWinsOverDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 5}})
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, 7, testDate, 21)
	require.NoError(t, err)

	// A stale draft for the same product must not shadow storage.
	view, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{
		{ProductID: 1, Unit: unit.Kilogram, StartQty: 3},
		{ProductID: 9, Unit: unit.Kilogram, StartQty: 1},
	})
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	byPID := map[int64]StockLine{}
	for _, line := range view.Lines {
		byPID[line.ProductID] = line
	}
	require.InDelta(t, 5.0, byPID[1].StartQty, 0.0001)
	require.InDelta(t, 1.0, byPID[9].StartQty, 0.0001)
}

func TestDiscardDraftDropsEdits(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 5}})
	require.NoError(t, err)

	svc.DiscardDraft(7, testDate, 21)

	view, err := svc.View(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Empty(t, view.Lines)
}

func TestCommitMorningPreconditions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21})
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Equal(t, PreconditionStartOdometer, pre.Condition)

	_, err = svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21, StartOdometer: 120.5})
	require.ErrorAs(t, err, &pre)
	require.Equal(t, PreconditionNoLines, pre.Condition)

	day, err := svc.GetOrCreateDay(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Equal(t, DayStatusOpen, day.Status)
	require.Nil(t, day.StartOdometer)
}

func TestCommitMorningAdvancesAndIsRetrySafe(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 10}})
	require.NoError(t, err)

	view, err := svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21, StartOdometer: 120.5})
	require.NoError(t, err)
	require.Equal(t, DayStatusMorningCommitted, view.Day.Status)
	require.NotNil(t, view.Day.StartOdometer)
	require.InDelta(t, 120.5, *view.Day.StartOdometer, 0.0001)
	require.Len(t, view.Lines, 1)

	// A retried submit after a dropped response lands on the same state.
	view, err = svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21, StartOdometer: 120.5})
	require.NoError(t, err)
	require.Equal(t, DayStatusMorningCommitted, view.Day.Status)
	require.Len(t, view.Lines, 1)
}

func TestCommitClosingPreconditions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 10}})
	require.NoError(t, err)

	var pre *PreconditionError
	_, err = svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, Verified: true})
	require.ErrorAs(t, err, &pre)
	require.Equal(t, PreconditionEndOdometer, pre.Condition)

	_, err = svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, EndOdometer: 180})
	require.ErrorAs(t, err, &pre)
	require.Equal(t, PreconditionVerification, pre.Condition)

	// Closing straight from Open skips the morning checkpoint.
	_, err = svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, EndOdometer: 180, Verified: true})
	require.ErrorAs(t, err, &pre)
	require.Equal(t, PreconditionStatus, pre.Condition)

	_, err = svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21, StartOdometer: 120.5})
	require.NoError(t, err)

	_, err = svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, EndOdometer: 120.5, Verified: true})
	require.ErrorAs(t, err, &pre)
	require.Equal(t, PreconditionOdometerOrder, pre.Condition)

	day, err := svc.GetOrCreateDay(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Equal(t, DayStatusMorningCommitted, day.Status)
}

func TestCommitClosingLocksDay(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 10}})
	require.NoError(t, err)
	_, err = svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21, StartOdometer: 120.5})
	require.NoError(t, err)

	view, err := svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, EndOdometer: 181.2, Verified: true})
	require.NoError(t, err)
	require.Equal(t, DayStatusClosingVerified, view.Day.Status)
	require.NotNil(t, view.Day.EndOdometer)

	_, err = svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 2, Unit: unit.Kilogram, StartQty: 1}})
	require.ErrorIs(t, err, ErrDayLocked)

	err = svc.ApplyOrderedQuantities(ctx, 7, testDate, map[int64]float64{1: 3}, "batch-after-lock")
	require.ErrorIs(t, err, ErrDayLocked)

	_, err = svc.Recompute(ctx, 7, testDate, 21)
	require.ErrorIs(t, err, ErrDayLocked)

	_, err = svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, EndOdometer: 190, Verified: true})
	require.ErrorIs(t, err, ErrDayLocked)
}

func TestCommitClosingSkipsPlaceholderDrafts(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 10}})
	require.NoError(t, err)
	_, err = svc.CommitMorning(ctx, CommitMorningInput{VehicleID: 7, Date: testDate, OperatorID: 21, StartOdometer: 120.5})
	require.NoError(t, err)

	// A row the operator added but never filled in stays product-less;
	// closing must drop it just like the morning commit does.
	_, err = svc.StageDraft(ctx, 7, testDate, 21, []StockLine{
		{ProductID: 0, Unit: unit.Kilogram},
		{ProductID: 1, Unit: unit.Kilogram, StartQty: 10, ReturnedQty: 3},
	})
	require.NoError(t, err)

	view, err := svc.CommitClosing(ctx, CommitClosingInput{VehicleID: 7, Date: testDate, OperatorID: 21, EndOdometer: 181.2, Verified: true})
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.Equal(t, int64(1), view.Lines[0].ProductID)
	require.InDelta(t, 3.0, view.Lines[0].ReturnedQty, 0.0001)
}

func TestApplyOrderedQuantitiesSetsAbsoluteValues(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 10, ReturnedQty: 2}})
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, 7, testDate, 21)
	require.NoError(t, err)

	err = svc.ApplyOrderedQuantities(ctx, 7, testDate, map[int64]float64{1: 4, 5: 2.5}, "batch-1")
	require.NoError(t, err)
	// Redelivery with a fresh ref must not double anything.
	err = svc.ApplyOrderedQuantities(ctx, 7, testDate, map[int64]float64{1: 4, 5: 2.5}, "batch-2")
	require.NoError(t, err)

	view, err := svc.View(ctx, 7, testDate, 21)
	require.NoError(t, err)
	byPID := map[int64]StockLine{}
	for _, line := range view.Lines {
		byPID[line.ProductID] = line
	}
	require.InDelta(t, 4.0, byPID[1].OrderedQty, 0.0001)
	require.InDelta(t, 10.0, byPID[1].StartQty, 0.0001)
	require.InDelta(t, 2.0, byPID[1].ReturnedQty, 0.0001)
	require.InDelta(t, 8.0, byPID[1].Left(), 0.0001)
	// Product 5 was created by the sync with zero start and returned.
	require.InDelta(t, 2.5, byPID[5].OrderedQty, 0.0001)
	require.Zero(t, byPID[5].StartQty)
	require.InDelta(t, -2.5, byPID[5].Left(), 0.0001)
}

func TestApplyOrderedQuantitiesDeduplicatesByRef(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 1, Unit: unit.Kilogram, StartQty: 10}})
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, 7, testDate, 21)
	require.NoError(t, err)

	err = svc.ApplyOrderedQuantities(ctx, 7, testDate, map[int64]float64{1: 4}, "batch-1")
	require.NoError(t, err)
	// Same ref again: dropped silently, even with different values.
	err = svc.ApplyOrderedQuantities(ctx, 7, testDate, map[int64]float64{1: 9}, "batch-1")
	require.NoError(t, err)

	view, err := svc.View(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.InDelta(t, 4.0, view.Lines[0].OrderedQty, 0.0001)
}

func TestApplyOrderedQuantitiesLeavesDraftsAlone(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 3, Unit: unit.Kilogram, StartQty: 6}})
	require.NoError(t, err)

	err = svc.ApplyOrderedQuantities(ctx, 7, testDate, map[int64]float64{8: 2}, "batch-1")
	require.NoError(t, err)

	es, ok := svc.Sessions().Peek(NewSessionKey(7, 21, testDate))
	require.True(t, ok)
	draft, ok := es.Get(3)
	require.True(t, ok)
	require.InDelta(t, 6.0, draft.StartQty, 0.0001)

	view, err := svc.View(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
}

func TestSyncOrdersPullsAndApplies(t *testing.T) {
	repo := newMemoryRepo()
	port := &stubSyncPort{qtys: map[int64]float64{2: 7}}
	svc := NewService(repo, nil, NewSessionRegistry(), port, nil, &memoryIdempotency{}, nil)
	ctx := context.Background()

	_, err := svc.StageDraft(ctx, 7, testDate, 21, []StockLine{{ProductID: 2, Unit: unit.Unit("PCS"), StartQty: 12}})
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, 7, testDate, 21)
	require.NoError(t, err)

	require.NoError(t, svc.SyncOrders(ctx, 7, testDate))
	require.Equal(t, 1, port.calls)

	view, err := svc.View(ctx, 7, testDate, 21)
	require.NoError(t, err)
	require.InDelta(t, 7.0, view.Lines[0].OrderedQty, 0.0001)
	require.InDelta(t, 5.0, view.Lines[0].Left(), 0.0001)
}
