package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// SyncService is the slice of the reconciliation engine the job needs.
type SyncService interface {
	SyncOrders(ctx context.Context, vehicleID int64, date time.Time) error
}

// OrderSyncJob processes TaskOrderSync tasks.
type OrderSyncJob struct {
	service SyncService
	logger  *slog.Logger
}

// NewOrderSyncJob constructs the job.
func NewOrderSyncJob(service SyncService, logger *slog.Logger) *OrderSyncJob {
	return &OrderSyncJob{service: service, logger: logger}
}

// Handle pulls and merges ordered quantities for the payload's day.
func (j *OrderSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OrderSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		return asynq.SkipRetry
	}
	if err := j.service.SyncOrders(ctx, payload.VehicleID, date); err != nil {
		if j.logger != nil {
			j.logger.Error("order sync",
				slog.Int64("vehicle_id", payload.VehicleID),
				slog.String("date", payload.Date),
				slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("order sync applied",
			slog.Int64("vehicle_id", payload.VehicleID),
			slog.String("date", payload.Date))
	}
	return nil
}

// CleanupStore is the idempotency slice the cleanup job needs.
type CleanupStore interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob processes TaskIdempotencyCleanup tasks.
type IdempotencyCleanupJob struct {
	store  CleanupStore
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store CleanupStore, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle drops keys older than the payload's retention window.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		return err
	}
	if j.logger != nil {
		j.logger.Info("idempotency keys cleaned", slog.Duration("retention", retention))
	}
	return nil
}
