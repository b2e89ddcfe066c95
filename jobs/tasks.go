package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderSync pulls authoritative ordered quantities for one
	// vehicle and date and merges them into the stock day.
	TaskOrderSync = "vanstock:ordersync"
	// TaskIdempotencyCleanup drops processed sync-batch keys past the
	// retention window.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// OrderSyncPayload identifies the day to refresh.
type OrderSyncPayload struct {
	VehicleID int64  `json:"vehicle_id"`
	Date      string `json:"date"`
}

// NewOrderSyncTask constructs an order-sync pull task.
func NewOrderSyncTask(vehicleID int64, date time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(OrderSyncPayload{
		VehicleID: vehicleID,
		Date:      date.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderSync, data), nil
}

// IdempotencyCleanupPayload bounds the cleanup window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{
		RetentionHours: int(retention.Hours()),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
