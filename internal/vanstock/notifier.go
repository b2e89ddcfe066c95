package vanstock

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChangedChannel is the redis pub/sub channel carrying stock change
// notifications.
const ChangedChannel = "vanstock.changed"

// Notifier propagates stock-changed events to active sessions over
// redis pub/sub. Delivery is fire-and-forget: events fire at most once
// per underlying change and carry no payload beyond the day coordinates
// and the reset flag.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(client *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

// Publish broadcasts the event.
func (n *Notifier) Publish(ctx context.Context, evt StockChangedEvent) error {
	if n == nil || n.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, ChangedChannel, payload).Err()
}

// Subscribe returns a channel of decoded events plus a stop function.
// The channel closes once the subscription ends.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan StockChangedEvent, func()) {
	out := make(chan StockChangedEvent, 16)
	if n == nil || n.client == nil {
		close(out)
		return out, func() {}
	}
	sub := n.client.Subscribe(ctx, ChangedChannel)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt StockChangedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				if n.logger != nil {
					n.logger.Warn("decode stock changed event", slog.Any("error", err))
				}
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}

// ListenSessions consumes events until ctx is done, clearing drafts of
// matching sessions only when the event demands a reset. Background
// sync never clobbers unsaved operator edits otherwise.
func ListenSessions(ctx context.Context, events <-chan StockChangedEvent, registry *SessionRegistry, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !evt.Reset {
				continue
			}
			registry.ResetMatching(evt.VehicleID, evt.Date)
			if logger != nil {
				logger.Info("session drafts reset",
					slog.Int64("vehicle_id", evt.VehicleID),
					slog.String("date", evt.Date))
			}
		}
	}
}
