package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/tiendalink/ordercore/internal/kafka"
	"github.com/tiendalink/ordercore/internal/redisx"
)

// Notifier is the delivery channel contract: fire-and-forget per recipient.
// Failures are logged by implementations and never block the caller.
type Notifier interface {
	Publish(ctx context.Context, recipientID string, ev Event) error
	CacheOrderStatus(ctx context.Context, orderID, status string) error
}

// FanOut publishes each event to the kafka notifications topic (durable) and
// to the recipient's redis channel (realtime).
type FanOut struct {
	Producer *kafkax.Producer
	Redis    *redis.Client
	Service  string
	Log      *zap.Logger
}

var _ Notifier = (*FanOut)(nil)

// Topic carries all order-lifecycle notifications, partitioned by order id so
// events for one order keep their order.
const Topic = "order.notifications"

func PartitionKey(orderID string) []byte { return []byte(orderID) }

func (f *FanOut) Publish(ctx context.Context, recipientID string, ev Event) error {
	env, err := ev.envelope(f.Service, recipientID)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	value := kafkax.MustMarshal(env)

	f.Producer.Publish(PartitionKey(ev.OrderID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.Type)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		kafkago.Header{Key: "x-recipient", Value: []byte(recipientID)},
	)

	channel := fmt.Sprintf(redisx.ChannelUser, recipientID)
	if err := f.Redis.Publish(ctx, channel, value).Err(); err != nil {
		// Realtime push is best effort; the durable copy is already queued.
		f.Log.Warn("realtime publish failed",
			zap.String("channel", channel),
			zap.String("event", ev.Type),
			zap.Error(err))
	}
	return nil
}

func (f *FanOut) CacheOrderStatus(ctx context.Context, orderID, status string) error {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	return f.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, status), redisx.TTLStatusCache).Err()
}
