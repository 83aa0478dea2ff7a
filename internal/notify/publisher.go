package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	TopicUsageCommitted      = "usage.committed"
	TopicUsageExpired        = "usage.expired"
	TopicSubscriptionChanged = "subscription.changed"
)

const channelPrefix = "creditgate:events:"

// Publisher delivers events to an asynchronous sink. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Envelope is the wire format on every sink.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func newEnvelope(topic string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Channel returns the redis pub/sub channel for a topic.
func Channel(topic string) string {
	return channelPrefix + topic
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	envelope, err := newEnvelope(topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return p.client.Publish(ctx, Channel(topic), data).Err()
}

// LogPublisher writes events to the log. It is the sink of last resort.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("notify")}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload any) error {
	envelope, err := newEnvelope(topic, payload)
	if err != nil {
		return err
	}
	p.log.Info("event published",
		zap.String("event_id", envelope.ID),
		zap.String("topic", topic),
		zap.ByteString("payload", envelope.Payload),
	)
	return nil
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, payload any) error {
	var errs error
	for _, p := range f {
		if p == nil {
			continue
		}
		errs = multierr.Append(errs, p.Publish(ctx, topic, payload))
	}
	return errs
}
