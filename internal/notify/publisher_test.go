package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return r.err
}

func TestRedisPublisherPublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel(TopicUsageCommitted))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, TopicUsageCommitted, map[string]any{"usage_id": "123", "status": "SUCCESS"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "creditgate:events:usage.committed", msg.Channel)

	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
	assert.Equal(t, TopicUsageCommitted, envelope.Topic)
	assert.NotEmpty(t, envelope.ID)
	assert.JSONEq(t, `{"usage_id":"123","status":"SUCCESS"}`, string(envelope.Payload))
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("sink down")}

	err := Fanout{ok, nil, broken}.Publish(context.Background(), TopicUsageExpired, struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, []string{TopicUsageExpired}, ok.topics, "healthy sinks still receive the event")
}

func TestLogPublisherRejectsUnencodablePayload(t *testing.T) {
	err := NewLogPublisher(zap.NewNop()).Publish(context.Background(), TopicUsageCommitted, make(chan int))
	assert.Error(t, err)
}

func TestDispatcherSwallowsErrors(t *testing.T) {
	broken := &recordingPublisher{err: errors.New("sink down")}
	d := NewDispatcher(DispatcherParams{
		Log:       zap.NewNop(),
		Publisher: broken,
		Policy:    config.NewStaticQuotaPolicyHolder(config.DefaultQuotaPolicy()),
	})

	select {
	case <-d.Dispatch(TopicUsageCommitted, struct{}{}):
	case <-time.After(time.Second):
		t.Fatal("dispatch did not finish")
	}
	assert.Equal(t, []string{TopicUsageCommitted}, broken.topics)
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	<-d.Dispatch(TopicUsageCommitted, nil)
}
