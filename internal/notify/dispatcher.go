package notify

import (
	"context"
	"time"

	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DispatcherParams struct {
	fx.In

	Log       *zap.Logger
	Publisher Publisher
	Policy    *config.QuotaPolicyHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

// Dispatcher publishes fire-and-forget on a detached goroutine so a slow sink
// never holds up the request that produced the event.
type Dispatcher struct {
	log       *zap.Logger
	publisher Publisher
	policy    *config.QuotaPolicyHolder
	metrics   *metrics.Metrics
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		log:       p.Log.Named("notify.dispatcher"),
		publisher: p.Publisher,
		policy:    p.Policy,
		metrics:   p.Metrics,
	}
}

// Dispatch returns immediately. The returned channel is closed once the
// publish attempt finishes; callers normally ignore it.
func (d *Dispatcher) Dispatch(topic string, payload any) <-chan struct{} {
	done := make(chan struct{})
	if d == nil || d.publisher == nil {
		close(done)
		return done
	}

	timeout := d.policy.Get().PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.publisher.Publish(ctx, topic, payload); err != nil {
			d.metrics.RecordPublishFailure(ctx, topic)
			d.log.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
	return done
}
