package notify

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(NewPublisher),
	fx.Provide(NewDispatcher),
)

type publisherParams struct {
	fx.In

	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// NewPublisher logs every event and also publishes to redis when available.
func NewPublisher(p publisherParams) Publisher {
	sinks := Fanout{NewLogPublisher(p.Log)}
	if p.Client != nil {
		sinks = append(sinks, NewRedisPublisher(p.Client))
	}
	return sinks
}
