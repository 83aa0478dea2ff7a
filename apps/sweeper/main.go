package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/cache"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/notify"
	"github.com/smallbiznis/creditgate/internal/observability"
	"github.com/smallbiznis/creditgate/internal/quota/repository"
	"github.com/smallbiznis/creditgate/internal/quota/resolver"
	"github.com/smallbiznis/creditgate/internal/quota/snapshot"
	"github.com/smallbiznis/creditgate/internal/quota/sweeper"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"github.com/smallbiznis/creditgate/internal/redisclient"
	"github.com/smallbiznis/creditgate/pkg/db"
	"go.uber.org/fx"
)

// The sweeper only expires reservations; it serves no HTTP traffic.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,

		cache.Module,
		notify.Module,
		fx.Provide(ratelimit.NewLocker),
		repository.Module,
		resolver.Module,
		snapshot.Module,
		sweeper.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
