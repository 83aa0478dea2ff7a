package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/apikey"
	"github.com/smallbiznis/creditgate/internal/cache"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/migration"
	"github.com/smallbiznis/creditgate/internal/notify"
	"github.com/smallbiznis/creditgate/internal/observability"
	"github.com/smallbiznis/creditgate/internal/quota"
	"github.com/smallbiznis/creditgate/internal/quota/sweeper"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"github.com/smallbiznis/creditgate/internal/redisclient"
	"github.com/smallbiznis/creditgate/internal/server"
	"github.com/smallbiznis/creditgate/internal/session"
	"github.com/smallbiznis/creditgate/internal/subscription"
	"github.com/smallbiznis/creditgate/pkg/db"
	"go.uber.org/fx"
)

// creditgate runs the HTTP API and the expiry sweeper in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisclient.Module,
		migration.Module,

		// Quota pipeline
		cache.Module,
		notify.Module,
		ratelimit.Module,
		quota.Module,
		sweeper.Module,

		// Identity and plans
		apikey.Module,
		session.Module,
		subscription.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
