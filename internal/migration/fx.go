package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/seed"
	pkgdb "github.com/smallbiznis/creditgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		if cfg.RunMigrations {
			if err := applySchema(conn); err != nil {
				return err
			}
			log.Info("schema migrated", zap.String("dialect", conn.Dialector.Name()))
		}

		if cfg.SeedCatalog {
			if err := seed.EnsureCatalog(context.Background(), conn, node); err != nil {
				return err
			}
			log.Info("catalog seeded")
		}
		return nil
	}),
)

func applySchema(conn *gorm.DB) error {
	if !pkgdb.IsPostgres(conn) {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
