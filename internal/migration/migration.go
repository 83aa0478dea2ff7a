package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	sessiondomain "github.com/smallbiznis/creditgate/internal/session/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

const openSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uidx_subscriptions_open_tenant
    ON subscriptions (tenant_type, tenant_id)
    WHERE status <> 'CANCELED'`

// AutoMigrate creates the schema from the gorm models for databases the
// embedded migrations do not target. Composite unique indexes carry the
// constraint names of the embedded migrations. The partial index on open
// subscriptions is only created on sqlite; mysql has no partial indexes and
// relies on the subscription service check.
func AutoMigrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&quotadomain.Plan{},
		&quotadomain.FeatureCost{},
		&quotadomain.Subscription{},
		&quotadomain.CreditBalance{},
		&quotadomain.RateCounter{},
		&quotadomain.UsageRecord{},
		&quotadomain.UsageArtifact{},
		&apikeydomain.APIKey{},
		&sessiondomain.Session{},
	)
	if err != nil {
		return err
	}

	if conn.Dialector.Name() == "sqlite" {
		if err := conn.Exec(openSubscriptionIndex).Error; err != nil {
			return fmt.Errorf("create open subscription index: %w", err)
		}
	}
	return nil
}
