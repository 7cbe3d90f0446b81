package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

// liveSubscriptionIndex enforces at most one live subscription per tenant.
const liveSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_live_tenant
ON subscriptions (tenant_id)
WHERE status = 'active' AND cancel_at IS NULL`

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
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. It backs sqlite
// deployments and tests, where the postgres migrations do not apply.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&usagedomain.ResourceType{},
		&usagedomain.Submission{},
		&notificationdomain.TenantAdmin{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() == "mysql" {
		// mysql has no partial indexes; the service-level check is the only guard there.
		return nil
	}
	if err := db.Exec(liveSubscriptionIndex).Error; err != nil {
		return fmt.Errorf("create live subscription index: %w", err)
	}
	return nil
}
