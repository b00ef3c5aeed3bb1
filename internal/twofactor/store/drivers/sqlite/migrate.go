package sqlite

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/store/drivers/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// ApplyMigrations brings the two-factor schema up to date: pending_setups,
// one parked setup per user indexed by created_at for housekeeping, and
// twofactor_records, the activated secret with its recovery digests and the
// last accepted counter. golang-migrate tracks the version in
// schema_migrations, so calling it on a current database is a no-op.
//
// The migrate instance is never closed because that would close s.db.
func (s *Store) ApplyMigrations() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare sqlite migration driver: %w", err)
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate two-factor schema: %w", err)
	}
	return nil
}
