package postgres

import (
	"errors"
	"strings"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/store/drivers/postgres/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations applies any pending migrations from the embedded files.
// It opens its own connection through the pgx5 migrate driver and closes it
// when done; the pool is untouched.
func (s *Store) ApplyMigrations() error {
	dbURL, err := migrateURL(s.dsn)
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = instance.Close()
	}()

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// migrateURL rewrites a postgres:// url to the pgx5:// scheme golang-migrate
// registers for the pgx v5 driver.
func migrateURL(dsn string) (string, error) {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest, nil
		}
	}
	return "", ErrUnsupportedConnString
}
