package mirror

import (
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the mirror schema up to date. Safe to call on every
// start; an already-current schema is not an error.
func (m *Mirror) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("mirror: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(m.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("mirror: migration driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("mirror: migrator: %w", err)
	}
	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("[mirror] schema already current")
			return nil
		}
		return fmt.Errorf("mirror: migrate up: %w", err)
	}
	log.Printf("[mirror] schema migrated")
	return nil
}
