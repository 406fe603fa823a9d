// Package migrations embeds the schema as a sequence of golang-migrate
// steps: baseline, bee_counts + expanded alert types, vision/sync columns
// and the row_synced reset triggers. The schema is the contract — these
// three steps mirror the teacher's config-then-connect bring-up order,
// applied here to the database instead of a broker connection.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var fs embed.FS

// Up applies every pending migration against the already-open database.
func Up(db *sql.DB) error {
	return run(db, func(m *migrate.Migrate) error {
		err := m.Up()
		if err == migrate.ErrNoChange {
			return nil
		}
		return err
	})
}

func run(db *sql.DB, fn func(*migrate.Migrate) error) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migrations: sqlite3 driver: %w", err)
	}

	src, err := iofs.New(fs, "sql")
	if err != nil {
		return fmt.Errorf("migrations: iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrations: new instance: %w", err)
	}

	if err := fn(m); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}
