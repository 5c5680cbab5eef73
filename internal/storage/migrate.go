package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

const migrationsTable = "schema_migrations_etl"

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// MigrateUp - применяет встроенные миграции для диалекта.
// Для MySQL пул должен быть открыт с multiStatements.
func MigrateUp(db *sql.DB, d Dialect, logger *zap.SugaredLogger) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations/"+d.Name())
	if err != nil {
		return fmt.Errorf("failed to create iofs driver: %w", err)
	}

	var dbDriver database.Driver
	switch d.Name() {
	case "postgres":
		dbDriver, err = migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: migrationsTable})
	default:
		dbDriver, err = migratemysql.WithInstance(db, &migratemysql.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migrate driver: %w", d.Name(), err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, d.Name(), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return errors.New("migration is dirty, please fix it before proceeding")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := m.Version()
	logger.Infow("schema is up to date", "dialect", d.Name(), "version", version)

	return nil
}
