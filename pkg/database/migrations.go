package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// fixtureMigrationsTable keeps the fixture's bookkeeping apart from any
// schema_migrations table the queried database already owns.
const fixtureMigrationsTable = "ekaya_query_fixture_migrations"

// RunMigrations loads the demo fixture (the shop catalog and its
// row-security invoices table) from dir. The pipeline itself never writes;
// this backs the migrate command and the integration test container.
func RunMigrations(db *sql.DB, dir string, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: fixtureMigrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to read fixture migrations from %s: %w", dir, err)
	}
	m.Log = migrateLogger{logger.Sugar().Named("migrate")}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Warn("Failed to close fixture migrator", zap.Error(err))
		}
	}()

	if version, dirty, err := m.Version(); err == nil && dirty {
		return fmt.Errorf("fixture schema is dirty at version %d; drop it and rerun", version)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("Fixture schema already loaded", zap.String("dir", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load fixture schema: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Loaded fixture schema", zap.String("dir", dir), zap.Uint("version", version))
	return nil
}

// migrateLogger routes golang-migrate's progress lines to zap at debug level.
type migrateLogger struct {
	sugar *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.sugar.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return l.sugar.Desugar().Core().Enabled(zap.DebugLevel)
}
