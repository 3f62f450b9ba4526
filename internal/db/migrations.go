package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

const (
	// LatestMigrationVersion is the latest migration version of the
	// database. This is used to implement downgrade protection for the
	// client.
	//
	// NOTE: This MUST be updated when a new migration is added.
	LatestMigrationVersion uint = 1

	// migrationsTable is the bookkeeping table golang-migrate maintains.
	migrationsTable = "schema_migrations"
)

// MigrationTarget is a functional option that can be passed to applyMigrations
// to specify a target version to migrate to. `currentDBVersion` is the current
// (migration) version of the database. `maxMigrationVersion` is the maximum
// migration version known to the driver.
type MigrationTarget func(mig *migrate.Migrate,
	currentDBVersion int, maxMigrationVersion uint) error

var (
	// TargetLatest is a MigrationTarget that migrates to the latest
	// version available.
	TargetLatest = func(mig *migrate.Migrate, _ int, _ uint) error {
		return mig.Up()
	}

	// TargetVersion returns a MigrationTarget that migrates to the given
	// version.
	TargetVersion = func(version uint) MigrationTarget {
		return func(mig *migrate.Migrate, _ int, _ uint) error {
			return mig.Migrate(version)
		}
	}
)

var (
	// ErrMigrationDowngrade is returned when a database downgrade is
	// detected.
	ErrMigrationDowngrade = errors.New("database downgrade detected")
)

// migrateOptions holds options for migration execution.
type migrateOptions struct {
	latestVersion uint
	backup        bool
}

// defaultMigrateOptions returns a new migrateOptions instance with default
// settings.
func defaultMigrateOptions() *migrateOptions {
	return &migrateOptions{
		latestVersion: LatestMigrationVersion,
		backup:        true,
	}
}

// MigrateOpt is a functional option that can be passed to migrate related
// methods to modify behavior.
type MigrateOpt func(*migrateOptions)

// WithLatestVersion allows callers to override the default latest version
// setting.
func WithLatestVersion(version uint) MigrateOpt {
	return func(o *migrateOptions) {
		o.latestVersion = version
	}
}

// WithoutBackup disables the backup taken before upgrading an existing
// database.
func WithoutBackup() MigrateOpt {
	return func(o *migrateOptions) {
		o.backup = false
	}
}

// migrationLogger adapts the subsystem logger to the migrate.Logger
// interface.
type migrationLogger struct{}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	log.Debugf(format, v...)
}

// Verbose returns true when verbose logging is enabled.
func (m *migrationLogger) Verbose() bool {
	return true
}

// Migrate applies the embedded migrations to the store's database up to the
// given target.
func (s *Store) Migrate(target MigrationTarget, opts ...MigrateOpt) error {
	migOpts := defaultMigrateOptions()
	for _, opt := range opts {
		opt(migOpts)
	}

	driver, err := sqlitemigrate.WithInstance(
		s.db, &sqlitemigrate.Config{
			MigrationsTable: migrationsTable,
		},
	)
	if err != nil {
		return fmt.Errorf("unable to create migration driver: %w", err)
	}

	var backup func() error
	if migOpts.backup && s.path != "" {
		backup = func() error {
			return backupSqliteDatabase(s.db, s.path)
		}
	}

	return applyMigrations(
		sqlSchemas, driver, "migrations", "sqlite3", target, migOpts,
		backup,
	)
}

// applyMigrations executes database migration files found in the given file
// system under the given path, using the passed database driver and database
// name, up to or down to the given target version. When backup is non-nil it
// runs before an existing database is upgraded.
func applyMigrations(fsys fs.FS, driver database.Driver, path, dbName string,
	targetVersion MigrationTarget, opts *migrateOptions,
	backup func() error) error {

	migrateFileServer, err := httpfs.New(http.FS(fsys), path)
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", migrateFileServer, dbName, driver,
	)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// A dirty version means a previous migration did not complete and
	// requires manual intervention.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", migrationVersion)
	}

	// As the down migrations may end up *dropping* data, we want to
	// prevent that without explicit accounting.
	if migrationVersion > opts.latestVersion {
		return fmt.Errorf("%w: database version is newer than the "+
			"latest migration version, preventing downgrade: "+
			"db_version=%v, latest_migration_version=%v",
			ErrMigrationDowngrade, migrationVersion,
			opts.latestVersion)
	}

	currentDBVersion, _, err := driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.Debugf("Attempting to apply migration(s): current_db_version=%d, "+
		"latest_migration_version=%d", currentDBVersion,
		opts.latestVersion)

	if backup != nil && currentDBVersion > 0 &&
		uint(currentDBVersion) < opts.latestVersion {

		if err := backup(); err != nil {
			return fmt.Errorf("unable to back up database: %w", err)
		}
	}

	sqlMigrate.Log = &migrationLogger{}

	err = targetVersion(sqlMigrate, currentDBVersion, opts.latestVersion)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	currentDBVersion, _, err = driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.Debugf("Database version after migration: %d", currentDBVersion)

	return nil
}

// backupSqliteDatabase creates a backup of the given SQLite database next to
// the database file.
func backupSqliteDatabase(srcDB *sql.DB, dbFullFilePath string) error {
	if srcDB == nil {
		return fmt.Errorf("backup source database is nil")
	}

	backupFullFilePath := fmt.Sprintf(
		"%s.%d.backup", dbFullFilePath, time.Now().UnixNano(),
	)

	log.Infof("Creating backup of database file: source=%s, backup=%s",
		dbFullFilePath, backupFullFilePath)

	_, err := srcDB.Exec("VACUUM INTO ?;", backupFullFilePath)

	return err
}
