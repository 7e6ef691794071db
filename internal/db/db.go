package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/logging"
	"github.com/lojf/rostersync/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and tunes the storage backend.
type Options struct {
	Driver string // sqlite | postgres
	DSN    string
	Logger zerolog.Logger
}

// Open connects, sizes the pool and migrates the schema. The caller owns the
// returned handle and closes it with Close.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "", DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", opts.Driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{Logger: logging.Gorm(opts.Logger)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if conn.Dialector.Name() == DriverSQLite {
		// SQLite works best with a single writer; cap the pool accordingly.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := Migrate(conn); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	opts.Logger.Info().Str("driver", conn.Dialector.Name()).Msg("database ready")
	return conn, nil
}

// Migrate creates the chats, users, enrollment_renewals and cycle_runs tables.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Chat{},
		&models.Member{},
		&models.EnrollmentRecord{},
		&models.CycleRun{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	// Composite index for the lapse scan that GORM doesn't auto-create from struct tags.
	if err := conn.Exec("CREATE INDEX IF NOT EXISTS idx_enrollment_renewals_lapse ON enrollment_renewals(active_kit_order, autoship_date)").Error; err != nil {
		return fmt.Errorf("create lapse index: %w", err)
	}
	return nil
}

// Ping checks the connection is alive.
func Ping(ctx context.Context, conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying pool.
func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
