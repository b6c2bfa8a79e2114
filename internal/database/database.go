package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database owns every persisted record: properties, sales history, rental
// medians and ingestion runs.
type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

// Open connects to the store named by dsn. postgres:// and postgresql://
// URLs select PostgreSQL; anything else is a SQLite path with an optional
// sqlite:// prefix.
func Open(dsn string, logger *logrus.Logger) (*Database, error) {
	cfg := &gorm.Config{Logger: newGormLogger(logger)}

	var (
		db  *gorm.DB
		err error
	)
	switch Driver(dsn) {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	default:
		db, err = openSQLite(sqliteDSN(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB, logger *logrus.Logger) *Database {
	return &Database{db: db, logger: logger, now: time.Now}
}

// Driver names the backend dsn selects: "postgres" or "sqlite".
func Driver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func sqliteDSN(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_busy_timeout=5000&_foreign_keys=on"
}

func openSQLite(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection serializes batches.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func newGormLogger(logger *logrus.Logger) gormlogger.Interface {
	return gormlogger.New(logger.WithField("component", "gorm"), gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// NewTestDB opens an isolated in-memory SQLite database.
func NewTestDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	return openSQLite(dsn, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
}

// DB exposes the underlying handle.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Migrate creates or updates the schema.
func (d *Database) Migrate() error {
	return MigrateSchema(d.db)
}

// Ping checks the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isPostgres reports whether tx talks to PostgreSQL, which supports row locks.
func isPostgres(tx *gorm.DB) bool {
	return tx.Dialector.Name() == "postgres"
}

func (d *Database) stamp() time.Time {
	return d.now().UTC()
}
