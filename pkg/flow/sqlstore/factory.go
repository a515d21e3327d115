// Package sqlstore is the relational FlowStore backend (§4.A), an
// alternative to badgerstore for deployments that already run PostgreSQL
// for everything else. It is grounded on pkg/metadata/store/postgres's
// store shape (connection setup, AutoMigrate gate, retry-on-serialization-
// failure transactions) but built on gorm/pgx rather than raw pgx, per the
// domain stack's choice to exercise gorm.io/gorm + gorm.io/driver/postgres.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/fleetflow/pkg/flow"
)

// Config configures the relational store.
type Config struct {
	DSN string

	// AutoMigrate runs gorm's schema migration for the three flow tables
	// on Open. Disable in environments where migrations are applied out of
	// band (e.g. via a dedicated migrate step).
	AutoMigrate bool

	// MaxOpenConns and MaxIdleConns bound the underlying *sql.DB pool.
	// Zero leaves Go's database/sql defaults in place.
	MaxOpenConns int
	MaxIdleConns int
}

// Factory opens session-scoped Store handles against a single database.
type Factory struct {
	db *gorm.DB
}

// Open connects to cfg.DSN and, if configured, migrates the schema.
func Open(cfg Config) (*Factory, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&flowRecord{}, &requestRecord{}, &responseRecord{}); err != nil {
			return nil, fmt.Errorf("sqlstore: automigrate: %w", err)
		}
	}

	if cfg.MaxOpenConns > 0 || cfg.MaxIdleConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: pool config: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	return &Factory{db: db}, nil
}

// Close releases the underlying connection pool.
func (f *Factory) Close() error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open implements flow.StoreFactory.
func (f *Factory) Open(sessionID string, queue flow.TaskQueue, token flow.SecurityToken) flow.Store {
	return &sessionStore{db: f.db, sessionID: sessionID, queue: queue, token: token}
}

const transactionRetryLimit = 3

// withRetryableTransaction mirrors the teacher's WithTransaction retry-on-
// serialization-failure loop, generalized to gorm's transaction API.
func withRetryableTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < transactionRetryLimit; attempt++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isSerializationFailure(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return lastErr
}

// isSerializationFailure reports whether err is a retryable Postgres
// serialization/deadlock failure (SQLSTATE 40001/40P01).
func isSerializationFailure(err error) bool {
	type sqlStater interface{ SQLState() string }
	var s sqlStater
	if e, ok := err.(sqlStater); ok {
		s = e
	}
	if s == nil {
		return false
	}
	switch s.SQLState() {
	case "40001", "40P01":
		return true
	}
	return false
}
