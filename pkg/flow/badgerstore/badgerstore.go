// Package badgerstore is the embedded FlowStore backend (§4.A), built on
// BadgerDB the way pkg/metadata/store/badger builds the filesystem's
// metadata store: thin CRUD wrappers around badger transactions, with
// namespaced key prefixes and no business logic beyond encode/decode.
package badgerstore

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flow"
)

// Factory opens session-scoped Store handles against a single BadgerDB.
type Factory struct {
	db *badger.DB
}

// Config configures the embedded store.
type Config struct {
	// Path is the BadgerDB data directory. Empty uses an in-memory store,
	// useful for tests and single-process dry runs.
	Path     string
	InMemory bool

	// ValueLogFileSize bounds the size of each BadgerDB value log segment,
	// in bytes. Zero keeps BadgerDB's own default.
	ValueLogFileSize int64
}

// Open opens (creating if necessary) a BadgerDB at cfg.Path.
func Open(cfg Config) (*Factory, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithLogger(badgerLogAdapter{})
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	if cfg.InMemory || cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Factory{db: db}, nil
}

// Close releases the underlying database.
func (f *Factory) Close() error {
	return f.db.Close()
}

// Open implements flow.StoreFactory.
func (f *Factory) Open(sessionID string, queue flow.TaskQueue, token flow.SecurityToken) flow.Store {
	return &sessionStore{db: f.db, sessionID: sessionID, queue: queue, token: token}
}

// badgerLogAdapter routes BadgerDB's internal logging through the server's
// structured logger instead of badger's own stderr default.
type badgerLogAdapter struct{}

func (badgerLogAdapter) Errorf(format string, args ...any)   { logger.Error(fmt.Sprintf(format, args...)) }
func (badgerLogAdapter) Warningf(format string, args ...any) { logger.Warn(fmt.Sprintf(format, args...)) }
func (badgerLogAdapter) Infof(format string, args ...any)    { logger.Debug(fmt.Sprintf(format, args...)) }
func (badgerLogAdapter) Debugf(format string, args ...any)   { logger.Debug(fmt.Sprintf(format, args...)) }
