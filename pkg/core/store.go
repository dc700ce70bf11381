package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// MemoryPath opens a private in-memory store
const MemoryPath = ":memory:"

// Config represents configuration options for the document store
type Config struct {
	Path        string        `json:"path" yaml:"path"`                 // Database file path
	BusyTimeout time.Duration `json:"busyTimeout" yaml:"busy_timeout"` // How long to wait on a locked file
	Logger      Logger        `json:"-" yaml:"-"`                       // Optional logger, no-op when nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BusyTimeout: 5 * time.Second,
	}
}

// Store is a local, transactional, collection-oriented document store on a
// single SQLite file. Each collection is a table of JSON documents keyed by an
// auto-increment id.
type Store struct {
	db        *sql.DB
	config    Config
	mu        sync.RWMutex // guards db/closed; held shared by every operation and open transaction
	ddl       sync.Mutex   // serialises collection create/drop and index creation
	closed    bool
	recovered bool
	logger    Logger
}

// StoreStats provides statistics about the store
type StoreStats struct {
	Path        string `json:"path"`
	Collections int    `json:"collections"`
	PageCount   int64  `json:"pageCount"`
	PageSize    int64  `json:"pageSize"`
	Size        int64  `json:"size"`
}

// New creates a new store at path with default configuration
func New(path string) (*Store, error) {
	config := DefaultConfig()
	config.Path = path
	return NewWithConfig(config)
}

// NewWithConfig creates a new store with custom configuration. Call Init before use.
func NewWithConfig(config Config) (*Store, error) {
	if strings.TrimSpace(config.Path) == "" {
		return nil, wrapError("init", fmt.Errorf("%w: database path cannot be empty", ErrInvalidArgument))
	}
	if config.BusyTimeout < 0 {
		return nil, wrapError("init", fmt.Errorf("%w: busy timeout must be non-negative", ErrInvalidArgument))
	}

	logger := config.Logger
	if logger == nil {
		logger = NopLogger()
	}

	return &Store{
		config: config,
		logger: logger,
	}, nil
}

// Open is New followed by Init
func Open(ctx context.Context, config Config) (*Store, error) {
	store, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.config.Path
}

// Logger returns the store's logger
func (s *Store) Logger() Logger {
	return s.logger
}

// Recovered reports whether Init replaced a corrupt or empty file
func (s *Store) Recovered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovered
}

// IsClosed reports whether Close has been called
func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Stats returns statistics about the store
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.db == nil {
		return StoreStats{}, wrapError("stats", ErrStoreClosed)
	}

	stats := StoreStats{Path: s.config.Path}
	names, err := listCollections(ctx, s.db)
	if err != nil {
		return stats, wrapError("stats", err)
	}
	stats.Collections = len(names)

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&stats.PageCount); err != nil {
		return stats, wrapError("stats", fmt.Errorf("failed to read page count: %w", err))
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&stats.PageSize); err != nil {
		return stats, wrapError("stats", fmt.Errorf("failed to read page size: %w", err))
	}
	stats.Size = stats.PageCount * stats.PageSize

	return stats, nil
}

// acquire takes the shared lock and fails if the store is closed. The caller
// must call release when err is nil.
func (s *Store) acquire(op string) (release func(), err error) {
	s.mu.RLock()
	if s.closed || s.db == nil {
		s.mu.RUnlock()
		return nil, wrapError(op, ErrStoreClosed)
	}
	return s.mu.RUnlock, nil
}
