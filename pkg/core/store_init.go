package core

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// sqliteHeader is the magic string at the start of every SQLite database file
var sqliteHeader = []byte("SQLite format 3\x00")

// Init opens the database file. A zero-length file, a file that is not a
// SQLite database, or one failing an integrity check is deleted and an empty
// store is created in its place.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}
	if s.db != nil {
		return nil
	}

	if reason := s.inspectFile(); reason != "" {
		s.logger.Warn("discarding unreadable store file", "path", s.config.Path, "reason", reason)
		if err := s.removeFiles(); err != nil {
			return wrapError("init", err)
		}
		s.recovered = true
	}

	db, err := s.openDB(ctx)
	if err != nil {
		if s.isMemory() {
			return wrapError("init", err)
		}
		s.logger.Warn("store failed to open, recreating", "path", s.config.Path, "error", err)
		if rmErr := s.removeFiles(); rmErr != nil {
			return wrapError("init", rmErr)
		}
		s.recovered = true

		db, err = s.openDB(ctx)
		if err != nil {
			return wrapError("init", err)
		}
	}

	s.db = db
	s.logger.Info("database initialized", "path", s.config.Path, "recovered", s.recovered)

	return nil
}

// openDB opens the connection and verifies it with a quick integrity check
func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writes are serialised by SQLite anyway, and a private
	// in-memory database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := checkIntegrity(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func (s *Store) dsn() string {
	busy := s.config.BusyTimeout.Milliseconds()
	if s.isMemory() {
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", s.config.Path, busy)
	}
	sep := "?"
	if strings.Contains(s.config.Path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		s.config.Path, sep, busy)
}

func (s *Store) isMemory() bool {
	p := s.config.Path
	return p == MemoryPath || strings.HasPrefix(p, "file::memory:") || strings.Contains(p, "mode=memory")
}

// inspectFile returns a non-empty reason when the file exists but cannot be a store
func (s *Store) inspectFile() string {
	if s.isMemory() {
		return ""
	}

	f, err := os.Open(s.config.Path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, len(sqliteHeader))
	n, err := io.ReadFull(f, header)
	switch {
	case n == 0:
		return "zero-length file"
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Sprintf("unreadable header: %v", err)
	case !bytes.Equal(header[:n], sqliteHeader):
		return "not a SQLite database"
	}
	return ""
}

// removeFiles deletes the database file and its WAL side files
func (s *Store) removeFiles() error {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		err := os.Remove(s.config.Path + suffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", s.config.Path+suffix, err)
		}
	}
	return nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
