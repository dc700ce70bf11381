package core

import (
	"context"
	"fmt"
)

// Close flushes the write-ahead log and closes the database. Every later call
// on the store fails with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db == nil {
		return nil
	}

	if !s.isMemory() {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("failed to checkpoint before closing", "error", err)
		}
	}

	if err := s.db.Close(); err != nil {
		return wrapError("close", err)
	}

	s.logger.Info("database connection closed")

	return nil
}

// Checkpoint flushes buffered WAL writes into the main database file
func (s *Store) Checkpoint(ctx context.Context) error {
	release, err := s.acquire("checkpoint")
	if err != nil {
		return err
	}
	defer release()

	if s.isMemory() {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return wrapError("checkpoint", fmt.Errorf("failed to checkpoint: %w", err))
	}
	return nil
}

// Compact checkpoints and rebuilds the database file, reclaiming free pages
func (s *Store) Compact(ctx context.Context) error {
	if err := s.Checkpoint(ctx); err != nil {
		return err
	}

	release, err := s.acquire("compact")
	if err != nil {
		return err
	}
	defer release()

	s.ddl.Lock()
	defer s.ddl.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return wrapError("compact", fmt.Errorf("failed to vacuum: %w", err))
	}
	s.logger.Debug("store compacted", "path", s.config.Path)
	return nil
}

// Backup writes a consistent copy of the database to path
func (s *Store) Backup(ctx context.Context, path string) error {
	release, err := s.acquire("backup")
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return wrapError("backup", fmt.Errorf("failed to create backup: %w", err))
	}
	return nil
}
