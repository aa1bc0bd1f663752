// Package sqlite provides a SQLite-backed implementation of the storage.Store
// interface. Documents are stored as JSON with an integer version column;
// every mutation runs its read-apply-write inside an immediate transaction,
// so concurrent writers serialize on the database's write lock. This gives
// the transact(fn) semantics the service layer depends on for lost-update
// safety; the version column double-checks that nothing commits outside the
// transactional path.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

const (
	// maxRetries bounds update retries before surfacing errs.ErrPersistence.
	maxRetries = 8
	// baseBackoff is doubled on every contended attempt, plus jitter.
	baseBackoff = 5 * time.Millisecond
)

// errStaleVersion reports a version guard miss. Writers hold the write lock
// from the transaction's first read, so this only fires if an update slipped
// in outside the transactional path; it is retried like lock contention.
var errStaleVersion = errors.New("document version moved during update")

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN, so concurrent update
	// transactions queue on busy_timeout instead of racing each other's
	// version checks. WAL keeps readers off the writers' lock. Pragmas ride
	// the DSN so every pooled connection gets them.
	dsn := "file:" + dbPath + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryable reports whether a write error is lock contention worth retrying.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errStaleVersion) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// backoff sleeps for the attempt's jittered backoff slot, or returns early
// when the context is done. Jitter keeps contenders from retrying in
// lockstep.
func backoff(ctx context.Context, attempt int) error {
	d := baseBackoff << attempt
	d += rand.N(d)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
