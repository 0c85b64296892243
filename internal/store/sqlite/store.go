// Package sqlite implements the import repository on SQLite through
// database/sql and mattn/go-sqlite3.
//
// SQLite allows one writer at a time, so the pool is pinned to a single
// connection: a Session's row transaction briefly blocks the Store's own
// autocommit calls. Reconnect reopens the database file; an in-memory
// database starts empty again.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/eventimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

const pingTimeout = 2 * time.Second

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed core.Store.
type Store struct {
	dsn string

	mu sync.RWMutex
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dsn and applies the schema.
// dsn is a file path, a file: URI or ":memory:".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{dsn: dsn, db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlite: connection source is empty")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB().ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB returns the current handle.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func (s *Store) Close() {
	if err := s.DB().Close(); err != nil {
		slog.Warn("close sqlite database", "error", err)
	}
}

func (s *Store) OpenRepository(ctx context.Context) (core.Repository, error) {
	return &Session{store: s}, nil
}

func (s *Store) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.DB().PingContext(ctx)
}

func (s *Store) reconnect(ctx context.Context) error {
	db, err := openDB(ctx, s.dsn)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()

	_ = old.Close()
	slog.Info("sqlite database reopened")
	return nil
}

// ============================================================================
// JobStore (autocommit)
// ============================================================================

func (s *Store) CreateJob(ctx context.Context, job *core.ImportJob) error {
	return createJob(ctx, s.DB(), job)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	return getJob(ctx, s.DB(), id)
}

func (s *Store) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	return updateJob(ctx, s.DB(), job)
}

func (s *Store) UpdateJobMapping(ctx context.Context, id uuid.UUID, mapping core.Mapping) error {
	return updateJobMapping(ctx, s.DB(), id, mapping)
}

func (s *Store) TerminateJob(ctx context.Context, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := terminateJob(ctx, tx, id, status, jobErr, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return deleteJob(ctx, s.DB(), id)
}

func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteTerminalJobsBefore(ctx, s.DB(), cutoff)
}
