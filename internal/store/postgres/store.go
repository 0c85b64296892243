// Package postgres implements the import repository on PostgreSQL with pgx.
//
// A Store owns the connection pool and serves the job endpoints in
// autocommit mode. Each import run opens a Session, which wraps one pgx.Tx
// per row. Reconnect replaces the pool in place, so every Session and the
// Store itself pick up the new connections.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/eventimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// pingTimeout bounds the health check run before each row.
const pingTimeout = 2 * time.Second

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed core.Store.
type Store struct {
	poolConfig *pgxpool.Config

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

// Open connects to cfg.URL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := connect(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	return &Store{poolConfig: poolConfig, pool: pool}, nil
}

func connect(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool().Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Pool returns the current connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() {
	s.Pool().Close()
}

// OpenRepository returns a new Session on the shared pool.
func (s *Store) OpenRepository(ctx context.Context) (core.Repository, error) {
	return &Session{store: s}, nil
}

func (s *Store) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.Pool().Ping(ctx)
}

// reconnect swaps in a fresh pool. The old pool is closed once replaced;
// connections still checked out finish on it.
func (s *Store) reconnect(ctx context.Context) error {
	pool, err := connect(ctx, s.poolConfig)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.pool
	s.pool = pool
	s.mu.Unlock()

	go old.Close()
	slog.Info("database pool replaced")
	return nil
}

// ============================================================================
// JobStore (autocommit)
// ============================================================================

func (s *Store) CreateJob(ctx context.Context, job *core.ImportJob) error {
	return createJob(ctx, s.Pool(), job)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	return getJob(ctx, s.Pool(), id, false)
}

func (s *Store) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	return updateJob(ctx, s.Pool(), job)
}

func (s *Store) UpdateJobMapping(ctx context.Context, id uuid.UUID, mapping core.Mapping) error {
	return updateJobMapping(ctx, s.Pool(), id, mapping)
}

func (s *Store) TerminateJob(ctx context.Context, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	return terminateJob(ctx, s.Pool(), id, status, jobErr, at)
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return deleteJob(ctx, s.Pool(), id)
}

func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteTerminalJobsBefore(ctx, s.Pool(), cutoff)
}

// isNoRows reports whether err means a lookup matched nothing.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
