package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStore persists import jobs.
//
// UpdateJob writes status, counts, results, errors and timestamps. It never
// rewrites ImportedData; use UpdateJobMapping while the job is pending.
type JobStore interface {
	CreateJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	UpdateJob(ctx context.Context, job *ImportJob) error
	UpdateJobMapping(ctx context.Context, id uuid.UUID, mapping Mapping) error
	// TerminateJob moves a pending or processing job to status (cancelled or
	// failed) in one conditional write. Only status, timestamps and the error
	// list change; jobErr, when non-nil, is appended. A job that has already
	// finished is left untouched and ErrInvalidTransition is returned.
	TerminateJob(ctx context.Context, id uuid.UUID, status JobStatus, jobErr *JobError, at time.Time) (*ImportJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	// DeleteTerminalJobsBefore removes completed, failed and cancelled jobs
	// last updated before cutoff and returns how many were removed.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository is the transactional handle an import run works through.
//
// Finders return (nil, nil) when nothing matches. Begin opens the row
// transaction that subsequent calls run in; without one, calls run in
// autocommit mode. A Repository is used by one goroutine at a time.
type Repository interface {
	JobStore

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Clear drops any state the handle caches between transactions.
	Clear()
	// Healthy reports whether the underlying connection is usable.
	Healthy(ctx context.Context) bool
	// Reconnect replaces a broken connection with a fresh one.
	Reconnect(ctx context.Context) error
	Close()

	FindEventByTitle(ctx context.Context, title string) (*Event, error)
	FindEventBySlug(ctx context.Context, slug string) (*Event, error)
	FindAttendee(ctx context.Context, eventID uuid.UUID, email string) (*Attendee, error)
	FindAgendaItem(ctx context.Context, eventID uuid.UUID, title string, start time.Time) (*AgendaItem, error)
	FindPresenterByName(ctx context.Context, name string) (*Presenter, error)
	FindEventPresenter(ctx context.Context, eventID, presenterID uuid.UUID) (*EventPresenter, error)

	SaveEvent(ctx context.Context, e *Event) error
	SaveAttendee(ctx context.Context, a *Attendee) error
	SaveAgendaItem(ctx context.Context, item *AgendaItem) error
	SavePresenter(ctx context.Context, p *Presenter) error
	SaveEventPresenter(ctx context.Context, link *EventPresenter) error
}

// RepositoryOpener hands out a dedicated Repository per import run.
type RepositoryOpener interface {
	OpenRepository(ctx context.Context) (Repository, error)
}

// Store is what the Service needs from a storage backend.
type Store interface {
	JobStore
	RepositoryOpener
}
