// Package memory is an in-process implementation of the import repository.
//
// It keeps every entity in slices guarded by one mutex and gives each
// Session its own write buffer, so uncommitted rows are invisible to other
// sessions and vanish on rollback. Unique keys mirror the SQL schemas.
//
// Besides backing DB_DRIVER=memory for local runs, the store exposes
// failure injection (FailCommits, SetHealthy, FailReconnect) so the import
// processor's recovery paths can be tested.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/eventimport/internal/core"
)

// ErrInjected is returned by injected commit failures.
var ErrInjected = errors.New("connection reset by peer")

// Store holds all data. Its own JobStore methods run in autocommit mode.
type Store struct {
	mu sync.RWMutex

	jobs       map[uuid.UUID]*core.ImportJob
	events     []core.Event
	attendees  []core.Attendee
	agenda     []core.AgendaItem
	presenters []core.Presenter
	links      []core.EventPresenter

	failCommits  int
	unhealthy    bool
	reconnectErr error
	reconnects   int
	clears       int
	commits      int
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{jobs: make(map[uuid.UUID]*core.ImportJob)}
}

// OpenRepository returns a new Session.
func (s *Store) OpenRepository(ctx context.Context) (core.Repository, error) {
	return &Session{store: s}, nil
}

// Close is a no-op; it exists so the store satisfies the same shutdown
// sequence as the SQL stores.
func (s *Store) Close() {}

// ============================================================================
// Failure injection and inspection
// ============================================================================

// FailCommits makes the next n row or job commits fail with ErrInjected.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	s.failCommits = n
	s.mu.Unlock()
}

// SetHealthy controls what Session.Healthy reports.
func (s *Store) SetHealthy(healthy bool) {
	s.mu.Lock()
	s.unhealthy = !healthy
	s.mu.Unlock()
}

// FailReconnect makes Session.Reconnect return err. nil restores success.
func (s *Store) FailReconnect(err error) {
	s.mu.Lock()
	s.reconnectErr = err
	s.mu.Unlock()
}

// Stats reports how often sessions reconnected, cleared and committed.
type Stats struct {
	Reconnects int
	Clears     int
	Commits    int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Reconnects: s.reconnects, Clears: s.clears, Commits: s.commits}
}

// JobCount returns the number of stored import jobs.
func (s *Store) JobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Events returns a copy of all committed events in insertion order.
func (s *Store) Events() []core.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Event(nil), s.events...)
}

// Attendees returns a copy of all committed attendees.
func (s *Store) Attendees() []core.Attendee {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Attendee(nil), s.attendees...)
}

// AgendaItems returns a copy of all committed agenda items.
func (s *Store) AgendaItems() []core.AgendaItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.AgendaItem(nil), s.agenda...)
}

// Presenters returns a copy of all committed presenters.
func (s *Store) Presenters() []core.Presenter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Presenter(nil), s.presenters...)
}

// EventPresenters returns a copy of all committed event-presenter links.
func (s *Store) EventPresenters() []core.EventPresenter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.EventPresenter(nil), s.links...)
}

// ============================================================================
// JobStore (autocommit)
// ============================================================================

func (s *Store) CreateJob(ctx context.Context, job *core.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint: import job %s", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateJobLocked(job)
}

// updateJobLocked replaces a job's state. A stored cancellation is kept:
// the SQL stores get the same effect from the row lock the processor takes
// before it writes.
func (s *Store) updateJobLocked(job *core.ImportJob) error {
	existing, ok := s.jobs[job.ID]
	if !ok {
		return core.ErrJobNotFound
	}
	updated := cloneJob(job)
	updated.ImportedData = existing.ImportedData
	if existing.Status == core.JobCancelled {
		updated.Status = core.JobCancelled
	}
	s.jobs[job.ID] = updated
	return nil
}

func (s *Store) TerminateJob(ctx context.Context, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	if job.Status != core.JobPending && job.Status != core.JobProcessing {
		return nil, fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
	}

	updated := cloneJob(job)
	updated.Status = status
	updated.UpdatedAt = at
	if updated.CompletedAt == nil {
		t := at
		updated.CompletedAt = &t
	}
	if jobErr != nil {
		updated.Errors = append(updated.Errors, *jobErr)
	}
	s.jobs[id] = updated
	return cloneJob(updated), nil
}

func (s *Store) UpdateJobMapping(ctx context.Context, id uuid.UUID, mapping core.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return core.ErrJobNotFound
	}
	if job.Status != core.JobPending {
		return fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
	}

	data := core.ImportedData{}
	if job.ImportedData != nil {
		data = *job.ImportedData
	}
	data.Mapping = make(core.Mapping, len(mapping))
	for k, v := range mapping {
		data.Mapping[k] = v
	}
	job.ImportedData = &data
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return core.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// cloneJob copies the mutable parts of a job. ImportedData is shared: it is
// never modified in place.
func cloneJob(job *core.ImportJob) *core.ImportJob {
	c := *job
	c.Results = make(map[string][]string, len(job.Results))
	for k, v := range job.Results {
		c.Results[k] = append([]string(nil), v...)
	}
	c.Errors = append([]core.JobError(nil), job.Errors...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func sameText(a, b string) bool {
	return strings.EqualFold(a, b)
}
