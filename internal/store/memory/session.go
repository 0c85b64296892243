package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/eventimport/internal/core"
)

var (
	errTxOpen   = errors.New("transaction already open")
	errNoTx     = errors.New("no transaction open")
	errTxFailed = errors.New("transaction aborted")
)

// Session is one repository handle. Writes made after Begin are buffered
// until Commit.
type Session struct {
	store *Store
	tx    *txBuffer
}

type txBuffer struct {
	events     []core.Event
	attendees  []core.Attendee
	agenda     []core.AgendaItem
	presenters []core.Presenter
	links      []core.EventPresenter
	jobs       map[uuid.UUID]*core.ImportJob
}

var _ core.Repository = (*Session)(nil)

func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errTxOpen
	}
	s.tx = &txBuffer{jobs: make(map[uuid.UUID]*core.ImportJob)}
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errNoTx
	}
	tx := s.tx
	s.tx = nil

	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.failCommits > 0 {
		st.failCommits--
		return ErrInjected
	}

	for _, e := range tx.events {
		if err := st.checkEventLocked(e, nil); err != nil {
			return fmt.Errorf("%w: %v", errTxFailed, err)
		}
	}
	for _, a := range tx.attendees {
		if err := st.checkAttendeeLocked(a, nil); err != nil {
			return fmt.Errorf("%w: %v", errTxFailed, err)
		}
	}
	for _, l := range tx.links {
		if err := st.checkLinkLocked(l, nil); err != nil {
			return fmt.Errorf("%w: %v", errTxFailed, err)
		}
	}
	for id := range tx.jobs {
		if _, ok := st.jobs[id]; !ok {
			return core.ErrJobNotFound
		}
	}

	st.events = append(st.events, tx.events...)
	st.attendees = append(st.attendees, tx.attendees...)
	st.agenda = append(st.agenda, tx.agenda...)
	st.presenters = append(st.presenters, tx.presenters...)
	st.links = append(st.links, tx.links...)
	for _, job := range tx.jobs {
		_ = st.updateJobLocked(job)
	}
	st.commits++
	return nil
}

// Rollback discards buffered writes. Without an open transaction it is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	s.tx = nil
	return nil
}

func (s *Session) Clear() {
	s.store.mu.Lock()
	s.store.clears++
	s.store.mu.Unlock()
}

func (s *Session) Healthy(ctx context.Context) bool {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return !s.store.unhealthy
}

func (s *Session) Reconnect(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.store.reconnectErr != nil {
		return s.store.reconnectErr
	}
	s.tx = nil
	s.store.unhealthy = false
	s.store.reconnects++
	return nil
}

func (s *Session) Close() {
	s.tx = nil
}

// ============================================================================
// Jobs
// ============================================================================

func (s *Session) CreateJob(ctx context.Context, job *core.ImportJob) error {
	return s.store.CreateJob(ctx, job)
}

func (s *Session) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	if s.tx != nil {
		if job, ok := s.tx.jobs[id]; ok {
			return cloneJob(job), nil
		}
	}
	return s.store.GetJob(ctx, id)
}

func (s *Session) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	if s.tx == nil {
		return s.store.UpdateJob(ctx, job)
	}
	s.tx.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Session) UpdateJobMapping(ctx context.Context, id uuid.UUID, mapping core.Mapping) error {
	return s.store.UpdateJobMapping(ctx, id, mapping)
}

func (s *Session) TerminateJob(ctx context.Context, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	return s.store.TerminateJob(ctx, id, status, jobErr, at)
}

func (s *Session) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteJob(ctx, id)
}

func (s *Session) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.DeleteTerminalJobsBefore(ctx, cutoff)
}

// ============================================================================
// Finders
// ============================================================================

func (s *Session) FindEventByTitle(ctx context.Context, title string) (*core.Event, error) {
	return s.findEvent(func(e core.Event) bool { return e.Title == title }), nil
}

func (s *Session) FindEventBySlug(ctx context.Context, slug string) (*core.Event, error) {
	return s.findEvent(func(e core.Event) bool { return e.Slug == slug }), nil
}

func (s *Session) findEvent(match func(core.Event) bool) *core.Event {
	if s.tx != nil {
		for _, e := range s.tx.events {
			if match(e) {
				return &e
			}
		}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, e := range s.store.events {
		if match(e) {
			return &e
		}
	}
	return nil
}

func (s *Session) FindAttendee(ctx context.Context, eventID uuid.UUID, email string) (*core.Attendee, error) {
	match := func(a core.Attendee) bool { return a.EventID == eventID && sameText(a.Email, email) }
	if s.tx != nil {
		for _, a := range s.tx.attendees {
			if match(a) {
				return &a, nil
			}
		}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, a := range s.store.attendees {
		if match(a) {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Session) FindAgendaItem(ctx context.Context, eventID uuid.UUID, title string, start time.Time) (*core.AgendaItem, error) {
	match := func(i core.AgendaItem) bool {
		return i.EventID == eventID && i.Title == title && i.StartTime.Equal(start)
	}
	if s.tx != nil {
		for _, i := range s.tx.agenda {
			if match(i) {
				return &i, nil
			}
		}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, i := range s.store.agenda {
		if match(i) {
			return &i, nil
		}
	}
	return nil, nil
}

func (s *Session) FindPresenterByName(ctx context.Context, name string) (*core.Presenter, error) {
	if s.tx != nil {
		for _, p := range s.tx.presenters {
			if p.Name == name {
				return &p, nil
			}
		}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, p := range s.store.presenters {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Session) FindEventPresenter(ctx context.Context, eventID, presenterID uuid.UUID) (*core.EventPresenter, error) {
	match := func(l core.EventPresenter) bool { return l.EventID == eventID && l.PresenterID == presenterID }
	if s.tx != nil {
		for _, l := range s.tx.links {
			if match(l) {
				return &l, nil
			}
		}
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, l := range s.store.links {
		if match(l) {
			return &l, nil
		}
	}
	return nil, nil
}

// ============================================================================
// Savers
// ============================================================================

func (s *Session) SaveEvent(ctx context.Context, e *core.Event) error {
	var pending []core.Event
	if s.tx != nil {
		pending = s.tx.events
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.store.checkEventLocked(*e, pending); err != nil {
		return err
	}
	if s.tx == nil {
		s.store.events = append(s.store.events, *e)
		return nil
	}
	s.tx.events = append(s.tx.events, *e)
	return nil
}

func (s *Session) SaveAttendee(ctx context.Context, a *core.Attendee) error {
	var pending []core.Attendee
	if s.tx != nil {
		pending = s.tx.attendees
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.store.checkAttendeeLocked(*a, pending); err != nil {
		return err
	}
	if s.tx == nil {
		s.store.attendees = append(s.store.attendees, *a)
		return nil
	}
	s.tx.attendees = append(s.tx.attendees, *a)
	return nil
}

func (s *Session) SaveAgendaItem(ctx context.Context, item *core.AgendaItem) error {
	if s.tx == nil {
		s.store.mu.Lock()
		s.store.agenda = append(s.store.agenda, *item)
		s.store.mu.Unlock()
		return nil
	}
	s.tx.agenda = append(s.tx.agenda, *item)
	return nil
}

func (s *Session) SavePresenter(ctx context.Context, p *core.Presenter) error {
	if s.tx == nil {
		s.store.mu.Lock()
		s.store.presenters = append(s.store.presenters, *p)
		s.store.mu.Unlock()
		return nil
	}
	s.tx.presenters = append(s.tx.presenters, *p)
	return nil
}

func (s *Session) SaveEventPresenter(ctx context.Context, link *core.EventPresenter) error {
	var pending []core.EventPresenter
	if s.tx != nil {
		pending = s.tx.links
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.store.checkLinkLocked(*link, pending); err != nil {
		return err
	}
	if s.tx == nil {
		s.store.links = append(s.store.links, *link)
		return nil
	}
	s.tx.links = append(s.tx.links, *link)
	return nil
}

// ============================================================================
// Unique keys
// ============================================================================

func (st *Store) checkEventLocked(e core.Event, pending []core.Event) error {
	for _, list := range [][]core.Event{pending, st.events} {
		for _, other := range list {
			if other.Slug == e.Slug && other.ID != e.ID {
				return fmt.Errorf("duplicate key value violates unique constraint \"events_slug_key\": %s", e.Slug)
			}
		}
	}
	return nil
}

func (st *Store) checkAttendeeLocked(a core.Attendee, pending []core.Attendee) error {
	for _, list := range [][]core.Attendee{pending, st.attendees} {
		for _, other := range list {
			if other.EventID == a.EventID && sameText(other.Email, a.Email) && other.ID != a.ID {
				return fmt.Errorf("duplicate key value violates unique constraint \"attendees_event_email_key\": %s", a.Email)
			}
		}
	}
	return nil
}

func (st *Store) checkLinkLocked(l core.EventPresenter, pending []core.EventPresenter) error {
	for _, list := range [][]core.EventPresenter{pending, st.links} {
		for _, other := range list {
			if other.EventID == l.EventID && other.PresenterID == l.PresenterID && other.ID != l.ID {
				return errors.New("duplicate key value violates unique constraint \"event_presenters_event_presenter_key\"")
			}
		}
	}
	return nil
}
