package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/eventimport/internal/core"
)

var (
	errTxOpen = errors.New("transaction already open")
	errNoTx   = errors.New("no transaction open")
)

// Session is the repository handle of one import run.
type Session struct {
	store *Store
	tx    *sql.Tx
}

var _ core.Repository = (*Session)(nil)

func (s *Session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.store.DB()
}

func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errTxOpen
	}
	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errNoTx
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Clear is a no-op: the session keeps no entity state between rows.
func (s *Session) Clear() {}

func (s *Session) Healthy(ctx context.Context) bool {
	return s.store.ping(ctx) == nil
}

func (s *Session) Reconnect(ctx context.Context) error {
	_ = s.Rollback(ctx)
	return s.store.reconnect(ctx)
}

func (s *Session) Close() {
	_ = s.Rollback(context.Background())
}

// ============================================================================
// Jobs
// ============================================================================

func (s *Session) CreateJob(ctx context.Context, job *core.ImportJob) error {
	return createJob(ctx, s.q(), job)
}

// GetJob needs no row lock: the single connection serializes writers.
func (s *Session) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	return getJob(ctx, s.q(), id)
}

func (s *Session) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	return updateJob(ctx, s.q(), job)
}

func (s *Session) TerminateJob(ctx context.Context, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	if s.tx == nil {
		return s.store.TerminateJob(ctx, id, status, jobErr, at)
	}
	return terminateJob(ctx, s.tx, id, status, jobErr, at)
}

func (s *Session) UpdateJobMapping(ctx context.Context, id uuid.UUID, mapping core.Mapping) error {
	return updateJobMapping(ctx, s.q(), id, mapping)
}

func (s *Session) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return deleteJob(ctx, s.q(), id)
}

func (s *Session) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteTerminalJobsBefore(ctx, s.q(), cutoff)
}

// ============================================================================
// Events
// ============================================================================

const eventColumns = `id, title, slug, description, start_date, end_date, location, max_attendees`

func (s *Session) FindEventByTitle(ctx context.Context, title string) (*core.Event, error) {
	return s.findEvent(ctx, `title = ?`, title)
}

func (s *Session) FindEventBySlug(ctx context.Context, slug string) (*core.Event, error) {
	return s.findEvent(ctx, `slug = ?`, slug)
}

func (s *Session) findEvent(ctx context.Context, where, arg string) (*core.Event, error) {
	var (
		e            core.Event
		endDate      sql.NullTime
		maxAttendees sql.NullInt64
	)
	err := s.q().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE `+where+` ORDER BY seq LIMIT 1`, arg,
	).Scan(&e.ID, &e.Title, &e.Slug, &e.Description, &e.StartDate, &endDate, &e.Location, &maxAttendees)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.StartDate = e.StartDate.UTC()
	e.EndDate = fromNullTime(endDate)
	if maxAttendees.Valid {
		n := int(maxAttendees.Int64)
		e.MaxAttendees = &n
	}
	return &e, nil
}

func (s *Session) SaveEvent(ctx context.Context, e *core.Event) error {
	var maxAttendees sql.NullInt64
	if e.MaxAttendees != nil {
		maxAttendees = sql.NullInt64{Int64: int64(*e.MaxAttendees), Valid: true}
	}
	_, err := s.q().ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Slug, e.Description, e.StartDate.UTC(),
		nullTime(e.EndDate), e.Location, maxAttendees,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ============================================================================
// Attendees
// ============================================================================

// FindAttendee relies on the NOCASE collation of attendees.email.
func (s *Session) FindAttendee(ctx context.Context, eventID uuid.UUID, email string) (*core.Attendee, error) {
	var a core.Attendee
	err := s.q().QueryRowContext(ctx, `SELECT id, event_id, name, email, phone, company, password_hash
		FROM attendees WHERE event_id = ? AND email = ?`,
		eventID, email,
	).Scan(&a.ID, &a.EventID, &a.Name, &a.Email, &a.Phone, &a.Company, &a.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Session) SaveAttendee(ctx context.Context, a *core.Attendee) error {
	_, err := s.q().ExecContext(ctx, `INSERT INTO attendees
		(id, event_id, name, email, phone, company, password_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EventID, a.Name, a.Email, a.Phone, a.Company, a.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("insert attendee: %w", err)
	}
	return nil
}

// ============================================================================
// Agenda items
// ============================================================================

func (s *Session) FindAgendaItem(ctx context.Context, eventID uuid.UUID, title string, start time.Time) (*core.AgendaItem, error) {
	var (
		it      core.AgendaItem
		endTime sql.NullTime
	)
	err := s.q().QueryRowContext(ctx, `SELECT id, event_id, title, description, start_time, end_time, location, item_type
		FROM agenda_items WHERE event_id = ? AND title = ? AND start_time = ?
		ORDER BY seq LIMIT 1`,
		eventID, title, start.UTC(),
	).Scan(&it.ID, &it.EventID, &it.Title, &it.Description, &it.StartTime, &endTime, &it.Location, &it.ItemType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.StartTime = it.StartTime.UTC()
	it.EndTime = fromNullTime(endTime)
	return &it, nil
}

func (s *Session) SaveAgendaItem(ctx context.Context, it *core.AgendaItem) error {
	_, err := s.q().ExecContext(ctx, `INSERT INTO agenda_items
		(id, event_id, title, description, start_time, end_time, location, item_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.EventID, it.Title, it.Description, it.StartTime.UTC(),
		nullTime(it.EndTime), it.Location, it.ItemType,
	)
	if err != nil {
		return fmt.Errorf("insert agenda item: %w", err)
	}
	return nil
}

// ============================================================================
// Presenters
// ============================================================================

func (s *Session) FindPresenterByName(ctx context.Context, name string) (*core.Presenter, error) {
	var p core.Presenter
	err := s.q().QueryRowContext(ctx, `SELECT id, name, email, bio, company
		FROM presenters WHERE name = ? ORDER BY seq LIMIT 1`, name,
	).Scan(&p.ID, &p.Name, &p.Email, &p.Bio, &p.Company)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Session) SavePresenter(ctx context.Context, p *core.Presenter) error {
	_, err := s.q().ExecContext(ctx, `INSERT INTO presenters (id, name, email, bio, company)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Email, p.Bio, p.Company,
	)
	if err != nil {
		return fmt.Errorf("insert presenter: %w", err)
	}
	return nil
}

func (s *Session) FindEventPresenter(ctx context.Context, eventID, presenterID uuid.UUID) (*core.EventPresenter, error) {
	var l core.EventPresenter
	err := s.q().QueryRowContext(ctx, `SELECT id, event_id, presenter_id
		FROM event_presenters WHERE event_id = ? AND presenter_id = ?`,
		eventID, presenterID,
	).Scan(&l.ID, &l.EventID, &l.PresenterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Session) SaveEventPresenter(ctx context.Context, l *core.EventPresenter) error {
	_, err := s.q().ExecContext(ctx, `INSERT INTO event_presenters (id, event_id, presenter_id)
		VALUES (?, ?, ?)`,
		l.ID, l.EventID, l.PresenterID,
	)
	if err != nil {
		return fmt.Errorf("insert event presenter: %w", err)
	}
	return nil
}
