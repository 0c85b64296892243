package core

// resolve.go implements the entity resolvers. Each resolver either finds the
// entity a row describes by its natural key or creates it. "Not found" is
// never an error; only malformed identity fields are.
//
// Natural keys:
//   - Event: exact title. Reference imports may name the event by its slug
//     instead; when creating, a slug cell only seeds the new event's slug.
//   - Attendee: (event, lowercased email)
//   - Agenda item: (event, title, start time)
//   - Presenter: exact name
//   - Event-presenter link: (event, presenter)

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxSlugAttempts bounds the numeric suffix search for a free slug.
const maxSlugAttempts = 1000

type resolver struct {
	repo    Repository
	ids     *identityMap
	hasher  CredentialHasher
	slugs   SlugGenerator
	secrets SecretGenerator
}

// findEvent looks an event up by title, then by slug. Either key may be empty.
func (r *resolver) findEvent(ctx context.Context, title, slug string) (*Event, error) {
	if title != "" {
		if e := r.ids.eventByTitle(title); e != nil {
			return e, nil
		}
		e, err := r.repo.FindEventByTitle(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("find event by title: %w", err)
		}
		if e != nil {
			r.ids.putEvent(e)
			return e, nil
		}
	}

	if slug != "" {
		if e := r.ids.eventBySlug(slug); e != nil {
			return e, nil
		}
		e, err := r.repo.FindEventBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("find event by slug: %w", err)
		}
		if e != nil {
			r.ids.putEvent(e)
			return e, nil
		}
	}

	return nil, nil
}

// resolveEvent finds the row's event or creates it.
func (r *resolver) resolveEvent(ctx context.Context, row Row, m Mapping) (*Event, bool, error) {
	title := row.Value(FieldEventTitle, m)
	if title == "" {
		return nil, false, requiredField(FieldEventTitle)
	}
	explicitSlug := r.slugs.Slug(row.Value(FieldEventSlug, m))

	existing, err := r.findEvent(ctx, title, "")
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	rawStart := row.Value(FieldStartDate, m)
	if rawStart == "" {
		return nil, false, requiredField(FieldStartDate)
	}
	start, ok := ParseDateTime(rawStart)
	if !ok {
		return nil, false, invalidDate(FieldStartDate, rawStart)
	}

	event := &Event{
		ID:          uuid.New(),
		Title:       title,
		Description: row.Value(FieldEventDescription, m),
		StartDate:   start,
		Location:    row.Value(FieldLocation, m),
	}

	if rawEnd := row.Value(FieldEndDate, m); rawEnd != "" {
		end, ok := ParseSlotTime(rawEnd, start)
		if !ok {
			return nil, false, invalidDate(FieldEndDate, rawEnd)
		}
		if end.Before(start) {
			return nil, false, &RowValidationError{
				Field:   FieldEndDate,
				Message: fmt.Sprintf("invalid date for End Date: %q is before the start date", rawEnd),
			}
		}
		event.EndDate = &end
	}

	if rawMax := row.Value(FieldMaxAttendees, m); rawMax != "" {
		n, ok := ParseInt(rawMax)
		if !ok || n < 0 {
			return nil, false, invalidNumber(FieldMaxAttendees, rawMax)
		}
		event.MaxAttendees = &n
	}

	base := explicitSlug
	if base == "" {
		base = r.slugs.Slug(title)
	}
	if base == "" {
		base = "event-" + strings.SplitN(event.ID.String(), "-", 2)[0]
	}
	event.Slug, err = r.freeSlug(ctx, base)
	if err != nil {
		return nil, false, err
	}

	if err := r.repo.SaveEvent(ctx, event); err != nil {
		return nil, false, fmt.Errorf("save event: %w", err)
	}
	r.ids.putEvent(event)
	return event, true, nil
}

// freeSlug returns base, or base-N for the smallest N >= 2 not yet taken.
func (r *resolver) freeSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for n := 2; n <= maxSlugAttempts; n++ {
		if r.ids.eventBySlug(candidate) == nil {
			taken, err := r.repo.FindEventBySlug(ctx, candidate)
			if err != nil {
				return "", fmt.Errorf("find event by slug: %w", err)
			}
			if taken == nil {
				return candidate, nil
			}
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
}

// locateEvent finds the event a non-complete row references. It never creates.
func (r *resolver) locateEvent(ctx context.Context, row Row, m Mapping) (*Event, error) {
	title := row.Value(FieldEventTitle, m)
	rawSlug := row.Value(FieldEventSlug, m)
	if title == "" && rawSlug == "" {
		return nil, requiredField(FieldEventTitle)
	}

	slug := r.slugs.Slug(rawSlug)
	if slug == "" {
		slug = r.slugs.Slug(title)
	}

	event, err := r.findEvent(ctx, title, slug)
	if err != nil {
		return nil, err
	}
	if event == nil {
		key := title
		if key == "" {
			key = rawSlug
		}
		return nil, &ReferenceNotFoundError{Entity: "Event", Key: key}
	}
	return event, nil
}

// resolveAttendee returns nil without error when name or email is missing.
func (r *resolver) resolveAttendee(ctx context.Context, row Row, m Mapping, event *Event) (*Attendee, bool, error) {
	name := row.Value(FieldAttendeeName, m)
	email := strings.ToLower(row.Value(FieldAttendeeEmail, m))
	if name == "" || email == "" {
		return nil, false, nil
	}

	if a := r.ids.attendee(event.ID, email); a != nil {
		return a, false, nil
	}
	existing, err := r.repo.FindAttendee(ctx, event.ID, email)
	if err != nil {
		return nil, false, fmt.Errorf("find attendee: %w", err)
	}
	if existing != nil {
		r.ids.putAttendee(existing)
		return existing, false, nil
	}

	secret, err := r.secrets.Generate()
	if err != nil {
		return nil, false, fmt.Errorf("generate attendee secret: %w", err)
	}
	hash, err := r.hasher.Hash(secret)
	if err != nil {
		return nil, false, err
	}

	attendee := &Attendee{
		ID:           uuid.New(),
		EventID:      event.ID,
		Name:         name,
		Email:        email,
		Phone:        row.Value(FieldAttendeePhone, m),
		Company:      row.Value(FieldAttendeeCompany, m),
		PasswordHash: hash,
	}
	if err := r.repo.SaveAttendee(ctx, attendee); err != nil {
		return nil, false, fmt.Errorf("save attendee: %w", err)
	}
	r.ids.putAttendee(attendee)
	return attendee, true, nil
}

// resolveAgendaItem returns nil without error when the title is missing.
// A missing or unparseable start time falls back to the event start.
func (r *resolver) resolveAgendaItem(ctx context.Context, row Row, m Mapping, event *Event) (*AgendaItem, bool, error) {
	title := row.Value(FieldAgendaTitle, m)
	if title == "" {
		return nil, false, nil
	}

	start, ok := ParseSlotTime(row.Value(FieldAgendaStart, m), event.StartDate)
	if !ok {
		start = event.StartDate
	}

	existing, err := r.repo.FindAgendaItem(ctx, event.ID, title, start)
	if err != nil {
		return nil, false, fmt.Errorf("find agenda item: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	item := &AgendaItem{
		ID:          uuid.New(),
		EventID:     event.ID,
		Title:       title,
		Description: row.Value(FieldAgendaDescription, m),
		StartTime:   start,
		Location:    row.Value(FieldAgendaRoom, m),
		ItemType:    normalizeItemType(row.Value(FieldAgendaType, m)),
	}
	if end, ok := ParseSlotTime(row.Value(FieldAgendaEnd, m), start); ok && !end.Before(start) {
		item.EndTime = &end
	}

	if err := r.repo.SaveAgendaItem(ctx, item); err != nil {
		return nil, false, fmt.Errorf("save agenda item: %w", err)
	}
	return item, true, nil
}

func normalizeItemType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range AgendaItemTypes {
		if s == t {
			return t
		}
	}
	return AgendaSession
}

// presenterResult is what resolvePresenter did for a row.
type presenterResult struct {
	presenter *Presenter
	created   bool
	linked    bool // a new event link was written
}

// resolvePresenter returns a zero result without error when the name is
// missing. The event link is written whenever it does not exist yet,
// whether or not the presenter itself is new.
func (r *resolver) resolvePresenter(ctx context.Context, row Row, m Mapping, event *Event) (presenterResult, error) {
	name := row.Value(FieldPresenterName, m)
	if name == "" {
		return presenterResult{}, nil
	}

	var res presenterResult
	res.presenter = r.ids.presenter(name)
	if res.presenter == nil {
		existing, err := r.repo.FindPresenterByName(ctx, name)
		if err != nil {
			return presenterResult{}, fmt.Errorf("find presenter: %w", err)
		}
		res.presenter = existing
	}

	if res.presenter == nil {
		res.presenter = &Presenter{
			ID:      uuid.New(),
			Name:    name,
			Email:   strings.ToLower(row.Value(FieldPresenterEmail, m)),
			Bio:     row.Value(FieldPresenterBio, m),
			Company: row.Value(FieldPresenterCompany, m),
		}
		if err := r.repo.SavePresenter(ctx, res.presenter); err != nil {
			return presenterResult{}, fmt.Errorf("save presenter: %w", err)
		}
		res.created = true
	}
	r.ids.putPresenter(res.presenter)

	if r.ids.linked(event.ID, res.presenter.ID) {
		return res, nil
	}
	link, err := r.repo.FindEventPresenter(ctx, event.ID, res.presenter.ID)
	if err != nil {
		return presenterResult{}, fmt.Errorf("find event presenter: %w", err)
	}
	if link == nil {
		link = &EventPresenter{ID: uuid.New(), EventID: event.ID, PresenterID: res.presenter.ID}
		if err := r.repo.SaveEventPresenter(ctx, link); err != nil {
			return presenterResult{}, fmt.Errorf("save event presenter: %w", err)
		}
		res.linked = true
	}
	r.ids.putLink(event.ID, res.presenter.ID)
	return res, nil
}

// formatSlot renders a time for outcome lines.
func formatSlot(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}
