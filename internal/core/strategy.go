package core

import (
	"context"
	"fmt"
)

// RowOutcome is one human-readable line recorded for a processed row.
type RowOutcome struct {
	Category string
	Message  string
}

// RowResult is the success value of one processed row.
type RowResult struct {
	Outcomes []RowOutcome
}

func (r *RowResult) add(category, format string, args ...any) {
	r.Outcomes = append(r.Outcomes, RowOutcome{Category: category, Message: fmt.Sprintf(format, args...)})
}

// strategy processes one row inside an open transaction. Any returned error
// fails the row and rolls its transaction back.
type strategy func(ctx context.Context, r *resolver, row Row, m Mapping) (RowResult, error)

func hasAttendeeData(row Row, m Mapping) bool {
	return row.Has(m, FieldAttendeeName, FieldAttendeeEmail)
}

func hasAgendaData(row Row, m Mapping) bool {
	return row.Has(m, FieldAgendaTitle)
}

func hasPresenterData(row Row, m Mapping) bool {
	return row.Has(m, FieldPresenterName)
}

// completeStrategy resolves the row's event, then every sub-concern whose
// defining fields are present. Incomplete sub-concern data is skipped.
func completeStrategy(ctx context.Context, r *resolver, row Row, m Mapping) (RowResult, error) {
	var res RowResult

	event, err := recordEvent(ctx, r, row, m, &res)
	if err != nil {
		return RowResult{}, err
	}

	if hasAgendaData(row, m) {
		if err := recordAgendaItem(ctx, r, row, m, event, &res); err != nil {
			return RowResult{}, err
		}
	}
	if hasPresenterData(row, m) {
		if err := recordPresenter(ctx, r, row, m, event, &res); err != nil {
			return RowResult{}, err
		}
	}
	if hasAttendeeData(row, m) {
		if _, err := recordAttendee(ctx, r, row, m, event, &res); err != nil {
			return RowResult{}, err
		}
	}

	return res, nil
}

// eventsOnlyStrategy finds each row's event by title and creates it when
// none matches.
func eventsOnlyStrategy(ctx context.Context, r *resolver, row Row, m Mapping) (RowResult, error) {
	var res RowResult
	if _, err := recordEvent(ctx, r, row, m, &res); err != nil {
		return RowResult{}, err
	}
	return res, nil
}

func attendeesOnlyStrategy(ctx context.Context, r *resolver, row Row, m Mapping) (RowResult, error) {
	event, err := r.locateEvent(ctx, row, m)
	if err != nil {
		return RowResult{}, err
	}

	var res RowResult
	ok, err := recordAttendee(ctx, r, row, m, event, &res)
	if err != nil {
		return RowResult{}, err
	}
	if !ok {
		if row.Value(FieldAttendeeName, m) == "" {
			return RowResult{}, requiredField(FieldAttendeeName)
		}
		return RowResult{}, requiredField(FieldAttendeeEmail)
	}
	return res, nil
}

func agendaOnlyStrategy(ctx context.Context, r *resolver, row Row, m Mapping) (RowResult, error) {
	event, err := r.locateEvent(ctx, row, m)
	if err != nil {
		return RowResult{}, err
	}
	if !hasAgendaData(row, m) {
		return RowResult{}, requiredField(FieldAgendaTitle)
	}

	var res RowResult
	if err := recordAgendaItem(ctx, r, row, m, event, &res); err != nil {
		return RowResult{}, err
	}
	return res, nil
}

func presentersOnlyStrategy(ctx context.Context, r *resolver, row Row, m Mapping) (RowResult, error) {
	event, err := r.locateEvent(ctx, row, m)
	if err != nil {
		return RowResult{}, err
	}
	if !hasPresenterData(row, m) {
		return RowResult{}, requiredField(FieldPresenterName)
	}

	var res RowResult
	if err := recordPresenter(ctx, r, row, m, event, &res); err != nil {
		return RowResult{}, err
	}
	return res, nil
}

func recordEvent(ctx context.Context, r *resolver, row Row, m Mapping, res *RowResult) (*Event, error) {
	event, created, err := r.resolveEvent(ctx, row, m)
	if err != nil {
		return nil, err
	}
	if created {
		res.add(CategoryEvents, "Created event %q (%s)", event.Title, event.Slug)
	} else {
		res.add(CategoryEvents, "Reused event %q", event.Title)
	}
	return event, nil
}

// recordAttendee reports false when the row had no complete attendee data.
func recordAttendee(ctx context.Context, r *resolver, row Row, m Mapping, event *Event, res *RowResult) (bool, error) {
	attendee, created, err := r.resolveAttendee(ctx, row, m, event)
	if err != nil {
		return false, err
	}
	if attendee == nil {
		return false, nil
	}
	if created {
		res.add(CategoryAttendees, "Created attendee %s <%s> for %q", attendee.Name, attendee.Email, event.Title)
	} else {
		res.add(CategoryAttendees, "Reused attendee %s <%s> for %q", attendee.Name, attendee.Email, event.Title)
	}
	return true, nil
}

func recordAgendaItem(ctx context.Context, r *resolver, row Row, m Mapping, event *Event, res *RowResult) error {
	item, created, err := r.resolveAgendaItem(ctx, row, m, event)
	if err != nil || item == nil {
		return err
	}
	if created {
		res.add(CategoryAgendaItems, "Created %s %q at %s for %q", item.ItemType, item.Title, formatSlot(item.StartTime), event.Title)
	} else {
		res.add(CategoryAgendaItems, "Reused %s %q at %s for %q", item.ItemType, item.Title, formatSlot(item.StartTime), event.Title)
	}
	return nil
}

func recordPresenter(ctx context.Context, r *resolver, row Row, m Mapping, event *Event, res *RowResult) error {
	pr, err := r.resolvePresenter(ctx, row, m, event)
	if err != nil || pr.presenter == nil {
		return err
	}
	if pr.created {
		res.add(CategoryPresenters, "Created presenter %q", pr.presenter.Name)
	} else {
		res.add(CategoryPresenters, "Reused presenter %q", pr.presenter.Name)
	}
	if pr.linked {
		res.add(CategoryPresenters, "Linked presenter %q to %q", pr.presenter.Name, event.Title)
	}
	return nil
}
