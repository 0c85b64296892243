package core

import (
	"strings"

	"github.com/google/uuid"
)

// identityMap caches entities the current run has already resolved, so
// later rows that reference the same event or presenter skip the lookup.
//
// Additions made while a row's transaction is open are staged and only
// become visible to later rows once the row commits; a rollback discards
// them. The controller resets the map at every checkpoint.
type identityMap struct {
	committed entityCache
	staged    entityCache
}

type attendeeKey struct {
	eventID uuid.UUID
	email   string
}

type linkKey struct {
	eventID     uuid.UUID
	presenterID uuid.UUID
}

type entityCache struct {
	eventsByTitle map[string]*Event
	eventsBySlug  map[string]*Event
	presenters    map[string]*Presenter
	attendees     map[attendeeKey]*Attendee
	links         map[linkKey]bool
}

func newEntityCache() entityCache {
	return entityCache{
		eventsByTitle: make(map[string]*Event),
		eventsBySlug:  make(map[string]*Event),
		presenters:    make(map[string]*Presenter),
		attendees:     make(map[attendeeKey]*Attendee),
		links:         make(map[linkKey]bool),
	}
}

func (c entityCache) len() int {
	return len(c.eventsByTitle) + len(c.presenters) + len(c.attendees) + len(c.links)
}

func newIdentityMap() *identityMap {
	return &identityMap{committed: newEntityCache(), staged: newEntityCache()}
}

func (m *identityMap) eventByTitle(title string) *Event {
	if e, ok := m.staged.eventsByTitle[title]; ok {
		return e
	}
	return m.committed.eventsByTitle[title]
}

func (m *identityMap) eventBySlug(slug string) *Event {
	if e, ok := m.staged.eventsBySlug[slug]; ok {
		return e
	}
	return m.committed.eventsBySlug[slug]
}

func (m *identityMap) putEvent(e *Event) {
	m.staged.eventsByTitle[e.Title] = e
	if e.Slug != "" {
		m.staged.eventsBySlug[e.Slug] = e
	}
}

func (m *identityMap) presenter(name string) *Presenter {
	if p, ok := m.staged.presenters[name]; ok {
		return p
	}
	return m.committed.presenters[name]
}

func (m *identityMap) putPresenter(p *Presenter) {
	m.staged.presenters[p.Name] = p
}

func (m *identityMap) attendee(eventID uuid.UUID, email string) *Attendee {
	k := attendeeKey{eventID, strings.ToLower(email)}
	if a, ok := m.staged.attendees[k]; ok {
		return a
	}
	return m.committed.attendees[k]
}

func (m *identityMap) putAttendee(a *Attendee) {
	m.staged.attendees[attendeeKey{a.EventID, strings.ToLower(a.Email)}] = a
}

func (m *identityMap) linked(eventID, presenterID uuid.UUID) bool {
	k := linkKey{eventID, presenterID}
	return m.staged.links[k] || m.committed.links[k]
}

func (m *identityMap) putLink(eventID, presenterID uuid.UUID) {
	m.staged.links[linkKey{eventID, presenterID}] = true
}

// commit publishes the staged entries of the row that just committed.
func (m *identityMap) commit() {
	for k, v := range m.staged.eventsByTitle {
		m.committed.eventsByTitle[k] = v
	}
	for k, v := range m.staged.eventsBySlug {
		m.committed.eventsBySlug[k] = v
	}
	for k, v := range m.staged.presenters {
		m.committed.presenters[k] = v
	}
	for k, v := range m.staged.attendees {
		m.committed.attendees[k] = v
	}
	for k := range m.staged.links {
		m.committed.links[k] = true
	}
	m.staged = newEntityCache()
}

// discard drops the staged entries of a rolled back row.
func (m *identityMap) discard() {
	m.staged = newEntityCache()
}

// reset empties the map.
func (m *identityMap) reset() {
	m.committed = newEntityCache()
	m.staged = newEntityCache()
}

func (m *identityMap) size() int {
	return m.committed.len() + m.staged.len()
}
