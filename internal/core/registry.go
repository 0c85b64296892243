package core

import (
	"fmt"
	"sort"
	"sync"
)

// ImportDefinition describes one import type: its expected columns and
// the strategy that processes its rows.
type ImportDefinition struct {
	Type        ImportType  `json:"type"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Fields      []FieldSpec `json:"fields"`
	strategy    strategy
}

// ExpectedColumns returns the canonical headers in template order.
func (d ImportDefinition) ExpectedColumns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Header
	}
	return cols
}

var (
	registry   = make(map[ImportType]ImportDefinition)
	registryMu sync.RWMutex
)

// Register adds an import definition to the registry.
// Panics if the type is already registered.
func Register(def ImportDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Type]; exists {
		panic(fmt.Sprintf("import type already registered: %s", def.Type))
	}
	registry[def.Type] = def
}

// Get returns an import definition by type.
// Returns false if not found.
func Get(t ImportType) (ImportDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[t]
	return def, ok
}

// All returns all registered import definitions sorted by type.
func All() []ImportDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]ImportDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})

	return result
}

var (
	eventFields = []Field{
		FieldEventTitle, FieldEventSlug, FieldEventDescription,
		FieldStartDate, FieldEndDate, FieldLocation, FieldMaxAttendees,
	}
	eventRefFields = []Field{FieldEventTitle, FieldEventSlug}
	attendeeFields = []Field{
		FieldAttendeeName, FieldAttendeeEmail, FieldAttendeePhone, FieldAttendeeCompany,
	}
	agendaFields = []Field{
		FieldAgendaTitle, FieldAgendaDescription, FieldAgendaStart,
		FieldAgendaEnd, FieldAgendaRoom, FieldAgendaType,
	}
	presenterFields = []Field{
		FieldPresenterName, FieldPresenterEmail, FieldPresenterBio, FieldPresenterCompany,
	}
)

func concatFields(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func init() {
	Register(ImportDefinition{
		Type:        ImportComplete,
		Label:       "Complete",
		Description: "Events with their agenda, presenters and attendees on the same rows",
		Fields: fieldSpecs(concatFields(eventFields, agendaFields, presenterFields, attendeeFields),
			FieldEventTitle, FieldStartDate),
		strategy: completeStrategy,
	})
	Register(ImportDefinition{
		Type:        ImportEventsOnly,
		Label:       "Events only",
		Description: "Event records",
		Fields:      fieldSpecs(eventFields, FieldEventTitle, FieldStartDate),
		strategy:    eventsOnlyStrategy,
	})
	Register(ImportDefinition{
		Type:        ImportAttendeesOnly,
		Label:       "Attendees only",
		Description: "Attendees of existing events",
		Fields: fieldSpecs(concatFields(eventRefFields, attendeeFields),
			FieldEventTitle, FieldAttendeeName, FieldAttendeeEmail),
		strategy: attendeesOnlyStrategy,
	})
	Register(ImportDefinition{
		Type:        ImportAgendaOnly,
		Label:       "Agenda only",
		Description: "Agenda items of existing events",
		Fields: fieldSpecs(concatFields(eventRefFields, agendaFields),
			FieldEventTitle, FieldAgendaTitle),
		strategy: agendaOnlyStrategy,
	})
	Register(ImportDefinition{
		Type:        ImportPresentersOnly,
		Label:       "Presenters only",
		Description: "Presenters linked to existing events",
		Fields: fieldSpecs(concatFields(eventRefFields, presenterFields),
			FieldEventTitle, FieldPresenterName),
		strategy: presentersOnlyStrategy,
	})
}
