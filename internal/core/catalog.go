package core

// catalog.go holds the expected-field catalog. Each field has a canonical
// template header and an ordered synonym list; both the mapper and the row
// lookup read from here, so adding a header spelling is a data change only.

// Field identifies an expected column independent of the header spelling.
type Field string

const (
	FieldEventTitle       Field = "event_title"
	FieldEventSlug        Field = "event_slug"
	FieldEventDescription Field = "event_description"
	FieldStartDate        Field = "start_date"
	FieldEndDate          Field = "end_date"
	FieldLocation         Field = "location"
	FieldMaxAttendees     Field = "max_attendees"

	FieldAttendeeName    Field = "attendee_name"
	FieldAttendeeEmail   Field = "attendee_email"
	FieldAttendeePhone   Field = "attendee_phone"
	FieldAttendeeCompany Field = "attendee_company"

	FieldAgendaTitle       Field = "agenda_title"
	FieldAgendaDescription Field = "agenda_description"
	FieldAgendaStart       Field = "agenda_start"
	FieldAgendaEnd         Field = "agenda_end"
	FieldAgendaRoom        Field = "agenda_room"
	FieldAgendaType        Field = "agenda_type"

	FieldPresenterName    Field = "presenter_name"
	FieldPresenterEmail   Field = "presenter_email"
	FieldPresenterBio     Field = "presenter_bio"
	FieldPresenterCompany Field = "presenter_company"
)

// FieldSpec describes one expected column.
type FieldSpec struct {
	Field    Field    `json:"field"`
	Header   string   `json:"header"`   // Canonical header used in templates
	Synonyms []string `json:"synonyms"` // Accepted spellings, most specific first
	Required bool     `json:"required"`
	Example  string   `json:"example"`
}

var fieldCatalog = map[Field]FieldSpec{
	FieldEventTitle: {
		Header:   "Event Title",
		Synonyms: []string{"Event Title", "event_title", "Event", "Title"},
		Example:  "Go Conference 2025",
	},
	FieldEventSlug: {
		Header:   "Event Slug",
		Synonyms: []string{"Event Slug", "event_slug", "Slug"},
		Example:  "go-conference-2025",
	},
	FieldEventDescription: {
		Header:   "Event Description",
		Synonyms: []string{"Event Description", "event_description", "Description"},
		Example:  "Two days of talks and workshops",
	},
	FieldStartDate: {
		Header:   "Start Date",
		Synonyms: []string{"Start Date", "start_date", "Event Start", "Event Date", "Date", "Starts"},
		Example:  "2025-06-10 09:00",
	},
	FieldEndDate: {
		Header:   "End Date",
		Synonyms: []string{"End Date", "end_date", "Event End", "Ends"},
		Example:  "2025-06-11 17:00",
	},
	FieldLocation: {
		Header:   "Location",
		Synonyms: []string{"Location", "location", "Venue", "Event Location"},
		Example:  "Berlin",
	},
	FieldMaxAttendees: {
		Header:   "Max Attendees",
		Synonyms: []string{"Max Attendees", "max_attendees", "Capacity", "Attendee Limit"},
		Example:  "250",
	},

	FieldAttendeeName: {
		Header:   "Attendee Name",
		Synonyms: []string{"Attendee Name", "attendee_name", "Name", "Full Name"},
		Example:  "Ada Lovelace",
	},
	FieldAttendeeEmail: {
		Header:   "Attendee Email",
		Synonyms: []string{"Attendee Email", "attendee_email", "Email", "Email Address", "E-mail"},
		Example:  "ada@example.com",
	},
	FieldAttendeePhone: {
		Header:   "Attendee Phone",
		Synonyms: []string{"Attendee Phone", "attendee_phone", "Phone", "Phone Number"},
		Example:  "+49 30 1234567",
	},
	FieldAttendeeCompany: {
		Header:   "Attendee Company",
		Synonyms: []string{"Attendee Company", "attendee_company", "Company", "Organization"},
		Example:  "Analytical Engines Ltd",
	},

	FieldAgendaTitle: {
		Header:   "Agenda Title",
		Synonyms: []string{"Agenda Title", "agenda_title", "Session Title", "session_title", "Session"},
		Example:  "Opening Keynote",
	},
	FieldAgendaDescription: {
		Header:   "Agenda Description",
		Synonyms: []string{"Agenda Description", "agenda_description", "Session Description"},
		Example:  "Welcome and state of the language",
	},
	FieldAgendaStart: {
		Header:   "Agenda Start",
		Synonyms: []string{"Agenda Start", "agenda_start", "Start Time", "start_time", "Session Start"},
		Example:  "2025-06-10 09:30",
	},
	FieldAgendaEnd: {
		Header:   "Agenda End",
		Synonyms: []string{"Agenda End", "agenda_end", "End Time", "end_time", "Session End"},
		Example:  "2025-06-10 10:15",
	},
	FieldAgendaRoom: {
		Header:   "Room",
		Synonyms: []string{"Room", "room", "Agenda Room", "Session Room", "Agenda Location"},
		Example:  "Main Hall",
	},
	FieldAgendaType: {
		Header:   "Item Type",
		Synonyms: []string{"Item Type", "item_type", "Agenda Type", "Session Type", "Type"},
		Example:  "keynote",
	},

	FieldPresenterName: {
		Header:   "Presenter Name",
		Synonyms: []string{"Presenter Name", "presenter_name", "Presenter", "Speaker", "Speaker Name"},
		Example:  "Grace Hopper",
	},
	FieldPresenterEmail: {
		Header:   "Presenter Email",
		Synonyms: []string{"Presenter Email", "presenter_email", "Speaker Email"},
		Example:  "grace@example.com",
	},
	FieldPresenterBio: {
		Header:   "Presenter Bio",
		Synonyms: []string{"Presenter Bio", "presenter_bio", "Speaker Bio", "Bio"},
		Example:  "Compiler pioneer",
	},
	FieldPresenterCompany: {
		Header:   "Presenter Company",
		Synonyms: []string{"Presenter Company", "presenter_company", "Speaker Company"},
		Example:  "US Navy",
	},
}

// LookupField returns the catalog entry for f.
func LookupField(f Field) (FieldSpec, bool) {
	spec, ok := fieldCatalog[f]
	if ok {
		spec.Field = f
	}
	return spec, ok
}

// Synonyms returns the accepted header spellings for f.
func Synonyms(f Field) []string {
	return fieldCatalog[f].Synonyms
}

// fieldSpecs builds the field list of an import definition.
// Fields named in required are marked Required.
func fieldSpecs(fields []Field, required ...Field) []FieldSpec {
	req := make(map[Field]bool, len(required))
	for _, f := range required {
		req[f] = true
	}

	specs := make([]FieldSpec, 0, len(fields))
	for _, f := range fields {
		spec, ok := LookupField(f)
		if !ok {
			panic("core: field not in catalog: " + string(f))
		}
		spec.Required = req[f]
		specs = append(specs, spec)
	}
	return specs
}
