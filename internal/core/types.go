// Package core provides the business logic for event bulk imports.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportType selects which strategy processes the rows of a job.
type ImportType string

const (
	ImportComplete       ImportType = "complete"
	ImportEventsOnly     ImportType = "events_only"
	ImportAttendeesOnly  ImportType = "attendees_only"
	ImportAgendaOnly     ImportType = "agenda_only"
	ImportPresentersOnly ImportType = "presenters_only"
)

// ParseImportType normalizes s ("Events Only", "events-only", ...) and
// returns ErrUnknownImportType if it names no registered import.
func ParseImportType(s string) (ImportType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)

	t := ImportType(s)
	if _, ok := Get(t); !ok {
		return "", unknownImportType(s)
	}
	return t, nil
}

// JobStatus is the lifecycle state of an ImportJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
// Status only moves forward; cancellation is allowed from pending or processing.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobCancelled
	case JobProcessing:
		return next == JobCompleted || next == JobFailed || next == JobCancelled
	}
	return false
}

// Result categories used to group outcome lines.
const (
	CategoryEvents      = "events"
	CategoryAttendees   = "attendees"
	CategoryAgendaItems = "agenda_items"
	CategoryPresenters  = "presenters"
)

// JobError is one entry of a job's error list. Row is the 1-based line
// number in the uploaded file (the header is line 1); 0 marks a job-level error.
type JobError struct {
	Message   string    `json:"message"`
	Row       int       `json:"row"`
	Timestamp time.Time `json:"timestamp"`
}

// Mapping maps an expected field to the header the operator confirmed for it.
// An empty header means unmapped.
type Mapping map[Field]string

// ImportedData is the payload captured at upload time and replayed when the
// job runs. It is never modified once the job leaves pending.
//
// Lines[i] is the file line Rows[i] came from. Blank lines are not carried
// in Rows, so the index alone does not locate a row in the file.
type ImportedData struct {
	Headers   []string   `json:"headers"`
	Sample    []Row      `json:"sample"`
	TotalRows int        `json:"total_rows"`
	Mapping   Mapping    `json:"mapping"`
	Rows      [][]string `json:"rows"`
	Lines     []int      `json:"lines,omitempty"`
}

// LineOf returns the file line of Rows[i]. Payloads without line numbers
// assume a header on line 1 followed by contiguous rows.
func (d *ImportedData) LineOf(i int) int {
	if i < len(d.Lines) && d.Lines[i] > 0 {
		return d.Lines[i]
	}
	return i + 2
}

// ImportJob is one bulk-import attempt against one uploaded file.
type ImportJob struct {
	ID             uuid.UUID           `json:"id"`
	FileName       string              `json:"file_name"`
	ImportType     ImportType          `json:"import_type"`
	Status         JobStatus           `json:"status"`
	ActorID        string              `json:"actor_id,omitempty"`
	TotalRows      int                 `json:"total_rows"`
	SuccessfulRows int                 `json:"successful_rows"`
	FailedRows     int                 `json:"failed_rows"`
	Results        map[string][]string `json:"results"`
	Errors         []JobError          `json:"errors"`
	ImportedData   *ImportedData       `json:"-"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// NewImportJob returns a pending job for an upload.
func NewImportJob(fileName string, importType ImportType, actorID string, data *ImportedData, now time.Time) *ImportJob {
	job := &ImportJob{
		ID:           uuid.New(),
		FileName:     fileName,
		ImportType:   importType,
		Status:       JobPending,
		ActorID:      actorID,
		Results:      make(map[string][]string),
		ImportedData: data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if data != nil {
		job.TotalRows = data.TotalRows
	}
	return job
}

// AddResult appends an outcome line to a result category.
func (j *ImportJob) AddResult(category, line string) {
	if j.Results == nil {
		j.Results = make(map[string][]string)
	}
	j.Results[category] = append(j.Results[category], line)
}

// AddError appends an entry to the job's error list.
func (j *ImportJob) AddError(row int, message string, at time.Time) {
	j.Errors = append(j.Errors, JobError{Message: message, Row: row, Timestamp: at})
}

// Progress returns processed rows as a percentage of TotalRows (0-100).
func (j *ImportJob) Progress() int {
	if j.TotalRows == 0 {
		return 0
	}
	return (j.SuccessfulRows + j.FailedRows) * 100 / j.TotalRows
}

// ParsedPreview is the value returned at upload time for operator review.
type ParsedPreview struct {
	Headers            []string   `json:"headers"`
	Rows               []Row      `json:"rows"`
	TotalRows          int        `json:"total_rows"`
	ExpectedColumns    []string   `json:"expected_columns"`
	MappingSuggestions Mapping    `json:"mapping_suggestions"`
	ImportType         ImportType `json:"import_type"`
}

// Event is an import target identified by its title.
type Event struct {
	ID           uuid.UUID
	Title        string
	Slug         string
	Description  string
	StartDate    time.Time
	EndDate      *time.Time
	Location     string
	MaxAttendees *int
}

// Attendee is identified by (EventID, Email).
type Attendee struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	Name         string
	Email        string
	Phone        string
	Company      string
	PasswordHash string
}

// Agenda item types. Unknown values are stored as AgendaSession.
const (
	AgendaSession    = "session"
	AgendaBreak      = "break"
	AgendaLunch      = "lunch"
	AgendaKeynote    = "keynote"
	AgendaWorkshop   = "workshop"
	AgendaNetworking = "networking"
	AgendaOther      = "other"
)

// AgendaItemTypes lists the accepted agenda item types.
var AgendaItemTypes = []string{
	AgendaSession, AgendaBreak, AgendaLunch, AgendaKeynote,
	AgendaWorkshop, AgendaNetworking, AgendaOther,
}

// AgendaItem is identified by (EventID, Title, StartTime).
type AgendaItem struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	Title       string
	Description string
	StartTime   time.Time
	EndTime     *time.Time
	Location    string
	ItemType    string
}

// Presenter is identified by its exact name.
type Presenter struct {
	ID      uuid.UUID
	Name    string
	Email   string
	Bio     string
	Company string
}

// EventPresenter links a presenter to an event.
type EventPresenter struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	PresenterID uuid.UUID
}
