package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/eventimport/internal/core"
	"github.com/JonMunkholm/eventimport/internal/store/memory"
)

// ============================================================================
// Test doubles
// ============================================================================

type plainHasher struct{}

func (plainHasher) Hash(s string) (string, error) { return "hashed:" + s, nil }

type fixedSecrets struct{}

func (fixedSecrets) Generate() (string, error) { return "secret", nil }

func newProcessor(opts ...core.ProcessorOption) *core.Processor {
	return core.NewProcessor(plainHasher{}, core.Slugger{}, fixedSecrets{}, opts...)
}

func newService(st *memory.Store, opts ...core.ProcessorOption) *core.Service {
	return core.NewService(st, newProcessor(opts...), core.NewImportLimiter(2, time.Second), core.ServiceConfig{})
}

func createJob(t *testing.T, svc *core.Service, importType core.ImportType, csv string) *core.ImportJob {
	t.Helper()
	job, _, err := svc.CreateJob(context.Background(), strings.NewReader(csv), "upload.csv", importType)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func runImport(t *testing.T, svc *core.Service, importType core.ImportType, csv string) *core.ImportJob {
	t.Helper()
	job := createJob(t, svc, importType, csv)
	final, err := svc.ProcessImport(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ProcessImport: %v", err)
	}
	return final
}

// hookedRepo observes commits: after the n-th commit attempt it calls hook
// before the commit runs.
type hookedRepo struct {
	core.Repository
	commits int
	hook    func(n int)
}

func (r *hookedRepo) Commit(ctx context.Context) error {
	r.commits++
	if r.hook != nil {
		r.hook(r.commits)
	}
	return r.Repository.Commit(ctx)
}

func openHooked(t *testing.T, st *memory.Store, hook func(n int)) *hookedRepo {
	t.Helper()
	repo, err := st.OpenRepository(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return &hookedRepo{Repository: repo, hook: hook}
}

func loadJob(t *testing.T, st *memory.Store, job *core.ImportJob) *core.ImportJob {
	t.Helper()
	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}

// ============================================================================
// End-to-end scenarios
// ============================================================================

func TestProcess_ThreeRowScenario(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	csv := "Event,Start Date,Name,Email\n" +
		"Conf A,2025-01-01 09:00,Alice,alice@x.com\n" +
		"Conf A,2025-01-01 09:00,Bob,bob@x.com\n" +
		"Conf B,not-a-date,Carol,carol@x.com\n"

	job := runImport(t, svc, core.ImportComplete, csv)

	if job.TotalRows != 3 || job.SuccessfulRows != 2 || job.FailedRows != 1 {
		t.Errorf("counts = %d/%d/%d, want total 3, successful 2, failed 1",
			job.TotalRows, job.SuccessfulRows, job.FailedRows)
	}
	if job.Status != core.JobCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}

	events := st.Events()
	if len(events) != 1 || events[0].Title != "Conf A" {
		t.Fatalf("events = %+v, want only Conf A", events)
	}
	attendees := st.Attendees()
	if len(attendees) != 2 {
		t.Fatalf("attendees = %d, want 2", len(attendees))
	}
	for _, a := range attendees {
		if a.EventID != events[0].ID {
			t.Errorf("attendee %s attached to %s, want Conf A", a.Name, a.EventID)
		}
		if a.PasswordHash != "hashed:secret" {
			t.Errorf("attendee %s PasswordHash = %q", a.Name, a.PasswordHash)
		}
	}

	if len(job.Errors) != 1 {
		t.Fatalf("Errors = %+v, want one", job.Errors)
	}
	if e := job.Errors[0]; e.Row != 4 || !strings.Contains(e.Message, "invalid date") {
		t.Errorf("error = %+v, want invalid date on row 4", e)
	}

	stored := loadJob(t, st, job)
	if stored.Status != core.JobCompleted || stored.CompletedAt == nil || stored.StartedAt == nil {
		t.Errorf("stored job = %+v", stored)
	}
	if stored.ImportedData == nil || len(stored.ImportedData.Rows) != 3 {
		t.Error("stored job lost its imported rows")
	}
}

func TestProcess_CompleteImportIsIdempotent(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	csv := "Event Title,Start Date,Agenda Title,Agenda Start,Presenter Name,Attendee Name,Attendee Email\n" +
		"Conf A,2025-03-10 08:00,Keynote,09:30,Grace Hopper,Ada,ada@example.com\n" +
		"Conf A,2025-03-10 08:00,Workshop,11:00,Grace Hopper,Alan,alan@example.com\n"

	first := runImport(t, svc, core.ImportComplete, csv)
	second := runImport(t, svc, core.ImportComplete, csv)

	for _, job := range []*core.ImportJob{first, second} {
		if job.SuccessfulRows != 2 || job.FailedRows != 0 {
			t.Errorf("job %s: successful %d failed %d, errors %+v", job.ID, job.SuccessfulRows, job.FailedRows, job.Errors)
		}
	}

	if n := len(st.Events()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
	if n := len(st.AgendaItems()); n != 2 {
		t.Errorf("agenda items = %d, want 2", n)
	}
	if n := len(st.Presenters()); n != 1 {
		t.Errorf("presenters = %d, want 1", n)
	}
	if n := len(st.EventPresenters()); n != 1 {
		t.Errorf("event presenter links = %d, want 1", n)
	}
	if n := len(st.Attendees()); n != 2 {
		t.Errorf("attendees = %d, want 2", n)
	}

	for _, line := range second.Results[core.CategoryEvents] {
		if !strings.HasPrefix(line, "Reused") {
			t.Errorf("second run event outcome %q, want Reused", line)
		}
	}
	if got := first.Results[core.CategoryPresenters]; len(got) != 3 {
		t.Errorf("first run presenter outcomes = %v, want create, link, reuse", got)
	}
}

func TestProcess_RowIsolation(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	csv := "Event Title,Start Date\n" +
		"Conf A,2025-01-01\n" +
		"Conf B,\n" +
		"Conf C,2025-02-01\n"

	job := runImport(t, svc, core.ImportEventsOnly, csv)

	if job.SuccessfulRows != 2 || job.FailedRows != 1 {
		t.Errorf("successful %d failed %d, want 2 and 1", job.SuccessfulRows, job.FailedRows)
	}
	if len(job.Errors) != 1 || job.Errors[0].Row != 3 ||
		job.Errors[0].Message != "required field missing: Start Date" {
		t.Errorf("errors = %+v", job.Errors)
	}

	var titles []string
	for _, e := range st.Events() {
		titles = append(titles, e.Title)
	}
	if strings.Join(titles, ",") != "Conf A,Conf C" {
		t.Errorf("events = %v, want Conf A and Conf C", titles)
	}
}

func TestProcess_ErrorRowsMatchFileLines(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantRow int
	}{
		{
			name:    "contiguous rows",
			csv:     "Event Title,Start Date\nConf A,2025-01-01\nConf B,not-a-date\n",
			wantRow: 3,
		},
		{
			name:    "blank line between rows",
			csv:     "Event Title,Start Date\nConf A,2025-01-01\n\nConf B,not-a-date\n",
			wantRow: 4,
		},
		{
			name:    "blank lines before header",
			csv:     "\n\nEvent Title,Start Date\nConf B,not-a-date\n",
			wantRow: 4,
		},
		{
			name:    "blank-cell rows skipped",
			csv:     "Event Title,Start Date\n,\nConf A,2025-01-01\n , \nConf B,not-a-date\n",
			wantRow: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			job := runImport(t, newService(st), core.ImportEventsOnly, tt.csv)

			if len(job.Errors) != 1 {
				t.Fatalf("errors = %+v, want one", job.Errors)
			}
			if got := job.Errors[0].Row; got != tt.wantRow {
				t.Errorf("error row = %d, want file line %d", got, tt.wantRow)
			}
			if stored := loadJob(t, st, job); len(stored.Errors) != 1 || stored.Errors[0].Row != tt.wantRow {
				t.Errorf("stored errors = %+v", stored.Errors)
			}
		})
	}
}

func TestProcess_AgendaDefaults(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	csv := "Event Title,Start Date,Agenda Title,Agenda Start,Agenda End,Item Type\n" +
		"Conf A,2025-03-10 08:00,Keynote,09:30,10:15,keynote\n" +
		"Conf A,,Lunch,,,seminar\n" +
		"Conf A,,Hands-on,whenever,07:00,WORKSHOP\n"

	job := runImport(t, svc, core.ImportComplete, csv)
	if job.FailedRows != 0 {
		t.Fatalf("errors = %+v", job.Errors)
	}

	items := map[string]core.AgendaItem{}
	for _, it := range st.AgendaItems() {
		items[it.Title] = it
	}
	eventStart := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	keynote := items["Keynote"]
	if !keynote.StartTime.Equal(eventStart.Add(90*time.Minute)) || keynote.ItemType != core.AgendaKeynote {
		t.Errorf("keynote = %+v", keynote)
	}
	if keynote.EndTime == nil || !keynote.EndTime.Equal(eventStart.Add(135*time.Minute)) {
		t.Errorf("keynote end = %v", keynote.EndTime)
	}

	lunch := items["Lunch"]
	if !lunch.StartTime.Equal(eventStart) || lunch.ItemType != core.AgendaSession || lunch.EndTime != nil {
		t.Errorf("lunch = %+v, want event start, session type, no end", lunch)
	}

	// An end before the start is dropped rather than failing the row.
	workshop := items["Hands-on"]
	if !workshop.StartTime.Equal(eventStart) || workshop.ItemType != core.AgendaWorkshop || workshop.EndTime != nil {
		t.Errorf("workshop = %+v", workshop)
	}
}

func TestProcess_NaturalKeysAcrossImportTypes(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	runImport(t, svc, core.ImportEventsOnly, "Event Title,Start Date,Event Slug\nConf A,2025-01-01,conf-a-2025\n")

	job := runImport(t, svc, core.ImportAttendeesOnly,
		"Event,Name,Email\n"+
			"Conf A,Ada,ADA@Example.com\n"+
			"Conf Z,Bob,bob@example.com\n"+
			"Conf A,,nobody@example.com\n")

	if job.SuccessfulRows != 1 || job.FailedRows != 2 {
		t.Fatalf("successful %d failed %d, errors %+v", job.SuccessfulRows, job.FailedRows, job.Errors)
	}
	if msg := job.Errors[0].Message; msg != `Event not found: "Conf Z"` {
		t.Errorf("row 3 error = %q", msg)
	}
	if msg := job.Errors[1].Message; msg != "required field missing: Attendee Name" {
		t.Errorf("row 4 error = %q", msg)
	}

	events := st.Events()
	attendees := st.Attendees()
	if len(events) != 1 || len(attendees) != 1 {
		t.Fatalf("events %d attendees %d, want 1 and 1", len(events), len(attendees))
	}
	if attendees[0].EventID != events[0].ID || attendees[0].Email != "ada@example.com" {
		t.Errorf("attendee = %+v", attendees[0])
	}

	// The slug column alone is enough to reference the event.
	job = runImport(t, svc, core.ImportPresentersOnly,
		"Event Slug,Presenter Name\nconf-a-2025,Grace Hopper\nconf-a-2025,Grace Hopper\n")
	if job.SuccessfulRows != 2 {
		t.Fatalf("presenters errors = %+v", job.Errors)
	}
	if len(st.Presenters()) != 1 || len(st.EventPresenters()) != 1 {
		t.Errorf("presenters %d links %d, want 1 and 1", len(st.Presenters()), len(st.EventPresenters()))
	}
}

func TestProcess_EventSlugCellDoesNotMergeTitles(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	runImport(t, svc, core.ImportEventsOnly, "Event Title,Start Date,Event Slug\nConf A,2025-01-01,shared\n")

	// A new title with another event's slug is a new event; the slug cell
	// only seeds its slug.
	job := runImport(t, svc, core.ImportComplete,
		"Event Title,Start Date,Event Slug\nConf B,2025-02-01,shared\n")
	if job.FailedRows != 0 {
		t.Fatalf("errors = %+v", job.Errors)
	}

	events := st.Events()
	if len(events) != 2 {
		t.Fatalf("events = %+v, want Conf A and Conf B", events)
	}
	if events[1].Title != "Conf B" || events[1].Slug != "shared-2" {
		t.Errorf("second event = %q slug %q, want Conf B slug shared-2", events[1].Title, events[1].Slug)
	}

	// Reference imports still find an event by its slug.
	job = runImport(t, svc, core.ImportPresentersOnly, "Event Slug,Presenter Name\nshared-2,Grace Hopper\n")
	if job.SuccessfulRows != 1 {
		t.Fatalf("presenters errors = %+v", job.Errors)
	}
	if links := st.EventPresenters(); len(links) != 1 || links[0].EventID != events[1].ID {
		t.Errorf("links = %+v, want one on Conf B", links)
	}
}

func TestProcess_SlugCollision(t *testing.T) {
	st := memory.New()
	svc := newService(st)

	runImport(t, svc, core.ImportEventsOnly,
		"Event Title,Start Date\nGo Conf,2025-01-01\nGo-Conf,2025-02-01\n")

	events := st.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Slug != "go-conf" || events[1].Slug != "go-conf-2" {
		t.Errorf("slugs = %q, %q; want go-conf, go-conf-2", events[0].Slug, events[1].Slug)
	}
}

// ============================================================================
// Controller behavior
// ============================================================================

func TestProcess_CheckpointsEveryBatch(t *testing.T) {
	st := memory.New()
	svc := newService(st, core.WithBatchSize(3))

	var b strings.Builder
	b.WriteString("Event Title,Start Date\n")
	for _, title := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		b.WriteString("Conf " + title + ",2025-01-01\n")
	}

	job := runImport(t, svc, core.ImportEventsOnly, b.String())
	if job.SuccessfulRows != 7 {
		t.Fatalf("errors = %+v", job.Errors)
	}
	if got := st.Stats().Clears; got != 2 {
		t.Errorf("Clears = %d, want 2 (after rows 3 and 6)", got)
	}
}

func TestProcess_CommitFailureReconnects(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	job := createJob(t, svc, core.ImportEventsOnly,
		"Event Title,Start Date\nConf A,2025-01-01\nConf B,2025-01-02\nConf C,2025-01-03\n")

	// Commit 1 persists the processing status; commit 3 is row two.
	repo := openHooked(t, st, func(n int) {
		if n == 3 {
			st.FailCommits(1)
			st.SetHealthy(false)
		}
	})

	if err := newProcessor().Process(context.Background(), repo, job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if job.Status != core.JobCompleted || job.SuccessfulRows != 2 || job.FailedRows != 1 {
		t.Errorf("status %s successful %d failed %d", job.Status, job.SuccessfulRows, job.FailedRows)
	}
	if len(job.Errors) != 1 || job.Errors[0].Row != 3 ||
		!strings.Contains(job.Errors[0].Message, "transaction commit failed") {
		t.Errorf("errors = %+v", job.Errors)
	}
	if got := st.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
	if n := len(st.Events()); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}

func TestProcess_UnhealthyRepositoryIsReconnected(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	st.SetHealthy(false)

	job := runImport(t, svc, core.ImportEventsOnly, "Event Title,Start Date\nConf A,2025-01-01\n")

	if job.Status != core.JobCompleted || job.SuccessfulRows != 1 {
		t.Errorf("status %s, errors %+v", job.Status, job.Errors)
	}
	if got := st.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}

func TestProcess_ReconnectFailureFailsJob(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	job := createJob(t, svc, core.ImportEventsOnly, "Event Title,Start Date\nConf A,2025-01-01\n")

	st.SetHealthy(false)
	st.FailReconnect(errors.New("dial tcp: connection refused"))

	_, err := svc.ProcessImport(context.Background(), job.ID)
	if err == nil || !strings.Contains(err.Error(), "reconnect repository") {
		t.Fatalf("ProcessImport error = %v, want reconnect failure", err)
	}

	stored := loadJob(t, st, job)
	if stored.Status != core.JobFailed || stored.SuccessfulRows != 0 {
		t.Errorf("stored status %s successful %d", stored.Status, stored.SuccessfulRows)
	}
	if len(stored.Errors) != 1 || stored.Errors[0].Row != 0 {
		t.Errorf("errors = %+v, want one job-level error", stored.Errors)
	}
	if n := len(st.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestProcess_SetupFailure(t *testing.T) {
	st := memory.New()
	job := core.NewImportJob("broken.csv", core.ImportComplete, "", nil, time.Now().UTC())
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	repo, _ := st.OpenRepository(context.Background())

	if err := newProcessor().Process(context.Background(), repo, job); err != nil {
		t.Fatalf("Process returned %v, want nil for setup failures", err)
	}

	stored := loadJob(t, st, job)
	if stored.Status != core.JobFailed || stored.CompletedAt == nil {
		t.Errorf("status %s completedAt %v", stored.Status, stored.CompletedAt)
	}
	if len(stored.Errors) != 1 || !strings.Contains(stored.Errors[0].Message, "import setup failed") {
		t.Errorf("errors = %+v", stored.Errors)
	}
	if stored.SuccessfulRows+stored.FailedRows != 0 {
		t.Error("rows were attempted")
	}
}

func TestProcess_RejectsNonPendingJob(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	job := runImport(t, svc, core.ImportEventsOnly, "Event Title,Start Date\nConf A,2025-01-01\n")

	repo, _ := st.OpenRepository(context.Background())
	err := newProcessor().Process(context.Background(), repo, job)
	if !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestProcess_CancelledBeforeStart(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	job := createJob(t, svc, core.ImportEventsOnly, "Event Title,Start Date\nConf A,2025-01-01\n")
	pending := loadJob(t, st, job)

	if _, err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	repo, _ := st.OpenRepository(context.Background())
	if err := newProcessor().Process(context.Background(), repo, pending); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if pending.Status != core.JobCancelled {
		t.Errorf("Status = %s, want cancelled", pending.Status)
	}
	if n := len(st.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestProcess_CancelledMidRunKeepsStatus(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	job := createJob(t, svc, core.ImportEventsOnly,
		"Event Title,Start Date\nConf A,2025-01-01\nConf B,2025-01-02\nConf C,2025-01-03\n")

	repo := openHooked(t, st, func(n int) {
		if n == 2 {
			if _, err := svc.CancelJob(context.Background(), job.ID); err != nil {
				t.Errorf("CancelJob: %v", err)
			}
		}
	})

	if err := newProcessor().Process(context.Background(), repo, job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Rows are not interrupted, but the cancellation survives.
	if job.SuccessfulRows != 3 {
		t.Errorf("SuccessfulRows = %d, want 3", job.SuccessfulRows)
	}
	if stored := loadJob(t, st, job); stored.Status != core.JobCancelled {
		t.Errorf("stored Status = %s, want cancelled", stored.Status)
	}
}

func TestProcess_ContextCancelledFailsJob(t *testing.T) {
	st := memory.New()
	svc := newService(st)
	job := createJob(t, svc, core.ImportEventsOnly, "Event Title,Start Date\nConf A,2025-01-01\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo, _ := st.OpenRepository(context.Background())
	err := newProcessor().Process(ctx, repo, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	stored := loadJob(t, st, job)
	if stored.Status != core.JobFailed {
		t.Errorf("Status = %s, want failed", stored.Status)
	}
	if len(stored.Errors) != 1 || !strings.Contains(stored.Errors[0].Message, "import interrupted after 0 of 1 rows") {
		t.Errorf("errors = %+v", stored.Errors)
	}
}
