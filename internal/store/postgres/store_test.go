package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/eventimport/internal/core"
)

// openTestStore connects to TEST_DATABASE_URL and skips when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	st, err := Open(ctx, Config{URL: url, MaxConns: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(st.Close)

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return st
}

func TestStore_JobLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	data := &core.ImportedData{
		Headers:   []string{"Event", "Start Date"},
		Rows:      [][]string{{"Conf A", "2025-01-01"}},
		TotalRows: 1,
		Mapping:   core.Mapping{core.FieldEventTitle: ""},
	}
	job := core.NewImportJob("a.csv", core.ImportEventsOnly, "tester", data, now)
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	t.Cleanup(func() { _ = st.DeleteJob(context.Background(), job.ID) })

	if err := st.UpdateJobMapping(ctx, job.ID, core.Mapping{core.FieldEventTitle: "Event"}); err != nil {
		t.Fatalf("UpdateJobMapping: %v", err)
	}

	job.Status = core.JobProcessing
	job.StartedAt = &now
	job.AddResult(core.CategoryEvents, "Created event")
	job.AddError(3, "bad row", now)
	if err := st.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != core.JobProcessing || got.ActorID != "tester" || got.StartedAt == nil {
		t.Errorf("job = %+v", got)
	}
	if got.ImportedData == nil || got.ImportedData.Mapping[core.FieldEventTitle] != "Event" {
		t.Errorf("imported data = %+v", got.ImportedData)
	}
	if len(got.Results[core.CategoryEvents]) != 1 || len(got.Errors) != 1 || got.Errors[0].Row != 3 {
		t.Errorf("outcome = %v / %v", got.Results, got.Errors)
	}

	if err := st.UpdateJobMapping(ctx, job.ID, core.Mapping{}); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("UpdateJobMapping on processing job error = %v", err)
	}
	if _, err := st.GetJob(ctx, uuid.New()); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("GetJob unknown error = %v", err)
	}
}

func TestStore_ImportRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	title := "PG Conf " + uuid.NewString()[:8]
	csv := "Event Title,Start Date,Agenda Title,Agenda Start,Presenter Name,Attendee Name,Attendee Email\n" +
		title + ",2025-03-10 08:00,Keynote,09:30,Grace " + title + ",Ada,ada@example.com\n" +
		title + ",2025-03-10 08:00,Keynote,09:30,Grace " + title + ",Ada,ADA@example.com\n"

	proc := core.NewProcessor(core.BcryptHasher{Cost: 4}, core.Slugger{}, core.NanoidSecrets{})
	svc := core.NewService(st, proc, nil, core.ServiceConfig{})

	job, _, err := svc.CreateJob(ctx, strings.NewReader(csv), "pg.csv", core.ImportComplete)
	if err != nil {
		t.Fatal(err)
	}
	final, err := svc.ProcessImport(ctx, job.ID)
	if err != nil {
		t.Fatalf("ProcessImport: %v", err)
	}
	if final.Status != core.JobCompleted || final.SuccessfulRows != 2 {
		t.Fatalf("job = %+v", final)
	}

	repo, _ := st.OpenRepository(ctx)
	defer repo.Close()

	event, err := repo.FindEventByTitle(ctx, title)
	if err != nil || event == nil {
		t.Fatalf("FindEventByTitle = %v, %v", event, err)
	}
	if got, _ := repo.FindEventBySlug(ctx, event.Slug); got == nil || got.ID != event.ID {
		t.Error("FindEventBySlug did not return the event")
	}
	if a, _ := repo.FindAttendee(ctx, event.ID, "Ada@Example.com"); a == nil {
		t.Error("attendee lookup is case sensitive")
	}
	start := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	if it, _ := repo.FindAgendaItem(ctx, event.ID, "Keynote", start); it == nil {
		t.Error("agenda item not found by natural key")
	}

	// Duplicate slugs are rejected by the schema.
	dup := &core.Event{ID: uuid.New(), Title: "other", Slug: event.Slug, StartDate: start}
	if err := repo.SaveEvent(ctx, dup); err == nil || core.MapError(err).Code != "DB001" {
		t.Errorf("SaveEvent duplicate slug error = %v", err)
	}
}

func TestSession_RollbackAndHealth(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	repo, _ := st.OpenRepository(ctx)
	defer repo.Close()

	if !repo.Healthy(ctx) {
		t.Fatal("fresh session unhealthy")
	}

	title := "Rolled back " + uuid.NewString()
	if err := repo.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	e := &core.Event{ID: uuid.New(), Title: title, Slug: uuid.NewString(), StartDate: time.Now().UTC()}
	if err := repo.SaveEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := repo.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.FindEventByTitle(ctx, title); got != nil {
		t.Error("rolled back event is visible")
	}

	if err := repo.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !repo.Healthy(ctx) {
		t.Error("session unhealthy after reconnect")
	}
}

func TestStore_TerminateJob(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	newJob := func(t *testing.T, status core.JobStatus) *core.ImportJob {
		t.Helper()
		job := core.NewImportJob("a.csv", core.ImportEventsOnly, "", &core.ImportedData{TotalRows: 2}, now)
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
		job.Status = status
		job.SuccessfulRows = 1
		job.AddResult(core.CategoryEvents, `Created event "Conf A" (conf-a)`)
		job.AddError(3, "invalid date for Start Date", now)
		if err := st.UpdateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
		return job
	}

	running := newJob(t, core.JobProcessing)
	failed, err := st.TerminateJob(ctx, running.ID, core.JobFailed,
		&core.JobError{Message: "internal error", Timestamp: now}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("TerminateJob: %v", err)
	}
	if failed.Status != core.JobFailed || failed.CompletedAt == nil {
		t.Errorf("job = %+v", failed)
	}
	if failed.SuccessfulRows != 1 || len(failed.Results[core.CategoryEvents]) != 1 {
		t.Errorf("counters or results rewritten: %+v", failed)
	}
	if len(failed.Errors) != 2 || failed.Errors[1].Message != "internal error" {
		t.Errorf("errors = %+v, want row error plus internal error", failed.Errors)
	}

	done := newJob(t, core.JobCompleted)
	if _, err := st.TerminateJob(ctx, done.ID, core.JobCancelled, nil, now); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("cancel completed job error = %v, want ErrInvalidTransition", err)
	}
	got, err := st.GetJob(ctx, done.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.JobCompleted || got.SuccessfulRows != 1 {
		t.Errorf("completed job changed: %+v", got)
	}

	if _, err := st.TerminateJob(ctx, uuid.New(), core.JobCancelled, nil, now); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("unknown job error = %v, want ErrJobNotFound", err)
	}
}
