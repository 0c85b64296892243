package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/eventimport/internal/config"
	"github.com/JonMunkholm/eventimport/internal/core"
	"github.com/JonMunkholm/eventimport/internal/store/memory"
)

const eventsCSV = "Event Title,Start Date\nConf A,2025-01-01\nConf B,2025-02-01\n"

type plainHasher struct{}

func (plainHasher) Hash(s string) (string, error) { return "hashed:" + s, nil }

type fixedSecrets struct{}

func (fixedSecrets) Generate() (string, error) { return "secret", nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			PreviewRows:   100,
			BatchSize:     50,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       10 * time.Second,
		},
	}
}

type testEnv struct {
	srv     *Server
	store   *memory.Store
	svc     *core.Service
	limiter *core.ImportLimiter
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	st := memory.New()
	processor := core.NewProcessor(plainHasher{}, core.Slugger{}, fixedSecrets{}, core.WithBatchSize(cfg.Import.BatchSize))
	limiter := core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	svc := core.NewService(st, processor, limiter, core.ServiceConfig{
		Parse:         core.ParseOptions{MaxBytes: cfg.Import.MaxFileSize, PreviewRows: cfg.Import.PreviewRows},
		ImportTimeout: cfg.Import.Timeout,
	})

	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: st, svc: svc, limiter: limiter}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, importType, fileName, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if importType != "" {
		mw.WriteField("import_type", importType)
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// upload creates a job and returns its ID.
func (e *testEnv) upload(t *testing.T, importType, content string) string {
	t.Helper()
	rec := e.do(t, uploadRequest(t, importType, "events.csv", content))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	decode(t, rec, &resp)
	return resp.Job.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp.Code
}

type jobJSON struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	ActorID        string            `json:"actor_id"`
	TotalRows      int               `json:"total_rows"`
	SuccessfulRows int               `json:"successful_rows"`
	FailedRows     int               `json:"failed_rows"`
	Progress       int               `json:"progress"`
	Mapping        map[string]string `json:"mapping"`
}

func TestImportLifecycle(t *testing.T) {
	env := newTestEnv(t)

	req := uploadRequest(t, "Events Only", "events.csv", eventsCSV)
	req.Header.Set(ActorHeader, "operator-7")
	rec := env.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body)
	}
	var created struct {
		Job     jobJSON `json:"job"`
		Preview struct {
			Headers            []string          `json:"headers"`
			TotalRows          int               `json:"total_rows"`
			MappingSuggestions map[string]string `json:"mapping_suggestions"`
		} `json:"preview"`
	}
	decode(t, rec, &created)

	if created.Job.Status != "pending" || created.Job.ActorID != "operator-7" || created.Job.TotalRows != 2 {
		t.Errorf("created job = %+v", created.Job)
	}
	if created.Preview.MappingSuggestions["event_title"] != "Event Title" {
		t.Errorf("suggestions = %v", created.Preview.MappingSuggestions)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/imports/"+created.Job.ID {
		t.Errorf("Location = %q", loc)
	}

	jobURL := "/api/imports/" + created.Job.ID

	body := `{"mapping":{"event_title":"Event Title","start_date":"Start Date"}}`
	rec = env.do(t, httptest.NewRequest(http.MethodPut, jobURL+"/mapping", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("mapping status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, jobURL+"/process?wait=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("process status = %d, body = %s", rec.Code, rec.Body)
	}
	var done jobJSON
	decode(t, rec, &done)
	if done.Status != "completed" || done.SuccessfulRows != 2 || done.Progress != 100 {
		t.Errorf("processed job = %+v", done)
	}
	if len(env.store.Events()) != 2 {
		t.Errorf("events = %d, want 2", len(env.store.Events()))
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, jobURL, nil))
	var fetched jobJSON
	decode(t, rec, &fetched)
	if fetched.Status != "completed" || fetched.Mapping["start_date"] != "Start Date" {
		t.Errorf("fetched job = %+v", fetched)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, jobURL, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, jobURL, nil))
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "IMP003" {
		t.Errorf("after delete: status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Import.MaxFileSize = 16 })

	tests := []struct {
		name       string
		importType string
		fileName   string
		content    string
		wantStatus int
		wantCode   string
	}{
		{"no file", "events_only", "", "", http.StatusBadRequest, "FILE004"},
		{"missing import type", "", "events.csv", "Event Title\nA\n", http.StatusBadRequest, "VAL004"},
		{"unknown import type", "sessions", "events.csv", "Event Title\nA\n", http.StatusBadRequest, "IMP005"},
		{"too large", "events_only", "events.csv", eventsCSV, http.StatusRequestEntityTooLarge, "FILE001"},
		{"empty file", "events_only", "events.csv", "", http.StatusBadRequest, "FILE005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, uploadRequest(t, tt.importType, tt.fileName, tt.content))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}

	if n := env.store.JobCount(); n != 0 {
		t.Errorf("jobs created = %d, want 0", n)
	}
}

func TestUpdateMappingErrors(t *testing.T) {
	env := newTestEnv(t)
	jobURL := "/api/imports/" + env.upload(t, "events_only", eventsCSV)

	tests := []struct {
		name       string
		url        string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", jobURL + "/mapping", `{"mapping":`, http.StatusBadRequest, "VAL004"},
		{"unknown property", jobURL + "/mapping", `{"fields":{}}`, http.StatusBadRequest, "VAL004"},
		{"missing mapping", jobURL + "/mapping", `{}`, http.StatusBadRequest, "VAL004"},
		{"unused field", jobURL + "/mapping", `{"mapping":{"attendee_email":"Event Title"}}`, http.StatusBadRequest, "VAL006"},
		{"unknown header", jobURL + "/mapping", `{"mapping":{"event_title":"Conference"}}`, http.StatusBadRequest, "VAL005"},
		{"bad job id", "/api/imports/not-a-uuid/mapping", `{"mapping":{}}`, http.StatusBadRequest, "VAL004"},
		{"unknown job", "/api/imports/00000000-0000-0000-0000-000000000001/mapping", `{"mapping":{}}`, http.StatusNotFound, "IMP003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, httptest.NewRequest(http.MethodPut, tt.url, strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestProcessInBackground(t *testing.T) {
	env := newTestEnv(t)
	id := env.upload(t, "events_only", eventsCSV)
	jobURL := "/api/imports/" + id

	rec := env.do(t, httptest.NewRequest(http.MethodPost, jobURL+"/process", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("process status = %d, body = %s", rec.Code, rec.Body)
	}
	var accepted acceptedResponse
	decode(t, rec, &accepted)
	if accepted.JobID != id || accepted.StatusURL != jobURL {
		t.Errorf("accepted = %+v", accepted)
	}

	if err := env.svc.WaitForImports(t.Context()); err != nil {
		t.Fatalf("WaitForImports() error = %v", err)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, jobURL, nil))
	var job jobJSON
	decode(t, rec, &job)
	if job.Status != "completed" || job.SuccessfulRows != 2 {
		t.Errorf("job = %+v", job)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, jobURL+"/process", nil))
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "IMP004" {
		t.Errorf("second process: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, jobURL+"/process?wait=maybe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad wait flag: status = %d", rec.Code)
	}
}

func TestCancelAndDelete(t *testing.T) {
	env := newTestEnv(t)
	jobURL := "/api/imports/" + env.upload(t, "events_only", eventsCSV)

	rec := env.do(t, httptest.NewRequest(http.MethodDelete, jobURL, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("delete pending: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, jobURL+"/cancel", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body)
	}
	var job jobJSON
	decode(t, rec, &job)
	if job.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", job.Status)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPost, jobURL+"/cancel", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, jobURL, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete cancelled: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestTypesTemplatesAndQueue(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/types", nil))
	var types []struct {
		Type string `json:"type"`
	}
	decode(t, rec, &types)
	if len(types) != 5 {
		t.Errorf("types = %v, want 5 entries", types)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/templates/agenda-only", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("template status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "agenda_only_import_template.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n"); len(lines) != 2 {
		t.Errorf("template lines = %d, want 2", len(lines))
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/templates/sessions", nil))
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "IMP005" {
		t.Errorf("unknown template: status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/queue", nil))
	var queue core.LimiterStatus
	decode(t, rec, &queue)
	if queue.MaxConcurrent != 2 || queue.Active != 0 {
		t.Errorf("queue = %+v", queue)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestQueueFullReturnsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Import.MaxConcurrent = 1
		c.Import.MaxWaitTime = 20 * time.Millisecond
	})
	id := env.upload(t, "events_only", eventsCSV)

	if !env.limiter.TryAcquire() {
		t.Fatal("could not occupy the import slot")
	}
	defer env.limiter.Release()

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/imports/"+id+"/process", nil))
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "IMP002" {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 2}
	})

	for i := 0; i < 2; i++ {
		if rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/types", nil)); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/types", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/types", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/imports/types", nil)
	req.Header.Set("X-API-Key", "k1")
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d", rec.Code)
	}
}
