package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/eventimport/internal/logging"
)

// DefaultImportTimeout bounds one background import run.
const DefaultImportTimeout = 30 * time.Minute

// ErrAlreadyRunning is returned when a job is started twice.
var ErrAlreadyRunning = errors.New("import already running")

// ServiceConfig tunes a Service. Zero values select the defaults.
type ServiceConfig struct {
	Parse         ParseOptions
	ImportTimeout time.Duration
}

// Service is the entry point for import operations: upload, run, inspect,
// cancel and delete jobs.
type Service struct {
	store     Store
	processor *Processor
	limiter   *ImportLimiter
	cfg       ServiceConfig
	now       func() time.Time

	// runCtx parents every background run; cancelRuns interrupts them on shutdown.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewService creates a Service.
func NewService(store Store, processor *Processor, limiter *ImportLimiter, cfg ServiceConfig) *Service {
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if limiter == nil {
		limiter = NewImportLimiter(0, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		processor:  processor,
		limiter:    limiter,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		runCtx:     ctx,
		cancelRuns: cancel,
		running:    make(map[uuid.UUID]struct{}),
	}
}

// ListImportTypes returns every registered import definition.
func (s *Service) ListImportTypes() []ImportDefinition {
	return All()
}

// GenerateTemplate returns the starter CSV for importType.
func (s *Service) GenerateTemplate(importType ImportType) (string, error) {
	return GenerateTemplate(importType)
}

// QueueStatus reports how many imports are running.
func (s *Service) QueueStatus() LimiterStatus {
	return s.limiter.Status()
}

// CreateJob parses an upload and stores a pending job carrying the parsed
// payload. A file that cannot be parsed returns a *ParseError and no job.
func (s *Service) CreateJob(ctx context.Context, r io.Reader, fileName string, importType ImportType) (*ImportJob, *ParsedPreview, error) {
	preview, table, err := parseUpload(r, fileName, importType, s.cfg.Parse)
	if err != nil {
		return nil, nil, err
	}

	data := &ImportedData{
		Headers:   preview.Headers,
		Sample:    preview.Rows,
		TotalRows: preview.TotalRows,
		Mapping:   preview.MappingSuggestions,
		Rows:      table.Rows,
		Lines:     table.Lines,
	}
	job := NewImportJob(fileName, importType, ActorFromContext(ctx), data, s.now())

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create import job: %w", err)
	}

	logging.WithFields(ctx, "job_id", job.ID, "import_type", importType).Info("import job created",
		"file", fileName,
		"total_rows", job.TotalRows,
		"actor", job.ActorID,
	)
	return job, preview, nil
}

// GetJob returns a job by ID.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	return s.store.GetJob(ctx, id)
}

// UpdateMapping replaces the confirmed column mapping of a pending job.
// Every mapped header must exist in the uploaded file.
func (s *Service) UpdateMapping(ctx context.Context, id uuid.UUID, mapping Mapping) (*ImportJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != JobPending {
		return nil, fmt.Errorf("%w: mapping is fixed once a job is %s", ErrInvalidTransition, job.Status)
	}
	if job.ImportedData == nil {
		return nil, &JobSetupError{Reason: "missing import payload"}
	}
	def, ok := Get(job.ImportType)
	if !ok {
		return nil, unknownImportType(string(job.ImportType))
	}

	known := make(map[Field]bool, len(def.Fields))
	for _, f := range def.Fields {
		known[f.Field] = true
	}
	headers := make(map[string]bool, len(job.ImportedData.Headers))
	for _, h := range job.ImportedData.Headers {
		headers[h] = true
	}

	clean := make(Mapping, len(def.Fields))
	for _, f := range def.Fields {
		clean[f.Field] = ""
	}
	for f, h := range mapping {
		if !known[f] {
			return nil, &MappingError{
				Field:   f,
				Header:  h,
				Message: fmt.Sprintf("invalid enum: field %q is not used by %s imports", f, job.ImportType),
			}
		}
		if h != "" && !headers[h] {
			return nil, &MappingError{
				Field:   f,
				Header:  h,
				Message: fmt.Sprintf("column not found: %q", h),
			}
		}
		clean[f] = h
	}

	if err := s.store.UpdateJobMapping(ctx, id, clean); err != nil {
		return nil, err
	}
	job.ImportedData.Mapping = clean
	return job, nil
}

// ProcessImport runs a pending job synchronously and returns its final state.
func (s *Service) ProcessImport(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	job, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.release(id)

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if err := s.run(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// StartImport runs a pending job in the background. It returns once a run
// slot is held; poll GetJob for progress. Returns ErrTooManyImports when no
// slot frees up within the limiter's wait time.
func (s *Service) StartImport(ctx context.Context, id uuid.UUID) error {
	job, err := s.claim(ctx, id)
	if err != nil {
		return err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		s.release(id)
		return err
	}

	go func() {
		defer s.release(id)
		defer s.limiter.Release()

		runCtx, cancel := context.WithTimeout(s.runCtx, s.cfg.ImportTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import",
					"job_id", id,
					"import_type", job.ImportType,
					"panic", r,
				)
				s.markFailed(id, fmt.Sprintf("internal error: %v", r))
			}
		}()

		if err := s.run(runCtx, job); err != nil {
			slog.Error("import run failed", "job_id", id, "error", err)
		}
	}()

	return nil
}

// claim loads a pending job and marks it as running in this process.
func (s *Service) claim(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != JobPending {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return nil, ErrAlreadyRunning
	}
	s.running[id] = struct{}{}
	return job, nil
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, job *ImportJob) error {
	repo, err := s.store.OpenRepository(ctx)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	return s.processor.Process(ctx, repo, job)
}

// markFailed records a crash of a background run. A job that already
// reached a terminal state keeps it.
func (s *Service) markFailed(id uuid.UUID, reason string) {
	now := s.now()
	jobErr := &JobError{Message: reason, Row: 0, Timestamp: now}
	if _, err := s.store.TerminateJob(context.Background(), id, JobFailed, jobErr, now); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return
		}
		slog.Error("persist job after panic", "job_id", id, "error", err)
	}
}

// CancelJob marks a pending or processing job cancelled. A running import
// is not interrupted; it finishes its rows and keeps the cancelled status.
// The status check and the write are one store operation, so a job that
// finishes concurrently is reported as ErrInvalidTransition and keeps its
// results.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	job, err := s.store.TerminateJob(ctx, id, JobCancelled, nil, s.now())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel import job: %w", err)
	}

	logging.WithFields(ctx, "job_id", id).Info("import job cancelled", "actor", ActorFromContext(ctx))
	return job, nil
}

// DeleteJob removes a job in a terminal state.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: cannot delete a %s job", ErrInvalidTransition, job.Status)
	}
	return s.store.DeleteJob(ctx, id)
}

// WaitForImports blocks until no background import is running or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Shutdown waits for running imports. If ctx ends first they are
// interrupted, which fails their jobs, and Shutdown returns ctx.Err().
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	s.cancelRuns()
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if drainErr := s.limiter.WaitForDrain(drainCtx); drainErr != nil {
		slog.Warn("imports still running after interrupt", "active", s.limiter.ActiveCount())
	}
	return err
}
