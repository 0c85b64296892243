package core

// processor.go runs an import job.
//
// The job moves pending -> processing -> {completed | failed}. Each row runs
// in its own transaction: a failing row is rolled back and recorded in the
// job's error list without touching rows committed before it. Every
// batchSize rows the run checkpoints: the identity map and the repository's
// caches are cleared and progress is persisted.
//
// Rows are processed strictly in file order on one goroutine; the first row
// that names an entity creates it and later rows reuse it.
//
// Cancellation by an operator is not polled between rows. A job cancelled
// mid-run keeps processing; its status stays cancelled when persisted.
// Cancelling ctx (process shutdown) stops the run before the next row and
// fails the job.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/eventimport/internal/logging"
)

// DefaultBatchSize is the number of rows between checkpoints.
const DefaultBatchSize = 50

// Processor executes import jobs against a Repository.
type Processor struct {
	hasher    CredentialHasher
	slugs     SlugGenerator
	secrets   SecretGenerator
	batchSize int
	now       func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBatchSize sets the checkpoint interval. Values <= 0 keep the default.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor.
func NewProcessor(hasher CredentialHasher, slugs SlugGenerator, secrets SecretGenerator, opts ...ProcessorOption) *Processor {
	p := &Processor{
		hasher:    hasher,
		slugs:     slugs,
		secrets:   secrets,
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// importRun is the state of one Process call.
type importRun struct {
	p      *Processor
	repo   Repository
	job    *ImportJob
	ids    *identityMap
	res    *resolver
	logger *slog.Logger
}

// Process runs job to completion, persisting its state through repo.
//
// Row failures and setup failures are recorded on the job and do not make
// Process return an error. An error is returned when the job is not pending,
// when the job state cannot be persisted, when the repository cannot be
// reconnected, or when ctx is cancelled mid-run.
func (p *Processor) Process(ctx context.Context, repo Repository, job *ImportJob) error {
	if job.Status != JobPending {
		return fmt.Errorf("%w: cannot process job in status %s", ErrInvalidTransition, job.Status)
	}

	run := &importRun{
		p:      p,
		repo:   repo,
		job:    job,
		ids:    newIdentityMap(),
		logger: logging.WithFields(ctx, "job_id", job.ID, "import_type", job.ImportType),
	}
	run.res = &resolver{
		repo:    repo,
		ids:     run.ids,
		hasher:  p.hasher,
		slugs:   p.slugs,
		secrets: p.secrets,
	}

	started := p.now()
	job.Status = JobProcessing
	job.StartedAt = &started
	if err := run.persist(ctx); err != nil {
		return fmt.Errorf("start import: %w", err)
	}
	if job.Status == JobCancelled {
		run.logger.Info("import cancelled before start")
		return nil
	}
	run.logger.Info("import started", "file", job.FileName, "total_rows", job.TotalRows)

	def, err := run.setup()
	if err != nil {
		run.logger.Warn("import setup failed", "error", err)
		return run.fail(ctx, err, false)
	}

	return run.execute(ctx, def)
}

// setup validates the replay payload before any row is touched.
func (run *importRun) setup() (ImportDefinition, error) {
	data := run.job.ImportedData
	if data == nil {
		return ImportDefinition{}, &JobSetupError{Reason: "missing import payload"}
	}
	def, ok := Get(run.job.ImportType)
	if !ok || def.strategy == nil {
		return ImportDefinition{}, &JobSetupError{
			Reason: "no strategy for import type",
			Err:    unknownImportType(string(run.job.ImportType)),
		}
	}
	if len(data.Headers) == 0 {
		return ImportDefinition{}, &JobSetupError{Reason: "import payload has no header row"}
	}
	run.job.TotalRows = len(data.Rows)
	return def, nil
}

func (run *importRun) execute(ctx context.Context, def ImportDefinition) error {
	data := run.job.ImportedData
	start := time.Now()

	for i, cells := range data.Rows {
		if err := ctx.Err(); err != nil {
			run.logger.Warn("import interrupted", "rows_processed", i)
			return run.fail(ctx, fmt.Errorf("import interrupted after %d of %d rows: %w", i, len(data.Rows), err), true)
		}
		if err := run.ensureHealthy(ctx); err != nil {
			run.logger.Error("repository unavailable", "error", err)
			return run.fail(ctx, err, true)
		}

		rowNum := data.LineOf(i)
		result, rowErr := run.processRow(ctx, def.strategy, NewRow(data.Headers, cells), data.Mapping, rowNum)
		if rowErr != nil {
			run.job.FailedRows++
			run.job.AddError(rowNum, rowErr.Err.Error(), run.p.now())
			run.logger.Debug("row failed", "row", rowNum, "error", rowErr.Err)

			var txErr *TransactionError
			if errors.As(rowErr.Err, &txErr) {
				if err := run.ensureHealthy(ctx); err != nil {
					run.logger.Error("repository unavailable", "error", err)
					return run.fail(ctx, err, true)
				}
			}
		} else {
			run.job.SuccessfulRows++
			for _, o := range result.Outcomes {
				run.job.AddResult(o.Category, o.Message)
			}
		}

		if processed := i + 1; processed%run.p.batchSize == 0 && processed < len(data.Rows) {
			run.checkpoint(ctx, processed)
		}
	}

	completed := run.p.now()
	if run.job.Status != JobCancelled {
		run.job.Status = JobCompleted
	}
	run.job.CompletedAt = &completed
	if err := run.persist(ctx); err != nil {
		return fmt.Errorf("finalize import: %w", err)
	}

	run.logger.Info("import finished",
		"status", run.job.Status,
		"successful_rows", run.job.SuccessfulRows,
		"failed_rows", run.job.FailedRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// processRow runs one row in its own transaction.
func (run *importRun) processRow(ctx context.Context, strat strategy, row Row, m Mapping, rowNum int) (RowResult, *RowError) {
	if err := run.repo.Begin(ctx); err != nil {
		return RowResult{}, &RowError{Row: rowNum, Err: &TransactionError{Op: "begin", Err: err}}
	}

	result, err := strat(ctx, run.res, row, m)
	if err != nil {
		run.rollback(ctx, rowNum)
		return RowResult{}, &RowError{Row: rowNum, Err: err}
	}

	if err := run.repo.Commit(ctx); err != nil {
		run.rollback(ctx, rowNum)
		return RowResult{}, &RowError{Row: rowNum, Err: &TransactionError{Op: "commit", Err: err}}
	}
	run.ids.commit()
	return result, nil
}

func (run *importRun) rollback(ctx context.Context, rowNum int) {
	run.ids.discard()
	if err := run.repo.Rollback(ctx); err != nil {
		run.logger.Warn("row rollback failed", "row", rowNum, "error", err)
	}
}

// ensureHealthy reconnects the repository when it reports itself unusable.
func (run *importRun) ensureHealthy(ctx context.Context) error {
	if run.repo.Healthy(ctx) {
		return nil
	}

	run.logger.Warn("repository unhealthy, reconnecting")
	if err := run.repo.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect repository: %w", err)
	}
	run.ids.reset()
	run.logger.Info("repository reconnected")
	return nil
}

// checkpoint bounds memory on large files. It never touches committed rows.
func (run *importRun) checkpoint(ctx context.Context, processed int) {
	cached := run.ids.size()
	run.ids.reset()
	run.repo.Clear()

	if err := run.persist(ctx); err != nil {
		run.logger.Warn("checkpoint progress not saved", "rows_processed", processed, "error", err)
		return
	}
	run.logger.Debug("checkpoint",
		"rows_processed", processed,
		"entities_released", cached,
		"progress", run.job.Progress(),
	)
}

// fail marks the job failed with one job-level error and persists it.
// When propagate is set the cause is also returned to the caller.
func (run *importRun) fail(ctx context.Context, cause error, propagate bool) error {
	now := run.p.now()
	run.job.Status = JobFailed
	run.job.CompletedAt = &now
	run.job.AddError(0, cause.Error(), now)

	if err := run.persist(context.WithoutCancel(ctx)); err != nil {
		run.logger.Error("failed to persist job failure", "error", err)
		return errors.Join(cause, err)
	}
	if propagate {
		return cause
	}
	return nil
}

// persist writes the job in its own transaction. A cancellation recorded by
// another actor is kept rather than overwritten.
func (run *importRun) persist(ctx context.Context) error {
	run.job.UpdatedAt = run.p.now()

	if err := run.repo.Begin(ctx); err != nil {
		return &TransactionError{Op: "begin", Err: err}
	}

	current, err := run.repo.GetJob(ctx, run.job.ID)
	if err != nil {
		_ = run.repo.Rollback(ctx)
		return fmt.Errorf("load job: %w", err)
	}
	if current.Status == JobCancelled && run.job.Status != JobCancelled {
		run.logger.Info("job was cancelled while running")
		run.job.Status = JobCancelled
	}

	if err := run.repo.UpdateJob(ctx, run.job); err != nil {
		_ = run.repo.Rollback(ctx)
		return fmt.Errorf("update job: %w", err)
	}
	if err := run.repo.Commit(ctx); err != nil {
		return &TransactionError{Op: "commit", Err: err}
	}
	return nil
}
