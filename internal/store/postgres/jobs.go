package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/eventimport/internal/core"
)

const jobColumns = `id, file_name, import_type, status, actor_id,
	total_rows, successful_rows, failed_rows, results, errors, imported_data,
	created_at, updated_at, started_at, completed_at`

func createJob(ctx context.Context, q querier, job *core.ImportJob) error {
	results, jobErrors, err := marshalOutcome(job)
	if err != nil {
		return err
	}
	var data []byte
	if job.ImportedData != nil {
		if data, err = json.Marshal(job.ImportedData); err != nil {
			return fmt.Errorf("encode imported data: %w", err)
		}
	}

	_, err = q.Exec(ctx, `INSERT INTO import_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.FileName, string(job.ImportType), string(job.Status), job.ActorID,
		job.TotalRows, job.SuccessfulRows, job.FailedRows, results, jobErrors, data,
		job.CreatedAt, job.UpdatedAt, toPgTimestamptz(job.StartedAt), toPgTimestamptz(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

// getJob loads one job. forUpdate locks the row until the enclosing
// transaction ends, so a concurrent cancel cannot slip between read and write.
func getJob(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*core.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		job                    core.ImportJob
		importType, status     string
		results, errs, data    []byte
		startedAt, completedAt pgtype.Timestamptz
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.FileName, &importType, &status, &job.ActorID,
		&job.TotalRows, &job.SuccessfulRows, &job.FailedRows, &results, &errs, &data,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	)
	if isNoRows(err) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}

	job.ImportType = core.ImportType(importType)
	job.Status = core.JobStatus(status)
	job.StartedAt = fromPgTimestamptz(startedAt)
	job.CompletedAt = fromPgTimestamptz(completedAt)

	if err := json.Unmarshal(results, &job.Results); err != nil {
		return nil, fmt.Errorf("decode job results: %w", err)
	}
	if err := json.Unmarshal(errs, &job.Errors); err != nil {
		return nil, fmt.Errorf("decode job errors: %w", err)
	}
	if len(data) > 0 {
		job.ImportedData = &core.ImportedData{}
		if err := json.Unmarshal(data, job.ImportedData); err != nil {
			return nil, fmt.Errorf("decode imported data: %w", err)
		}
	}
	if job.Results == nil {
		job.Results = make(map[string][]string)
	}
	return &job, nil
}

// updateJob writes status, counters and outcomes. imported_data is never
// rewritten here.
func updateJob(ctx context.Context, q querier, job *core.ImportJob) error {
	results, jobErrors, err := marshalOutcome(job)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `UPDATE import_jobs SET
			status = $2, total_rows = $3, successful_rows = $4, failed_rows = $5,
			results = $6, errors = $7, updated_at = $8, started_at = $9, completed_at = $10
		WHERE id = $1`,
		job.ID, string(job.Status), job.TotalRows, job.SuccessfulRows, job.FailedRows,
		results, jobErrors, job.UpdatedAt, toPgTimestamptz(job.StartedAt), toPgTimestamptz(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func updateJobMapping(ctx context.Context, q querier, id uuid.UUID, mapping core.Mapping) error {
	encoded, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	tag, err := q.Exec(ctx, `UPDATE import_jobs
		SET imported_data = jsonb_set(COALESCE(imported_data, '{}'::jsonb), '{mapping}', $2::jsonb),
			updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, encoded, string(core.JobPending),
	)
	if err != nil {
		return fmt.Errorf("update job mapping: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	job, err := getJob(ctx, q, id, false)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
}

// terminateJob is a single conditional UPDATE. When the processor holds the
// row lock the statement waits for it and then re-checks the status, so a
// job that completed in the meantime is not overwritten. Counters and
// results are never touched.
func terminateJob(ctx context.Context, q querier, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	appended := []byte("[]")
	if jobErr != nil {
		b, err := json.Marshal([]core.JobError{*jobErr})
		if err != nil {
			return nil, fmt.Errorf("encode job error: %w", err)
		}
		appended = b
	}

	tag, err := q.Exec(ctx, `UPDATE import_jobs SET
			status = $2, updated_at = $3, completed_at = COALESCE(completed_at, $3),
			errors = errors || $4::jsonb
		WHERE id = $1 AND status IN ($5, $6)`,
		id, string(status), at, appended, string(core.JobPending), string(core.JobProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("terminate import job: %w", err)
	}

	job, err := getJob(ctx, q, id, false)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
	}
	return job, nil
}

func deleteJob(ctx context.Context, q querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func deleteTerminalJobsBefore(ctx context.Context, q querier, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM import_jobs
		WHERE status IN ($1, $2, $3) AND updated_at < $4`,
		string(core.JobCompleted), string(core.JobFailed), string(core.JobCancelled), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete finished import jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalOutcome(job *core.ImportJob) (results, jobErrors []byte, err error) {
	r := job.Results
	if r == nil {
		r = map[string][]string{}
	}
	if results, err = json.Marshal(r); err != nil {
		return nil, nil, fmt.Errorf("encode job results: %w", err)
	}
	e := job.Errors
	if e == nil {
		e = []core.JobError{}
	}
	if jobErrors, err = json.Marshal(e); err != nil {
		return nil, nil, fmt.Errorf("encode job errors: %w", err)
	}
	return results, jobErrors, nil
}
