package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

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
	var data sql.NullString
	if job.ImportedData != nil {
		b, err := json.Marshal(job.ImportedData)
		if err != nil {
			return fmt.Errorf("encode imported data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	_, err = q.ExecContext(ctx, `INSERT INTO import_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FileName, string(job.ImportType), string(job.Status), job.ActorID,
		job.TotalRows, job.SuccessfulRows, job.FailedRows, results, jobErrors, data,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func getJob(ctx context.Context, q querier, id uuid.UUID) (*core.ImportJob, error) {
	var (
		job                    core.ImportJob
		importType, status     string
		results, errs          string
		data                   sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id).Scan(
		&job.ID, &job.FileName, &importType, &status, &job.ActorID,
		&job.TotalRows, &job.SuccessfulRows, &job.FailedRows, &results, &errs, &data,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}

	job.ImportType = core.ImportType(importType)
	job.Status = core.JobStatus(status)
	job.StartedAt = fromNullTime(startedAt)
	job.CompletedAt = fromNullTime(completedAt)

	if err := json.Unmarshal([]byte(results), &job.Results); err != nil {
		return nil, fmt.Errorf("decode job results: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &job.Errors); err != nil {
		return nil, fmt.Errorf("decode job errors: %w", err)
	}
	if data.Valid {
		job.ImportedData = &core.ImportedData{}
		if err := json.Unmarshal([]byte(data.String), job.ImportedData); err != nil {
			return nil, fmt.Errorf("decode imported data: %w", err)
		}
	}
	if job.Results == nil {
		job.Results = make(map[string][]string)
	}
	return &job, nil
}

func updateJob(ctx context.Context, q querier, job *core.ImportJob) error {
	results, jobErrors, err := marshalOutcome(job)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `UPDATE import_jobs SET
			status = ?, total_rows = ?, successful_rows = ?, failed_rows = ?,
			results = ?, errors = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), job.TotalRows, job.SuccessfulRows, job.FailedRows,
		results, jobErrors, job.UpdatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	return requireRow(res)
}

// updateJobMapping replaces the mapping inside the stored payload of a
// pending job.
func updateJobMapping(ctx context.Context, q querier, id uuid.UUID, mapping core.Mapping) error {
	job, err := getJob(ctx, q, id)
	if err != nil {
		return err
	}
	if job.Status != core.JobPending {
		return fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
	}

	data := core.ImportedData{}
	if job.ImportedData != nil {
		data = *job.ImportedData
	}
	data.Mapping = mapping
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode imported data: %w", err)
	}

	res, err := q.ExecContext(ctx,
		`UPDATE import_jobs SET imported_data = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(b), time.Now().UTC(), id, string(core.JobPending),
	)
	if err != nil {
		return fmt.Errorf("update job mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job is no longer pending", core.ErrInvalidTransition)
	}
	return nil
}

// terminateJob appends to the stored error list, so it reads before it
// writes; callers run it inside a transaction. The UPDATE only touches
// status, timestamps and errors.
func terminateJob(ctx context.Context, q querier, id uuid.UUID, status core.JobStatus, jobErr *core.JobError, at time.Time) (*core.ImportJob, error) {
	job, err := getJob(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if job.Status != core.JobPending && job.Status != core.JobProcessing {
		return nil, fmt.Errorf("%w: job is %s", core.ErrInvalidTransition, job.Status)
	}

	job.Status = status
	job.UpdatedAt = at
	if job.CompletedAt == nil {
		t := at
		job.CompletedAt = &t
	}
	if jobErr != nil {
		job.Errors = append(job.Errors, *jobErr)
	}
	_, jobErrors, err := marshalOutcome(job)
	if err != nil {
		return nil, err
	}

	res, err := q.ExecContext(ctx, `UPDATE import_jobs SET
			status = ?, updated_at = ?, completed_at = ?, errors = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(status), at.UTC(), nullTime(job.CompletedAt), jobErrors,
		id, string(core.JobPending), string(core.JobProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("terminate import job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: job is no longer running", core.ErrInvalidTransition)
	}
	return job, nil
}

func deleteJob(ctx context.Context, q querier, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM import_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete import job: %w", err)
	}
	return requireRow(res)
}

func deleteTerminalJobsBefore(ctx context.Context, q querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM import_jobs
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(core.JobCompleted), string(core.JobFailed), string(core.JobCancelled), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete finished import jobs: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func marshalOutcome(job *core.ImportJob) (results, jobErrors string, err error) {
	r := job.Results
	if r == nil {
		r = map[string][]string{}
	}
	rb, err := json.Marshal(r)
	if err != nil {
		return "", "", fmt.Errorf("encode job results: %w", err)
	}
	e := job.Errors
	if e == nil {
		e = []core.JobError{}
	}
	eb, err := json.Marshal(e)
	if err != nil {
		return "", "", fmt.Errorf("encode job errors: %w", err)
	}
	return string(rb), string(eb), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
