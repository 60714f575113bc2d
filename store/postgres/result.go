package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

const resultColumns = `id, request_id, job_type, args, queue, priority, concurrency_key,
	attempt, retries, status, error, trace, worker_id, retried_request_id,
	started_at, ended_at, created_at`

func insertResult(ctx context.Context, q querier, res *job.Result) error {
	_, err := q.Exec(ctx, `
		INSERT INTO backlog_results (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		res.ID.String(), res.RequestID.String(), res.JobType, string(rawArgs(res.Args)),
		res.Queue, res.Priority, res.ConcurrencyKey,
		res.Attempt, res.Retries, string(res.Status), res.Error, res.Trace,
		nullID(res.WorkerID), nullID(res.RetriedRequestID),
		res.StartedAt, res.EndedAt, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: insert result: %w", err)
	}
	return nil
}

// PurgeResults deletes results created before the cutoff.
func (s *Store) PurgeResults(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_results WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("backlog/postgres: purge results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetResult returns one result.
func (s *Store) GetResult(ctx context.Context, resultID id.ResultID) (*job.Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM backlog_results WHERE id = $1`,
		resultID.String(),
	)
	res, err := scanResult(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrResultNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get result: %w", err)
	}
	return res, nil
}

// ListResults returns results newest first.
func (s *Store) ListResults(ctx context.Context, opts job.ResultListOpts) ([]*job.Result, error) {
	where, args := filters(opts.Queue, opts.JobType, string(opts.Status))
	query := `SELECT ` + resultColumns + ` FROM backlog_results` + where +
		` ORDER BY created_at DESC, id DESC`
	query, args = paginate(query, args, opts.ListOpts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list results: %w", err)
	}
	defer rows.Close()

	var out []*job.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("backlog/postgres: scan result row: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate result rows: %w", err)
	}
	return out, nil
}

// CountResults counts results by queue and status.
func (s *Store) CountResults(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := filters(opts.Queue, "", opts.Status)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backlog_results`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("backlog/postgres: count results: %w", err)
	}
	return n, nil
}

func scanResult(row pgx.Row) (*job.Result, error) {
	var (
		res                  job.Result
		resID, reqID, status string
		args                 []byte
		worker, retried      *string
	)
	err := row.Scan(
		&resID, &reqID, &res.JobType, &args, &res.Queue, &res.Priority, &res.ConcurrencyKey,
		&res.Attempt, &res.Retries, &status, &res.Error, &res.Trace, &worker, &retried,
		&res.StartedAt, &res.EndedAt, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if res.ID, err = id.ParseResultID(resID); err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse result id %q: %w", resID, err)
	}
	if res.RequestID, err = id.ParseRequestID(reqID); err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse request id %q: %w", reqID, err)
	}
	if res.WorkerID, err = parseNullID(worker, id.ParseWorkerID); err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse worker id: %w", err)
	}
	if res.RetriedRequestID, err = parseNullID(retried, id.ParseRequestID); err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse retried request id: %w", err)
	}
	res.Args = args
	res.Status = job.ResultStatus(status)
	if res.StartedAt != nil {
		t := res.StartedAt.UTC()
		res.StartedAt = &t
	}
	res.EndedAt = res.EndedAt.UTC()
	res.CreatedAt = res.CreatedAt.UTC()
	return &res, nil
}
