package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

const requestColumns = `id, seq, job_type, args, queue, priority, concurrency_key,
	scheduled_for, retries, attempt, trace_context, status, created_at`

const claimColumns = requestColumns + `, worker_id, claimed_at`

// errDenied rolls back an admission transaction without surfacing.
var errDenied = errors.New("admission denied")

// EnqueueRequest inserts r. Keyed requests are admitted under a
// transaction-scoped advisory lock on the key.
func (s *Store) EnqueueRequest(ctx context.Context, r *job.Request, admit job.AdmitFunc) (bool, error) {
	if r.ConcurrencyKey == "" || admit == nil {
		if err := insertRequest(ctx, s.pool, r); err != nil {
			return false, err
		}
		return true, nil
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "backlog|"+r.ConcurrencyKey); err != nil {
			return fmt.Errorf("backlog/postgres: lock key: %w", err)
		}
		state, err := keyState(ctx, tx, r.ConcurrencyKey)
		if err != nil {
			return err
		}
		if !admit(ctx, r.ConcurrencyKey, state) {
			return errDenied
		}
		return insertRequest(ctx, tx, r)
	})
	if errors.Is(err, errDenied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func keyState(ctx context.Context, q querier, key string) (job.KeyState, error) {
	var st job.KeyState
	err := q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM backlog_requests WHERE concurrency_key = $1 AND status = 'pending'),
			(SELECT COUNT(*) FROM backlog_requests WHERE concurrency_key = $1 AND status = 'claimed'),
			(SELECT COUNT(*) FROM backlog_results WHERE concurrency_key = $1)`,
		key,
	).Scan(&st.Pending, &st.Claimed, &st.Finished)
	if err != nil {
		return st, fmt.Errorf("backlog/postgres: key state: %w", err)
	}
	return st, nil
}

func insertRequest(ctx context.Context, q querier, r *job.Request) error {
	trace, err := encodeTrace(r.TraceContext)
	if err != nil {
		return fmt.Errorf("backlog/postgres: %w", err)
	}
	status := r.Status
	if status == "" {
		status = job.StatusPending
	}

	err = q.QueryRow(ctx, `
		INSERT INTO backlog_requests (
			id, job_type, args, queue, priority, concurrency_key,
			scheduled_for, retries, attempt, trace_context, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`,
		r.ID.String(), r.JobType, string(rawArgs(r.Args)), r.Queue, r.Priority, r.ConcurrencyKey,
		r.ScheduledFor, r.Retries, r.Attempt, trace, string(status), r.CreatedAt,
	).Scan(&r.Seq)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("backlog/postgres: insert request %s: duplicate id: %w", r.ID, err)
		}
		return fmt.Errorf("backlog/postgres: insert request: %w", err)
	}
	return nil
}

// PollRequests returns due pending requests in dequeue order.
func (s *Store) PollRequests(ctx context.Context, queues []string, now time.Time, limit int) ([]*job.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM backlog_requests
		WHERE status = 'pending' AND scheduled_for <= $1`
	args := []any{now}
	if len(queues) > 0 {
		args = append(args, queues)
		query += fmt.Sprintf(" AND queue = ANY($%d)", len(args))
	}
	query += " ORDER BY priority DESC, scheduled_for ASC, seq ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: poll requests: %w", err)
	}
	return collectRequests(rows)
}

// ClaimRequest moves a pending request to claimed with one conditional
// UPDATE. Zero affected rows means another worker won.
func (s *Store) ClaimRequest(ctx context.Context, requestID id.RequestID, workerID id.WorkerID, now time.Time) (*job.Claim, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE backlog_requests
		SET status = 'claimed', worker_id = $2, claimed_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+claimColumns,
		requestID.String(), workerID.String(), now,
	)
	c, err := scanClaim(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // lost the race
		}
		return nil, fmt.Errorf("backlog/postgres: claim request: %w", err)
	}
	return c, nil
}

// FinishClaim deletes the claim and inserts res in one transaction.
func (s *Store) FinishClaim(ctx context.Context, claimID id.RequestID, res *job.Result) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := releaseClaim(ctx, tx, claimID, res.WorkerID); err != nil {
			return err
		}
		return insertResult(ctx, tx, res)
	})
}

// RetryClaim deletes the claim, inserts next and inserts res in one
// transaction.
func (s *Store) RetryClaim(ctx context.Context, claimID id.RequestID, next *job.Request, res *job.Result) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := releaseClaim(ctx, tx, claimID, res.WorkerID); err != nil {
			return err
		}
		if err := insertRequest(ctx, tx, next); err != nil {
			return err
		}
		return insertResult(ctx, tx, res)
	})
}

func releaseClaim(ctx context.Context, q querier, claimID id.RequestID, workerID id.WorkerID) error {
	tag, err := q.Exec(ctx, `
		DELETE FROM backlog_requests
		WHERE id = $1 AND status = 'claimed' AND worker_id = $2`,
		claimID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrClaimNotFound
	}
	return nil
}

// ListExpiredClaims returns claims taken before claimedBefore, oldest
// first.
func (s *Store) ListExpiredClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]*job.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM backlog_requests
		WHERE status = 'claimed' AND claimed_at < $1
		ORDER BY claimed_at ASC`
	args := []any{claimedBefore}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list expired claims: %w", err)
	}
	defer rows.Close()

	var out []*job.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("backlog/postgres: scan claim row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate claim rows: %w", err)
	}
	return out, nil
}

// MarkLost deletes a claim that is still expired and inserts res.
func (s *Store) MarkLost(ctx context.Context, claimID id.RequestID, claimedBefore time.Time, res *job.Result) (bool, error) {
	var lost bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM backlog_requests
			WHERE id = $1 AND status = 'claimed' AND claimed_at < $2`,
			claimID.String(), claimedBefore,
		)
		if err != nil {
			return fmt.Errorf("backlog/postgres: delete lost claim: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		lost = true
		return insertResult(ctx, tx, res)
	})
	if err != nil {
		return false, err
	}
	return lost, nil
}

// GetRequest returns a pending or claimed request.
func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (*job.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM backlog_requests WHERE id = $1`,
		requestID.String(),
	)
	r, err := scanRequest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrRequestNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get request: %w", err)
	}
	return r, nil
}

// ListRequests returns requests in dequeue order.
func (s *Store) ListRequests(ctx context.Context, opts job.RequestListOpts) ([]*job.Request, error) {
	where, args := filters(opts.Queue, opts.JobType, string(opts.Status))
	query := `SELECT ` + requestColumns + ` FROM backlog_requests` + where +
		` ORDER BY priority DESC, seq ASC`
	query, args = paginate(query, args, opts.ListOpts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list requests: %w", err)
	}
	return collectRequests(rows)
}

// CountRequests counts requests by queue and status.
func (s *Store) CountRequests(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := filters(opts.Queue, "", opts.Status)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backlog_requests`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("backlog/postgres: count requests: %w", err)
	}
	return n, nil
}

// filters builds a WHERE clause over the optional queue, job type and
// status columns.
func filters(queue, jobType, status string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("queue", queue)
	add("job_type", jobType)
	add("status", status)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func paginate(query string, args []any, opts job.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// ──────────────────────────────────────────────────
// Scanning
// ──────────────────────────────────────────────────

type requestRow struct {
	id, jobType, queue, key, status string
	args, trace                     []byte
}

func (rr *requestRow) targets(r *job.Request) []any {
	return []any{
		&rr.id, &r.Seq, &rr.jobType, &rr.args, &rr.queue, &r.Priority, &rr.key,
		&r.ScheduledFor, &r.Retries, &r.Attempt, &rr.trace, &rr.status, &r.CreatedAt,
	}
}

func (rr *requestRow) fill(r *job.Request) error {
	parsed, err := id.ParseRequestID(rr.id)
	if err != nil {
		return fmt.Errorf("backlog/postgres: parse request id %q: %w", rr.id, err)
	}
	tc, err := decodeTrace(rr.trace)
	if err != nil {
		return fmt.Errorf("backlog/postgres: %w", err)
	}
	r.ID = parsed
	r.JobType = rr.jobType
	r.Args = append([]byte(nil), rr.args...)
	r.Queue = rr.queue
	r.ConcurrencyKey = rr.key
	r.TraceContext = tc
	r.Status = job.RequestStatus(rr.status)
	r.ScheduledFor = r.ScheduledFor.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

func scanRequest(row pgx.Row) (*job.Request, error) {
	var (
		r  job.Request
		rr requestRow
	)
	if err := row.Scan(rr.targets(&r)...); err != nil {
		return nil, err
	}
	if err := rr.fill(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanClaim(row pgx.Row) (*job.Claim, error) {
	var (
		c         job.Claim
		rr        requestRow
		worker    *string
		claimedAt *time.Time
	)
	if err := row.Scan(append(rr.targets(&c.Request), &worker, &claimedAt)...); err != nil {
		return nil, err
	}
	if err := rr.fill(&c.Request); err != nil {
		return nil, err
	}
	wid, err := parseNullID(worker, id.ParseWorkerID)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse worker id: %w", err)
	}
	c.WorkerID = wid
	if claimedAt != nil {
		c.ClaimedAt = claimedAt.UTC()
	}
	return &c, nil
}

func collectRequests(rows pgx.Rows) ([]*job.Request, error) {
	defer rows.Close()

	var out []*job.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("backlog/postgres: scan request row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate request rows: %w", err)
	}
	return out, nil
}
