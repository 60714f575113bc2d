package bunstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// errDenied rolls back an admission transaction without surfacing.
var errDenied = errors.New("admission denied")

// EnqueueRequest inserts r. Keyed requests are admitted under a
// transaction-scoped advisory lock on the key.
func (s *Store) EnqueueRequest(ctx context.Context, r *job.Request, admit job.AdmitFunc) (bool, error) {
	if r.ConcurrencyKey == "" || admit == nil {
		if err := insertRequest(ctx, s.db, r); err != nil {
			return false, err
		}
		return true, nil
	}

	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext(?))`, "backlog|"+r.ConcurrencyKey); err != nil {
			return fmt.Errorf("backlog/bun: lock key: %w", err)
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

func keyState(ctx context.Context, db bun.IDB, key string) (job.KeyState, error) {
	var st job.KeyState
	counts := []struct {
		dst   *int
		query *bun.SelectQuery
	}{
		{&st.Pending, db.NewSelect().Model((*requestModel)(nil)).
			Where("concurrency_key = ?", key).Where("status = ?", job.StatusPending)},
		{&st.Claimed, db.NewSelect().Model((*requestModel)(nil)).
			Where("concurrency_key = ?", key).Where("status = ?", job.StatusClaimed)},
		{&st.Finished, db.NewSelect().Model((*resultModel)(nil)).
			Where("concurrency_key = ?", key)},
	}
	for _, c := range counts {
		n, err := c.query.Count(ctx)
		if err != nil {
			return st, fmt.Errorf("backlog/bun: key state: %w", err)
		}
		*c.dst = n
	}
	return st, nil
}

func insertRequest(ctx context.Context, db bun.IDB, r *job.Request) error {
	m := toRequestModel(r)
	_, err := db.NewInsert().Model(m).Returning("seq").Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("backlog/bun: insert request %s: duplicate id: %w", r.ID, err)
		}
		return fmt.Errorf("backlog/bun: insert request: %w", err)
	}
	r.Seq = m.Seq
	return nil
}

// PollRequests returns due pending requests in dequeue order.
func (s *Store) PollRequests(ctx context.Context, queues []string, now time.Time, limit int) ([]*job.Request, error) {
	var models []requestModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", job.StatusPending).
		Where("scheduled_for <= ?", now)
	if len(queues) > 0 {
		q = q.Where("queue IN (?)", bun.In(queues))
	}
	q = q.OrderExpr("priority DESC, scheduled_for ASC, seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("backlog/bun: poll requests: %w", err)
	}
	return fromRequestModels(models)
}

// ClaimRequest moves a pending request to claimed with one conditional
// UPDATE. No returned row means another worker won.
func (s *Store) ClaimRequest(ctx context.Context, requestID id.RequestID, workerID id.WorkerID, now time.Time) (*job.Claim, error) {
	m := new(requestModel)
	err := s.db.NewRaw(`
		UPDATE backlog_requests
		SET status = 'claimed', worker_id = ?, claimed_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING *`,
		workerID.String(), now, requestID.String(),
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // lost the race
		}
		return nil, fmt.Errorf("backlog/bun: claim request: %w", err)
	}
	c, err := fromClaimModel(m)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: %w", err)
	}
	return c, nil
}

// FinishClaim deletes the claim and inserts res in one transaction.
func (s *Store) FinishClaim(ctx context.Context, claimID id.RequestID, res *job.Result) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := releaseClaim(ctx, tx, claimID, res.WorkerID); err != nil {
			return err
		}
		return insertResult(ctx, tx, res)
	})
}

// RetryClaim deletes the claim, inserts next and inserts res in one
// transaction.
func (s *Store) RetryClaim(ctx context.Context, claimID id.RequestID, next *job.Request, res *job.Result) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := releaseClaim(ctx, tx, claimID, res.WorkerID); err != nil {
			return err
		}
		if err := insertRequest(ctx, tx, next); err != nil {
			return err
		}
		return insertResult(ctx, tx, res)
	})
}

func releaseClaim(ctx context.Context, db bun.IDB, claimID id.RequestID, workerID id.WorkerID) error {
	res, err := db.NewDelete().Model((*requestModel)(nil)).
		Where("id = ?", claimID.String()).
		Where("status = ?", job.StatusClaimed).
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("backlog/bun: release claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("backlog/bun: release claim: %w", err)
	}
	if n == 0 {
		return backlog.ErrClaimNotFound
	}
	return nil
}

// ListExpiredClaims returns claims taken before claimedBefore, oldest
// first.
func (s *Store) ListExpiredClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]*job.Claim, error) {
	var models []requestModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", job.StatusClaimed).
		Where("claimed_at < ?", claimedBefore).
		Order("claimed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("backlog/bun: list expired claims: %w", err)
	}

	out := make([]*job.Claim, 0, len(models))
	for i := range models {
		c, err := fromClaimModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("backlog/bun: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// MarkLost deletes a claim that is still expired and inserts res.
func (s *Store) MarkLost(ctx context.Context, claimID id.RequestID, claimedBefore time.Time, res *job.Result) (bool, error) {
	var lost bool
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		r, err := tx.NewDelete().Model((*requestModel)(nil)).
			Where("id = ?", claimID.String()).
			Where("status = ?", job.StatusClaimed).
			Where("claimed_at < ?", claimedBefore).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("backlog/bun: delete lost claim: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("backlog/bun: delete lost claim: %w", err)
		}
		if n == 0 {
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
	m := new(requestModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", requestID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrRequestNotFound
		}
		return nil, fmt.Errorf("backlog/bun: get request: %w", err)
	}
	r, err := fromRequestModel(m)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: %w", err)
	}
	return r, nil
}

// ListRequests returns requests in dequeue order.
func (s *Store) ListRequests(ctx context.Context, opts job.RequestListOpts) ([]*job.Request, error) {
	var models []requestModel
	q := filter(s.db.NewSelect().Model(&models), opts.Queue, opts.JobType, string(opts.Status)).
		OrderExpr("priority DESC, seq ASC")
	if err := paginate(q, opts.ListOpts).Scan(ctx); err != nil {
		return nil, fmt.Errorf("backlog/bun: list requests: %w", err)
	}
	return fromRequestModels(models)
}

// CountRequests counts requests by queue and status.
func (s *Store) CountRequests(ctx context.Context, opts job.CountOpts) (int64, error) {
	n, err := filter(s.db.NewSelect().Model((*requestModel)(nil)), opts.Queue, "", opts.Status).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: count requests: %w", err)
	}
	return int64(n), nil
}

func fromRequestModels(models []requestModel) ([]*job.Request, error) {
	out := make([]*job.Request, 0, len(models))
	for i := range models {
		r, err := fromRequestModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("backlog/bun: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
