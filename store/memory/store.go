// Package memory is an in-process job.Store for tests and development.
// Admission control is serialised by the store mutex, which gives the
// same guarantee the Postgres stores get from advisory locks, but only
// within one process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

var _ job.Store = (*Store)(nil)

// Store keeps requests and results in maps guarded by one mutex. Values
// are copied on the way in and out.
type Store struct {
	mu sync.RWMutex

	seq      int64
	requests map[string]*job.Request
	claims   map[string]*job.Claim
	results  map[string]*job.Result
	closed   bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		requests: make(map[string]*job.Request),
		claims:   make(map[string]*job.Claim),
		results:  make(map[string]*job.Result),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op.
func (m *Store) Migrate(context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return backlog.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail with ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Admission and claiming
// ──────────────────────────────────────────────────

// EnqueueRequest inserts r, consulting admit under the store lock when r
// carries a concurrency key.
func (m *Store) EnqueueRequest(ctx context.Context, r *job.Request, admit job.AdmitFunc) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, backlog.ErrStoreClosed
	}

	if r.ConcurrencyKey != "" && admit != nil {
		if !admit(ctx, r.ConcurrencyKey, m.keyStateLocked(r.ConcurrencyKey)) {
			return false, nil
		}
	}
	m.insertLocked(r)
	return true, nil
}

func (m *Store) keyStateLocked(key string) job.KeyState {
	var st job.KeyState
	for _, r := range m.requests {
		if r.ConcurrencyKey != key {
			continue
		}
		if r.Status == job.StatusClaimed {
			st.Claimed++
		} else {
			st.Pending++
		}
	}
	for _, res := range m.results {
		if res.ConcurrencyKey == key {
			st.Finished++
		}
	}
	return st
}

func (m *Store) insertLocked(r *job.Request) {
	m.seq++
	r.Seq = m.seq
	r.Status = job.StatusPending
	cp := *r
	m.requests[r.ID.String()] = &cp
}

// PollRequests returns due pending requests in dequeue order.
func (m *Store) PollRequests(_ context.Context, queues []string, now time.Time, limit int) ([]*job.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, backlog.ErrStoreClosed
	}

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	candidates := make([]*job.Request, 0)
	for _, r := range m.requests {
		if r.Status != job.StatusPending || r.ScheduledFor.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[r.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		return a.Seq < b.Seq
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*job.Request, len(candidates))
	for i, r := range candidates {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// ClaimRequest moves a pending request to claimed.
func (m *Store) ClaimRequest(_ context.Context, requestID id.RequestID, workerID id.WorkerID, now time.Time) (*job.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, backlog.ErrStoreClosed
	}

	r, ok := m.requests[requestID.String()]
	if !ok || r.Status != job.StatusPending {
		return nil, nil //nolint:nilnil // lost the race
	}
	r.Status = job.StatusClaimed
	c := &job.Claim{Request: *r, WorkerID: workerID, ClaimedAt: now}
	m.claims[r.ID.String()] = c

	cp := *c
	return &cp, nil
}

// FinishClaim deletes the claim and appends res.
func (m *Store) FinishClaim(_ context.Context, claimID id.RequestID, res *job.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return backlog.ErrStoreClosed
	}
	if !m.releaseLocked(claimID, res.WorkerID) {
		return backlog.ErrClaimNotFound
	}
	m.appendLocked(res)
	return nil
}

// RetryClaim deletes the claim, inserts next and appends res.
func (m *Store) RetryClaim(_ context.Context, claimID id.RequestID, next *job.Request, res *job.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return backlog.ErrStoreClosed
	}
	if !m.releaseLocked(claimID, res.WorkerID) {
		return backlog.ErrClaimNotFound
	}
	m.insertLocked(next)
	m.appendLocked(res)
	return nil
}

func (m *Store) releaseLocked(claimID id.RequestID, workerID id.WorkerID) bool {
	key := claimID.String()
	c, ok := m.claims[key]
	if !ok || c.WorkerID.String() != workerID.String() {
		return false
	}
	delete(m.requests, key)
	delete(m.claims, key)
	return true
}

func (m *Store) appendLocked(res *job.Result) {
	cp := *res
	m.results[res.ID.String()] = &cp
}

// ──────────────────────────────────────────────────
// Reaping
// ──────────────────────────────────────────────────

// ListExpiredClaims returns claims taken before claimedBefore, oldest first.
func (m *Store) ListExpiredClaims(_ context.Context, claimedBefore time.Time, limit int) ([]*job.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, backlog.ErrStoreClosed
	}

	var out []*job.Claim
	for _, c := range m.claims {
		if !c.ClaimedAt.Before(claimedBefore) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ClaimedAt.Before(out[k].ClaimedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkLost deletes a still-expired claim and appends res.
func (m *Store) MarkLost(_ context.Context, claimID id.RequestID, claimedBefore time.Time, res *job.Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, backlog.ErrStoreClosed
	}

	key := claimID.String()
	c, ok := m.claims[key]
	if !ok || !c.ClaimedAt.Before(claimedBefore) {
		return false, nil
	}
	delete(m.requests, key)
	delete(m.claims, key)
	m.appendLocked(res)
	return true, nil
}

// PurgeResults deletes results created before the cutoff.
func (m *Store) PurgeResults(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, backlog.ErrStoreClosed
	}

	var n int64
	for key, res := range m.results {
		if res.CreatedAt.Before(before) {
			delete(m.results, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// GetRequest returns a pending or claimed request.
func (m *Store) GetRequest(_ context.Context, requestID id.RequestID) (*job.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[requestID.String()]
	if !ok {
		return nil, backlog.ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRequests returns requests in dequeue order.
func (m *Store) ListRequests(_ context.Context, opts job.RequestListOpts) ([]*job.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Request, 0)
	for _, r := range m.requests {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !matches(opts.ListOpts, r.Queue, r.JobType) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].Seq < out[k].Seq
	})
	return paginate(out, opts.ListOpts), nil
}

// CountRequests counts requests by queue and status.
func (m *Store) CountRequests(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.requests {
		if (opts.Queue == "" || r.Queue == opts.Queue) && (opts.Status == "" || string(r.Status) == opts.Status) {
			n++
		}
	}
	return n, nil
}

// GetResult returns one result.
func (m *Store) GetResult(_ context.Context, resultID id.ResultID) (*job.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.results[resultID.String()]
	if !ok {
		return nil, backlog.ErrResultNotFound
	}
	cp := *res
	return &cp, nil
}

// ListResults returns results newest first.
func (m *Store) ListResults(_ context.Context, opts job.ResultListOpts) ([]*job.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Result, 0)
	for _, res := range m.results {
		if opts.Status != "" && res.Status != opts.Status {
			continue
		}
		if !matches(opts.ListOpts, res.Queue, res.JobType) {
			continue
		}
		cp := *res
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID.String() > out[k].ID.String()
	})
	return paginate(out, opts.ListOpts), nil
}

// CountResults counts results by queue and status.
func (m *Store) CountResults(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, res := range m.results {
		if (opts.Queue == "" || res.Queue == opts.Queue) && (opts.Status == "" || string(res.Status) == opts.Status) {
			n++
		}
	}
	return n, nil
}

func matches(opts job.ListOpts, queue, jobType string) bool {
	return (opts.Queue == "" || opts.Queue == queue) && (opts.JobType == "" || opts.JobType == jobType)
}

func paginate[T any](items []T, opts job.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
