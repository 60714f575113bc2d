package job

import (
	"context"
	"time"

	"github.com/xraph/backlog/id"
)

// ListOpts controls pagination and filtering for list queries.
type ListOpts struct {
	// Limit is the maximum number of rows to return. Zero means no limit.
	Limit int
	// Offset is the number of rows to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// JobType filters by job type. Empty means all types.
	JobType string
}

// RequestListOpts filters ListRequests.
type RequestListOpts struct {
	ListOpts
	// Status filters by request status. Empty means both.
	Status RequestStatus
}

// ResultListOpts filters ListResults. Results are returned newest first.
type ResultListOpts struct {
	ListOpts
	// Status filters by result status. Empty means all.
	Status ResultStatus
}

// CountOpts filters count queries. Status is compared against the request
// or result status depending on the query.
type CountOpts struct {
	Queue  string
	Status string
}

// Store is the persistence contract.
//
// Admission control requires EnqueueRequest to serialise the key-state
// check and the insert against every other writer for the same key. A
// store that performs them as separate steps reintroduces the race the
// concurrency key exists to prevent, so every implementation here holds a
// lock for the duration (a Postgres advisory lock or a mutex).
type Store interface {
	// EnqueueRequest inserts r. When r carries a concurrency key, admit is
	// consulted with the key's state under the key's lock; a false return
	// skips the insert and EnqueueRequest returns false with a nil error.
	EnqueueRequest(ctx context.Context, r *Request, admit AdmitFunc) (bool, error)

	// PollRequests returns pending requests due at now from the given
	// queues (all queues when empty), ordered by priority descending,
	// scheduled time ascending, then insertion order.
	PollRequests(ctx context.Context, queues []string, now time.Time, limit int) ([]*Request, error)

	// ClaimRequest atomically moves a pending request to claimed. It
	// returns nil, nil when another worker got there first.
	ClaimRequest(ctx context.Context, requestID id.RequestID, workerID id.WorkerID, now time.Time) (*Claim, error)

	// FinishClaim deletes the claim and records res in one transaction.
	// It returns ErrClaimNotFound when the claim is no longer held by
	// res.WorkerID.
	FinishClaim(ctx context.Context, claimID id.RequestID, res *Result) error

	// RetryClaim deletes the claim, inserts next and records res in one
	// transaction. next bypasses admission; it inherits the slot of the
	// claim it replaces.
	RetryClaim(ctx context.Context, claimID id.RequestID, next *Request, res *Result) error

	// ListExpiredClaims returns claims taken before claimedBefore, oldest
	// first.
	ListExpiredClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]*Claim, error)

	// MarkLost deletes an expired claim and records res. It reports false
	// when the claim was finished or already reaped in the meantime.
	MarkLost(ctx context.Context, claimID id.RequestID, claimedBefore time.Time, res *Result) (bool, error)

	// PurgeResults deletes results created before the cutoff.
	PurgeResults(ctx context.Context, before time.Time) (int64, error)

	GetRequest(ctx context.Context, requestID id.RequestID) (*Request, error)
	ListRequests(ctx context.Context, opts RequestListOpts) ([]*Request, error)
	CountRequests(ctx context.Context, opts CountOpts) (int64, error)

	GetResult(ctx context.Context, resultID id.ResultID) (*Result, error)
	ListResults(ctx context.Context, opts ResultListOpts) ([]*Result, error)
	CountResults(ctx context.Context, opts CountOpts) (int64, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
