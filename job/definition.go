package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/schedule"
)

// AdmitFunc decides whether a request carrying key may be inserted given
// the key's current state. It runs inside the store's admission
// transaction and must not call back into the store.
type AdmitFunc func(ctx context.Context, key string, state KeyState) bool

// AdmitIfIdle admits a request only when no pending or claimed request
// carries the key. It is the default admission predicate.
func AdmitIfIdle(_ context.Context, _ string, state KeyState) bool {
	return !state.Active()
}

// AdmitOnce additionally rejects keys that already have a result. The
// scheduler uses it so an instant fires at most once.
func AdmitOnce(_ context.Context, _ string, state KeyState) bool {
	return !state.Active() && state.Finished == 0
}

// Policy is the default enqueue and retry behaviour of a definition.
type Policy struct {
	// Queue is the default queue. Empty defers to the engine default.
	Queue string

	// Priority orders dequeue; higher runs first.
	Priority int

	// Retries is the number of retries after the first attempt.
	Retries int

	// ConcurrencyKey is a static default key. Definitions built with
	// KeyedBy derive the key from the arguments instead.
	ConcurrencyKey string

	// RetryDelay returns the delay before attempt+1 after attempt failed.
	// Nil means retry immediately.
	RetryDelay func(attempt int) time.Duration

	// ShouldEnqueue is the admission predicate for keyed requests. Nil
	// means AdmitIfIdle.
	ShouldEnqueue AdmitFunc

	// Schedule, when set, makes the scheduler enqueue the job on every
	// fire instant.
	Schedule *schedule.Schedule
}

// Delay returns RetryDelay(attempt), or zero if unset.
func (p Policy) Delay(attempt int) time.Duration {
	if p.RetryDelay == nil {
		return 0
	}
	if d := p.RetryDelay(attempt); d > 0 {
		return d
	}
	return 0
}

// Admit returns the effective admission predicate.
func (p Policy) Admit() AdmitFunc {
	if p.ShouldEnqueue == nil {
		return AdmitIfIdle
	}
	return p.ShouldEnqueue
}

// Definition is the type-erased form of a job the registry stores and
// workers execute.
type Definition interface {
	Name() string
	Policy() Policy

	// ConcurrencyKey derives the default key for the given arguments.
	ConcurrencyKey(args json.RawMessage) (string, error)

	// Run decodes args and invokes the handler.
	Run(ctx context.Context, args json.RawMessage) error
}

// TypedDefinition is a job whose arguments decode into T.
type TypedDefinition[T any] struct {
	name    string
	handler func(ctx context.Context, args T) error
	policy  Policy
	keyFn   func(T) string
}

var _ Definition = (*TypedDefinition[struct{}])(nil)

// NewDefinition creates a typed job definition. Arguments are
// JSON-serialised at enqueue and decoded into T before handler runs.
func NewDefinition[T any](name string, handler func(ctx context.Context, args T) error, opts ...Option) *TypedDefinition[T] {
	def := &TypedDefinition[T]{
		name:    name,
		handler: handler,
	}
	for _, opt := range opts {
		opt(&def.policy)
	}
	return def
}

// KeyedBy derives the concurrency key from the decoded arguments. It
// overrides any static WithConcurrencyKey.
func (d *TypedDefinition[T]) KeyedBy(fn func(args T) string) *TypedDefinition[T] {
	d.keyFn = fn
	return d
}

func (d *TypedDefinition[T]) Name() string   { return d.name }
func (d *TypedDefinition[T]) Policy() Policy { return d.policy }

func (d *TypedDefinition[T]) ConcurrencyKey(args json.RawMessage) (string, error) {
	if d.keyFn == nil {
		return d.policy.ConcurrencyKey, nil
	}
	v, err := d.decode(args)
	if err != nil {
		return "", err
	}
	return d.keyFn(v), nil
}

func (d *TypedDefinition[T]) Run(ctx context.Context, args json.RawMessage) error {
	v, err := d.decode(args)
	if err != nil {
		return err
	}
	return d.handler(ctx, v)
}

func (d *TypedDefinition[T]) decode(args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("%w: decode args for job %q: %w", backlog.ErrInvalidArgs, d.name, err)
	}
	return v, nil
}
