// Package retry decides what happens to a job attempt that returned an
// error: queue another attempt, or record a final failure.
package retry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// Decision is the outcome of Policy.Decide.
type Decision struct {
	// Retry is true when another attempt should be queued.
	Retry bool
	// Delay is how long after the failure the next attempt becomes due.
	Delay time.Duration
}

// Policy turns a definition's retry settings into decisions.
type Policy struct {
	// Delay returns the wait before attempt+1. Nil means no wait.
	Delay func(attempt int) time.Duration
}

// ForDefinition returns the policy configured on def.
func ForDefinition(def job.Definition) Policy {
	return Policy{Delay: def.Policy().Delay}
}

// Decide reports whether attempt (1-based) of req should be retried
// after err. A request enqueued with Retries=n runs at most n+1 times.
// Errors marked Permanent are never retried.
func (p Policy) Decide(req *job.Request, attempt int, err error) Decision {
	if err == nil || IsPermanent(err) || attempt > req.Retries {
		return Decision{}
	}
	d := Decision{Retry: true}
	if p.Delay != nil {
		d.Delay = max(p.Delay(attempt), 0)
	}
	return d
}

// Next builds the request that replaces req for the following attempt.
// It keeps the concurrency key so the replacement occupies the same slot.
func Next(req *job.Request, d Decision, now time.Time) *job.Request {
	return &job.Request{
		ID:             id.NewRequestID(),
		JobType:        req.JobType,
		Args:           req.Args,
		Queue:          req.Queue,
		Priority:       req.Priority,
		ConcurrencyKey: req.ConcurrencyKey,
		ScheduledFor:   now.Add(d.Delay),
		Retries:        req.Retries,
		Attempt:        req.Attempt + 1,
		TraceContext:   req.TraceContext,
		Status:         job.StatusPending,
		CreatedAt:      now,
	}
}

// ──────────────────────────────────────────────────
// Permanent errors
// ──────────────────────────────────────────────────

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails immediately
// regardless of its remaining retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ──────────────────────────────────────────────────
// Failure traces
// ──────────────────────────────────────────────────

// Trace renders the diagnostic stored with a failed result. Errors that
// carry a stack (such as recovered panics) contribute it; otherwise the
// unwrap chain is listed one error per line.
func Trace(err error) string {
	if err == nil {
		return ""
	}
	var st interface{ StackTrace() string }
	if errors.As(err, &st) {
		return st.StackTrace()
	}

	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %s\n", strings.Repeat("  ", depth), err, err.Error())
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				fmt.Fprintf(&b, "%s%T: %s\n", strings.Repeat("  ", depth+1), inner, inner.Error())
			}
			err = nil
		default:
			err = errors.Unwrap(err)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
