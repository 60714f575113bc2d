package backlog

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("backlog: no store configured")
	ErrStoreClosed     = errors.New("backlog: store closed")
	ErrMigrationFailed = errors.New("backlog: migration failed")

	// Not found errors.
	ErrRequestNotFound = errors.New("backlog: request not found")
	ErrClaimNotFound   = errors.New("backlog: claim not found")
	ErrResultNotFound  = errors.New("backlog: result not found")

	// Registry errors.
	ErrUnknownJobType    = errors.New("backlog: unknown job type")
	ErrDuplicateJobType  = errors.New("backlog: duplicate job type")
	ErrInvalidDefinition = errors.New("backlog: invalid job definition")

	// Argument errors.
	ErrInvalidArgs     = errors.New("backlog: invalid job arguments")
	ErrInvalidSchedule = errors.New("backlog: invalid schedule")

	// State errors.
	ErrNotRequeueable = errors.New("backlog: result cannot be requeued")
)
