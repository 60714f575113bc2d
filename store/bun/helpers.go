package bunstore

import (
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

func nullID(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}

func parseNullID(s *string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == nil || *s == "" {
		return id.ID{}, nil
	}
	return parse(*s)
}

func rawArgs(b []byte) string {
	if len(b) == 0 {
		return "null"
	}
	return string(b)
}

// filter narrows q by the optional queue, job type and status columns.
func filter(q *bun.SelectQuery, queue, jobType, status string) *bun.SelectQuery {
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

func paginate(q *bun.SelectQuery, opts job.ListOpts) *bun.SelectQuery {
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}
