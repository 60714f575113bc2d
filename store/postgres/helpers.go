package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/backlog/id"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// nullID maps a nil ID to SQL NULL.
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

func rawArgs(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

func encodeTrace(tc map[string]string) ([]byte, error) {
	if len(tc) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("encode trace context: %w", err)
	}
	return b, nil
}

func decodeTrace(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var tc map[string]string
	if err := json.Unmarshal(b, &tc); err != nil {
		return nil, fmt.Errorf("decode trace context: %w", err)
	}
	return tc, nil
}
