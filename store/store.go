package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/backlog/job"
	bunstore "github.com/xraph/backlog/store/bun"
	"github.com/xraph/backlog/store/postgres"
)

// Supported driver names.
const (
	DriverPgx = "pgx"
	DriverBun = "bun"
)

// Open connects a Postgres-backed store through the named driver and
// checks connectivity. The returned func releases the connection.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (job.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s       job.Store
		release func()
	)
	switch driver {
	case DriverBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db := bun.NewDB(sqldb, pgdialect.New())
		s = bunstore.New(db, bunstore.WithLogger(logger))
		release = func() { _ = db.Close() }
	case DriverPgx, "":
		ps, err := postgres.New(ctx, dsn, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s = ps
		release = func() { _ = ps.Close() }
	default:
		return nil, nil, fmt.Errorf("backlog/store: unknown driver %q", driver)
	}

	if err := s.Ping(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("backlog/store: store unreachable: %w", err)
	}
	return s, release, nil
}
