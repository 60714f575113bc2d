package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

func insertResult(ctx context.Context, db bun.IDB, res *job.Result) error {
	if _, err := db.NewInsert().Model(toResultModel(res)).Exec(ctx); err != nil {
		return fmt.Errorf("backlog/bun: insert result: %w", err)
	}
	return nil
}

// PurgeResults deletes results created before the cutoff.
func (s *Store) PurgeResults(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().Model((*resultModel)(nil)).
		Where("created_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: purge results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: purge results: %w", err)
	}
	return n, nil
}

// GetResult returns one result.
func (s *Store) GetResult(ctx context.Context, resultID id.ResultID) (*job.Result, error) {
	m := new(resultModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", resultID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrResultNotFound
		}
		return nil, fmt.Errorf("backlog/bun: get result: %w", err)
	}
	res, err := fromResultModel(m)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: %w", err)
	}
	return res, nil
}

// ListResults returns results newest first.
func (s *Store) ListResults(ctx context.Context, opts job.ResultListOpts) ([]*job.Result, error) {
	var models []resultModel
	q := filter(s.db.NewSelect().Model(&models), opts.Queue, opts.JobType, string(opts.Status)).
		OrderExpr("created_at DESC, id DESC")
	if err := paginate(q, opts.ListOpts).Scan(ctx); err != nil {
		return nil, fmt.Errorf("backlog/bun: list results: %w", err)
	}

	out := make([]*job.Result, 0, len(models))
	for i := range models {
		res, err := fromResultModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("backlog/bun: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}

// CountResults counts results by queue and status.
func (s *Store) CountResults(ctx context.Context, opts job.CountOpts) (int64, error) {
	n, err := filter(s.db.NewSelect().Model((*resultModel)(nil)), opts.Queue, "", opts.Status).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: count results: %w", err)
	}
	return int64(n), nil
}
