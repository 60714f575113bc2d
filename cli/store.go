package cli

import (
	"context"

	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store"
)

// openStore connects the configured driver and checks connectivity.
func (a *App) openStore(ctx context.Context) (job.Store, func(), error) {
	return store.Open(ctx, a.cfg.Driver, a.cfg.DatabaseURL, a.logger)
}
