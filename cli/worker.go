package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/backlog"
	audithook "github.com/xraph/backlog/audit_hook"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/internal/reload"
	"github.com/xraph/backlog/internal/telemetry"
	"github.com/xraph/backlog/worker"
)

// reloadChildEnv marks a worker started by the --reload supervisor.
const reloadChildEnv = "BACKLOG_RELOAD_CHILD"

func (a *App) workerCommand() *cobra.Command {
	var (
		queues     []string
		maxProcs   int
		watch      bool
		statsEvery int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim and execute jobs until interrupted",
		Long: `Runs the worker pool, the cron scheduler and the lost-job reaper.

SIGINT or SIGTERM stops claiming and drains in-flight jobs for up to
BACKLOG_SHUTDOWN_TIMEOUT. Pass --queue '*' to poll every queue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch && os.Getenv(reloadChildEnv) == "" {
				return a.supervise(ctx)
			}

			cfg := a.cfg.Backlog()
			if cmd.Flags().Changed("queue") {
				cfg.Queues = queues
				if len(queues) == 1 && queues[0] == "*" {
					cfg.Queues = nil
				}
			}
			if cmd.Flags().Changed("max-processes") {
				cfg.Concurrency = maxProcs
			}
			return a.runWorker(ctx, cfg, time.Duration(statsEvery)*time.Second)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&queues, "queue", nil, "queue to poll, repeatable (default BACKLOG_QUEUES)")
	f.IntVar(&maxProcs, "max-processes", 0, "jobs executed in parallel (default BACKLOG_MAX_PROCESSES)")
	f.BoolVar(&watch, "reload", false, "restart the worker when config files (.yaml, .yml, .env) change")
	f.IntVar(&statsEvery, "stats-every", 0, "log throughput every n seconds (0 disables)")
	return cmd
}

func (a *App) runWorker(ctx context.Context, cfg backlog.Config, statsEvery time.Duration) error {
	tp, shutdownTracing, err := telemetry.Setup(ctx, a.cfg.Otel, a.logger)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown", slog.String("error", err.Error()))
		}
	}()

	file, err := a.staticConfig()
	if err != nil {
		return err
	}
	entries, err := file.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := a.registry.Lookup(e.JobType); err != nil {
			return fmt.Errorf("static schedule: %w", err)
		}
	}

	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	exts := slices.Clone(a.extensions)
	if a.cfg.AuditLog {
		exts = append(exts, audithook.New(audithook.SlogRecorder(a.logger.With(slog.String("component", "audit")))))
	}

	eng, err := engine.New(store,
		engine.WithConfig(cfg),
		engine.WithLogger(a.logger),
		engine.WithRegistry(a.registry),
		engine.WithExtension(exts...),
		engine.WithMiddleware(a.middleware...),
		engine.WithQueueConfig(file.QueueConfigs()...),
		engine.WithStaticSchedules(entries...),
		engine.WithTracerProvider(tp),
	)
	if err != nil {
		return err
	}
	if len(a.registry.Names()) == 0 {
		a.logger.Warn("no job types registered; claimed jobs will fail")
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if statsEvery > 0 {
		g.Go(func() error {
			a.reportStats(gctx, eng.Pool(), statsEvery)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down, draining in-flight jobs",
			slog.Duration("timeout", cfg.ShutdownTimeout),
		)
		return eng.Stop(context.Background())
	})
	return g.Wait()
}

// reportStats logs pool counters accumulated since the previous report.
func (a *App) reportStats(ctx context.Context, pool *worker.Pool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	prev := pool.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := pool.Stats()
			done := (cur.Succeeded + cur.Retried + cur.Failed + cur.Lost) -
				(prev.Succeeded + prev.Retried + prev.Failed + prev.Lost)
			a.logger.Info("throughput",
				slog.Int64("claimed", cur.Claimed-prev.Claimed),
				slog.Int64("succeeded", cur.Succeeded-prev.Succeeded),
				slog.Int64("retried", cur.Retried-prev.Retried),
				slog.Int64("failed", cur.Failed-prev.Failed),
				slog.Int64("lost", cur.Lost-prev.Lost),
				slog.Int64("errors", cur.Errors-prev.Errors),
				slog.Float64("jobs_per_sec", float64(done)/every.Seconds()),
			)
			prev = cur
		}
	}
}

// supervise re-runs this command as a child and restarts it on changes.
func (a *App) supervise(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	paths := []string{"."}
	if a.cfg.File != "" {
		if dir := filepath.Dir(a.cfg.File); dir != "." {
			paths = append(paths, dir)
		}
	}

	args := os.Args[1:]
	sup := reload.New(func() *exec.Cmd {
		c := exec.Command(exe, args...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		c.Env = append(os.Environ(), reloadChildEnv+"=1")
		return c
	},
		reload.WithPaths(paths...),
		reload.WithGracePeriod(a.cfg.ShutdownTimeout+5*time.Second),
		reload.WithLogger(a.logger.With(slog.String("component", "reload"))),
	)
	a.logger.Info("watching for changes", slog.Any("paths", paths))
	return sup.Run(ctx)
}
