// Package cli implements the backlog command line. Applications embed it
// in their own main package so the worker runs their job definitions:
//
//	func main() {
//	    reg := job.NewRegistry()
//	    reg.MustRegister(jobs.SendWelcome, jobs.PurgeSessions)
//	    os.Exit(cli.Main(context.Background(), cli.WithRegistry(reg)))
//	}
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/internal/config"
	"github.com/xraph/backlog/internal/logger"
	"github.com/xraph/backlog/job"
	mw "github.com/xraph/backlog/middleware"
)

// Option configures the command line.
type Option func(*App)

// WithRegistry sets the job definitions the worker runs and requeue
// accepts.
func WithRegistry(r *job.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithExtension registers lifecycle extensions on the worker's engine.
func WithExtension(exts ...ext.Extension) Option {
	return func(a *App) { a.extensions = append(a.extensions, exts...) }
}

// WithMiddleware adds execution middleware to the worker's engine.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(a *App) { a.middleware = append(a.middleware, mws...) }
}

// WithEnvFiles sets the .env files read before the environment. The
// default is ".env".
func WithEnvFiles(files ...string) Option {
	return func(a *App) { a.envFiles = files }
}

// WithArgs sets the arguments instead of os.Args[1:].
func WithArgs(args ...string) Option {
	return func(a *App) { a.args = args }
}

// WithOutput redirects command output and logs.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// App holds what the subcommands share.
type App struct {
	registry   *job.Registry
	extensions []ext.Extension
	middleware []mw.Middleware
	envFiles   []string
	out        io.Writer
	args       []string

	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates the App.
func New(opts ...Option) *App {
	a := &App{
		envFiles: []string{".env"},
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = job.NewRegistry()
	}
	return a
}

// Command builds the root cobra command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "backlog",
		Short:         "Postgres-backed background job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.out)
	root.PersistentFlags().StringVar(&a.configFile, "config", "",
		"YAML file with static schedules and queue limits (overrides BACKLOG_CONFIG)")

	root.AddCommand(
		a.workerCommand(),
		a.migrateCommand(),
		a.statsCommand(),
		a.requeueCommand(),
	)
	return root
}

func (a *App) load() error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	if a.configFile != "" {
		cfg.File = a.configFile
	}
	a.cfg = cfg
	a.logger = logger.New(a.out, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(a.logger)
	return nil
}

// staticConfig reads the YAML file named by --config or BACKLOG_CONFIG.
// It returns an empty File when neither is set.
func (a *App) staticConfig() (*config.File, error) {
	if a.cfg.File == "" {
		return &config.File{}, nil
	}
	return config.LoadFile(a.cfg.File)
}

// Main runs the command line and returns the process exit code.
func Main(ctx context.Context, opts ...Option) int {
	a := New(opts...)
	cmd := a.Command()
	if a.args != nil {
		cmd.SetArgs(a.args)
	}
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		}
		return 1
	}
	return 0
}
