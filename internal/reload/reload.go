// Package reload restarts a child process when watched files change. The
// worker command uses it for --reload during development.
//
// The child is the same compiled binary, so only configuration changes
// take effect on restart. Go source edits need a rebuild and are not
// watched by default.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPaths sets the files and directories to watch. Directories are not
// watched recursively.
func WithPaths(paths ...string) Option {
	return func(s *Supervisor) { s.paths = paths }
}

// DefaultExtensions are the configuration file extensions watched when
// WithExtensions is not given.
var DefaultExtensions = []string{".yaml", ".yml", ".env"}

// WithExtensions sets which file extensions trigger a restart.
func WithExtensions(exts ...string) Option {
	return func(s *Supervisor) { s.exts = exts }
}

// WithDebounce sets how long events are collected before restarting.
func WithDebounce(d time.Duration) Option {
	return func(s *Supervisor) { s.debounce = d }
}

// WithGracePeriod sets how long a child may drain after an interrupt
// before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// Supervisor runs a command and restarts it on file changes.
type Supervisor struct {
	command  func() *exec.Cmd
	paths    []string
	exts     []string
	debounce time.Duration
	grace    time.Duration
	logger   *slog.Logger
}

// New creates a Supervisor. command is called for every (re)start and
// must return a fresh, unstarted *exec.Cmd.
func New(command func() *exec.Cmd, opts ...Option) *Supervisor {
	s := &Supervisor{
		command:  command,
		paths:    []string{"."},
		exts:     DefaultExtensions,
		debounce: 300 * time.Millisecond,
		grace:    30 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the child and restarts it after each change until ctx is
// done. A child that exits on its own is restarted on the next change.
func (s *Supervisor) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, p := range s.paths {
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	changes := make(chan string, 1)
	go s.watch(ctx, w, changes)

	for {
		cmd, exited, err := s.start()
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.stop(cmd, exited)
			return nil
		case name := <-changes:
			s.logger.Info("change detected, restarting", slog.String("file", name))
			s.stop(cmd, exited)
		case err := <-exited:
			attrs := []any{slog.Int("pid", cmd.Process.Pid)}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			s.logger.Warn("child exited, waiting for changes", attrs...)
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
			}
		}
	}
}

func (s *Supervisor) start() (*exec.Cmd, <-chan error, error) {
	cmd := s.command()
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start child: %w", err)
	}
	s.logger.Debug("child started", slog.Int("pid", cmd.Process.Pid))

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	return cmd, exited, nil
}

// stop interrupts the child and kills it after the grace period.
func (s *Supervisor) stop(cmd *exec.Cmd, exited <-chan error) {
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = cmd.Process.Kill()
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		s.logger.Warn("child did not exit in time, killing", slog.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-exited
	}
}

// watch forwards the last relevant file name once events have been
// quiet for the debounce period.
func (s *Supervisor) watch(ctx context.Context, w *fsnotify.Watcher, changes chan<- string) {
	var (
		timer  *time.Timer
		fire   <-chan time.Time
		latest string
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !s.relevant(ev) {
				continue
			}
			latest = ev.Name
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			select {
			case changes <- latest:
			default:
			}
		}
	}
}

func (s *Supervisor) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	ext := filepath.Ext(ev.Name)
	for _, want := range s.exts {
		if ext == want {
			return true
		}
	}
	return false
}
