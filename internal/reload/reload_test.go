package reload_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/internal/reload"
)

// TestHelperProcess is the child the supervisor runs. It is not a real
// test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("BACKLOG_RELOAD_HELPER") != "1" {
		return
	}
	time.Sleep(time.Minute)
	os.Exit(0)
}

func TestSupervisor_RestartsOnChange(t *testing.T) {
	dir := t.TempDir()
	var starts atomic.Int32

	sup := reload.New(func() *exec.Cmd {
		starts.Add(1)
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "BACKLOG_RELOAD_HELPER=1")
		return cmd
	},
		reload.WithPaths(dir),
		reload.WithDebounce(20*time.Millisecond),
		reload.WithGracePeriod(time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return starts.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Ignored extensions. Source edits need a rebuild, so they do not
	// restart the same binary.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs.go"), []byte("package jobs\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), starts.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "schedules.yaml"), []byte("schedules: []\n"), 0o600))
	require.Eventually(t, func() bool { return starts.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestDefaultExtensions_ConfigOnly(t *testing.T) {
	require.ElementsMatch(t, []string{".yaml", ".yml", ".env"}, reload.DefaultExtensions)
}
