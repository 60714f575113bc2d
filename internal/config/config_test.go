package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/internal/config"
)

// unsetForTest clears key and restores its original state after the test.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Driver)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, []string{"default"}, cfg.Queues)
	assert.Equal(t, 30*24*time.Hour, cfg.ResultRetention)
	assert.False(t, cfg.Otel.Enabled())
	assert.False(t, cfg.AuditLog)

	bc := cfg.Backlog()
	assert.Equal(t, time.Hour, bc.ClaimTimeout)
	assert.Equal(t, 15*time.Second, bc.ScheduleInterval)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv("BACKLOG_MAX_PROCESSES", "3")
	unsetForTest(t, "BACKLOG_CLAIM_BATCH")
	unsetForTest(t, "BACKLOG_QUEUES")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"BACKLOG_MAX_PROCESSES=7\nBACKLOG_CLAIM_BATCH=9\nBACKLOG_QUEUES=mail,default\n",
	), 0o600))

	cfg, err := config.Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 9, cfg.ClaimBatch)
	assert.Equal(t, []string{"mail", "default"}, cfg.Queues)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("BACKLOG_DRIVER", "mysql")
	_, err := config.Load()
	assert.ErrorContains(t, err, "unknown driver")
}

func TestParseFile(t *testing.T) {
	f, err := config.ParseFile([]byte(`
schedules:
  - job_type: purge_sessions
    cron: "0 3 * * *"
    timezone: Europe/Berlin
    queue: maintenance
    args:
      older_than_days: 30
  - job_type: heartbeat
    cron: "@hourly"
queues:
  - name: mail
    max_concurrency: 4
    rate_limit: 20
    rate_burst: 5
`))
	require.NoError(t, err)

	entries, err := f.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "purge_sessions", entries[0].JobType)
	assert.Equal(t, "maintenance", entries[0].Queue)
	assert.JSONEq(t, `{"older_than_days":30}`, string(entries[0].Args))
	assert.Equal(t, "Europe/Berlin", entries[0].Schedule.Location().String())
	assert.Nil(t, entries[1].Args)

	queues := f.QueueConfigs()
	require.Len(t, queues, 1)
	assert.Equal(t, "mail", queues[0].Name)
	assert.Equal(t, 4, queues[0].MaxConcurrency)
	assert.InDelta(t, 20.0, queues[0].RateLimit, 0)
}

func TestParseFile_Empty(t *testing.T) {
	f, err := config.ParseFile(nil)
	require.NoError(t, err)
	entries, err := f.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseFile_UnknownKey(t *testing.T) {
	_, err := config.ParseFile([]byte("schedule: []\n"))
	assert.Error(t, err)
}

func TestEntries_InvalidCron(t *testing.T) {
	f, err := config.ParseFile([]byte("schedules:\n  - job_type: x\n    cron: \"61 * * * *\"\n"))
	require.NoError(t, err)
	_, err = f.Entries()
	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
