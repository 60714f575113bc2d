package cli_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/cli"
)

func TestCommand_Subcommands(t *testing.T) {
	cmd := cli.New(cli.WithEnvFiles()).Command()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"worker", "migrate", "stats", "requeue"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestWorker_Flags(t *testing.T) {
	cmd := cli.New(cli.WithEnvFiles()).Command()
	worker, _, err := cmd.Find([]string{"worker"})
	require.NoError(t, err)

	for _, flag := range []string{"queue", "max-processes", "reload", "stats-every"} {
		assert.NotNil(t, worker.Flags().Lookup(flag), "missing --%s", flag)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestRequeue_InvalidID(t *testing.T) {
	var out bytes.Buffer
	app := cli.New(cli.WithEnvFiles(), cli.WithOutput(&out))
	cmd := app.Command()
	cmd.SetArgs([]string{"requeue", "req_not-a-result"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid result id")
}

func TestMain_ExitCode(t *testing.T) {
	var out bytes.Buffer
	t.Setenv("BACKLOG_DRIVER", "sqlite")
	code := cli.Main(context.Background(), cli.WithEnvFiles(), cli.WithOutput(&out), cli.WithArgs("stats"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "unknown driver")
}
