package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("ETDEMAND_DB=from-env.db\n"), 0644))

	var cli CLI
	parser, err := kong.New(&cli, kong.Name("etdemand"), kong.Exit(func(int) { t.Fatal("exit") }))
	require.NoError(t, err)
	kctx, err := parser.Parse(append([]string{"--env-file", env}, args...))
	require.NoError(t, err)
	return &cli, kctx
}

func TestPipelineFlags(t *testing.T) {
	t.Setenv("ETDEMAND_SOLVER", "")
	cli, kctx := parse(t, "pipeline", "--no-run", "--load-existing", "--solver", "/opt/mf6ag")

	assert.Equal(t, "pipeline", kctx.Command())
	assert.False(t, cli.Pipeline.Engine)
	assert.True(t, cli.Pipeline.LoadExisting)
	assert.Equal(t, "/opt/mf6ag", cli.Pipeline.Solver)
}

func TestPipelineRunsByDefault(t *testing.T) {
	cli, _ := parse(t, "pipeline")
	assert.True(t, cli.Pipeline.Engine)
	assert.False(t, cli.Pipeline.Narrate)
}

func TestHistoryDefaults(t *testing.T) {
	cli, kctx := parse(t, "history", "--model", "etdemand_well")
	assert.Equal(t, "history", kctx.Command())
	assert.Equal(t, 10, cli.History.Limit)
	assert.Equal(t, "etdemand_well", cli.History.Model)
}

func TestDBFlagOverridesEnv(t *testing.T) {
	cli, _ := parse(t, "--db", "runs.db", "build")
	assert.Equal(t, "runs.db", cli.DB)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger(true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1))

	log, err = newLogger(false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1))
}

func TestPruneDays(t *testing.T) {
	cli, kctx := parse(t, "prune", "--days", "30")
	assert.Equal(t, "prune", kctx.Command())
	assert.Equal(t, 30, cli.Prune.Days)
}
