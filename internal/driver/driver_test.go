package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lox/etdemand/internal/deck"
	"github.com/lox/etdemand/internal/failure"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine writes a shell script standing in for the coupling engine.
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

const writeOutputs = `
echo "running $ETDEMAND_MODEL ag=$ETDEMAND_AG_TYPE mvr=$ETDEMAND_MOVER"
: > "$ETDEMAND_MODEL.cbc"
: > "$ETDEMAND_MODEL.hds"
: > "${ETDEMAND_MODEL}_ag.out"
`

func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngine(t, writeOutputs)

	res, err := Run(context.Background(), dir, "toy", Options{
		Binary: bin, AgType: "etdemand", MoverName: "mvr", Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, res.Outputs, 3)

	out, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Equal(t, "running toy ag=etdemand mvr=mvr\n", string(out))
	assert.False(t, Invalid(dir))
}

func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngine(t, writeOutputs+"echo diverged >&2\nexit 3\n")

	res, err := Run(context.Background(), dir, "toy", Options{Binary: bin})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSimulation))
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), dir)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)

	out, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "diverged")
}

func TestRunMissingOutputs(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngine(t, `: > "$ETDEMAND_MODEL.hds"`+"\n")

	_, err := Run(context.Background(), dir, "toy", Options{Binary: bin})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSimulation))
	assert.Contains(t, err.Error(), "toy.cbc, toy_ag.out")
}

func TestRunTimeoutMarksInvalid(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngine(t, "sleep 30 &\nwait\n")

	start := time.Now()
	_, err := Run(context.Background(), dir, "toy", Options{Binary: bin, Timeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSimulation))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, Invalid(dir))

	marker, err := os.ReadFile(filepath.Join(dir, deck.InvalidMarker))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "deadline exceeded")
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngine(t, "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := Run(ctx, dir, "toy", Options{Binary: bin})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSimulation))
	assert.Contains(t, err.Error(), "context canceled")
	assert.True(t, Invalid(dir))
}

func TestRunMissingBinary(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), dir, "toy", Options{Binary: filepath.Join(dir, "nope", "libmf6")})
	assert.True(t, errors.Is(err, failure.ErrConfiguration), "got %v", err)

	_, err = Run(context.Background(), dir, "toy", Options{})
	assert.True(t, errors.Is(err, failure.ErrConfiguration), "got %v", err)
}
