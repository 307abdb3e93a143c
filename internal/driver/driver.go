// Package driver runs the coupling engine against a written model and checks
// that it left the expected outputs behind.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lox/etdemand/internal/deck"
	"github.com/lox/etdemand/internal/failure"
)

const stage = "run"

// Options configure one engine invocation. The engine receives the model
// name, coupling type and mover name through the environment:
// ETDEMAND_MODEL, ETDEMAND_AG_TYPE and ETDEMAND_MOVER.
type Options struct {
	Binary    string
	Args      []string
	AgType    string
	MoverName string
	// Timeout bounds the run; zero waits for as long as ctx allows.
	Timeout time.Duration
	Log     *zap.Logger
}

type Result struct {
	ExitCode int
	Duration time.Duration
	// LogPath holds the engine's combined stdout and stderr.
	LogPath string
	Outputs []string
}

// LogFile is the captured engine output for a model.
func LogFile(name string) string { return name + ".run.log" }

// Run executes the engine in dir and blocks until it exits, ctx is done or the
// timeout passes. An aborted run kills the engine's process group and marks
// the workspace invalid. Nothing is retried.
func Run(ctx context.Context, dir, name string, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("stage", stage), zap.String("workspace", dir))

	bin, err := resolve(opts.Binary)
	if err != nil {
		return nil, failure.New(failure.ErrConfiguration, stage, "engine binary: %v", err).In(dir)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logPath := filepath.Join(dir, LogFile(name))
	out, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	defer out.Close()

	cmd := exec.Command(bin, opts.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"ETDEMAND_MODEL="+name,
		"ETDEMAND_AG_TYPE="+opts.AgType,
		"ETDEMAND_MOVER="+opts.MoverName,
	)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	log.Info("starting engine", zap.String("binary", bin), zap.Strings("args", opts.Args), zap.Duration("timeout", opts.Timeout))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, failure.New(failure.ErrSimulation, stage, "start engine: %v", err).In(dir)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		reason := ctx.Err()
		if err := markInvalid(dir, reason); err != nil {
			log.Warn("failed to mark workspace invalid", zap.Error(err))
		}
		log.Error("engine aborted", zap.Error(reason), zap.Duration("elapsed", time.Since(start)))
		return nil, failure.New(failure.ErrSimulation, stage, "engine aborted: %v", reason).In(dir)
	case err = <-done:
	}

	res := &Result{Duration: time.Since(start), LogPath: logPath}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, failure.New(failure.ErrSimulation, stage, "wait for engine: %v", err).In(dir)
		}
		res.ExitCode = exitErr.ExitCode()
		log.Error("engine failed", zap.Int("exit_code", res.ExitCode), zap.String("log", logPath))
		return res, failure.New(failure.ErrSimulation, stage, "engine exited with status %d, see %s", res.ExitCode, filepath.Base(logPath)).In(dir)
	}

	var missing []string
	for _, f := range Outputs(name) {
		p := filepath.Join(dir, f)
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, f)
			continue
		}
		res.Outputs = append(res.Outputs, p)
	}
	if len(missing) > 0 {
		return res, failure.New(failure.ErrSimulation, stage, "engine left no %s", strings.Join(missing, ", ")).In(dir)
	}

	log.Info("engine finished", zap.Duration("elapsed", res.Duration))
	return res, nil
}

// Outputs lists the files a successful run produces.
func Outputs(name string) []string {
	return []string{deck.BudgetFile(name), deck.HeadFile(name), deck.CouplingLog(name)}
}

// Invalid reports whether the workspace carries an aborted-run marker.
func Invalid(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, deck.InvalidMarker))
	return err == nil
}

func markInvalid(dir string, reason error) error {
	msg := fmt.Sprintf("%s %v\n", time.Now().UTC().Format(time.RFC3339), reason)
	return os.WriteFile(filepath.Join(dir, deck.InvalidMarker), []byte(msg), 0644)
}

func resolve(bin string) (string, error) {
	if bin == "" {
		return "", errors.New("not set")
	}
	if strings.ContainsRune(bin, filepath.Separator) {
		abs, err := filepath.Abs(bin)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", err
		}
		return abs, nil
	}
	return exec.LookPath(bin)
}
