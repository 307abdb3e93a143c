// Package failure defines the error kinds that abort a pipeline stage.
package failure

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrMissingArtifact  = errors.New("missing artifact")
	ErrSimulation       = errors.New("simulation failure")
	ErrDataAlignment    = errors.New("data alignment error")
)

// Error is a stage failure. Kind is one of the Err* sentinels and is what
// errors.Is matches against.
type Error struct {
	Kind      error
	Stage     string
	Workspace string
	Msg       string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Workspace != "" {
		msg += fmt.Sprintf(" (workspace %s)", e.Workspace)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds a stage failure of the given kind.
func New(kind error, stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// In attaches a workspace path to a failure.
func (e *Error) In(workspace string) *Error {
	e.Workspace = workspace
	return e
}

// Configf is shorthand for a configuration failure.
func Configf(stage, format string, args ...any) error {
	return New(ErrConfiguration, stage, format, args...)
}

// Label names the kind of err for metrics and history records.
func Label(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrMissingArtifact):
		return "missing_artifact"
	case errors.Is(err, ErrSimulation):
		return "simulation"
	case errors.Is(err, ErrDataAlignment):
		return "data_alignment"
	}
	return "other"
}
