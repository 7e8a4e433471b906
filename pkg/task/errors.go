package task

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrCommand matches every *CommandError.
	ErrCommand = errors.New("command error")
	// ErrSkip matches every *SkipError.
	ErrSkip = errors.New("task skipped")
)

// ConfigurationError reports a missing or invalid parameter. It is never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf builds a *ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// CommandError reports a failed remote or local command.
// ExitCode is -1 when the failure is not an exit status.
type CommandError struct {
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 && e.Err == nil {
		return fmt.Sprintf("command exited with return code %d. See log output for details.", e.ExitCode)
	}
	if e.Err == nil {
		return "command error"
	}
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command exited with return code %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("command error: %v", e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *CommandError) Is(target error) bool { return target == ErrCommand }

// ExitError reports a command that completed with a nonzero exit code.
func ExitError(code int) error {
	return &CommandError{ExitCode: code}
}

// WrapCommand wraps a lower-level fault into a *CommandError.
// Configuration errors and skips pass through untouched.
func WrapCommand(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrSkip) || errors.Is(err, ErrCommand) {
		return err
	}
	return &CommandError{ExitCode: -1, Err: err}
}

// SkipError signals that a task intentionally did not run.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	if e.Reason == "" {
		return ErrSkip.Error()
	}
	return e.Reason
}

func (e *SkipError) Is(target error) bool { return target == ErrSkip }

// Skipf builds a *SkipError from a format string.
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err is a skip signal rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSkip)
}
