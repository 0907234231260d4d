package obs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotRunning is returned when work is submitted to a runtime that is not
	// (or no longer) accepting commands.
	ErrNotRunning = errors.New("obs: runtime is not running")

	// ErrNullHandle is returned when the engine hands back no object for a
	// construction request.
	ErrNullHandle = errors.New("obs: engine returned a null handle")

	// ErrPlatformUnsupported is returned when no capability variant, library or
	// symbol is usable on this platform.
	ErrPlatformUnsupported = errors.New("obs: platform unsupported")

	// ErrExecutionFailed is returned when a command body fails internally.
	ErrExecutionFailed = errors.New("obs: command execution failed")

	// ErrWorkerFailed is returned by every submission once the executor
	// goroutine itself has died.
	ErrWorkerFailed = errors.New("obs: executor worker failed")

	// ErrInvalidOperation is returned when a documented precondition is violated.
	ErrInvalidOperation = errors.New("obs: invalid operation")
)

// Error carries an operation name and detail for one of the sentinel kinds.
// errors.Is matches the sentinel in Kind.
type Error struct {
	Op     string
	Kind   error
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("obs: error")
	}
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteByte(']')
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// ExecutionError describes a command whose body panicked or never returned.
type ExecutionError struct {
	Label string // command label
	Value any    // recovered panic value, nil when the body exited the goroutine
	Stack []byte
}

func (e *ExecutionError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%v: %s: body exited the executor goroutine", ErrExecutionFailed, e.Label)
	}
	return fmt.Sprintf("%v: %s: %v", ErrExecutionFailed, e.Label, e.Value)
}

// Is reports true for ErrExecutionFailed.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailed }

// Unwrap exposes a panic value that is itself an error.
func (e *ExecutionError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
