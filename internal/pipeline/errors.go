package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/stupiduntilnot/msgflux/internal/control"
	"github.com/stupiduntilnot/msgflux/internal/fieldpath"
	"github.com/stupiduntilnot/msgflux/internal/permission"
)

var ErrCircuitOpen = errors.New("circuit open")

// ModuleError wraps the failure of one module invocation.
type ModuleError struct {
	Module   string
	Stage    int
	Attempts int
	Err      error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s (stage %d, attempts %d): %v", e.Module, e.Stage, e.Attempts, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// CircuitOpenError is returned instead of invoking a module whose recent
// failures tripped its breaker.
type CircuitOpenError struct {
	Module string
	Class  string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for module %s (error class %s)", e.Module, e.Class)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. The executor retries such failures up to
// the policy's MaxRetries with exponential backoff.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// PanicError carries a recovered module panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("module panicked: %v", e.Value)
}

// Error classes reported in events and used by circuit breakers.
const (
	classLimit      = "limit"
	classTimeout    = "timeout"
	classCanceled   = "canceled"
	classPermission = "permission"
	classPath       = "path"
	classPanic      = "panic"
	classModule     = "module"
)

func classifyError(err error) string {
	var limit *control.LimitError
	switch {
	case err == nil:
		return "unknown"
	case errors.As(err, &limit):
		return classLimit
	case errors.Is(err, context.DeadlineExceeded):
		return classTimeout
	case errors.Is(err, context.Canceled):
		return classCanceled
	case errors.Is(err, permission.ErrPermissionDenied):
		return classPermission
	case errors.Is(err, fieldpath.ErrInvalidPath), errors.Is(err, fieldpath.ErrPathConflict):
		return classPath
	default:
		var p *PanicError
		if errors.As(err, &p) {
			return classPanic
		}
		return classModule
	}
}
