// Package control bounds pipeline runs: step and wall-time limits, retry
// budget and backoff, and per-module circuit breakers.
package control

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimitReached matches every *LimitError.
var ErrLimitReached = errors.New("limit reached")

// Policy bounds a single pipeline run.
type Policy struct {
	// MaxSteps counts module invocations, not retries.
	MaxSteps    int
	MaxWallTime time.Duration
	// MaxRetries is the number of extra attempts for a retryable failure.
	MaxRetries int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxSteps:    64,
		MaxWallTime: 120 * time.Second,
		MaxRetries:  2,
	}
}

// Validate rejects policies that would stop every run before it starts.
func (p Policy) Validate() error {
	if p.MaxSteps <= 0 {
		return fmt.Errorf("policy: max steps must be > 0, got %d", p.MaxSteps)
	}
	if p.MaxWallTime <= 0 {
		return fmt.Errorf("policy: max wall time must be > 0, got %s", p.MaxWallTime)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("policy: max retries must be >= 0, got %d", p.MaxRetries)
	}
	return nil
}

// ShouldRetry reports whether another attempt is allowed after attempts
// failed ones.
func (p Policy) ShouldRetry(attempts int) bool {
	return attempts <= p.MaxRetries
}

type LimitType string

const (
	LimitSteps    LimitType = "max_steps"
	LimitWallTime LimitType = "max_wall_time_ms"
)

// LimitError reports a reached limit. For LimitWallTime the values are
// milliseconds.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }

// CheckStepLimit fails once usedSteps invocations have been made.
func CheckStepLimit(p Policy, usedSteps int) error {
	if usedSteps >= p.MaxSteps {
		return &LimitError{Type: LimitSteps, Value: int64(usedSteps), Threshold: int64(p.MaxSteps)}
	}
	return nil
}

// CheckWallTime fails once more than MaxWallTime has passed since startedAt.
func CheckWallTime(p Policy, startedAt, now time.Time) error {
	if elapsed := now.Sub(startedAt); elapsed > p.MaxWallTime {
		return WallTimeExceeded(p, elapsed)
	}
	return nil
}

func WallTimeExceeded(p Policy, elapsed time.Duration) *LimitError {
	return &LimitError{
		Type:      LimitWallTime,
		Value:     elapsed.Milliseconds(),
		Threshold: p.MaxWallTime.Milliseconds(),
	}
}

// RetryBackoff doubles from 100ms per attempt, capped at 5s.
func RetryBackoff(attempt int) time.Duration {
	const maxBackoff = 5 * time.Second
	if attempt <= 0 {
		return 0
	}
	if attempt > 8 {
		return maxBackoff
	}
	return min(100*time.Millisecond<<(attempt-1), maxBackoff)
}
