package fieldpath

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrPathConflict = errors.New("path conflict")
)

// InvalidPathError reports a malformed address.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Is(target error) bool { return target == ErrInvalidPath }

// PathConflictError reports a write that would have to replace existing
// data implicitly while navigating.
type PathConflictError struct {
	Path string
	// At is the prefix holding the conflicting value.
	At     string
	Reason string
}

func (e *PathConflictError) Error() string {
	if e.At == "" || e.At == e.Path {
		return fmt.Sprintf("path conflict at %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("path conflict at %q (writing %q): %s", e.At, e.Path, e.Reason)
}

func (e *PathConflictError) Is(target error) bool { return target == ErrPathConflict }
