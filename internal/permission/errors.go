package permission

import (
	"errors"
	"fmt"
)

var ErrPermissionDenied = errors.New("permission denied")

// PermissionDeniedError names who was refused what.
type PermissionDeniedError struct {
	Module string
	Path   string
	Mode   Mode
}

func (e *PermissionDeniedError) Error() string {
	module := e.Module
	if module == "" {
		module = "<anonymous>"
	}
	return fmt.Sprintf("permission denied: module=%s mode=%s path=%s", module, e.Mode, e.Path)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }
