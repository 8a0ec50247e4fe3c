package vfs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath indicates an archive path that is not absolute or climbs above the root.
	ErrInvalidPath = errors.New("invalid archive path")

	// ErrInvalidRegistration indicates a listener registration against a
	// container that does not belong to the notifier's archive.
	ErrInvalidRegistration = errors.New("invalid listener registration")

	// ErrInvalidRule indicates a rule specification that cannot be built.
	ErrInvalidRule = errors.New("invalid rule")
)

// PathError records an operation on an archive path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Operation names used in PathError.
const (
	OpNew      = "new"
	OpRule     = "rule"
	OpRegister = "register"
	OpWatch    = "watch"
)
