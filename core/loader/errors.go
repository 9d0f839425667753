package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrNoName is returned for descriptors without a command name.
	ErrNoName = errors.New("descriptor has no name")
	// ErrUnknownAction is returned when a descriptor names an action the catalog lacks.
	ErrUnknownAction = errors.New("unknown action")
	// ErrEmptyDescriptor is returned for handler files without content.
	ErrEmptyDescriptor = errors.New("empty descriptor")
	// ErrOutsideRoot is returned for paths that escape the commands root.
	ErrOutsideRoot = errors.New("path outside commands root")
)

// LoadError reports a handler file that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
