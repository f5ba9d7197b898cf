package definition

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a library has no machine of the requested name.
	ErrNotFound = errors.New("definition not found")
	// ErrParse wraps YAML decoding failures.
	ErrParse = errors.New("failed to parse definition")
)

// DefinitionError reports a structural problem that prevents a definition from resolving.
type DefinitionError struct {
	Machine string
	Issue   string
}

func (e *DefinitionError) Error() string {
	if e.Machine == "" {
		return fmt.Sprintf("definition error: %s", e.Issue)
	}
	return fmt.Sprintf("definition error in %s: %s", e.Machine, e.Issue)
}

// NewDefinitionError creates a new definition error
func NewDefinitionError(machine, issue string) *DefinitionError {
	return &DefinitionError{Machine: machine, Issue: issue}
}

// IsDefinitionError checks if an error is a DefinitionError
func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}
