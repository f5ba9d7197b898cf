// Package utils provides error helpers shared by the definition tooling
package utils

import (
	"fmt"
	"sort"
	"strings"
)

// DefinitionIssue describes one problem found while checking a definition
type DefinitionIssue struct {
	Code    string
	Message string
	Machine string
	Node    string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DefinitionIssue) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Machine != "" {
		parts = append(parts, fmt.Sprintf("machine: %s", e.Machine))
	}
	if e.Node != "" {
		parts = append(parts, fmt.Sprintf("node: %s", e.Node))
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		details := make([]string, 0, len(keys))
		for _, k := range keys {
			details = append(details, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		parts = append(parts, fmt.Sprintf("details: {%s}", strings.Join(details, ", ")))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " - ")
}

// Is matches issues by code so the package-level values work with errors.Is
func (e *DefinitionIssue) Is(target error) bool {
	t, ok := target.(*DefinitionIssue)
	return ok && t.Code == e.Code
}

func (e *DefinitionIssue) Unwrap() error {
	return e.Cause
}

// WithMachine adds the machine name to a copy of the issue
func (e *DefinitionIssue) WithMachine(name string) *DefinitionIssue {
	c := e.clone()
	c.Machine = name
	return c
}

// WithNode adds the node path to a copy of the issue
func (e *DefinitionIssue) WithNode(node string) *DefinitionIssue {
	c := e.clone()
	c.Node = node
	return c
}

// WithCause adds a cause to a copy of the issue
func (e *DefinitionIssue) WithCause(err error) *DefinitionIssue {
	c := e.clone()
	c.Cause = err
	return c
}

// WithDetail adds a detail to a copy of the issue
func (e *DefinitionIssue) WithDetail(key string, value interface{}) *DefinitionIssue {
	c := e.clone()
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	c.Details = details
	return c
}

func (e *DefinitionIssue) clone() *DefinitionIssue {
	c := *e
	return &c
}

// Known definition issues. Use the With* helpers to attach context;
// they return copies so these values stay untouched.
var (
	// ErrMissingName is reported for machines or states without a name
	ErrMissingName = &DefinitionIssue{
		Code:    "MISSING_NAME",
		Message: "name is required",
	}

	// ErrNoInitialState is reported when the root scope has no entry state
	ErrNoInitialState = &DefinitionIssue{
		Code:    "NO_INITIAL_STATE",
		Message: "state machine requires at least one initial state",
	}

	// ErrDuplicateState is reported for two states with the same name in one scope
	ErrDuplicateState = &DefinitionIssue{
		Code:    "DUPLICATE_STATE",
		Message: "duplicate state name",
	}

	// ErrDuplicateGuid is reported for two nodes sharing an explicit guid
	ErrDuplicateGuid = &DefinitionIssue{
		Code:    "DUPLICATE_GUID",
		Message: "duplicate node guid",
	}

	// ErrInvalidGuid is reported for guids that do not parse
	ErrInvalidGuid = &DefinitionIssue{
		Code:    "INVALID_GUID",
		Message: "invalid guid",
	}

	// ErrUnknownState is reported for transitions whose endpoint does not exist
	ErrUnknownState = &DefinitionIssue{
		Code:    "UNKNOWN_STATE",
		Message: "transition references an unknown state",
	}

	// ErrInvalidKind is reported for unknown state kinds
	ErrInvalidKind = &DefinitionIssue{
		Code:    "INVALID_KIND",
		Message: "unknown state kind",
	}

	// ErrInvalidCondition is reported for unknown transition condition types
	ErrInvalidCondition = &DefinitionIssue{
		Code:    "INVALID_CONDITION",
		Message: "unknown transition condition",
	}

	// ErrMissingReference is reported when a reference names no known machine
	ErrMissingReference = &DefinitionIssue{
		Code:    "MISSING_REFERENCE",
		Message: "referenced state machine not found",
	}

	// ErrReferenceCycle is reported when references loop back to a machine being built
	ErrReferenceCycle = &DefinitionIssue{
		Code:    "REFERENCE_CYCLE",
		Message: "circular reference between state machines",
	}

	// ErrMisplacedField is reported for fields that do not apply to the state kind
	ErrMisplacedField = &DefinitionIssue{
		Code:    "MISPLACED_FIELD",
		Message: "field does not apply to this state kind",
	}
)

// ErrorCollector collects multiple errors during validation or processing
type ErrorCollector struct {
	errors []error
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]error, 0),
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err != nil {
		ec.errors = append(ec.errors, err)
	}
}

// HasErrors returns whether any errors were collected
func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errors) > 0
}

// GetErrors returns all collected errors
func (ec *ErrorCollector) GetErrors() []error {
	return ec.errors
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (ec *ErrorCollector) Unwrap() []error {
	return ec.errors
}

// Err returns the collector as an error, or nil when it is empty
func (ec *ErrorCollector) Err() error {
	if !ec.HasErrors() {
		return nil
	}
	return ec
}

// Error returns a string representation of all errors
func (ec *ErrorCollector) Error() string {
	if len(ec.errors) == 0 {
		return "no errors"
	}

	if len(ec.errors) == 1 {
		return ec.errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(ec.errors)))

	for i, err := range ec.errors {
		sb.WriteString(fmt.Sprintf("  %d: %v\n", i+1, err))
	}

	return sb.String()
}
