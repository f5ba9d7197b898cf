package core

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the engine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// State was not found in the machine
	ErrCodeStateNotFound
	// Transition was not found in the machine
	ErrCodeTransitionNotFound
	// Instance has not been initialized
	ErrCodeNotInitialized
	// Instance was already initialized
	ErrCodeAlreadyInitialized
	// Machine configuration is invalid
	ErrCodeInvalidConfiguration
	// Runtime tree could not be generated
	ErrCodeGenerationFailed
	// References between machines loop
	ErrCodeReferenceCycle
	// Async initialization is in an unexpected state
	ErrCodeAsyncInitialization
	// State is in invalid condition
	ErrCodeInvalidState
)

// Lifecycle contract violations.
var (
	ErrNotInitialized       = errors.New("instance is not initialized")
	ErrAlreadyInitialized   = errors.New("instance is already initialized")
	ErrNilContext           = errors.New("instance context is nil")
	ErrAsyncInProgress      = errors.New("async initialization already in progress")
	ErrAsyncNotStarted      = errors.New("async initialization was not started")
	ErrInitializationCancel = errors.New("async initialization canceled")
)

// StateError represents state-related errors
type StateError struct {
	Code    ErrorCode
	StateID string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error [%s]: %s", e.StateID, e.Message)
}

// NewStateNotFoundError creates a new state not found error
func NewStateNotFoundError(stateID string) *StateError {
	return &StateError{
		Code:    ErrCodeStateNotFound,
		StateID: stateID,
		Message: fmt.Sprintf("state '%s' not found", stateID),
	}
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(stateID string, reason string) *StateError {
	return &StateError{
		Code:    ErrCodeInvalidState,
		StateID: stateID,
		Message: reason,
	}
}

// TransitionError represents transition-related errors
type TransitionError struct {
	Code   ErrorCode
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition error [%s->%s]: %s", e.From, e.To, e.Reason)
}

// NewTransitionNotFoundError creates a new transition not found error
func NewTransitionNotFoundError(id string) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeTransitionNotFound,
		ID:     id,
		Reason: fmt.Sprintf("transition '%s' not found", id),
	}
}

// ConfigurationError represents machine configuration issues
type ConfigurationError struct {
	Component string
	Issue     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Issue)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(component, issue string) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Issue:     issue,
	}
}

// GenerationError is returned when the runtime tree of an instance cannot be built
type GenerationError struct {
	Code    ErrorCode
	Machine string
	Node    string
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generation error in %s", e.Machine)
	if e.Node != "" {
		msg += fmt.Sprintf(" at %s", e.Node)
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// NewGenerationError creates a new generation error
func NewGenerationError(code ErrorCode, machine, node, message string, cause error) *GenerationError {
	return &GenerationError{
		Code:    code,
		Machine: machine,
		Node:    node,
		Message: message,
		Cause:   cause,
	}
}

// MachineError represents instance operation errors
type MachineError struct {
	Code      ErrorCode
	Operation string
	Message   string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("machine error during %s: %s", e.Operation, e.Message)
}

// NewMachineError creates a new machine error
func NewMachineError(code ErrorCode, operation string, message string) *MachineError {
	return &MachineError{
		Code:      code,
		Operation: operation,
		Message:   message,
	}
}

// IsStateError checks if an error is a StateError
func IsStateError(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	var target *TransitionError
	return errors.As(err, &target)
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsGenerationError checks if an error is a GenerationError
func IsGenerationError(err error) bool {
	var target *GenerationError
	return errors.As(err, &target)
}

// IsMachineError checks if an error is a MachineError
func IsMachineError(err error) bool {
	var target *MachineError
	return errors.As(err, &target)
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	var (
		se *StateError
		te *TransitionError
		ge *GenerationError
		me *MachineError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &te):
		return te.Code
	case errors.As(err, &ge):
		return ge.Code
	case errors.As(err, &me):
		return me.Code
	case errors.As(err, &ce):
		return ErrCodeInvalidConfiguration
	case errors.Is(err, ErrNotInitialized):
		return ErrCodeNotInitialized
	case errors.Is(err, ErrAlreadyInitialized):
		return ErrCodeAlreadyInitialized
	default:
		return ErrCodeNone
	}
}
