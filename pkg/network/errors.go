package network

import (
	"errors"
	"fmt"
)

var (
	ErrNoInstance        = errors.New("component has no instance")
	ErrNotConnected      = errors.New("component is not connected to a transport")
	ErrSimulatedProxy    = errors.New("simulated proxies cannot call the server")
	ErrNoRoute           = errors.New("no handler registered for route")
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// NetworkError wraps failures while sending or receiving transactions.
type NetworkError struct {
	Op   string
	Kind TransactionKind
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s of %s: %v", e.Op, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, kind TransactionKind, err error) *NetworkError {
	return &NetworkError{Op: op, Kind: kind, Err: err}
}

// IsNetworkError checks if an error is a NetworkError
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}
