package builders

import (
	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/observers"
)

// ValidationBuilder helps build validation rules for state machines
type ValidationBuilder struct {
	observer *observers.ValidationObserver
	def      *definition.Definition
}

// NewValidationBuilder creates a validation builder that expects every
// state of def and allows its declared transitions.
func NewValidationBuilder(def *definition.Definition) *ValidationBuilder {
	v := &ValidationBuilder{observer: observers.NewValidationObserver(), def: def}
	v.observer.ExpectDefinition(def)
	return v
}

// ExpectState adds an expected state to validation
func (v *ValidationBuilder) ExpectState(stateName string) *ValidationBuilder {
	v.observer.AddExpectedState(stateName)
	return v
}

// AllowTransition adds an allowed transition to validation
func (v *ValidationBuilder) AllowTransition(from, to string) *ValidationBuilder {
	v.observer.AddAllowedTransition(from, to)
	return v
}

// Build returns the validation observer
func (v *ValidationBuilder) Build() *observers.ValidationObserver {
	return v.observer
}

// Validate checks the definition structure.
func (v *ValidationBuilder) Validate() error {
	return v.def.Validate()
}
