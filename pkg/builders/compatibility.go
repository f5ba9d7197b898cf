package builders

// NewBuilder is an alias for NewStateMachineBuilder.
func NewBuilder(name string) *StateMachineBuilder {
	return NewStateMachineBuilder(name)
}
