package builders

import (
	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
)

// SubmachineBuilder configures a nested state machine state. Its states
// and transitions are added through the embedded builder, scoped to the
// nested machine.
type SubmachineBuilder struct {
	*StateMachineBuilder
	parent *StateMachineBuilder
	state  *definition.State
}

// WithStateMachine adds a nested state machine and returns its builder.
func (b *StateMachineBuilder) WithStateMachine(name string) *SubmachineBuilder {
	s := b.addState(name, definition.KindStateMachine)
	sub := &StateMachineBuilder{
		root:        b.root,
		path:        append(append([]string(nil), b.path...), name),
		states:      &s.States,
		transitions: &s.Transitions,
	}
	return &SubmachineBuilder{StateMachineBuilder: sub, parent: b, state: s}
}

// WaitForEndState keeps transitions out of the machine closed until it
// reaches an end state.
func (b *SubmachineBuilder) WaitForEndState() *SubmachineBuilder {
	b.state.WaitForEndState = true
	return b
}

// ReuseCurrentState keeps the nested active states across a restart.
// With onlyIfNotEndState they are dropped when the machine ended.
func (b *SubmachineBuilder) ReuseCurrentState(onlyIfNotEndState bool) *SubmachineBuilder {
	b.state.ReuseCurrentState = true
	b.state.ReuseIfNotEndState = onlyIfNotEndState
	return b
}

// AsInitial marks the nested machine as an entry state of its parent.
func (b *SubmachineBuilder) AsInitial() *SubmachineBuilder {
	b.state.Initial = true
	return b
}

// WithEntryAction sets OnBegin on the nested machine itself.
func (b *SubmachineBuilder) WithEntryAction(action core.Action) *SubmachineBuilder {
	b.parent.updateState(b.state.Name, func(cb *core.StateCallbacks) { cb.OnBegin = action })
	return b
}

// WithExitAction sets OnEnd on the nested machine itself.
func (b *SubmachineBuilder) WithExitAction(action core.Action) *SubmachineBuilder {
	b.parent.updateState(b.state.Name, func(cb *core.StateCallbacks) { cb.OnEnd = action })
	return b
}

// End returns to the parent builder.
func (b *SubmachineBuilder) End() *StateMachineBuilder {
	return b.parent
}
