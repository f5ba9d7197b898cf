// Package builders provides fluent builders for constructing state machine
// definitions and binding their callbacks.
package builders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
)

// StateMachineBuilder provides a fluent interface for building a
// definition. Nested machines share the callbacks and errors of the root
// builder.
type StateMachineBuilder struct {
	root *rootData
	path []string

	states      *[]*definition.State
	transitions *[]*definition.Transition

	currentState *definition.State
}

type rootData struct {
	def       *definition.Definition
	library   *definition.Library
	observers []core.Observer

	stateCallbacks      map[string]core.StateCallbacks
	transitionCallbacks map[string]core.TransitionCallbacks
	conduitCallbacks    map[string]core.ConduitCallbacks
	errs                []error
}

// StateBuilder provides a fluent interface for configuring individual states
type StateBuilder struct {
	builder *StateMachineBuilder
	state   *definition.State
}

// TransitionBuilder configures one transition.
type TransitionBuilder struct {
	builder    *StateMachineBuilder
	transition *definition.Transition
}

// NewStateMachineBuilder creates a new state machine builder
func NewStateMachineBuilder(name string) *StateMachineBuilder {
	def := &definition.Definition{Name: name}
	b := &StateMachineBuilder{
		root: &rootData{
			def:                 def,
			stateCallbacks:      make(map[string]core.StateCallbacks),
			transitionCallbacks: make(map[string]core.TransitionCallbacks),
			conduitCallbacks:    make(map[string]core.ConduitCallbacks),
		},
	}
	b.states = &def.States
	b.transitions = &def.Transitions
	return b
}

// Name is the definition name.
func (b *StateMachineBuilder) Name() string { return b.root.def.Name }

func (b *StateMachineBuilder) qualify(name string) string {
	if len(b.path) == 0 {
		return name
	}
	return strings.Join(b.path, ".") + "." + name
}

func (b *StateMachineBuilder) fail(format string, args ...any) {
	b.root.errs = append(b.root.errs, fmt.Errorf(format, args...))
}

func (b *StateMachineBuilder) findState(name string) *definition.State {
	for _, s := range *b.states {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (b *StateMachineBuilder) addState(name string, kind definition.Kind) *definition.State {
	if b.findState(name) != nil {
		b.fail("duplicate state %q", b.qualify(name))
	}
	s := &definition.State{Name: name, Kind: kind}
	*b.states = append(*b.states, s)
	b.currentState = s
	return s
}

// AddSimpleState adds a plain state to the machine
func (b *StateMachineBuilder) AddSimpleState(name string) *StateMachineBuilder {
	b.addState(name, definition.KindState)
	return b
}

// AddConduit adds a conduit guarded by guard. A nil guard never passes.
func (b *StateMachineBuilder) AddConduit(name string, guard core.Guard) *StateMachineBuilder {
	b.addState(name, definition.KindConduit)
	b.root.conduitCallbacks[b.qualify(name)] = core.ConduitCallbacks{CanEnter: guard}
	return b
}

// AddReference adds a state that runs another machine of the library.
func (b *StateMachineBuilder) AddReference(name, machine, template string) *StateMachineBuilder {
	s := b.addState(name, definition.KindReference)
	s.Reference = machine
	s.Template = template
	return b
}

// SetInitialState marks an existing state as an entry state.
func (b *StateMachineBuilder) SetInitialState(name string) *StateMachineBuilder {
	s := b.findState(name)
	if s == nil {
		b.fail("initial state %q not found", b.qualify(name))
		return b
	}
	s.Initial = true
	return b
}

// WithInitialState is an alias for SetInitialState.
func (b *StateMachineBuilder) WithInitialState(name string) *StateMachineBuilder {
	return b.SetInitialState(name)
}

// WithState adds a plain state and returns its builder.
func (b *StateMachineBuilder) WithState(name string) *StateBuilder {
	return &StateBuilder{builder: b, state: b.addState(name, definition.KindState)}
}

// AddTransition adds a transition that always passes.
func (b *StateMachineBuilder) AddTransition(fromName, toName string) *StateMachineBuilder {
	b.WithTransition(fromName, toName).AlwaysTrue()
	return b
}

// AddTransitionWithGuard adds a transition entered when guard passes.
func (b *StateMachineBuilder) AddTransitionWithGuard(fromName, toName string, guard core.Guard) *StateMachineBuilder {
	b.WithTransition(fromName, toName).WithGuard(guard)
	return b
}

// WithTransition adds a transition and returns its builder. Without a
// guard the transition never passes on its own.
func (b *StateMachineBuilder) WithTransition(fromName, toName string) *TransitionBuilder {
	if b.findState(fromName) == nil {
		b.fail("transition from unknown state %q", b.qualify(fromName))
	}
	if b.findState(toName) == nil {
		b.fail("transition to unknown state %q", b.qualify(toName))
	}
	t := &definition.Transition{From: fromName, To: toName}
	*b.transitions = append(*b.transitions, t)
	return &TransitionBuilder{builder: b, transition: t}
}

// StopOnEndState stops the instance once every active state is an end
// state.
func (b *StateMachineBuilder) StopOnEndState() *StateMachineBuilder {
	b.root.def.StopOnEndState = true
	return b
}

// WithLibrary resolves references against lib.
func (b *StateMachineBuilder) WithLibrary(lib *definition.Library) *StateMachineBuilder {
	b.root.library = lib
	return b
}

// WithObserver attaches an observer to instances made by BuildInstance.
func (b *StateMachineBuilder) WithObserver(observer core.Observer) *StateMachineBuilder {
	b.root.observers = append(b.root.observers, observer)
	return b
}

// WithEntryAction sets OnBegin on the last added state.
func (b *StateMachineBuilder) WithEntryAction(action core.Action) *StateMachineBuilder {
	if b.currentState == nil {
		b.fail("entry action without a state")
		return b
	}
	b.updateState(b.currentState.Name, func(cb *core.StateCallbacks) { cb.OnBegin = action })
	return b
}

// WithExitAction sets OnEnd on the last added state.
func (b *StateMachineBuilder) WithExitAction(action core.Action) *StateMachineBuilder {
	if b.currentState == nil {
		b.fail("exit action without a state")
		return b
	}
	b.updateState(b.currentState.Name, func(cb *core.StateCallbacks) { cb.OnEnd = action })
	return b
}

func (b *StateMachineBuilder) updateState(name string, fn func(*core.StateCallbacks)) {
	key := b.qualify(name)
	cb := b.root.stateCallbacks[key]
	fn(&cb)
	b.root.stateCallbacks[key] = cb
}

// Build resolves and validates the definition.
func (b *StateMachineBuilder) Build() (*definition.Definition, error) {
	if len(b.root.errs) > 0 {
		return nil, errors.Join(b.root.errs...)
	}
	def := b.root.def
	if err := def.Resolve(); err != nil {
		return nil, err
	}
	lib, err := b.library(def)
	if err != nil {
		return nil, err
	}
	if err := lib.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (b *StateMachineBuilder) library(def *definition.Definition) (*definition.Library, error) {
	lib, err := definition.NewLibrary(def)
	if err != nil {
		return nil, err
	}
	if err := lib.Merge(b.root.library); err != nil {
		return nil, err
	}
	// Merge may replace a machine of the same name.
	if err := lib.Add(def); err != nil {
		return nil, err
	}
	return lib, nil
}

// Bind registers the collected callbacks with r. The definition must have
// been built.
func (b *StateMachineBuilder) Bind(r *core.Registry) {
	binder := r.Bind(b.root.def)
	for name, cb := range b.root.stateCallbacks {
		binder.State(name, cb)
	}
	for name, cb := range b.root.transitionCallbacks {
		binder.Transition(name, cb)
	}
	for name, cb := range b.root.conduitCallbacks {
		binder.Conduit(name, cb)
	}
}

// BuildInstance builds the definition and returns an uninitialized
// instance with every callback and observer attached.
func (b *StateMachineBuilder) BuildInstance(opts ...core.Option) (*core.Instance, error) {
	def, err := b.Build()
	if err != nil {
		return nil, err
	}
	lib, err := b.library(def)
	if err != nil {
		return nil, err
	}
	all := []core.Option{core.WithLibrary(lib)}
	for _, o := range b.root.observers {
		all = append(all, core.WithObserver(o))
	}
	inst := core.NewInstance(def, append(all, opts...)...)
	b.Bind(inst.Registry())
	return inst, nil
}

// StateBuilder methods

func (sb *StateBuilder) Initial() *StateBuilder {
	sb.state.Initial = true
	return sb
}

func (sb *StateBuilder) AlwaysUpdate() *StateBuilder {
	sb.state.AlwaysUpdate = true
	return sb
}

func (sb *StateBuilder) StayActiveOnStateChange() *StateBuilder {
	sb.state.StayActiveOnStateChange = true
	return sb
}

func (sb *StateBuilder) AllowParallelReentry() *StateBuilder {
	sb.state.AllowParallelReentry = true
	return sb
}

func (sb *StateBuilder) EvalTransitionsOnStart() *StateBuilder {
	sb.state.EvalTransitionsOnStart = true
	return sb
}

// EventDriven disables transition evaluation on tick; transitions are only
// taken when triggered.
func (sb *StateBuilder) EventDriven() *StateBuilder {
	sb.state.DisableTickTransitionEvaluation = true
	return sb
}

func (sb *StateBuilder) WithProperty(key string, value any) *StateBuilder {
	if sb.state.Properties == nil {
		sb.state.Properties = make(map[string]any)
	}
	sb.state.Properties[key] = value
	return sb
}

// WithEntryAction sets OnBegin.
func (sb *StateBuilder) WithEntryAction(action core.Action) *StateBuilder {
	sb.builder.updateState(sb.state.Name, func(cb *core.StateCallbacks) { cb.OnBegin = action })
	return sb
}

// WithDoActivity sets OnUpdate.
func (sb *StateBuilder) WithDoActivity(action core.Action) *StateBuilder {
	sb.builder.updateState(sb.state.Name, func(cb *core.StateCallbacks) { cb.OnUpdate = action })
	return sb
}

// WithExitAction sets OnEnd.
func (sb *StateBuilder) WithExitAction(action core.Action) *StateBuilder {
	sb.builder.updateState(sb.state.Name, func(cb *core.StateCallbacks) { cb.OnEnd = action })
	return sb
}

// Done returns to the machine builder.
func (sb *StateBuilder) Done() *StateMachineBuilder {
	return sb.builder
}

// TransitionBuilder methods

func (tb *TransitionBuilder) key() string {
	name := tb.transition.Name
	if name == "" {
		name = tb.transition.From + "->" + tb.transition.To
	}
	return tb.builder.qualify(name)
}

// Named sets an explicit transition name. Call it before attaching
// callbacks.
func (tb *TransitionBuilder) Named(name string) *TransitionBuilder {
	if cb, ok := tb.builder.root.transitionCallbacks[tb.key()]; ok {
		delete(tb.builder.root.transitionCallbacks, tb.key())
		tb.transition.Name = name
		tb.builder.root.transitionCallbacks[tb.key()] = cb
		return tb
	}
	tb.transition.Name = name
	return tb
}

func (tb *TransitionBuilder) WithPriority(priority int) *TransitionBuilder {
	tb.transition.Priority = priority
	return tb
}

func (tb *TransitionBuilder) RunParallel() *TransitionBuilder {
	tb.transition.RunParallel = true
	return tb
}

// AlwaysTrue makes the transition pass whenever it is evaluated.
func (tb *TransitionBuilder) AlwaysTrue() *TransitionBuilder {
	tb.transition.Condition = definition.ConditionAlwaysTrue
	return tb
}

// AlwaysFalse makes the transition pass only when triggered.
func (tb *TransitionBuilder) AlwaysFalse() *TransitionBuilder {
	tb.transition.Condition = definition.ConditionAlwaysFalse
	return tb
}

func (tb *TransitionBuilder) update(fn func(*core.TransitionCallbacks)) *TransitionBuilder {
	key := tb.key()
	cb := tb.builder.root.transitionCallbacks[key]
	fn(&cb)
	tb.builder.root.transitionCallbacks[key] = cb
	return tb
}

// WithGuard sets CanEnter.
func (tb *TransitionBuilder) WithGuard(guard core.Guard) *TransitionBuilder {
	return tb.update(func(cb *core.TransitionCallbacks) { cb.CanEnter = guard })
}

// WithAction sets OnEntered.
func (tb *TransitionBuilder) WithAction(action core.Action) *TransitionBuilder {
	return tb.update(func(cb *core.TransitionCallbacks) { cb.OnEntered = action })
}

// Done returns to the machine builder.
func (tb *TransitionBuilder) Done() *StateMachineBuilder {
	return tb.builder
}
