package core

import (
	"sync"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/definition"
)

// EvalContext is passed to every user callback.
type EvalContext struct {
	// Node is the node the callback is registered for.
	Node Node
	// Instance owns Node. For nodes inside a reference this is the
	// referenced instance, not the primary owner.
	Instance *Instance
	// Context is the object the instance was initialized with.
	Context any
	// NodeInstance is the user object created for Node, if any.
	NodeInstance any
	// Delta is the frame delta for update callbacks.
	Delta float64
}

// Guard decides whether a transition or conduit may be entered.
type Guard func(*EvalContext) bool

// Action runs user logic for a node event.
type Action func(*EvalContext)

// NodeInstanceFactory creates the user object attached to a node.
type NodeInstanceFactory func(Node) any

// PropertyEvent identifies when node properties are evaluated.
type PropertyEvent int

const (
	PropertiesOnStart PropertyEvent = iota
	PropertiesOnUpdate
	PropertiesOnEnd
	PropertiesOnRootStart
	PropertiesOnRootStop
	PropertiesOnTransitionCheck
)

// PropertyEvaluator refreshes node properties for an event.
type PropertyEvaluator func(*EvalContext, PropertyEvent)

// StateCallbacks hold the logic of a state or nested state machine.
type StateCallbacks struct {
	OnBegin  Action
	OnUpdate Action
	OnEnd    Action
	// OnRootStart and OnRootStop run when the owning instance starts or stops.
	OnRootStart Action
	OnRootStop  Action
}

// TransitionCallbacks hold the logic of a transition.
type TransitionCallbacks struct {
	CanEnter     Guard
	OnEntered    Action
	PreEvaluate  Action
	PostEvaluate Action
}

// ConduitCallbacks hold the logic of a conduit.
type ConduitCallbacks struct {
	CanEnter  Guard
	OnEntered Action
}

// StateLogic may be implemented by node instances of states.
type StateLogic interface {
	OnStateBegin(*EvalContext)
	OnStateUpdate(*EvalContext)
	OnStateEnd(*EvalContext)
}

// TransitionLogic may be implemented by node instances of transitions and
// conduits that use the node_instance condition.
type TransitionLogic interface {
	CanEnterTransition(*EvalContext) bool
}

// TransitionEnteredLogic may be implemented by node instances of transitions.
type TransitionEnteredLogic interface {
	OnTransitionEntered(*EvalContext)
}

// Registry maps node guids to user callbacks. Callbacks are keyed by
// NodeGuid, so every instance of a definition, including references,
// shares them.
type Registry struct {
	mu          sync.RWMutex
	states      map[uuid.UUID]StateCallbacks
	transitions map[uuid.UUID]TransitionCallbacks
	conduits    map[uuid.UUID]ConduitCallbacks
	properties  map[uuid.UUID]PropertyEvaluator
	factories   map[uuid.UUID]NodeInstanceFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states:      make(map[uuid.UUID]StateCallbacks),
		transitions: make(map[uuid.UUID]TransitionCallbacks),
		conduits:    make(map[uuid.UUID]ConduitCallbacks),
		properties:  make(map[uuid.UUID]PropertyEvaluator),
		factories:   make(map[uuid.UUID]NodeInstanceFactory),
	}
}

func (r *Registry) OnState(nodeGuid uuid.UUID, cb StateCallbacks) *Registry {
	r.mu.Lock()
	r.states[nodeGuid] = cb
	r.mu.Unlock()
	return r
}

func (r *Registry) OnTransition(nodeGuid uuid.UUID, cb TransitionCallbacks) *Registry {
	r.mu.Lock()
	r.transitions[nodeGuid] = cb
	r.mu.Unlock()
	return r
}

func (r *Registry) OnConduit(nodeGuid uuid.UUID, cb ConduitCallbacks) *Registry {
	r.mu.Lock()
	r.conduits[nodeGuid] = cb
	r.mu.Unlock()
	return r
}

func (r *Registry) OnProperties(nodeGuid uuid.UUID, eval PropertyEvaluator) *Registry {
	r.mu.Lock()
	r.properties[nodeGuid] = eval
	r.mu.Unlock()
	return r
}

func (r *Registry) NodeInstance(nodeGuid uuid.UUID, factory NodeInstanceFactory) *Registry {
	r.mu.Lock()
	r.factories[nodeGuid] = factory
	r.mu.Unlock()
	return r
}

func (r *Registry) state(id uuid.UUID) StateCallbacks {
	if r == nil {
		return StateCallbacks{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[id]
}

func (r *Registry) transition(id uuid.UUID) TransitionCallbacks {
	if r == nil {
		return TransitionCallbacks{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transitions[id]
}

func (r *Registry) conduit(id uuid.UUID) ConduitCallbacks {
	if r == nil {
		return ConduitCallbacks{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conduits[id]
}

func (r *Registry) propertyEvaluator(id uuid.UUID) PropertyEvaluator {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.properties[id]
}

func (r *Registry) factory(id uuid.UUID) NodeInstanceFactory {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[id]
}

// Binder registers callbacks by node name for one definition.
type Binder struct {
	registry *Registry
	def      *definition.Definition
}

// Bind returns a Binder for def. The definition must be resolved.
// Unknown names panic, as they indicate a programming error.
func (r *Registry) Bind(def *definition.Definition) *Binder {
	return &Binder{registry: r, def: def}
}

func (b *Binder) State(name string, cb StateCallbacks) *Binder {
	b.registry.OnState(b.def.MustNodeGuidOf(name), cb)
	return b
}

func (b *Binder) Transition(name string, cb TransitionCallbacks) *Binder {
	b.registry.OnTransition(b.def.MustNodeGuidOf(name), cb)
	return b
}

// Guard is shorthand for a transition with only a CanEnter callback.
func (b *Binder) Guard(name string, guard Guard) *Binder {
	return b.Transition(name, TransitionCallbacks{CanEnter: guard})
}

func (b *Binder) Conduit(name string, cb ConduitCallbacks) *Binder {
	b.registry.OnConduit(b.def.MustNodeGuidOf(name), cb)
	return b
}

func (b *Binder) Properties(name string, eval PropertyEvaluator) *Binder {
	b.registry.OnProperties(b.def.MustNodeGuidOf(name), eval)
	return b
}

func (b *Binder) NodeInstance(name string, factory NodeInstanceFactory) *Binder {
	b.registry.NodeInstance(b.def.MustNodeGuidOf(name), factory)
	return b
}

// Root registers callbacks on the root state machine of the definition.
func (b *Binder) Root(cb StateCallbacks) *Binder {
	b.registry.OnState(b.def.NodeGuid, cb)
	return b
}
