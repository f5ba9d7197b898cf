package core

import (
	"time"

	"github.com/anggasct/logicdriver/pkg/definition"
)

// Transition connects two states of the same state machine.
type Transition struct {
	node

	from StateNode
	to   StateNode

	priority              int
	condition             definition.ConditionType
	canEvaluate           bool
	canEvaluateFromEvent  bool
	runParallel           bool
	evalIfNextStateActive bool
	canEvalWithStartState bool
	alwaysFalse           bool

	canEnter          bool
	canEnterFromEvent bool
	isEvaluating      bool

	lastNetworkTimestamp time.Time
	serverTimeInState    float64

	// Endpoints of the last chain this transition was taken in. They differ
	// from From and To when conduits are involved.
	sourceState      StateNode
	destinationState StateNode
}

func (t *Transition) From() StateNode { return t.from }
func (t *Transition) To() StateNode { return t.to }
func (t *Transition) Priority() int { return t.priority }
func (t *Transition) RunParallel() bool { return t.runParallel }
func (t *Transition) IsEvaluating() bool { return t.isEvaluating }
func (t *Transition) LastNetworkTimestamp() time.Time { return t.lastNetworkTimestamp }
func (t *Transition) ServerTimeInState() float64 { return t.serverTimeInState }
func (t *Transition) SourceState() StateNode { return t.sourceState }
func (t *Transition) DestinationState() StateNode { return t.destinationState }
func (t *Transition) IsAlwaysFalse() bool { return t.alwaysFalse }

// CanEvaluateConditionally reports whether the guard is consulted on ticks.
func (t *Transition) CanEvaluateConditionally() bool {
	return t.canEvaluate && t.condition != definition.ConditionAlwaysFalse
}

// SetCanEvaluate toggles conditional evaluation at runtime.
func (t *Transition) SetCanEvaluate(v bool) { t.canEvaluate = v }

// DoesTransitionPass evaluates this transition alone, ignoring conduits
// behind it.
func (t *Transition) DoesTransitionPass() bool {
	next := t.to.state()
	if (t.runParallel && !t.evalIfNextStateActive && next.active) || next.reentered {
		return false
	}

	cb := t.instance.registry.transition(t.nodeGuid)
	if cb.PreEvaluate != nil {
		cb.PreEvaluate(t.evalContext(0))
	}
	defer func() {
		if cb.PostEvaluate != nil {
			cb.PostEvaluate(t.evalContext(0))
		}
		t.isEvaluating = false
	}()

	if t.canEvaluateFromEvent && t.canEnterFromEvent {
		t.canEnterFromEvent = false
		t.canEnter = true
		return true
	}

	if !t.CanEvaluateConditionally() {
		t.canEnter = false
		return false
	}

	t.isEvaluating = true
	t.evaluateProperties(PropertiesOnTransitionCheck)
	switch t.condition {
	case definition.ConditionAlwaysTrue:
		t.canEnter = true
	case definition.ConditionNodeInstance:
		logic, ok := t.GetOrCreateNodeInstance().(TransitionLogic)
		ctx := t.evalContext(0)
		t.canEnter = ok && logic.CanEnterTransition(ctx)
	default:
		t.canEnter = cb.CanEnter != nil && cb.CanEnter(t.evalContext(0))
	}
	return t.canEnter
}

// CanTransition evaluates the transition and, when it leads into a conduit
// configured as a transition, the conduit and its first passing exit. The
// returned chain starts with t.
func (t *Transition) CanTransition() ([]*Transition, bool) {
	if !t.DoesTransitionPass() {
		return nil, false
	}

	chain := []*Transition{t}
	conduit, ok := t.to.(*Conduit)
	if !ok || !conduit.IsConfiguredAsTransition() {
		return chain, true
	}

	next := conduit.GetValidTransition()
	if len(next) == 0 {
		return nil, false
	}
	// Conduits cannot start parallel states, so only the first chain counts.
	return append(chain, next[0]...), true
}

// TriggerFromEvent arms the transition so that its next evaluation passes
// without consulting the guard. Transitions with CanEvaluateFromEvent
// disabled ignore the trigger.
func (t *Transition) TriggerFromEvent() {
	if !t.canEvaluateFromEvent {
		return
	}
	t.isEvaluating = true
	t.canEnterFromEvent = true
}

// CanTransitionFromEvent reports a pending event trigger.
func (t *Transition) CanTransitionFromEvent() bool {
	if t.isEvaluating {
		t.isEvaluating = false
	}
	return t.canEnterFromEvent
}

// TakeTransition runs the entered logic. The network layer may suppress
// the user callback on peers without authority.
func (t *Transition) TakeTransition() {
	t.setActive(true)

	canExecute := true
	if ni := t.instance.NetworkInterface(); ni != nil && ni.IsConfiguredForNetworking() {
		canExecute = ni.CanExecuteTransitionEnteredLogic()
	}
	if canExecute {
		ctx := t.evalContext(0)
		if cb := t.instance.registry.transition(t.nodeGuid); cb.OnEntered != nil {
			cb.OnEntered(ctx)
		}
		if logic, ok := t.NodeInstance().(TransitionEnteredLogic); ok {
			logic.OnTransitionEntered(ctx)
		}
	}

	t.setActive(false)

	if conduit, ok := t.to.(*Conduit); ok {
		conduit.enterWithTransition()
	}
}

// CanEvaluateWithStartState reports whether every transition of chain may
// be evaluated in the same pass its source started.
func CanEvaluateWithStartState(chain []*Transition) bool {
	for _, t := range chain {
		if !t.canEvalWithStartState {
			return false
		}
	}
	return true
}

// FinalStateFromChain returns the first destination that is not a conduit
// configured as a transition.
func FinalStateFromChain(chain []*Transition) StateNode {
	for _, t := range chain {
		if c, ok := t.to.(*Conduit); ok && c.IsConfiguredAsTransition() {
			continue
		}
		return t.to
	}
	if len(chain) > 0 {
		return chain[len(chain)-1].to
	}
	return nil
}

// CanChainEvalIfNextStateActive reports whether any transition of chain
// allows entering an already active destination.
func CanChainEvalIfNextStateActive(chain []*Transition) bool {
	for _, t := range chain {
		if t.evalIfNextStateActive {
			return true
		}
	}
	return false
}

func (t *Transition) reset() {
	t.resetNode()
	t.canEnter = false
	t.canEnterFromEvent = false
	t.isEvaluating = false
	t.lastNetworkTimestamp = time.Time{}
	t.serverTimeInState = ActiveTimeNotSet
	t.sourceState = nil
	t.destinationState = nil
}
