package core

import (
	"sort"
	"time"
)

// ActiveTimeNotSet marks a server time that has not been received.
const ActiveTimeNotSet = -1.0

// StateNode is implemented by *State, *Conduit and *StateMachine.
type StateNode interface {
	Node

	StartState() bool
	UpdateState(delta float64) bool
	EndState(delta float64, via *Transition) bool
	GetValidTransition() [][]*Transition
	IsEndState() bool
	IsInEndState() bool
	CanEvaluateTransitionsOnTick() bool

	OutgoingTransitions() []*Transition
	IncomingTransitions() []*Transition
	TimeInState() float64
	ActiveTime() float64
	ServerTimeInState() float64
	SetServerTimeInState(seconds float64)
	StartTime() time.Time
	EndTime() time.Time
	HasUpdated() bool
	IsRootNode() bool
	PreviousActiveState() StateNode
	PreviousActiveTransition() *Transition

	state() *State
}

// State is a plain state. Conduits and state machines embed it.
type State struct {
	node

	outgoing []*Transition
	incoming []*Transition

	isRootNode        bool
	timeInState       float64
	serverTimeInState float64
	startTime         time.Time
	endTime           time.Time
	hasUpdated        bool
	reentered         bool
	ending            bool

	alwaysUpdate                    bool
	stayActiveOnStateChange         bool
	allowParallelReentry            bool
	evalTransitionsOnStart          bool
	disableTickTransitionEvaluation bool

	previousState      StateNode
	previousTransition *Transition
	nextTransition     *Transition
}

func (s *State) state() *State { return s }
func (s *State) OutgoingTransitions() []*Transition { return s.outgoing }
func (s *State) IncomingTransitions() []*Transition { return s.incoming }
func (s *State) TimeInState() float64 { return s.timeInState }
func (s *State) ActiveTime() float64 { return s.timeInState }
func (s *State) ServerTimeInState() float64 { return s.serverTimeInState }
func (s *State) SetServerTimeInState(seconds float64) { s.serverTimeInState = seconds }
func (s *State) StartTime() time.Time { return s.startTime }
func (s *State) EndTime() time.Time { return s.endTime }
func (s *State) HasUpdated() bool { return s.hasUpdated }
func (s *State) IsRootNode() bool { return s.isRootNode }
func (s *State) PreviousActiveState() StateNode { return s.previousState }
func (s *State) PreviousActiveTransition() *Transition { return s.previousTransition }
func (s *State) StayActiveOnStateChange() bool { return s.stayActiveOnStateChange }
func (s *State) HasBeenReenteredFromParallelState() bool { return s.reentered }

// IsStateEnding reports whether end logic is running.
func (s *State) IsStateEnding() bool { return s.ending }

func (s *State) startBase() bool {
	s.nextTransition = nil

	if s.active && (!s.reentered || !s.allowParallelReentry) {
		return false
	}

	s.startTime = s.now()
	s.hasUpdated = false
	s.timeInState = 0
	s.serverTimeInState = ActiveTimeNotSet

	s.evaluateProperties(PropertiesOnStart)
	s.setActive(true)
	s.notifyStarted()
	s.initializeTransitions()
	return true
}

func (s *State) updateBase(delta float64) bool {
	if !s.active {
		return false
	}
	s.timeInState += delta
	s.evaluateProperties(PropertiesOnUpdate)
	s.hasUpdated = true
	return true
}

func (s *State) endBase(delta float64, via *Transition) bool {
	if !s.active {
		return false
	}

	s.endTime = s.now()
	s.setTransitionToTake(via)

	if s.alwaysUpdate && !s.hasUpdated {
		s.self.(StateNode).UpdateState(delta)
	} else {
		s.timeInState += delta
	}

	s.evaluateProperties(PropertiesOnEnd)
	s.setActive(false)
	return true
}

// StartState enters the state. It returns false if the state was already
// active and may not be reentered.
func (s *State) StartState() bool {
	if !s.startBase() {
		return false
	}
	if s.canExecuteLogic() {
		cb := s.instance.registry.state(s.nodeGuid)
		ctx := s.evalContext(0)
		if cb.OnBegin != nil {
			cb.OnBegin(ctx)
		}
		if logic, ok := s.GetOrCreateNodeInstance().(StateLogic); ok {
			ctx.NodeInstance = logic
			logic.OnStateBegin(ctx)
		}
	}
	return true
}

// UpdateState accumulates time and runs update logic.
func (s *State) UpdateState(delta float64) bool {
	if !s.updateBase(delta) {
		return false
	}
	if s.canExecuteLogic() {
		cb := s.instance.registry.state(s.nodeGuid)
		ctx := s.evalContext(delta)
		if cb.OnUpdate != nil {
			cb.OnUpdate(ctx)
		}
		if logic, ok := s.NodeInstance().(StateLogic); ok {
			logic.OnStateUpdate(ctx)
		}
	}
	return true
}

// EndState leaves the state. via is the transition being taken, if any.
func (s *State) EndState(delta float64, via *Transition) bool {
	if !s.endBase(delta, via) {
		return false
	}
	if s.canExecuteLogic() {
		s.ending = true
		cb := s.instance.registry.state(s.nodeGuid)
		ctx := s.evalContext(delta)
		if cb.OnEnd != nil {
			cb.OnEnd(ctx)
		}
		if logic, ok := s.NodeInstance().(StateLogic); ok {
			logic.OnStateEnd(ctx)
		}
		s.ending = false
	}
	s.shutdownTransitions()
	return true
}

// GetValidTransition evaluates outgoing transitions in priority order. The
// first passing transition wins unless it runs in parallel, in which case
// evaluation continues and every passing parallel chain is returned.
func (s *State) GetValidTransition() [][]*Transition {
	return s.validTransitions()
}

func (s *State) validTransitions() [][]*Transition {
	var chains [][]*Transition
	isConduit := s.kind == KindConduit
	for _, t := range s.outgoing {
		if chain, ok := t.CanTransition(); ok {
			chains = append(chains, chain)
			if isConduit || !t.runParallel {
				return chains
			}
		}
	}
	return chains
}

// IsEndState reports whether no outgoing transition can ever pass.
func (s *State) IsEndState() bool {
	for _, t := range s.outgoing {
		if !t.alwaysFalse {
			return false
		}
	}
	return true
}

func (s *State) IsInEndState() bool {
	return s.IsEndState()
}

// CanEvaluateTransitionsOnTick is false for states that only leave through
// events, unless one of their transitions was just triggered.
func (s *State) CanEvaluateTransitionsOnTick() bool {
	if s.disableTickTransitionEvaluation {
		for _, t := range s.outgoing {
			if t.CanTransitionFromEvent() {
				return true
			}
		}
		return false
	}
	return true
}

func (s *State) sortTransitions() {
	sort.SliceStable(s.outgoing, func(i, j int) bool { return s.outgoing[i].priority < s.outgoing[j].priority })
	sort.SliceStable(s.incoming, func(i, j int) bool { return s.incoming[i].priority < s.incoming[j].priority })
}

func (s *State) setTransitionToTake(t *Transition) {
	s.nextTransition = t
	if t != nil {
		s.serverTimeInState = t.serverTimeInState
	}
}

func (s *State) setPreviousActiveState(prev StateNode) { s.previousState = prev }
func (s *State) setPreviousActiveTransition(t *Transition) { s.previousTransition = t }
func (s *State) notifyOfParallelReentry(value bool) { s.reentered = value }

func (s *State) initializeTransitions() {
	for _, t := range s.outgoing {
		t.canEnterFromEvent = false
		t.isEvaluating = false
	}
}

func (s *State) shutdownTransitions() {
	for _, t := range s.outgoing {
		t.isEvaluating = false
		t.canEnterFromEvent = false
	}
}

func (s *State) notifyStarted() {
	if s.instance == nil {
		return
	}
	// A referenced root is announced by the referencing node.
	if s.isRootMachine() && s.instance.referenceOwner != nil {
		return
	}
	s.instance.notifyStateStarted(s.self.(StateNode))
}

func (s *State) canExecuteLogic() bool {
	return s.instance != nil && s.instance.canExecuteStateLogic
}

func (s *State) now() time.Time {
	if s.instance == nil {
		return time.Now().UTC()
	}
	return s.instance.now()
}

func (s *State) reset() {
	s.resetNode()
	s.timeInState = 0
	s.serverTimeInState = ActiveTimeNotSet
	s.hasUpdated = false
	s.reentered = false
	s.ending = false
	s.startTime = time.Time{}
	s.endTime = time.Time{}
	s.previousState = nil
	s.previousTransition = nil
	s.nextTransition = nil
}
