package core

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/logger"
)

// StateMachine is a state that owns states and transitions of its own, or
// delegates to a referenced instance.
type StateMachine struct {
	State

	states                 []StateNode
	transitions            []*Transition
	activeStates           []StateNode
	initialStates          []StateNode
	temporaryInitialStates []StateNode

	reference         *Instance
	referenceName     string
	referenceTemplate string
	replicated        bool

	waitForEndState        bool
	reuseCurrentState      bool
	onlyReuseIfNotEndState bool

	canEvaluateTransitions     bool
	canTakeTransitions         bool
	waitingForTransitionUpdate bool

	// processing tracks states handled during one scheduler run so that a
	// state is not processed twice within the same pass.
	processing map[uuid.UUID]map[StateNode]struct{}
}

// ProcessScope limits a scheduler run.
type ProcessScope struct {
	// States to process. Empty means the active states.
	States []StateNode
	// JustStarted holds states already started by the caller.
	JustStarted []StateNode
}

// NodeQuery selects nodes for GetAllNodes.
type NodeQuery struct {
	IncludeNested  bool
	SkipReferences bool
	IncludeSelf    bool
}

type stateTimes struct {
	start time.Time
	end   time.Time
}

func newStateMachine() *StateMachine {
	return &StateMachine{
		canEvaluateTransitions: true,
		canTakeTransitions:     true,
		processing:             make(map[uuid.UUID]map[StateNode]struct{}),
	}
}

func (sm *StateMachine) States() []StateNode { return sm.states }
func (sm *StateMachine) Transitions() []*Transition { return sm.transitions }
func (sm *StateMachine) WaitForEndState() bool { return sm.waitForEndState }
func (sm *StateMachine) CanEvaluateTransitions() bool { return sm.canEvaluateTransitions }
func (sm *StateMachine) CanTakeTransitions() bool { return sm.canTakeTransitions }

// IsWaitingForTransitionUpdate reports a transition handed to the server
// that has not been confirmed yet.
func (sm *StateMachine) IsWaitingForTransitionUpdate() bool { return sm.waitingForTransitionUpdate }

// Reference returns the referenced instance, or nil.
func (sm *StateMachine) Reference() *Instance { return sm.reference }

// ReferenceTemplate names the template the reference was created from.
func (sm *StateMachine) ReferenceTemplate() string { return sm.referenceTemplate }

// IsReplicated reports whether the reference is created on every peer.
func (sm *StateMachine) IsReplicated() bool { return sm.replicated }

func (sm *StateMachine) referencedRoot() *StateMachine {
	if sm.reference == nil {
		return nil
	}
	return sm.reference.root
}

// SetAllowTransitionsLocally controls whether this machine evaluates and
// takes transitions on its own. Without permission to take, a passing
// transition is sent to the server and the machine waits for the answer.
func (sm *StateMachine) SetAllowTransitionsLocally(canEvaluate, canTake bool) {
	sm.canEvaluateTransitions = canEvaluate
	sm.canTakeTransitions = canTake
	if canTake {
		sm.waitingForTransitionUpdate = false
	}
}

// StartState enters the machine and its initial states.
func (sm *StateMachine) StartState() bool {
	if !sm.startBase() {
		return false
	}
	sm.runLogic(func(cb StateCallbacks) Action { return cb.OnBegin }, 0, StateLogic.OnStateBegin)

	if sm.reference != nil {
		if err := sm.reference.Start(); err != nil {
			sm.log().Error("could not start reference", logger.Node(sm.QualifiedName()), logger.Error(err))
		}
		return true
	}

	if !sm.reuseCurrentState || len(sm.activeStates) == 0 {
		for _, s := range slices.Clone(sm.GetInitialStates()) {
			sm.SetCurrentState(s, nil, nil)
		}
		if sm.HasTemporaryInitialStates() {
			sm.ClearTemporaryInitialStates(false)
		}
	}

	sm.ProcessStates(0, false, uuid.Nil, ProcessScope{})
	return true
}

// UpdateState runs update logic, then the scheduler.
func (sm *StateMachine) UpdateState(delta float64) bool {
	if !sm.updateBase(delta) {
		return false
	}
	sm.runLogic(func(cb StateCallbacks) Action { return cb.OnUpdate }, delta, StateLogic.OnStateUpdate)

	if sm.reference != nil {
		sm.reference.runUpdateAsReference(delta)
		return true
	}
	sm.ProcessStates(delta, false, uuid.Nil, ProcessScope{})
	return true
}

// EndState leaves the machine. Active states are ended and, unless the
// machine reuses its current state, removed.
func (sm *StateMachine) EndState(delta float64, via *Transition) bool {
	if !sm.endBase(delta, via) {
		return false
	}
	sm.ending = true
	sm.runLogic(func(cb StateCallbacks) Action { return cb.OnEnd }, delta, StateLogic.OnStateEnd)
	sm.ending = false

	if sm.reference != nil {
		sm.reference.root.setTransitionToTake(via)
		sm.reference.Stop()
		sm.shutdownTransitions()
		return true
	}

	reuse := sm.CanReuseCurrentState()
	for _, s := range slices.Clone(sm.activeStates) {
		s.EndState(delta, nil)
		if !reuse {
			sm.SetCurrentState(nil, s, nil)
		}
	}
	sm.shutdownTransitions()
	return true
}

func (sm *StateMachine) runLogic(pick func(StateCallbacks) Action, delta float64, call func(StateLogic, *EvalContext)) {
	if !sm.canExecuteLogic() {
		return
	}
	ctx := sm.evalContext(delta)
	if action := pick(sm.instance.registry.state(sm.nodeGuid)); action != nil {
		action(ctx)
	}
	if logic, ok := sm.GetOrCreateNodeInstance().(StateLogic); ok {
		ctx.NodeInstance = logic
		call(logic, ctx)
	}
}

// IsInEndState reports whether an active state is an end state. A nested
// machine that waits for its end state counts only once it is in one. A
// machine without active states is in an end state.
func (sm *StateMachine) IsInEndState() bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.IsInEndState()
	}
	for _, s := range sm.activeStates {
		if !s.IsEndState() {
			continue
		}
		if nested, ok := s.(*StateMachine); ok && nested.waitForEndState && !nested.IsInEndState() {
			continue
		}
		return true
	}
	return len(sm.activeStates) == 0
}

// ProcessStates is the scheduler. It starts pending states, evaluates
// their transitions, takes passing chains and updates states that were
// already running. States entered during the run are processed in the
// same run, right after the state that led to them.
//
// evaluateOnly skips updates and tick-disabled checks. runGuid identifies
// the run; uuid.Nil starts a new one.
func (sm *StateMachine) ProcessStates(delta float64, evaluateOnly bool, runGuid uuid.UUID, scope ProcessScope) {
	if ref := sm.referencedRoot(); ref != nil {
		ref.ProcessStates(delta, evaluateOnly, runGuid, scope)
		return
	}

	if runGuid == uuid.Nil {
		runGuid = uuid.New()
	}
	_, known := sm.processing[runGuid]
	defer func() {
		if !known {
			delete(sm.processing, runGuid)
		}
	}()

	var queue []StateNode
	if len(scope.States) > 0 {
		queue = slices.Clone(scope.States)
	} else {
		queue = slices.Clone(sm.GetActiveStates())
	}

	times := make(map[StateNode]stateTimes, len(queue))
	track := func(s StateNode) { times[s] = stateTimes{start: s.StartTime(), end: s.EndTime()} }
	for _, s := range queue {
		track(s)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		// A state restarted or ended since it was queued belongs to a
		// different pass.
		if rec := times[current]; !current.StartTime().Equal(rec.start) || !current.EndTime().Equal(rec.end) {
			continue
		}

		reentered := current.state().reentered
		safe := slices.Contains(scope.JustStarted, current)
		justStarted := safe
		if !safe {
			justStarted, safe = sm.TryStartState(current)
		}
		if justStarted && reentered && slices.Contains(queue, current) {
			track(current)
		}
		if !safe || sm.isProcessing(runGuid, current) {
			continue
		}

		canCheck := sm.canEvaluateTransitions && !sm.waitingForTransitionUpdate &&
			(evaluateOnly || current.CanEvaluateTransitionsOnTick())
		if canCheck {
			if nested, ok := current.(*StateMachine); ok && nested.waitForEndState {
				canCheck = nested.IsInEndState()
			}
		}

		if canCheck {
			if chains := current.GetValidTransition(); len(chains) > 0 {
				taken := false
				insertAt := 0
				for _, chain := range chains {
					if len(chain) == 0 {
						continue
					}
					added := sm.addProcessing(runGuid, current)
					if dest, ok := sm.TryTakeTransitionChain(chain, delta, justStarted); ok {
						taken = true
						queue = slices.Insert(queue, insertAt, dest)
						track(dest)
						insertAt++
					} else if added {
						sm.removeProcessing(runGuid, current)
					}
				}
				if taken && !current.IsActive() {
					continue
				}
			}
		}

		if justStarted {
			continue
		}
		if evaluateOnly {
			if nested, ok := current.(*StateMachine); ok {
				nested.ProcessStates(delta, true, runGuid, ProcessScope{})
			}
			continue
		}
		sm.addProcessing(runGuid, current)
		current.UpdateState(delta)
	}
}

func (sm *StateMachine) addProcessing(run uuid.UUID, s StateNode) bool {
	set, ok := sm.processing[run]
	if !ok {
		set = make(map[StateNode]struct{})
		sm.processing[run] = set
	}
	if _, exists := set[s]; exists {
		return false
	}
	set[s] = struct{}{}
	return true
}

func (sm *StateMachine) removeProcessing(run uuid.UUID, s StateNode) {
	delete(sm.processing[run], s)
}

func (sm *StateMachine) isProcessing(run uuid.UUID, s StateNode) bool {
	_, ok := sm.processing[run][s]
	return ok
}

// TryStartState starts s if it is inactive, or reentered from a parallel
// state. safe reports whether the state may be evaluated in this pass.
func (sm *StateMachine) TryStartState(s StateNode) (started, safe bool) {
	st := s.state()
	safe = true
	if s.IsActive() && !st.reentered {
		return false, true
	}
	if st.ending {
		return false, false
	}
	if !s.IsActive() || !st.reentered || st.allowParallelReentry {
		s.StartState()
		started = true
	}
	st.notifyOfParallelReentry(false)

	if !slices.Contains(sm.activeStates, s) || !st.evalTransitionsOnStart {
		safe = false
	}
	return started, safe
}

// TryTakeTransitionChain processes every transition of chain and returns
// the final destination. It fails when the chain may not run right after
// its source started, or when the destination is already active and no
// link allows that.
func (sm *StateMachine) TryTakeTransitionChain(chain []*Transition, delta float64, justStarted bool) (StateNode, bool) {
	if len(chain) == 0 {
		return nil, false
	}
	if justStarted && !CanEvaluateWithStartState(chain) {
		return nil, false
	}

	source := chain[0].from
	dest := FinalStateFromChain(chain)
	if dest != source && dest.IsActive() && !CanChainEvalIfNextStateActive(chain) {
		return nil, false
	}

	taken := false
	for _, t := range chain {
		if sm.ProcessTransition(t, source, dest, nil, delta, time.Time{}) {
			taken = true
		}
	}
	return dest, taken
}

// TakeTransitionChain takes chain and evaluates the destination right away.
func (sm *StateMachine) TakeTransitionChain(chain []*Transition) bool {
	dest, ok := sm.TryTakeTransitionChain(chain, 0, false)
	if !ok {
		return false
	}
	if sm.canTakeTransitions {
		sm.ProcessStates(0, true, uuid.Nil, ProcessScope{States: []StateNode{dest}})
	}
	return true
}

// EvaluateAndTakeTransitionChain evaluates first and takes the chain it
// leads to when it passes.
func (sm *StateMachine) EvaluateAndTakeTransitionChain(first *Transition) bool {
	if !sm.canEvaluateTransitions || first == nil || !first.from.IsActive() {
		return false
	}
	chain, ok := first.CanTransition()
	if !ok {
		return false
	}
	return sm.TakeTransitionChain(chain)
}

// ProcessTransition takes one transition of a chain. source and dest are
// the chain endpoints. A non-nil req marks a replicated transition being
// applied; otherwise a networked machine forwards the transition to the
// server and takes it locally only if allowed. now stamps the request and
// may be zero.
func (sm *StateMachine) ProcessTransition(t *Transition, source, dest StateNode, req *TransitionRequest, delta float64, now time.Time) bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.ProcessTransition(t, source, dest, req, delta, now)
	}

	serverUpdate := req != nil
	canTakeNow := sm.canTakeTransitions || serverUpdate
	sm.waitingForTransitionUpdate = false

	if ni := sm.networkInterface(); !serverUpdate && ni != nil {
		if now.IsZero() {
			now = sm.now()
		}
		out := TransitionRequest{BaseGuid: t.guid, Timestamp: now, ActiveTime: ActiveTimeNotSet}
		if source != t.from || dest != t.to {
			out.AdditionalGuids = []uuid.UUID{source.Guid(), dest.Guid()}
		}
		if sm.canTakeTransitions {
			out.ActiveTime = source.ActiveTime() + delta
		}
		t.lastNetworkTimestamp = now
		t.serverTimeInState = ActiveTimeNotSet
		if !canTakeNow {
			sm.waitingForTransitionUpdate = true
		}
		ni.ServerTakeTransition(out)
	} else if serverUpdate {
		if !req.IsServer {
			t.serverTimeInState = req.ActiveTime
		}
		t.lastNetworkTimestamp = req.Timestamp
	}

	if !canTakeNow {
		return false
	}

	last := t.from
	if last.IsActive() && !last.state().stayActiveOnStateChange {
		last.EndState(delta, t)
	}
	t.sourceState = source
	t.destinationState = dest
	t.TakeTransition()
	t.to.state().setPreviousActiveTransition(t)
	sm.instance.notifyTransitionTaken(t)
	sm.SetCurrentState(t.to, last, source)

	if !slices.Contains(sm.activeStates, t.to) {
		sm.log().Error("transition destination is not active after taking it",
			logger.Node(t.QualifiedName()), slog.String("to", t.to.QualifiedName()))
		return false
	}
	return true
}

func (sm *StateMachine) networkInterface() NetworkInterface {
	if sm.instance == nil {
		return nil
	}
	ni := sm.instance.NetworkInterface()
	if ni == nil || !ni.IsConfiguredForNetworking() {
		return nil
	}
	return ni
}

// SetCurrentState makes to active and removes from, unless from stays
// active on state change. Either may be nil. source is recorded as the
// previous state of to; it defaults to from.
func (sm *StateMachine) SetCurrentState(to, from, source StateNode) {
	if from != nil && !from.state().stayActiveOnStateChange {
		sm.removeFromActive(from)
	}
	if to != nil {
		prev := source
		if prev == nil {
			prev = from
		}
		to.state().setPreviousActiveState(prev)
		if slices.Contains(sm.activeStates, to) {
			to.state().notifyOfParallelReentry(true)
		} else {
			sm.activeStates = append(sm.activeStates, to)
		}
	}
	sm.instance.notifyStateChange(to, from)
}

func (sm *StateMachine) removeFromActive(s StateNode) {
	if i := slices.Index(sm.activeStates, s); i >= 0 {
		sm.activeStates = slices.Delete(sm.activeStates, i, i+1)
	}
}

// AddActiveState adds s to the active states without starting it. The
// next scheduler run starts it.
func (sm *StateMachine) AddActiveState(s StateNode) {
	sm.SetCurrentState(s, nil, nil)
}

// RemoveActiveState ends s and removes it from the active states.
func (sm *StateMachine) RemoveActiveState(s StateNode) {
	if !slices.Contains(sm.activeStates, s) {
		return
	}
	s.EndState(0, nil)
	sm.removeFromActive(s)
	sm.instance.notifyStateChange(nil, s)
}

// SetReuseCurrentState keeps the active states across an end and restart
// of the machine. With onlyIfNotEndState the states are dropped if the
// machine ended in an end state.
func (sm *StateMachine) SetReuseCurrentState(reuse, onlyIfNotEndState bool) {
	if ref := sm.referencedRoot(); ref != nil {
		ref.SetReuseCurrentState(reuse, onlyIfNotEndState)
		return
	}
	sm.reuseCurrentState = reuse
	sm.onlyReuseIfNotEndState = onlyIfNotEndState
}

// CanReuseCurrentState reports whether active states survive EndState.
func (sm *StateMachine) CanReuseCurrentState() bool {
	return sm.reuseCurrentState && (!sm.IsInEndState() || !sm.onlyReuseIfNotEndState)
}

// AddInitialState marks s as an entry state. s must belong to the machine.
func (sm *StateMachine) AddInitialState(s StateNode) bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.AddInitialState(s)
	}
	if !slices.Contains(sm.states, s) {
		return false
	}
	if !slices.Contains(sm.initialStates, s) {
		sm.initialStates = append(sm.initialStates, s)
	}
	return true
}

// AddTemporaryInitialState marks s to be entered instead of the initial
// states on the next start. s must belong to the machine.
func (sm *StateMachine) AddTemporaryInitialState(s StateNode) bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.AddTemporaryInitialState(s)
	}
	if !slices.Contains(sm.states, s) {
		return false
	}
	if !slices.Contains(sm.temporaryInitialStates, s) {
		sm.temporaryInitialStates = append(sm.temporaryInitialStates, s)
	}
	return true
}

// ClearTemporaryInitialStates drops pending temporary states, in nested
// machines too when recursive is set.
func (sm *StateMachine) ClearTemporaryInitialStates(recursive bool) {
	if ref := sm.referencedRoot(); ref != nil {
		ref.ClearTemporaryInitialStates(recursive)
		return
	}
	if recursive {
		for _, s := range sm.states {
			if nested, ok := s.(*StateMachine); ok {
				nested.ClearTemporaryInitialStates(true)
			}
		}
	}
	sm.temporaryInitialStates = nil
}

// HasTemporaryInitialStates reports pending temporary states.
func (sm *StateMachine) HasTemporaryInitialStates() bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.HasTemporaryInitialStates()
	}
	return len(sm.temporaryInitialStates) > 0
}

// SetFromTemporaryInitialStates replaces the active states of a running
// machine with the temporary states, recursively.
func (sm *StateMachine) SetFromTemporaryInitialStates() {
	if ref := sm.referencedRoot(); ref != nil {
		ref.SetFromTemporaryInitialStates()
		return
	}
	if len(sm.temporaryInitialStates) == 0 {
		return
	}
	for _, s := range slices.Clone(sm.activeStates) {
		if !slices.Contains(sm.temporaryInitialStates, s) {
			sm.RemoveActiveState(s)
		}
	}
	for _, s := range sm.temporaryInitialStates {
		if nested, ok := s.(*StateMachine); ok {
			nested.SetFromTemporaryInitialStates()
		}
		if !slices.Contains(sm.activeStates, s) {
			sm.AddActiveState(s)
		}
	}
	sm.ClearTemporaryInitialStates(false)
}

// GetInitialStates returns the temporary initial states if any, otherwise
// the configured initial states.
func (sm *StateMachine) GetInitialStates() []StateNode {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.GetInitialStates()
	}
	if len(sm.temporaryInitialStates) > 0 {
		return sm.temporaryInitialStates
	}
	return sm.initialStates
}

// EntryStates returns the configured initial states.
func (sm *StateMachine) EntryStates() []StateNode {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.EntryStates()
	}
	return sm.initialStates
}

// GetActiveStates returns the active states, or the temporary initial
// states when nothing is active.
func (sm *StateMachine) GetActiveStates() []StateNode {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.GetActiveStates()
	}
	if len(sm.activeStates) == 0 && len(sm.temporaryInitialStates) > 0 {
		return sm.temporaryInitialStates
	}
	return sm.activeStates
}

// GetSingleActiveState returns the first active state, or nil.
func (sm *StateMachine) GetSingleActiveState() StateNode {
	if active := sm.GetActiveStates(); len(active) > 0 {
		return active[0]
	}
	return nil
}

// ContainsActiveState reports whether s is active in this machine.
func (sm *StateMachine) ContainsActiveState(s StateNode) bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.ContainsActiveState(s)
	}
	return slices.Contains(sm.activeStates, s)
}

// HasActiveStates reports whether any state is active.
func (sm *StateMachine) HasActiveStates() bool {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.HasActiveStates()
	}
	return len(sm.activeStates) > 0
}

// GetAllNestedActiveStates returns the active states of this machine and
// every nested machine and reference, depth first.
func (sm *StateMachine) GetAllNestedActiveStates() []StateNode {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.GetAllNestedActiveStates()
	}
	var out []StateNode
	for _, s := range sm.activeStates {
		out = append(out, s)
		if nested, ok := s.(*StateMachine); ok {
			out = append(out, nested.GetAllNestedActiveStates()...)
		}
	}
	return out
}

// GetAllNestedInitialTemporaryStates returns pending temporary states of
// this machine and every nested machine.
func (sm *StateMachine) GetAllNestedInitialTemporaryStates() []StateNode {
	if ref := sm.referencedRoot(); ref != nil {
		return ref.GetAllNestedInitialTemporaryStates()
	}
	var out []StateNode
	for _, s := range sm.states {
		if slices.Contains(sm.temporaryInitialStates, s) {
			out = append(out, s)
		}
		if nested, ok := s.(*StateMachine); ok {
			out = append(out, nested.GetAllNestedInitialTemporaryStates()...)
		}
	}
	return out
}

// GetAllNodes lists nodes below this machine.
func (sm *StateMachine) GetAllNodes(q NodeQuery) []Node {
	var out []Node
	if q.IncludeSelf {
		out = append(out, sm)
	}
	if sm.reference != nil {
		if !q.SkipReferences && q.IncludeNested {
			out = append(out, sm.reference.root.GetAllNodes(NodeQuery{IncludeNested: true, IncludeSelf: true})...)
		}
		return out
	}
	for _, s := range sm.states {
		out = append(out, s)
		if nested, ok := s.(*StateMachine); ok && q.IncludeNested {
			out = append(out, nested.GetAllNodes(NodeQuery{IncludeNested: true, SkipReferences: q.SkipReferences})...)
		}
	}
	for _, t := range sm.transitions {
		out = append(out, t)
	}
	return out
}

// FindState searches this machine, its nested machines and references for
// a state with the given runtime guid.
func (sm *StateMachine) FindState(guid uuid.UUID) StateNode {
	if sm.guid == guid {
		return sm
	}
	if sm.reference != nil {
		return sm.reference.root.FindState(guid)
	}
	for _, s := range sm.states {
		if s.Guid() == guid {
			return s
		}
		if nested, ok := s.(*StateMachine); ok {
			if found := nested.FindState(guid); found != nil {
				return found
			}
		}
	}
	return nil
}

// FindStateByPath follows state names downwards, entering references.
func (sm *StateMachine) FindStateByPath(names []string) StateNode {
	if len(names) == 0 {
		return sm
	}
	if ref := sm.referencedRoot(); ref != nil {
		return ref.FindStateByPath(names)
	}
	for _, s := range sm.states {
		if s.Name() != names[0] {
			continue
		}
		if len(names) == 1 {
			return s
		}
		if nested, ok := s.(*StateMachine); ok {
			return nested.FindStateByPath(names[1:])
		}
		return nil
	}
	return nil
}

// calculatePathGuids assigns runtime guids to this machine and every node
// below it, references included.
func (sm *StateMachine) calculatePathGuids(paths map[string]int) {
	sm.calculatePathGuid(paths)
	if sm.reference != nil {
		sm.reference.root.calculatePathGuids(paths)
		return
	}
	for _, s := range sm.states {
		if nested, ok := s.(*StateMachine); ok {
			nested.calculatePathGuids(paths)
			continue
		}
		s.base().calculatePathGuid(paths)
	}
	for _, t := range sm.transitions {
		t.calculatePathGuid(paths)
	}
}

func (sm *StateMachine) log() *slog.Logger {
	if sm.instance == nil {
		return logger.Discard()
	}
	return sm.instance.logger
}

func (sm *StateMachine) reset() {
	sm.State.reset()
	sm.activeStates = nil
	sm.temporaryInitialStates = nil
	sm.waitingForTransitionUpdate = false
	clear(sm.processing)
}
