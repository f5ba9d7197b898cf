package core

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/logger"
)

// Status is the lifecycle position of an instance.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusInitialized
	StatusStarted
	StatusStopped
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusInitialized:
		return "initialized"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instance) {
		if l != nil {
			i.baseLogger = l
		}
	}
}

// WithRegistry sets the callback registry shared with references.
func WithRegistry(r *Registry) Option {
	return func(i *Instance) { i.registry = r }
}

// WithLibrary sets the library references are resolved from.
func WithLibrary(l *definition.Library) Option {
	return func(i *Instance) { i.library = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Instance) {
		if now != nil {
			i.clock = now
		}
	}
}

// WithSettings replaces the engine settings.
func WithSettings(s Settings) Option {
	return func(i *Instance) { i.settings = s }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(i *Instance) { i.observers.AddObserver(o) }
}

// WithNetworkInterface attaches the replication layer.
func WithNetworkInterface(ni NetworkInterface) Option {
	return func(i *Instance) { i.network = ni }
}

type replicatedReference struct {
	pathGuid  uuid.UUID
	reference *Instance
}

// Instance runs one definition. It owns the runtime tree, the guid maps
// and the state history. An instance is not safe for concurrent use; only
// async initialization runs on another goroutine.
type Instance struct {
	def        *definition.Definition
	library    *definition.Library
	registry   *Registry
	settings   Settings
	baseLogger *slog.Logger
	logger     *slog.Logger
	clock      func() time.Time
	observers  *ObserverManager
	network    NetworkInterface

	root           *StateMachine
	context        any
	referenceOwner *Instance
	propertyData   *CachedPropertyData

	status               Status
	initialized          bool
	hasStarted           bool
	isUpdating           bool
	waitingForStop       bool
	loadFromStatesCalled bool
	stopOnEndState       bool
	canExecuteStateLogic bool
	lastUpdate           time.Time

	historyMax int
	history    []StateHistoryEntry

	nodeMap       map[uuid.UUID]Node
	stateMap      map[uuid.UUID]StateNode
	transitionMap map[uuid.UUID]*Transition
	machineGuids  map[uuid.UUID]struct{}

	replicatedReferences []replicatedReference
	pendingActivation    []StateNode

	asyncMu sync.Mutex
	async   *asyncInit
}

// NewInstance creates an uninitialized instance of def.
func NewInstance(def *definition.Definition, opts ...Option) *Instance {
	i := &Instance{
		def:                  def,
		settings:             DefaultSettings(),
		baseLogger:           logger.Discard(),
		clock:                time.Now,
		observers:            NewObserverManager(),
		canExecuteStateLogic: true,
		root:                 newStateMachine(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.registry == nil {
		i.registry = NewRegistry()
	}
	i.logger = i.baseLogger.With(logger.Machine(def.Name))
	i.applySettings(nil)
	return i
}

// applySettings resolves the per-instance settings. Definition values win
// over engine settings and template values win over both.
func (i *Instance) applySettings(tmpl *definition.Template) {
	i.stopOnEndState = i.settings.StopOnEndState || i.def.StopOnEndState
	i.historyMax = i.settings.StateHistoryMax
	if i.def.StateHistoryMax != nil {
		i.historyMax = *i.def.StateHistoryMax
	}
	if tmpl == nil {
		return
	}
	if tmpl.StopOnEndState != nil {
		i.stopOnEndState = *tmpl.StopOnEndState
	}
	if tmpl.StateHistoryMax != nil {
		i.historyMax = *tmpl.StateHistoryMax
	}
}

func (i *Instance) Definition() *definition.Definition { return i.def }
func (i *Instance) Name() string { return i.def.Name }
func (i *Instance) Root() *StateMachine { return i.root }
func (i *Instance) Context() any { return i.context }
func (i *Instance) Logger() *slog.Logger { return i.logger }
func (i *Instance) Registry() *Registry { return i.registry }
func (i *Instance) Settings() Settings { return i.settings }
func (i *Instance) IsInitialized() bool { return i.initialized }
func (i *Instance) HasStarted() bool { return i.hasStarted }
func (i *Instance) IsUpdating() bool { return i.isUpdating }
func (i *Instance) StopOnEndState() bool { return i.stopOnEndState }
func (i *Instance) SetStopOnEndState(v bool) { i.stopOnEndState = v }
func (i *Instance) AddObserver(o Observer) { i.observers.AddObserver(o) }
func (i *Instance) RemoveObserver(o Observer) { i.observers.RemoveObserver(o) }

// Status reports the lifecycle position.
func (i *Instance) Status() Status {
	if i.IsInitializingAsync() {
		return StatusInitializing
	}
	return i.status
}

// WasLoadedFromState reports whether LoadFromState ran with notify since
// the last stop.
func (i *Instance) WasLoadedFromState() bool { return i.loadFromStatesCalled }

func (i *Instance) now() time.Time { return i.clock().UTC() }

// Initialize builds the runtime tree and finishes initialization.
// userContext is handed to every callback and must not be nil.
func (i *Instance) Initialize(ctx context.Context, userContext any) error {
	if i.IsInitializingAsync() {
		i.logger.Warn("initialize called while async initialization is running")
		return ErrAsyncInProgress
	}
	if i.initialized {
		i.logger.Warn("instance is already initialized; shut it down before initializing again")
		return ErrAlreadyInitialized
	}
	if userContext == nil {
		i.logger.Error("instance context is nil")
		return ErrNilContext
	}

	if err := i.generateAll(ctx, userContext); err != nil {
		i.logger.Error("could not generate state machine", logger.Error(err))
		return err
	}
	if i.IsPrimaryReferenceOwner() {
		return i.finishInitialize()
	}
	return nil
}

// generateAll builds the tree and, on the primary owner, the guids and
// maps that span references.
func (i *Instance) generateAll(ctx context.Context, userContext any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	i.context = userContext
	if err := i.generate(ctx, newGeneration(i.def.Name)); err != nil {
		i.root = newStateMachine()
		return err
	}
	if i.IsPrimaryReferenceOwner() {
		i.root.calculatePathGuids(make(map[string]int))
		i.buildStateMachineMap()
	}
	return nil
}

// FinishInitialize completes initialization on the caller's goroutine.
// It is called by Initialize. After InitializeAsync it completes the
// handoff once generation is done and fails while it is still running.
func (i *Instance) FinishInitialize() error {
	if i.initialized {
		i.logger.Debug("finish initialize called on an initialized instance")
		return nil
	}
	if a := i.currentAsync(); a != nil {
		if !a.future.IsComplete() {
			return ErrAsyncInProgress
		}
		return i.completeAsync()
	}
	return i.finishInitialize()
}

func (i *Instance) finishInitialize() error {
	if i.IsPrimaryReferenceOwner() {
		for _, ref := range i.GetAllReferencedInstances(true) {
			if err := ref.finishInitialize(); err != nil {
				return err
			}
		}
	} else if i.root == nil || i.root.nodeGuid == uuid.Nil {
		return ErrNotInitialized
	}

	i.initialized = true
	i.status = StatusInitialized
	i.logger.Debug("instance initialized", slog.Int("nodes", len(i.nodeMap)))
	i.observers.NotifyInitialized(i)
	return nil
}

func (i *Instance) checkInitialized() bool {
	if !i.initialized {
		i.logger.Warn("instance used before it was initialized")
		return false
	}
	return true
}

// Start enters the root machine. Starting a started instance does nothing.
func (i *Instance) Start() error {
	if !i.checkInitialized() {
		return ErrNotInitialized
	}
	if i.hasStarted || (i.root.IsActive() && i.root.GetSingleActiveState() != nil) {
		i.logger.Debug("start called on a running instance")
		return nil
	}

	i.pendingActivation = nil
	i.hasStarted = true
	i.status = StatusStarted
	i.doStart()
	return nil
}

func (i *Instance) doStart() {
	i.logger.Debug("instance started")
	i.observers.NotifyStarted(i)
	for _, n := range i.root.GetAllNodes(NodeQuery{IncludeNested: true, SkipReferences: true, IncludeSelf: true}) {
		n.base().rootEvent(true)
	}
	i.root.StartState()
	i.lastUpdate = i.now()
}

// Update advances the instance by delta seconds. Calls made while an
// update is running are ignored.
func (i *Instance) Update(delta float64) {
	if i.isUpdating || !i.hasStarted || !i.checkInitialized() {
		return
	}
	if i.handleStopOnEndState() {
		return
	}
	if !i.root.IsActive() {
		return
	}

	i.isUpdating = true
	defer func() { i.isUpdating = false }()

	now := i.now()
	if i.settings.AutoManageTime && delta == 0 && !i.lastUpdate.IsZero() {
		delta = now.Sub(i.lastUpdate).Seconds()
	}
	i.lastUpdate = now

	i.internalUpdate(delta)
}

func (i *Instance) internalUpdate(delta float64) {
	if !i.isUpdating {
		i.Update(delta)
		return
	}
	i.pendingActivation = nil
	i.root.UpdateState(delta)
	i.handleStopOnEndState()
}

// runUpdateAsReference is called by the referencing machine.
func (i *Instance) runUpdateAsReference(delta float64) {
	i.internalUpdate(delta)
}

// handleStopOnEndState stops the instance once it reached an end state,
// when configured to. A networked instance asks the server instead and
// waits for the stop to come back.
func (i *Instance) handleStopOnEndState() bool {
	if i.waitingForStop {
		return true
	}
	if !i.stopOnEndState || !i.IsInEndState() || i.HasPendingActiveStates() {
		return false
	}
	if ni := i.NetworkInterface(); ni != nil && ni.IsConfiguredForNetworking() {
		i.waitingForStop = true
		if ni.HasAuthorityToChangeStates() {
			ni.ServerStop()
		}
		return true
	}
	i.Stop()
	return true
}

// Stop ends the root machine.
func (i *Instance) Stop() {
	i.waitingForStop = false
	if !i.checkInitialized() {
		return
	}
	if !i.hasStarted {
		i.logger.Debug("stop called on an instance that is not running")
		return
	}

	if i.root.IsActive() {
		i.root.EndState(0, nil)
	}
	i.pendingActivation = nil
	i.loadFromStatesCalled = false
	i.hasStarted = false
	i.status = StatusStopped

	for _, n := range i.root.GetAllNodes(NodeQuery{IncludeNested: true, SkipReferences: true, IncludeSelf: true}) {
		n.base().rootEvent(false)
	}
	i.logger.Debug("instance stopped")
	i.observers.NotifyStopped(i)
}

// MarkStarted flags an initialized instance as started without entering
// any state. Replication uses it when the authority runs with every state
// deactivated.
func (i *Instance) MarkStarted() {
	if !i.checkInitialized() || i.hasStarted {
		return
	}
	i.hasStarted = true
	i.status = StatusStarted
}

// Restart stops and starts the instance.
func (i *Instance) Restart() error {
	i.Stop()
	return i.Start()
}

// Shutdown cancels async initialization, stops the instance and drops
// the runtime data. The instance may be initialized again afterwards.
func (i *Instance) Shutdown() {
	i.CancelAsyncInitialization()
	if !i.initialized {
		return
	}
	if i.hasStarted {
		i.Stop()
	}

	refs := i.GetAllReferencedInstances(true)
	for _, n := range i.root.GetAllNodes(NodeQuery{IncludeNested: true, IncludeSelf: true}) {
		if r, ok := n.(interface{ reset() }); ok {
			r.reset()
		}
	}
	for _, ref := range refs {
		ref.initialized = false
		ref.hasStarted = false
		ref.status = StatusShutdown
	}

	i.replicatedReferences = nil
	i.nodeMap = nil
	i.stateMap = nil
	i.transitionMap = nil
	i.machineGuids = nil
	i.initialized = false
	i.status = StatusShutdown

	i.logger.Debug("instance shut down")
	i.observers.NotifyShutdown(i)
}

// IsInEndState reports whether the root machine is in an end state.
func (i *Instance) IsInEndState() bool {
	return i.root.IsInEndState()
}

// IsActive reports whether the root machine is active.
func (i *Instance) IsActive() bool {
	return i.root.IsActive()
}

// HasPendingActiveStates reports states activated locally that the next
// update has not seen yet.
func (i *Instance) HasPendingActiveStates() bool {
	return len(i.pendingActivation) > 0
}

// IsPrimaryReferenceOwner reports whether the instance is not a reference.
func (i *Instance) IsPrimaryReferenceOwner() bool { return i.referenceOwner == nil }

// ReferenceOwner returns the instance referencing this one, or nil.
func (i *Instance) ReferenceOwner() *Instance { return i.referenceOwner }

// SetReferenceOwner marks the instance as a reference of owner.
func (i *Instance) SetReferenceOwner(owner *Instance) { i.referenceOwner = owner }

// PrimaryReferenceOwner returns the outermost owner.
func (i *Instance) PrimaryReferenceOwner() *Instance {
	p := i
	for p.referenceOwner != nil {
		p = p.referenceOwner
	}
	return p
}

// AddReplicatedReference records a reference instance by the path guid of
// the node that references it. Generation reuses recorded references
// instead of creating new ones.
func (i *Instance) AddReplicatedReference(pathGuid uuid.UUID, ref *Instance) {
	p := i.PrimaryReferenceOwner()
	p.replicatedReferences = append(p.replicatedReferences, replicatedReference{pathGuid: pathGuid, reference: ref})
}

// FindReplicatedReference returns the reference recorded for pathGuid.
func (i *Instance) FindReplicatedReference(pathGuid uuid.UUID) *Instance {
	p := i.PrimaryReferenceOwner()
	for _, r := range p.replicatedReferences {
		if r.pathGuid == pathGuid {
			return r.reference
		}
	}
	return nil
}

// HaveAllReferencesReplicated reports whether every recorded reference
// has arrived.
func (i *Instance) HaveAllReferencesReplicated() bool {
	for _, r := range i.replicatedReferences {
		if r.reference == nil {
			return false
		}
	}
	return true
}

// ReplicatedReferenceGuids lists the path guids of recorded references.
func (i *Instance) ReplicatedReferenceGuids() []uuid.UUID {
	p := i.PrimaryReferenceOwner()
	out := make([]uuid.UUID, 0, len(p.replicatedReferences))
	for _, r := range p.replicatedReferences {
		out = append(out, r.pathGuid)
	}
	return out
}

// GetAllReferencedInstances lists the references of this instance, and of
// those references too when includeChildren is set.
func (i *Instance) GetAllReferencedInstances(includeChildren bool) []*Instance {
	var out []*Instance
	for _, n := range i.root.GetAllNodes(NodeQuery{IncludeNested: true, SkipReferences: true}) {
		sm, ok := n.(*StateMachine)
		if !ok || sm.reference == nil {
			continue
		}
		out = append(out, sm.reference)
		if includeChildren {
			out = append(out, sm.reference.GetAllReferencedInstances(true)...)
		}
	}
	return out
}

// buildStateMachineMap indexes every node by runtime guid, references
// included. Only the primary owner holds maps.
func (i *Instance) buildStateMachineMap() {
	i.nodeMap = make(map[uuid.UUID]Node)
	i.stateMap = make(map[uuid.UUID]StateNode)
	i.transitionMap = make(map[uuid.UUID]*Transition)
	i.machineGuids = make(map[uuid.UUID]struct{})
	i.mapMachine(i.root, make(map[*Instance]bool))
}

func (i *Instance) mapMachine(sm *StateMachine, mapped map[*Instance]bool) {
	mapped[sm.instance] = true

	if _, dup := i.machineGuids[sm.guid]; dup {
		i.logger.Warn("duplicate state machine guid", logger.Guid(sm.guid), logger.Node(sm.QualifiedName()))
	}
	i.machineGuids[sm.guid] = struct{}{}
	// The referencing node keeps its entry over the root it points to.
	if _, ok := i.nodeMap[sm.guid]; !ok {
		i.nodeMap[sm.guid] = sm
		i.stateMap[sm.guid] = sm
	}

	if ref := sm.reference; ref != nil {
		if !mapped[ref] {
			mapped[ref] = true
			i.mapMachine(ref.root, mapped)
		}
		return
	}

	for _, t := range sm.transitions {
		if _, dup := i.nodeMap[t.guid]; dup {
			i.logger.Warn("duplicate transition guid", logger.Guid(t.guid), logger.Node(t.QualifiedName()))
		}
		i.nodeMap[t.guid] = t
		i.transitionMap[t.guid] = t
	}
	for _, s := range sm.states {
		if _, dup := i.nodeMap[s.Guid()]; dup {
			i.logger.Warn("duplicate state guid", logger.Guid(s.Guid()), logger.Node(s.QualifiedName()))
		}
		i.nodeMap[s.Guid()] = s
		i.stateMap[s.Guid()] = s
		if nested, ok := s.(*StateMachine); ok {
			i.mapMachine(nested, mapped)
		}
	}
}

// NodeMap returns a copy of the guid to node map of the primary owner.
func (i *Instance) NodeMap() map[uuid.UUID]Node {
	return maps.Clone(i.PrimaryReferenceOwner().nodeMap)
}

// StateMap returns a copy of the guid to state map of the primary owner.
func (i *Instance) StateMap() map[uuid.UUID]StateNode {
	return maps.Clone(i.PrimaryReferenceOwner().stateMap)
}

// TransitionMap returns a copy of the guid to transition map of the primary owner.
func (i *Instance) TransitionMap() map[uuid.UUID]*Transition {
	return maps.Clone(i.PrimaryReferenceOwner().transitionMap)
}

func (i *Instance) GetStateByGuid(guid uuid.UUID) StateNode {
	return i.PrimaryReferenceOwner().stateMap[guid]
}

func (i *Instance) GetTransitionByGuid(guid uuid.UUID) *Transition {
	return i.PrimaryReferenceOwner().transitionMap[guid]
}

func (i *Instance) GetNodeByGuid(guid uuid.UUID) Node {
	return i.PrimaryReferenceOwner().nodeMap[guid]
}

// FindStateByGuid searches the tree instead of the maps.
func (i *Instance) FindStateByGuid(guid uuid.UUID) StateNode {
	return i.root.FindState(guid)
}

// FindStateByName looks a state up by its dotted qualified name, for
// example "Combat.Attack". References are entered by the name of the
// referencing node.
func (i *Instance) FindStateByName(qualified string) StateNode {
	if qualified == "" {
		return nil
	}
	return i.root.FindStateByPath(strings.Split(qualified, "."))
}

// GetAllActiveStates returns every active state, nested ones included.
func (i *Instance) GetAllActiveStates() []StateNode {
	return i.root.GetAllNestedActiveStates()
}

// GetAllActiveStateGuids returns the runtime guids of GetAllActiveStates.
func (i *Instance) GetAllActiveStateGuids() []uuid.UUID {
	active := i.GetAllActiveStates()
	out := make([]uuid.UUID, 0, len(active))
	for _, s := range active {
		out = append(out, s.Guid())
	}
	return out
}

// GetSingleActiveState returns the first active state of the root machine.
func (i *Instance) GetSingleActiveState() StateNode {
	return i.root.GetSingleActiveState()
}

// GetSingleNestedActiveState follows the first active state down through
// nested machines and returns the deepest one.
func (i *Instance) GetSingleNestedActiveState() StateNode {
	var found StateNode
	for sm := i.root; sm != nil; {
		s := sm.GetSingleActiveState()
		if s == nil {
			break
		}
		found = s
		next, ok := s.(*StateMachine)
		if !ok {
			break
		}
		sm = next
	}
	return found
}

// LoadFromState makes the state with guid the entry state of its machine
// for the next start. With allParents every enclosing machine is loaded
// too.
func (i *Instance) LoadFromState(guid uuid.UUID, allParents, notify bool) {
	if guid == uuid.Nil {
		return
	}
	s := i.GetStateByGuid(guid)
	if s == nil {
		return
	}
	parent := s.Owner()
	if parent == nil {
		return
	}
	// A referencing node forwards to the root it points to.
	if parent.reference == nil {
		parent.AddTemporaryInitialState(s)
	}
	if notify {
		i.loadFromStatesCalled = true
		i.logger.Debug("initial state loaded", logger.Node(s.QualifiedName()))
	}
	if allParents && parent.nodeGuid != i.root.nodeGuid {
		i.LoadFromState(parent.Guid(), true, false)
	}
}

// LoadFromMultipleStates loads each state without its parents.
func (i *Instance) LoadFromMultipleStates(guids []uuid.UUID, notify bool) {
	for _, guid := range guids {
		i.LoadFromState(guid, false, notify)
	}
}

// ClearLoadedStates drops every loaded state.
func (i *Instance) ClearLoadedStates() {
	i.root.ClearTemporaryInitialStates(true)
	for _, s := range i.PrimaryReferenceOwner().stateMap {
		if sm, ok := s.(*StateMachine); ok {
			sm.ClearTemporaryInitialStates(true)
		}
	}
}

// ActivateStateLocally adds or removes a state from the active states of
// its machine without a transition. With activateNow the state starts and
// evaluates right away; otherwise it is picked up by the next update. With
// setAllParents enclosing machines follow.
func (i *Instance) ActivateStateLocally(guid uuid.UUID, active, setAllParents, activateNow bool) {
	if !i.IsPrimaryReferenceOwner() {
		i.PrimaryReferenceOwner().ActivateStateLocally(guid, active, setAllParents, activateNow)
		return
	}

	s := i.GetStateByGuid(guid)
	if s == nil {
		return
	}
	owner := s.Owner()
	if owner == nil {
		return
	}
	// s is the root of a reference; continue with the referencing node.
	if owner.reference != nil {
		if setAllParents {
			i.ActivateStateLocally(owner.Guid(), active, setAllParents, activateNow)
		}
		return
	}

	if !activateNow {
		i.pendingActivation = append(i.pendingActivation, s)
	}

	if !active {
		owner.RemoveActiveState(s)
		if setAllParents && !owner.HasActiveStates() {
			i.ActivateStateLocally(owner.Guid(), false, true, activateNow)
		}
		return
	}

	if owner.ContainsActiveState(s) {
		return
	}
	owner.AddActiveState(s)
	if activateNow {
		if started, safe := owner.TryStartState(s); started && safe {
			owner.ProcessStates(0, true, uuid.Nil, ProcessScope{
				States:      []StateNode{s},
				JustStarted: []StateNode{s},
			})
		}
	}
	if setAllParents {
		i.ActivateStateLocally(owner.Guid(), true, true, activateNow)
	}
}

// SwitchActiveState activates s and its parents. With deactivateOthers
// every other active state is removed, except the machines enclosing s.
// A networked instance routes the changes through the server.
func (i *Instance) SwitchActiveState(s StateNode, deactivateOthers bool) {
	if deactivateOthers {
		owners := make(map[*StateMachine]bool)
		if s != nil {
			for o := s.Owner(); o != nil; o = o.Owner() {
				owners[o] = true
			}
		}
		for _, active := range i.GetAllActiveStates() {
			if sm, ok := active.(*StateMachine); ok && owners[sm] {
				continue
			}
			i.activateStateNetOrLocal(active, false, false)
		}
	}
	if s != nil {
		i.activateStateNetOrLocal(s, true, true)
	}
}

// SwitchActiveStateByName is SwitchActiveState for a qualified name.
func (i *Instance) SwitchActiveStateByName(qualified string, deactivateOthers bool) error {
	s := i.FindStateByName(qualified)
	if s == nil {
		return NewStateNotFoundError(qualified)
	}
	i.SwitchActiveState(s, deactivateOthers)
	return nil
}

func (i *Instance) activateStateNetOrLocal(s StateNode, active, setAllParents bool) {
	if ni := i.NetworkInterface(); ni != nil && ni.IsConfiguredForNetworking() {
		ni.ServerActivateState(s.Guid(), active, setAllParents)
		return
	}
	i.ActivateStateLocally(s.Guid(), active, setAllParents, true)
}

// EvaluateTransitions runs an evaluate-only pass over the active states.
func (i *Instance) EvaluateTransitions() {
	i.PrimaryReferenceOwner().root.ProcessStates(0, true, uuid.Nil, ProcessScope{})
}

// EvaluateAndTakeTransitionChain evaluates the transition with guid and
// takes it, with the conduits behind it, when it passes.
func (i *Instance) EvaluateAndTakeTransitionChain(guid uuid.UUID) bool {
	t := i.GetTransitionByGuid(guid)
	if t == nil || t.Owner() == nil {
		return false
	}
	return t.Owner().EvaluateAndTakeTransitionChain(t)
}

// TriggerTransition fires an event on the transition with guid. The
// transition passes on its next evaluation without consulting its guard,
// which happens right away when its source is active.
func (i *Instance) TriggerTransition(guid uuid.UUID) bool {
	t := i.GetTransitionByGuid(guid)
	if t == nil {
		return false
	}
	t.TriggerFromEvent()
	taken := false
	if t.from.IsActive() {
		taken = i.EvaluateAndTakeTransitionChain(guid)
	}
	t.isEvaluating = false
	return taken
}

// SetNetworkInterface attaches the replication layer.
func (i *Instance) SetNetworkInterface(ni NetworkInterface) { i.network = ni }

// NetworkInterface returns the replication layer of the primary owner.
func (i *Instance) NetworkInterface() NetworkInterface {
	return i.PrimaryReferenceOwner().network
}

// SetAllowTransitionsLocally applies to every machine, references included.
func (i *Instance) SetAllowTransitionsLocally(canEvaluate, canTake bool) {
	i.root.SetAllowTransitionsLocally(canEvaluate, canTake)
	for _, n := range i.root.GetAllNodes(NodeQuery{IncludeNested: true}) {
		if sm, ok := n.(*StateMachine); ok {
			sm.SetAllowTransitionsLocally(canEvaluate, canTake)
		}
	}
}

// SetAllowStateLogic enables or disables user logic of states, for this
// instance and its references.
func (i *Instance) SetAllowStateLogic(allow bool) {
	i.canExecuteStateLogic = allow
	for _, ref := range i.GetAllReferencedInstances(true) {
		ref.canExecuteStateLogic = allow
	}
}

// CanExecuteStateLogic reports whether state logic runs.
func (i *Instance) CanExecuteStateLogic() bool { return i.canExecuteStateLogic }

func (i *Instance) notifyStateStarted(s StateNode) {
	i.observers.NotifyStateStarted(i, s)
	if !i.IsPrimaryReferenceOwner() {
		i.PrimaryReferenceOwner().notifyStateStarted(s)
	}
}

func (i *Instance) notifyStateChange(to, from StateNode) {
	if i.settings.LogStateChanges {
		i.logger.Info("state change", slog.String("from", nodeName(from)), slog.String("to", nodeName(to)))
	}
	if i.IsPrimaryReferenceOwner() {
		i.recordPreviousStateHistory(from)
	}
	i.observers.NotifyStateChanged(i, to, from)
	if !i.IsPrimaryReferenceOwner() {
		i.PrimaryReferenceOwner().notifyStateChange(to, from)
	}
}

func (i *Instance) notifyTransitionTaken(t *Transition) {
	if i.settings.LogTransitions {
		i.logger.Info("transition taken", logger.Node(t.QualifiedName()),
			slog.String("from", nodeName(t.from)), slog.String("to", nodeName(t.to)))
	}
	i.observers.NotifyTransitionTaken(i, t)
	if !i.IsPrimaryReferenceOwner() {
		i.PrimaryReferenceOwner().notifyTransitionTaken(t)
	}
}

func nodeName(n StateNode) string {
	if n == nil {
		return ""
	}
	return n.QualifiedName()
}
