package core

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver/pkg/definition"
)

const linearYAML = `
name: Linear
states:
  - name: S1
    initial: true
  - name: S2
  - name: S3
transitions:
  - from: S1
    to: S2
  - from: S2
    to: S3
`

// testContext is the user context handed to Initialize in tests.
type testContext struct {
	name string
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeNetwork records what the engine hands to the replication layer.
type fakeNetwork struct {
	configured  bool
	authority   bool
	runEntered  bool
	transitions []TransitionRequest
	activations []fakeActivation
	stops       int
}

type fakeActivation struct {
	guid          uuid.UUID
	active        bool
	setAllParents bool
}

func (n *fakeNetwork) IsConfiguredForNetworking() bool { return n.configured }
func (n *fakeNetwork) HasAuthorityToChangeStates() bool { return n.authority }
func (n *fakeNetwork) CanExecuteTransitionEnteredLogic() bool { return n.runEntered }
func (n *fakeNetwork) ServerTakeTransition(req TransitionRequest) {
	n.transitions = append(n.transitions, req)
}
func (n *fakeNetwork) ServerActivateState(guid uuid.UUID, active, setAllParents bool) {
	n.activations = append(n.activations, fakeActivation{guid, active, setAllParents})
}
func (n *fakeNetwork) ServerStop() { n.stops++ }

// recordingObserver keeps every notification in order.
type recordingObserver struct {
	BaseObserver
	started     []string
	taken       []string
	changes     []string
	lifecycle   []string
	errors      []error
	panicOnTake bool
}

func (o *recordingObserver) OnStateStarted(_ *Instance, s StateNode) {
	o.started = append(o.started, s.QualifiedName())
}

func (o *recordingObserver) OnTransitionTaken(_ *Instance, t *Transition) {
	if o.panicOnTake {
		panic("boom")
	}
	o.taken = append(o.taken, t.Name())
}

func (o *recordingObserver) OnStateChanged(_ *Instance, to, from StateNode) {
	o.changes = append(o.changes, nodeName(from)+">"+nodeName(to))
}

func (o *recordingObserver) OnInitialized(*Instance) { o.lifecycle = append(o.lifecycle, "initialized") }
func (o *recordingObserver) OnStarted(*Instance) { o.lifecycle = append(o.lifecycle, "started") }
func (o *recordingObserver) OnStopped(*Instance) { o.lifecycle = append(o.lifecycle, "stopped") }
func (o *recordingObserver) OnShutdown(*Instance) { o.lifecycle = append(o.lifecycle, "shutdown") }
func (o *recordingObserver) OnError(_ *Instance, err error) {
	o.errors = append(o.errors, err)
}

func parseLibrary(t *testing.T, src string) *definition.Library {
	t.Helper()
	lib, err := definition.Parse([]byte(src))
	require.NoError(t, err)
	return lib
}

// newInstance parses src and creates an instance of its first machine.
func newInstance(t *testing.T, src string, opts ...Option) (*Instance, *definition.Definition) {
	t.Helper()
	lib := parseLibrary(t, src)
	def := lib.First()
	require.NotNil(t, def)
	opts = append([]Option{WithLibrary(lib)}, opts...)
	return NewInstance(def, opts...), def
}

// startInstance initializes and starts an instance of src.
func startInstance(t *testing.T, src string, opts ...Option) (*Instance, *definition.Definition) {
	t.Helper()
	inst, def := newInstance(t, src, opts...)
	require.NoError(t, inst.Initialize(context.Background(), &testContext{name: t.Name()}))
	require.NoError(t, inst.Start())
	return inst, def
}

func activeNames(inst *Instance) []string {
	var names []string
	for _, s := range inst.GetAllActiveStates() {
		names = append(names, s.QualifiedName())
	}
	return names
}

// AssertActive fails unless exactly the named states are active, in any order.
func AssertActive(t *testing.T, inst *Instance, names ...string) {
	t.Helper()
	got := activeNames(inst)
	if len(got) != len(names) {
		t.Fatalf("expected active states %v, got %v", names, got)
	}
	for _, n := range names {
		if !slices.Contains(got, n) {
			t.Fatalf("expected active states %v, got %v", names, got)
		}
	}
}

func stateNamed(t *testing.T, inst *Instance, name string) StateNode {
	t.Helper()
	s := inst.FindStateByName(name)
	require.NotNil(t, s, "state %s", name)
	return s
}

// transitionNamed finds a transition by name anywhere in the instance.
func transitionNamed(t *testing.T, inst *Instance, name string) *Transition {
	t.Helper()
	for _, tr := range inst.TransitionMap() {
		if tr.Name() == name {
			return tr
		}
	}
	t.Fatalf("transition %s not found", name)
	return nil
}
