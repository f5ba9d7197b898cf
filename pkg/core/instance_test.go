package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstance_InitializeRequiresContext(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)

	err := inst.Initialize(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNilContext)
	assert.False(t, inst.IsInitialized())
	assert.Equal(t, StatusUninitialized, inst.Status())
}

func TestInstance_InitializeTwice(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))

	err := inst.Initialize(context.Background(), &testContext{})

	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, ErrCodeAlreadyInitialized, GetErrorCode(err))
}

func TestInstance_StartBeforeInitialize(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)

	err := inst.Start()

	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, inst.HasStarted())
}

func TestInstance_NoEntryState(t *testing.T) {
	inst, _ := newInstance(t, `
name: NoEntry
states:
  - name: S1
`)
	err := inst.Initialize(context.Background(), &testContext{})

	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.False(t, inst.IsInitialized())
}

func TestInstance_StartIsIdempotent(t *testing.T) {
	obs := &recordingObserver{}
	inst, _ := startInstance(t, linearYAML, WithObserver(obs))

	require.NoError(t, inst.Start())

	AssertActive(t, inst, "S1")
	assert.Equal(t, []string{"initialized", "started"}, obs.lifecycle)
	assert.Equal(t, 1, countOf(obs.started, "S1"))
	assert.Equal(t, StatusStarted, inst.Status())
}

func TestInstance_MapsCoverEveryNode(t *testing.T) {
	inst, def := startInstance(t, linearYAML)

	assert.Len(t, inst.NodeMap(), def.NodeCount()+1)
	assert.Len(t, inst.StateMap(), 4)
	assert.Len(t, inst.TransitionMap(), 2)

	for guid, n := range inst.NodeMap() {
		assert.Equal(t, guid, n.Guid())
		assert.NotEqual(t, uuid.Nil, n.NodeGuid())
	}
	s2 := stateNamed(t, inst, "S2")
	assert.Same(t, s2, inst.GetStateByGuid(s2.Guid()))
	assert.Same(t, s2, inst.FindStateByGuid(s2.Guid()))
}

func TestInstance_GuidsAreStableAcrossInstances(t *testing.T) {
	lib := parseLibrary(t, linearYAML)
	a := NewInstance(lib.First(), WithLibrary(lib))
	b := NewInstance(lib.First(), WithLibrary(lib))
	require.NoError(t, a.Initialize(context.Background(), &testContext{}))
	require.NoError(t, b.Initialize(context.Background(), &testContext{}))

	for guid, n := range a.NodeMap() {
		other := b.GetNodeByGuid(guid)
		require.NotNil(t, other, "node %s", n.QualifiedName())
		assert.Equal(t, n.QualifiedName(), other.QualifiedName())
	}
}

func TestInstance_GuardedProgression(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	open := map[string]bool{}
	inst.Registry().Bind(def).
		Guard("S1->S2", func(*EvalContext) bool { return open["S1->S2"] }).
		Guard("S2->S3", func(*EvalContext) bool { return open["S2->S3"] })
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	require.NoError(t, inst.Start())

	inst.Update(0.1)
	AssertActive(t, inst, "S1")
	assert.False(t, inst.IsInEndState())

	open["S1->S2"] = true
	inst.Update(0.1)
	AssertActive(t, inst, "S2")

	open["S2->S3"] = true
	inst.Update(0.1)
	AssertActive(t, inst, "S3")
	assert.True(t, inst.IsInEndState())
	assert.True(t, inst.HasStarted())
}

func TestInstance_CallbackOrder(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	var events []string
	record := func(e string) Action { return func(*EvalContext) { events = append(events, e) } }
	inst.Registry().Bind(def).
		State("S1", StateCallbacks{OnBegin: record("S1.begin"), OnUpdate: record("S1.update"), OnEnd: record("S1.end")}).
		State("S2", StateCallbacks{OnBegin: record("S2.begin")}).
		Transition("S1->S2", TransitionCallbacks{
			CanEnter:  func(*EvalContext) bool { return true },
			OnEntered: record("S1->S2.entered"),
		})
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	require.NoError(t, inst.Start())

	inst.Update(0.1)

	assert.Equal(t, []string{"S1.begin", "S1.end", "S1->S2.entered", "S2.begin"}, events)
}

func TestInstance_CallbacksSeeUserContext(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	var seen any
	inst.Registry().Bind(def).State("S1", StateCallbacks{OnBegin: func(ctx *EvalContext) {
		seen = ctx.Context
		assert.Equal(t, "S1", ctx.Node.Name())
		assert.Same(t, inst, ctx.Instance)
	}})
	uc := &testContext{name: "ctx"}
	require.NoError(t, inst.Initialize(context.Background(), uc))
	require.NoError(t, inst.Start())

	assert.Same(t, uc, seen)
	assert.Same(t, uc, inst.Context())
}

func TestInstance_StopOnEndState(t *testing.T) {
	obs := &recordingObserver{}
	inst, _ := startInstance(t, `
name: Stopping
stop_on_end_state: true
states:
  - name: S1
    initial: true
  - name: S2
transitions:
  - from: S1
    to: S2
    condition: always_true
`, WithObserver(obs))
	require.True(t, inst.StopOnEndState())

	inst.Update(0.1)

	assert.False(t, inst.HasStarted())
	assert.Equal(t, StatusStopped, inst.Status())
	assert.Empty(t, inst.GetAllActiveStates())
	assert.Contains(t, obs.lifecycle, "stopped")
}

func TestInstance_StopAndRestart(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	ended := 0
	inst.Registry().Bind(def).State("S1", StateCallbacks{OnEnd: func(*EvalContext) { ended++ }})
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	require.NoError(t, inst.Start())

	inst.Stop()
	assert.Equal(t, 1, ended)
	assert.False(t, inst.IsActive())
	assert.Empty(t, inst.GetAllActiveStates())

	require.NoError(t, inst.Restart())
	AssertActive(t, inst, "S1")
	assert.True(t, inst.HasStarted())
}

func TestInstance_RootHooks(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	var events []string
	inst.Registry().Bind(def).
		Root(StateCallbacks{
			OnRootStart: func(*EvalContext) { events = append(events, "root.start") },
			OnRootStop:  func(*EvalContext) { events = append(events, "root.stop") },
		}).
		State("S3", StateCallbacks{OnRootStart: func(*EvalContext) { events = append(events, "S3.start") }})
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))

	require.NoError(t, inst.Start())
	inst.Stop()

	assert.Equal(t, []string{"root.start", "S3.start", "root.stop"}, events)
}

func TestInstance_SetAllowStateLogic(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	begun := 0
	inst.Registry().Bind(def).State("S1", StateCallbacks{OnBegin: func(*EvalContext) { begun++ }})
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	inst.SetAllowStateLogic(false)

	require.NoError(t, inst.Start())

	assert.Zero(t, begun)
	AssertActive(t, inst, "S1")
}

func TestInstance_Shutdown(t *testing.T) {
	obs := &recordingObserver{}
	inst, _ := startInstance(t, linearYAML, WithObserver(obs))

	inst.Shutdown()

	assert.False(t, inst.IsInitialized())
	assert.Equal(t, StatusShutdown, inst.Status())
	assert.Empty(t, inst.NodeMap())
	assert.Equal(t, []string{"initialized", "started", "stopped", "shutdown"}, obs.lifecycle)

	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	require.NoError(t, inst.Start())
	AssertActive(t, inst, "S1")
}

func TestInstance_UpdateIgnoredWhenNotRunning(t *testing.T) {
	inst, def := newInstance(t, linearYAML)
	updates := 0
	inst.Registry().Bind(def).State("S1", StateCallbacks{OnUpdate: func(*EvalContext) { updates++ }})

	inst.Update(0.1)
	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	inst.Update(0.1)

	assert.Zero(t, updates)
}

func TestInstance_AutoManageTime(t *testing.T) {
	clock := newFakeClock()
	settings := DefaultSettings()
	settings.AutoManageTime = true
	inst, _ := startInstance(t, linearYAML, WithClock(clock.Now), WithSettings(settings))

	clock.Advance(2 * time.Second)
	inst.Update(0)

	assert.InDelta(t, 2.0, stateNamed(t, inst, "S1").TimeInState(), 1e-9)
}

func TestInstance_Properties(t *testing.T) {
	inst, _ := startInstance(t, `
name: Props
properties:
  team: red
states:
  - name: S1
    initial: true
    properties:
      speed: 3
`)
	v, ok := stateNamed(t, inst, "S1").Property("speed")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	team, ok := inst.Root().Property("team")
	require.True(t, ok)
	assert.Equal(t, "red", team)
}

func TestInstance_StateHistory(t *testing.T) {
	clock := newFakeClock()
	inst, _ := startInstance(t, chainYAML, WithClock(clock.Now))
	inst.SetStateHistoryMaxCount(2)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		inst.Update(1)
	}

	AssertActive(t, inst, "S4")
	history := inst.StateHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "S2", history[0].Name)
	assert.Equal(t, "S3", history[1].Name)
	assert.Equal(t, stateNamed(t, inst, "S3").Guid(), history[1].StateGuid)
	assert.InDelta(t, 1.0, history[1].TimeInState, 1e-9)

	inst.ClearStateHistory()
	assert.Empty(t, inst.StateHistory())
}

func TestInstance_StateHistoryDisabled(t *testing.T) {
	inst, _ := startInstance(t, chainYAML)
	inst.SetStateHistoryMaxCount(0)

	inst.Update(1)

	assert.Empty(t, inst.StateHistory())
	assert.Zero(t, inst.StateHistoryMaxCount())
}

func TestInstance_StateHistoryMaxFromDefinition(t *testing.T) {
	inst, _ := newInstance(t, `
name: Limited
state_history_max: 1
states:
  - name: S1
    initial: true
`)
	assert.Equal(t, 1, inst.StateHistoryMaxCount())
}

func TestInstance_ObserverPanicIsReported(t *testing.T) {
	obs := &recordingObserver{panicOnTake: true}
	inst, _ := startInstance(t, chainYAML, WithObserver(obs))

	inst.Update(0.1)

	AssertActive(t, inst, "S2")
	require.Len(t, obs.errors, 1)
	assert.Contains(t, obs.errors[0].Error(), "OnTransitionTaken")
}

func TestInstance_ObserverSeesStateChanges(t *testing.T) {
	obs := &recordingObserver{}
	inst, _ := startInstance(t, chainYAML, WithObserver(obs))

	inst.Update(0.1)

	assert.Equal(t, []string{">S1", "S1>S2"}, obs.changes)
	assert.Equal(t, []string{"S1->S2"}, obs.taken)
	assert.Contains(t, obs.started, "S2")
}

func TestInstance_AsyncInitialization(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)

	future, err := inst.InitializeAsync(context.Background(), &testContext{})
	require.NoError(t, err)
	assert.True(t, inst.IsInitializingAsync())
	assert.Equal(t, StatusInitializing, inst.Status())
	assert.ErrorIs(t, inst.Initialize(context.Background(), &testContext{}), ErrAsyncInProgress)

	_, err = future.Await()
	require.NoError(t, err)
	assert.False(t, inst.IsInitialized())

	done, err := inst.PollAsyncInitialization()
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, inst.IsInitialized())
	assert.False(t, inst.IsInitializingAsync())

	require.NoError(t, inst.Start())
	AssertActive(t, inst, "S1")
}

func TestInstance_WaitForAsyncInitialization(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)
	_, err := inst.InitializeAsync(context.Background(), &testContext{})
	require.NoError(t, err)

	require.NoError(t, inst.WaitForAsyncInitialization(true))

	assert.True(t, inst.IsInitialized())
	assert.Equal(t, StatusInitialized, inst.Status())
}

func TestInstance_WaitWithoutFinishKeepsInitializing(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)
	_, err := inst.InitializeAsync(context.Background(), &testContext{})
	require.NoError(t, err)

	require.NoError(t, inst.WaitForAsyncInitialization(false))

	assert.False(t, inst.IsInitialized())
	assert.True(t, inst.IsInitializingAsync())
	require.NoError(t, inst.FinishInitialize())
	assert.True(t, inst.IsInitialized())
	assert.False(t, inst.IsInitializingAsync())
	assert.Equal(t, StatusInitialized, inst.Status())

	require.NoError(t, inst.Start())
	AssertActive(t, inst, "S1")
}

func TestInstance_PollWithoutAsync(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)

	done, err := inst.PollAsyncInitialization()

	assert.False(t, done)
	assert.ErrorIs(t, err, ErrAsyncNotStarted)
	assert.ErrorIs(t, inst.WaitForAsyncInitialization(true), ErrAsyncNotStarted)
}

func TestInstance_CancelAsyncInitialization(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)
	_, err := inst.InitializeAsync(context.Background(), &testContext{})
	require.NoError(t, err)

	inst.CancelAsyncInitialization()

	assert.False(t, inst.IsInitializingAsync())
	assert.False(t, inst.IsInitialized())
	assert.Empty(t, inst.NodeMap())

	require.NoError(t, inst.Initialize(context.Background(), &testContext{}))
	assert.True(t, inst.IsInitialized())
}

func TestInstance_ReclaimPauseCompletesGeneration(t *testing.T) {
	inst, _ := newInstance(t, linearYAML)
	future, err := inst.InitializeAsync(context.Background(), &testContext{})
	require.NoError(t, err)

	inst.OnReclaimPause()

	assert.True(t, future.IsComplete())
	assert.True(t, inst.IsInitializingAsync())
	assert.False(t, inst.IsInitialized())

	done, err := inst.PollAsyncInitialization()
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, inst.IsInitialized())
}

func TestInstance_AsyncInitializationFailure(t *testing.T) {
	inst, _ := newInstance(t, selfReferenceYAML)
	_, err := inst.InitializeAsync(context.Background(), &testContext{})
	require.NoError(t, err)

	err = inst.WaitForAsyncInitialization(true)

	require.Error(t, err)
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, ErrCodeReferenceCycle, genErr.Code)
	assert.False(t, inst.IsInitialized())
	assert.False(t, inst.IsInitializingAsync())
}

func countOf(values []string, v string) int {
	n := 0
	for _, x := range values {
		if x == v {
			n++
		}
	}
	return n
}
