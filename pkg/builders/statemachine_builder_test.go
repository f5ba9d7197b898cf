package builders_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver/pkg/builders"
	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/observers"
)

type job struct {
	fast bool
}

func start(t *testing.T, inst *core.Instance, ctx any) {
	t.Helper()
	require.NoError(t, inst.Initialize(context.Background(), ctx))
	require.NoError(t, inst.Start())
}

// tickUntil updates inst until done reports true and returns the number of
// ticks it took, or -1.
func tickUntil(inst *core.Instance, max int, done func() bool) int {
	for i := 1; i <= max; i++ {
		inst.Update(0.5)
		if done() {
			return i
		}
	}
	return -1
}

func activeNames(inst *core.Instance) []string {
	var names []string
	for _, s := range inst.GetAllActiveStates() {
		names = append(names, s.QualifiedName())
	}
	return names
}

func isActive(inst *core.Instance, name string) func() bool {
	return func() bool {
		s := inst.FindStateByName(name)
		return s != nil && s.IsActive()
	}
}

func TestStateMachineBuilder(t *testing.T) {
	t.Run("Build simple state machine", func(t *testing.T) {
		builder := builders.NewStateMachineBuilder("TestMachine")

		builder.WithState("Initial").Initial()
		builder.WithState("Processing")
		builder.WithState("Done")

		builder.AddTransition("Initial", "Processing")
		builder.WithTransition("Processing", "Done").Named("finish").WithPriority(2)

		def, err := builder.Build()
		require.NoError(t, err)
		assert.Equal(t, "TestMachine", def.Name)
		assert.Len(t, def.States, 3)
		assert.True(t, def.Resolved())

		require.Len(t, def.InitialStates(), 1)
		assert.Equal(t, "Initial", def.InitialStates()[0].Name)

		tr := def.FindTransition("Initial->Processing")
		require.NotNil(t, tr)
		assert.Equal(t, definition.ConditionAlwaysTrue, tr.ConditionOrDefault())
		finish := def.FindTransition("finish")
		require.NotNil(t, finish)
		assert.Equal(t, 2, finish.Priority)
	})

	t.Run("Builder errors are joined", func(t *testing.T) {
		builder := builders.NewBuilder("Broken")
		builder.AddSimpleState("A")
		builder.AddSimpleState("A")
		builder.AddTransition("A", "Missing")
		builder.SetInitialState("Nowhere")

		_, err := builder.Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate state "A"`)
		assert.Contains(t, err.Error(), `transition to unknown state "Missing"`)
		assert.Contains(t, err.Error(), `initial state "Nowhere" not found`)
	})

	t.Run("Missing initial state fails validation", func(t *testing.T) {
		builder := builders.NewStateMachineBuilder("NoEntry")
		builder.AddSimpleState("A")

		_, err := builder.Build()
		assert.Error(t, err)
	})

	t.Run("Guards and actions are bound", func(t *testing.T) {
		open := false
		entered, exited, taken := 0, 0, 0

		rec := observers.NewRecordingObserver(0)
		builder := builders.NewStateMachineBuilder("Door").WithObserver(rec)
		builder.WithState("Closed").Initial().
			WithExitAction(func(*core.EvalContext) { exited++ })
		builder.WithState("Open").
			WithEntryAction(func(*core.EvalContext) { entered++ })
		builder.WithTransition("Closed", "Open").
			WithGuard(func(*core.EvalContext) bool { return open }).
			WithAction(func(*core.EvalContext) { taken++ })

		inst, err := builder.BuildInstance()
		require.NoError(t, err)
		start(t, inst, &job{})

		inst.Update(0.5)
		assert.Equal(t, []string{"Closed"}, activeNames(inst))

		open = true
		require.NotEqual(t, -1, tickUntil(inst, 5, isActive(inst, "Open")))
		assert.Equal(t, 1, entered)
		assert.Equal(t, 1, exited)
		assert.Equal(t, 1, taken)
		assert.Len(t, rec.Filter(observers.EventTransitionTaken), 1)
	})

	t.Run("Nested state machine", func(t *testing.T) {
		builder := builders.NewStateMachineBuilder("Outer")
		builder.WithState("Idle").Initial()

		work := builder.WithStateMachine("Work")
		work.WithState("A").Initial()
		work.AddSimpleState("B")
		work.AddTransition("A", "B")
		builder = work.WaitForEndState().End()

		builder.AddTransition("Idle", "Work")

		inst, err := builder.BuildInstance()
		require.NoError(t, err)
		start(t, inst, &job{})

		require.NotEqual(t, -1, tickUntil(inst, 10, isActive(inst, "Work.B")))
		assert.Contains(t, activeNames(inst), "Work.B")
	})

	t.Run("References resolve through the library", func(t *testing.T) {
		child := builders.NewStateMachineBuilder("Child")
		child.WithState("X").Initial()
		childDef, err := child.Build()
		require.NoError(t, err)
		lib, err := definition.NewLibrary(childDef)
		require.NoError(t, err)

		builder := builders.NewStateMachineBuilder("Parent").WithLibrary(lib)
		builder.AddReference("Sub", "Child", "")
		builder.SetInitialState("Sub")
		_, err = builder.Build()
		require.NoError(t, err)

		missing := builders.NewStateMachineBuilder("Orphan")
		missing.AddReference("Sub", "Nobody", "")
		missing.SetInitialState("Sub")
		_, err = missing.Build()
		assert.Error(t, err)
	})
}

func TestWorkflowBuilder(t *testing.T) {
	fetched := 0
	rec := observers.NewRecordingObserver(0)

	wf := builders.NewWorkflowBuilder("Pipeline")
	wf.AddSequentialStep("fetch", func(*core.EvalContext) { fetched++ }, nil)
	wf.AddConditionalBranch("route", map[string]core.Guard{
		"fast": builders.Conditions.IfContext(func(c any) bool { return c.(*job).fast }),
		"slow": builders.Conditions.Not(builders.Conditions.IfContext(func(c any) bool { return c.(*job).fast })),
	})
	wf.FinishWorkflow()
	wf.WithObserver(rec)

	def, err := wf.Build()
	require.NoError(t, err)
	assert.NotNil(t, def.FindState("route"))
	assert.NotNil(t, def.FindTransition("fast->"+builders.WorkflowCompleted))
	assert.True(t, def.StopOnEndState)

	inst, err := wf.BuildInstance()
	require.NoError(t, err)
	start(t, inst, &job{fast: true})

	require.NotEqual(t, -1, tickUntil(inst, 20, func() bool { return !inst.HasStarted() }))
	assert.Equal(t, 1, fetched)

	var visited []string
	for _, e := range rec.Filter(observers.EventStateStarted) {
		visited = append(visited, e.Node)
	}
	assert.Contains(t, visited, "fast")
	assert.NotContains(t, visited, "slow")
	assert.Contains(t, visited, builders.WorkflowCompleted)
}

func TestConditions(t *testing.T) {
	c := builders.Conditions
	ctx := &core.EvalContext{Context: 3}
	positive := c.IfContext(func(v any) bool { return v.(int) > 0 })

	assert.True(t, c.Always()(ctx))
	assert.False(t, c.Never()(ctx))
	assert.True(t, positive(ctx))
	assert.False(t, c.Not(positive)(ctx))
	assert.True(t, c.All(c.Always(), positive)(ctx))
	assert.False(t, c.All(c.Always(), c.Never())(ctx))
	assert.True(t, c.Any(c.Never(), positive)(ctx))
	assert.False(t, c.Any()(ctx))
	assert.True(t, c.All()(ctx))

	calls := 0
	c.Sequence(func(*core.EvalContext) { calls++ }, nil, func(*core.EvalContext) { calls++ })(ctx)
	assert.Equal(t, 2, calls)
}

func TestConditions_AfterAndProperties(t *testing.T) {
	builder := builders.NewStateMachineBuilder("Timer")
	builder.WithState("Wait").Initial().WithProperty("mode", "armed")
	builder.WithState("Fire").WithEntryAction(builders.Conditions.LogMessage("fired"))
	builder.WithState("Never")
	builder.AddTransitionWithGuard("Wait", "Fire", builders.Conditions.After(1.0))
	builder.AddTransitionWithGuard("Wait", "Never", builders.Conditions.Never())

	inst, err := builder.BuildInstance()
	require.NoError(t, err)
	start(t, inst, &job{})

	ticks := tickUntil(inst, 10, isActive(inst, "Fire"))
	assert.GreaterOrEqual(t, ticks, 2, "one second of tick time passes first")

	wait := inst.FindStateByName("Wait")
	require.NotNil(t, wait)
	assert.True(t, builders.Conditions.IfPropertyEquals("mode", "armed")(&core.EvalContext{Node: wait}))
	builders.Conditions.SetProperty("mode", "spent")(&core.EvalContext{Node: wait})
	assert.False(t, builders.Conditions.IfPropertyEquals("mode", "armed")(&core.EvalContext{Node: wait}))
}

func TestValidationBuilder(t *testing.T) {
	builder := builders.NewStateMachineBuilder("Lamp")
	builder.WithState("Off").Initial()
	builder.AddSimpleState("On")
	builder.AddTransition("Off", "On")
	def, err := builder.Build()
	require.NoError(t, err)

	v := builders.NewValidationBuilder(def).ExpectState("Extra").AllowTransition("On", "Off")
	require.NoError(t, v.Validate())

	obs := v.Build()
	inst, err := builder.WithObserver(obs).BuildInstance()
	require.NoError(t, err)
	start(t, inst, &job{})
	tickUntil(inst, 5, isActive(inst, "On"))

	assert.False(t, obs.HasViolations())
	assert.Equal(t, []string{"Extra"}, obs.GetUnvisitedStates())
}
