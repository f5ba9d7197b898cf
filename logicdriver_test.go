package logicdriver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver"
)

const trafficYAML = `
name: Traffic
states:
  - name: Red
    initial: true
  - name: Green
  - name: Yellow
transitions:
  - from: Red
    to: Green
  - from: Green
    to: Yellow
  - from: Yellow
    to: Red
`

type light struct {
	switches int
}

func TestIntegration_TrafficLight(t *testing.T) {
	lib, err := logicdriver.Parse([]byte(trafficYAML))
	require.NoError(t, err)
	def, err := lib.Get("Traffic")
	require.NoError(t, err)

	rec := logicdriver.NewRecordingObserver(0)
	inst := logicdriver.NewInstance(def, logicdriver.WithLibrary(lib), logicdriver.WithObserver(rec))

	after := logicdriver.Conditions.After(1.0)
	bind := inst.Registry().Bind(def)
	for _, name := range []string{"Red->Green", "Green->Yellow", "Yellow->Red"} {
		bind.Guard(name, after)
	}
	bind.State("Green", logicdriver.StateCallbacks{
		OnBegin: func(ec *logicdriver.EvalContext) { ec.Context.(*light).switches++ },
	})

	ctx := &light{}
	require.NoError(t, inst.Initialize(context.Background(), ctx))
	require.NoError(t, inst.Start())

	// Each light holds for at least a second of tick time.
	for i := 0; i < 20; i++ {
		inst.Update(0.25)
	}

	assert.GreaterOrEqual(t, ctx.switches, 1)
	assert.NotEmpty(t, rec.Filter("transition_taken"))
	assert.Len(t, inst.GetAllActiveStates(), 1)
}

func TestIntegration_BuilderAndValidation(t *testing.T) {
	b := logicdriver.NewStateMachineBuilder("Lamp")
	b.WithState("Off").Initial()
	b.AddSimpleState("On")
	b.AddTransition("Off", "On")

	def, err := b.Build()
	require.NoError(t, err)

	validation := logicdriver.NewValidationObserver()
	validation.ExpectDefinition(def)

	inst, err := b.WithObserver(validation).BuildInstance()
	require.NoError(t, err)
	require.NoError(t, inst.Initialize(context.Background(), struct{}{}))
	require.NoError(t, inst.Start())
	inst.Update(0.1)
	inst.Update(0.1)

	assert.Empty(t, validation.GetUnvisitedStates())
	assert.False(t, validation.HasViolations())
}

func TestIntegration_Errors(t *testing.T) {
	_, err := logicdriver.Parse([]byte("name: [broken"))
	assert.ErrorIs(t, err, logicdriver.ErrParse)

	lib, err := logicdriver.Parse([]byte(trafficYAML))
	require.NoError(t, err)
	_, err = lib.Get("Nope")
	assert.ErrorIs(t, err, logicdriver.ErrDefinitionNotFound)

	inst := logicdriver.NewInstance(lib.First(), logicdriver.WithLibrary(lib))
	assert.ErrorIs(t, inst.Initialize(context.Background(), nil), logicdriver.ErrNilContext)
	assert.ErrorIs(t, inst.Start(), logicdriver.ErrNotInitialized)
}
