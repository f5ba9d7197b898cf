package network

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver/pkg/core"
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

// captureTransport keeps every sent envelope.
type captureTransport struct {
	mu   sync.Mutex
	sent []Envelope
}

func (t *captureTransport) Send(_ context.Context, env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *captureTransport) Subscribe(context.Context) (<-chan Envelope, error) {
	return make(chan Envelope), nil
}

func (t *captureTransport) kinds() []TransactionKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TransactionKind, 0, len(t.sent))
	for _, env := range t.sent {
		out = append(out, env.Kind)
	}
	return out
}

func (t *captureTransport) batch(tb testing.TB, i int) []Transaction {
	tb.Helper()
	t.mu.Lock()
	env := t.sent[i]
	t.mu.Unlock()
	batch, err := env.Transactions()
	require.NoError(tb, err)
	return batch
}

func (t *captureTransport) reset() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestInstance(t *testing.T, src string, opts ...core.Option) (*core.Instance, *definition.Definition) {
	t.Helper()
	lib, err := definition.Parse([]byte(src))
	require.NoError(t, err)
	def := lib.First()
	require.NotNil(t, def)
	opts = append([]core.Option{core.WithLibrary(lib)}, opts...)
	return core.NewInstance(def, opts...), def
}

// recorder keeps transition and lifecycle notifications in order.
type recorder struct {
	core.BaseObserver
	taken     []string
	changes   int
	lifecycle []string
}

func (r *recorder) OnTransitionTaken(_ *core.Instance, t *core.Transition) {
	r.taken = append(r.taken, t.Name())
}

func (r *recorder) OnStateChanged(*core.Instance, core.StateNode, core.StateNode) { r.changes++ }
func (r *recorder) OnStarted(*core.Instance) { r.lifecycle = append(r.lifecycle, "started") }
func (r *recorder) OnStopped(*core.Instance) { r.lifecycle = append(r.lifecycle, "stopped") }

func serverSettings() Settings {
	s := DefaultSettings()
	s.StateChangeAuthority = AuthorityServer
	s.TickAuthority = AuthorityServer
	s.WaitForOwningClient = false
	return s
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func stateNamed(t *testing.T, inst *core.Instance, name string) core.StateNode {
	t.Helper()
	s := inst.FindStateByName(name)
	require.NotNil(t, s, "state %s", name)
	return s
}

func transitionNamed(t *testing.T, inst *core.Instance, name string) *core.Transition {
	t.Helper()
	for _, tr := range inst.TransitionMap() {
		if tr.Name() == name {
			return tr
		}
	}
	t.Fatalf("transition %s not found", name)
	return nil
}

func activeNames(inst *core.Instance) []string {
	var names []string
	for _, s := range inst.GetAllActiveStates() {
		names = append(names, s.QualifiedName())
	}
	return names
}
