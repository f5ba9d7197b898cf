package network_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/network"
	"github.com/anggasct/logicdriver/pkg/transport/memory"
)

const doorYAML = `
name: Door
states:
  - name: Closed
    initial: true
  - name: Open
  - name: Locked
transitions:
  - from: Closed
    to: Open
  - from: Open
    to: Locked
`

type peer struct {
	inst *core.Instance
	def  *definition.Definition
	comp *network.Component
}

func newPeer(t *testing.T, hub network.Transport, id string, opts ...network.Option) *peer {
	t.Helper()
	lib, err := definition.Parse([]byte(doorYAML))
	require.NoError(t, err)
	def := lib.First()
	inst := core.NewInstance(def, core.WithLibrary(lib))

	opts = append([]network.Option{network.WithTransport(hub), network.WithID(id)}, opts...)
	p := &peer{inst: inst, def: def, comp: network.NewComponent(inst, opts...)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.comp.Connect(ctx))
	return p
}

func (p *peer) active() []string {
	var names []string
	for _, s := range p.inst.GetAllActiveStates() {
		names = append(names, s.QualifiedName())
	}
	return names
}

func TestReplication_ServerAuthority(t *testing.T) {
	hub := memory.NewTransport()
	defer hub.Close()

	settings := network.DefaultSettings()
	settings.StateChangeAuthority = network.AuthorityServer
	settings.TickAuthority = network.AuthorityServer

	server := newPeer(t, hub, "server", network.WithSettings(settings), network.WithOwningClient())
	client := newPeer(t, hub, "client", network.WithSettings(settings), network.WithRole(network.RoleOwningClient))

	open := false
	server.inst.Registry().Bind(server.def).Transition("Closed->Open", core.TransitionCallbacks{
		CanEnter: func(*core.EvalContext) bool { return open },
	})

	require.NoError(t, server.comp.Initialize(context.Background(), nil))
	require.NoError(t, client.comp.Initialize(context.Background(), nil))
	assert.Equal(t, network.SyncWaitingForOwningClient, server.comp.SyncStatus())
	assert.Equal(t, network.SyncWaitingForServerSync, client.comp.SyncStatus())

	require.True(t, server.comp.HandleChannelOpen("client", true))
	server.comp.ServerStart()
	assert.Equal(t, []string{"Closed"}, server.active())

	open = true
	server.comp.Tick(0.1)
	assert.Equal(t, []string{"Open"}, server.active())

	client.comp.Tick(0.1)
	assert.Equal(t, network.SyncSynced, client.comp.SyncStatus())
	assert.True(t, client.inst.HasStarted())
	assert.Equal(t, []string{"Open"}, client.active())
	assert.Empty(t, client.comp.PendingTransactions())

	server.comp.ServerStop()
	server.comp.Tick(0.1)
	client.comp.Tick(0.1)
	assert.False(t, server.inst.HasStarted())
	assert.False(t, client.inst.HasStarted())
}

func TestReplication_ClientAuthority(t *testing.T) {
	hub := memory.NewTransport()
	defer hub.Close()

	server := newPeer(t, hub, "server", network.WithOwningClient())
	client := newPeer(t, hub, "client", network.WithRole(network.RoleOwningClient))

	open := false
	client.inst.Registry().Bind(client.def).Transition("Closed->Open", core.TransitionCallbacks{
		CanEnter: func(*core.EvalContext) bool { return open },
	})

	require.NoError(t, server.comp.Initialize(context.Background(), nil))
	require.True(t, server.comp.HandleChannelOpen("client", true))
	assert.Equal(t, network.SyncWaitingForClientInitialSync, server.comp.SyncStatus())

	require.NoError(t, client.comp.Initialize(context.Background(), nil))
	assert.Equal(t, network.SyncSynced, client.comp.SyncStatus())

	server.comp.Tick(0.1)
	assert.Equal(t, network.SyncSynced, server.comp.SyncStatus())

	client.comp.ServerStart()
	assert.Equal(t, []string{"Closed"}, client.active())
	client.comp.Tick(0.1)

	open = true
	client.comp.Tick(0.1)
	assert.Equal(t, []string{"Open"}, client.active(), "the owning client changes states right away")

	server.comp.Tick(0.1)
	assert.True(t, server.inst.HasStarted())
	assert.Equal(t, []string{"Open"}, server.active())

	client.comp.Tick(0.1)
	assert.Equal(t, []string{"Open"}, client.active(), "the echo from the server is skipped")
	assert.Empty(t, client.comp.OutgoingTransactions())
}

func TestReplication_Standalone(t *testing.T) {
	lib, err := definition.Parse([]byte(doorYAML))
	require.NoError(t, err)
	inst := core.NewInstance(lib.First(), core.WithLibrary(lib))
	c := network.NewComponent(inst)

	assert.False(t, c.IsConfiguredForNetworking())
	assert.ErrorIs(t, c.Connect(context.Background()), network.ErrNotConnected)

	require.NoError(t, c.Initialize(context.Background(), nil))
	c.ServerStart()
	assert.True(t, inst.HasStarted())

	c.ServerActivateState(inst.FindStateByName("Locked").Guid(), true, false)
	c.Tick(0.1)
	assert.ElementsMatch(t, []string{"Closed", "Locked"}, func() []string {
		var names []string
		for _, s := range inst.GetAllActiveStates() {
			names = append(names, s.QualifiedName())
		}
		return names
	}())

	c.ServerShutdown()
	assert.False(t, inst.IsInitialized())
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("LD_STATE_CHANGE_AUTHORITY", "server")
	t.Setenv("LD_TICK_AUTHORITY", "client_and_server")
	t.Setenv("LD_SERVER_UPDATE_FREQUENCY", "10")
	t.Setenv("LD_WAIT_FOR_OWNING_CLIENT", "false")

	s, err := network.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, network.AuthorityServer, s.StateChangeAuthority)
	assert.Equal(t, network.AuthorityClientAndServer, s.TickAuthority)
	assert.Equal(t, network.AuthorityClientAndServer, s.StateExecution)
	assert.Equal(t, 10.0, s.ServerUpdateFrequency)
	assert.False(t, s.WaitForOwningClient)
	assert.True(t, s.CalculateServerTimeForClients)

	t.Setenv("LD_STATE_CHANGE_AUTHORITY", "nobody")
	_, err = network.LoadSettings()
	assert.Error(t, err)
}
