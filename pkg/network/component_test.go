package network

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/logicdriver/pkg/core"
)

func TestProcessAllTransactions_ReplayOrder(t *testing.T) {
	rec := &recorder{}
	inst, _ := newTestInstance(t, linearYAML, core.WithObserver(rec))
	tr := &captureTransport{}
	c := NewComponent(inst, WithTransport(tr), WithSettings(serverSettings()), WithClock(fixedClock()))
	require.NoError(t, c.Initialize(context.Background(), nil))

	a := transitionNamed(t, inst, "S1->S2")
	b := transitionNamed(t, inst, "S2->S3")
	c.queueOutgoing(
		NewTransaction(KindStart),
		NewTransitionTransaction(a.Guid()),
		NewTransitionTransaction(b.Guid()),
		NewTransaction(KindStop),
	)

	c.processAllTransactions(&c.outgoing)

	assert.Equal(t, []TransactionKind{KindStart, KindTransition, KindStop}, tr.kinds())
	batch := tr.batch(t, 1)
	require.Len(t, batch, 2)
	assert.Equal(t, a.Guid(), batch[0].(*TransitionTransaction).BaseGuid)
	assert.Equal(t, b.Guid(), batch[1].(*TransitionTransaction).BaseGuid)
	assert.Equal(t, fixedClock()().UTC(), batch[0].(*TransitionTransaction).Timestamp)

	assert.Equal(t, []string{"S1->S2", "S2->S3"}, rec.taken)
	assert.Equal(t, []string{"started", "stopped"}, rec.lifecycle)
	assert.False(t, inst.HasStarted())
	assert.Empty(t, c.OutgoingTransactions())
}

func TestProcessAllTransactions_BatchesConsecutiveKinds(t *testing.T) {
	inst, _ := newTestInstance(t, linearYAML)
	tr := &captureTransport{}
	c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(tr))

	guid := uuid.New()
	c.outgoing = []Transaction{
		NewTransitionTransaction(guid),
		NewActivateStateTransaction(guid, 0, true, false),
		NewTransitionTransaction(guid),
		NewTransitionTransaction(guid),
		NewActivateStateTransaction(guid, 0, true, false),
		NewActivateStateTransaction(guid, 0, false, false),
		NewTransaction(KindStart),
		NewTransitionTransaction(guid),
	}

	c.clientSendOutgoingTransactions()

	assert.Equal(t, []TransactionKind{
		KindTransition, KindActivateState, KindTransition, KindActivateState, KindStart, KindTransition,
	}, tr.kinds())
	for i, want := range []int{1, 1, 2, 2, 1, 1} {
		assert.Len(t, tr.batch(t, i), want, "envelope %d", i)
	}
	assert.Empty(t, c.OutgoingTransactions())
}

func TestProcessAllTransactions_ClientShutdownTruncates(t *testing.T) {
	inst, _ := newTestInstance(t, linearYAML)
	tr := &captureTransport{}
	c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(tr))
	require.NoError(t, c.Initialize(context.Background(), nil))

	c.pending = []Transaction{
		NewTransaction(KindStart),
		NewTransaction(KindShutdown),
		NewTransaction(KindStop),
	}
	c.processAllTransactions(&c.pending)

	require.Len(t, c.PendingTransactions(), 1)
	assert.Equal(t, KindStop, c.PendingTransactions()[0].Base().Kind)
	assert.False(t, inst.IsInitialized())
	assert.False(t, c.IsInitialized())
	assert.Equal(t, SyncDisconnected, c.SyncStatus())
}

func TestProcessAllTransactions_ServerWaitsForOwningClient(t *testing.T) {
	inst, _ := newTestInstance(t, linearYAML)
	tr := &captureTransport{}
	c := NewComponent(inst, WithTransport(tr), WithOwningClient())
	require.NoError(t, c.Initialize(context.Background(), nil))

	c.queueOutgoing(NewTransaction(KindStart))
	c.Tick(0.1)

	assert.Empty(t, tr.kinds())
	assert.Len(t, c.OutgoingTransactions(), 1)
}

func TestAuthorityTable(t *testing.T) {
	clientAuth := DefaultSettings()
	serverAuth := serverSettings()
	proxies := DefaultSettings()
	proxies.IncludeSimulatedProxies = true

	tests := []struct {
		name       string
		opts       []Option
		change     bool
		local      bool
		logic      bool
		tick       bool
		hasAuth    bool
		remoteRole Role
	}{
		{
			name:   "standalone",
			change: true, local: true, logic: true, tick: true, hasAuth: true, remoteRole: RoleNone,
		},
		{
			name:   "server with client authority",
			opts:   []Option{WithSettings(clientAuth), WithOwningClient()},
			change: false, local: false, logic: true, tick: false, hasAuth: true, remoteRole: RoleOwningClient,
		},
		{
			name:   "owning client with client authority",
			opts:   []Option{WithRole(RoleOwningClient), WithSettings(clientAuth)},
			change: true, local: true, logic: true, tick: true, hasAuth: false, remoteRole: RoleServer,
		},
		{
			name:   "simulated proxy",
			opts:   []Option{WithRole(RoleSimulatedProxy), WithSettings(clientAuth)},
			change: false, local: false, logic: false, tick: false, hasAuth: false, remoteRole: RoleServer,
		},
		{
			name:   "server with server authority",
			opts:   []Option{WithSettings(serverAuth)},
			change: true, local: true, logic: true, tick: true, hasAuth: true, remoteRole: RoleSimulatedProxy,
		},
		{
			name:   "owning client with server authority",
			opts:   []Option{WithRole(RoleOwningClient), WithSettings(serverAuth)},
			change: false, local: false, logic: true, tick: false, hasAuth: false, remoteRole: RoleServer,
		},
		{
			name:   "listen server with client authority",
			opts:   []Option{WithListenServer(), WithSettings(clientAuth)},
			change: true, local: true, logic: true, tick: true, hasAuth: true, remoteRole: RoleSimulatedProxy,
		},
		{
			name:   "simulated proxy included",
			opts:   []Option{WithRole(RoleSimulatedProxy), WithSettings(proxies)},
			change: false, local: false, logic: true, tick: true, hasAuth: false, remoteRole: RoleServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if tt.name != "standalone" {
				opts = append([]Option{WithTransport(&captureTransport{})}, opts...)
			}
			c := NewComponent(nil, opts...)

			assert.Equal(t, tt.change, c.HasAuthorityToChangeStates(), "change")
			assert.Equal(t, tt.local, c.HasAuthorityToChangeStatesLocally(), "local")
			assert.Equal(t, tt.logic, c.HasAuthorityToExecuteLogic(), "logic")
			assert.Equal(t, tt.tick, c.HasAuthorityToTick(), "tick")
			assert.Equal(t, tt.hasAuth, c.HasAuthority(), "authority")
			assert.Equal(t, tt.remoteRole, c.RemoteRole(), "remote role")
		})
	}
}

func TestDispatcher(t *testing.T) {
	c := NewComponent(nil, WithTransport(&captureTransport{}))

	err := c.Dispatcher().Dispatch(c, RoleServer, KindUnknown, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.True(t, IsNetworkError(err))

	var got []Transaction
	d := NewDispatcher()
	d.Register(RoleSimulatedProxy, KindStop, func(_ *Component, batch []Transaction) { got = batch })
	stop := NewTransaction(KindStop)
	require.NoError(t, d.Dispatch(c, RoleSimulatedProxy, KindStop, []Transaction{stop}))
	assert.Equal(t, []Transaction{stop}, got)

	_, ok := DefaultDispatcher().Handler(RoleOwningClient, KindInitialize)
	assert.False(t, ok, "clients never receive initialize")
}

func TestReceive_FiltersByTarget(t *testing.T) {
	var handled []Role
	d := NewDispatcher()
	for _, role := range []Role{RoleServer, RoleOwningClient, RoleSimulatedProxy} {
		d.Register(role, KindStop, func(c *Component, _ []Transaction) { handled = append(handled, c.Role()) })
	}
	stop := []Transaction{NewTransaction(KindStop)}

	tests := []struct {
		role    Role
		target  Role
		handled bool
	}{
		{RoleServer, RoleServer, true},
		{RoleServer, RoleSimulatedProxy, false},
		{RoleOwningClient, RoleOwningClient, true},
		{RoleOwningClient, RoleSimulatedProxy, true},
		{RoleOwningClient, RoleServer, false},
		{RoleSimulatedProxy, RoleSimulatedProxy, true},
		{RoleSimulatedProxy, RoleOwningClient, false},
	}
	for _, tt := range tests {
		handled = nil
		c := NewComponent(nil, WithRole(tt.role), WithTransport(&captureTransport{}), WithDispatcher(d), WithID("me"))

		env, err := NewEnvelope("other", tt.target, KindStop, stop)
		require.NoError(t, err)
		require.NoError(t, c.Receive(env))
		assert.Equal(t, tt.handled, len(handled) == 1, "%s receiving for %s", tt.role, tt.target)

		handled = nil
		own, err := NewEnvelope("me", tt.target, KindStop, stop)
		require.NoError(t, err)
		require.NoError(t, c.Receive(own))
		assert.Empty(t, handled, "own envelopes are ignored")
	}
}

func TestClearFullSyncTransactions(t *testing.T) {
	user := NewFullSyncTransaction()
	user.FromUserLoad = true
	queue := []Transaction{
		NewTransaction(KindStart),
		NewFullSyncTransaction(),
		user,
		NewTransitionTransaction(uuid.New()),
	}

	kept := ClearFullSyncTransactions(append([]Transaction(nil), queue...), true)
	require.Len(t, kept, 3)
	assert.Same(t, user, kept[1])

	kept = ClearFullSyncTransactions(append([]Transaction(nil), queue...), false)
	require.Len(t, kept, 2)
	assert.Equal(t, KindStart, kept[0].Base().Kind)
	assert.Equal(t, KindTransition, kept[1].Base().Kind)
}

func TestDoTakeTransitions_DropsDesynced(t *testing.T) {
	var buf bytes.Buffer
	inst, _ := newTestInstance(t, linearYAML)
	c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(&captureTransport{}),
		WithSettings(serverSettings()), WithLogger(bufferLogger(&buf)))
	require.NoError(t, c.Initialize(context.Background(), nil))
	c.doStart()
	require.Equal(t, []string{"S1"}, activeNames(inst))

	b := transitionNamed(t, inst, "S2->S3")
	c.doTakeTransitions([]Transaction{NewTransitionTransaction(b.Guid())}, false)
	assert.Equal(t, []string{"S1"}, activeNames(inst))
	assert.Contains(t, buf.String(), "out of sync")

	buf.Reset()
	c.doTakeTransitions([]Transaction{NewTransitionTransaction(uuid.New())}, false)
	assert.Equal(t, []string{"S1"}, activeNames(inst))
	assert.Contains(t, buf.String(), "transition not found")

	ran := NewTransitionTransaction(transitionNamed(t, inst, "S1->S2").Guid())
	ran.RanLocally = true
	c.doTakeTransitions([]Transaction{ran}, false)
	assert.Equal(t, []string{"S1"}, activeNames(inst), "transactions that ran locally are skipped")

	chain := NewTransitionTransaction(transitionNamed(t, inst, "S1->S2").Guid())
	chain.AdditionalGuids = []uuid.UUID{stateNamed(t, inst, "S1").Guid(), uuid.New()}
	buf.Reset()
	c.doTakeTransitions([]Transaction{chain}, false)
	assert.Equal(t, []string{"S1"}, activeNames(inst))
	assert.Contains(t, buf.String(), "chain endpoints not found")
}

func TestDoTakeTransitions_Applies(t *testing.T) {
	inst, _ := newTestInstance(t, linearYAML)
	c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(&captureTransport{}), WithSettings(serverSettings()))
	require.NoError(t, c.Initialize(context.Background(), nil))
	c.doStart()

	a := transitionNamed(t, inst, "S1->S2")
	tx := NewTransitionTransaction(a.Guid())
	tx.Timestamp = fixedClock()()
	tx.ActiveTime = 1.25
	c.doTakeTransitions([]Transaction{tx}, false)

	assert.Equal(t, []string{"S2"}, activeNames(inst))
	assert.Equal(t, 1.25, a.ServerTimeInState())
	assert.Equal(t, tx.Timestamp, a.LastNetworkTimestamp())
}

func TestDoFullSync(t *testing.T) {
	t.Run("matching snapshot changes nothing", func(t *testing.T) {
		rec := &recorder{}
		inst, _ := newTestInstance(t, linearYAML, core.WithObserver(rec))
		c := NewComponent(inst, WithTransport(&captureTransport{}), WithSettings(serverSettings()))
		require.NoError(t, c.Initialize(context.Background(), nil))
		c.ServerStart()
		require.Equal(t, []string{"S1"}, activeNames(inst))

		fs := c.prepareFullSync()
		require.NotNil(t, fs)
		require.Len(t, fs.ActiveStates, 1)
		assert.True(t, fs.HasStarted)
		before := rec.changes

		c.doFullSync(fs)

		assert.Equal(t, []string{"S1"}, activeNames(inst))
		assert.Equal(t, before, rec.changes)
		assert.Equal(t, []string{"started"}, rec.lifecycle)
	})

	t.Run("differing snapshot corrects the replica", func(t *testing.T) {
		inst, _ := newTestInstance(t, linearYAML)
		c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(&captureTransport{}), WithSettings(serverSettings()))
		require.NoError(t, c.Initialize(context.Background(), nil))
		c.doStart()
		require.Equal(t, SyncWaitingForServerSync, c.SyncStatus())

		fs := NewFullSyncTransaction()
		fs.HasStarted = true
		fs.ActiveStates = []FullSyncState{{Guid: stateNamed(t, inst, "S2").Guid(), TimeInState: 3}}
		c.doFullSync(fs)

		assert.Equal(t, []string{"S2"}, activeNames(inst))
		assert.Equal(t, 3.0, stateNamed(t, inst, "S2").ServerTimeInState())
		assert.True(t, c.IsClientInSync())
		assert.Equal(t, SyncSynced, c.SyncStatus())
	})

	t.Run("snapshot starts a stopped replica in the server states", func(t *testing.T) {
		inst, _ := newTestInstance(t, linearYAML)
		c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(&captureTransport{}), WithSettings(serverSettings()))
		require.NoError(t, c.Initialize(context.Background(), nil))
		require.False(t, inst.HasStarted())

		fs := NewFullSyncTransaction()
		fs.HasStarted = true
		fs.ActiveStates = []FullSyncState{{Guid: stateNamed(t, inst, "S2").Guid(), TimeInState: 2}}
		c.doFullSync(fs)

		assert.True(t, inst.HasStarted())
		assert.Equal(t, []string{"S2"}, activeNames(inst))
		assert.False(t, inst.Root().HasTemporaryInitialStates())
	})

	t.Run("stopped snapshot stops the replica", func(t *testing.T) {
		inst, _ := newTestInstance(t, linearYAML)
		c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(&captureTransport{}), WithSettings(serverSettings()))
		require.NoError(t, c.Initialize(context.Background(), nil))
		c.doStart()

		c.doFullSync(NewFullSyncTransaction())

		assert.False(t, inst.HasStarted())
	})

	t.Run("started snapshot without states only marks started", func(t *testing.T) {
		inst, _ := newTestInstance(t, linearYAML)
		c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(&captureTransport{}), WithSettings(serverSettings()))
		require.NoError(t, c.Initialize(context.Background(), nil))

		fs := NewFullSyncTransaction()
		fs.HasStarted = true
		c.doFullSync(fs)

		assert.True(t, inst.HasStarted())
		assert.Empty(t, activeNames(inst))
	})
}

func TestSyncStatus_ChannelLifecycle(t *testing.T) {
	inst, _ := newTestInstance(t, linearYAML)
	c := NewComponent(inst, WithTransport(&captureTransport{}), WithOwningClient())
	assert.Equal(t, SyncDisconnected, c.SyncStatus())
	assert.False(t, c.HandleChannelOpen("early", true), "channels open only after initialize")

	require.NoError(t, c.Initialize(context.Background(), nil))
	assert.Equal(t, SyncWaitingForOwningClient, c.SyncStatus())

	assert.True(t, c.HandleChannelOpen("proxy", false))
	assert.Equal(t, SyncWaitingForOwningClient, c.SyncStatus())

	assert.True(t, c.HandleChannelOpen("owner", true))
	assert.False(t, c.HandleChannelOpen("owner", true))
	assert.Equal(t, SyncWaitingForClientInitialSync, c.SyncStatus())

	// The owning client's initial snapshot.
	c.serverFullSync([]Transaction{NewFullSyncTransaction()})
	assert.Equal(t, SyncSynced, c.SyncStatus())
	assert.True(t, c.IsServerInSync())
	require.Len(t, c.OutgoingTransactions(), 1, "proxies that connected early get a snapshot")
	assert.Equal(t, KindFullSync, c.OutgoingTransactions()[0].Base().Kind)

	c.HandleChannelClosed("owner")
	assert.False(t, c.HasOwningClientConnected())
	assert.Equal(t, SyncWaitingForOwningClient, c.SyncStatus())
}

func TestSyncStatus_Client(t *testing.T) {
	t.Run("authoritative client sends its snapshot", func(t *testing.T) {
		inst, _ := newTestInstance(t, linearYAML)
		tr := &captureTransport{}
		c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(tr))
		require.NoError(t, c.Initialize(context.Background(), nil))

		assert.Equal(t, SyncSynced, c.SyncStatus())
		require.Equal(t, []TransactionKind{KindFullSync}, tr.kinds())
		assert.Equal(t, RoleServer, tr.sent[0].Target)
	})

	t.Run("replica waits for the server", func(t *testing.T) {
		inst, _ := newTestInstance(t, linearYAML)
		tr := &captureTransport{}
		c := NewComponent(inst, WithRole(RoleOwningClient), WithTransport(tr), WithSettings(serverSettings()))
		require.NoError(t, c.Initialize(context.Background(), nil))

		assert.Equal(t, SyncWaitingForServerSync, c.SyncStatus())
		assert.Empty(t, tr.kinds())

		c.multicastStart([]Transaction{&TransactionBase{ID: NewTransactionID(), Kind: KindStart, OriginatedFromServer: true}})
		assert.Len(t, c.PendingTransactions(), 1, "changes wait for the first snapshot")
		assert.False(t, inst.HasStarted())
	})
}

func TestServerPrepareTransitions_ActiveTime(t *testing.T) {
	clock := fixedClock()
	inst, _ := newTestInstance(t, linearYAML, core.WithClock(clock))
	later := func() time.Time { return clock().Add(2500 * time.Millisecond) }
	c := NewComponent(inst, WithTransport(&captureTransport{}), WithClock(later))
	require.NoError(t, c.Initialize(context.Background(), nil))
	require.NoError(t, inst.Start())
	a := transitionNamed(t, inst, "S1->S2")

	tx := NewTransitionTransaction(a.Guid())
	c.serverPrepareTransitions([]Transaction{tx})
	assert.InDelta(t, 2.5, tx.ActiveTime, 1e-9)
	assert.Equal(t, later().UTC(), tx.Timestamp)

	c.settings.CalculateServerTimeForClients = false
	tx = NewTransitionTransaction(a.Guid())
	c.serverPrepareTransitions([]Transaction{tx})
	assert.Equal(t, stateNamed(t, inst, "S1").ActiveTime(), tx.ActiveTime)
}
