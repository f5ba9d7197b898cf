package network

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/logger"
)

// SyncStatus describes how far a component is in the initial handshake.
type SyncStatus int

const (
	SyncDisconnected SyncStatus = iota
	// SyncWaitingForOwningClient: the server holds its queue until the
	// owning client connects.
	SyncWaitingForOwningClient
	// SyncWaitingForClientInitialSync: the server is not state change
	// authoritative and waits for the owning client's snapshot.
	SyncWaitingForClientInitialSync
	// SyncWaitingForServerSync: the client waits for the server snapshot.
	SyncWaitingForServerSync
	SyncSynced
)

func (s SyncStatus) String() string {
	switch s {
	case SyncDisconnected:
		return "disconnected"
	case SyncWaitingForOwningClient:
		return "waiting_for_owning_client"
	case SyncWaitingForClientInitialSync:
		return "waiting_for_client_initial_sync"
	case SyncWaitingForServerSync:
		return "waiting_for_server_sync"
	case SyncSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Option configures a Component.
type Option func(*Component)

// WithRole sets the network role. The default is RoleServer.
func WithRole(r Role) Option {
	return func(c *Component) { c.role = r }
}

// WithTransport enables replication over t.
func WithTransport(t Transport) Option {
	return func(c *Component) { c.transport = t }
}

// WithID sets the sender id used in envelopes.
func WithID(id string) Option {
	return func(c *Component) {
		if id != "" {
			c.id = id
		}
	}
}

func WithSettings(s Settings) Option {
	return func(c *Component) { c.settings = s }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Component) {
		if l != nil {
			c.baseLogger = l
		}
	}
}

// WithClock replaces time.Now for timestamps and server time estimates.
func WithClock(now func() time.Time) Option {
	return func(c *Component) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithListenServer makes the server also a local player.
func WithListenServer() Option {
	return func(c *Component) {
		c.listenServer = true
		c.locallyOwned = true
	}
}

// WithLocallyOwned overrides whether the machine is owned by this process.
// Owning clients are locally owned by default.
func WithLocallyOwned(owned bool) Option {
	return func(c *Component) {
		c.locallyOwned = owned
		c.locallyOwnedSet = true
	}
}

// WithOwningClient tells a server that a remote client owns the machine.
func WithOwningClient() Option {
	return func(c *Component) { c.ownedByClient = true }
}

// WithDispatcher replaces the default routing table.
func WithDispatcher(d *Dispatcher) Option {
	return func(c *Component) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithStartOnSync makes an authoritative client start its instance once
// the first server snapshot has been applied.
func WithStartOnSync() Option {
	return func(c *Component) { c.startOnSync = true }
}

// Component owns one instance on one side of the connection and keeps it
// in sync with the other side. It implements core.NetworkInterface.
//
// A component is driven by Tick on the owner's goroutine. Received
// envelopes wait in the subscription channel until the next Tick.
type Component struct {
	id              string
	role            Role
	listenServer    bool
	locallyOwned    bool
	locallyOwnedSet bool
	ownedByClient   bool
	startOnSync     bool

	settings   Settings
	instance   *core.Instance
	transport  Transport
	dispatcher *Dispatcher
	baseLogger *slog.Logger
	logger     *slog.Logger
	clock      func() time.Time

	ctx         context.Context
	inbox       <-chan Envelope
	userContext any

	outgoing []Transaction
	pending  []Transaction
	channels map[string]bool

	// Scope of the server call being prepared.
	justRanLocally     bool
	serverJustPrepared bool
	clientJustPrepared bool

	processing            bool
	clientSendingOutgoing bool
	remoteRoleJustChanged bool

	initialized                   bool
	canInstanceNetworkTick        bool
	owningClientConnected         bool
	performInitialSyncBeforeQueue bool
	calledShutdownWhileWaiting    bool
	clientInSync                  bool
	serverInSync                  bool
	waitingForServerSync          bool
	queueClientTransactions       bool
	clientHasPendingFullSync      bool
	clientNeedsToSendInitialSync  bool
	proxiesWaitingForOwningSync   bool
	nonAuthServerHasInitialStates bool

	lastNetUpdate float64
}

var _ core.NetworkInterface = (*Component)(nil)

// NewComponent wraps inst. The instance must not be initialized yet; the
// component initializes it.
func NewComponent(inst *core.Instance, opts ...Option) *Component {
	c := &Component{
		id:         NewTransactionID().String(),
		role:       RoleServer,
		settings:   DefaultSettings(),
		instance:   inst,
		dispatcher: DefaultDispatcher(),
		baseLogger: logger.Discard(),
		clock:      time.Now,
		ctx:        context.Background(),
		channels:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.locallyOwnedSet && c.role == RoleOwningClient {
		c.locallyOwned = true
	}
	attrs := []any{logger.Component("network"), slog.String("role", c.role.String()), slog.String("peer", c.id)}
	if inst != nil {
		attrs = append(attrs, logger.Machine(inst.Name()))
	}
	c.logger = c.baseLogger.With(attrs...)
	return c
}

func (c *Component) ID() string { return c.id }
func (c *Component) Role() Role { return c.role }
func (c *Component) Settings() Settings { return c.settings }
func (c *Component) Instance() *core.Instance { return c.instance }
func (c *Component) Dispatcher() *Dispatcher { return c.dispatcher }
func (c *Component) IsInitialized() bool { return c.initialized }
func (c *Component) IsProcessing() bool { return c.processing }
func (c *Component) IsClientInSync() bool { return c.clientInSync }
func (c *Component) IsServerInSync() bool { return c.serverInSync }
func (c *Component) HasOwningClientConnected() bool { return c.owningClientConnected }

// OutgoingTransactions returns a copy of the outgoing queue.
func (c *Component) OutgoingTransactions() []Transaction {
	return append([]Transaction(nil), c.outgoing...)
}

// PendingTransactions returns a copy of the transactions a client holds
// until it is initialized and in sync.
func (c *Component) PendingTransactions() []Transaction {
	return append([]Transaction(nil), c.pending...)
}

// SyncStatus reports the handshake position of the component.
func (c *Component) SyncStatus() SyncStatus {
	if !c.initialized {
		return SyncDisconnected
	}
	if c.HasAuthority() {
		switch {
		case c.isServerAndShouldWaitForOwningClient():
			return SyncWaitingForOwningClient
		case c.isServerAndNeedsOwningClientSync():
			return SyncWaitingForClientInitialSync
		default:
			return SyncSynced
		}
	}
	if c.clientInSync {
		return SyncSynced
	}
	return SyncWaitingForServerSync
}

// Connect subscribes to the transport. Envelopes are handled by Tick.
func (c *Component) Connect(ctx context.Context) error {
	if c.transport == nil {
		return ErrNotConnected
	}
	ch, err := c.transport.Subscribe(ctx)
	if err != nil {
		return NewNetworkError("subscribe", KindUnknown, err)
	}
	c.ctx = ctx
	c.inbox = ch
	return nil
}

// Initialize brings up the local instance. On the server this is the
// authoritative initialization. A client initializes its replica, sends
// its snapshot if it is state change authoritative, and otherwise waits
// for the server.
func (c *Component) Initialize(ctx context.Context, userContext any) error {
	if c.instance == nil {
		return ErrNoInstance
	}
	if userContext != nil {
		c.userContext = userContext
	}
	if c.HasAuthority() {
		return c.doInitialize(ctx)
	}

	if err := c.initInstance(ctx); err != nil {
		return err
	}
	c.postInitialize()

	if c.clientDoesNeedToSendInitialSync() {
		c.logger.Debug("client sending initial sync after initialization")
		c.clientSendInitialSync()
	}
	if !c.clientInSync && !c.clientHasPendingFullSync {
		c.waitingForServerSync = true
	} else if len(c.pending) > 0 {
		c.processAllTransactions(&c.pending)
	}
	return nil
}

// ServerInitialize initializes the instance on the server. An owning
// client initializes its replica and asks the server to initialize too.
func (c *Component) ServerInitialize(ctx context.Context, userContext any) error {
	hasAuth := c.HasAuthority()
	if !hasAuth && c.IsSimulatedProxy() {
		c.logger.Warn("cannot call ServerInitialize from a simulated proxy")
		return ErrSimulatedProxy
	}
	if c.calledShutdownWhileWaiting && !c.owningClientConnected {
		c.logger.Warn("ServerShutdown was called while waiting for the owning client; initializing again may desync")
		c.calledShutdownWhileWaiting = false
	}
	if hasAuth {
		if userContext != nil {
			c.userContext = userContext
		}
		return c.doInitialize(ctx)
	}

	if err := c.Initialize(ctx, userContext); err != nil {
		return err
	}
	defer c.prepareServerCall(false)()
	c.callServerOrQueue(KindInitialize, NewTransaction(KindInitialize))
	return nil
}

// ServerStart starts the instance where allowed and replicates the start.
func (c *Component) ServerStart() {
	hasAuth := c.HasAuthority()
	if !hasAuth && c.IsSimulatedProxy() {
		c.logger.Warn("cannot call ServerStart from a simulated proxy")
		return
	}
	if c.isServerAndShouldWaitForOwningClient() {
		// The owning client may have connected before start was called.
		c.findOwningClientConnection()
	}

	runLocal := !c.IsConfiguredForNetworking() || (c.HasAuthorityToChangeStatesLocally() &&
		!c.isServerAndShouldWaitForOwningClient() && !c.isServerAndNeedsOwningClientSync())

	// States loaded by the user before start are replicated as a snapshot.
	userLoaded := (c.HasAuthorityToChangeStates() || hasAuth) && c.instance != nil && c.instance.WasLoadedFromState()

	defer c.prepareServerCall(runLocal)()

	if !hasAuth && !c.clientInSync {
		c.clientNeedsToSendInitialSync = !c.clientSendInitialSync()
	} else if c.IsConfiguredForNetworking() && hasAuth && runLocal && !userLoaded {
		c.requestFullSync(false)
	}

	if userLoaded && c.IsConfiguredForNetworking() {
		if hasAuth && !c.HasAuthorityToChangeStates() {
			// The owning client will also send its initial snapshot.
			c.nonAuthServerHasInitialStates = true
		}
		if fs := c.prepareFullSync(); fs != nil {
			fs.FromUserLoad = true
			c.queueOutgoing(fs)
		}
	}

	c.callServerOrQueue(KindStart, NewTransaction(KindStart))

	if runLocal {
		c.doStart()
	}
}

// ServerStop stops the instance where allowed and replicates the stop.
func (c *Component) ServerStop() {
	if !c.HasAuthority() && c.IsSimulatedProxy() {
		c.logger.Warn("cannot call ServerStop from a simulated proxy")
		return
	}
	runLocal := !c.IsConfiguredForNetworking() || (c.HasAuthorityToChangeStatesLocally() &&
		!c.isServerAndShouldWaitForOwningClient() && !c.isServerAndNeedsOwningClientSync())

	defer c.prepareServerCall(runLocal)()
	c.callServerOrQueue(KindStop, NewTransaction(KindStop))
	if runLocal {
		c.doStop()
	}
}

// ServerShutdown shuts the instance down everywhere. The server flushes
// its queue first since it will not tick afterwards.
func (c *Component) ServerShutdown() {
	hasAuth := c.HasAuthority()
	if !hasAuth && c.IsSimulatedProxy() {
		c.logger.Warn("cannot call ServerShutdown from a simulated proxy")
		return
	}
	if c.isServerAndShouldWaitForOwningClient() {
		c.calledShutdownWhileWaiting = true
	}
	runLocal := hasAuth || c.HasAuthorityToChangeStatesLocally()

	defer c.prepareServerCall(runLocal)()
	c.callServerOrQueue(KindShutdown, NewTransaction(KindShutdown))
	if runLocal {
		if hasAuth {
			c.processAllTransactions(&c.outgoing)
		}
		c.doShutdown()
	}
}

// ServerTakeTransition replicates a transition the engine took or wants
// to take.
func (c *Component) ServerTakeTransition(req core.TransitionRequest) {
	if !c.HasAuthorityToChangeStates() {
		if !c.IsSimulatedProxy() {
			c.logger.Warn("caller of ServerTakeTransition has no authority to change states",
				slog.String("expected", c.settings.StateChangeAuthority.String()))
		}
		return
	}
	tx := NewTransitionTransaction(req.BaseGuid)
	tx.AdditionalGuids = req.AdditionalGuids
	tx.Timestamp = req.Timestamp
	tx.ActiveTime = req.ActiveTime
	tx.IsServer = req.IsServer

	defer c.prepareServerCall(c.HasAuthorityToChangeStatesLocally())()
	c.callServerOrQueue(KindTransition, tx)
}

// ServerActivateState switches a state on or off and replicates it. The
// change is applied here right away when this side may change states
// locally.
func (c *Component) ServerActivateState(guid uuid.UUID, active, setAllParents bool) {
	if c.instance == nil {
		return
	}
	if !c.HasAuthorityToChangeStates() {
		if !c.IsSimulatedProxy() {
			c.logger.Warn("caller of ServerActivateState has no authority to change states",
				slog.String("expected", c.settings.StateChangeAuthority.String()))
		}
		return
	}
	s := c.instance.GetStateByGuid(guid)
	if s == nil {
		return
	}

	runLocal := c.HasAuthorityToChangeStatesLocally()
	timeInState := 0.0
	if !active {
		timeInState = s.ActiveTime()
	}

	defer c.prepareServerCall(runLocal)()
	c.callServerOrQueue(KindActivateState, NewActivateStateTransaction(s.Guid(), timeInState, active, setAllParents))
	if runLocal {
		c.instance.ActivateStateLocally(guid, active, setAllParents, true)
	}
}

// ServerFullSync asks the server to broadcast a snapshot of the instance.
func (c *Component) ServerFullSync() {
	c.requestFullSync(false)
}

// HandleChannelOpen registers a client connection on the server. owner
// marks the connection of the owning client.
func (c *Component) HandleChannelOpen(clientID string, owner bool) bool {
	if c.processing || !c.initialized {
		return false
	}
	if _, ok := c.channels[clientID]; ok {
		return false
	}
	c.logger.Debug("client connecting", slog.String("client", clientID), slog.Bool("owner", owner))
	c.channels[clientID] = owner

	if owner {
		wasWaiting := c.isServerAndShouldWaitForOwningClient()
		wasWaitingForSync := c.isServerAndNeedsOwningClientSync()
		c.owningClientConnected = true
		if wasWaiting {
			c.performInitialSyncBeforeQueue = !wasWaitingForSync
			c.logger.Debug("owning client connected; server resumed processing")
			return true
		}
	}

	if !c.HasAuthorityToChangeStates() && !c.serverInSync {
		c.logger.Debug("cannot broadcast initial sync; waiting for the owning client")
		c.proxiesWaitingForOwningSync = true
	} else if !c.isServerAndShouldWaitForOwningClient() && !c.isServerAndNeedsOwningClientSync() && !c.performInitialSyncBeforeQueue {
		c.ServerFullSync()
	}
	return true
}

// HandleChannelClosed forgets a client connection.
func (c *Component) HandleChannelClosed(clientID string) {
	owner, ok := c.channels[clientID]
	if !ok {
		return
	}
	delete(c.channels, clientID)
	if owner {
		c.findOwningClientConnection()
	}
}

func (c *Component) findOwningClientConnection() {
	c.owningClientConnected = false
	for _, owner := range c.channels {
		if owner {
			c.owningClientConnected = true
			return
		}
	}
}

// Tick drains received envelopes, updates the instance when this side
// may tick and processes the queues at the configured frequency.
func (c *Component) Tick(delta float64) {
	c.drainInbox()

	if c.instance != nil && c.canTickForEnvironment() {
		c.instance.Update(delta)
	}
	if !c.IsConfiguredForNetworking() {
		return
	}

	if c.HasAuthority() {
		if !c.netUpdateDue(delta, c.settings.ServerUpdateFrequency) {
			return
		}
		if c.isServerAndNeedsToWaitToProcessTransactions() {
			if c.initialized && len(c.outgoing) > 0 {
				c.logger.Debug("server is waiting for the owning client before processing its queue",
					slog.Int("queued", len(c.outgoing)))
			}
			return
		}
		c.processAllTransactions(&c.outgoing)
		return
	}

	if c.netUpdateDue(delta, c.settings.ClientUpdateFrequency) {
		c.clientSendOutgoingTransactions()
	}
	if !c.clientInSync && len(c.pending) > 0 && c.instance != nil && c.instance.IsInitialized() {
		c.logger.Debug("client has not received the initial server sync", slog.Int("pending", len(c.pending)))
	}
}

func (c *Component) netUpdateDue(delta, frequency float64) bool {
	if frequency <= 0 {
		return true
	}
	c.lastNetUpdate += delta
	if c.lastNetUpdate >= 1/frequency {
		c.lastNetUpdate = 0
		return true
	}
	return false
}

func (c *Component) canTickForEnvironment() bool {
	if c.IsConfiguredForNetworking() {
		return c.canInstanceNetworkTick
	}
	return true
}

func (c *Component) drainInbox() {
	for c.inbox != nil {
		select {
		case env, ok := <-c.inbox:
			if !ok {
				c.inbox = nil
				return
			}
			if err := c.Receive(env); err != nil {
				c.logger.Error("could not handle envelope", logger.Error(err))
			}
		default:
			return
		}
	}
}

// Receive handles one envelope. Envelopes sent by this component or
// addressed to other roles are ignored.
func (c *Component) Receive(env Envelope) error {
	if env.Sender == c.id || !c.accepts(env.Target) {
		return nil
	}
	batch, err := env.Transactions()
	if err != nil {
		return err
	}
	role := c.role
	if c.HasAuthority() {
		role = RoleServer
	}
	return c.dispatcher.Dispatch(c, role, env.Kind, batch)
}

func (c *Component) accepts(target Role) bool {
	switch {
	case c.HasAuthority():
		return target == RoleServer
	case c.role == RoleOwningClient:
		return target == RoleOwningClient || target == RoleSimulatedProxy
	default:
		return target == RoleSimulatedProxy
	}
}

// ConfigureInstanceNetworkSettings applies the authority of this side to
// the instance: who ticks, who evaluates and takes transitions and who
// runs state logic.
func (c *Component) ConfigureInstanceNetworkSettings() {
	if c.instance == nil || !c.IsConfiguredForNetworking() {
		return
	}
	isProxy := c.IsSimulatedProxy() && !c.settings.IncludeSimulatedProxies
	hasAuth := !isProxy && c.HasAuthority()

	c.canInstanceNetworkTick = c.HasAuthorityToTick()

	switch {
	case !c.HasAuthorityToChangeStates():
		c.instance.SetAllowTransitionsLocally(false, !c.settings.WaitForTransactionsFromServer && !isProxy)
	case c.settings.WaitForTransactionsFromServer:
		// Evaluate, but let the server decide.
		c.instance.SetAllowTransitionsLocally(true, hasAuth)
	default:
		c.instance.SetAllowTransitionsLocally(true, true)
	}

	c.instance.SetAllowStateLogic(c.HasAuthorityToExecuteLogic())
	c.instance.SetNetworkInterface(c)
}

func (c *Component) isServerAndShouldWaitForOwningClient() bool {
	return c.IsConfiguredForNetworking() && c.HasAuthority() && c.settings.WaitForOwningClient &&
		!c.owningClientConnected && c.isRemoteRoleOwningClient() && !c.listenServer
}

func (c *Component) isServerAndNeedsOwningClientSync() bool {
	return c.IsConfiguredForNetworking() && c.HasAuthority() && !c.HasAuthorityToChangeStates() && !c.serverInSync
}

func (c *Component) isServerAndNeedsToWaitToProcessTransactions() bool {
	return c.isServerAndShouldWaitForOwningClient() || c.isServerAndNeedsOwningClientSync()
}

func (c *Component) setClientAsSynced() {
	if c.HasAuthority() {
		return
	}
	c.waitingForServerSync = false
	c.clientInSync = true
	c.queueClientTransactions = false
	c.clientHasPendingFullSync = false
}

func (c *Component) setServerAsSynced() {
	if !c.HasAuthority() {
		return
	}
	c.serverInSync = true
	c.proxiesWaitingForOwningSync = false
}

func (c *Component) clientDoesNeedToSendInitialSync() bool {
	return c.IsOwningClient() && !c.clientInSync && (c.clientNeedsToSendInitialSync || c.HasAuthorityToChangeStates())
}

// clientSendInitialSync sends the client snapshot to the server.
func (c *Component) clientSendInitialSync() bool {
	if len(c.pending) > 0 {
		c.logger.Warn("client is sending its initial sync with pending transactions; it may be out of sync")
	}
	fs := c.prepareFullSync()
	if fs == nil {
		return false
	}
	c.setClientAsSynced()
	c.callServer(KindFullSync, []Transaction{fs})
	return true
}

func (c *Component) tryStartClientPostFullSync() {
	if c.instance != nil && c.instance.IsInitialized() && !c.instance.HasStarted() &&
		c.startOnSync && c.isClientAndCanLocallyChangeStates() {
		c.ServerStart()
	}
}
