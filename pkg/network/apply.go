package network

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/logger"
)

func (c *Component) doInitialize(ctx context.Context) error {
	if c.instance == nil {
		return ErrNoInstance
	}
	if c.HasAuthority() && c.HasAuthorityToChangeStates() {
		c.setServerAsSynced()
	}
	if err := c.initInstance(ctx); err != nil {
		return err
	}
	c.postInitialize()
	return nil
}

// initInstance initializes the instance once. Without a user context the
// component itself is handed to callbacks.
func (c *Component) initInstance(ctx context.Context) error {
	if c.instance.IsInitialized() {
		return nil
	}
	uc := c.userContext
	if uc == nil {
		uc = c
	}
	return c.instance.Initialize(ctx, uc)
}

func (c *Component) postInitialize() {
	c.initialized = true
	c.ConfigureInstanceNetworkSettings()
}

func (c *Component) doStart() {
	if c.instance == nil {
		return
	}
	if err := c.instance.Start(); err != nil {
		c.logger.Error("could not start instance", logger.Error(err))
	}
}

func (c *Component) doStop() {
	if c.instance != nil {
		c.instance.Stop()
	}
}

func (c *Component) doShutdown() {
	clear(c.channels)
	c.initialized = false
	c.clientInSync = false
	c.serverInSync = false
	c.clientNeedsToSendInitialSync = false
	c.proxiesWaitingForOwningSync = true
	c.owningClientConnected = false
	if c.instance != nil {
		c.instance.Shutdown()
	}
}

// doTakeTransitions applies a batch of replicated transitions. Entries
// that already ran on this side are skipped. A transition whose source is
// not active is dropped with a warning.
func (c *Component) doTakeTransitions(batch []Transaction, asServer bool) {
	inst := c.instance
	if inst == nil || !inst.IsInitialized() || len(inst.NodeMap()) == 0 {
		return
	}
	for _, tx := range batch {
		t, ok := tx.(*TransitionTransaction)
		if !ok || t.RanLocally {
			continue
		}
		if asServer {
			t.IsServer = true
		}
		c.applyTransition(t)
	}
}

func (c *Component) applyTransition(t *TransitionTransaction) {
	inst := c.instance
	if inst.GetNodeByGuid(t.BaseGuid) == nil {
		c.logger.Warn("transition not found; was the definition changed?", logger.Guid(t.BaseGuid))
		return
	}
	tr := inst.GetTransitionByGuid(t.BaseGuid)
	if tr == nil {
		c.logger.Warn("node is not a transition", logger.Guid(t.BaseGuid))
		return
	}

	source, dest := tr.From(), tr.To()
	if t.HasChainEndpoints() {
		source = inst.GetStateByGuid(t.SourceGuid())
		dest = inst.GetStateByGuid(t.DestinationGuid())
		if source == nil || dest == nil {
			c.logger.Error("transition chain endpoints not found", logger.Node(tr.QualifiedName()),
				slog.String("source", t.SourceGuid().String()), slog.String("destination", t.DestinationGuid().String()))
			return
		}
	}

	owner := tr.Owner()
	if owner == nil {
		return
	}
	from := tr.From()
	if !from.IsActive() {
		if owner.ContainsActiveState(from) {
			// Queued for activation but not started yet.
			from.StartState()
		} else {
			if !tr.RunParallel() || c.RemoteRole() == RoleNone {
				c.logger.Warn("source state is not active; the instance may be out of sync",
					logger.Node(tr.QualifiedName()), slog.String("from", from.QualifiedName()))
			}
			return
		}
	}

	req := t.Request()
	if owner.ProcessTransition(tr, source, dest, &req, 0, c.clock().UTC()) {
		owner.ProcessStates(0, false, uuid.Nil, core.ProcessScope{})
	}
}

func (c *Component) doActivateStates(batch []Transaction) {
	inst := c.instance
	if inst == nil || !inst.IsInitialized() {
		return
	}
	for _, tx := range batch {
		a, ok := tx.(*ActivateStateTransaction)
		if !ok {
			continue
		}
		inst.ActivateStateLocally(a.BaseGuid, a.IsActive, a.SetAllParents, true)
		if s := inst.GetStateByGuid(a.BaseGuid); s != nil {
			s.SetServerTimeInState(a.TimeInState)
		}
	}
	if !c.canInstanceNetworkTick && inst.HasPendingActiveStates() {
		inst.Update(0)
	}
}

// doFullSync replaces the active states of the instance with a snapshot.
// A snapshot that matches the current states changes nothing.
func (c *Component) doFullSync(fs *FullSyncTransaction) {
	inst := c.instance
	if inst == nil || !inst.IsInitialized() {
		return
	}
	if fs.ForceFullRefresh {
		c.ConfigureInstanceNetworkSettings()
	}

	inst.ClearLoadedStates()
	for _, st := range fs.ActiveStates {
		inst.LoadFromState(st.Guid, false, false)
		if s := inst.GetStateByGuid(st.Guid); s != nil {
			s.SetServerTimeInState(st.TimeInState)
		}
	}

	switch {
	case !inst.HasStarted() && fs.HasStarted:
		if len(fs.ActiveStates) > 0 {
			c.doStart()
		} else {
			inst.MarkStarted()
		}
	case inst.HasStarted() && !fs.HasStarted:
		c.doStop()
	case fs.HasStarted:
		inst.Root().SetFromTemporaryInitialStates()
	}

	if c.HasAuthority() && c.proxiesWaitingForOwningSync {
		c.ServerFullSync()
	}
	c.setServerAsSynced()
	c.setClientAsSynced()
}

// Server handlers.

func (c *Component) serverInitialize(batch []Transaction) {
	c.queueOutgoing(batch...)
	if c.isServerAndNeedsToWaitToProcessTransactions() {
		c.processAllTransactions(&c.outgoing)
	}
}

func (c *Component) serverQueue(batch []Transaction) {
	c.queueOutgoing(batch...)
}

func (c *Component) serverFullSync(batch []Transaction) {
	for _, tx := range batch {
		fs, ok := tx.(*FullSyncTransaction)
		if !ok {
			continue
		}
		if (!fs.OriginatedFromServer && c.isServerAndNeedsOwningClientSync()) || fs.ForceFullRefresh {
			if c.nonAuthServerHasInitialStates {
				// The server already loaded the same states; ignore the client copy.
				c.nonAuthServerHasInitialStates = false
				c.setServerAsSynced()
				continue
			}
			c.doFullSync(fs)
			continue
		}
		c.queueOutgoing(fs)
	}
}

func (c *Component) serverRequestFullSyncHandler(batch []Transaction) {
	force := false
	for _, tx := range batch {
		if fs, ok := tx.(*FullSyncTransaction); ok && fs.ForceFullRefresh {
			force = true
		}
	}
	c.requestFullSync(force)
}

// Client handlers. The server runs them as well after broadcasting.

func (c *Component) returnOrExecuteMulticast() bool {
	return c.justRanLocally || c.isClientAndShouldSkipMulticastStateChange()
}

// skipServerAuthored reports whether a lifecycle transaction was already
// applied on this side.
func (c *Component) skipServerAuthored(tx Transaction) bool {
	orig := tx.Base().OriginatedFromServer
	hasAuth := c.HasAuthority()
	if !hasAuth && orig {
		return false
	}
	return (hasAuth && orig && !c.HasAuthorityToChangeStates()) || c.returnOrExecuteMulticast()
}

func (c *Component) multicastStart(batch []Transaction) {
	c.multicastLifecycle(batch, KindStart, c.doStart)
}

func (c *Component) multicastStop(batch []Transaction) {
	c.multicastLifecycle(batch, KindStop, c.doStop)
}

func (c *Component) multicastLifecycle(batch []Transaction, kind TransactionKind, apply func()) {
	if len(batch) == 0 || c.skipServerAuthored(batch[0]) {
		return
	}
	if c.queueClientPending(batch) {
		return
	}
	if !c.HasAuthority() && c.HasAuthorityToChangeStates() && batch[0].Base().OriginatedFromServer {
		// The server changed states on behalf of an authoritative client;
		// echo it back so the server queue stays ordered.
		c.callServer(kind, []Transaction{NewTransaction(kind)})
	}
	apply()
}

func (c *Component) multicastShutdown(batch []Transaction) {
	if len(batch) == 0 || c.skipServerAuthored(batch[0]) {
		return
	}
	c.processAllTransactions(&c.pending)
	c.doShutdown()
}

func (c *Component) multicastTakeTransitions(batch []Transaction) {
	if c.returnOrExecuteMulticast() || c.queueClientPending(batch) {
		return
	}
	c.doTakeTransitions(batch, c.HasAuthority())
}

func (c *Component) multicastActivateStates(batch []Transaction) {
	if c.returnOrExecuteMulticast() || c.queueClientPending(batch) {
		return
	}
	c.doActivateStates(batch)
}

func (c *Component) multicastFullSync(batch []Transaction) {
	for _, tx := range batch {
		if fs, ok := tx.(*FullSyncTransaction); ok {
			c.applyMulticastFullSync(fs)
		}
	}
}

func (c *Component) applyMulticastFullSync(fs *FullSyncTransaction) {
	hasAuth := c.HasAuthority()
	if hasAuth && (!fs.OriginatedFromServer || fs.FromUserLoad || fs.ForceFullRefresh) && !fs.RanLocally {
		if c.HasAuthorityToChangeStates() && !fs.FromUserLoad {
			c.logger.Warn("server received a client snapshot while it has state change authority")
		} else {
			c.doFullSync(fs)
		}
		return
	}
	if !fs.ForceFullRefresh && c.skipServerAuthored(fs) {
		return
	}
	if hasAuth {
		return
	}
	if !c.clientInSync || !c.HasAuthorityToChangeStates() || fs.FromUserLoad || fs.ForceFullRefresh {
		if c.initialized && c.instance != nil && c.instance.IsInitialized() {
			c.pending = nil
			c.doFullSync(fs)
			c.tryStartClientPostFullSync()
			return
		}
		c.clientHasPendingFullSync = true
		c.pending = []Transaction{fs}
		c.queueClientTransactions = true
	}
}
