package network

import (
	"log/slog"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/logger"
)

// prepareServerCall opens the scope of one server call. The returned func
// closes it and restores the enclosing scope; transactions queued in
// between record where they came from.
func (c *Component) prepareServerCall(ranLocally bool) func() {
	prevLocal, prevServer, prevClient := c.justRanLocally, c.serverJustPrepared, c.clientJustPrepared
	c.justRanLocally = ranLocally
	c.serverJustPrepared = c.HasAuthority()
	c.clientJustPrepared = c.IsOwningClient()
	return func() {
		c.justRanLocally = prevLocal
		c.serverJustPrepared = prevServer
		c.clientJustPrepared = prevClient
	}
}

// callServerOrQueue hands tx to the server. A client queues it to send on
// the next tick; the server handles it in place.
func (c *Component) callServerOrQueue(kind TransactionKind, tx Transaction) {
	if !c.IsConfiguredForNetworking() {
		return
	}
	if c.clientJustPrepared {
		c.queueOutgoing(tx)
		return
	}
	if h, ok := c.dispatcher.Handler(RoleServer, kind); ok {
		h(c, []Transaction{tx})
	}
}

// queueOutgoing appends transactions to the outgoing queue, stamping them
// with the scope of the current server call. Without networking the queue
// is processed right away unless the change already ran locally.
func (c *Component) queueOutgoing(batch ...Transaction) {
	if !c.IsConfiguredForNetworking() {
		if !c.justRanLocally {
			c.outgoing = append(c.outgoing, batch...)
			c.processAllTransactions(&c.outgoing)
		}
		return
	}
	remote := c.RemoteRole()
	for _, tx := range batch {
		b := tx.Base()
		b.RanLocally = b.RanLocally || c.justRanLocally
		b.OriginatedFromServer = b.OriginatedFromServer || c.serverJustPrepared
		b.OriginatedFromThisClient = c.clientJustPrepared
		b.RemoteRoleAtQueueTime = remote
		c.outgoing = append(c.outgoing, tx)
	}
}

// queueClientPending parks a batch until the client is in sync.
func (c *Component) queueClientPending(batch []Transaction) bool {
	if !c.shouldClientQueueTransaction() {
		return false
	}
	c.pending = append(c.pending, batch...)
	c.queueClientTransactions = true
	return true
}

func (c *Component) clientSendOutgoingTransactions() {
	c.clientSendingOutgoing = true
	defer func() { c.clientSendingOutgoing = false }()
	c.processAllTransactions(&c.outgoing)
}

// processAllTransactions replays a queue in order. Consecutive transitions
// and consecutive state activations are batched; any other kind flushes
// the batch first. Transactions queued while processing stay for the next
// call.
func (c *Component) processAllTransactions(q *[]Transaction) {
	c.processing = true
	c.queueClientTransactions = false
	defer func() { c.processing = false }()

	hasAuth := c.HasAuthority()
	if hasAuth && c.performInitialSyncBeforeQueue {
		c.performInitialSyncBeforeQueue = false
		if fs := c.prepareFullSync(); fs != nil {
			fs.OriginatedFromServer = true
			c.executeFromServer(KindFullSync, []Transaction{fs})
		}
		*q = ClearFullSyncTransactions(*q, true)
	}

	start := len(*q)
	var (
		transitions []Transaction
		states      []Transaction
		postReady   bool
	)

	flushTransitions := func() {
		if len(transitions) == 0 {
			return
		}
		if hasAuth {
			c.serverPrepareTransitions(transitions)
		}
		c.executeQueued(KindTransition, transitions)
		transitions = nil
	}
	flushStates := func() {
		if len(states) == 0 {
			return
		}
		if hasAuth {
			c.serverPrepareStates(states)
		}
		c.executeQueued(KindActivateState, states)
		states = nil
	}
	flush := func() {
		flushTransitions()
		flushStates()
	}

	for idx := 0; idx < start && idx < len(*q); idx++ {
		tx := (*q)[idx]
		b := tx.Base()
		if hasAuth {
			c.remoteRoleJustChanged = b.RemoteRoleAtQueueTime != c.RemoteRole()
		}

		switch b.Kind {
		case KindInitialize:
			flush()
			if hasAuth {
				if err := c.doInitialize(c.ctx); err != nil {
					c.logger.Error("server initialize failed", logger.Error(err))
				}
			} else {
				c.callServer(KindInitialize, []Transaction{tx})
			}
		case KindStart, KindStop, KindShutdown:
			flush()
			end := c.prepareServerCall(b.RanLocally)
			c.executeQueued(b.Kind, []Transaction{tx})
			end()
			if b.Kind == KindShutdown && !hasAuth {
				// The client has no instance left to apply the rest to.
				*q = (*q)[idx+1:]
				return
			}
		case KindTransition:
			flushStates()
			transitions = append(transitions, tx)
		case KindActivateState:
			flushTransitions()
			states = append(states, tx)
		case KindFullSync:
			flush()
			c.executeQueued(KindFullSync, []Transaction{tx})
			c.clientHasPendingFullSync = false
			postReady = idx == len(*q)-1
		default:
			c.logger.Warn("dropping transaction of unknown kind", slog.String("kind", b.Kind.String()))
		}
	}
	flush()

	if start > len(*q) {
		start = len(*q)
	}
	rest := (*q)[start:]
	if len(rest) > 0 {
		c.logger.Debug("transactions were queued while processing", slog.Int("count", len(rest)))
	}
	*q = append((*q)[:0], rest...)

	if !hasAuth && postReady && c.clientInSync {
		c.tryStartClientPostFullSync()
	}
}

// executeQueued sends or applies one batch. The server broadcasts it, a
// client flushing its outgoing queue sends it to the server, and anything
// else is applied to the local instance.
func (c *Component) executeQueued(kind TransactionKind, batch []Transaction) {
	switch {
	case c.HasAuthority():
		c.executeFromServer(kind, batch)
	case c.clientSendingOutgoing:
		c.callServer(kind, batch)
	default:
		c.executeLocal(kind, batch)
	}
}

func (c *Component) executeLocal(kind TransactionKind, batch []Transaction) {
	switch kind {
	case KindStart:
		c.doStart()
	case KindStop:
		c.doStop()
	case KindShutdown:
		c.doShutdown()
	case KindTransition:
		c.doTakeTransitions(batch, false)
	case KindActivateState:
		c.doActivateStates(batch)
	case KindFullSync:
		for _, tx := range batch {
			if fs, ok := tx.(*FullSyncTransaction); ok {
				c.doFullSync(fs)
			}
		}
	case KindInitialize:
		if err := c.doInitialize(c.ctx); err != nil {
			c.logger.Error("initialize failed", logger.Error(err))
		}
	}
}

// executeFromServer sends a batch to every client, or to the owning client
// only, and runs the client handler on the server as well.
func (c *Component) executeFromServer(kind TransactionKind, batch []Transaction) {
	target := RoleOwningClient
	if c.shouldMulticast() {
		target = RoleSimulatedProxy
	}
	c.send(target, kind, batch)

	if h, ok := c.dispatcher.Handler(RoleOwningClient, kind); ok {
		h(c, batch)
	}
}

func (c *Component) callServer(kind TransactionKind, batch []Transaction) {
	c.send(RoleServer, kind, batch)
}

func (c *Component) send(target Role, kind TransactionKind, batch []Transaction) {
	if c.transport == nil || len(batch) == 0 {
		return
	}
	env, err := NewEnvelope(c.id, target, kind, batch)
	if err != nil {
		c.logger.Error("could not encode transactions", logger.Error(err))
		return
	}
	if err := c.transport.Send(c.ctx, env); err != nil {
		c.logger.Error("could not send transactions", logger.Error(NewNetworkError("send", kind, err)),
			slog.String("target", target.String()), slog.Int("count", len(batch)))
	}
}

// serverPrepareTransitions fills in the server time of every transition
// in the batch before it is broadcast.
func (c *Component) serverPrepareTransitions(batch []Transaction) {
	now := c.clock().UTC()
	for _, tx := range batch {
		t, ok := tx.(*TransitionTransaction)
		if !ok {
			continue
		}
		t.Timestamp = now

		var source core.StateNode
		if t.HasChainEndpoints() {
			source = c.instance.GetStateByGuid(t.SourceGuid())
		} else if tr := c.instance.GetTransitionByGuid(t.BaseGuid); tr != nil {
			source = tr.From()
		}
		if source == nil {
			c.logger.Error("no source state for transition", logger.Guid(t.BaseGuid))
			continue
		}

		if c.settings.TickAuthority == AuthorityClient && c.settings.CalculateServerTimeForClients {
			// The server does not tick, so derive the time from the wall clock.
			t.ActiveTime = core.ActiveTimeNotSet
			if start := source.StartTime(); !start.IsZero() {
				if elapsed := now.Sub(start.UTC()).Seconds(); elapsed >= 0 {
					t.ActiveTime = elapsed
				}
			}
		} else {
			t.ActiveTime = source.ActiveTime()
		}
	}
}

func (c *Component) serverPrepareStates(batch []Transaction) {
	for _, tx := range batch {
		a, ok := tx.(*ActivateStateTransaction)
		if !ok {
			continue
		}
		if s := c.instance.GetStateByGuid(a.BaseGuid); s != nil {
			a.TimeInState = s.ActiveTime()
		}
	}
}

// prepareFullSync snapshots the active states of the instance, or the
// temporary initial states when it has not started.
func (c *Component) prepareFullSync() *FullSyncTransaction {
	if c.instance == nil || !c.instance.IsInitialized() {
		return nil
	}
	var states []core.StateNode
	if c.instance.HasStarted() {
		states = c.instance.GetAllActiveStates()
	} else {
		states = c.instance.Root().GetAllNestedInitialTemporaryStates()
	}

	fs := NewFullSyncTransaction()
	fs.HasStarted = c.instance.HasStarted()
	fs.OriginatedFromServer = c.HasAuthority()
	for _, s := range states {
		fs.ActiveStates = append(fs.ActiveStates, FullSyncState{Guid: s.Guid(), TimeInState: s.ActiveTime()})
	}
	return fs
}

// requestFullSync queues a snapshot on the server, or asks the server for
// one from a client.
func (c *Component) requestFullSync(force bool) {
	if !c.IsConfiguredForNetworking() {
		return
	}
	if !c.HasAuthority() {
		req := NewFullSyncTransaction()
		req.Kind = KindRequestFullSync
		req.ForceFullRefresh = force
		c.callServer(KindRequestFullSync, []Transaction{req})
		return
	}
	defer c.prepareServerCall(false)()
	if fs := c.prepareFullSync(); fs != nil {
		fs.ForceFullRefresh = force
		c.queueOutgoing(fs)
	}
}
