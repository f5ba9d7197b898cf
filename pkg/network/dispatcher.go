package network

import "fmt"

// Handler applies a received batch.
type Handler func(c *Component, batch []Transaction)

type route struct {
	role Role
	kind TransactionKind
}

// Dispatcher routes received batches by the role of the receiver and the
// transaction kind.
type Dispatcher struct {
	handlers map[route]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[route]Handler)}
}

// Register sets the handler for role and kind, replacing any previous one.
func (d *Dispatcher) Register(role Role, kind TransactionKind, h Handler) {
	d.handlers[route{role, kind}] = h
}

// Handler returns the handler for role and kind.
func (d *Dispatcher) Handler(role Role, kind TransactionKind) (Handler, bool) {
	h, ok := d.handlers[route{role, kind}]
	return h, ok
}

// Dispatch runs the handler for role and kind on c.
func (d *Dispatcher) Dispatch(c *Component, role Role, kind TransactionKind, batch []Transaction) error {
	h, ok := d.Handler(role, kind)
	if !ok {
		return NewNetworkError("dispatch", kind, fmt.Errorf("%w: %s/%s", ErrNoRoute, role, kind))
	}
	h(c, batch)
	return nil
}

// DefaultDispatcher routes server-bound requests to the server queue and
// server broadcasts to the client handlers.
func DefaultDispatcher() *Dispatcher {
	d := NewDispatcher()

	d.Register(RoleServer, KindInitialize, (*Component).serverInitialize)
	for _, kind := range []TransactionKind{KindStart, KindStop, KindShutdown, KindTransition, KindActivateState} {
		d.Register(RoleServer, kind, (*Component).serverQueue)
	}
	d.Register(RoleServer, KindFullSync, (*Component).serverFullSync)
	d.Register(RoleServer, KindRequestFullSync, (*Component).serverRequestFullSyncHandler)

	for _, role := range []Role{RoleOwningClient, RoleSimulatedProxy} {
		d.Register(role, KindStart, (*Component).multicastStart)
		d.Register(role, KindStop, (*Component).multicastStop)
		d.Register(role, KindShutdown, (*Component).multicastShutdown)
		d.Register(role, KindTransition, (*Component).multicastTakeTransitions)
		d.Register(role, KindActivateState, (*Component).multicastActivateStates)
		d.Register(role, KindFullSync, (*Component).multicastFullSync)
	}
	return d
}
