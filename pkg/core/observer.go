package core

import "fmt"

// Observer watches an instance. Notifications raised inside references are
// delivered to the observers of the primary owner.
type Observer interface {
	// OnStateStarted is called after a state has started.
	OnStateStarted(inst *Instance, state StateNode)

	// OnTransitionTaken is called after a transition's entered logic ran and
	// before its destination becomes active.
	OnTransitionTaken(inst *Instance, t *Transition)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver interface {
	Observer

	// OnStateChanged is called whenever the active set of a machine changes.
	// Either argument may be nil.
	OnStateChanged(inst *Instance, to, from StateNode)

	OnInitialized(inst *Instance)
	OnStarted(inst *Instance)
	OnStopped(inst *Instance)
	OnShutdown(inst *Instance)

	// OnError is called when an observer panics or the instance reports a
	// non-fatal error.
	OnError(inst *Instance, err error)
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver struct{}

func (o *BaseObserver) OnStateStarted(inst *Instance, state StateNode) {}
func (o *BaseObserver) OnTransitionTaken(inst *Instance, t *Transition) {}
func (o *BaseObserver) OnStateChanged(inst *Instance, to, from StateNode) {}
func (o *BaseObserver) OnInitialized(inst *Instance) {}
func (o *BaseObserver) OnStarted(inst *Instance) {}
func (o *BaseObserver) OnStopped(inst *Instance) {}
func (o *BaseObserver) OnShutdown(inst *Instance) {}
func (o *BaseObserver) OnError(inst *Instance, err error) {}

// ObserverManager manages a collection of observers
type ObserverManager struct {
	observers []Observer
}

// NewObserverManager creates a new observer manager
func NewObserverManager() *ObserverManager {
	return &ObserverManager{observers: make([]Observer, 0)}
}

// AddObserver adds an observer to the manager
func (om *ObserverManager) AddObserver(observer Observer) {
	om.observers = append(om.observers, observer)
}

// RemoveObserver removes an observer from the manager
func (om *ObserverManager) RemoveObserver(observer Observer) {
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered observers.
func (om *ObserverManager) Len() int { return len(om.observers) }

// each calls fn for every observer. A panicking observer is reported to
// itself through OnError, if it implements ExtendedObserver, and does not
// stop the others.
func (om *ObserverManager) each(inst *Instance, event string, fn func(Observer)) {
	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)

	for _, observer := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if ext, ok := observer.(ExtendedObserver); ok {
						func() {
							defer func() { recover() }()
							ext.OnError(inst, fmt.Errorf("observer panic in %s: %v", event, r))
						}()
					}
				}
			}()
			fn(observer)
		}()
	}
}

func (om *ObserverManager) eachExtended(inst *Instance, event string, fn func(ExtendedObserver)) {
	om.each(inst, event, func(o Observer) {
		if ext, ok := o.(ExtendedObserver); ok {
			fn(ext)
		}
	})
}

func (om *ObserverManager) NotifyStateStarted(inst *Instance, s StateNode) {
	om.each(inst, "OnStateStarted", func(o Observer) { o.OnStateStarted(inst, s) })
}

func (om *ObserverManager) NotifyTransitionTaken(inst *Instance, t *Transition) {
	om.each(inst, "OnTransitionTaken", func(o Observer) { o.OnTransitionTaken(inst, t) })
}

func (om *ObserverManager) NotifyStateChanged(inst *Instance, to, from StateNode) {
	om.eachExtended(inst, "OnStateChanged", func(o ExtendedObserver) { o.OnStateChanged(inst, to, from) })
}

func (om *ObserverManager) NotifyInitialized(inst *Instance) {
	om.eachExtended(inst, "OnInitialized", func(o ExtendedObserver) { o.OnInitialized(inst) })
}

func (om *ObserverManager) NotifyStarted(inst *Instance) {
	om.eachExtended(inst, "OnStarted", func(o ExtendedObserver) { o.OnStarted(inst) })
}

func (om *ObserverManager) NotifyStopped(inst *Instance) {
	om.eachExtended(inst, "OnStopped", func(o ExtendedObserver) { o.OnStopped(inst) })
}

func (om *ObserverManager) NotifyShutdown(inst *Instance) {
	om.eachExtended(inst, "OnShutdown", func(o ExtendedObserver) { o.OnShutdown(inst) })
}

func (om *ObserverManager) NotifyError(inst *Instance, err error) {
	om.eachExtended(inst, "OnError", func(o ExtendedObserver) { o.OnError(inst, err) })
}
