package core

import (
	"context"

	"github.com/anggasct/logicdriver/pkg/async"
	"github.com/anggasct/logicdriver/pkg/logger"
)

type asyncInit struct {
	future *async.Future[*Instance]
	cancel context.CancelFunc
}

// InitializeAsync generates the runtime tree on a background goroutine.
// The instance must not be used until the work is finished on the
// caller's goroutine with PollAsyncInitialization,
// WaitForAsyncInitialization or FinishInitialize. The returned future completes when
// generation is done, before the instance is initialized.
func (i *Instance) InitializeAsync(ctx context.Context, userContext any) (*async.Future[*Instance], error) {
	if i.IsInitializingAsync() {
		i.logger.Error("async initialization already in progress")
		return nil, ErrAsyncInProgress
	}
	if i.initialized {
		return nil, ErrAlreadyInitialized
	}
	if userContext == nil {
		i.logger.Error("instance context is nil")
		return nil, ErrNilContext
	}
	if ctx == nil {
		ctx = context.Background()
	}

	actx, cancel := context.WithCancel(ctx)
	future := async.Async(actx, userContext, func(c context.Context, uc any) (*Instance, error) {
		if err := i.generateAll(c, uc); err != nil {
			return nil, err
		}
		return i, nil
	})

	i.asyncMu.Lock()
	i.async = &asyncInit{future: future, cancel: cancel}
	i.asyncMu.Unlock()
	return future, nil
}

// IsInitializingAsync reports outstanding async initialization.
func (i *Instance) IsInitializingAsync() bool {
	i.asyncMu.Lock()
	defer i.asyncMu.Unlock()
	return i.async != nil
}

func (i *Instance) takeAsync() *asyncInit {
	i.asyncMu.Lock()
	defer i.asyncMu.Unlock()
	a := i.async
	i.async = nil
	return a
}

func (i *Instance) currentAsync() *asyncInit {
	i.asyncMu.Lock()
	defer i.asyncMu.Unlock()
	return i.async
}

// PollAsyncInitialization finishes initialization if generation is done.
// It reports whether the instance left the initializing status.
func (i *Instance) PollAsyncInitialization() (bool, error) {
	a := i.currentAsync()
	if a == nil {
		return false, ErrAsyncNotStarted
	}
	if !a.future.IsComplete() {
		return false, nil
	}
	return true, i.completeAsync()
}

// WaitForAsyncInitialization blocks until generation is done. With finish
// the initialization completes as well; otherwise the instance stays in
// the initializing status until polled.
func (i *Instance) WaitForAsyncInitialization(finish bool) error {
	a := i.currentAsync()
	if a == nil {
		return ErrAsyncNotStarted
	}
	_, err := a.future.Await()
	if !finish {
		return err
	}
	return i.completeAsync()
}

func (i *Instance) completeAsync() error {
	a := i.takeAsync()
	if a == nil {
		return ErrAsyncNotStarted
	}
	defer a.cancel()

	if _, err := a.future.Await(); err != nil {
		i.root = newStateMachine()
		i.logger.Error("async initialization failed", logger.Error(err))
		return err
	}
	return i.finishInitialize()
}

// CancelAsyncInitialization stops outstanding async initialization and
// drops what was generated. It is safe to call at any time.
func (i *Instance) CancelAsyncInitialization() {
	a := i.takeAsync()
	if a == nil {
		return
	}
	a.cancel()
	_, _ = a.future.Await()
	if !i.initialized {
		i.root = newStateMachine()
		i.nodeMap = nil
		i.stateMap = nil
		i.transitionMap = nil
		i.machineGuids = nil
	}
	i.logger.Debug("async initialization canceled")
}

// OnReclaimPause must be called before the host pauses to reclaim
// resources. Outstanding generation is run to completion so that no
// background work touches the instance during the pause. Initialization
// is not finished.
func (i *Instance) OnReclaimPause() {
	if a := i.currentAsync(); a != nil {
		_, _ = a.future.Await()
	}
}
