package core

import (
	"time"

	"github.com/google/uuid"
)

// TransitionRequest describes a transition taken locally that must be
// replicated, or a replicated transition being applied.
type TransitionRequest struct {
	// BaseGuid is the path guid of the transition.
	BaseGuid uuid.UUID
	// AdditionalGuids holds the source and destination path guids when the
	// transition is part of a longer chain.
	AdditionalGuids []uuid.UUID
	Timestamp       time.Time
	// ActiveTime is the time the source spent active, or ActiveTimeNotSet.
	ActiveTime float64
	// IsServer marks requests whose ActiveTime the server did not compute
	// from a client report.
	IsServer bool
}

// NetworkInterface is implemented by the replication layer that owns an
// instance. The engine calls it when it needs authority decisions or
// must hand a locally taken transition to the server.
type NetworkInterface interface {
	IsConfiguredForNetworking() bool
	HasAuthorityToChangeStates() bool
	CanExecuteTransitionEnteredLogic() bool
	ServerTakeTransition(TransitionRequest)
	ServerActivateState(stateGuid uuid.UUID, active, setAllParents bool)
	ServerStop()
}
