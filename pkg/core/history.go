package core

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// StateHistoryEntry records a state that was left.
type StateHistoryEntry struct {
	StateGuid         uuid.UUID
	Name              string
	StartTime         time.Time
	TimeInState       float64
	ServerTimeInState float64
}

// StateHistory returns the recorded states, oldest first. References
// record into their primary owner.
func (i *Instance) StateHistory() []StateHistoryEntry {
	return slices.Clone(i.PrimaryReferenceOwner().history)
}

// StateHistoryMaxCount returns the history size limit. Zero disables
// recording.
func (i *Instance) StateHistoryMaxCount() int {
	return i.PrimaryReferenceOwner().historyMax
}

// SetStateHistoryMaxCount changes the limit and trims the history.
func (i *Instance) SetStateHistoryMaxCount(n int) {
	p := i.PrimaryReferenceOwner()
	p.historyMax = max(n, 0)
	p.trimStateHistory()
}

// ClearStateHistory drops every entry.
func (i *Instance) ClearStateHistory() {
	i.PrimaryReferenceOwner().history = nil
}

func (i *Instance) recordPreviousStateHistory(prev StateNode) {
	if prev == nil || i.historyMax == 0 {
		return
	}
	i.history = append(i.history, StateHistoryEntry{
		StateGuid:         prev.Guid(),
		Name:              prev.QualifiedName(),
		StartTime:         prev.StartTime(),
		TimeInState:       prev.ActiveTime(),
		ServerTimeInState: prev.ServerTimeInState(),
	})
	i.trimStateHistory()
}

func (i *Instance) trimStateHistory() {
	if extra := len(i.history) - i.historyMax; extra > 0 {
		i.history = slices.Delete(i.history, 0, extra)
	}
}
