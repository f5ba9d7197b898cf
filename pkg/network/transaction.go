// Package network replicates state machine instances between a server and
// its clients. Every change is expressed as a transaction that is queued,
// batched and replayed in order on the other side.
package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/anggasct/logicdriver/pkg/core"
)

// TransactionKind identifies what a transaction asks the receiver to do.
type TransactionKind uint8

const (
	KindUnknown TransactionKind = iota
	KindTransition
	KindActivateState
	KindFullSync
	KindStart
	KindStop
	KindInitialize
	KindShutdown
	// KindRequestFullSync asks the server to queue a full sync.
	KindRequestFullSync
)

var kindNames = map[TransactionKind]string{
	KindUnknown:         "unknown",
	KindTransition:      "transition",
	KindActivateState:   "activate_state",
	KindFullSync:        "full_sync",
	KindStart:           "start",
	KindStop:            "stop",
	KindInitialize:      "initialize",
	KindShutdown:        "shutdown",
	KindRequestFullSync: "request_full_sync",
}

func (k TransactionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k TransactionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TransactionKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown transaction kind %q", text)
}

// Batchable reports whether consecutive transactions of this kind are
// sent together.
func (k TransactionKind) Batchable() bool {
	return k == KindTransition || k == KindActivateState
}

// NewTransactionID returns a sortable, monotonic transaction id.
func NewTransactionID() ulid.ULID {
	return ulid.Make()
}

// Transaction is any queued replication command.
type Transaction interface {
	Base() *TransactionBase
}

// TransactionBase carries the fields every transaction shares. Only the
// id, the kind and OriginatedFromServer travel over the wire; the rest is
// bookkeeping of the side that queued it.
type TransactionBase struct {
	ID                   ulid.ULID       `json:"id"`
	Kind                 TransactionKind `json:"kind"`
	OriginatedFromServer bool            `json:"originated_from_server,omitempty"`

	// RemoteRoleAtQueueTime is the remote role of the server when queued.
	RemoteRoleAtQueueTime    Role `json:"-"`
	OriginatedFromThisClient bool `json:"-"`
	// RanLocally marks a transaction the queuing side already applied.
	RanLocally bool `json:"-"`
}

// Base implements Transaction.
func (b *TransactionBase) Base() *TransactionBase { return b }

// NewTransaction creates a transaction without a payload, such as Start
// or Stop.
func NewTransaction(kind TransactionKind) *TransactionBase {
	return &TransactionBase{ID: NewTransactionID(), Kind: kind}
}

// TransitionTransaction replicates a transition that was taken.
type TransitionTransaction struct {
	TransactionBase
	BaseGuid uuid.UUID `json:"guid"`
	// AdditionalGuids holds the source and destination states of a chain.
	AdditionalGuids []uuid.UUID `json:"additional_guids,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	// ActiveTime is the time the source was active, or core.ActiveTimeNotSet.
	ActiveTime float64 `json:"active_time"`
	// IsServer is set by the server while applying the transaction.
	IsServer bool `json:"-"`
}

func NewTransitionTransaction(guid uuid.UUID) *TransitionTransaction {
	return &TransitionTransaction{
		TransactionBase: TransactionBase{ID: NewTransactionID(), Kind: KindTransition},
		BaseGuid:        guid,
		ActiveTime:      core.ActiveTimeNotSet,
	}
}

// HasChainEndpoints reports whether AdditionalGuids names the source and
// destination of a chain.
func (t *TransitionTransaction) HasChainEndpoints() bool {
	return len(t.AdditionalGuids) == 2
}

// SourceGuid is the first chain endpoint. Call HasChainEndpoints first.
func (t *TransitionTransaction) SourceGuid() uuid.UUID { return t.AdditionalGuids[0] }

// DestinationGuid is the second chain endpoint.
func (t *TransitionTransaction) DestinationGuid() uuid.UUID { return t.AdditionalGuids[1] }

// Request converts the transaction for the engine.
func (t *TransitionTransaction) Request() core.TransitionRequest {
	return core.TransitionRequest{
		BaseGuid:        t.BaseGuid,
		AdditionalGuids: t.AdditionalGuids,
		Timestamp:       t.Timestamp,
		ActiveTime:      t.ActiveTime,
		IsServer:        t.IsServer,
	}
}

// ActivateStateTransaction replicates a state switched on or off without
// a transition.
type ActivateStateTransaction struct {
	TransactionBase
	BaseGuid      uuid.UUID `json:"guid"`
	TimeInState   float64   `json:"time_in_state"`
	IsActive      bool      `json:"active"`
	SetAllParents bool      `json:"set_all_parents,omitempty"`
}

func NewActivateStateTransaction(guid uuid.UUID, timeInState float64, active, setAllParents bool) *ActivateStateTransaction {
	return &ActivateStateTransaction{
		TransactionBase: TransactionBase{ID: NewTransactionID(), Kind: KindActivateState},
		BaseGuid:        guid,
		TimeInState:     timeInState,
		IsActive:        active,
		SetAllParents:   setAllParents,
	}
}

// FullSyncState is one active state of a snapshot.
type FullSyncState struct {
	Guid        uuid.UUID `json:"guid"`
	TimeInState float64   `json:"time_in_state"`
}

// FullSyncTransaction is a snapshot of every active state.
type FullSyncTransaction struct {
	TransactionBase
	ActiveStates []FullSyncState `json:"active_states"`
	HasStarted   bool            `json:"has_started"`
	// FromUserLoad marks snapshots of states loaded by the user before start.
	FromUserLoad     bool `json:"from_user_load,omitempty"`
	ForceFullRefresh bool `json:"force_full_refresh,omitempty"`
}

func NewFullSyncTransaction() *FullSyncTransaction {
	return &FullSyncTransaction{
		TransactionBase: TransactionBase{ID: NewTransactionID(), Kind: KindFullSync},
	}
}

// ClearFullSyncTransactions removes full syncs from the queue. With
// ignoreUserAdded, snapshots of user loaded states are kept.
func ClearFullSyncTransactions(queue []Transaction, ignoreUserAdded bool) []Transaction {
	out := queue[:0]
	for _, tx := range queue {
		if fs, ok := tx.(*FullSyncTransaction); ok && fs.Kind == KindFullSync {
			if !fs.FromUserLoad || !ignoreUserAdded {
				continue
			}
		}
		out = append(out, tx)
	}
	clear(queue[len(out):])
	return out
}

// EncodeBatch serializes transactions of one kind as a JSON array.
func EncodeBatch(batch []Transaction) (json.RawMessage, error) {
	return json.Marshal(batch)
}

// DecodeBatch parses a JSON array of transactions of the given kind.
func DecodeBatch(kind TransactionKind, payload json.RawMessage) ([]Transaction, error) {
	switch kind {
	case KindTransition:
		return decodeAs[*TransitionTransaction](payload)
	case KindActivateState:
		return decodeAs[*ActivateStateTransaction](payload)
	case KindFullSync, KindRequestFullSync:
		return decodeAs[*FullSyncTransaction](payload)
	case KindStart, KindStop, KindInitialize, KindShutdown:
		return decodeAs[*TransactionBase](payload)
	default:
		return nil, fmt.Errorf("cannot decode %s transactions", kind)
	}
}

func decodeAs[T Transaction](payload json.RawMessage) ([]Transaction, error) {
	var items []T
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out, nil
}
