package network

import (
	"context"
	"encoding/json"
)

// Envelope carries one batch of transactions between components.
//
// Target selects the receivers: RoleServer for the server, RoleOwningClient
// for the owning client only and RoleSimulatedProxy for every client.
type Envelope struct {
	Sender  string          `json:"sender"`
	Target  Role            `json:"target"`
	Kind    TransactionKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope encodes batch into an envelope.
func NewEnvelope(sender string, target Role, kind TransactionKind, batch []Transaction) (Envelope, error) {
	payload, err := EncodeBatch(batch)
	if err != nil {
		return Envelope{}, NewNetworkError("encode", kind, err)
	}
	return Envelope{Sender: sender, Target: target, Kind: kind, Payload: payload}, nil
}

// Transactions decodes the payload.
func (e Envelope) Transactions() ([]Transaction, error) {
	batch, err := DecodeBatch(e.Kind, e.Payload)
	if err != nil {
		return nil, NewNetworkError("decode", e.Kind, err)
	}
	return batch, nil
}

// Transport moves envelopes between the components of one machine.
// Subscribers receive every envelope, their own included; the channel is
// closed when ctx ends.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}
