// Package event defines the envelopes broadcast to live subscribers whenever
// a run or its audit trail changes.
package event

import "encoding/json"

// Type identifies the kind of event.
type Type string

const (
	TypeRunUpdated Type = "run_updated"
	TypeLogAdded   Type = "log_added"
)

// Envelope is the wire shape of every event: {"type": ..., "payload": ...}.
// Payload is a run.Run for run_updated and a steplog.Log for log_added.
type Envelope struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Listener receives envelopes synchronously, in publish order. Listeners must
// not block: slow consumers buffer or drop on their own side.
type Listener func(Envelope)
