// Package workers routes broker deliveries to processing workers by
// envelope kind.
package workers

import "encoding/json"

// Envelope is the wire format shared by all pipeline messages: a kind that
// selects the worker, a task id for idempotent processing, and the
// kind-specific payload.
type Envelope struct {
	Kind   string          `json:"kind"`
	TaskID string          `json:"task_id"`
	Data   json.RawMessage `json:"data"`
}

// Marshal encodes the envelope for publishing.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a delivery payload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
