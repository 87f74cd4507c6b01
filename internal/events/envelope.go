package events

import (
	"encoding/json"

	"taskmarket/internal/domain"
)

// Envelope is the JSON document delivered to webhooks and Kafka for a stored event.
type Envelope struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Block      int64           `json:"block"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Actor      string          `json:"actor"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

// Encode renders evt as an Envelope. A payload that is not valid JSON is
// carried verbatim in payload_raw.
func Encode(evt domain.Event) ([]byte, error) {
	env := Envelope{
		ID:         evt.ID,
		Type:       evt.Type,
		Block:      evt.Block,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		Actor:      evt.Actor,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			env.Payload = json.RawMessage(evt.Payload)
		} else {
			env.PayloadRaw = evt.Payload
		}
	}
	return json.Marshal(env)
}
