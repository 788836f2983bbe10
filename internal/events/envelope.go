package events

import (
	"encoding/json"
	"time"
)

// DomainEvent is a delivered message as seen by a handler. Payload is the raw
// JSON object from the message body; its shape depends on RoutingKey.
type DomainEvent struct {
	RoutingKey string          `json:"routing_key"`
	Payload    json.RawMessage `json:"payload"`
	EmittedAt  time.Time       `json:"emitted_at"`
}

// IsObject reports whether the payload is a JSON object. Anything else is a
// poison message for every handler.
func (e DomainEvent) IsObject() bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(e.Payload, &obj) == nil && obj != nil
}
