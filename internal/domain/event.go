package domain

import "encoding/json"

// Envelope frames every message pushed to websocket clients and published
// on the signal bus.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope types.
const (
	EventOpportunity = "opportunity"
	EventRate        = "rate"
	EventStatus      = "bot_status"
)

// EncodeEnvelope marshals payload inside an Envelope of the given type.
func EncodeEnvelope(typ string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}
