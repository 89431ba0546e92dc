package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for every saga event. MessageID is unique
// per publish; CorrelationID ties all events of one saga together and
// CausationID points at the message that triggered this one.
type Envelope struct {
	Type          string          `json:"type"`
	MessageID     string          `json:"message_id"`
	OrderID       string          `json:"order_id"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload in a fresh envelope starting a new
// correlation chain.
func NewEnvelope(eventType, orderID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	id := uuid.NewString()
	return Envelope{
		Type:          eventType,
		MessageID:     id,
		OrderID:       orderID,
		CorrelationID: id,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
	}, nil
}

// Follow builds the next envelope in the chain: the correlation is
// inherited and the causation points at this message.
func (e Envelope) Follow(eventType string, payload any) (Envelope, error) {
	next, err := NewEnvelope(eventType, e.OrderID, payload)
	if err != nil {
		return Envelope{}, err
	}
	if e.CorrelationID != "" {
		next.CorrelationID = e.CorrelationID
	}
	next.CausationID = e.MessageID
	return next, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode serializes the envelope for transport.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope deserializes an envelope from transport bytes.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event type")
	}
	return e, nil
}
