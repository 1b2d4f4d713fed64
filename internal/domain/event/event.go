package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a fact about a batch or detail, published after the owning
// transaction commits.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	BatchID   int64                  `json:"batch_id"`
	DetailID  int64                  `json:"detail_id,omitempty"`
	Actor     string                 `json:"actor"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewBatchEvent creates an event scoped to a batch
func NewBatchEvent(eventType Type, batchID int64, actor string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		BatchID:   batchID,
		Actor:     actor,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// NewDetailEvent creates an event scoped to one reconciliation detail
func NewDetailEvent(eventType Type, batchID, detailID int64, actor string, payload map[string]interface{}) *Event {
	e := NewBatchEvent(eventType, batchID, actor, payload)
	e.DetailID = detailID
	return e
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
