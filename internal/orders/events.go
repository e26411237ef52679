package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPaid        = "OrderPaid"
	EventOrderBackordered = "OrderBackordered"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_group_id
	Payload       json.RawMessage `json:"payload"`
}

// OrderSettledPayload is published once per reconciled order, whether it was
// fully delivered (OrderPaid) or is waiting for stock (OrderBackordered).
type OrderSettledPayload struct {
	OrderID      string          `json:"order_id"`
	OrderGroupID string          `json:"order_group_id"`
	UserID       string          `json:"user_id"`
	Email        string          `json:"email"`
	ProductID    string          `json:"product_id"`
	VariantID    string          `json:"variant_id"`
	Status       Status          `json:"status"`
	Quantity     int             `json:"quantity"`
	Outstanding  int             `json:"outstanding"`
	Links        []DeliveredLink `json:"links"`
	AmountCents  int             `json:"amount_cents"`
	Currency     string          `json:"currency"`
}

// SettledEventType picks the envelope type for a settled status.
func SettledEventType(s Status) string {
	if s == StatusPaid {
		return EventOrderPaid
	}
	return EventOrderBackordered
}

// NewEnvelope wraps payload in a v1 envelope and encodes it.
func NewEnvelope(eventType, producer, correlationID string, at time.Time, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	})
}
