// Package notify carries the fire-and-forget notification contract: durable
// fan-out over kafka plus a realtime push channel over redis. Payloads are a
// tagged union keyed by event type, no untyped metadata blobs.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	RecipientID   string          `json:"recipient_id"`
	CorrelationID string          `json:"correlation_id"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	ClientID    string `json:"client_id"`
	SellerID    string `json:"seller_id"`
	Status      string `json:"status"`
	TotalCents  int64  `json:"total_cents"`
}

type OrderStatusChangedPayload struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	ChangedBy      string `json:"changed_by"`
	ChangedByRole  string `json:"changed_by_role"`
}

// Event pairs a type tag with its typed payload before marshaling.
type Event struct {
	Type    string
	OrderID string
	Payload any
}

func OrderPlaced(p OrderPlacedPayload) Event {
	return Event{Type: EventOrderPlaced, OrderID: p.OrderID, Payload: p}
}

func OrderStatusChanged(p OrderStatusChangedPayload) Event {
	return Event{Type: EventOrderStatusChanged, OrderID: p.OrderID, Payload: p}
}

func (e Event) envelope(producer, recipientID string) (Envelope, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     e.Type,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		RecipientID:   recipientID,
		CorrelationID: e.OrderID,
		Payload:       raw,
	}, nil
}
