package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated          = "OrderCreated"
	EventOrderStatusChanged    = "OrderStatusChanged"
	EventNotificationRequested = "NotificationRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps an already encoded payload as a version 1 event.
func NewEnvelope(eventType, producer, correlationID string, payload json.RawMessage) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

type ItemQty struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id"`
	Qty       int       `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CreatedBy   uuid.UUID       `json:"created_by"`
	Items       []ItemQty       `json:"items"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID             uuid.UUID `json:"order_id"`
	From                Status    `json:"from"`
	To                  Status    `json:"to"`
	IsArchived          bool      `json:"is_archived"`
	NeedsReconciliation bool      `json:"needs_reconciliation"`
}

// NotificationRequestedPayload carries a notification to be persisted by
// the notifier consumer.
type NotificationRequestedPayload struct {
	Notification Notification `json:"notification"`
}

func ItemsOf(o *Order) []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, VariantID: it.VariantID, Qty: it.Quantity})
	}
	return out
}
