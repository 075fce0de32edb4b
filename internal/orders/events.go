package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventStatusChanged   = "OrderStatusChanged"
	EventOrderCancelled  = "OrderCancelled"
	EventOrderRefunded   = "OrderRefunded"
	EventPaymentRecorded = "PaymentRecorded"
	EventVersion         = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Items       []ItemQty       `json:"items"`
	Total       decimal.Decimal `json:"total_amount"`
}

// StatusChangedPayload is shared by status, cancel and refund events so a
// consumer tracking status needs one decoder.
type StatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id,omitempty"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Comment   string    `json:"comment,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Restocked []ItemQty `json:"restocked,omitempty"`
}

type PaymentRecordedPayload struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id,omitempty"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentRecord   `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	OrderStatus   Status          `json:"order_status"`
}

// Emitter publishes an event after its transaction committed. Delivery is
// best effort; the committed order is the source of truth.
type Emitter interface {
	Emit(topic string, key []byte, value any)
}

type NopEmitter struct{}

func (NopEmitter) Emit(string, []byte, any) {}
