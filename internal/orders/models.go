package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"seller_id,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Address is stored as a snapshot on the order, never as a live reference.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentMethod   string          `json:"payment_method"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	// IdempotencyKey is written once at creation and only read back by key.
	IdempotencyKey string `json:"-"`

	Items    []OrderItem    `json:"items,omitempty"`
	History  []HistoryEntry `json:"history,omitempty"`
	Payments []Payment      `json:"payments,omitempty"`
}

// OrderItem freezes the product's name, sku and price at purchase time.
type OrderItem struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	ProductSKU     string          `json:"product_sku"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"created_at"`
}

type HistoryEntry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Comment   string    `json:"comment,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           decimal.Decimal `json:"amount"`
	Method           string          `json:"method"`
	Provider         string          `json:"provider,omitempty"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	Status           PaymentRecord   `json:"status"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ItemInput is one requested line. Discount is an optional per-line
// reduction in currency units.
type ItemInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	Discount  decimal.Decimal `json:"discount"`
}

type CreateOrderInput struct {
	UserID          string
	Items           []ItemInput
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   string
	Notes           string
	// IdempotencyKey, when set, makes the create safe to retry: the same
	// user and key always resolve to one order.
	IdempotencyKey string
	// Optional adjustments. A nil Shipping uses the configured flat rate.
	Shipping *decimal.Decimal
	Discount decimal.Decimal
}

type RefundInput struct {
	Amount            decimal.Decimal
	Reason            string
	ReturnToInventory bool
	Provider          string
	TransactionID     string
	ProviderResponse  json.RawMessage
}

type PaymentInput struct {
	Amount           decimal.Decimal
	Method           string
	Provider         string
	TransactionID    string
	Status           PaymentRecord
	ProviderResponse json.RawMessage
}

type OrderFilter struct {
	UserID      string
	Status      Status
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}
