package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
)

// Store is the persistence boundary of the workflow engine. Multi-step
// operations run through InTx; everything else is a plain read or a
// single-statement write.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (Order, error)
	// OrderByIdempotencyKey finds the order a user created with key, or
	// returns a not found error.
	OrderByIdempotencyKey(ctx context.Context, userID, key string) (Order, error)
	History(ctx context.Context, orderID string) ([]HistoryEntry, error)
	Payments(ctx context.Context, orderID string) ([]Payment, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)

	ListProducts(ctx context.Context) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	Inventory(ctx context.Context, productID string) (inventory.Level, error)
	AdjustInventory(ctx context.Context, productID string, delta int) (inventory.Level, error)
}

// ErrDuplicateRequest is returned by Tx.InsertOrder when the user already
// has an order under the same idempotency key.
var ErrDuplicateRequest = errors.New("duplicate idempotency key")

// Tx is one unit of work. Every effect made through it commits or rolls
// back together.
type Tx interface {
	Product(ctx context.Context, id string) (Product, error)
	// LockOrder reads the order row and holds its lock until the unit of
	// work ends, so status checks cannot race.
	LockOrder(ctx context.Context, id string) (Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItem(ctx context.Context, it *OrderItem) error
	Items(ctx context.Context, orderID string) ([]OrderItem, error)
	Payments(ctx context.Context, orderID string) ([]Payment, error)
	SetStatus(ctx context.Context, orderID string, s Status, completedAt *time.Time, at time.Time) error
	SetPaymentStatus(ctx context.Context, orderID string, ps PaymentStatus, at time.Time) error
	AppendHistory(ctx context.Context, h *HistoryEntry) error
	InsertPayment(ctx context.Context, p *Payment) error

	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
}
