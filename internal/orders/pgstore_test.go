package orders

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	orderID1   = "6f1c2d3e-0000-4000-8000-000000000001"
	productID1 = "6f1c2d3e-0000-4000-8000-0000000000a1"
)

func newPGMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var orderColNames = []string{"id", "user_id", "order_number", "status", "payment_status", "payment_method",
	"subtotal", "tax_amount", "shipping_amount", "discount_amount", "total_amount",
	"shipping_address", "billing_address", "notes", "created_at", "updated_at", "completed_at"}

var itemColNames = []string{"id", "order_id", "product_id", "product_name", "product_sku", "unit_price", "quantity",
	"subtotal", "tax_amount", "discount_amount", "total", "created_at"}

func orderRow(rows *pgxmock.Rows, id string, st Status, at time.Time) *pgxmock.Rows {
	addrJSON := []byte(`{"name":"Ada","line1":"1 Main St","city":"Springfield","postal_code":"12345","country":"US"}`)
	return rows.AddRow(id, "u1", "ORD-20261017120000-ABCDEF", st, PaymentUnpaid, "card",
		"20.00", "0.00", "0.00", "0.00", "20.00",
		addrJSON, addrJSON, "", at, at, (*time.Time)(nil))
}

func TestPGStoreGetOrderNotFound(t *testing.T) {
	mock := newPGMock(t)
	mock.ExpectQuery("FROM orders WHERE id = \\$1").WithArgs(orderID1).WillReturnError(pgx.ErrNoRows)

	_, err := (&PGStore{DB: mock}).GetOrder(context.Background(), orderID1)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreMalformedIDIsNotFound(t *testing.T) {
	mock := newPGMock(t)
	svc := &Service{Store: &PGStore{DB: mock}, Log: logging.Discard()}

	_, err := svc.GetOrderByID(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.CancelOrder(context.Background(), "nope", "u1", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "no query may reach postgres")
}

func TestPGStoreDuplicateIdempotencyKeyReturnsExisting(t *testing.T) {
	mock := newPGMock(t)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	byKey := "FROM orders WHERE user_id = \\$1 AND idempotency_key = \\$2"

	mock.ExpectQuery(byKey).WithArgs("u1", "k1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM products WHERE id = \\$1").WithArgs(productID1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "seller_id", "category_id", "sku", "name", "price", "created_at", "updated_at"}).
			AddRow(productID1, "", "", "SKU-1", "Widget", "10.00", now, now))
	mock.ExpectExec("INSERT INTO orders").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "orders_user_idempotency_key_idx"})
	mock.ExpectRollback()
	mock.ExpectQuery(byKey).WithArgs("u1", "k1").
		WillReturnRows(orderRow(pgxmock.NewRows(orderColNames), orderID1, StatusPending, now))
	mock.ExpectQuery("FROM order_items WHERE order_id = \\$1").WithArgs(orderID1).
		WillReturnRows(pgxmock.NewRows(itemColNames))
	mock.ExpectQuery("FROM order_history").WithArgs(orderID1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "order_id", "status", "comment", "actor_id", "created_at"}))
	mock.ExpectQuery("FROM payments").WithArgs(orderID1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "order_id", "amount", "method", "provider", "transaction_id", "status", "provider_response", "created_at"}))

	svc := &Service{Store: &PGStore{DB: mock}, Log: logging.Discard(), Now: func() time.Time { return now }}
	in := CreateOrderInput{
		UserID:          "u1",
		Items:           []ItemInput{{ProductID: productID1, Quantity: 1}},
		ShippingAddress: Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		PaymentMethod:   "card",
		IdempotencyKey:  "k1",
	}
	in.BillingAddress = in.ShippingAddress
	o, replayed, err := svc.CreateOrderIdempotent(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, orderID1, o.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCreateProductWritesInventory(t *testing.T) {
	mock := newPGMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO products").
		WithArgs("p1", "", "", "SKU-1", "Widget", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO inventory").WithArgs("p1", 4).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	p, err := (&PGStore{DB: mock}).CreateProduct(context.Background(),
		Product{ID: "p1", SKU: "SKU-1", Name: "Widget", Price: dec("9.99"), Stock: 4})
	require.NoError(t, err)
	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCancelLocksAndRestocks(t *testing.T) {
	mock := newPGMock(t)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE id = \\$1 FOR UPDATE").WithArgs(orderID1).
		WillReturnRows(orderRow(pgxmock.NewRows(orderColNames), orderID1, StatusProcessing, now))
	mock.ExpectQuery("FROM order_items WHERE order_id = \\$1").WithArgs(orderID1).
		WillReturnRows(pgxmock.NewRows(itemColNames).
			AddRow("i1", orderID1, productID1, "Widget", "SKU-1", "10.00", 2, "20.00", "0.00", "0.00", "20.00", now))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(orderID1, StatusCancelled, now, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO order_history").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE inventory SET quantity = quantity \\+ \\$2").
		WithArgs(productID1, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	svc := &Service{Store: &PGStore{DB: mock}, Log: logging.Discard(), Now: func() time.Time { return now }}
	o, err := svc.CancelOrder(context.Background(), orderID1, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "20.00", o.Items[0].Subtotal.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCancelConflictRollsBack(t *testing.T) {
	mock := newPGMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(orderID1).
		WillReturnRows(orderRow(pgxmock.NewRows(orderColNames), orderID1, StatusDelivered, now))
	mock.ExpectRollback()

	svc := &Service{Store: &PGStore{DB: mock}, Log: logging.Discard()}
	_, err := svc.CancelOrder(context.Background(), orderID1, "u1", "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreListOrdersBuildsFilter(t *testing.T) {
	mock := newPGMock(t)
	now := time.Now()

	mock.ExpectQuery("FROM orders WHERE user_id = \\$1 AND status = \\$2 ORDER BY created_at DESC, id LIMIT 20 OFFSET 0").
		WithArgs("u1", StatusPending).
		WillReturnRows(orderRow(pgxmock.NewRows(orderColNames), orderID1, StatusPending, now))
	mock.ExpectQuery("FROM order_items WHERE order_id = ANY\\(\\$1\\)").
		WithArgs([]string{orderID1}).
		WillReturnRows(pgxmock.NewRows(itemColNames))

	svc := &Service{Store: &PGStore{DB: mock}, Log: logging.Discard()}
	out, err := svc.ListOrders(context.Background(), OrderFilter{UserID: "u1", Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Springfield", out[0].ShippingAddress.City)
	assert.NoError(t, mock.ExpectationsWereMet())
}
