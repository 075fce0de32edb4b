package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const orderCols = `id, user_id, order_number, status, payment_status, payment_method,
	subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
	shipping_address, billing_address, notes, created_at, updated_at, completed_at`

// idempotencyIndex backs per-user idempotency keys; see schema.sql.
const idempotencyIndex = "orders_user_idempotency_key_idx"

const itemCols = `id, order_id, product_id, product_name, product_sku, unit_price, quantity,
	subtotal, tax_amount, discount_amount, total, created_at`

const paymentCols = `id, order_id, amount, method, provider, transaction_id, status,
	provider_response, created_at`

// PGStore is the Postgres implementation of Store.
type PGStore struct{ DB postgres.DB }

func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := queryOrder(ctx, s.DB, id, false)
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = queryItems(ctx, s.DB, id); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *PGStore) OrderByIdempotencyKey(ctx context.Context, userID, key string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if apperr.Is(err, apperr.KindNotFound) {
		return Order{}, apperr.NotFound("no order for idempotency key %q", key)
	}
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = queryItems(ctx, s.DB, o.ID); err != nil {
		return Order{}, err
	}
	o.IdempotencyKey = key
	return o, nil
}

func (s *PGStore) History(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, status, comment, actor_id, created_at
		FROM order_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, apperr.FromPG(err, "query order history")
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Comment, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, apperr.FromPG(err, "scan order history")
		}
		out = append(out, h)
	}
	return out, apperr.FromPG(rows.Err(), "iterate order history")
}

func (s *PGStore) Payments(ctx context.Context, orderID string) ([]Payment, error) {
	return queryPayments(ctx, s.DB, orderID)
}

func (s *PGStore) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	qb := psql.Select(orderCols).From("orders").
		OrderBy("created_at DESC", "id").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))
	if f.UserID != "" {
		qb = qb.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": f.Status})
	}
	if f.CreatedFrom != nil {
		qb = qb.Where(sq.GtOrEq{"created_at": *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		qb = qb.Where(sq.Lt{"created_at": *f.CreatedTo})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, apperr.Database(err, "build order list query")
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.FromPG(err, "list orders")
	}
	defer rows.Close()

	var out []Order
	ids := []string{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromPG(err, "iterate orders")
	}
	if len(out) == 0 {
		return []Order{}, nil
	}

	itemRows, err := s.DB.Query(ctx, `SELECT `+itemCols+` FROM order_items
		WHERE order_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, apperr.FromPG(err, "list order items")
	}
	defer itemRows.Close()

	byOrder := make(map[string][]OrderItem, len(out))
	for itemRows.Next() {
		it, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	if err := itemRows.Err(); err != nil {
		return nil, apperr.FromPG(err, "iterate order items")
	}
	for i := range out {
		out[i].Items = byOrder[out[i].ID]
	}
	return out, nil
}

func (s *PGStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT p.id, COALESCE(p.seller_id::text, ''), COALESCE(p.category_id, ''), p.sku, p.name,
		       p.price, COALESCE(i.quantity, 0), p.created_at, p.updated_at
		FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		ORDER BY p.sku`)
	if err != nil {
		return nil, apperr.FromPG(err, "list products")
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SellerID, &p.CategoryID, &p.SKU, &p.Name,
			&p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.FromPG(err, "scan product")
		}
		out = append(out, p)
	}
	return out, apperr.FromPG(rows.Err(), "iterate products")
}

// CreateProduct inserts the product and its inventory row together.
func (s *PGStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := postgres.InTx(ctx, s.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO products(id, seller_id, category_id, sku, name, price)
			VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, ''), $4, $5, $6)
			RETURNING created_at, updated_at`,
			p.ID, p.SellerID, p.CategoryID, p.SKU, p.Name, p.Price).
			Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return apperr.FromPG(err, fmt.Sprintf("insert product %s", p.SKU))
		}
		return inventory.Create(ctx, tx, p.ID, p.Stock)
	})
	if err != nil {
		return Product{}, apperr.FromPG(err, "create product")
	}
	return p, nil
}

func (s *PGStore) Inventory(ctx context.Context, productID string) (inventory.Level, error) {
	return inventory.Get(ctx, s.DB, productID)
}

func (s *PGStore) AdjustInventory(ctx context.Context, productID string, delta int) (inventory.Level, error) {
	return inventory.Adjust(ctx, s.DB, productID, delta)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Product(ctx context.Context, id string) (Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Product{}, apperr.NotFound("product %s not found", id)
	}
	var p Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, COALESCE(seller_id::text, ''), COALESCE(category_id, ''), sku, name, price, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SellerID, &p.CategoryID, &p.SKU, &p.Name, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, apperr.NotFound("product %s not found", id)
	}
	if err != nil {
		return Product{}, apperr.FromPG(err, "read product")
	}
	return p, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (Order, error) {
	return queryOrder(ctx, t.tx, id, true)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	ship, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return apperr.Validation("encode shipping address: %v", err)
	}
	bill, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return apperr.Validation("encode billing address: %v", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, order_number, status, payment_status, payment_method,
			subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
			shipping_address, billing_address, notes, created_at, updated_at, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NULLIF($17,''))`,
		o.ID, o.UserID, o.OrderNumber, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.Subtotal, o.TaxAmount, o.ShippingAmount, o.DiscountAmount, o.TotalAmount,
		ship, bill, o.Notes, o.CreatedAt, o.UpdatedAt, o.IdempotencyKey)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == idempotencyIndex {
		return &apperr.Error{Kind: apperr.KindConflict, Message: "insert order", Err: ErrDuplicateRequest}
	}
	if err != nil {
		return apperr.FromPG(err, fmt.Sprintf("insert order %s", o.OrderNumber))
	}
	return nil
}

func (t *pgTx) InsertItem(ctx context.Context, it *OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, product_name, product_sku, unit_price,
			quantity, subtotal, tax_amount, discount_amount, total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		it.ID, it.OrderID, it.ProductID, it.ProductName, it.ProductSKU, it.UnitPrice,
		it.Quantity, it.Subtotal, it.TaxAmount, it.DiscountAmount, it.Total, it.CreatedAt)
	return apperr.FromPG(err, fmt.Sprintf("insert order item for product %s", it.ProductID))
}

func (t *pgTx) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	return queryItems(ctx, t.tx, orderID)
}

func (t *pgTx) Payments(ctx context.Context, orderID string) ([]Payment, error) {
	return queryPayments(ctx, t.tx, orderID)
}

func (t *pgTx) SetStatus(ctx context.Context, orderID string, s Status, completedAt *time.Time, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1`, orderID, s, at, completedAt)
	if err != nil {
		return apperr.FromPG(err, "update order status")
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("order %s not found", orderID)
	}
	return nil
}

func (t *pgTx) SetPaymentStatus(ctx context.Context, orderID string, ps PaymentStatus, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = $3 WHERE id = $1`,
		orderID, ps, at)
	if err != nil {
		return apperr.FromPG(err, "update payment status")
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("order %s not found", orderID)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_history(id, order_id, status, comment, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.OrderID, h.Status, h.Comment, h.ActorID, h.CreatedAt)
	return apperr.FromPG(err, "append order history")
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	var resp []byte
	if len(p.ProviderResponse) > 0 {
		resp = p.ProviderResponse
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount, method, provider, transaction_id, status,
			provider_response, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.OrderID, p.Amount, p.Method, p.Provider, p.TransactionID, p.Status, resp, p.CreatedAt)
	return apperr.FromPG(err, "insert payment")
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	return inventory.Decrement(ctx, t.tx, productID, qty)
}

func (t *pgTx) IncrementStock(ctx context.Context, productID string, qty int) error {
	return inventory.Increment(ctx, t.tx, productID, qty)
}

func queryOrder(ctx context.Context, q postgres.Querier, id string, forUpdate bool) (Order, error) {
	// Order ids are UUIDs; anything else cannot name a row.
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	query := `SELECT ` + orderCols + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if apperr.Is(err, apperr.KindNotFound) {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	return o, err
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o          Order
		ship, bill []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.OrderNumber, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount,
		&ship, &bill, &o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		return Order{}, apperr.FromPG(err, "scan order")
	}
	if err := json.Unmarshal(ship, &o.ShippingAddress); err != nil {
		return Order{}, apperr.Database(err, "decode shipping address")
	}
	if err := json.Unmarshal(bill, &o.BillingAddress); err != nil {
		return Order{}, apperr.Database(err, "decode billing address")
	}
	return o, nil
}

func queryItems(ctx context.Context, q postgres.Querier, orderID string) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemCols+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, apperr.FromPG(err, "query order items")
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, apperr.FromPG(rows.Err(), "iterate order items")
}

func scanItem(row pgx.Row) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSKU, &it.UnitPrice,
		&it.Quantity, &it.Subtotal, &it.TaxAmount, &it.DiscountAmount, &it.Total, &it.CreatedAt)
	if err != nil {
		return OrderItem{}, apperr.FromPG(err, "scan order item")
	}
	return it, nil
}

func queryPayments(ctx context.Context, q postgres.Querier, orderID string) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, apperr.FromPG(err, "query payments")
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var (
			p    Payment
			resp []byte
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Provider, &p.TransactionID,
			&p.Status, &resp, &p.CreatedAt); err != nil {
			return nil, apperr.FromPG(err, "scan payment")
		}
		if len(resp) > 0 {
			p.ProviderResponse = resp
		}
		out = append(out, p)
	}
	return out, apperr.FromPG(rows.Err(), "iterate payments")
}
