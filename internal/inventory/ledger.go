// Package inventory is the stock ledger. Every statement runs on the
// caller's Querier so decrements commit or roll back together with the
// order rows that caused them.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type Level struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"reserved_quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Insufficient is the validation error returned when a decrement would take
// stock below zero.
func Insufficient(productID string, required, available int) error {
	return apperr.Validation("insufficient inventory for product %s: requested %d, available %d",
		productID, required, available)
}

// Decrement removes qty units. The WHERE guard makes the check and the
// update a single row-locked statement, so concurrent decrements serialise
// and none can push quantity below zero.
func Decrement(ctx context.Context, q postgres.Querier, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("invalid quantity %d for product %s", qty, productID)
	}
	ct, err := q.Exec(ctx, `
		UPDATE inventory SET quantity = quantity - $2, updated_at = now()
		WHERE product_id = $1 AND quantity >= $2`, productID, qty)
	if err != nil {
		return apperr.FromPG(err, "decrement inventory")
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = q.QueryRow(ctx, `SELECT quantity FROM inventory WHERE product_id = $1`, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Validation("no inventory record for product %s", productID)
	}
	if err != nil {
		return apperr.FromPG(err, "read inventory")
	}
	return Insufficient(productID, qty, available)
}

// Increment puts qty units back (cancellation, refund with restock).
func Increment(ctx context.Context, q postgres.Querier, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("invalid quantity %d for product %s", qty, productID)
	}
	ct, err := q.Exec(ctx, `
		UPDATE inventory SET quantity = quantity + $2, updated_at = now()
		WHERE product_id = $1`, productID, qty)
	if err != nil {
		return apperr.FromPG(err, "increment inventory")
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("no inventory record for product %s", productID)
	}
	return nil
}

func Create(ctx context.Context, q postgres.Querier, productID string, qty int) error {
	if qty < 0 {
		return apperr.Validation("initial stock cannot be negative")
	}
	_, err := q.Exec(ctx, `INSERT INTO inventory(product_id, quantity) VALUES ($1, $2)`, productID, qty)
	return apperr.FromPG(err, "create inventory")
}

func Get(ctx context.Context, q postgres.Querier, productID string) (Level, error) {
	var l Level
	err := q.QueryRow(ctx, `
		SELECT product_id, quantity, reserved_quantity, updated_at
		FROM inventory WHERE product_id = $1`, productID).
		Scan(&l.ProductID, &l.Quantity, &l.Reserved, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Level{}, apperr.NotFound("no inventory record for product %s", productID)
	}
	if err != nil {
		return Level{}, apperr.FromPG(err, "read inventory")
	}
	return l, nil
}

// Adjust applies a signed manual correction (receiving stock, shrinkage).
func Adjust(ctx context.Context, q postgres.Querier, productID string, delta int) (Level, error) {
	if delta == 0 {
		return Level{}, apperr.Validation("adjustment delta must not be zero")
	}
	var l Level
	err := q.QueryRow(ctx, `
		UPDATE inventory SET quantity = quantity + $2, updated_at = now()
		WHERE product_id = $1 AND quantity + $2 >= 0
		RETURNING product_id, quantity, reserved_quantity, updated_at`, productID, delta).
		Scan(&l.ProductID, &l.Quantity, &l.Reserved, &l.UpdatedAt)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Level{}, apperr.FromPG(err, "adjust inventory")
	}
	cur, err := Get(ctx, q, productID)
	if err != nil {
		return Level{}, err
	}
	return Level{}, Insufficient(productID, -delta, cur.Quantity)
}
