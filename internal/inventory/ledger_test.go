package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestDecrementOK(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$2").
		WithArgs("p1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, Decrement(context.Background(), mock, "p1", 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementInsufficient(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$2").
		WithArgs("p1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT quantity FROM inventory").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"quantity"}).AddRow(1))

	err := Decrement(context.Background(), mock, "p1", 2)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "available 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementMissingRow(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE inventory").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT quantity FROM inventory").WillReturnError(pgx.ErrNoRows)

	err := Decrement(context.Background(), mock, "ghost", 1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDecrementRejectsNonPositive(t *testing.T) {
	mock := newMock(t)
	err := Decrement(context.Background(), mock, "p1", 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementMissingRow(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE inventory SET quantity = quantity \\+ \\$2").
		WithArgs("p1", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := Increment(context.Background(), mock, "p1", 3)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAdjustBelowZero(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("RETURNING product_id").
		WithArgs("p1", -10).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT product_id, quantity, reserved_quantity, updated_at").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "quantity", "reserved_quantity", "updated_at"}).
			AddRow("p1", 4, 0, now))

	_, err := Adjust(context.Background(), mock, "p1", -10)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustOK(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("RETURNING product_id").
		WithArgs("p1", 5).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "quantity", "reserved_quantity", "updated_at"}).
			AddRow("p1", 9, 0, now))

	l, err := Adjust(context.Background(), mock, "p1", 5)
	require.NoError(t, err)
	assert.Equal(t, 9, l.Quantity)
}
