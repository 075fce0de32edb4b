package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day0 = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	day7 = day0.AddDate(0, 0, 7)
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRangeNormalize(t *testing.T) {
	now := day7
	r, err := Range{}.Normalize(now)
	require.NoError(t, err)
	assert.Equal(t, now, r.To)
	assert.Equal(t, now.Add(-DefaultWindow), r.From)

	_, err = Range{From: day7, To: day0}.Normalize(now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	prev := Range{From: day0, To: day7}.Previous()
	assert.Equal(t, day0.AddDate(0, 0, -7), prev.From)
	assert.Equal(t, day0, prev.To)
}

func TestSalesComputesGrowth(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)

	cols := []string{"orders", "units", "revenue"}
	mock.ExpectQuery("FROM orders o JOIN order_items oi ON oi.order_id = o.id JOIN products p ON p.id = oi.product_id WHERE o.status NOT IN \\(\\$1,\\$2,\\$3\\)").
		WithArgs("cancelled", "refunded", "failed", day0, day7).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(4, 9, "150.00"))
	mock.ExpectQuery("COUNT\\(DISTINCT o.id\\)").
		WithArgs("cancelled", "refunded", "failed", day0.AddDate(0, 0, -7), day0).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(2, 4, "100.00"))

	r := &Reports{DB: mock}
	s, err := r.Sales(context.Background(), Scope{}, Range{From: day0, To: day7})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Current.Orders)
	assert.Equal(t, "37.50", s.AvgOrderValue.StringFixed(2))
	require.NotNil(t, s.GrowthPct)
	assert.Equal(t, "50.00", s.GrowthPct.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesWithoutPreviousRevenueHasNoGrowth(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	cols := []string{"orders", "units", "revenue"}
	mock.ExpectQuery("p.seller_id = \\$6").
		WithArgs("cancelled", "refunded", "failed", day0, day7, "s1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(1, 1, "10.00"))
	mock.ExpectQuery("p.seller_id = \\$6").
		WithArgs("cancelled", "refunded", "failed", day0.AddDate(0, 0, -7), day0, "s1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(0, 0, "0"))

	r := &Reports{DB: mock}
	s, err := r.Sales(context.Background(), Scope{SellerID: "s1"}, Range{From: day0, To: day7})
	require.NoError(t, err)
	assert.Nil(t, s.GrowthPct)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesFailureIsDatabaseError(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("FROM orders o").WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery("FROM orders o").WillReturnError(errors.New("connection reset"))

	r := &Reports{DB: mock}
	_, err := r.Sales(context.Background(), Scope{}, Range{From: day0, To: day7})
	assert.Equal(t, apperr.KindDatabase, apperr.KindOf(err))
}

func TestSalesByDay(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("GROUP BY day ORDER BY day").
		WithArgs("cancelled", "refunded", "failed", day0, day7, "books").
		WillReturnRows(pgxmock.NewRows([]string{"day", "orders", "revenue"}).
			AddRow(day0, 2, "30.00").
			AddRow(day0.AddDate(0, 0, 1), 1, "5.50"))

	r := &Reports{DB: mock}
	days, err := r.SalesByDay(context.Background(), Scope{CategoryID: "books"}, Range{From: day0, To: day7})
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "5.50", days[1].Revenue.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopProductsClampsLimit(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("ORDER BY revenue DESC, p.id LIMIT 100").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sku", "units", "revenue"}).
			AddRow("p1", "Widget", "W-1", 12, "120.00"))

	r := &Reports{DB: mock, Now: func() time.Time { return day7 }}
	top, err := r.TopProducts(context.Background(), Scope{}, Range{}, 5000)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 12, top[0].Units)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomers(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("GROUP BY o.user_id ORDER BY spent DESC, o.user_id LIMIT 10").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "orders", "spent", "last"}).
			AddRow("u1", 3, "75.25", day7))

	r := &Reports{DB: mock, Now: func() time.Time { return day7 }}
	cs, err := r.Customers(context.Background(), Scope{}, Range{}, 0)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "u1", cs[0].UserID)
	assert.Equal(t, "75.25", cs[0].Spent.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
