// Package analytics holds the read-only reports over committed orders.
// Cancelled, refunded and failed orders never count as sales.
package analytics

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWindow = 30 * 24 * time.Hour
	DefaultTop    = 10
	MaxTop        = 100
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var excluded = []string{
	string(orders.StatusCancelled),
	string(orders.StatusRefunded),
	string(orders.StatusFailed),
}

// Scope narrows a report to one seller's or one category's products.
type Scope struct {
	SellerID   string
	CategoryID string
}

// Range is the half-open interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Normalize fills a missing bound and rejects an empty or inverted range.
func (r Range) Normalize(now time.Time) (Range, error) {
	if r.To.IsZero() {
		r.To = now
	}
	if r.From.IsZero() {
		r.From = r.To.Add(-DefaultWindow)
	}
	if !r.From.Before(r.To) {
		return Range{}, apperr.Validation("range start must be before its end")
	}
	return r, nil
}

// Previous is the range of equal length that ends where r starts.
func (r Range) Previous() Range {
	return Range{From: r.From.Add(-r.To.Sub(r.From)), To: r.From}
}

type Totals struct {
	Orders  int             `json:"orders"`
	Units   int             `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
}

type SalesSummary struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Current       Totals          `json:"current"`
	Previous      Totals          `json:"previous"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
	// GrowthPct is nil when the previous period had no revenue.
	GrowthPct *decimal.Decimal `json:"growth_pct"`
}

type DaySales struct {
	Day     time.Time       `json:"day"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

type ProductSales struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Units     int             `json:"units"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type CustomerSales struct {
	UserID      string          `json:"user_id"`
	Orders      int             `json:"orders"`
	Spent       decimal.Decimal `json:"spent"`
	LastOrderAt time.Time       `json:"last_order_at"`
}

// Reports runs the queries. Revenue is the sum of item totals, so it
// excludes shipping and order-level discounts and can be split by seller.
type Reports struct {
	DB  postgres.Querier
	Now func() time.Time
}

func (r *Reports) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func sales(cols ...string) sq.SelectBuilder {
	return psql.Select(cols...).
		From("orders o").
		Join("order_items oi ON oi.order_id = o.id").
		Join("products p ON p.id = oi.product_id")
}

func scoped(b sq.SelectBuilder, sc Scope, rg Range) sq.SelectBuilder {
	b = b.Where(sq.NotEq{"o.status": excluded}).
		Where(sq.GtOrEq{"o.created_at": rg.From}).
		Where(sq.Lt{"o.created_at": rg.To})
	if sc.SellerID != "" {
		b = b.Where(sq.Eq{"p.seller_id": sc.SellerID})
	}
	if sc.CategoryID != "" {
		b = b.Where(sq.Eq{"p.category_id": sc.CategoryID})
	}
	return b
}

func (r *Reports) totals(ctx context.Context, sc Scope, rg Range) (Totals, error) {
	query, args, err := scoped(sales(
		"COUNT(DISTINCT o.id)",
		"COALESCE(SUM(oi.quantity), 0)",
		"COALESCE(SUM(oi.total), 0)",
	), sc, rg).ToSql()
	if err != nil {
		return Totals{}, apperr.Database(err, "build sales query")
	}
	var t Totals
	if err := r.DB.QueryRow(ctx, query, args...).Scan(&t.Orders, &t.Units, &t.Revenue); err != nil {
		return Totals{}, apperr.Database(err, "query sales totals")
	}
	return t, nil
}

// Sales reports totals for the range and growth against the previous
// range of the same length. Both periods are queried concurrently.
func (r *Reports) Sales(ctx context.Context, sc Scope, rg Range) (SalesSummary, error) {
	rg, err := rg.Normalize(r.now())
	if err != nil {
		return SalesSummary{}, err
	}
	out := SalesSummary{From: rg.From, To: rg.To}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Current, err = r.totals(gctx, sc, rg)
		return err
	})
	g.Go(func() error {
		var err error
		out.Previous, err = r.totals(gctx, sc, rg.Previous())
		return err
	})
	if err := g.Wait(); err != nil {
		return SalesSummary{}, err
	}

	if out.Current.Orders > 0 {
		out.AvgOrderValue = out.Current.Revenue.Div(decimal.NewFromInt(int64(out.Current.Orders))).Round(2)
	}
	if out.Previous.Revenue.IsPositive() {
		growth := out.Current.Revenue.Sub(out.Previous.Revenue).
			Div(out.Previous.Revenue).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		out.GrowthPct = &growth
	}
	return out, nil
}

// SalesByDay buckets the range by UTC calendar day.
func (r *Reports) SalesByDay(ctx context.Context, sc Scope, rg Range) ([]DaySales, error) {
	rg, err := rg.Normalize(r.now())
	if err != nil {
		return nil, err
	}
	query, args, err := scoped(sales(
		"date_trunc('day', o.created_at AT TIME ZONE 'UTC') AS day",
		"COUNT(DISTINCT o.id)",
		"COALESCE(SUM(oi.total), 0)",
	), sc, rg).GroupBy("day").OrderBy("day").ToSql()
	if err != nil {
		return nil, apperr.Database(err, "build daily sales query")
	}

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Database(err, "query daily sales")
	}
	defer rows.Close()

	out := []DaySales{}
	for rows.Next() {
		var d DaySales
		if err := rows.Scan(&d.Day, &d.Orders, &d.Revenue); err != nil {
			return nil, apperr.Database(err, "scan daily sales")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database(err, "iterate daily sales")
	}
	return out, nil
}

func clampTop(n int) uint64 {
	if n <= 0 {
		return DefaultTop
	}
	if n > MaxTop {
		return MaxTop
	}
	return uint64(n)
}

// TopProducts ranks products by revenue in the range.
func (r *Reports) TopProducts(ctx context.Context, sc Scope, rg Range, limit int) ([]ProductSales, error) {
	rg, err := rg.Normalize(r.now())
	if err != nil {
		return nil, err
	}
	query, args, err := scoped(sales(
		"p.id", "p.name", "p.sku",
		"SUM(oi.quantity) AS units",
		"SUM(oi.total) AS revenue",
	), sc, rg).
		GroupBy("p.id", "p.name", "p.sku").
		OrderBy("revenue DESC", "p.id").
		Limit(clampTop(limit)).
		ToSql()
	if err != nil {
		return nil, apperr.Database(err, "build top products query")
	}

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Database(err, "query top products")
	}
	defer rows.Close()

	out := []ProductSales{}
	for rows.Next() {
		var p ProductSales
		if err := rows.Scan(&p.ProductID, &p.Name, &p.SKU, &p.Units, &p.Revenue); err != nil {
			return nil, apperr.Database(err, "scan top products")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database(err, "iterate top products")
	}
	return out, nil
}

// Customers ranks buyers by spend in the range.
func (r *Reports) Customers(ctx context.Context, sc Scope, rg Range, limit int) ([]CustomerSales, error) {
	rg, err := rg.Normalize(r.now())
	if err != nil {
		return nil, err
	}
	query, args, err := scoped(sales(
		"o.user_id::text",
		"COUNT(DISTINCT o.id)",
		"SUM(oi.total) AS spent",
		"MAX(o.created_at)",
	), sc, rg).
		GroupBy("o.user_id").
		OrderBy("spent DESC", "o.user_id").
		Limit(clampTop(limit)).
		ToSql()
	if err != nil {
		return nil, apperr.Database(err, "build customer query")
	}

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Database(err, "query customers")
	}
	defer rows.Close()

	out := []CustomerSales{}
	for rows.Next() {
		var c CustomerSales
		if err := rows.Scan(&c.UserID, &c.Orders, &c.Spent, &c.LastOrderAt); err != nil {
			return nil, apperr.Database(err, "scan customers")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database(err, "iterate customers")
	}
	return out, nil
}
