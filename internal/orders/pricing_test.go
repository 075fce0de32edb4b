package orders

import (
	"testing"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceLineRoundsTax(t *testing.T) {
	p := Pricing{TaxRate: dec("0.0825")}
	it := OrderItem{ProductID: "p1", UnitPrice: dec("3.33"), Quantity: 3}
	require.NoError(t, p.PriceLine(&it, decimal.Zero))

	assert.Equal(t, "9.99", it.Subtotal.StringFixed(2))
	assert.Equal(t, "0.82", it.TaxAmount.StringFixed(2))
	assert.Equal(t, "10.81", it.Total.StringFixed(2))
}

func TestPriceLineRejectsBadDiscount(t *testing.T) {
	p := Pricing{}
	it := OrderItem{ProductID: "p1", UnitPrice: dec("1"), Quantity: 1}
	assert.True(t, apperr.Is(p.PriceLine(&it, dec("-1")), apperr.KindValidation))
	assert.True(t, apperr.Is(p.PriceLine(&it, dec("2")), apperr.KindValidation))
}

func TestTotalsShippingOverride(t *testing.T) {
	p := Pricing{ShippingFlat: dec("7.50")}
	o := Order{Items: []OrderItem{{Subtotal: dec("10"), Total: dec("10")}}}

	require.NoError(t, p.Totals(&o, nil, decimal.Zero))
	assert.Equal(t, "17.50", o.TotalAmount.StringFixed(2))

	free := decimal.Zero
	require.NoError(t, p.Totals(&o, &free, decimal.Zero))
	assert.Equal(t, "10.00", o.TotalAmount.StringFixed(2))
	assert.True(t, Reconciles(o))

	neg := dec("-1")
	assert.True(t, apperr.Is(p.Totals(&o, &neg, decimal.Zero), apperr.KindValidation))
}

func TestReconcilesDetectsDrift(t *testing.T) {
	o := Order{
		Items:       []OrderItem{{Subtotal: dec("10")}},
		Subtotal:    dec("10"),
		TotalAmount: dec("11"),
	}
	assert.False(t, Reconciles(o))
}
