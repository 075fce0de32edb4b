package orders

import (
	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/shopspring/decimal"
)

// Pricing holds the configured tax rate and flat shipping fee.
type Pricing struct {
	TaxRate      decimal.Decimal
	ShippingFlat decimal.Decimal
}

// PriceLine fills subtotal, tax, discount and total on an item whose unit
// price and quantity are already set. Tax is charged on the discounted
// subtotal and rounded to cents.
func (p Pricing) PriceLine(it *OrderItem, discount decimal.Decimal) error {
	if discount.IsNegative() {
		return apperr.Validation("discount for product %s cannot be negative", it.ProductID)
	}
	it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
	if discount.GreaterThan(it.Subtotal) {
		return apperr.Validation("discount for product %s exceeds line subtotal", it.ProductID)
	}
	it.DiscountAmount = discount.Round(2)
	it.TaxAmount = it.Subtotal.Sub(it.DiscountAmount).Mul(p.TaxRate).Round(2)
	it.Total = it.Subtotal.Add(it.TaxAmount).Sub(it.DiscountAmount)
	return nil
}

// Totals sums priced lines into the order. The order-level discount is
// added on top of the line discounts; the result must not go negative.
func (p Pricing) Totals(o *Order, shipping *decimal.Decimal, discount decimal.Decimal) error {
	if discount.IsNegative() {
		return apperr.Validation("order discount cannot be negative")
	}
	ship := p.ShippingFlat
	if shipping != nil {
		if shipping.IsNegative() {
			return apperr.Validation("shipping amount cannot be negative")
		}
		ship = *shipping
	}

	o.Subtotal, o.TaxAmount, o.DiscountAmount = decimal.Zero, decimal.Zero, discount.Round(2)
	for _, it := range o.Items {
		o.Subtotal = o.Subtotal.Add(it.Subtotal)
		o.TaxAmount = o.TaxAmount.Add(it.TaxAmount)
		o.DiscountAmount = o.DiscountAmount.Add(it.DiscountAmount)
	}
	o.ShippingAmount = ship.Round(2)
	o.TotalAmount = o.Subtotal.Add(o.TaxAmount).Add(o.ShippingAmount).Sub(o.DiscountAmount)
	if o.TotalAmount.IsNegative() {
		return apperr.Validation("order total cannot be negative")
	}
	return nil
}

// Reconciles reports whether the stored money fields are consistent.
func Reconciles(o Order) bool {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal)
	}
	want := o.Subtotal.Add(o.TaxAmount).Add(o.ShippingAmount).Sub(o.DiscountAmount)
	return o.TotalAmount.Equal(want) && o.Subtotal.Equal(sum) && !o.TotalAmount.IsNegative()
}
