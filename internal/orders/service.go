package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RefundPolicy string

const (
	// RefundCapped limits a refund to what was actually paid and not yet refunded.
	RefundCapped RefundPolicy = "capped"
	// RefundUnbounded trusts the caller with any positive amount.
	RefundUnbounded RefundPolicy = "unbounded"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	MaxIdempotencyKeyLen = 255
)

// Service is the order workflow engine. It holds no mutable state of its
// own; every multi-step operation is one Store unit of work.
type Service struct {
	Store   Store
	Emitter Emitter
	Pricing Pricing
	Refunds RefundPolicy
	Log     logrus.FieldLogger
	Name    string // producer name stamped on events
	Now     func() time.Time
}

type traceKey struct{}

// WithTraceID attaches a request id that is copied onto emitted events.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// CreateOrder prices the requested lines from the current product rows,
// inserts the order with frozen item snapshots, takes the stock and writes
// the first history entry, all in one unit of work.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	if err := validateCreate(in); err != nil {
		return Order{}, err
	}

	now := s.now()
	o := Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		OrderNumber:     NewOrderNumber(now),
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		PaymentMethod:   in.PaymentMethod,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		IdempotencyKey:  in.IdempotencyKey,
	}

	err := s.Store.InTx(ctx, func(tx Tx) error {
		o.Items = make([]OrderItem, 0, len(in.Items))
		for _, line := range in.Items {
			p, err := tx.Product(ctx, line.ProductID)
			if apperr.Is(err, apperr.KindNotFound) {
				return apperr.Validation("product %s not found", line.ProductID)
			}
			if err != nil {
				return err
			}
			it := OrderItem{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				ProductSKU:  p.SKU,
				UnitPrice:   p.Price,
				Quantity:    line.Quantity,
				CreatedAt:   now,
			}
			if err := s.Pricing.PriceLine(&it, line.Discount); err != nil {
				return err
			}
			o.Items = append(o.Items, it)
		}
		if err := s.Pricing.Totals(&o, in.Shipping, in.Discount); err != nil {
			return err
		}

		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		// Lines are decremented one by one, duplicates included; a second
		// line that oversells the same product fails the whole order.
		for i := range o.Items {
			if err := tx.InsertItem(ctx, &o.Items[i]); err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, o.Items[i].ProductID, o.Items[i].Quantity); err != nil {
				return err
			}
		}

		h := HistoryEntry{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			Status:    StatusPending,
			Comment:   "Order created",
			ActorID:   in.UserID,
			CreatedAt: now,
		}
		if err := tx.AppendHistory(ctx, &h); err != nil {
			return err
		}
		o.History = []HistoryEntry{h}
		return nil
	})
	if errors.Is(err, ErrDuplicateRequest) {
		return Order{}, err
	}
	if err != nil {
		s.log().WithFields(logrus.Fields{"user_id": in.UserID, "lines": len(in.Items)}).
			WithError(err).Warn("create order failed")
		return Order{}, apperr.FromPG(err, "create order")
	}

	s.log().WithFields(logrus.Fields{
		"order_id": o.ID, "order_number": o.OrderNumber, "total": o.TotalAmount.StringFixed(2),
	}).Info("order created")

	s.emit(ctx, TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Items:       itemQty(o.Items),
		Total:       o.TotalAmount,
	})
	return o, nil
}

// CreateOrderIdempotent is CreateOrder keyed by in.IdempotencyKey. When the
// user already placed an order under that key, the existing order is
// returned with replayed set and nothing new is written. The unique index on
// (user_id, idempotency_key) settles concurrent retries: the loser's unit of
// work rolls back and it reads the winner's order.
func (s *Service) CreateOrderIdempotent(ctx context.Context, in CreateOrderInput) (o Order, replayed bool, err error) {
	if in.IdempotencyKey == "" {
		o, err = s.CreateOrder(ctx, in)
		return o, false, err
	}
	if len(in.IdempotencyKey) > MaxIdempotencyKeyLen {
		return Order{}, false, apperr.Validation("idempotency key longer than %d bytes", MaxIdempotencyKeyLen)
	}

	o, err = s.Store.OrderByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
	if err == nil {
		o, err = s.withDetails(ctx, o)
		return o, true, err
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return Order{}, false, apperr.FromPG(err, "lookup idempotency key")
	}

	o, err = s.CreateOrder(ctx, in)
	if !errors.Is(err, ErrDuplicateRequest) {
		return o, false, err
	}
	s.log().WithFields(logrus.Fields{"user_id": in.UserID, "idempotency_key": in.IdempotencyKey}).
		Info("concurrent create resolved to existing order")
	if o, err = s.Store.OrderByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); err != nil {
		return Order{}, false, apperr.FromPG(err, "lookup idempotency key")
	}
	o, err = s.withDetails(ctx, o)
	return o, true, err
}

func validateCreate(in CreateOrderInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return apperr.Validation("user id is required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return apperr.Validation("item %d: product id is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.Validation("item %d (product %s): quantity must be positive", i, it.ProductID)
		}
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return apperr.Validation("payment method is required")
	}
	if err := validateAddress("shipping", in.ShippingAddress); err != nil {
		return err
	}
	return validateAddress("billing", in.BillingAddress)
}

func validateAddress(kind string, a Address) error {
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
		return apperr.Validation("%s address requires line1, city and country", kind)
	}
	return nil
}

// CanTransition is the generic transition rule: anything may move out of a
// non-terminal state, and delivered may still be closed out as completed.
func CanTransition(from, to Status) bool {
	if from == StatusDelivered && to == StatusCompleted {
		return true
	}
	return !from.Terminal()
}

// TransitionStatus moves an order to target and records it in history.
// Cancellation and refund have side effects on stock and payments, so they
// are only reachable through CancelOrder and RefundOrder.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, target Status, comment, actorID string) (Order, error) {
	if !target.Valid() {
		return Order{}, apperr.Validation("unknown order status %q", target)
	}
	if target == StatusCancelled || target == StatusRefunded {
		return Order{}, apperr.Validation("status %s can only be set by cancelling or refunding the order", target)
	}

	now := s.now()
	var (
		o    Order
		from Status
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		var err error
		if o, err = tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(from, target) {
			return apperr.Conflict("cannot move order from terminal state %s to %s", from, target)
		}

		var completedAt *time.Time
		if target == StatusCompleted {
			completedAt = &now
			o.CompletedAt = &now
		}
		if err := tx.SetStatus(ctx, orderID, target, completedAt, now); err != nil {
			return err
		}
		if comment == "" {
			comment = fmt.Sprintf("Status changed from %s to %s", from, target)
		}
		if err := tx.AppendHistory(ctx, &HistoryEntry{
			ID: uuid.NewString(), OrderID: orderID, Status: target,
			Comment: comment, ActorID: actorID, CreatedAt: now,
		}); err != nil {
			return err
		}
		o.Status, o.UpdatedAt = target, now
		o.Items, err = tx.Items(ctx, orderID)
		return err
	})
	if err != nil {
		return Order{}, apperr.FromPG(err, "transition order status")
	}

	s.log().WithFields(logrus.Fields{"order_id": orderID, "from": from, "to": target, "actor": actorID}).
		Info("order status changed")
	s.emit(ctx, TopicStatusChanged, EventStatusChanged, orderID, StatusChangedPayload{
		OrderID: orderID, UserID: o.UserID, From: from, To: target, Comment: comment, ActorID: actorID,
	})
	return o, nil
}

// CancelOrder cancels a non-final order and puts every item back in stock.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID, reason string) (Order, error) {
	now := s.now()
	var (
		o    Order
		from Status
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		var err error
		if o, err = tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		from = o.Status
		if !CanCancel(from) {
			return apperr.Conflict("cannot cancel order in state %s", from)
		}
		if o.Items, err = tx.Items(ctx, orderID); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, orderID, StatusCancelled, nil, now); err != nil {
			return err
		}
		comment := "Order cancelled"
		if reason != "" {
			comment += ": " + reason
		}
		if err := tx.AppendHistory(ctx, &HistoryEntry{
			ID: uuid.NewString(), OrderID: orderID, Status: StatusCancelled,
			Comment: comment, ActorID: actorID, CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := restock(ctx, tx, o.Items); err != nil {
			return err
		}
		o.Status, o.UpdatedAt = StatusCancelled, now
		return nil
	})
	if err != nil {
		return Order{}, apperr.FromPG(err, "cancel order")
	}

	s.log().WithFields(logrus.Fields{"order_id": orderID, "from": from, "actor": actorID}).Info("order cancelled")
	s.emit(ctx, TopicOrderCancelled, EventOrderCancelled, orderID, StatusChangedPayload{
		OrderID: orderID, UserID: o.UserID, From: from, To: StatusCancelled, Comment: reason, ActorID: actorID,
		Restocked: itemQty(o.Items),
	})
	return o, nil
}

func restock(ctx context.Context, tx Tx, items []OrderItem) error {
	for _, it := range items {
		if err := tx.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// RefundOrder records a refund payment and moves the order to refunded,
// optionally returning its items to stock.
func (s *Service) RefundOrder(ctx context.Context, orderID string, in RefundInput, actorID string) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, apperr.Validation("refund amount must be positive")
	}

	now := s.now()
	var (
		pay       Payment
		from      Status
		owner     string
		restocked []OrderItem
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from, owner = o.Status, o.UserID
		if !CanRefund(from) {
			return apperr.Conflict("cannot refund order in state %s", from)
		}

		existing, err := tx.Payments(ctx, orderID)
		if err != nil {
			return err
		}
		refundable := NetPaid(existing)
		if s.Refunds != RefundUnbounded && in.Amount.GreaterThan(refundable) {
			return apperr.Validation("refund amount %s exceeds refundable amount %s",
				in.Amount.StringFixed(2), refundable.StringFixed(2))
		}

		pay = Payment{
			ID:               uuid.NewString(),
			OrderID:          orderID,
			Amount:           in.Amount.Round(2),
			Method:           o.PaymentMethod,
			Provider:         in.Provider,
			TransactionID:    in.TransactionID,
			Status:           PaymentRecordRefunded,
			ProviderResponse: in.ProviderResponse,
			CreatedAt:        now,
		}
		if err := tx.InsertPayment(ctx, &pay); err != nil {
			return err
		}

		ps := PaymentPartiallyRefunded
		if !in.Amount.LessThan(refundable) {
			ps = PaymentRefunded
		}
		if err := tx.SetPaymentStatus(ctx, orderID, ps, now); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, orderID, StatusRefunded, nil, now); err != nil {
			return err
		}

		comment := "Refunded " + pay.Amount.StringFixed(2)
		if in.Reason != "" {
			comment += ": " + in.Reason
		}
		if err := tx.AppendHistory(ctx, &HistoryEntry{
			ID: uuid.NewString(), OrderID: orderID, Status: StatusRefunded,
			Comment: comment, ActorID: actorID, CreatedAt: now,
		}); err != nil {
			return err
		}

		if in.ReturnToInventory {
			if restocked, err = tx.Items(ctx, orderID); err != nil {
				return err
			}
			return restock(ctx, tx, restocked)
		}
		return nil
	})
	if err != nil {
		return Payment{}, apperr.FromPG(err, "refund order")
	}

	s.log().WithFields(logrus.Fields{
		"order_id": orderID, "amount": pay.Amount.StringFixed(2), "restock": in.ReturnToInventory, "actor": actorID,
	}).Info("order refunded")
	s.emit(ctx, TopicOrderRefunded, EventOrderRefunded, orderID, StatusChangedPayload{
		OrderID: orderID, UserID: owner, From: from, To: StatusRefunded, Comment: in.Reason, ActorID: actorID,
		Restocked: itemQty(restocked),
	})
	return pay, nil
}

// NetPaid is completed payments minus refunds already issued.
func NetPaid(ps []Payment) decimal.Decimal {
	paid, refunded := decimal.Zero, decimal.Zero
	for _, p := range ps {
		switch p.Status {
		case PaymentRecordCompleted:
			paid = paid.Add(p.Amount)
		case PaymentRecordRefunded:
			refunded = refunded.Add(p.Amount)
		}
	}
	if net := paid.Sub(refunded); net.IsPositive() {
		return net
	}
	return decimal.Zero
}

// RecordPayment stores a payment against an order. A completed payment
// marks the order paid and moves a pending order to processing.
func (s *Service) RecordPayment(ctx context.Context, orderID string, in PaymentInput, actorID string) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, apperr.Validation("payment amount must be positive")
	}
	if in.Status == "" {
		in.Status = PaymentRecordCompleted
	}
	if !in.Status.Recordable() {
		return Payment{}, apperr.Validation("invalid payment status %q", in.Status)
	}
	if len(in.ProviderResponse) > 0 && !json.Valid(in.ProviderResponse) {
		return Payment{}, apperr.Validation("provider response must be valid JSON")
	}

	now := s.now()
	var (
		pay    Payment
		o      Order
		status Status
		ps     PaymentStatus
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		var err error
		if o, err = tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		if o.PaymentStatus == PaymentPaid {
			return apperr.Conflict("order %s is already paid", o.OrderNumber)
		}
		switch o.Status {
		case StatusCancelled, StatusRefunded, StatusFailed:
			return apperr.Conflict("cannot record payment for order in state %s", o.Status)
		}

		method := in.Method
		if method == "" {
			method = o.PaymentMethod
		}
		pay = Payment{
			ID:               uuid.NewString(),
			OrderID:          orderID,
			Amount:           in.Amount.Round(2),
			Method:           method,
			Provider:         in.Provider,
			TransactionID:    in.TransactionID,
			Status:           in.Status,
			ProviderResponse: in.ProviderResponse,
			CreatedAt:        now,
		}
		if err := tx.InsertPayment(ctx, &pay); err != nil {
			return err
		}

		status, ps = o.Status, o.PaymentStatus
		var comment string
		switch in.Status {
		case PaymentRecordCompleted:
			ps = PaymentPaid
			if status == StatusPending {
				status = StatusProcessing
				if err := tx.SetStatus(ctx, orderID, status, nil, now); err != nil {
					return err
				}
			}
			comment = fmt.Sprintf("Payment of %s received via %s", pay.Amount.StringFixed(2), method)
		case PaymentRecordFailed:
			ps = PaymentFailed
			comment = fmt.Sprintf("Payment of %s via %s failed", pay.Amount.StringFixed(2), method)
		default:
			comment = fmt.Sprintf("Payment of %s via %s pending", pay.Amount.StringFixed(2), method)
		}
		if ps != o.PaymentStatus {
			if err := tx.SetPaymentStatus(ctx, orderID, ps, now); err != nil {
				return err
			}
		}
		return tx.AppendHistory(ctx, &HistoryEntry{
			ID: uuid.NewString(), OrderID: orderID, Status: status,
			Comment: comment, ActorID: actorID, CreatedAt: now,
		})
	})
	if err != nil {
		return Payment{}, apperr.FromPG(err, "record payment")
	}

	s.log().WithFields(logrus.Fields{
		"order_id": orderID, "payment_id": pay.ID, "status": pay.Status, "amount": pay.Amount.StringFixed(2),
	}).Info("payment recorded")
	s.emit(ctx, TopicPaymentRecorded, EventPaymentRecorded, orderID, PaymentRecordedPayload{
		OrderID: orderID, UserID: o.UserID, PaymentID: pay.ID, Amount: pay.Amount, Status: pay.Status,
		PaymentStatus: ps, OrderStatus: status,
	})
	return pay, nil
}

// GetOrderByID returns the order with items, history and payments.
func (s *Service) GetOrderByID(ctx context.Context, id string) (Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, apperr.FromPG(err, "get order")
	}
	return s.withDetails(ctx, o)
}

// withDetails attaches history and payments to an order read with its items.
func (s *Service) withDetails(ctx context.Context, o Order) (Order, error) {
	var err error
	if o.History, err = s.Store.History(ctx, o.ID); err != nil {
		return Order{}, apperr.FromPG(err, "get order history")
	}
	if o.Payments, err = s.Store.Payments(ctx, o.ID); err != nil {
		return Order{}, apperr.FromPG(err, "get order payments")
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown order status %q", f.Status)
	}
	out, err := s.Store.ListOrders(ctx, f)
	if err != nil {
		return nil, apperr.FromPG(err, "list orders")
	}
	return out, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	ps, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, apperr.FromPG(err, "list products")
	}
	return ps, nil
}

func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.SKU, p.Name = strings.TrimSpace(p.SKU), strings.TrimSpace(p.Name)
	switch {
	case p.SKU == "":
		return Product{}, apperr.Validation("sku is required")
	case p.Name == "":
		return Product{}, apperr.Validation("name is required")
	case p.Price.IsNegative():
		return Product{}, apperr.Validation("price cannot be negative")
	case p.Stock < 0:
		return Product{}, apperr.Validation("initial stock cannot be negative")
	}
	p.Price = p.Price.Round(2)
	created, err := s.Store.CreateProduct(ctx, p)
	if err != nil {
		return Product{}, apperr.FromPG(err, "create product")
	}
	s.log().WithFields(logrus.Fields{"product_id": created.ID, "sku": created.SKU, "stock": created.Stock}).
		Info("product created")
	return created, nil
}

func (s *Service) Inventory(ctx context.Context, productID string) (inventory.Level, error) {
	l, err := s.Store.Inventory(ctx, productID)
	if err != nil {
		return inventory.Level{}, apperr.FromPG(err, "get inventory")
	}
	return l, nil
}

func (s *Service) AdjustInventory(ctx context.Context, productID string, delta int, actorID string) (inventory.Level, error) {
	l, err := s.Store.AdjustInventory(ctx, productID, delta)
	if err != nil {
		return inventory.Level{}, apperr.FromPG(err, "adjust inventory")
	}
	s.log().WithFields(logrus.Fields{"product_id": productID, "delta": delta, "quantity": l.Quantity, "actor": actorID}).
		Info("inventory adjusted")
	return l, nil
}

func (s *Service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Emitter == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.log().WithError(err).WithField("event_type", eventType).Error("encode event payload")
		return
	}
	s.Emitter.Emit(topic, PartitionKey(orderID), Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    s.now(),
		Producer:      s.Name,
		TraceID:       traceID(ctx),
		CorrelationID: orderID,
		Payload:       b,
	})
}

func itemQty(items []OrderItem) []ItemQty {
	if len(items) == 0 {
		return nil
	}
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}
