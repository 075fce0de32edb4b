package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/analytics"
	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/authz"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// API holds the handler dependencies. Cache may be nil.
type API struct {
	Orders  *orders.Service
	Reports *analytics.Reports
	Cache   *redisx.Cache
	Policy  *authz.Policy
	Auth    *Authenticator
	Log     logrus.FieldLogger
}

func (a *API) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(a.Auth.Middleware)

		r.Post("/orders", a.createOrder)
		r.Get("/orders", a.listOrders)
		r.Get("/orders/{id}", a.getOrder)
		r.Get("/orders/{id}/status", a.getOrderStatus)
		r.Post("/orders/{id}/status", a.transitionStatus)
		r.Post("/orders/{id}/cancel", a.cancelOrder)
		r.Post("/orders/{id}/refund", a.refundOrder)
		r.Post("/orders/{id}/payments", a.recordPayment)

		r.Get("/products", a.listProducts)
		r.Post("/products", a.createProduct)
		r.Get("/inventory/{productID}", a.getInventory)
		r.Post("/inventory/{productID}/adjust", a.adjustInventory)

		r.Get("/analytics/sales", a.salesSummary)
		r.Get("/analytics/sales/daily", a.salesByDay)
		r.Get("/analytics/products/top", a.topProducts)
		r.Get("/analytics/customers", a.topCustomers)
	})
}

func actorOf(r *http.Request) authz.Actor {
	act, _ := authz.ActorFrom(r.Context())
	return act
}

type createOrderReq struct {
	// UserID lets an admin place an order on a customer's behalf.
	UserID          string             `json:"user_id,omitempty"`
	Items           []orders.ItemInput `json:"items" validate:"required,min=1,dive"`
	ShippingAddress orders.Address     `json:"shipping_address"`
	BillingAddress  *orders.Address    `json:"billing_address,omitempty"`
	PaymentMethod   string             `json:"payment_method" validate:"required"`
	Notes           string             `json:"notes,omitempty" validate:"max=2000"`
	Shipping        *decimal.Decimal   `json:"shipping_amount,omitempty"`
	Discount        decimal.Decimal    `json:"discount_amount"`
}

type createOrderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	act := actorOf(r)
	var req createOrderReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	userID := act.ID
	if act.Role == authz.RoleAdmin && req.UserID != "" {
		userID = req.UserID
	}
	if !a.Policy.Allow(act, authz.OrderCreate, authz.Resource{OwnerID: userID}) {
		forbidden(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Redis is only the fast path; the orders table owns the key.
	idemKey := r.Header.Get("Idempotency-Key")
	if id, ok, err := a.Cache.IdempotentOrder(ctx, userID, idemKey); err != nil {
		a.Log.WithError(err).Warn("idempotency lookup failed")
	} else if ok {
		o, err := a.Orders.GetOrderByID(ctx, id)
		if err == nil {
			writeJSON(w, http.StatusOK, createOrderResp{Order: o, Idempotent: true})
			return
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			a.writeError(w, r, err)
			return
		}
	}

	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}
	o, replayed, err := a.Orders.CreateOrderIdempotent(ctx, orders.CreateOrderInput{
		UserID:          userID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		IdempotencyKey:  idemKey,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Cache.RememberOrder(ctx, userID, idemKey, o.ID); err != nil {
		a.Log.WithError(err).WithField("order_id", o.ID).Warn("store idempotency key")
	}
	if replayed {
		writeJSON(w, http.StatusOK, createOrderResp{Order: o, Idempotent: true})
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{Order: o})
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	act := actorOf(r)
	if !a.Policy.Allow(act, authz.OrderList, authz.Resource{}) {
		forbidden(w)
		return
	}
	q := r.URL.Query()
	f := orders.OrderFilter{
		UserID: q.Get("user_id"),
		Status: orders.Status(q.Get("status")),
	}
	if act.Role == authz.RoleCustomer {
		f.UserID = act.ID
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.CreatedFrom, err = timeParam(q.Get("from")); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.CreatedTo, err = timeParam(q.Get("to")); err != nil {
		a.writeError(w, r, err)
		return
	}

	list, err := a.Orders.ListOrders(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list, "limit": f.Limit, "offset": f.Offset})
}

// loadOrder reads through the Redis order cache.
func (a *API) loadOrder(ctx context.Context, id string) (orders.Order, error) {
	var o orders.Order
	hit, err := a.Cache.GetOrder(ctx, id, &o)
	if err != nil {
		a.Log.WithError(err).WithField("order_id", id).Warn("order cache read")
	}
	if hit {
		return o, nil
	}
	o, err = a.Orders.GetOrderByID(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if _, err := a.Cache.SetOrder(ctx, id, o); err != nil {
		a.Log.WithError(err).WithField("order_id", id).Warn("order cache write")
	}
	return o, nil
}

// authorizeOrder loads the order and checks act against its owner. It
// writes the response itself when the request must stop.
func (a *API) authorizeOrder(w http.ResponseWriter, r *http.Request, act authz.Action) (orders.Order, bool) {
	o, err := a.loadOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return orders.Order{}, false
	}
	if !a.Policy.Allow(actorOf(r), act, authz.Resource{OwnerID: o.UserID}) {
		forbidden(w)
		return orders.Order{}, false
	}
	return o, true
}

func (a *API) invalidate(ctx context.Context, orderID string) {
	if err := a.Cache.InvalidateOrder(ctx, orderID); err != nil {
		a.Log.WithError(err).WithField("order_id", orderID).Warn("order cache invalidate")
	}
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := a.authorizeOrder(w, r, authz.OrderRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type orderStatusResp struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Cached    bool      `json:"cached"`
}

// getOrderStatus serves the projection kept by the worker and falls back to
// the database on a miss, or when the entry lacks the owner a customer
// must be checked against.
func (a *API) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	e, hit, err := a.Cache.Status(ctx, id)
	if err != nil {
		a.Log.WithError(err).WithField("order_id", id).Warn("status cache read")
	}
	if hit && a.Policy.Allow(actorOf(r), authz.OrderRead, authz.Resource{OwnerID: e.UserID}) {
		writeJSON(w, http.StatusOK, orderStatusResp{OrderID: id, Status: e.Status, UpdatedAt: e.UpdatedAt, Cached: true})
		return
	}

	o, ok := a.authorizeOrder(w, r, authz.OrderRead)
	if !ok {
		return
	}
	entry := redisx.StatusEntry{Status: string(o.Status), UserID: o.UserID, UpdatedAt: o.UpdatedAt}
	if _, err := a.Cache.FillStatus(ctx, o.ID, entry); err != nil {
		a.Log.WithError(err).WithField("order_id", o.ID).Warn("status cache write")
	}
	writeJSON(w, http.StatusOK, orderStatusResp{OrderID: o.ID, Status: entry.Status, UpdatedAt: o.UpdatedAt})
}

type transitionReq struct {
	Status  orders.Status `json:"status" validate:"required"`
	Comment string        `json:"comment" validate:"max=500"`
}

func (a *API) transitionStatus(w http.ResponseWriter, r *http.Request) {
	o, ok := a.authorizeOrder(w, r, authz.OrderTransition)
	if !ok {
		return
	}
	var req transitionReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	updated, err := a.Orders.TransitionStatus(r.Context(), o.ID, req.Status, req.Comment, actorOf(r).ID)
	a.invalidate(r.Context(), o.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type cancelReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := a.authorizeOrder(w, r, authz.OrderCancel)
	if !ok {
		return
	}
	var req cancelReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	updated, err := a.Orders.CancelOrder(r.Context(), o.ID, actorOf(r).ID, req.Reason)
	a.invalidate(r.Context(), o.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type refundReq struct {
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason" validate:"max=500"`
	ReturnToInventory bool            `json:"return_to_inventory"`
	Provider          string          `json:"provider"`
	TransactionID     string          `json:"transaction_id"`
	ProviderResponse  json.RawMessage `json:"provider_response,omitempty"`
}

func (a *API) refundOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := a.authorizeOrder(w, r, authz.OrderRefund)
	if !ok {
		return
	}
	var req refundReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	pay, err := a.Orders.RefundOrder(r.Context(), o.ID, orders.RefundInput{
		Amount:            req.Amount,
		Reason:            req.Reason,
		ReturnToInventory: req.ReturnToInventory,
		Provider:          req.Provider,
		TransactionID:     req.TransactionID,
		ProviderResponse:  req.ProviderResponse,
	}, actorOf(r).ID)
	a.invalidate(r.Context(), o.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pay)
}

type paymentReq struct {
	Amount           decimal.Decimal      `json:"amount"`
	Method           string               `json:"method"`
	Provider         string               `json:"provider"`
	TransactionID    string               `json:"transaction_id"`
	Status           orders.PaymentRecord `json:"status" validate:"omitempty,oneof=pending completed failed"`
	ProviderResponse json.RawMessage      `json:"provider_response,omitempty"`
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	o, ok := a.authorizeOrder(w, r, authz.OrderPay)
	if !ok {
		return
	}
	var req paymentReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	pay, err := a.Orders.RecordPayment(r.Context(), o.ID, orders.PaymentInput{
		Amount:           req.Amount,
		Method:           req.Method,
		Provider:         req.Provider,
		TransactionID:    req.TransactionID,
		Status:           req.Status,
		ProviderResponse: req.ProviderResponse,
	}, actorOf(r).ID)
	a.invalidate(r.Context(), o.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pay)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid integer %q", s)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or a bare date.
func timeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperr.Validation("invalid time %q", s)
}
