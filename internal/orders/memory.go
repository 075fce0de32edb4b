package orders

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/apperr"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. A unit of work takes the write
// lock, runs against a copy of the state and swaps it in only on success,
// which gives the same all-or-nothing behaviour as a database transaction.
// Used for local runs (STORE_DRIVER=memory) and tests.
type MemoryStore struct {
	mu sync.RWMutex
	st memState
}

type memState struct {
	products     map[string]Product
	stock        map[string]inventory.Level
	orders       map[string]Order
	orderNumbers map[string]string
	requestKeys  map[string]string
	items        map[string][]OrderItem
	history      map[string][]HistoryEntry
	payments     map[string][]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{
		products:     map[string]Product{},
		stock:        map[string]inventory.Level{},
		orders:       map[string]Order{},
		orderNumbers: map[string]string{},
		requestKeys:  map[string]string{},
		items:        map[string][]OrderItem{},
		history:      map[string][]HistoryEntry{},
		payments:     map[string][]Payment{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		products:     maps.Clone(s.products),
		stock:        maps.Clone(s.stock),
		orders:       maps.Clone(s.orders),
		orderNumbers: maps.Clone(s.orderNumbers),
		requestKeys:  maps.Clone(s.requestKeys),
		items:        make(map[string][]OrderItem, len(s.items)),
		history:      make(map[string][]HistoryEntry, len(s.history)),
		payments:     make(map[string][]Payment, len(s.payments)),
	}
	for k, v := range s.items {
		c.items[k] = slices.Clone(v)
	}
	for k, v := range s.history {
		c.history[k] = slices.Clone(v)
	}
	for k, v := range s.payments {
		c.payments[k] = slices.Clone(v)
	}
	return c
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := &memTx{st: m.st.clone()}
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Database(err, "transaction aborted")
	}
	m.st = work.st
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.st.orders[id]
	if !ok {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	o.Items = slices.Clone(m.st.items[id])
	return o, nil
}

func (m *MemoryStore) OrderByIdempotencyKey(ctx context.Context, userID, key string) (Order, error) {
	m.mu.RLock()
	id, ok := m.st.requestKeys[requestKey(userID, key)]
	m.mu.RUnlock()
	if !ok {
		return Order{}, apperr.NotFound("no order for idempotency key %q", key)
	}
	return m.GetOrder(ctx, id)
}

func requestKey(userID, key string) string { return userID + "\x00" + key }

func (m *MemoryStore) History(_ context.Context, orderID string) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.st.history[orderID]), nil
}

func (m *MemoryStore) Payments(_ context.Context, orderID string) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.st.payments[orderID]), nil
}

func (m *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Order
	for _, o := range m.st.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && !o.CreatedAt.Before(*f.CreatedTo) {
			continue
		}
		o.Items = slices.Clone(m.st.items[o.ID])
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset >= len(out) {
		return []Order{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListProducts(_ context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Product, 0, len(m.st.products))
	for _, p := range m.st.products {
		p.Stock = m.st.stock[p.ID].Quantity
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Stock < 0 {
		return Product{}, apperr.Validation("initial stock cannot be negative")
	}
	for _, existing := range m.st.products {
		if existing.SKU == p.SKU {
			return Product{}, apperr.Conflict("product with sku %s already exists", p.SKU)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.st.products[p.ID] = p
	m.st.stock[p.ID] = inventory.Level{ProductID: p.ID, Quantity: p.Stock, UpdatedAt: now}
	return p, nil
}

func (m *MemoryStore) Inventory(_ context.Context, productID string) (inventory.Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.st.stock[productID]
	if !ok {
		return inventory.Level{}, apperr.NotFound("no inventory record for product %s", productID)
	}
	return l, nil
}

func (m *MemoryStore) AdjustInventory(_ context.Context, productID string, delta int) (inventory.Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delta == 0 {
		return inventory.Level{}, apperr.Validation("adjustment delta must not be zero")
	}
	l, ok := m.st.stock[productID]
	if !ok {
		return inventory.Level{}, apperr.NotFound("no inventory record for product %s", productID)
	}
	if l.Quantity+delta < 0 {
		return inventory.Level{}, inventory.Insufficient(productID, -delta, l.Quantity)
	}
	l.Quantity += delta
	l.UpdatedAt = time.Now().UTC()
	m.st.stock[productID] = l
	return l, nil
}

type memTx struct{ st memState }

func (t *memTx) Product(_ context.Context, id string) (Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return Product{}, apperr.NotFound("product %s not found", id)
	}
	return p, nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	return o, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if _, dup := t.st.orders[o.ID]; dup {
		return apperr.Conflict("order %s already exists", o.ID)
	}
	if _, dup := t.st.orderNumbers[o.OrderNumber]; dup {
		return apperr.Conflict("insert order %s: duplicate order number", o.OrderNumber)
	}
	if o.IdempotencyKey != "" {
		rk := requestKey(o.UserID, o.IdempotencyKey)
		if _, dup := t.st.requestKeys[rk]; dup {
			return &apperr.Error{Kind: apperr.KindConflict, Message: "insert order", Err: ErrDuplicateRequest}
		}
		t.st.requestKeys[rk] = o.ID
	}
	row := *o
	row.Items, row.History, row.Payments = nil, nil, nil
	t.st.orders[o.ID] = row
	t.st.orderNumbers[o.OrderNumber] = o.ID
	return nil
}

func (t *memTx) InsertItem(_ context.Context, it *OrderItem) error {
	if _, ok := t.st.orders[it.OrderID]; !ok {
		return apperr.Validation("insert order item: order %s does not exist", it.OrderID)
	}
	if _, ok := t.st.products[it.ProductID]; !ok {
		return apperr.Validation("insert order item: product %s does not exist", it.ProductID)
	}
	t.st.items[it.OrderID] = append(t.st.items[it.OrderID], *it)
	return nil
}

func (t *memTx) Items(_ context.Context, orderID string) ([]OrderItem, error) {
	return slices.Clone(t.st.items[orderID]), nil
}

func (t *memTx) Payments(_ context.Context, orderID string) ([]Payment, error) {
	return slices.Clone(t.st.payments[orderID]), nil
}

func (t *memTx) SetStatus(_ context.Context, orderID string, s Status, completedAt *time.Time, at time.Time) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return apperr.NotFound("order %s not found", orderID)
	}
	o.Status = s
	o.UpdatedAt = at
	if completedAt != nil {
		c := *completedAt
		o.CompletedAt = &c
	}
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) SetPaymentStatus(_ context.Context, orderID string, ps PaymentStatus, at time.Time) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return apperr.NotFound("order %s not found", orderID)
	}
	o.PaymentStatus = ps
	o.UpdatedAt = at
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h *HistoryEntry) error {
	if _, ok := t.st.orders[h.OrderID]; !ok {
		return apperr.Validation("append history: order %s does not exist", h.OrderID)
	}
	t.st.history[h.OrderID] = append(t.st.history[h.OrderID], *h)
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p *Payment) error {
	if _, ok := t.st.orders[p.OrderID]; !ok {
		return apperr.Validation("insert payment: order %s does not exist", p.OrderID)
	}
	t.st.payments[p.OrderID] = append(t.st.payments[p.OrderID], *p)
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("invalid quantity %d for product %s", qty, productID)
	}
	l, ok := t.st.stock[productID]
	if !ok {
		return apperr.Validation("no inventory record for product %s", productID)
	}
	if l.Quantity < qty {
		return inventory.Insufficient(productID, qty, l.Quantity)
	}
	l.Quantity -= qty
	l.UpdatedAt = time.Now().UTC()
	t.st.stock[productID] = l
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("invalid quantity %d for product %s", qty, productID)
	}
	l, ok := t.st.stock[productID]
	if !ok {
		return apperr.NotFound("no inventory record for product %s", productID)
	}
	l.Quantity += qty
	l.UpdatedAt = time.Now().UTC()
	t.st.stock[productID] = l
	return nil
}
