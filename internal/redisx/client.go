package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// StatusEntry is the value stored under KeyOrderStatus. UserID is the order
// owner when the writer knew it.
type StatusEntry struct {
	Status    string    `json:"status"`
	UserID    string    `json:"user_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache wraps the few keys the order service reads and writes. A nil *Cache
// is valid and behaves as an always-missing cache, so Redis stays optional.
type Cache struct {
	rdb redis.Cmdable
}

func NewCache(rdb redis.Cmdable) *Cache {
	if rdb == nil {
		return nil
	}
	return &Cache{rdb: rdb}
}

// GetOrder decodes the cached order into out. It reports false on a miss.
func (c *Cache) GetOrder(ctx context.Context, orderID string, out any) (bool, error) {
	if c == nil {
		return false, nil
	}
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrder, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetOrder caches an order read from the database. It reports false when
// the order was invalidated within TTLOrderFence and nothing was written.
func (c *Cache) SetOrder(ctx context.Context, orderID string, v any) (bool, error) {
	if c == nil {
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return c.setUnlessFenced(ctx, fmt.Sprintf(KeyOrder, orderID), orderID, b, TTLOrderCache, false)
}

// InvalidateOrder drops both the full order and its status projection and
// fences them against refills from reads already in flight.
func (c *Cache) InvalidateOrder(ctx context.Context, orderID string) error {
	if c == nil {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, fmt.Sprintf(KeyOrder, orderID), fmt.Sprintf(KeyOrderStatus, orderID))
		p.Set(ctx, fmt.Sprintf(KeyOrderFence, orderID), 1, TTLOrderFence)
		return nil
	})
	return err
}

// SetStatus writes the projection unconditionally. Only the event projector
// calls it; events for one order arrive in commit order.
func (c *Cache) SetStatus(ctx context.Context, orderID string, e StatusEntry) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// FillStatus seeds the projection from a database read. It never replaces a
// projected entry and is skipped while the order is fenced.
func (c *Cache) FillStatus(ctx context.Context, orderID string, e StatusEntry) (bool, error) {
	if c == nil {
		return false, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return c.setUnlessFenced(ctx, fmt.Sprintf(KeyOrderStatus, orderID), orderID, b, TTLStatusCache, true)
}

func (c *Cache) Status(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	var e StatusEntry
	if c == nil {
		return e, false, nil
	}
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	return e, true, json.Unmarshal(b, &e)
}

// IdempotentOrder returns the order id stored for a create request key.
func (c *Cache) IdempotentOrder(ctx context.Context, userID, key string) (string, bool, error) {
	if c == nil || key == "" {
		return "", false, nil
	}
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *Cache) RememberOrder(ctx context.Context, userID, key, orderID string) error {
	if c == nil || key == "" {
		return nil
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}

// FirstSeen marks an event as processed for service. It returns false when
// the event was already marked.
func (c *Cache) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	if c == nil {
		return true, nil
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), 1, TTLDedup).Result()
}

// Forget removes a dedup mark so a failed event can be retried.
func (c *Cache) Forget(ctx context.Context, service, eventID string) error {
	if c == nil {
		return nil
	}
	return c.rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}

// fencedSet writes KEYS[1] unless the fence KEYS[2] exists. ARGV: value,
// ttl in ms, "1" to also require KEYS[1] to be absent.
var fencedSet = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
if ARGV[3] == '1' then
	if redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'NX') then
		return 1
	end
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

func (c *Cache) setUnlessFenced(ctx context.Context, key, orderID string, v []byte, ttl time.Duration, onlyNew bool) (bool, error) {
	nx := "0"
	if onlyNew {
		nx = "1"
	}
	n, err := fencedSet.Run(ctx, c.rdb, []string{key, fmt.Sprintf(KeyOrderFence, orderID)},
		v, ttl.Milliseconds(), nx).Int()
	return n == 1, err
}
