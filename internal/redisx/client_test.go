package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb), mr
}

type cachedOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestOrderCacheRoundTripAndInvalidate(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	var got cachedOrder
	hit, err := c.GetOrder(ctx, "o1", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	stored, err := c.SetOrder(ctx, "o1", cachedOrder{ID: "o1", Status: "pending"})
	require.NoError(t, err)
	assert.True(t, stored)
	require.NoError(t, c.SetStatus(ctx, "o1", StatusEntry{Status: "pending", UpdatedAt: time.Now()}))
	assert.Equal(t, TTLOrderCache, mr.TTL("order:o1"))

	hit, err = c.GetOrder(ctx, "o1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "pending", got.Status)

	require.NoError(t, c.InvalidateOrder(ctx, "o1"))
	assert.False(t, mr.Exists("order:o1"))
	assert.False(t, mr.Exists("order_status:o1"))
	assert.Equal(t, TTLOrderFence, mr.TTL("order_fence:o1"))
}

func TestInvalidationFencesLateRefills(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	// A read that loaded the row before the mutation finishes after it.
	stale := cachedOrder{ID: "o1", Status: "pending"}
	require.NoError(t, c.InvalidateOrder(ctx, "o1"))

	stored, err := c.SetOrder(ctx, "o1", stale)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("order:o1"))

	filled, err := c.FillStatus(ctx, "o1", StatusEntry{Status: "pending"})
	require.NoError(t, err)
	assert.False(t, filled)

	// The projector still writes through the fence.
	require.NoError(t, c.SetStatus(ctx, "o1", StatusEntry{Status: "cancelled"}))
	e, ok, err := c.Status(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cancelled", e.Status)

	mr.FastForward(TTLOrderFence + time.Second)
	stored, err = c.SetOrder(ctx, "o1", cachedOrder{ID: "o1", Status: "cancelled"})
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestFillStatusKeepsProjectedEntry(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	filled, err := c.FillStatus(ctx, "o1", StatusEntry{Status: "pending", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, filled)

	filled, err = c.FillStatus(ctx, "o1", StatusEntry{Status: "processing"})
	require.NoError(t, err)
	assert.False(t, filled)

	e, ok, err := c.Status(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pending", e.Status)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:o1"))
}

func TestStatusEntry(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.SetStatus(ctx, "o1", StatusEntry{Status: "shipped", UserID: "u1", UpdatedAt: at}))
	e, ok, err := c.Status(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "shipped", e.Status)
	assert.Equal(t, "u1", e.UserID)
	assert.True(t, at.Equal(e.UpdatedAt))
}

func TestIdempotencyKeyIsPerUser(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.RememberOrder(ctx, "u1", "k1", "o1"))
	id, ok, err := c.IdempotentOrder(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "o1", id)
	assert.Equal(t, TTLIdempotency, mr.TTL("idem:order:create:u1:k1"))

	_, ok, err = c.IdempotentOrder(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstSeenDedups(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	first, err := c.FirstSeen(ctx, "projector", "e1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.FirstSeen(ctx, "projector", "e1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, c.Forget(ctx, "projector", "e1"))
	first, err = c.FirstSeen(ctx, "projector", "e1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	hit, err := c.GetOrder(ctx, "o1", &cachedOrder{})
	assert.NoError(t, err)
	assert.False(t, hit)
	stored, err := c.SetOrder(ctx, "o1", cachedOrder{})
	assert.NoError(t, err)
	assert.False(t, stored)
	_, ok, err := c.Status(ctx, "o1")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateOrder(ctx, "o1"))
	first, err := c.FirstSeen(ctx, "s", "e")
	assert.NoError(t, err)
	assert.True(t, first)
	assert.Nil(t, NewCache(nil))
}

func TestRedisErrorsSurface(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	mr.SetError("LOADING")
	_, _, err := c.IdempotentOrder(ctx, "u1", "k1")
	assert.Error(t, err)
}
