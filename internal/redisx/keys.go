package redisx

import "time"

const (
	// Create-order idempotency: idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Full order read-through cache: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Status projection: order_status:{order_id} -> {"status": "...", "user_id": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Set on invalidation; while present, read paths may not refill the
	// order or status keys: order_fence:{order_id}
	KeyOrderFence = "order_fence:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour

	// Outlives the longest request, so a read that started before a
	// mutation cannot cache what it saw.
	TTLOrderFence = 20 * time.Second
)
