package redisx

import "time"

const (
	// Webhook replay guard: webhook:{invoice_id|order_id}:{payment_status}
	KeyWebhookSeen = "webhook:%s:%s"

	// Order read cache: order_status:{order_id} -> GET /api/orders/{id} body
	KeyOrderStatus = "order_status:%s"

	// Mailer dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLWebhookSeen = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
