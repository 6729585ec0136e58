package redisx

import "time"

const (
	// Cart per customer: cart:{customer_id} -> JSON cart
	KeyCart = "cart:%s"

	// In-flight create order claim: idem:order:create:{customer_id}:{key} -> "1"
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Order read cache: order:{order_id} -> JSON order
	KeyOrderCache = "order:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id or callback payment id)
	KeyDedup = "dedup:%s:%s"

	// Single-active job lease: lease:{name} -> holder token
	KeyLease = "lease:%s"
)

var (
	TTLCart        = 30 * 24 * time.Hour
	TTLIdempotency = time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
