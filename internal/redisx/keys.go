package redisx

import (
	"fmt"
	"time"
)

const (
	// idem:order:create:{key} -> order_id, or "" while the request runs
	KeyIdemOrderCreate = "idem:order:create:%s"

	// order_status:{order_id} -> {"status": "...", "is_archived": ..., "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// TTLInFlight bounds how long a crashed request can block its key.
	TTLInFlight    = 2 * time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemKey(key string) string           { return fmt.Sprintf(KeyIdemOrderCreate, key) }
func StatusKey(orderID string) string     { return fmt.Sprintf(KeyOrderStatus, orderID) }
func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
