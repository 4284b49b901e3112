package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
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

// Idempotency implements orders.IdempotencyStore. A claimed key holds an
// empty value with a short TTL until Complete stores the order id.
type Idempotency struct{ RDB *redis.Client }

const inFlight = ""

func (i *Idempotency) Claim(ctx context.Context, key string) (uuid.UUID, bool, error) {
	k := IdemKey(key)
	ok, err := i.RDB.SetNX(ctx, k, inFlight, TTLInFlight).Result()
	if err != nil {
		return uuid.Nil, false, err
	}
	if ok {
		return uuid.Nil, true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return i.Claim(ctx, key)
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	if v == inFlight {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency key %s: %w", key, err)
	}
	return id, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, key string, orderID uuid.UUID) error {
	return i.RDB.Set(ctx, IdemKey(key), orderID.String(), TTLIdempotency).Err()
}

func (i *Idempotency) Abandon(ctx context.Context, key string) error {
	return i.RDB.Del(ctx, IdemKey(key)).Err()
}

// CachedStatus is the value kept under KeyOrderStatus.
type CachedStatus struct {
	Status              orders.Status `json:"status"`
	IsArchived          bool          `json:"is_archived"`
	NeedsReconciliation bool          `json:"needs_reconciliation"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// StatusCache keeps a short-lived copy of each order's status for fast reads.
type StatusCache struct{ RDB *redis.Client }

func (c *StatusCache) Put(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(CachedStatus{
		Status:              o.Status,
		IsArchived:          o.IsArchived,
		NeedsReconciliation: o.NeedsReconciliation,
		UpdatedAt:           o.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, StatusKey(o.ID.String()), b, TTLStatusCache).Err()
}

// Get returns ok=false on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID uuid.UUID) (CachedStatus, bool, error) {
	var cs CachedStatus
	b, err := c.RDB.Get(ctx, StatusKey(orderID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, false, nil
	}
	if err != nil {
		return cs, false, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, false, err
	}
	return cs, true, nil
}

func (c *StatusCache) Evict(ctx context.Context, orderID uuid.UUID) error {
	return c.RDB.Del(ctx, StatusKey(orderID.String())).Err()
}

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// First marks id as seen and reports whether this is its first delivery.
func (d *Dedup) First(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, DedupKey(d.Service, id), 1, TTLDedup).Result()
}

// Forget clears id so a failed event can be processed again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, DedupKey(d.Service, id)).Err()
}
