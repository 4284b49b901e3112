package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Idempotency implements orders.IdempotencyStore without expiry.
type Idempotency struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
}

func NewIdempotency() *Idempotency {
	return &Idempotency{keys: make(map[string]uuid.UUID)}
}

func (i *Idempotency) Claim(_ context.Context, key string) (uuid.UUID, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.keys[key]; ok {
		return id, false, nil
	}
	i.keys[key] = uuid.Nil
	return uuid.Nil, true, nil
}

func (i *Idempotency) Complete(_ context.Context, key string, orderID uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[key] = orderID
	return nil
}

func (i *Idempotency) Abandon(_ context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, key)
	return nil
}
