// Package memstore holds mutex-guarded in-memory implementations of the
// order and stock stores.
package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/google/uuid"
)

type variantKey struct{ product, variant uuid.UUID }

// Stock implements inventory.StockStore.
type Stock struct {
	mu     sync.Mutex
	levels map[variantKey]*inventory.StockLevel
	faults faults
}

func NewStock() *Stock {
	return &Stock{levels: make(map[variantKey]*inventory.StockLevel)}
}

// Put sets the counters of a variant, creating it if needed.
func (s *Stock) Put(productID, variantID uuid.UUID, onHand, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[variantKey{productID, variantID}] = &inventory.StockLevel{
		ProductID: productID, VariantID: variantID, OnHand: onHand, Reserved: reserved,
	}
}

// FailOn makes the next call of op ("reserve", "release", "finalize") for
// variantID return err.
func (s *Stock) FailOn(op string, variantID uuid.UUID, err error) {
	s.faults.set(op+":"+variantID.String(), err)
}

func (s *Stock) Reserve(_ context.Context, l inventory.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults.take("reserve:" + l.VariantID.String()); err != nil {
		return err
	}
	lv, ok := s.levels[variantKey{l.ProductID, l.VariantID}]
	if !ok {
		return inventory.ErrVariantNotFound
	}
	if lv.Available() < l.Quantity {
		return &inventory.InsufficientStockError{
			ProductID: l.ProductID, VariantID: l.VariantID,
			Requested: l.Quantity, Available: lv.Available(),
		}
	}
	lv.Reserved += l.Quantity
	return nil
}

func (s *Stock) Release(_ context.Context, l inventory.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults.take("release:" + l.VariantID.String()); err != nil {
		return err
	}
	lv, ok := s.levels[variantKey{l.ProductID, l.VariantID}]
	if !ok {
		return inventory.ErrVariantNotFound
	}
	lv.Reserved = max(lv.Reserved-l.Quantity, 0)
	return nil
}

func (s *Stock) Finalize(_ context.Context, l inventory.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults.take("finalize:" + l.VariantID.String()); err != nil {
		return err
	}
	lv, ok := s.levels[variantKey{l.ProductID, l.VariantID}]
	if !ok {
		return inventory.ErrVariantNotFound
	}
	if lv.OnHand < l.Quantity {
		return inventory.ErrOnHandShort
	}
	lv.OnHand -= l.Quantity
	lv.Reserved = max(lv.Reserved-l.Quantity, 0)
	return nil
}

func (s *Stock) Level(_ context.Context, productID, variantID uuid.UUID) (inventory.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lv, ok := s.levels[variantKey{productID, variantID}]
	if !ok {
		return inventory.StockLevel{}, inventory.ErrVariantNotFound
	}
	return *lv, nil
}

type faults struct {
	mu sync.Mutex
	m  map[string]error
}

func (f *faults) set(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]error)
	}
	f.m[key] = err
}

func (f *faults) take(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.m[key]
	delete(f.m, key)
	return err
}
