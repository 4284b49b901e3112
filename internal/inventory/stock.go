package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Line identifies a quantity of one product variant.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id"`
	Quantity  int       `json:"quantity"`
}

func (l Line) String() string {
	return fmt.Sprintf("product %s variant %s x%d", l.ProductID, l.VariantID, l.Quantity)
}

// StockLevel is the counter pair kept per variant.
type StockLevel struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID uuid.UUID `json:"variant_id"`
	OnHand    int       `json:"on_hand"`
	Reserved  int       `json:"reserved"`
}

func (s StockLevel) Available() int { return s.OnHand - s.Reserved }

var (
	ErrVariantNotFound = errors.New("stock variant not found")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrOnHandShort is returned by Finalize when on-hand stock is lower than
	// the quantity being removed.
	ErrOnHandShort = errors.New("on-hand stock lower than finalize quantity")
)

// InsufficientStockError is returned when a reservation asks for more than
// on_hand - reserved.
type InsufficientStockError struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s variant %s: requested %d, available %d",
		e.ProductID, e.VariantID, e.Requested, e.Available)
}

// StockStore is the backing store contract. Each call must be atomic on its
// own; nothing spans more than one variant.
type StockStore interface {
	// Reserve increments reserved when available >= qty, else returns
	// *InsufficientStockError.
	Reserve(ctx context.Context, l Line) error
	// Release decrements reserved, floored at zero.
	Release(ctx context.Context, l Line) error
	// Finalize decrements on_hand and reserved by the same amount.
	Finalize(ctx context.Context, l Line) error
	Level(ctx context.Context, productID, variantID uuid.UUID) (StockLevel, error)
}
