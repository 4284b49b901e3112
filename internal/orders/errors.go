package orders

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrStatusChanged is returned by guarded writes when the stored status
	// no longer matches the one the caller read.
	ErrStatusChanged = errors.New("order status changed concurrently")
	// ErrRequestInFlight means another request with the same idempotency key
	// has not finished yet.
	ErrRequestInFlight = errors.New("order request already in progress")
)

// InsufficientStockError names the cart line whose reservation failed.
type InsufficientStockError = inventory.InsufficientStockError

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateTransitionError is returned when an operation is not allowed
// from the order's current status.
type InvalidStateTransitionError struct {
	OrderID uuid.UUID
	Op      string
	From    Status
	To      Status
}

func (e *InvalidStateTransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
	}
	return fmt.Sprintf("order %s: cannot %s while %s", e.OrderID, e.Op, e.From)
}

type NotDeletableError struct {
	OrderID uuid.UUID
	Status  Status
}

func (e *NotDeletableError) Error() string {
	return fmt.Sprintf("order %s cannot be deleted while %s", e.OrderID, e.Status)
}

// PersistenceError wraps a failed order write that happened after stock
// was touched.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

type ForbiddenError struct {
	Permission string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("missing permission %s", e.Permission)
}

// SideEffectFailure describes a derived-state write that failed after the
// primary order write succeeded. It is logged, never returned to callers.
type SideEffectFailure struct {
	Effect  string
	OrderID uuid.UUID
	Err     error
}

func (e *SideEffectFailure) Error() string {
	return fmt.Sprintf("side effect %s for order %s: %v", e.Effect, e.OrderID, e.Err)
}

func (e *SideEffectFailure) Unwrap() error { return e.Err }
