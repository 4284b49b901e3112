package orders

import (
	"context"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/google/uuid"
)

type ListFilter struct {
	Archived  *bool
	Status    Status
	CreatedBy *uuid.UUID
	Limit     int
}

// Store persists orders and their satellite rows.
type Store interface {
	NextOrderNumber(ctx context.Context) (string, error)
	InsertOrder(ctx context.Context, o *Order) error
	// InsertItems writes all items or none.
	InsertItems(ctx context.Context, orderID uuid.UUID, items []OrderItem) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]*Order, error)
	// DeleteOrder removes a pending order and its items. Returns
	// ErrStatusChanged when the order is no longer pending.
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	// UpdateOrderFields writes customer, notes, tracking and money fields of
	// a pending order. Returns ErrStatusChanged when it is no longer pending.
	UpdateOrderFields(ctx context.Context, o *Order) error
	// TransitionStatus moves the order from one status to another only if it
	// is still in from. archive also sets the archived flag.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, archive bool) error
	SetReconciliation(ctx context.Context, id uuid.UUID, needed bool) error
	SetReceiptReceived(ctx context.Context, id uuid.UUID) error
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) error
	InsertDiscount(ctx context.Context, d Discount) error
}

type ProfitStore interface {
	InsertProfit(ctx context.Context, p Profit) error
	UpdateProfitStatus(ctx context.Context, orderID uuid.UUID, status ProfitStatus) error
	DeleteProfit(ctx context.Context, orderID uuid.UUID) error
}

type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// PermissionOracle answers for the caller carried by ctx.
type PermissionOracle interface {
	HasPermission(ctx context.Context, name string) bool
	HasRole(ctx context.Context, name string) bool
}

// IdempotencyStore remembers which order a creation request produced.
type IdempotencyStore interface {
	// Claim returns claimed=true when the key is new. Otherwise orderID is
	// the order already created for it, or uuid.Nil if still in progress.
	Claim(ctx context.Context, key string) (orderID uuid.UUID, claimed bool, err error)
	Complete(ctx context.Context, key string, orderID uuid.UUID) error
	Abandon(ctx context.Context, key string) error
}

// SideEffects receives derived-state work after a primary write succeeded.
// Implementations must not fail the caller.
type SideEffects interface {
	OrderCreated(ctx context.Context, o *Order)
	StatusChanged(ctx context.Context, o *Order, from Status)
	OrdersDeleted(ctx context.Context, deleted []*Order)
	ReceiptReceived(ctx context.Context, o *Order)
	ReconciliationNeeded(ctx context.Context, o *Order, failed []inventory.ItemFailure)
}

const (
	PermEditOrders   = "edit_orders"
	PermDeleteOrders = "delete_orders"
	RoleAdmin        = "admin"
)
