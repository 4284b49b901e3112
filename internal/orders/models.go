package orders

import (
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

type Order struct {
	ID                  uuid.UUID       `json:"id"`
	OrderNumber         string          `json:"order_number"`
	Customer            Customer        `json:"customer"`
	Status              Status          `json:"status"`
	TrackingNumber      string          `json:"tracking_number"`
	DeliveryPartner     string          `json:"delivery_partner"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	Discount            decimal.Decimal `json:"discount"`
	DeliveryFee         decimal.Decimal `json:"delivery_fee"`
	FinalAmount         decimal.Decimal `json:"final_amount"`
	CreatedBy           uuid.UUID       `json:"created_by"`
	Notes               string          `json:"notes,omitempty"`
	IsArchived          bool            `json:"is_archived"`
	ReceiptReceived     bool            `json:"receipt_received"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	Items               []OrderItem     `json:"items"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsLocal reports whether the order is delivered without an external
// courier. localMarker is the partner name reserved for in-house delivery.
func (o *Order) IsLocal(localMarker string) bool {
	return o.DeliveryPartner == "" || o.DeliveryPartner == localMarker
}

// Lines returns the stock lines held by the order's items.
func (o *Order) Lines() []inventory.Line {
	out := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return out
}

// Recalculate sets FinalAmount from the other money fields.
func (o *Order) Recalculate() {
	o.FinalAmount = o.Subtotal.Sub(o.Discount).Add(o.DeliveryFee)
}

type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID uuid.UUID       `json:"product_id"`
	VariantID uuid.UUID       `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CartLine is one requested line at order creation.
type CartLine struct {
	ProductID uuid.UUID       `json:"product_id"`
	VariantID uuid.UUID       `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type ProfitStatus string

const (
	ProfitPending        ProfitStatus = "pending"
	ProfitPendingReceipt ProfitStatus = "pending_receipt"
	ProfitSettled        ProfitStatus = "settled"
)

// Profit tracks the employee share of one order.
type Profit struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	EmployeeID     uuid.UUID       `json:"employee_id"`
	Revenue        decimal.Decimal `json:"revenue"`
	Cost           decimal.Decimal `json:"cost"`
	Profit         decimal.Decimal `json:"profit"`
	EmployeeProfit decimal.Decimal `json:"employee_profit"`
	Status         ProfitStatus    `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Discount is the audit record of a discount applied to an order.
type Discount struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	AppliedBy uuid.UUID       `json:"applied_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type Notification struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	RecipientID *uuid.UUID     `json:"recipient_id,omitempty"` // nil = everyone
	Link        string         `json:"link,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

const (
	NotificationNewOrder       = "new_order"
	NotificationStatusChanged  = "order_status_changed"
	NotificationReconciliation = "stock_reconciliation"
)
