// Package notify applies the derived-state work that follows an order
// write: profit records, notifications, the status cache and outbound
// events. Failures are logged and counted, never returned.
package notify

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/metrics"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type StatusCache interface {
	Put(ctx context.Context, o *orders.Order) error
	Evict(ctx context.Context, orderID uuid.UUID) error
}

type EventPublisher interface {
	PublishEnvelope(topic string, env orders.Envelope)
}

// Dispatcher implements orders.SideEffects.
type Dispatcher struct {
	sink    orders.NotificationSink
	profits orders.ProfitStore
	cache   StatusCache
	events  EventPublisher
	service string
	rate    decimal.Decimal
	log     *zap.Logger
}

type Option func(*Dispatcher)

func WithStatusCache(c StatusCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithEvents publishes OrderCreated and OrderStatusChanged envelopes.
func WithEvents(p EventPublisher, service string) Option {
	return func(d *Dispatcher) {
		d.events = p
		d.service = service
	}
}

// NewDispatcher builds a dispatcher. rate is the employee share of profit.
func NewDispatcher(sink orders.NotificationSink, profits orders.ProfitStore, rate decimal.Decimal, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{sink: sink, profits: profits, rate: rate, log: log}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) OrderCreated(ctx context.Context, o *orders.Order) {
	ctx = context.WithoutCancel(ctx)

	d.run(ctx, "profit_record", o.ID, func(ctx context.Context) error {
		return d.profits.InsertProfit(ctx, d.profitOf(o))
	})
	d.notify(ctx, o.ID, orders.Notification{
		Type:    orders.NotificationNewOrder,
		Title:   "New order",
		Message: fmt.Sprintf("Order %s for %s, total %s", o.OrderNumber, o.Customer.Name, o.FinalAmount.StringFixed(2)),
		Link:    orderLink(o.ID),
		Metadata: map[string]any{
			"order_id":     o.ID.String(),
			"order_number": o.OrderNumber,
		},
	})
	d.cachePut(ctx, o)
	if d.events != nil {
		payload := orders.OrderCreatedPayload{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			CreatedBy:   o.CreatedBy,
			Items:       orders.ItemsOf(o),
			FinalAmount: o.FinalAmount,
		}
		d.publish(orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, payload)
	}
}

func (d *Dispatcher) StatusChanged(ctx context.Context, o *orders.Order, from orders.Status) {
	ctx = context.WithoutCancel(ctx)

	eff, _ := orders.EffectsOf(o.Status)
	switch eff.Profit {
	case orders.ProfitAwaitReceipt:
		d.run(ctx, "profit_status", o.ID, func(ctx context.Context) error {
			return d.profits.UpdateProfitStatus(ctx, o.ID, orders.ProfitPendingReceipt)
		})
	case orders.ProfitDelete:
		d.run(ctx, "profit_delete", o.ID, func(ctx context.Context) error {
			return d.profits.DeleteProfit(ctx, o.ID)
		})
	case orders.ProfitNone:
	}

	if eff.Notify {
		owner := o.CreatedBy
		d.notify(ctx, o.ID, orders.Notification{
			Type:        orders.NotificationStatusChanged,
			Title:       "Order status changed",
			Message:     fmt.Sprintf("Order %s moved from %s to %s", o.OrderNumber, from, o.Status),
			RecipientID: &owner,
			Link:        orderLink(o.ID),
			Metadata: map[string]any{
				"order_id": o.ID.String(),
				"from":     string(from),
				"to":       string(o.Status),
			},
		})
	}
	d.cachePut(ctx, o)
	if d.events != nil {
		payload := orders.OrderStatusChangedPayload{
			OrderID:             o.ID,
			From:                from,
			To:                  o.Status,
			IsArchived:          o.IsArchived,
			NeedsReconciliation: o.NeedsReconciliation,
		}
		d.publish(orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, payload)
	}
}

func (d *Dispatcher) OrdersDeleted(ctx context.Context, deleted []*orders.Order) {
	ctx = context.WithoutCancel(ctx)

	numbers := make([]string, 0, len(deleted))
	for _, o := range deleted {
		d.run(ctx, "profit_delete", o.ID, func(ctx context.Context) error {
			return d.profits.DeleteProfit(ctx, o.ID)
		})
		if d.cache != nil {
			d.run(ctx, "status_cache", o.ID, func(ctx context.Context) error {
				return d.cache.Evict(ctx, o.ID)
			})
		}
		numbers = append(numbers, o.OrderNumber)
	}
	d.notify(ctx, uuid.Nil, orders.Notification{
		Type:     orders.NotificationStatusChanged,
		Title:    "Orders deleted",
		Message:  fmt.Sprintf("%d order(s) deleted", len(deleted)),
		Metadata: map[string]any{"order_numbers": numbers},
	})
}

func (d *Dispatcher) ReceiptReceived(ctx context.Context, o *orders.Order) {
	ctx = context.WithoutCancel(ctx)
	d.run(ctx, "profit_status", o.ID, func(ctx context.Context) error {
		return d.profits.UpdateProfitStatus(ctx, o.ID, orders.ProfitSettled)
	})
	d.cachePut(ctx, o)
}

func (d *Dispatcher) ReconciliationNeeded(ctx context.Context, o *orders.Order, failed []inventory.ItemFailure) {
	ctx = context.WithoutCancel(ctx)
	items := make([]map[string]any, 0, len(failed))
	for _, f := range failed {
		items = append(items, map[string]any{
			"product_id": f.Line.ProductID.String(),
			"variant_id": f.Line.VariantID.String(),
			"quantity":   f.Line.Quantity,
			"error":      f.Err.Error(),
		})
	}
	d.notify(ctx, o.ID, orders.Notification{
		Type:    orders.NotificationReconciliation,
		Title:   "Stock needs reconciliation",
		Message: fmt.Sprintf("Order %s is %s but %d item(s) were not applied to stock", o.OrderNumber, o.Status, len(failed)),
		Link:    orderLink(o.ID),
		Metadata: map[string]any{
			"order_id": o.ID.String(),
			"status":   string(o.Status),
			"items":    items,
		},
	})
}

// profitOf computes revenue net of discount against item cost. Delivery
// fees are not revenue.
func (d *Dispatcher) profitOf(o *orders.Order) orders.Profit {
	cost := decimal.Zero
	for _, it := range o.Items {
		cost = cost.Add(it.CostPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	revenue := o.Subtotal.Sub(o.Discount)
	profit := revenue.Sub(cost)
	share := decimal.Zero
	if profit.IsPositive() {
		share = profit.Mul(d.rate).Round(2)
	}
	return orders.Profit{
		ID:             uuid.New(),
		OrderID:        o.ID,
		EmployeeID:     o.CreatedBy,
		Revenue:        revenue,
		Cost:           cost,
		Profit:         profit,
		EmployeeProfit: share,
		Status:         orders.ProfitPending,
		CreatedAt:      o.CreatedAt,
	}
}

func (d *Dispatcher) notify(ctx context.Context, orderID uuid.UUID, n orders.Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = nowUTC()
	}
	d.run(ctx, "notification", orderID, func(ctx context.Context) error {
		return d.sink.Notify(ctx, n)
	})
}

func (d *Dispatcher) cachePut(ctx context.Context, o *orders.Order) {
	if d.cache == nil {
		return
	}
	d.run(ctx, "status_cache", o.ID, func(ctx context.Context) error {
		return d.cache.Put(ctx, o)
	})
}

func (d *Dispatcher) publish(topic, eventType string, orderID uuid.UUID, payload any) {
	b, err := marshal(payload)
	if err != nil {
		d.failed(&orders.SideEffectFailure{Effect: "event_publish", OrderID: orderID, Err: err})
		return
	}
	d.events.PublishEnvelope(topic, orders.NewEnvelope(eventType, d.service, orderID.String(), b))
}

func (d *Dispatcher) run(ctx context.Context, effect string, orderID uuid.UUID, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		d.failed(&orders.SideEffectFailure{Effect: effect, OrderID: orderID, Err: err})
	}
}

func (d *Dispatcher) failed(f *orders.SideEffectFailure) {
	metrics.RecordSideEffectFailure(f.Effect)
	d.log.Warn("side effect failed",
		zap.String("effect", f.Effect),
		zap.Stringer("order_id", f.OrderID),
		zap.Error(f.Err))
}

func orderLink(id uuid.UUID) string { return "/orders/" + id.String() }
