package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
)

// Orders implements orders.Store, orders.ProfitStore and
// orders.NotificationSink.
type Orders struct {
	mu            sync.Mutex
	seq           int
	orders        map[uuid.UUID]*orders.Order
	discounts     []orders.Discount
	profits       map[uuid.UUID]*orders.Profit
	notifications []orders.Notification
	faults        faults
}

func NewOrders() *Orders {
	return &Orders{
		orders:  make(map[uuid.UUID]*orders.Order),
		profits: make(map[uuid.UUID]*orders.Profit),
	}
}

// FailOn makes the next call of the named method return err.
func (m *Orders) FailOn(method string, err error) { m.faults.set(method, err) }

func (m *Orders) NextOrderNumber(context.Context) (string, error) {
	if err := m.faults.take("NextOrderNumber"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("ORD-%s-%05d", time.Now().UTC().Format("20060102"), m.seq), nil
}

func (m *Orders) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := m.faults.take("InsertOrder"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.OrderNumber == o.OrderNumber {
			return fmt.Errorf("%w: %s", orders.ErrDuplicateOrderNumber, o.OrderNumber)
		}
	}
	cp := clone(o)
	cp.Items = nil
	m.orders[o.ID] = cp
	return nil
}

func (m *Orders) InsertItems(_ context.Context, orderID uuid.UUID, items []orders.OrderItem) error {
	if err := m.faults.take("InsertItems"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.Items = slices.Clone(items)
	return nil
}

func (m *Orders) GetOrder(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return clone(o), nil
}

func (m *Orders) ListOrders(_ context.Context, f orders.ListFilter) ([]*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orders.Order
	for _, o := range m.orders {
		if f.Archived != nil && o.IsArchived != *f.Archived {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CreatedBy != nil && o.CreatedBy != *f.CreatedBy {
			continue
		}
		out = append(out, clone(o))
	}
	slices.SortFunc(out, func(a, b *orders.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Orders) DeleteOrder(_ context.Context, id uuid.UUID) error {
	if err := m.faults.take("DeleteOrder"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != orders.StatusPending {
		return orders.ErrStatusChanged
	}
	delete(m.orders, id)
	delete(m.profits, id)
	m.discounts = slices.DeleteFunc(m.discounts, func(d orders.Discount) bool { return d.OrderID == id })
	return nil
}

func (m *Orders) UpdateOrderFields(_ context.Context, o *orders.Order) error {
	if err := m.faults.take("UpdateOrderFields"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Status != orders.StatusPending {
		return orders.ErrStatusChanged
	}
	cur.Customer = o.Customer
	cur.Notes = o.Notes
	cur.TrackingNumber = o.TrackingNumber
	cur.Discount = o.Discount
	cur.DeliveryFee = o.DeliveryFee
	cur.FinalAmount = o.FinalAmount
	cur.UpdatedAt = o.UpdatedAt
	return nil
}

func (m *Orders) TransitionStatus(_ context.Context, id uuid.UUID, from, to orders.Status, archive bool) error {
	if err := m.faults.take("TransitionStatus"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != from {
		return orders.ErrStatusChanged
	}
	o.Status = to
	o.IsArchived = o.IsArchived || archive
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Orders) SetReconciliation(_ context.Context, id uuid.UUID, needed bool) error {
	return m.update("SetReconciliation", id, func(o *orders.Order) { o.NeedsReconciliation = needed })
}

func (m *Orders) SetReceiptReceived(_ context.Context, id uuid.UUID) error {
	return m.update("SetReceiptReceived", id, func(o *orders.Order) { o.ReceiptReceived = true })
}

func (m *Orders) SetArchived(_ context.Context, id uuid.UUID, archived bool) error {
	return m.update("SetArchived", id, func(o *orders.Order) { o.IsArchived = archived })
}

func (m *Orders) update(method string, id uuid.UUID, fn func(*orders.Order)) error {
	if err := m.faults.take(method); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	fn(o)
	return nil
}

func (m *Orders) InsertDiscount(_ context.Context, d orders.Discount) error {
	if err := m.faults.take("InsertDiscount"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discounts = append(m.discounts, d)
	return nil
}

func (m *Orders) Discounts(orderID uuid.UUID) []orders.Discount {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Discount
	for _, d := range m.discounts {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	return out
}

func (m *Orders) InsertProfit(_ context.Context, p orders.Profit) error {
	if err := m.faults.take("InsertProfit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profits[p.OrderID]; !ok {
		m.profits[p.OrderID] = &p
	}
	return nil
}

func (m *Orders) UpdateProfitStatus(_ context.Context, orderID uuid.UUID, status orders.ProfitStatus) error {
	if err := m.faults.take("UpdateProfitStatus"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profits[orderID]
	if !ok {
		return fmt.Errorf("profit for order %s: %w", orderID, orders.ErrNotFound)
	}
	p.Status = status
	return nil
}

func (m *Orders) DeleteProfit(_ context.Context, orderID uuid.UUID) error {
	if err := m.faults.take("DeleteProfit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profits, orderID)
	return nil
}

// Profit returns the profit record of an order, if any.
func (m *Orders) Profit(orderID uuid.UUID) (orders.Profit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profits[orderID]
	if !ok {
		return orders.Profit{}, false
	}
	return *p, true
}

func (m *Orders) Notify(_ context.Context, n orders.Notification) error {
	if err := m.faults.take("Notify"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Orders) Notifications() []orders.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notifications)
}

// Count returns the number of stored orders.
func (m *Orders) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func clone(o *orders.Order) *orders.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}
