package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/memstore"
	"github.com/ariefcatur/go-retail-orders/internal/notify"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordedEvent struct {
	topic string
	env   orders.Envelope
}

type fakeEvents struct{ got []recordedEvent }

func (f *fakeEvents) PublishEnvelope(topic string, env orders.Envelope) {
	f.got = append(f.got, recordedEvent{topic: topic, env: env})
}

type fakeCache struct {
	put     map[uuid.UUID]orders.Status
	evicted []uuid.UUID
}

func (c *fakeCache) Put(_ context.Context, o *orders.Order) error {
	c.put[o.ID] = o.Status
	return nil
}

func (c *fakeCache) Evict(_ context.Context, id uuid.UUID) error {
	c.evicted = append(c.evicted, id)
	return nil
}

func sampleOrder() *orders.Order {
	o := &orders.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-20261015-00001",
		Customer:    orders.Customer{Name: "Rina"},
		Status:      orders.StatusPending,
		Subtotal:    decimal.NewFromInt(100000),
		Discount:    decimal.NewFromInt(10000),
		DeliveryFee: decimal.NewFromInt(5000),
		CreatedBy:   uuid.New(),
		CreatedAt:   time.Now().UTC(),
		Items: []orders.OrderItem{{
			ProductID: uuid.New(), VariantID: uuid.New(), Quantity: 2,
			UnitPrice: decimal.NewFromInt(50000), CostPrice: decimal.NewFromInt(30000),
		}},
	}
	o.Recalculate()
	return o
}

func newDispatcher(store *memstore.Orders) (*notify.Dispatcher, *observer.ObservedLogs, *fakeEvents, *fakeCache) {
	core, logs := observer.New(zap.WarnLevel)
	ev := &fakeEvents{}
	cache := &fakeCache{put: map[uuid.UUID]orders.Status{}}
	d := notify.NewDispatcher(store, store, decimal.RequireFromString("0.1"), zap.New(core),
		notify.WithStatusCache(cache),
		notify.WithEvents(ev, "order-api"))
	return d, logs, ev, cache
}

func TestOrderCreatedWritesProfitAndBroadcast(t *testing.T) {
	store := memstore.NewOrders()
	d, logs, ev, cache := newDispatcher(store)
	o := sampleOrder()

	d.OrderCreated(context.Background(), o)

	p, ok := store.Profit(o.ID)
	require.True(t, ok)
	assert.Equal(t, orders.ProfitPending, p.Status)
	assert.Equal(t, "90000", p.Revenue.String())
	assert.Equal(t, "60000", p.Cost.String())
	assert.Equal(t, "30000", p.Profit.String())
	assert.Equal(t, "3000", p.EmployeeProfit.String())

	ns := store.Notifications()
	require.Len(t, ns, 1)
	assert.Equal(t, orders.NotificationNewOrder, ns[0].Type)
	assert.Nil(t, ns[0].RecipientID, "new order notice is a broadcast")

	require.Len(t, ev.got, 1)
	assert.Equal(t, orders.TopicOrderCreated, ev.got[0].topic)
	assert.Equal(t, o.ID.String(), ev.got[0].env.CorrelationID)
	assert.Equal(t, orders.StatusPending, cache.put[o.ID])
	assert.Zero(t, logs.Len())
}

func TestStatusChangedProfitEffects(t *testing.T) {
	store := memstore.NewOrders()
	d, _, _, _ := newDispatcher(store)
	o := sampleOrder()
	d.OrderCreated(context.Background(), o)

	o.Status = orders.StatusShipped
	d.StatusChanged(context.Background(), o, orders.StatusPending)
	p, ok := store.Profit(o.ID)
	require.True(t, ok)
	assert.Equal(t, orders.ProfitPendingReceipt, p.Status)

	ns := store.Notifications()
	last := ns[len(ns)-1]
	assert.Equal(t, orders.NotificationStatusChanged, last.Type)
	require.NotNil(t, last.RecipientID)
	assert.Equal(t, o.CreatedBy, *last.RecipientID)

	o.Status = orders.StatusCancelled
	d.StatusChanged(context.Background(), o, orders.StatusShipped)
	_, ok = store.Profit(o.ID)
	assert.False(t, ok, "cancel deletes the profit record")
}

func TestSideEffectFailuresAreLoggedNotReturned(t *testing.T) {
	store := memstore.NewOrders()
	d, logs, _, _ := newDispatcher(store)
	o := sampleOrder()
	store.FailOn("InsertProfit", errors.New("db down"))
	store.FailOn("Notify", errors.New("sink down"))

	assert.NotPanics(t, func() { d.OrderCreated(context.Background(), o) })

	entries := logs.FilterMessage("side effect failed").All()
	require.Len(t, entries, 2)
	effects := []string{entries[0].ContextMap()["effect"].(string), entries[1].ContextMap()["effect"].(string)}
	assert.ElementsMatch(t, []string{"profit_record", "notification"}, effects)
	assert.Equal(t, o.ID.String(), entries[0].ContextMap()["order_id"])
}

func TestReceiptSettlesProfit(t *testing.T) {
	store := memstore.NewOrders()
	d, _, _, _ := newDispatcher(store)
	o := sampleOrder()
	d.OrderCreated(context.Background(), o)

	o.Status = orders.StatusDelivered
	o.ReceiptReceived = true
	d.ReceiptReceived(context.Background(), o)

	p, _ := store.Profit(o.ID)
	assert.Equal(t, orders.ProfitSettled, p.Status)
}

func TestOrdersDeletedEvictsAndNotifies(t *testing.T) {
	store := memstore.NewOrders()
	d, _, _, cache := newDispatcher(store)
	a, b := sampleOrder(), sampleOrder()
	d.OrderCreated(context.Background(), a)

	d.OrdersDeleted(context.Background(), []*orders.Order{a, b})

	_, ok := store.Profit(a.ID)
	assert.False(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, cache.evicted)
	ns := store.Notifications()
	assert.Equal(t, "Orders deleted", ns[len(ns)-1].Title)
}

func TestReconciliationNotice(t *testing.T) {
	store := memstore.NewOrders()
	d, _, _, _ := newDispatcher(store)
	o := sampleOrder()
	o.Status = orders.StatusDelivered

	d.ReconciliationNeeded(context.Background(), o, []inventory.ItemFailure{{
		Line: inventory.Line{ProductID: o.Items[0].ProductID, VariantID: o.Items[0].VariantID, Quantity: 2},
		Err:  inventory.ErrOnHandShort,
	}})

	ns := store.Notifications()
	require.Len(t, ns, 1)
	assert.Equal(t, orders.NotificationReconciliation, ns[0].Type)
	assert.Len(t, ns[0].Metadata["items"], 1)
}
