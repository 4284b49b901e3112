package orders_test

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/memstore"
	"github.com/ariefcatur/go-retail-orders/internal/notify"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type perms struct {
	permissions map[string]bool
	admin       bool
}

func (p *perms) HasPermission(_ context.Context, name string) bool { return p.permissions[name] }
func (p *perms) HasRole(_ context.Context, name string) bool       { return p.admin && name == orders.RoleAdmin }

// recordingEffects forwards to a real dispatcher and remembers what it saw.
type recordingEffects struct {
	*notify.Dispatcher
	mu             sync.Mutex
	reconciliation []uuid.UUID
}

func (r *recordingEffects) ReconciliationNeeded(ctx context.Context, o *orders.Order, failed []inventory.ItemFailure) {
	r.mu.Lock()
	r.reconciliation = append(r.reconciliation, o.ID)
	r.mu.Unlock()
	r.Dispatcher.ReconciliationNeeded(ctx, o, failed)
}

type harness struct {
	stock   *memstore.Stock
	store   *memstore.Orders
	idem    *memstore.Idempotency
	perms   *perms
	effects *recordingEffects
	svc     *orders.Service
	now     time.Time
}

func newHarness(policy config.FinalizePolicy) *harness {
	h := &harness{
		stock: memstore.NewStock(),
		store: memstore.NewOrders(),
		idem:  memstore.NewIdempotency(),
		perms: &perms{permissions: map[string]bool{}},
		now:   time.Date(2026, 10, 15, 9, 30, 0, 123_000_000, time.UTC),
	}
	h.effects = &recordingEffects{
		Dispatcher: notify.NewDispatcher(h.store, h.store, decimal.RequireFromString("0.1"), zap.NewNop()),
	}
	settings := orders.Settings{
		LocalPartner:     "local",
		LocalDeliveryFee: decimal.NewFromInt(5000),
		TrackingPrefix:   "LOC-",
		FinalizePolicy:   policy,
	}
	h.svc = orders.NewService(h.store, inventory.NewEngine(h.stock, nil), h.effects, h.perms, settings, nil,
		orders.WithIdempotency(h.idem),
		orders.WithClock(func() time.Time { return h.now }))
	return h
}

// variant registers a variant with the given available stock.
func (h *harness) variant(available int) inventory.Line {
	l := inventory.Line{ProductID: uuid.New(), VariantID: uuid.New()}
	h.stock.Put(l.ProductID, l.VariantID, available, 0)
	return l
}

func (h *harness) level(l inventory.Line) inventory.StockLevel {
	lv, err := h.stock.Level(context.Background(), l.ProductID, l.VariantID)
	if err != nil {
		panic(err)
	}
	return lv
}

func cart(lines ...inventory.Line) []orders.CartLine {
	out := make([]orders.CartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, orders.CartLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: decimal.NewFromInt(25000),
			CostPrice: decimal.NewFromInt(15000),
		})
	}
	return out
}

func withQty(l inventory.Line, q int) inventory.Line {
	l.Quantity = q
	return l
}
