package orders_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

type lifecycleContext struct {
	h        *harness
	engine   *inventory.Engine
	variants map[string]inventory.Line
	order    *orders.Order
	snapshot *orders.Order
	err      error
}

func (c *lifecycleContext) reset() {
	c.h = newHarness(config.FinalizeFlag)
	c.h.perms.admin = true
	c.engine = inventory.NewEngine(c.h.stock, nil)
	c.variants = map[string]inventory.Line{}
	c.order = nil
	c.snapshot = nil
	c.err = nil
}

func (c *lifecycleContext) variantHasOnHandAndReserved(name string, onHand, reserved int) error {
	l, ok := c.variants[name]
	if !ok {
		l = inventory.Line{ProductID: uuid.New(), VariantID: uuid.New()}
		c.variants[name] = l
	}
	c.h.stock.Put(l.ProductID, l.VariantID, onHand, reserved)
	return nil
}

func (c *lifecycleContext) variantHasAvailable(name string, available int) error {
	return c.variantHasOnHandAndReserved(name, available, 0)
}

func (c *lifecycleContext) line(name string, qty int) (inventory.Line, error) {
	l, ok := c.variants[name]
	if !ok {
		return l, fmt.Errorf("unknown variant %q", name)
	}
	l.Quantity = qty
	return l, nil
}

func (c *lifecycleContext) stockCall(fn func(context.Context, inventory.Line) error) func(int, string) error {
	return func(qty int, name string) error {
		l, err := c.line(name, qty)
		if err != nil {
			return err
		}
		c.err = fn(context.Background(), l)
		return nil
	}
}

func (c *lifecycleContext) theStockCallFails() error {
	if c.err == nil {
		return errors.New("expected stock call to fail")
	}
	return nil
}

func (c *lifecycleContext) variantShouldHave(name string, onHand, reserved int) error {
	l, err := c.line(name, 0)
	if err != nil {
		return err
	}
	lv := c.h.level(l)
	if lv.OnHand != onHand || lv.Reserved != reserved {
		return fmt.Errorf("expected %s on_hand=%d reserved=%d, got on_hand=%d reserved=%d",
			name, onHand, reserved, lv.OnHand, lv.Reserved)
	}
	return nil
}

func (c *lifecycleContext) create(in orders.CreateOrderInput) {
	c.order, c.err = c.h.svc.CreateOrder(context.Background(), in)
}

func (c *lifecycleContext) createLocalOrderWithLines(table *godog.Table) error {
	var lines []inventory.Line
	for _, row := range table.Rows[1:] {
		qty, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		l, err := c.line(row.Cells[0].Value, qty)
		if err != nil {
			return err
		}
		lines = append(lines, l)
	}
	c.create(orders.CreateOrderInput{Items: cart(lines...)})
	return nil
}

func (c *lifecycleContext) creationFailsWithInsufficientStock(name string) error {
	var ise *orders.InsufficientStockError
	if !errors.As(c.err, &ise) {
		return fmt.Errorf("expected InsufficientStockError, got %v", c.err)
	}
	if want := c.variants[name].VariantID; ise.VariantID != want {
		return fmt.Errorf("expected failing variant %s, got %s", name, ise.VariantID)
	}
	return nil
}

func (c *lifecycleContext) creationFailsWithValidationError() error {
	var ve *orders.ValidationError
	if !errors.As(c.err, &ve) {
		return fmt.Errorf("expected ValidationError, got %v", c.err)
	}
	return nil
}

func (c *lifecycleContext) noOrderExists() error {
	if n := c.h.store.Count(); n != 0 {
		return fmt.Errorf("expected no orders, found %d", n)
	}
	return nil
}

func (c *lifecycleContext) aPendingOrderFor(qty int, name string) error {
	l, err := c.line(name, qty)
	if err != nil {
		return err
	}
	c.create(orders.CreateOrderInput{Items: cart(l), CreatedBy: uuid.New()})
	return c.err
}

func (c *lifecycleContext) theOrderMovesTo(status string) error {
	s, err := orders.ParseStatus(status)
	if err != nil {
		return err
	}
	if _, err := c.h.svc.UpdateStatus(context.Background(), c.order.ID, s); err != nil {
		return err
	}
	c.snapshot, err = c.h.svc.GetOrder(context.Background(), c.order.ID)
	return err
}

func (c *lifecycleContext) iEditTheOrderNotes() error {
	notes := "changed"
	_, c.err = c.h.svc.UpdateOrder(context.Background(), c.order.ID, orders.UpdateOrderInput{Notes: &notes})
	return nil
}

func (c *lifecycleContext) iDeleteTheOrder() error {
	c.err = c.h.svc.DeleteOrders(context.Background(), []uuid.UUID{c.order.ID})
	return nil
}

func (c *lifecycleContext) failsWithInvalidTransition() error {
	var te *orders.InvalidStateTransitionError
	if !errors.As(c.err, &te) {
		return fmt.Errorf("expected InvalidStateTransitionError, got %v", c.err)
	}
	return nil
}

func (c *lifecycleContext) failsAsNotDeletable() error {
	var nd *orders.NotDeletableError
	if !errors.As(c.err, &nd) {
		return fmt.Errorf("expected NotDeletableError, got %v", c.err)
	}
	return nil
}

func (c *lifecycleContext) theOrderIsUnchanged() error {
	got, err := c.h.svc.GetOrder(context.Background(), c.order.ID)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got, c.snapshot) {
		return fmt.Errorf("order changed: %+v", got)
	}
	return nil
}

func (c *lifecycleContext) theOrderIsArchived() error {
	got, err := c.h.svc.GetOrder(context.Background(), c.order.ID)
	if err != nil {
		return err
	}
	if !got.IsArchived {
		return errors.New("expected order to be archived")
	}
	return nil
}

func (c *lifecycleContext) createLocalOrderWithoutTracking(qty int, name string) error {
	l, err := c.line(name, qty)
	if err != nil {
		return err
	}
	c.create(orders.CreateOrderInput{Items: cart(l)})
	return nil
}

func (c *lifecycleContext) createPartnerOrderWithoutTracking(partner string, qty int, name string) error {
	l, err := c.line(name, qty)
	if err != nil {
		return err
	}
	c.create(orders.CreateOrderInput{Items: cart(l), DeliveryPartner: partner})
	return nil
}

func (c *lifecycleContext) trackingNumberStartsWith(prefix string) error {
	if c.err != nil {
		return fmt.Errorf("expected order, got error: %v", c.err)
	}
	if !strings.HasPrefix(c.order.TrackingNumber, prefix) {
		return fmt.Errorf("expected tracking number with prefix %q, got %q", prefix, c.order.TrackingNumber)
	}
	return nil
}

func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	tc := &lifecycleContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^variant "([^"]*)" has (\d+) on hand and (\d+) reserved$`, tc.variantHasOnHandAndReserved)
	ctx.Step(`^variant "([^"]*)" has available stock (\d+)$`, tc.variantHasAvailable)
	ctx.Step(`^a pending order for (\d+) of "([^"]*)"$`, tc.aPendingOrderFor)
	ctx.Step(`^the order moves to "([^"]*)"$`, tc.theOrderMovesTo)

	// When steps
	ctx.Step(`^I reserve (\d+) of "([^"]*)"$`, tc.stockCall(tc.engineReserve))
	ctx.Step(`^I release (\d+) of "([^"]*)"$`, tc.stockCall(tc.engineRelease))
	ctx.Step(`^I finalize (\d+) of "([^"]*)"$`, tc.stockCall(tc.engineFinalize))
	ctx.Step(`^I create a local order with lines:$`, tc.createLocalOrderWithLines)
	ctx.Step(`^I create a local order for (\d+) of "([^"]*)" without a tracking number$`, tc.createLocalOrderWithoutTracking)
	ctx.Step(`^I create a partner order via "([^"]*)" for (\d+) of "([^"]*)" without a tracking number$`, tc.createPartnerOrderWithoutTracking)
	ctx.Step(`^I edit the order notes$`, tc.iEditTheOrderNotes)
	ctx.Step(`^I delete the order$`, tc.iDeleteTheOrder)

	// Then steps
	ctx.Step(`^"([^"]*)" has (\d+) on hand and (\d+) reserved$`, tc.variantShouldHave)
	ctx.Step(`^the stock call fails$`, tc.theStockCallFails)
	ctx.Step(`^order creation fails with insufficient stock for "([^"]*)"$`, tc.creationFailsWithInsufficientStock)
	ctx.Step(`^order creation fails with a validation error$`, tc.creationFailsWithValidationError)
	ctx.Step(`^no order exists$`, tc.noOrderExists)
	ctx.Step(`^the operation fails with an invalid state transition$`, tc.failsWithInvalidTransition)
	ctx.Step(`^the operation fails as not deletable$`, tc.failsAsNotDeletable)
	ctx.Step(`^the order is unchanged$`, tc.theOrderIsUnchanged)
	ctx.Step(`^the order is archived$`, tc.theOrderIsArchived)
	ctx.Step(`^the order has a tracking number starting with "([^"]*)"$`, tc.trackingNumberStartsWith)
}

// The engine is rebuilt per scenario, so steps bind through these methods.
func (c *lifecycleContext) engineReserve(ctx context.Context, l inventory.Line) error {
	return c.engine.Reserve(ctx, l)
}

func (c *lifecycleContext) engineRelease(ctx context.Context, l inventory.Line) error {
	return c.engine.Release(ctx, l)
}

func (c *lifecycleContext) engineFinalize(ctx context.Context, l inventory.Line) error {
	return c.engine.Finalize(ctx, l)
}

func TestLifecycleFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/order_lifecycle.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
