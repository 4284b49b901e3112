package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/metrics"
	"github.com/ariefcatur/go-retail-orders/internal/saga"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settings are the business knobs the service reads from configuration.
type Settings struct {
	LocalPartner     string
	LocalDeliveryFee decimal.Decimal
	TrackingPrefix   string
	FinalizePolicy   config.FinalizePolicy
}

func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		LocalPartner:     cfg.LocalPartner,
		LocalDeliveryFee: cfg.LocalDeliveryFee,
		TrackingPrefix:   cfg.TrackingPrefix,
		FinalizePolicy:   cfg.FinalizePolicy,
	}
}

type Option func(*Service)

// WithIdempotency enables de-duplication of CreateOrder by IdempotencyKey.
func WithIdempotency(s IdempotencyStore) Option {
	return func(svc *Service) { svc.idem = s }
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// Service is the order state machine. It owns every status write and the
// stock effect tied to it.
type Service struct {
	store    Store
	stock    *inventory.Engine
	effects  SideEffects
	perms    PermissionOracle
	idem     IdempotencyStore
	settings Settings
	now      func() time.Time
	log      *zap.Logger
}

func NewService(store Store, stock *inventory.Engine, effects SideEffects, perms PermissionOracle, settings Settings, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if perms == nil {
		perms = denyAll{}
	}
	if effects == nil {
		effects = noEffects{}
	}
	s := &Service{
		store:    store,
		stock:    stock,
		effects:  effects,
		perms:    perms,
		settings: settings,
		now:      time.Now,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateOrderInput struct {
	Customer        Customer        `json:"customer"`
	Items           []CartLine      `json:"items"`
	Discount        decimal.Decimal `json:"discount"`
	DeliveryPartner string          `json:"delivery_partner"`
	TrackingNumber  string          `json:"tracking_number"`
	// PartnerDeliveryFee is used only for partner orders.
	PartnerDeliveryFee decimal.Decimal `json:"partner_delivery_fee"`
	Notes              string          `json:"notes"`
	CreatedBy          uuid.UUID       `json:"-"`
	// Status is accepted for compatibility and ignored: new orders are
	// always pending.
	Status         Status `json:"status,omitempty"`
	IdempotencyKey string `json:"-"`
}

// CreateOrder reserves stock for every cart line and persists the order.
// Nothing is persisted and no stock stays reserved when it fails.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (o *Order, err error) {
	defer func() { metrics.RecordOrderOperation("create", err == nil) }()

	o, err = s.buildOrder(in)
	if err != nil {
		return nil, err
	}

	if s.idem != nil && in.IdempotencyKey != "" {
		prior, claimed, claimErr := s.idem.Claim(ctx, in.IdempotencyKey)
		if claimErr != nil {
			return nil, fmt.Errorf("claim idempotency key: %w", claimErr)
		}
		if !claimed {
			if prior == uuid.Nil {
				return nil, ErrRequestInFlight
			}
			return s.store.GetOrder(ctx, prior)
		}
		defer func() {
			bg := context.WithoutCancel(ctx)
			if err != nil {
				if aerr := s.idem.Abandon(bg, in.IdempotencyKey); aerr != nil {
					s.log.Warn("abandon idempotency key", zap.String("key", in.IdempotencyKey), zap.Error(aerr))
				}
				return
			}
			if cerr := s.idem.Complete(bg, in.IdempotencyKey, o.ID); cerr != nil {
				s.log.Warn("complete idempotency key", zap.String("key", in.IdempotencyKey), zap.Error(cerr))
			}
		}()
	}

	num, err := s.store.NextOrderNumber(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "generate order number", Err: err}
	}
	o.OrderNumber = num

	lines := o.Lines()
	tx := saga.New(s.log.With(zap.Stringer("order_id", o.ID)))
	tx.Add("reserve stock",
		func(ctx context.Context) error { return s.stock.ReserveAll(ctx, lines) },
		func(ctx context.Context) error { return failuresErr(s.stock.ReleaseAll(ctx, lines)) },
	)
	tx.Add("insert order",
		func(ctx context.Context) error { return s.store.InsertOrder(ctx, o) },
		func(ctx context.Context) error { return s.store.DeleteOrder(ctx, o.ID) },
	)
	tx.Add("insert order items",
		func(ctx context.Context) error { return s.store.InsertItems(ctx, o.ID, o.Items) },
		nil,
	)
	if runErr := tx.Run(ctx); runErr != nil {
		var se *saga.StepError
		if errors.As(runErr, &se) && se.Step == "reserve stock" {
			if len(se.UndoErrs) == 0 {
				return nil, se.Err
			}
			return nil, runErr
		}
		s.log.Error("create order failed after reserving stock", zap.Stringer("order_id", o.ID), zap.Error(runErr))
		op := "create order"
		if se != nil {
			op = se.Step
		}
		return nil, &PersistenceError{Op: op, Err: runErr}
	}

	if o.Discount.IsPositive() {
		d := Discount{ID: uuid.New(), OrderID: o.ID, Amount: o.Discount, AppliedBy: o.CreatedBy, CreatedAt: o.CreatedAt}
		if derr := s.store.InsertDiscount(ctx, d); derr != nil {
			s.sideEffectFailed(&SideEffectFailure{Effect: "discount_record", OrderID: o.ID, Err: derr})
		}
	}

	s.effects.OrderCreated(ctx, o)
	s.log.Info("order created",
		zap.Stringer("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.Int("items", len(o.Items)))
	return o, nil
}

func (s *Service) buildOrder(in CreateOrderInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	if in.Discount.IsNegative() {
		return nil, &ValidationError{Field: "discount", Reason: "must not be negative"}
	}

	now := s.now().UTC()
	o := &Order{
		ID:              uuid.New(),
		Customer:        in.Customer,
		Status:          StatusPending,
		DeliveryPartner: in.DeliveryPartner,
		TrackingNumber:  in.TrackingNumber,
		Discount:        in.Discount,
		CreatedBy:       in.CreatedBy,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if o.IsLocal(s.settings.LocalPartner) {
		if o.TrackingNumber == "" {
			o.TrackingNumber = s.trackingNumber(now)
		}
		o.DeliveryFee = s.settings.LocalDeliveryFee
	} else {
		if o.TrackingNumber == "" {
			return nil, &ValidationError{Field: "tracking_number", Reason: "required for partner deliveries"}
		}
		if in.PartnerDeliveryFee.IsNegative() {
			return nil, &ValidationError{Field: "partner_delivery_fee", Reason: "must not be negative"}
		}
		o.DeliveryFee = in.PartnerDeliveryFee
	}

	for i, cl := range in.Items {
		if cl.Quantity <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if cl.UnitPrice.IsNegative() || cl.CostPrice.IsNegative() {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: "prices must not be negative"}
		}
		total := cl.UnitPrice.Mul(decimal.NewFromInt(int64(cl.Quantity)))
		o.Items = append(o.Items, OrderItem{
			ID:        uuid.New(),
			OrderID:   o.ID,
			ProductID: cl.ProductID,
			VariantID: cl.VariantID,
			Quantity:  cl.Quantity,
			UnitPrice: cl.UnitPrice,
			CostPrice: cl.CostPrice,
			LineTotal: total,
		})
		o.Subtotal = o.Subtotal.Add(total)
	}
	o.Recalculate()
	if o.FinalAmount.IsNegative() {
		return nil, &ValidationError{Field: "discount", Reason: "exceeds order total"}
	}
	return o, nil
}

// trackingNumber is the prefix followed by the last 8 digits of the unix
// millisecond timestamp.
func (s *Service) trackingNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	return s.settings.TrackingPrefix + ms
}

// UpdateStatus moves an order to status to and applies the stock effect of
// entering it. Setting the current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (o *Order, err error) {
	defer func() { metrics.RecordOrderOperation("update_status", err == nil) }()

	eff, ok := EffectsOf(to)
	if !ok {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	o, err = s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if from == to {
		return o, nil
	}
	if !CanTransition(from, to) {
		return nil, &InvalidStateTransitionError{OrderID: id, Op: "update status", From: from, To: to}
	}

	if err := s.store.TransitionStatus(ctx, id, from, to, eff.Archive); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		return nil, &PersistenceError{Op: "update status", Err: err}
	}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	if eff.Archive {
		o.IsArchived = true
	}

	var failed []inventory.ItemFailure
	switch eff.Stock {
	case StockFinalize:
		failed = s.stock.FinalizeAll(ctx, o.Lines())
	case StockRelease:
		failed = s.stock.ReleaseAll(ctx, o.Lines())
	case StockNone:
	}
	if len(failed) > 0 {
		s.stockDiverged(ctx, o, failed, true)
	}

	s.effects.StatusChanged(ctx, o, from)
	s.log.Info("order status changed",
		zap.Stringer("order_id", id),
		zap.String("from", string(from)),
		zap.String("status", string(to)))
	return o, nil
}

// stockDiverged handles items whose release or finalize failed after the
// status write. The status stays; under FinalizeFlag the order is marked
// for reconciliation.
func (s *Service) stockDiverged(ctx context.Context, o *Order, failed []inventory.ItemFailure, persisted bool) {
	s.log.Error("stock diverged from order status",
		zap.Stringer("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.Int("failed_items", len(failed)))
	if s.settings.FinalizePolicy != config.FinalizeFlag {
		return
	}
	if persisted {
		if err := s.store.SetReconciliation(ctx, o.ID, true); err != nil {
			s.sideEffectFailed(&SideEffectFailure{Effect: "reconciliation_flag", OrderID: o.ID, Err: err})
		} else {
			o.NeedsReconciliation = true
		}
	}
	s.effects.ReconciliationNeeded(ctx, o, failed)
}

type UpdateOrderInput struct {
	Customer       *Customer        `json:"customer,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	TrackingNumber *string          `json:"tracking_number,omitempty"`
	Discount       *decimal.Decimal `json:"discount,omitempty"`
	DeliveryFee    *decimal.Decimal `json:"delivery_fee,omitempty"`
}

// UpdateOrder edits the non-item fields of a pending order.
func (s *Service) UpdateOrder(ctx context.Context, id uuid.UUID, in UpdateOrderInput) (o *Order, err error) {
	defer func() { metrics.RecordOrderOperation("update", err == nil) }()

	if err := s.authorize(ctx, PermEditOrders); err != nil {
		return nil, err
	}
	o, err = s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, &InvalidStateTransitionError{OrderID: id, Op: "edit", From: o.Status}
	}

	next := *o
	if in.Customer != nil {
		next.Customer = *in.Customer
	}
	if in.Notes != nil {
		next.Notes = *in.Notes
	}
	if in.TrackingNumber != nil {
		if *in.TrackingNumber == "" && !next.IsLocal(s.settings.LocalPartner) {
			return nil, &ValidationError{Field: "tracking_number", Reason: "required for partner deliveries"}
		}
		next.TrackingNumber = *in.TrackingNumber
	}
	if in.Discount != nil {
		if in.Discount.IsNegative() {
			return nil, &ValidationError{Field: "discount", Reason: "must not be negative"}
		}
		next.Discount = *in.Discount
	}
	if in.DeliveryFee != nil {
		if in.DeliveryFee.IsNegative() {
			return nil, &ValidationError{Field: "delivery_fee", Reason: "must not be negative"}
		}
		next.DeliveryFee = *in.DeliveryFee
	}
	next.Recalculate()
	if next.FinalAmount.IsNegative() {
		return nil, &ValidationError{Field: "discount", Reason: "exceeds order total"}
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateOrderFields(ctx, &next); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, &InvalidStateTransitionError{OrderID: id, Op: "edit", From: StatusPending}
		}
		return nil, &PersistenceError{Op: "update order", Err: err}
	}

	if in.Discount != nil && next.Discount.IsPositive() && !next.Discount.Equal(o.Discount) {
		d := Discount{ID: uuid.New(), OrderID: id, Amount: next.Discount, AppliedBy: principalOr(ctx, o.CreatedBy), CreatedAt: next.UpdatedAt}
		if derr := s.store.InsertDiscount(ctx, d); derr != nil {
			s.sideEffectFailed(&SideEffectFailure{Effect: "discount_record", OrderID: id, Err: derr})
		}
	}
	return &next, nil
}

// DeleteOrders removes pending orders and releases their stock. If any order
// is not pending nothing is deleted.
func (s *Service) DeleteOrders(ctx context.Context, ids []uuid.UUID) (err error) {
	defer func() { metrics.RecordOrderOperation("delete", err == nil) }()

	if err := s.authorize(ctx, PermDeleteOrders); err != nil {
		return err
	}
	if len(ids) == 0 {
		return &ValidationError{Field: "ids", Reason: "at least one order id is required"}
	}

	targets := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.store.GetOrder(ctx, id)
		if err != nil {
			return fmt.Errorf("order %s: %w", id, err)
		}
		if o.Status != StatusPending {
			return &NotDeletableError{OrderID: id, Status: o.Status}
		}
		targets = append(targets, o)
	}

	var (
		errs    []error
		deleted []*Order
	)
	for _, o := range targets {
		// Delete before releasing: a stale release on a row that is no
		// longer pending would free stock twice.
		if err := s.store.DeleteOrder(ctx, o.ID); err != nil {
			if errors.Is(err, ErrStatusChanged) {
				errs = append(errs, &NotDeletableError{OrderID: o.ID, Status: "changed"})
				continue
			}
			errs = append(errs, &PersistenceError{Op: "delete order " + o.ID.String(), Err: err})
			continue
		}
		if failed := s.stock.ReleaseAll(ctx, o.Lines()); len(failed) > 0 {
			s.stockDiverged(ctx, o, failed, false)
		}
		deleted = append(deleted, o)
	}
	if len(deleted) > 0 {
		s.effects.OrdersDeleted(ctx, deleted)
	}
	return errors.Join(errs...)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}
	return s.store.ListOrders(ctx, f)
}

// MarkReceiptReceived records that payment for a delivered order arrived
// and settles its profit.
func (s *Service) MarkReceiptReceived(ctx context.Context, id uuid.UUID) (o *Order, err error) {
	defer func() { metrics.RecordOrderOperation("receipt", err == nil) }()

	o, err = s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDelivered && o.Status != StatusCompleted {
		return nil, &InvalidStateTransitionError{OrderID: id, Op: "mark receipt received", From: o.Status}
	}
	if o.ReceiptReceived {
		return o, nil
	}
	if err := s.store.SetReceiptReceived(ctx, id); err != nil {
		return nil, &PersistenceError{Op: "mark receipt received", Err: err}
	}
	o.ReceiptReceived = true
	s.effects.ReceiptReceived(ctx, o)
	return o, nil
}

// SetArchived archives or unarchives an order in a terminal status.
func (s *Service) SetArchived(ctx context.Context, id uuid.UUID, archived bool) (o *Order, err error) {
	defer func() { metrics.RecordOrderOperation("archive", err == nil) }()

	o, err = s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.IsTerminal() {
		return nil, &InvalidStateTransitionError{OrderID: id, Op: "archive", From: o.Status}
	}
	if o.IsArchived == archived {
		return o, nil
	}
	if err := s.store.SetArchived(ctx, id, archived); err != nil {
		return nil, &PersistenceError{Op: "set archived", Err: err}
	}
	o.IsArchived = archived
	return o, nil
}

func (s *Service) authorize(ctx context.Context, perm string) error {
	if s.perms.HasPermission(ctx, perm) || s.perms.HasRole(ctx, RoleAdmin) {
		return nil
	}
	return &ForbiddenError{Permission: perm}
}

func (s *Service) sideEffectFailed(f *SideEffectFailure) {
	metrics.RecordSideEffectFailure(f.Effect)
	s.log.Warn("side effect failed",
		zap.String("effect", f.Effect),
		zap.Stringer("order_id", f.OrderID),
		zap.Error(f.Err))
}

func failuresErr(failed []inventory.ItemFailure) error {
	errs := make([]error, 0, len(failed))
	for _, f := range failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Line, f.Err))
	}
	return errors.Join(errs...)
}

type denyAll struct{}

func (denyAll) HasPermission(context.Context, string) bool { return false }
func (denyAll) HasRole(context.Context, string) bool       { return false }

type noEffects struct{}

func (noEffects) OrderCreated(context.Context, *Order)                                   {}
func (noEffects) StatusChanged(context.Context, *Order, Status)                          {}
func (noEffects) OrdersDeleted(context.Context, []*Order)                                {}
func (noEffects) ReceiptReceived(context.Context, *Order)                                {}
func (noEffects) ReconciliationNeeded(context.Context, *Order, []inventory.ItemFailure) {}
