package inventory

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-retail-orders/internal/metrics"
	"github.com/ariefcatur/go-retail-orders/internal/saga"
	"go.uber.org/zap"
)

// ItemFailure is a per-line failure from a bulk release or finalize.
type ItemFailure struct {
	Line Line
	Err  error
}

// Engine sequences per-item stock calls against a StockStore. Bulk reserve
// is all-or-nothing via compensation; bulk release and finalize are
// best-effort and report the lines that failed.
type Engine struct {
	store StockStore
	log   *zap.Logger
}

func NewEngine(store StockStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, log: log}
}

func (e *Engine) Reserve(ctx context.Context, l Line) error {
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	err := e.store.Reserve(ctx, l)
	metrics.RecordStockOperation("reserve", err == nil)
	return err
}

func (e *Engine) Release(ctx context.Context, l Line) error {
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	err := e.store.Release(ctx, l)
	metrics.RecordStockOperation("release", err == nil)
	return err
}

func (e *Engine) Finalize(ctx context.Context, l Line) error {
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	err := e.store.Finalize(ctx, l)
	metrics.RecordStockOperation("finalize", err == nil)
	return err
}

// ReserveAll reserves every line in order. When line k fails, lines 1..k-1
// are released before the error is returned.
func (e *Engine) ReserveAll(ctx context.Context, lines []Line) error {
	s := saga.New(e.log)
	for _, l := range lines {
		s.Add("reserve "+l.String(),
			func(ctx context.Context) error { return e.Reserve(ctx, l) },
			func(ctx context.Context) error { return e.Release(ctx, l) },
		)
	}
	err := s.Run(ctx)
	if err == nil {
		return nil
	}
	var se *saga.StepError
	if errors.As(err, &se) && len(se.UndoErrs) == 0 {
		return se.Err
	}
	return err
}

// ReleaseAll releases every line, continuing past failures.
func (e *Engine) ReleaseAll(ctx context.Context, lines []Line) []ItemFailure {
	return e.each(ctx, "release", lines, e.Release)
}

// FinalizeAll finalizes every line, continuing past failures. Lines that
// were finalized are not rolled back when a later line fails.
func (e *Engine) FinalizeAll(ctx context.Context, lines []Line) []ItemFailure {
	return e.each(ctx, "finalize", lines, e.Finalize)
}

func (e *Engine) each(ctx context.Context, op string, lines []Line, fn func(context.Context, Line) error) []ItemFailure {
	var failed []ItemFailure
	for _, l := range lines {
		if err := fn(ctx, l); err != nil {
			e.log.Error("stock "+op+" failed",
				zap.Stringer("product_id", l.ProductID),
				zap.Stringer("variant_id", l.VariantID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
			failed = append(failed, ItemFailure{Line: l, Err: err})
		}
	}
	return failed
}

// Level returns the current counters for a variant.
func (e *Engine) Level(ctx context.Context, l Line) (StockLevel, error) {
	return e.store.Level(ctx, l.ProductID, l.VariantID)
}
