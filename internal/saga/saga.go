// Package saga runs an ordered list of forward actions, undoing the
// completed ones in reverse order when a later action fails.
package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Action func(ctx context.Context) error

type step struct {
	name string
	do   Action
	undo Action
}

type Saga struct {
	steps []step
	log   *zap.Logger
}

func New(log *zap.Logger) *Saga {
	if log == nil {
		log = zap.NewNop()
	}
	return &Saga{log: log}
}

// Add appends a step. undo may be nil for steps with nothing to revert.
func (s *Saga) Add(name string, do, undo Action) *Saga {
	s.steps = append(s.steps, step{name: name, do: do, undo: undo})
	return s
}

// StepError reports the step that failed and any compensation that could
// not be applied. It unwraps to the step's own error.
type StepError struct {
	Step     string
	Err      error
	UndoErrs []error
}

func (e *StepError) Error() string {
	if len(e.UndoErrs) == 0 {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v (compensation failed: %v)", e.Step, e.Err, errors.Join(e.UndoErrs...))
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes the steps in order. Compensation runs detached from ctx
// cancellation so a cancelled request still gets rolled back.
func (s *Saga) Run(ctx context.Context) error {
	for i, st := range s.steps {
		if err := st.do(ctx); err != nil {
			se := &StepError{Step: st.name, Err: err}
			se.UndoErrs = s.compensate(context.WithoutCancel(ctx), i-1)
			return se
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, from int) []error {
	var errs []error
	for i := from; i >= 0; i-- {
		st := s.steps[i]
		if st.undo == nil {
			continue
		}
		if err := st.undo(ctx); err != nil {
			s.log.Error("compensation failed", zap.String("step", st.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("undo %s: %w", st.name, err))
		}
	}
	return errs
}
