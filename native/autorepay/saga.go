package autorepay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// saga records compensations for external steps that already succeeded.
type saga struct {
	logger *slog.Logger
	steps  []compensation
}

func (s *saga) onRollback(name string, fn func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, fn: fn})
}

// rollback runs compensations newest first and returns cause, joined with
// ErrCompensationFailed when any step fails. Every step is attempted.
func (s *saga) rollback(ctx context.Context, cause error) error {
	var failures []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("compensation failed", slog.String("step", step.name), slog.Any("error", err))
			failures = append(failures, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	s.steps = nil
	if len(failures) == 0 {
		return cause
	}
	return errors.Join(cause, fmt.Errorf("%w: %w", ErrCompensationFailed, errors.Join(failures...)))
}
