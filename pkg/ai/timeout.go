package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrGradingTimeout is wrapped by failures caused by the grading deadline.
var ErrGradingTimeout = errors.New("grading timed out")

type timeoutGrader struct {
	next    Grader
	timeout time.Duration
}

// WithTimeout bounds every call of the wrapped grader. A non-positive timeout
// returns the grader unchanged.
func WithTimeout(next Grader, timeout time.Duration) Grader {
	if next == nil || timeout <= 0 {
		return next
	}
	return &timeoutGrader{next: next, timeout: timeout}
}

func (g *timeoutGrader) GradeDiscursive(parent context.Context, input DiscursiveInput) (DiscursiveResult, error) {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	result, err := g.next.GradeDiscursive(ctx, input)
	if err != nil {
		return DiscursiveResult{}, g.wrap(ctx, "grade discursive", err)
	}
	return result, nil
}

func (g *timeoutGrader) GradeEssay(parent context.Context, input EssayInput) (EssayResult, error) {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	result, err := g.next.GradeEssay(ctx, input)
	if err != nil {
		return EssayResult{}, g.wrap(ctx, "grade essay", err)
	}
	return result, nil
}

func (g *timeoutGrader) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &GradingError{Op: op, Err: fmt.Errorf("%w after %s: %v", ErrGradingTimeout, g.timeout, err)}
	}
	return gradingError("", op, err)
}
