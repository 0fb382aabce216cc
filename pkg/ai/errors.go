package ai

import (
	"errors"
	"fmt"
)

// ErrGradingFailed matches every failure raised by a grader call.
var ErrGradingFailed = errors.New("grading failed")

// GradingError describes a failed grading call.
type GradingError struct {
	Op       string
	Provider string
	Err      error
}

func (e *GradingError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GradingError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrGradingFailed) match any grading error.
func (e *GradingError) Is(target error) bool {
	return target == ErrGradingFailed
}

func gradingError(provider, op string, err error) error {
	var existing *GradingError
	if errors.As(err, &existing) {
		return err
	}
	return &GradingError{Op: op, Provider: provider, Err: err}
}
