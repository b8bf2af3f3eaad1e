package domain

import (
	"errors"
	"fmt"
)

var (
	ErrExtraction             = errors.New("extraction failed")
	ErrConfiguration          = errors.New("configuration error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAmountImbalance        = errors.New("amount imbalance")

	ErrRunNotFound      = errors.New("pipeline run not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
	ErrConcurrentUpdate = errors.New("concurrent update")
	ErrCancelled        = errors.New("run cancelled")
	ErrInterrupted      = errors.New("processing interrupted")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindOf returns the stable name recorded on a failed run for err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtraction):
		return "ExtractionError"
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, ErrInvalidStateTransition):
		return "InvalidStateTransition"
	case errors.Is(err, ErrAmountImbalance):
		return "AmountImbalanceError"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrInterrupted):
		return "InterruptedError"
	case errors.Is(err, ErrTemporary):
		return "TemporaryError"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	default:
		return "InternalError"
	}
}
