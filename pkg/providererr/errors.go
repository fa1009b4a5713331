package providererr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/status"
)

// ClassifiedError carries an already-classified provider failure across a call
// boundary. Category comes from the code prefix, Code from the registry.
type ClassifiedError struct {
	ProviderCode int
	Code         Code
	Category     Category
	Err          error
}

// NewClassifiedError classifies code and wraps err.
func NewClassifiedError(code int, err error) *ClassifiedError {
	return &ClassifiedError{
		ProviderCode: code,
		Code:         Classify(code),
		Category:     CategoryOf(code),
		Err:          err,
	}
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s %d] %s: %v", e.Category, e.ProviderCode, e.Code.Message, e.Err)
	}
	return fmt.Sprintf("[%s %d] %s", e.Category, e.ProviderCode, e.Code.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable is copied from the registry entry, never derived from Category.
func (e *ClassifiedError) Retryable() bool {
	return e.Code.Retryable
}

// GRPCStatus lets status.FromError and status.Code see the canonical status.
func (e *ClassifiedError) GRPCStatus() *status.Status {
	return status.New(e.Code.Status, e.Error())
}

// IsRetryable reports whether err wraps a ClassifiedError marked retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}
