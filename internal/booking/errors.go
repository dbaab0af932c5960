package booking

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrMissingTimezone     = errors.New("missing timezone")
	ErrOverlapConflict     = errors.New("overlap conflict")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrNotFound            = errors.New("booking not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
