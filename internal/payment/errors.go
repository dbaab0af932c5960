package payment

import (
	"errors"

	"ms-booking/internal/fees"
	"ms-booking/internal/payment/provider"
	"ms-booking/internal/payment/storage"
)

var (
	ErrNotFound              = storage.ErrNotFound
	ErrRefundExceedsCaptured = fees.ErrRefundExceedsCaptured
	ErrNoAmountToCharge      = fees.ErrNoAmountToCharge
	ErrInvalidRefundMode     = fees.ErrInvalidRefundMode
	ErrProviderUnavailable   = provider.ErrUnavailable

	ErrAlreadyFeeApplied = errors.New("fee already applied")
	ErrNotSettled        = errors.New("payment transaction not settled")
	ErrNotRefundable     = errors.New("payment transaction cannot be refunded")
	ErrNotRetryable      = errors.New("only failed transactions can be retried")
	ErrNotChargeable     = errors.New("booking cannot be charged in its current status")
)
