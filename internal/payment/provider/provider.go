// Package provider wraps the external card processor behind three opaque
// operations: authorize, capture and refund.
package provider

import (
	"context"
	"errors"
)

// ErrUnavailable marks any failed provider call.
var ErrUnavailable = errors.New("payment provider unavailable")

type AuthorizeRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

type Provider interface {
	// Authorize places a hold for the amount and returns an authorization token.
	Authorize(ctx context.Context, req AuthorizeRequest) (string, error)
	// Capture settles an authorization and returns a receipt.
	Capture(ctx context.Context, token string, amount int64) (string, error)
	// Refund returns money from a receipt and returns a refund receipt.
	Refund(ctx context.Context, receipt string, amount int64, idempotencyKey string) (string, error)
}
