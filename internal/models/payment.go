package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type FeeType string

const (
	FeeBookingCharge       FeeType = "booking_charge"
	FeeNoShow              FeeType = "no_show_fee"
	FeeCancellation        FeeType = "cancellation_fee"
	FeeRefund              FeeType = "refund"
	FeeRefundFeeAdjustment FeeType = "refund_fee_adjustment"
	FeeApplication         FeeType = "application_fee"
)

type RefundMode string

const (
	RefundFull          RefundMode = "full"
	RefundNoShowFeeOnly RefundMode = "no_show_fee_only"
	RefundPartial       RefundMode = "partial"
)

func (m RefundMode) Valid() bool {
	switch m {
	case RefundFull, RefundNoShowFeeOnly, RefundPartial:
		return true
	}
	return false
}

// PaymentTransaction records one money movement tied to a booking. Rows are
// append-only; only Status, ProviderRef, FailureReason and UpdatedAt change.
type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions"`

	ID                   string        `bun:"id,pk" json:"id"`
	TenantID             string        `bun:"tenant_id,notnull" json:"tenant_id"`
	BookingID            string        `bun:"booking_id,notnull" json:"booking_id"`
	Amount               int64         `bun:"amount,notnull" json:"amount"`
	Currency             string        `bun:"currency,notnull" json:"currency"`
	FeeType              FeeType       `bun:"fee_type,notnull" json:"fee_type"`
	Status               PaymentStatus `bun:"status,notnull" json:"status"`
	ProviderRef          string        `bun:"provider_ref,nullzero" json:"provider_ref,omitempty"`
	RelatedTransactionID string        `bun:"related_transaction_id,nullzero" json:"related_transaction_id,omitempty"`
	Reason               string        `bun:"reason,nullzero" json:"reason,omitempty"`
	FailureReason        string        `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	CreatedAt            time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt            time.Time     `bun:"updated_at,notnull" json:"updated_at"`
}

// Counts reports whether the transaction holds or may still hold money.
func (p *PaymentTransaction) Counts() bool {
	return p.Status == PaymentPending || p.Status == PaymentSucceeded
}
