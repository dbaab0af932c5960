// Package fees holds the pure money arithmetic for no-show fees, cancellation
// fees and refunds. Amounts are integer minor units; rates are basis points.
package fees

import (
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNoAmountToCharge      = errors.New("no amount to charge")
	ErrRefundExceedsCaptured = errors.New("refund exceeds captured amount")
	ErrInvalidRefundMode     = errors.New("invalid refund mode")
)

const bpsDenominator = 10000

// ApplyBps returns round_half_away_from_zero(amount * bps / 10000).
func ApplyBps(amount, bps int64) int64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	d := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Round(0)
	return d.IntPart()
}

// Policy is the effective fee policy after service overrides are applied.
type Policy struct {
	NoShowFeeBps            int64
	CancellationFeeBps      int64
	CancellationFlatFee     int64
	CancellationCutoffHours int
	ApplicationFeeBps       int64
}

// PolicyFor merges service overrides over the tenant defaults.
func PolicyFor(tenant models.Tenant, svc *models.Service) Policy {
	p := Policy{
		NoShowFeeBps:            tenant.NoShowFeeBps,
		CancellationFeeBps:      tenant.CancellationFeeBps,
		CancellationFlatFee:     tenant.CancellationFlatFee,
		CancellationCutoffHours: tenant.CancellationCutoffHours,
		ApplicationFeeBps:       tenant.ApplicationFeeBps,
	}
	if svc == nil {
		return p
	}
	if svc.NoShowFeeBps != nil {
		p.NoShowFeeBps = *svc.NoShowFeeBps
	}
	if svc.CancellationFeeBps != nil {
		p.CancellationFeeBps = *svc.CancellationFeeBps
	}
	if svc.CancellationFlatFee != nil {
		p.CancellationFlatFee = *svc.CancellationFlatFee
	}
	if svc.CancellationCutoffHours != nil {
		p.CancellationCutoffHours = *svc.CancellationCutoffHours
	}
	return p
}

// NoShowFee returns ErrNoAmountToCharge when the fee rounds to zero.
func NoShowFee(amount int64, p Policy) (int64, error) {
	fee := ApplyBps(amount, p.NoShowFeeBps)
	if fee <= 0 {
		return 0, ErrNoAmountToCharge
	}
	return fee, nil
}

// CancellationFee charges flat + bps share when cancelledAt falls at or after
// start minus the cutoff, capped at the booking amount.
func CancellationFee(amount int64, start, cancelledAt time.Time, p Policy) (int64, error) {
	windowOpens := start.Add(-time.Duration(p.CancellationCutoffHours) * time.Hour)
	if cancelledAt.Before(windowOpens) {
		return 0, ErrNoAmountToCharge
	}
	fee := p.CancellationFlatFee + ApplyBps(amount, p.CancellationFeeBps)
	if fee > amount {
		fee = amount
	}
	if fee <= 0 {
		return 0, ErrNoAmountToCharge
	}
	return fee, nil
}

// ApplicationFee is the platform share of a captured charge; zero is allowed.
func ApplicationFee(amount int64, p Policy) int64 {
	return ApplyBps(amount, p.ApplicationFeeBps)
}

// Ledger summarises the transaction chain of one booking.
type Ledger struct {
	Captured       int64 // succeeded booking charges
	Retained       int64 // fees taken out of the captured charge
	NoShowFee      int64 // no-show fees, retained or charged separately
	NoShowRetained bool  // the no-show fee was taken out of the charge
	Refunded       int64 // pending or succeeded refunds against the charge
	FeeRefunds     int64 // pending or succeeded refunds against no-show fees
	RetainedRefund int64 // part of FeeRefunds paid back out of the charge
	Adjusted       int64 // retained fees already recorded as refund adjustments
}

// BuildLedger folds transactions into a Ledger. chargeID is the booking
// charge refunds are measured against; fee transactions related to it count
// as retained.
func BuildLedger(txs []models.PaymentTransaction, chargeID string) Ledger {
	var l Ledger
	noShow := map[string]bool{}
	retained := map[string]bool{}
	for _, t := range txs {
		if t.FeeType != models.FeeNoShow && t.FeeType != models.FeeCancellation {
			continue
		}
		if t.FeeType == models.FeeNoShow {
			noShow[t.ID] = true
		}
		if chargeID != "" && t.RelatedTransactionID == chargeID {
			retained[t.ID] = true
		}
	}
	for _, t := range txs {
		if !t.Counts() {
			continue
		}
		switch t.FeeType {
		case models.FeeBookingCharge:
			if t.Status == models.PaymentSucceeded && (chargeID == "" || t.ID == chargeID) {
				l.Captured += t.Amount
			}
		case models.FeeNoShow, models.FeeCancellation:
			if t.FeeType == models.FeeNoShow {
				l.NoShowFee += t.Amount
				l.NoShowRetained = l.NoShowRetained || retained[t.ID]
			}
			if retained[t.ID] {
				l.Retained += t.Amount
			}
		case models.FeeRefundFeeAdjustment:
			l.Adjusted += t.Amount
		case models.FeeRefund:
			switch {
			case noShow[t.RelatedTransactionID]:
				l.FeeRefunds += t.Amount
				if retained[t.RelatedTransactionID] {
					l.RetainedRefund += t.Amount
				}
			case chargeID == "" || t.RelatedTransactionID == chargeID:
				l.Refunded += t.Amount
			}
		}
	}
	return l
}

// ChargeRemaining is what is left of the captured charge after every refund
// paid out of it.
func (l Ledger) ChargeRemaining() int64 {
	return l.Captured - l.Refunded - l.RetainedRefund
}

// RefundPlan is the outcome of RefundAmount.
type RefundPlan struct {
	Amount         int64
	FeeAdjustment  int64 // retained fee recorded alongside a partial refund
	AgainstFeeOnly bool  // refund targets the no-show fee transaction
}

// RefundAmount sizes a refund. explicit, when positive, overrides the mode's
// natural amount but may never exceed the refundable balance.
func RefundAmount(mode models.RefundMode, l Ledger, explicit int64) (RefundPlan, error) {
	var plan RefundPlan
	var refundable int64

	switch mode {
	case models.RefundFull:
		refundable = l.ChargeRemaining()
	case models.RefundPartial:
		refundable = l.Captured - l.Retained - l.Refunded
		if l.Retained > l.Adjusted {
			plan.FeeAdjustment = l.Retained - l.Adjusted
		}
	case models.RefundNoShowFeeOnly:
		refundable = l.NoShowFee - l.FeeRefunds
		if l.NoShowRetained && refundable > l.ChargeRemaining() {
			refundable = l.ChargeRemaining()
		}
		plan.AgainstFeeOnly = true
	default:
		return RefundPlan{}, fmt.Errorf("%w: %q", ErrInvalidRefundMode, mode)
	}
	return bound(plan, refundable, explicit)
}

// FeeRefundAmount sizes a refund of a fee captured on its own, with no booking
// charge behind it. Every mode pays back out of the fee itself and nothing is
// withheld.
func FeeRefundAmount(mode models.RefundMode, fee, refunded, explicit int64) (RefundPlan, error) {
	if !mode.Valid() {
		return RefundPlan{}, fmt.Errorf("%w: %q", ErrInvalidRefundMode, mode)
	}
	return bound(RefundPlan{}, fee-refunded, explicit)
}

func bound(plan RefundPlan, refundable, explicit int64) (RefundPlan, error) {
	plan.Amount = refundable
	if explicit > 0 {
		if explicit > refundable {
			return RefundPlan{}, fmt.Errorf("%w: requested %d, refundable %d", ErrRefundExceedsCaptured, explicit, refundable)
		}
		plan.Amount = explicit
	}
	if plan.Amount <= 0 {
		return RefundPlan{}, fmt.Errorf("%w: nothing left to refund", ErrRefundExceedsCaptured)
	}
	return plan, nil
}
