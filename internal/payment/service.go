package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/fees"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/outbox"
	"ms-booking/internal/payment/provider"
	"ms-booking/internal/payment/storage"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const table = "payment_transactions"

type Service struct {
	DB       *bookingdb.DB
	Provider provider.Provider
	Emitter  *outbox.Emitter
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func NewService(db *bookingdb.DB, p provider.Provider, em *outbox.Emitter, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{DB: db, Provider: p, Emitter: em, Log: log, Metrics: m, Now: time.Now}
}

type ChargeRequest struct {
	TenantID      string
	BookingID     string
	PaymentMethod string
	Actor         string
}

type RefundRequest struct {
	TenantID  string
	PaymentID string
	Mode      models.RefundMode
	Amount    int64 // optional explicit amount in minor units
	Reason    string
	Actor     string
}

func (s *Service) now() time.Time {
	return s.Now().UTC().Truncate(time.Second)
}

// ---------------- STAGING (inside a booking transaction) ----------------

// StageFee records a no-show or cancellation fee through idb, the caller's
// transaction. When the booking has a captured charge the fee is retained out
// of it and the row is final; otherwise the row is pending and must be passed
// to Settle after the caller commits.
func (s *Service) StageFee(ctx context.Context, idb bun.IDB, b *models.Booking, feeType models.FeeType, amount int64, actor string) (*models.PaymentTransaction, error) {
	existing, err := storage.LatestOfType(ctx, idb, b.TenantID, b.ID, feeType, models.PaymentPending, models.PaymentSucceeded)
	if err != nil {
		return nil, fmt.Errorf("check existing %s: %w", feeType, err)
	}
	if existing != nil {
		return existing, ErrAlreadyFeeApplied
	}
	if amount <= 0 {
		return nil, ErrNoAmountToCharge
	}

	charge, err := storage.LatestOfType(ctx, idb, b.TenantID, b.ID, models.FeeBookingCharge, models.PaymentSucceeded)
	if err != nil {
		return nil, fmt.Errorf("find booking charge: %w", err)
	}

	now := s.now()
	t := &models.PaymentTransaction{
		ID:        uuid.NewString(),
		TenantID:  b.TenantID,
		BookingID: b.ID,
		Amount:    amount,
		Currency:  b.Currency,
		FeeType:   feeType,
		Status:    models.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var ev *outbox.Event
	if charge != nil {
		t.Status = models.PaymentSucceeded
		t.RelatedTransactionID = charge.ID
		t.ProviderRef = charge.ProviderRef
		ev = &outbox.Event{Code: models.EventPaymentFeeCharge}
	}

	if err := storage.InsertTransaction(ctx, idb, t); err != nil {
		return nil, fmt.Errorf("insert %s: %w", feeType, err)
	}
	change := outbox.Change{
		TenantID: t.TenantID, Table: table, RecordID: t.ID,
		Operation: models.AuditInsert, ActorID: actor, After: t,
	}
	if err := s.Emitter.Record(ctx, idb, change, ev); err != nil {
		return nil, err
	}
	if t.Status == models.PaymentSucceeded {
		s.Metrics.FeeTransaction(string(feeType), string(t.Status))
	}
	return t, nil
}

// ---------------- SETTLEMENT ----------------

// Settle drives a pending transaction through the provider and records the
// outcome in its own transaction. Rows that are no longer pending are
// returned unchanged.
func (s *Service) Settle(ctx context.Context, tenantID, id, actor string) (*models.PaymentTransaction, error) {
	t, err := storage.GetTransaction(ctx, s.DB.Bun, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, t, "", actor)
}

func (s *Service) settle(ctx context.Context, t *models.PaymentTransaction, paymentMethod, actor string) (*models.PaymentTransaction, error) {
	if t.Status != models.PaymentPending {
		return t, nil
	}
	before := *t

	ref, callErr := s.callProvider(ctx, t, paymentMethod)
	if callErr != nil {
		t.Status = models.PaymentFailed
		t.FailureReason = callErr.Error()
		s.Metrics.ProviderFailure(string(t.FeeType))
		s.Log.Warn("PAYMENT", fmt.Sprintf("[SETTLE] %s %s failed: %v", t.FeeType, t.ID, callErr))
	} else {
		t.Status = models.PaymentSucceeded
		t.ProviderRef = ref
		t.FailureReason = ""
	}

	var raced bool
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		ok, err := storage.Transition(ctx, tx, t, models.PaymentPending, s.now())
		if err != nil {
			return err
		}
		if !ok {
			raced = true
			return nil
		}
		ev := &outbox.Event{Code: successEvent(t.FeeType)}
		if t.Status == models.PaymentFailed {
			ev = &outbox.Event{Code: models.EventPaymentFailed, NoDedup: true}
		}
		change := outbox.Change{
			TenantID: t.TenantID, Table: table, RecordID: t.ID,
			Operation: models.AuditUpdate, ActorID: actor, Before: before, After: t,
		}
		if err := s.Emitter.Record(ctx, tx, change, ev); err != nil {
			return err
		}
		if t.Status == models.PaymentSucceeded && t.FeeType == models.FeeBookingCharge {
			return s.recordApplicationFee(ctx, tx, t, actor)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record settlement of %s: %w", t.ID, err)
	}
	if raced {
		return storage.GetTransaction(ctx, s.DB.Bun, t.TenantID, t.ID)
	}

	s.Metrics.FeeTransaction(string(t.FeeType), string(t.Status))
	s.Log.LogPayment("SETTLE", t.ID, fmt.Sprintf("%s %d %s -> %s", t.FeeType, t.Amount, t.Currency, t.Status))
	if callErr != nil {
		return t, fmt.Errorf("%w: %s %s", ErrProviderUnavailable, t.FeeType, t.ID)
	}
	return t, nil
}

func successEvent(ft models.FeeType) string {
	switch ft {
	case models.FeeBookingCharge:
		return models.EventPaymentCaptured
	case models.FeeRefund:
		return models.EventPaymentRefunded
	default:
		return models.EventPaymentFeeCharge
	}
}

func (s *Service) callProvider(ctx context.Context, t *models.PaymentTransaction, paymentMethod string) (string, error) {
	switch t.FeeType {
	case models.FeeRefund:
		related, err := storage.GetTransaction(ctx, s.DB.Bun, t.TenantID, t.RelatedTransactionID)
		if err != nil {
			return "", fmt.Errorf("load refunded transaction: %w", err)
		}
		return s.Provider.Refund(ctx, related.ProviderRef, t.Amount, t.ID)

	case models.FeeBookingCharge, models.FeeNoShow, models.FeeCancellation:
		b, err := bookingdb.GetBooking(ctx, s.DB.Bun, t.TenantID, t.BookingID)
		if err != nil {
			return "", fmt.Errorf("load booking: %w", err)
		}
		token, err := s.Provider.Authorize(ctx, provider.AuthorizeRequest{
			Amount:         t.Amount,
			Currency:       t.Currency,
			CustomerID:     b.CustomerID,
			PaymentMethod:  paymentMethod,
			IdempotencyKey: t.ID,
			Metadata: map[string]string{
				"booking_id":     b.ID,
				"tenant_id":      b.TenantID,
				"transaction_id": t.ID,
				"fee_type":       string(t.FeeType),
			},
		})
		if err != nil {
			return "", err
		}
		return s.Provider.Capture(ctx, token, t.Amount)
	}
	return "", fmt.Errorf("%s transactions are not settled through the provider", t.FeeType)
}

func (s *Service) recordApplicationFee(ctx context.Context, tx bun.IDB, charge *models.PaymentTransaction, actor string) error {
	tenant, err := bookingdb.GetTenant(ctx, tx, charge.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant policy: %w", err)
	}
	amount := fees.ApplicationFee(charge.Amount, fees.PolicyFor(*tenant, nil))
	if amount <= 0 {
		return nil
	}
	now := s.now()
	fee := &models.PaymentTransaction{
		ID:                   uuid.NewString(),
		TenantID:             charge.TenantID,
		BookingID:            charge.BookingID,
		Amount:               amount,
		Currency:             charge.Currency,
		FeeType:              models.FeeApplication,
		Status:               models.PaymentSucceeded,
		ProviderRef:          charge.ProviderRef,
		RelatedTransactionID: charge.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := storage.InsertTransaction(ctx, tx, fee); err != nil {
		return fmt.Errorf("insert application fee: %w", err)
	}
	return s.Emitter.Record(ctx, tx, outbox.Change{
		TenantID: fee.TenantID, Table: table, RecordID: fee.ID,
		Operation: models.AuditInsert, ActorID: actor, After: fee,
	}, nil)
}

// ---------------- OPERATIONS ----------------

// Charge authorizes and captures the booking amount. A booking with a pending
// or captured charge gets that charge back.
func (s *Service) Charge(ctx context.Context, req ChargeRequest) (*models.PaymentTransaction, error) {
	var t *models.PaymentTransaction
	var replay bool

	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		b, err := bookingdb.GetBookingForUpdate(ctx, tx, req.TenantID, req.BookingID)
		if err != nil {
			return mapBookingErr(err)
		}
		if b.Status == models.BookingCanceled || b.Status == models.BookingFailed {
			return fmt.Errorf("%w: %s", ErrNotChargeable, b.Status)
		}
		existing, err := storage.LatestOfType(ctx, tx, b.TenantID, b.ID, models.FeeBookingCharge, models.PaymentPending, models.PaymentSucceeded)
		if err != nil {
			return err
		}
		if existing != nil {
			t, replay = existing, true
			return nil
		}
		amount := b.Amount()
		if amount <= 0 {
			return ErrNoAmountToCharge
		}

		now := s.now()
		t = &models.PaymentTransaction{
			ID:        uuid.NewString(),
			TenantID:  b.TenantID,
			BookingID: b.ID,
			Amount:    amount,
			Currency:  b.Currency,
			FeeType:   models.FeeBookingCharge,
			Status:    models.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := storage.InsertTransaction(ctx, tx, t); err != nil {
			return fmt.Errorf("insert booking charge: %w", err)
		}
		return s.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: t.TenantID, Table: table, RecordID: t.ID,
			Operation: models.AuditInsert, ActorID: req.Actor, After: t,
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return t, nil
	}
	return s.settle(ctx, t, req.PaymentMethod, req.Actor)
}

// Refund sizes a refund from the booking's transaction chain, records it
// pending together with any retained-fee adjustment, then settles it.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*models.PaymentTransaction, error) {
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRefundMode, req.Mode)
	}
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrRefundExceedsCaptured)
	}

	var refund *models.PaymentTransaction
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		pay, err := storage.GetTransaction(ctx, tx, req.TenantID, req.PaymentID)
		if err != nil {
			return err
		}
		// Lock the booking so refunds of one booking are sized one at a time.
		if _, err := bookingdb.GetBookingForUpdate(ctx, tx, req.TenantID, pay.BookingID); err != nil {
			return mapBookingErr(err)
		}
		txs, err := storage.ListByBooking(ctx, tx, req.TenantID, pay.BookingID)
		if err != nil {
			return err
		}

		var (
			plan    fees.RefundPlan
			related *models.PaymentTransaction
		)
		if standalone(pay) {
			if req.Mode == models.RefundNoShowFeeOnly && pay.FeeType != models.FeeNoShow {
				return fmt.Errorf("%w: %s is a %s", ErrNotRefundable, pay.ID, pay.FeeType)
			}
			plan, err = fees.FeeRefundAmount(req.Mode, pay.Amount, refundedAgainst(txs, pay.ID), req.Amount)
			if err != nil {
				return err
			}
			related = byID(txs, pay.ID)
		} else {
			chargeID, err := chargeFor(pay)
			if err != nil {
				return err
			}
			plan, err = fees.RefundAmount(req.Mode, fees.BuildLedger(txs, chargeID), req.Amount)
			if err != nil {
				return err
			}
			if plan.AgainstFeeOnly {
				related = latestCounting(txs, models.FeeNoShow)
			} else {
				related = byID(txs, chargeID)
			}
		}
		if related == nil || related.Status != models.PaymentSucceeded {
			return ErrNotSettled
		}

		now := s.now()
		refund = &models.PaymentTransaction{
			ID:                   uuid.NewString(),
			TenantID:             related.TenantID,
			BookingID:            related.BookingID,
			Amount:               plan.Amount,
			Currency:             related.Currency,
			FeeType:              models.FeeRefund,
			Status:               models.PaymentPending,
			RelatedTransactionID: related.ID,
			Reason:               req.Reason,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := storage.InsertTransaction(ctx, tx, refund); err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}
		if err := s.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: refund.TenantID, Table: table, RecordID: refund.ID,
			Operation: models.AuditInsert, ActorID: req.Actor, After: refund,
		}, nil); err != nil {
			return err
		}

		if plan.FeeAdjustment <= 0 {
			return nil
		}
		adj := &models.PaymentTransaction{
			ID:                   uuid.NewString(),
			TenantID:             refund.TenantID,
			BookingID:            refund.BookingID,
			Amount:               plan.FeeAdjustment,
			Currency:             refund.Currency,
			FeeType:              models.FeeRefundFeeAdjustment,
			Status:               models.PaymentSucceeded,
			RelatedTransactionID: refund.ID,
			Reason:               "retained fee withheld from refund",
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := storage.InsertTransaction(ctx, tx, adj); err != nil {
			return fmt.Errorf("insert refund fee adjustment: %w", err)
		}
		return s.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: adj.TenantID, Table: table, RecordID: adj.ID,
			Operation: models.AuditInsert, ActorID: req.Actor, After: adj,
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	s.Log.LogPayment("REFUND", refund.ID, fmt.Sprintf("%s refund of %d against %s", req.Mode, refund.Amount, refund.RelatedTransactionID))
	return s.settle(ctx, refund, "", req.Actor)
}

// RetryTransaction puts a failed fee, charge or refund back to pending and
// settles it again. Refunds are re-checked against what is still refundable.
func (s *Service) RetryTransaction(ctx context.Context, tenantID, id, actor string) (*models.PaymentTransaction, error) {
	var t *models.PaymentTransaction
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		t, err = storage.GetTransaction(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if t.Status != models.PaymentFailed {
			return fmt.Errorf("%w: %s is %s", ErrNotRetryable, t.ID, t.Status)
		}
		if _, err := bookingdb.GetBookingForUpdate(ctx, tx, tenantID, t.BookingID); err != nil {
			return mapBookingErr(err)
		}
		if t.FeeType == models.FeeRefund {
			if err := s.checkRefundHeadroom(ctx, tx, t); err != nil {
				return err
			}
		}

		before := *t
		t.Status = models.PaymentPending
		t.FailureReason = ""
		ok, err := storage.Transition(ctx, tx, t, models.PaymentFailed, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s changed concurrently", ErrNotRetryable, t.ID)
		}
		return s.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: t.TenantID, Table: table, RecordID: t.ID,
			Operation: models.AuditUpdate, ActorID: actor, Before: before, After: t,
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, t, "", actor)
}

func (s *Service) checkRefundHeadroom(ctx context.Context, tx bun.IDB, refund *models.PaymentTransaction) error {
	txs, err := storage.ListByBooking(ctx, tx, refund.TenantID, refund.BookingID)
	if err != nil {
		return err
	}
	related := byID(txs, refund.RelatedTransactionID)
	if related == nil {
		return ErrNotFound
	}
	if standalone(related) {
		if headroom := related.Amount - refundedAgainst(txs, related.ID); refund.Amount > headroom {
			return fmt.Errorf("%w: retry of %d, refundable %d", ErrRefundExceedsCaptured, refund.Amount, headroom)
		}
		return nil
	}
	chargeID, err := chargeFor(related)
	if err != nil {
		return err
	}
	l := fees.BuildLedger(txs, chargeID)
	headroom := l.ChargeRemaining()
	if related.FeeType == models.FeeNoShow {
		headroom = l.NoShowFee - l.FeeRefunds
		if l.NoShowRetained && headroom > l.ChargeRemaining() {
			headroom = l.ChargeRemaining()
		}
	}
	if refund.Amount > headroom {
		return fmt.Errorf("%w: retry of %d, refundable %d", ErrRefundExceedsCaptured, refund.Amount, headroom)
	}
	return nil
}

// SettleStale re-drives pending rows left behind by a crash between commit
// and settlement.
func (s *Service) SettleStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	rows, err := storage.ListStalePending(ctx, s.DB.Bun, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range rows {
		if _, err := s.settle(ctx, &rows[i], "", "system"); err != nil && !errors.Is(err, ErrProviderUnavailable) {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

func (s *Service) ListTransactions(ctx context.Context, tenantID, bookingID string) ([]models.PaymentTransaction, error) {
	if _, err := bookingdb.GetBooking(ctx, s.DB.Bun, tenantID, bookingID); err != nil {
		return nil, mapBookingErr(err)
	}
	return storage.ListByBooking(ctx, s.DB.Bun, tenantID, bookingID)
}

func (s *Service) GetTransaction(ctx context.Context, tenantID, id string) (*models.PaymentTransaction, error) {
	return storage.GetTransaction(ctx, s.DB.Bun, tenantID, id)
}

// chargeFor finds the booking charge a refund of pay is measured against.
// Standalone fees have none and are handled before this is called.
func chargeFor(pay *models.PaymentTransaction) (string, error) {
	switch pay.FeeType {
	case models.FeeBookingCharge:
		return pay.ID, nil
	case models.FeeNoShow, models.FeeCancellation:
		return pay.RelatedTransactionID, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotRefundable, pay.FeeType)
}

// standalone reports whether t is a fee captured on its own, with no booking
// charge to retain it from.
func standalone(t *models.PaymentTransaction) bool {
	return (t.FeeType == models.FeeNoShow || t.FeeType == models.FeeCancellation) &&
		t.RelatedTransactionID == ""
}

// refundedAgainst sums the pending and succeeded refunds of one transaction.
func refundedAgainst(txs []models.PaymentTransaction, id string) int64 {
	var n int64
	for i := range txs {
		if txs[i].FeeType == models.FeeRefund && txs[i].RelatedTransactionID == id && txs[i].Counts() {
			n += txs[i].Amount
		}
	}
	return n
}

func byID(txs []models.PaymentTransaction, id string) *models.PaymentTransaction {
	if id == "" {
		return nil
	}
	for i := range txs {
		if txs[i].ID == id {
			return &txs[i]
		}
	}
	return nil
}

func latestCounting(txs []models.PaymentTransaction, ft models.FeeType) *models.PaymentTransaction {
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].FeeType == ft && txs[i].Counts() {
			return &txs[i]
		}
	}
	return nil
}

func mapBookingErr(err error) error {
	if errors.Is(err, bookingdb.ErrNotFound) {
		return fmt.Errorf("%w: booking", ErrNotFound)
	}
	return err
}
