package fees

import (
	"testing"
	"time"

	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

func TestApplyBpsRounding(t *testing.T) {
	cases := []struct {
		amount, bps, want int64
	}{
		{10000, 1000, 1000},
		{10000, 0, 0},
		{0, 1000, 0},
		{5, 1000, 1},  // 0.5 rounds away from zero
		{4, 1000, 0},  // 0.4 rounds down
		{15, 1000, 2}, // 1.5
		{-5, 1000, -1},
		{999, 3333, 333}, // 332.9667
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ApplyBps(c.amount, c.bps), "amount=%d bps=%d", c.amount, c.bps)
	}
}

func TestPolicyForServiceOverrides(t *testing.T) {
	tenant := models.Tenant{NoShowFeeBps: 1000, CancellationFeeBps: 500, CancellationFlatFee: 200, CancellationCutoffHours: 24}

	p := PolicyFor(tenant, nil)
	assert.Equal(t, int64(1000), p.NoShowFeeBps)

	svc := &models.Service{NoShowFeeBps: int64p(2500), CancellationCutoffHours: intp(2)}
	p = PolicyFor(tenant, svc)
	assert.Equal(t, int64(2500), p.NoShowFeeBps)
	assert.Equal(t, int64(500), p.CancellationFeeBps)
	assert.Equal(t, int64(200), p.CancellationFlatFee)
	assert.Equal(t, 2, p.CancellationCutoffHours)
}

func TestNoShowFee(t *testing.T) {
	fee, err := NoShowFee(10000, Policy{NoShowFeeBps: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fee)

	_, err = NoShowFee(10000, Policy{})
	assert.ErrorIs(t, err, ErrNoAmountToCharge)
}

func TestCancellationFee(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	p := Policy{CancellationFeeBps: 2000, CancellationFlatFee: 500, CancellationCutoffHours: 24}

	// outside the window
	_, err := CancellationFee(10000, start, start.Add(-48*time.Hour), p)
	assert.ErrorIs(t, err, ErrNoAmountToCharge)

	// exactly at the window edge counts as inside
	fee, err := CancellationFee(10000, start, start.Add(-24*time.Hour), p)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), fee)

	// capped at the booking amount
	fee, err = CancellationFee(300, start, start.Add(-time.Hour), p)
	require.NoError(t, err)
	assert.Equal(t, int64(300), fee)

	// zero policy inside the window
	_, err = CancellationFee(10000, start, start, Policy{CancellationCutoffHours: 24})
	assert.ErrorIs(t, err, ErrNoAmountToCharge)
}

func chain() []models.PaymentTransaction {
	return []models.PaymentTransaction{
		{ID: "charge", FeeType: models.FeeBookingCharge, Amount: 10000, Status: models.PaymentSucceeded},
		{ID: "fee", FeeType: models.FeeNoShow, Amount: 1000, Status: models.PaymentSucceeded, RelatedTransactionID: "charge"},
	}
}

func TestPartialRefundDeductsRetainedFee(t *testing.T) {
	l := BuildLedger(chain(), "charge")
	assert.Equal(t, int64(10000), l.Captured)
	assert.Equal(t, int64(1000), l.Retained)
	assert.True(t, l.NoShowRetained)

	plan, err := RefundAmount(models.RefundPartial, l, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), plan.Amount)
	assert.Equal(t, int64(1000), plan.FeeAdjustment)
	assert.False(t, plan.AgainstFeeOnly)
}

func TestRefundModes(t *testing.T) {
	l := BuildLedger(chain(), "charge")

	plan, err := RefundAmount(models.RefundFull, l, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), plan.Amount)

	plan, err = RefundAmount(models.RefundNoShowFeeOnly, l, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), plan.Amount)
	assert.True(t, plan.AgainstFeeOnly)

	_, err = RefundAmount("bogus", l, 0)
	assert.ErrorIs(t, err, ErrInvalidRefundMode)
}

func TestRefundNeverExceedsCaptured(t *testing.T) {
	txs := append(chain(),
		models.PaymentTransaction{ID: "r1", FeeType: models.FeeRefund, Amount: 9000, Status: models.PaymentSucceeded, RelatedTransactionID: "charge"},
		models.PaymentTransaction{ID: "adj", FeeType: models.FeeRefundFeeAdjustment, Amount: 1000, Status: models.PaymentSucceeded, RelatedTransactionID: "r1"},
	)
	l := BuildLedger(txs, "charge")
	assert.Equal(t, int64(1000), l.ChargeRemaining())

	// nothing left for another partial
	_, err := RefundAmount(models.RefundPartial, l, 0)
	assert.ErrorIs(t, err, ErrRefundExceedsCaptured)

	// the fee portion can still go back, once
	plan, err := RefundAmount(models.RefundNoShowFeeOnly, l, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), plan.Amount)

	txs = append(txs, models.PaymentTransaction{ID: "r2", FeeType: models.FeeRefund, Amount: 1000, Status: models.PaymentPending, RelatedTransactionID: "fee"})
	l = BuildLedger(txs, "charge")
	assert.Equal(t, int64(0), l.ChargeRemaining())
	for _, mode := range []models.RefundMode{models.RefundFull, models.RefundPartial, models.RefundNoShowFeeOnly} {
		_, err := RefundAmount(mode, l, 0)
		assert.ErrorIs(t, err, ErrRefundExceedsCaptured, string(mode))
	}
}

func TestExplicitRefundAmountBound(t *testing.T) {
	l := BuildLedger(chain(), "charge")
	for amount := int64(10001); amount < 10100; amount += 7 {
		_, err := RefundAmount(models.RefundFull, l, amount)
		assert.ErrorIs(t, err, ErrRefundExceedsCaptured)
	}

	plan, err := RefundAmount(models.RefundFull, l, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), plan.Amount)
}

func TestFailedTransactionsDoNotCount(t *testing.T) {
	txs := append(chain(),
		models.PaymentTransaction{ID: "r1", FeeType: models.FeeRefund, Amount: 9000, Status: models.PaymentFailed, RelatedTransactionID: "charge"},
	)
	l := BuildLedger(txs, "charge")
	assert.Equal(t, int64(0), l.Refunded)

	plan, err := RefundAmount(models.RefundPartial, l, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), plan.Amount)
}

func TestFeeRefundAmount(t *testing.T) {
	for _, mode := range []models.RefundMode{models.RefundFull, models.RefundPartial, models.RefundNoShowFeeOnly} {
		plan, err := FeeRefundAmount(mode, 1000, 0, 0)
		require.NoError(t, err, mode)
		assert.Equal(t, RefundPlan{Amount: 1000}, plan, mode)
	}

	plan, err := FeeRefundAmount(models.RefundPartial, 1000, 400, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(600), plan.Amount)

	plan, err = FeeRefundAmount(models.RefundPartial, 1000, 400, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), plan.Amount)

	_, err = FeeRefundAmount(models.RefundFull, 1000, 400, 601)
	assert.ErrorIs(t, err, ErrRefundExceedsCaptured)
	_, err = FeeRefundAmount(models.RefundFull, 1000, 1000, 0)
	assert.ErrorIs(t, err, ErrRefundExceedsCaptured)
	_, err = FeeRefundAmount("everything", 1000, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRefundMode)
}
