package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New("booking")

	m.OverlapConflict()
	m.OverlapConflict()
	m.BookingCreated("pending")
	m.FeeTransaction("no_show_fee", "succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OverlapConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BookingsCreated.WithLabelValues("pending")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "booking_overlap_conflicts_total 2")
	assert.Contains(t, string(body), `booking_payment_transactions_total{fee_type="no_show_fee",status="succeeded"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OverlapConflict()
		m.Transition("pending", "confirmed")
		m.Purged(3)
	})
}
