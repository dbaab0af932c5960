package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/booking/db/dbtest"
	"ms-booking/internal/models"
	"ms-booking/internal/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// clock hands out strictly increasing seconds so creation order is stable.
func clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func record(t *testing.T, db *bookingdb.DB, em *outbox.Emitter, recordID string, ev *outbox.Event) error {
	t.Helper()
	return db.RunInTx(context.Background(), func(ctx context.Context, tx bun.Tx) error {
		return em.Record(ctx, tx, outbox.Change{
			TenantID: "tenant-1", Table: "bookings", RecordID: recordID,
			Operation: models.AuditInsert, ActorID: "tester",
			After: map[string]string{"id": recordID},
		}, ev)
	})
}

func TestEmitterWritesAuditAndEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	em := outbox.NewEmitter()
	ctx := context.Background()

	require.NoError(t, record(t, db, em, "b-1", &outbox.Event{Code: models.EventBookingCreated}))

	var audits []models.AuditRecord
	require.NoError(t, db.Bun.NewSelect().Model(&audits).Scan(ctx))
	require.Len(t, audits, 1)
	assert.Equal(t, "b-1", audits[0].RecordID)
	assert.Empty(t, audits[0].Before)
	assert.JSONEq(t, `{"id":"b-1"}`, audits[0].After)

	var events []models.OutboundEvent
	require.NoError(t, db.Bun.NewSelect().Model(&events).Scan(ctx))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventBookingCreated+":b-1", events[0].DedupKey)

	var env outbox.Envelope
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &env))
	assert.Equal(t, events[0].ID, env.EventID)
	assert.Equal(t, "tenant-1", env.TenantID)
	assert.Equal(t, "tester", env.ActorID)
	assert.JSONEq(t, `{"id":"b-1"}`, string(env.Data))
}

func TestEmitterDedup(t *testing.T) {
	db := dbtest.Open(t)
	em := outbox.NewEmitter()

	require.NoError(t, record(t, db, em, "b-1", &outbox.Event{Code: models.EventBookingConfirmed}))
	assert.Error(t, record(t, db, em, "b-1", &outbox.Event{Code: models.EventBookingConfirmed}))

	require.NoError(t, record(t, db, em, "p-1", &outbox.Event{Code: models.EventPaymentFailed, NoDedup: true}))
	require.NoError(t, record(t, db, em, "p-1", &outbox.Event{Code: models.EventPaymentFailed, NoDedup: true}))

	n, err := db.Bun.NewSelect().Model((*models.OutboundEvent)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type fakeSink struct {
	mu        sync.Mutex
	failOn    map[string]bool
	published []string
}

func (s *fakeSink) Publish(_ context.Context, ev models.OutboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[ev.EventCode] {
		return errors.New("broker unavailable")
	}
	s.published = append(s.published, ev.EventCode)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func TestRelayDeliversInOrderAndStopsOnFailure(t *testing.T) {
	db := dbtest.Open(t)
	em := outbox.NewEmitter()
	em.Now = clock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, record(t, db, em, "b-1", &outbox.Event{Code: models.EventBookingCreated}))
	require.NoError(t, record(t, db, em, "b-1", &outbox.Event{Code: models.EventBookingConfirmed}))
	require.NoError(t, record(t, db, em, "b-1", &outbox.Event{Code: models.EventBookingCompleted}))

	sink := &fakeSink{failOn: map[string]bool{models.EventBookingConfirmed: true}}
	relay := outbox.NewRelay(db, sink, 10, 2, time.Second, nil, nil)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{models.EventBookingCreated}, sink.published)

	var stuck models.OutboundEvent
	require.NoError(t, db.Bun.NewSelect().Model(&stuck).Where("event_code = ?", models.EventBookingConfirmed).Scan(ctx))
	assert.Equal(t, models.EventReady, stuck.Status)
	assert.Equal(t, 1, stuck.Attempts)
	assert.Equal(t, "broker unavailable", stuck.LastError)

	_, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Bun.NewSelect().Model(&stuck).Where("id = ?", stuck.ID).Scan(ctx))
	assert.Equal(t, models.EventFailed, stuck.Status)

	// With the failed event parked, the next one goes out.
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{models.EventBookingCreated, models.EventBookingCompleted}, sink.published)

	sink.failOn = nil
	requeued, err := relay.Requeue(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweeperPurgesOldAudit(t *testing.T) {
	db := dbtest.Open(t)
	em := outbox.NewEmitter()
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -40)
	em.Now = func() time.Time { return old }
	require.NoError(t, record(t, db, em, "b-old", &outbox.Event{Code: models.EventBookingCreated}))
	em.Now = time.Now
	require.NoError(t, record(t, db, em, "b-new", nil))

	sweeper := outbox.NewSweeper(db, 30, time.Hour, nil, nil)
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := db.Bun.NewSelect().Model((*models.AuditRecord)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	// The old event was never delivered, so it stays.
	events, err := db.Bun.NewSelect().Model((*models.OutboundEvent)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, events)

	none := outbox.NewSweeper(db, 0, time.Hour, nil, nil)
	n, err = none.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
