package outbox

import (
	"context"
	"fmt"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// Sink delivers one outbound event to the outside world.
type Sink interface {
	Publish(ctx context.Context, ev models.OutboundEvent) error
	Close() error
}

// Relay moves ready events from the outbox table to a Sink, at least once.
type Relay struct {
	DB          *bookingdb.DB
	Sink        Sink
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	Log         *logger.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

func NewRelay(db *bookingdb.DB, sink Sink, batch, maxAttempts int, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		DB: db, Sink: sink, BatchSize: batch, MaxAttempts: maxAttempts,
		Interval: interval, Log: log, Metrics: m, Now: time.Now,
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	r.Log.LogOutbox("START", "", fmt.Sprintf("relay polling every %s", r.Interval))
	for {
		select {
		case <-ctx.Done():
			r.Log.LogOutbox("STOP", "", "relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.Log.Error("OUTBOX", fmt.Sprintf("relay pass failed: %v", err))
			}
		}
	}
}

// RelayOnce publishes one batch in creation order and returns how many events
// were delivered. On Postgres concurrent relays skip each other's rows.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	delivered := 0
	err := r.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var events []models.OutboundEvent
		q := tx.NewSelect().
			Model(&events).
			Where("status = ?", models.EventReady).
			Order("created_at ASC", "id ASC").
			Limit(r.BatchSize)
		if bookingdb.IsPostgres(tx) {
			q = q.For("UPDATE SKIP LOCKED")
		}
		if err := q.Scan(ctx); err != nil {
			return fmt.Errorf("load ready events: %w", err)
		}

		for i := range events {
			ev := &events[i]
			pubErr := r.Sink.Publish(ctx, *ev)
			ev.Attempts++
			if pubErr == nil {
				now := r.Now().UTC()
				ev.Status = models.EventDelivered
				ev.DeliveredAt = &now
				ev.LastError = ""
				delivered++
				r.Metrics.Published(ev.EventCode)
			} else {
				ev.LastError = pubErr.Error()
				if ev.Attempts >= r.MaxAttempts {
					ev.Status = models.EventFailed
					r.Log.Error("OUTBOX", fmt.Sprintf("event %s (%s) gave up after %d attempts: %v", ev.ID, ev.EventCode, ev.Attempts, pubErr))
				}
				r.Metrics.PublishFailed(ev.EventCode)
			}
			if _, err := tx.NewUpdate().
				Model(ev).
				Column("status", "attempts", "last_error", "delivered_at").
				Where("id = ?", ev.ID).
				Exec(ctx); err != nil {
				return fmt.Errorf("mark event %s: %w", ev.ID, err)
			}
			if pubErr != nil {
				// Later events wait so per-tenant order is kept.
				break
			}
		}
		return nil
	})
	return delivered, err
}

// Requeue puts failed events back to ready so the relay retries them.
func (r *Relay) Requeue(ctx context.Context, tenantID string) (int, error) {
	q := r.DB.Bun.NewUpdate().
		Model((*models.OutboundEvent)(nil)).
		Set("status = ?", models.EventReady).
		Set("attempts = 0").
		Where("status = ?", models.EventFailed)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
