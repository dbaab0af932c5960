package outbox

import (
	"context"
	"fmt"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
)

// Sweeper enforces the audit retention window. Delivered events past the
// window go with it; ready and failed events are kept.
type Sweeper struct {
	DB        *bookingdb.DB
	Retention time.Duration
	Interval  time.Duration
	Log       *logger.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewSweeper(db *bookingdb.DB, retentionDays int, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		DB:        db,
		Retention: time.Duration(retentionDays) * 24 * time.Hour,
		Interval:  interval,
		Log:       log,
		Metrics:   m,
		Now:       time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.Log.Error("SWEEPER", fmt.Sprintf("audit sweep failed: %v", err))
			}
		}
	}
}

// SweepOnce returns the number of audit records removed. A zero retention
// keeps everything.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	if s.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.Now().UTC().Add(-s.Retention).Truncate(time.Second)

	res, err := s.DB.Bun.NewDelete().
		Model((*models.AuditRecord)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.DB.Bun.NewDelete().
		Model((*models.OutboundEvent)(nil)).
		Where("status = ?", models.EventDelivered).
		Where("created_at < ?", cutoff).
		Exec(ctx); err != nil {
		return n, fmt.Errorf("purge delivered events: %w", err)
	}

	s.Metrics.Purged(n)
	if n > 0 {
		s.Log.LogDatabase("PURGE", "audit_records", fmt.Sprintf("removed %d records older than %s", n, cutoff.Format(time.RFC3339)))
	}
	return n, nil
}
