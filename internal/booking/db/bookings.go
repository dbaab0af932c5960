package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// bound puts a query bound in the same UTC, whole-second form the rows are
// stored in.
func bound(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ---------------- BOOKINGS ----------------

// GetBookingByToken → the booking created under an idempotency token
func GetBookingByToken(ctx context.Context, idb bun.IDB, tenantID, token string) (*models.Booking, error) {
	var b models.Booking
	err := idb.NewSelect().
		Model(&b).
		Where("tenant_id = ?", tenantID).
		Where("client_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if err := loadItems(ctx, idb, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBooking → one booking with its items, tenant scoped
func GetBooking(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Booking, error) {
	return getBooking(ctx, idb, tenantID, id, false)
}

// GetBookingForUpdate is GetBooking plus a row lock on Postgres.
func GetBookingForUpdate(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Booking, error) {
	return getBooking(ctx, idb, tenantID, id, true)
}

func getBooking(ctx context.Context, idb bun.IDB, tenantID, id string, lock bool) (*models.Booking, error) {
	var b models.Booking
	q := idb.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Where("tenant_id = ?", tenantID)
	if lock && IsPostgres(idb) {
		q = q.For("UPDATE")
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		return nil, classify(err)
	}
	if err := loadItems(ctx, idb, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func loadItems(ctx context.Context, idb bun.IDB, b *models.Booking) error {
	var items []models.BookingItem
	err := idb.NewSelect().
		Model(&items).
		Where("booking_id = ?", b.ID).
		Order("start_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return classify(err)
	}
	b.Items = items
	return nil
}

// InsertBooking inserts the booking row only. A duplicate token surfaces as
// ErrUniqueViolation.
func InsertBooking(ctx context.Context, idb bun.IDB, b *models.Booking) error {
	_, err := idb.NewInsert().Model(b).Exec(ctx)
	return classify(err)
}

// UpdateBookingState → persist status, flags and fee markers
func UpdateBookingState(ctx context.Context, idb bun.IDB, b *models.Booking) error {
	res, err := idb.NewUpdate().
		Model(b).
		Column("status", "requested_status", "cancelled_at", "cancellation_reason", "no_show",
			"no_show_fee_applied", "cancellation_fee_applied", "updated_at").
		Where("id = ?", b.ID).
		Where("tenant_id = ?", b.TenantID).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	return expectOne(res)
}

// ListBookings → bookings matching the filter, newest start first
func ListBookings(ctx context.Context, idb bun.IDB, f models.BookingFilter) ([]models.Booking, error) {
	var bookings []models.Booking
	q := idb.NewSelect().
		Model(&bookings).
		Where("tenant_id = ?", f.TenantID)
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.From != nil {
		q = q.Where("end_at > ?", bound(*f.From))
	}
	if f.To != nil {
		q = q.Where("start_at < ?", bound(*f.To))
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(f.Statuses))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q = q.Order("start_at DESC", "id ASC").Limit(limit).Offset(f.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, classify(err)
	}
	for i := range bookings {
		if err := loadItems(ctx, idb, &bookings[i]); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

// ---------------- OCCUPANCY ----------------

// FindConflict returns the first blocking item on resourceID intersecting
// [start, end), ignoring items of excludeBookingID.
func FindConflict(ctx context.Context, idb bun.IDB, resourceID string, start, end time.Time, excludeBookingID string) (*models.BookingItem, error) {
	var item models.BookingItem
	q := idb.NewSelect().
		Model(&item).
		Where("resource_id = ?", resourceID).
		Where("blocks_time = ?", true).
		Where("occupied_start < ?", bound(end)).
		Where("occupied_end > ?", bound(start))
	if excludeBookingID != "" {
		q = q.Where("booking_id <> ?", excludeBookingID)
	}
	err := q.Order("occupied_start ASC").Limit(1).Scan(ctx)
	if err != nil {
		err = classify(err)
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ReserveItems checks every item against the blocking set and inserts them.
// The caller must already hold the resource locks. On Postgres the exclusion
// constraint backs the check up; its violation comes back as ErrOverlap.
func ReserveItems(ctx context.Context, idb bun.IDB, items []models.BookingItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if !it.BlocksTime {
			continue
		}
		hit, err := FindConflict(ctx, idb, it.ResourceID, it.OccupiedStart, it.OccupiedEnd, it.BookingID)
		if err != nil {
			return err
		}
		if hit != nil {
			return fmt.Errorf("%w: resource %s held by booking %s", ErrOverlap, it.ResourceID, hit.BookingID)
		}
	}
	_, err := idb.NewInsert().Model(&items).Exec(ctx)
	return classify(err)
}

// SetItemsBlocking flips blocks_time for every item of a booking. Turning
// blocking on re-validates each item first.
func SetItemsBlocking(ctx context.Context, idb bun.IDB, bookingID string, items []models.BookingItem, blocks bool) error {
	if blocks {
		for _, it := range items {
			hit, err := FindConflict(ctx, idb, it.ResourceID, it.OccupiedStart, it.OccupiedEnd, bookingID)
			if err != nil {
				return err
			}
			if hit != nil {
				return fmt.Errorf("%w: resource %s held by booking %s", ErrOverlap, it.ResourceID, hit.BookingID)
			}
		}
	}
	_, err := idb.NewUpdate().
		Model((*models.BookingItem)(nil)).
		Set("blocks_time = ?", blocks).
		Where("booking_id = ?", bookingID).
		Exec(ctx)
	return classify(err)
}

// ListBusy → blocking intervals on a resource intersecting [from, to)
func ListBusy(ctx context.Context, idb bun.IDB, tenantID, resourceID string, from, to time.Time) ([]models.BusyInterval, error) {
	var items []models.BookingItem
	err := idb.NewSelect().
		Model(&items).
		Where("tenant_id = ?", tenantID).
		Where("resource_id = ?", resourceID).
		Where("blocks_time = ?", true).
		Where("occupied_start < ?", bound(to)).
		Where("occupied_end > ?", bound(from)).
		Order("occupied_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]models.BusyInterval, 0, len(items))
	for _, it := range items {
		out = append(out, models.BusyInterval{
			BookingID: it.BookingID,
			Start:     it.OccupiedStart.UTC(),
			End:       it.OccupiedEnd.UTC(),
		})
	}
	return out, nil
}
