package db_test

import (
	"context"
	"testing"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/booking/db/dbtest"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2030, 5, 6, 9, 0, 0, 0, time.UTC)

func newBooking(fx dbtest.Fixture, token string, start time.Time, blocks bool) (*models.Booking, []models.BookingItem) {
	end := start.Add(time.Hour)
	b := &models.Booking{
		ID:              uuid.NewString(),
		TenantID:        fx.Tenant.ID,
		CustomerID:      "cust",
		ResourceID:      fx.Resource.ID,
		ClientToken:     token,
		PayloadHash:     "hash-" + token,
		ServiceID:       fx.Service.ID,
		ServiceName:     fx.Service.Name,
		ServicePrice:    fx.Service.Price,
		ServiceDuration: 60,
		Currency:        "usd",
		StartAt:         start,
		EndAt:           end,
		Timezone:        "UTC",
		Status:          models.BookingPending,
		RequestedStatus: models.BookingPending,
		AttendeeCount:   1,
		CreatedAt:       base,
		UpdatedAt:       base,
	}
	items := []models.BookingItem{{
		ID:            uuid.NewString(),
		BookingID:     b.ID,
		TenantID:      b.TenantID,
		ResourceID:    b.ResourceID,
		ServiceID:     b.ServiceID,
		StartAt:       start,
		EndAt:         end,
		OccupiedStart: start,
		OccupiedEnd:   end,
		Price:         b.ServicePrice,
		BlocksTime:    blocks,
	}}
	return b, items
}

func insert(t *testing.T, db *bookingdb.DB, b *models.Booking, items []models.BookingItem) error {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, bookingdb.InsertBooking(ctx, db.Bun, b))
	return bookingdb.ReserveItems(ctx, db.Bun, items)
}

func TestReserveItemsRejectsOverlap(t *testing.T) {
	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "UTC", 1000)

	b1, items1 := newBooking(fx, "t1", base, true)
	require.NoError(t, insert(t, db, b1, items1))

	b2, items2 := newBooking(fx, "t2", base.Add(30*time.Minute), true)
	err := insert(t, db, b2, items2)
	assert.ErrorIs(t, err, bookingdb.ErrOverlap)

	// Non-blocking items never conflict.
	b3, items3 := newBooking(fx, "t3", base.Add(30*time.Minute), false)
	assert.NoError(t, insert(t, db, b3, items3))

	hit, err := bookingdb.FindConflict(context.Background(), db.Bun, fx.Resource.ID, base, base.Add(time.Hour), b1.ID)
	require.NoError(t, err)
	assert.Nil(t, hit, "a booking never conflicts with itself")
}

func TestSetItemsBlockingRevalidates(t *testing.T) {
	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "UTC", 1000)
	ctx := context.Background()

	parked, parkedItems := newBooking(fx, "t1", base, false)
	require.NoError(t, insert(t, db, parked, parkedItems))
	holder, holderItems := newBooking(fx, "t2", base, true)
	require.NoError(t, insert(t, db, holder, holderItems))

	err := bookingdb.SetItemsBlocking(ctx, db.Bun, parked.ID, parkedItems, true)
	assert.ErrorIs(t, err, bookingdb.ErrOverlap)

	require.NoError(t, bookingdb.SetItemsBlocking(ctx, db.Bun, holder.ID, holderItems, false))
	require.NoError(t, bookingdb.SetItemsBlocking(ctx, db.Bun, parked.ID, parkedItems, true))

	busy, err := bookingdb.ListBusy(ctx, db.Bun, fx.Tenant.ID, fx.Resource.ID, base.Add(-time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, parked.ID, busy[0].BookingID)
}

func TestDuplicateTokenIsUniqueViolation(t *testing.T) {
	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "UTC", 1000)
	ctx := context.Background()

	b1, _ := newBooking(fx, "same", base, true)
	require.NoError(t, bookingdb.InsertBooking(ctx, db.Bun, b1))

	b2, _ := newBooking(fx, "same", base.Add(2*time.Hour), true)
	err := bookingdb.InsertBooking(ctx, db.Bun, b2)
	assert.ErrorIs(t, err, bookingdb.ErrUniqueViolation)

	got, err := bookingdb.GetBookingByToken(ctx, db.Bun, fx.Tenant.ID, "same")
	require.NoError(t, err)
	assert.Equal(t, b1.ID, got.ID)

	_, err = bookingdb.GetBookingByToken(ctx, db.Bun, fx.Tenant.ID, "missing")
	assert.ErrorIs(t, err, bookingdb.ErrNotFound)
}

func TestUpdateBookingStateScopedToTenant(t *testing.T) {
	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "UTC", 1000)
	ctx := context.Background()

	b, items := newBooking(fx, "t1", base, true)
	require.NoError(t, insert(t, db, b, items))

	b.RequestedStatus = models.BookingConfirmed
	b.Status = models.BookingConfirmed
	require.NoError(t, bookingdb.UpdateBookingState(ctx, db.Bun, b))

	got, err := bookingdb.GetBooking(ctx, db.Bun, fx.Tenant.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	require.Len(t, got.Items, 1)

	b.TenantID = "someone-else"
	assert.ErrorIs(t, bookingdb.UpdateBookingState(ctx, db.Bun, b), bookingdb.ErrNotFound)
}

func TestLockResourcesUnknown(t *testing.T) {
	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "UTC", 1000)

	locked, err := bookingdb.LockResources(context.Background(), db.Bun, fx.Tenant.ID, []string{fx.Resource.ID, fx.Resource.ID})
	require.NoError(t, err)
	assert.Len(t, locked, 1)

	_, err = bookingdb.LockResources(context.Background(), db.Bun, fx.Tenant.ID, []string{"ghost"})
	assert.ErrorIs(t, err, bookingdb.ErrNotFound)
}
