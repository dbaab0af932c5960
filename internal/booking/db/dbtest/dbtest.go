// Package dbtest opens throwaway SQLite databases with the booking schema for
// package tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Open returns a fresh in-memory database. One connection serializes every
// transaction, which stands in for the row locks SQLite lacks.
func Open(t *testing.T) *bookingdb.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	require.NoError(t, bookingdb.CreateSchema(context.Background(), bunDB))
	return bookingdb.New(bunDB)
}

// Fixture is one tenant with a staff resource and a one-hour service.
type Fixture struct {
	Tenant   *models.Tenant
	Resource *models.Resource
	Service  *models.Service
}

// Seed inserts a tenant in tz charging price per booking, with a 10% no-show
// fee and no cancellation fee.
func Seed(t *testing.T, db *bookingdb.DB, tz string, price int64) Fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	f := Fixture{
		Tenant: &models.Tenant{
			ID:           uuid.NewString(),
			Name:         "Test Salon",
			Timezone:     tz,
			Currency:     "usd",
			NoShowFeeBps: 1000,
			CreatedAt:    now,
		},
	}
	f.Resource = &models.Resource{
		ID:        uuid.NewString(),
		TenantID:  f.Tenant.ID,
		Kind:      models.ResourceStaff,
		Name:      "Alex",
		CreatedAt: now,
	}
	f.Service = &models.Service{
		ID:              uuid.NewString(),
		TenantID:        f.Tenant.ID,
		Name:            "Haircut",
		Price:           price,
		DurationMinutes: 60,
		CreatedAt:       now,
	}
	require.NoError(t, bookingdb.InsertTenant(ctx, db.Bun, f.Tenant))
	require.NoError(t, bookingdb.InsertResource(ctx, db.Bun, f.Resource))
	require.NoError(t, bookingdb.InsertService(ctx, db.Bun, f.Service))
	return f
}

// AddResource inserts another resource of the fixture tenant.
func (f Fixture) AddResource(t *testing.T, db *bookingdb.DB, name, tz string) *models.Resource {
	t.Helper()
	r := &models.Resource{
		ID:        uuid.NewString(),
		TenantID:  f.Tenant.ID,
		Kind:      models.ResourceRoom,
		Name:      name,
		Timezone:  tz,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, bookingdb.InsertResource(context.Background(), db.Bun, r))
	return r
}
