package registry_test

import (
	"context"
	"testing"
	"time"

	"ms-booking/internal/booking/db/dbtest"
	"ms-booking/internal/models"
	"ms-booking/internal/outbox"
	"ms-booking/internal/registry"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) (*registry.Registry, dbtest.Fixture, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "America/New_York", 10000)
	return registry.New(db, client, time.Minute, outbox.NewEmitter(), nil), fx, mr
}

func TestTenantIsCached(t *testing.T) {
	reg, fx, mr := setupRegistry(t)
	ctx := context.Background()

	got, err := reg.Tenant(ctx, nil, fx.Tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", got.Timezone)
	assert.True(t, mr.Exists("registry:tenant:"+fx.Tenant.ID))

	// A write behind the registry's back is not seen until the entry expires.
	_, err = reg.DB.Bun.NewUpdate().Model((*models.Tenant)(nil)).
		Set("timezone = ?", "Europe/Paris").Where("id = ?", fx.Tenant.ID).Exec(ctx)
	require.NoError(t, err)

	got, err = reg.Tenant(ctx, nil, fx.Tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", got.Timezone)

	mr.FastForward(2 * time.Minute)
	got, err = reg.Tenant(ctx, nil, fx.Tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", got.Timezone)
}

func TestUpdateServicePolicyEvicts(t *testing.T) {
	reg, fx, mr := setupRegistry(t)
	ctx := context.Background()

	svc, err := reg.Service(ctx, nil, fx.Tenant.ID, fx.Service.ID)
	require.NoError(t, err)
	assert.Nil(t, svc.NoShowFeeBps)

	bps := int64(2500)
	svc.NoShowFeeBps = &bps
	svc.Price = 12000
	require.NoError(t, reg.UpdateServicePolicy(ctx, svc, "admin"))
	assert.False(t, mr.Exists("registry:service:"+fx.Tenant.ID+":"+fx.Service.ID))

	fresh, err := reg.Service(ctx, nil, fx.Tenant.ID, fx.Service.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.NoShowFeeBps)
	assert.Equal(t, int64(2500), *fresh.NoShowFeeBps)
	assert.Equal(t, int64(12000), fresh.Price)

	var audits []models.AuditRecord
	require.NoError(t, reg.DB.Bun.NewSelect().Model(&audits).Where("record_id = ?", fx.Service.ID).Scan(ctx))
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditUpdate, audits[0].Operation)
	assert.Contains(t, audits[0].Before, `"price":10000`)
	assert.Contains(t, audits[0].After, `"price":12000`)
}

func TestUpdateTenantPolicyUnknown(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	err := reg.UpdateTenantPolicy(context.Background(), &models.Tenant{ID: "missing", Currency: "usd"}, "admin")
	assert.Error(t, err)
}

func TestCreateTenantAndResource(t *testing.T) {
	reg, _, _ := setupRegistry(t)
	ctx := context.Background()

	tenant := &models.Tenant{ID: uuid.NewString(), Name: "Clinic", Currency: "eur", CreatedAt: time.Now().UTC()}
	require.NoError(t, reg.CreateTenant(ctx, tenant, "admin"))

	res := &models.Resource{ID: uuid.NewString(), TenantID: tenant.ID, Kind: models.ResourceRoom, Name: "Room 1", CreatedAt: time.Now().UTC()}
	require.NoError(t, reg.CreateResource(ctx, res, "admin"))

	got, err := reg.Resource(ctx, nil, tenant.ID, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Room 1", got.Name)

	var audits []models.AuditRecord
	require.NoError(t, reg.DB.Bun.NewSelect().Model(&audits).Where("record_id = ?", res.ID).Scan(ctx))
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditInsert, audits[0].Operation)
	assert.Equal(t, "resources", audits[0].TableName)

	_, err = reg.Resource(ctx, nil, "other-tenant", res.ID)
	assert.Error(t, err)
}

func TestRegistryWithoutCache(t *testing.T) {
	db := dbtest.Open(t)
	fx := dbtest.Seed(t, db, "UTC", 500)
	reg := registry.New(db, nil, time.Minute, outbox.NewEmitter(), nil)

	got, err := reg.Service(context.Background(), nil, fx.Tenant.ID, fx.Service.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Price)
}

func TestRegistryWritesRejectUnknownZone(t *testing.T) {
	reg, fx, _ := setupRegistry(t)
	ctx := context.Background()

	tenant := &models.Tenant{ID: uuid.NewString(), Name: "Clinic", Currency: "eur", Timezone: "Atlantis/Capital", CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, reg.CreateTenant(ctx, tenant, "admin"), registry.ErrInvalidTimezone)
	_, err := reg.Tenant(ctx, nil, tenant.ID)
	assert.Error(t, err, "rejected tenant must not be stored")

	res := &models.Resource{ID: uuid.NewString(), TenantID: fx.Tenant.ID, Kind: models.ResourceRoom, Name: "Room 2", Timezone: "GMT+99", CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, reg.CreateResource(ctx, res, "admin"), registry.ErrInvalidTimezone)
	_, err = reg.Resource(ctx, nil, fx.Tenant.ID, res.ID)
	assert.Error(t, err)

	policy := *fx.Tenant
	policy.Timezone = "America/Nowhere"
	assert.ErrorIs(t, reg.UpdateTenantPolicy(ctx, &policy, "admin"), registry.ErrInvalidTimezone)
	got, err := reg.Tenant(ctx, nil, fx.Tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", got.Timezone)

	res.Timezone = "Europe/Lisbon"
	require.NoError(t, reg.CreateResource(ctx, res, "admin"))
	policy.Timezone = ""
	require.NoError(t, reg.UpdateTenantPolicy(ctx, &policy, "admin"))
}

func TestCreateResourceEvictsCachedEntry(t *testing.T) {
	reg, fx, mr := setupRegistry(t)
	ctx := context.Background()

	id := uuid.NewString()
	key := "registry:resource:" + fx.Tenant.ID + ":" + id
	require.NoError(t, mr.Set(key, `{"id":"`+id+`","name":"stale"}`))

	res := &models.Resource{ID: id, TenantID: fx.Tenant.ID, Kind: models.ResourceStaff, Name: "Sam", CreatedAt: time.Now().UTC()}
	require.NoError(t, reg.CreateResource(ctx, res, "admin"))
	assert.False(t, mr.Exists(key))

	got, err := reg.Resource(ctx, nil, fx.Tenant.ID, id)
	require.NoError(t, err)
	assert.Equal(t, "Sam", got.Name)
}
