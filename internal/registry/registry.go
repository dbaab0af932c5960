// Package registry serves tenants, resources and services with a Redis
// read-through cache. Policy edits write through the store, emit an audit
// record and drop the cached copy.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/outbox"

	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
)

const keyPrefix = "registry:"

// ErrInvalidTimezone rejects a zone name the tz database does not know.
var ErrInvalidTimezone = errors.New("invalid timezone")

type Registry struct {
	DB      *bookingdb.DB
	Client  *redis.Client // nil disables caching
	TTL     time.Duration
	Emitter *outbox.Emitter
	Log     *logger.Logger
}

func New(db *bookingdb.DB, client *redis.Client, ttl time.Duration, em *outbox.Emitter, log *logger.Logger) *Registry {
	return &Registry{DB: db, Client: client, TTL: ttl, Emitter: em, Log: log}
}

func tenantKey(id string) string            { return keyPrefix + "tenant:" + id }
func serviceKey(tenantID, id string) string { return keyPrefix + "service:" + tenantID + ":" + id }
func resourceKey(tenantID, id string) string {
	return keyPrefix + "resource:" + tenantID + ":" + id
}

// Tenant reads through the cache; on a miss the row is loaded via idb, or the
// registry's own handle when idb is nil.
func (r *Registry) Tenant(ctx context.Context, idb bun.IDB, id string) (*models.Tenant, error) {
	var t models.Tenant
	if r.get(ctx, tenantKey(id), &t) {
		return &t, nil
	}
	row, err := bookingdb.GetTenant(ctx, r.idb(idb), id)
	if err != nil {
		return nil, err
	}
	r.put(ctx, tenantKey(id), row)
	return row, nil
}

func (r *Registry) Service(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Service, error) {
	var s models.Service
	if r.get(ctx, serviceKey(tenantID, id), &s) {
		return &s, nil
	}
	row, err := bookingdb.GetService(ctx, r.idb(idb), tenantID, id)
	if err != nil {
		return nil, err
	}
	r.put(ctx, serviceKey(tenantID, id), row)
	return row, nil
}

// Resource is for display and validation only. Booking writes lock the
// resource row in the store instead.
func (r *Registry) Resource(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Resource, error) {
	var res models.Resource
	if r.get(ctx, resourceKey(tenantID, id), &res) {
		return &res, nil
	}
	row, err := bookingdb.GetResource(ctx, r.idb(idb), tenantID, id)
	if err != nil {
		return nil, err
	}
	r.put(ctx, resourceKey(tenantID, id), row)
	return row, nil
}

// ---------------- WRITES ----------------

func (r *Registry) CreateTenant(ctx context.Context, t *models.Tenant, actor string) error {
	if err := checkZone(t.Timezone); err != nil {
		return err
	}
	return r.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := bookingdb.InsertTenant(ctx, tx, t); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		return r.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: t.ID, Table: "tenants", RecordID: t.ID,
			Operation: models.AuditInsert, ActorID: actor, After: t,
		}, nil)
	})
}

func (r *Registry) CreateResource(ctx context.Context, res *models.Resource, actor string) error {
	if err := checkZone(res.Timezone); err != nil {
		return err
	}
	err := r.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := bookingdb.InsertResource(ctx, tx, res); err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
		return r.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: res.TenantID, Table: "resources", RecordID: res.ID,
			Operation: models.AuditInsert, ActorID: actor, After: res,
		}, nil)
	})
	if err != nil {
		return err
	}
	r.evict(ctx, resourceKey(res.TenantID, res.ID))
	return nil
}

func (r *Registry) CreateService(ctx context.Context, s *models.Service, actor string) error {
	return r.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := bookingdb.InsertService(ctx, tx, s); err != nil {
			return fmt.Errorf("insert service: %w", err)
		}
		return r.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: s.TenantID, Table: "services", RecordID: s.ID,
			Operation: models.AuditInsert, ActorID: actor, After: s,
		}, nil)
	})
}

// UpdateTenantPolicy replaces the fee policy of a tenant.
func (r *Registry) UpdateTenantPolicy(ctx context.Context, t *models.Tenant, actor string) error {
	if err := checkZone(t.Timezone); err != nil {
		return err
	}
	err := r.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		before, err := bookingdb.GetTenant(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if err := bookingdb.UpdateTenantPolicy(ctx, tx, t); err != nil {
			return err
		}
		return r.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: t.ID, Table: "tenants", RecordID: t.ID,
			Operation: models.AuditUpdate, ActorID: actor, Before: before, After: t,
		}, nil)
	})
	if err != nil {
		return err
	}
	r.evict(ctx, tenantKey(t.ID))
	return nil
}

// UpdateServicePolicy replaces price, duration, buffers and fee overrides.
func (r *Registry) UpdateServicePolicy(ctx context.Context, s *models.Service, actor string) error {
	err := r.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		before, err := bookingdb.GetService(ctx, tx, s.TenantID, s.ID)
		if err != nil {
			return err
		}
		if err := bookingdb.UpdateServicePolicy(ctx, tx, s); err != nil {
			return err
		}
		return r.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: s.TenantID, Table: "services", RecordID: s.ID,
			Operation: models.AuditUpdate, ActorID: actor, Before: before, After: s,
		}, nil)
	})
	if err != nil {
		return err
	}
	r.evict(ctx, serviceKey(s.TenantID, s.ID))
	return nil
}

// checkZone accepts an empty zone, which defers to the next fallback.
func checkZone(name string) error {
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return nil
}

// ---------------- CACHE ----------------

func (r *Registry) idb(idb bun.IDB) bun.IDB {
	if idb != nil {
		return idb
	}
	return r.DB.Bun
}

func (r *Registry) get(ctx context.Context, key string, dst any) bool {
	if r.Client == nil {
		return false
	}
	raw, err := r.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		r.Log.Warn("REGISTRY", fmt.Sprintf("cache read %s failed: %v", key, err))
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.evict(ctx, key)
		return false
	}
	return true
}

func (r *Registry) put(ctx context.Context, key string, v any) {
	if r.Client == nil || r.TTL <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.Client.Set(ctx, key, raw, r.TTL).Err(); err != nil {
		r.Log.Warn("REGISTRY", fmt.Sprintf("cache write %s failed: %v", key, err))
	}
}

func (r *Registry) evict(ctx context.Context, key string) {
	if r.Client == nil {
		return
	}
	if err := r.Client.Del(ctx, key).Err(); err != nil {
		r.Log.Warn("REGISTRY", fmt.Sprintf("cache evict %s failed: %v", key, err))
	}
}
