package db

import (
	"context"
	"sort"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// GetTenant → fetch a live tenant
func GetTenant(ctx context.Context, idb bun.IDB, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := idb.NewSelect().
		Model(&t).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// GetResource → fetch a live resource scoped to its tenant
func GetResource(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Resource, error) {
	var r models.Resource
	err := idb.NewSelect().
		Model(&r).
		Where("id = ?", id).
		Where("tenant_id = ?", tenantID).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

// GetService → fetch a live catalogue entry scoped to its tenant
func GetService(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Service, error) {
	var s models.Service
	err := idb.NewSelect().
		Model(&s).
		Where("id = ?", id).
		Where("tenant_id = ?", tenantID).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

// LockResources loads the given resources in id order, taking row locks on
// Postgres so writers on the same resource queue behind each other. Sorting
// keeps lock acquisition order stable across transactions.
func LockResources(ctx context.Context, idb bun.IDB, tenantID string, ids []string) ([]models.Resource, error) {
	uniq := make(map[string]struct{}, len(ids))
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := uniq[id]; ok {
			continue
		}
		uniq[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make([]models.Resource, 0, len(sorted))
	for _, id := range sorted {
		var r models.Resource
		q := idb.NewSelect().
			Model(&r).
			Where("id = ?", id).
			Where("tenant_id = ?", tenantID).
			Where("deleted_at IS NULL")
		if IsPostgres(idb) {
			q = q.For("UPDATE")
		}
		if err := q.Limit(1).Scan(ctx); err != nil {
			return nil, classify(err)
		}
		out = append(out, r)
	}
	return out, nil
}

func InsertTenant(ctx context.Context, idb bun.IDB, t *models.Tenant) error {
	_, err := idb.NewInsert().Model(t).Exec(ctx)
	return classify(err)
}

func InsertResource(ctx context.Context, idb bun.IDB, r *models.Resource) error {
	_, err := idb.NewInsert().Model(r).Exec(ctx)
	return classify(err)
}

func InsertService(ctx context.Context, idb bun.IDB, s *models.Service) error {
	_, err := idb.NewInsert().Model(s).Exec(ctx)
	return classify(err)
}

// UpdateTenantPolicy → overwrite the fee policy and default zone of a tenant
func UpdateTenantPolicy(ctx context.Context, idb bun.IDB, t *models.Tenant) error {
	res, err := idb.NewUpdate().
		Model(t).
		Column("timezone", "currency", "no_show_fee_bps", "cancellation_fee_bps",
			"cancellation_flat_fee", "cancellation_cutoff_hours", "application_fee_bps").
		Where("id = ?", t.ID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	return expectOne(res)
}

// UpdateServicePolicy → overwrite price, duration, buffers and fee overrides
func UpdateServicePolicy(ctx context.Context, idb bun.IDB, s *models.Service) error {
	res, err := idb.NewUpdate().
		Model(s).
		Column("name", "price", "duration_minutes", "buffer_before_minutes", "buffer_after_minutes",
			"no_show_fee_bps", "cancellation_fee_bps", "cancellation_flat_fee", "cancellation_cutoff_hours").
		Where("id = ?", s.ID).
		Where("tenant_id = ?", s.TenantID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	return expectOne(res)
}
