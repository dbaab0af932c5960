package db

import (
	"context"
	"database/sql"
	"fmt"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type DB struct {
	Bun *bun.DB
}

func New(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// RunInTx runs fn in a transaction, read committed on Postgres. Inside fn
// every query must go through tx.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	var opts *sql.TxOptions
	if IsPostgres(d.Bun) {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return d.Bun.RunInTx(ctx, opts, fn)
}

// IsPostgres reports whether row locks and the exclusion constraint exist.
func IsPostgres(idb bun.IDB) bool {
	return idb.Dialect().Name() == dialect.PG
}

var schemaModels = []any{
	(*models.Tenant)(nil),
	(*models.Resource)(nil),
	(*models.Service)(nil),
	(*models.Booking)(nil),
	(*models.BookingItem)(nil),
	(*models.PaymentTransaction)(nil),
	(*models.AuditRecord)(nil),
	(*models.OutboundEvent)(nil),
}

type indexDef struct {
	model   any
	name    string
	columns []string
	unique  bool
	where   string
}

var schemaIndexes = []indexDef{
	{(*models.Booking)(nil), "bookings_tenant_token_uq", []string{"tenant_id", "client_token"}, true, ""},
	{(*models.Booking)(nil), "bookings_tenant_resource_start_idx", []string{"tenant_id", "resource_id", "start_at"}, false, ""},
	{(*models.BookingItem)(nil), "booking_items_resource_occupied_idx", []string{"resource_id", "occupied_start", "occupied_end"}, false, ""},
	{(*models.BookingItem)(nil), "booking_items_booking_idx", []string{"booking_id"}, false, ""},
	{(*models.PaymentTransaction)(nil), "payment_transactions_booking_idx", []string{"booking_id"}, false, ""},
	{(*models.AuditRecord)(nil), "audit_records_created_idx", []string{"created_at"}, false, ""},
	{(*models.OutboundEvent)(nil), "outbound_events_status_idx", []string{"status", "created_at"}, false, ""},
	{(*models.OutboundEvent)(nil), "outbound_events_dedup_uq", []string{"tenant_id", "dedup_key"}, true, "dedup_key IS NOT NULL"},
}

// CreateSchema builds the tables straight from the models. Production
// Postgres uses the SQL migrations instead, which add the exclusion
// constraint this cannot express.
func CreateSchema(ctx context.Context, idb bun.IDB) error {
	for _, m := range schemaModels {
		if _, err := idb.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", m, err)
		}
	}
	for _, ix := range schemaIndexes {
		q := idb.NewCreateIndex().Model(ix.model).Index(ix.name).Column(ix.columns...).IfNotExists()
		if ix.unique {
			q = q.Unique()
		}
		if ix.where != "" {
			q = q.Where(ix.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", ix.name, err)
		}
	}
	return nil
}
