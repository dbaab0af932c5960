package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("payment transaction not found")

// InsertTransaction → append one row to the payment ledger
func InsertTransaction(ctx context.Context, idb bun.IDB, t *models.PaymentTransaction) error {
	_, err := idb.NewInsert().Model(t).Exec(ctx)
	return err
}

// GetTransaction → one transaction, tenant scoped
func GetTransaction(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := idb.NewSelect().
		Model(&t).
		Where("id = ?", id).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByBooking → the whole transaction chain of a booking, oldest first
func ListByBooking(ctx context.Context, idb bun.IDB, tenantID, bookingID string) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := idb.NewSelect().
		Model(&txs).
		Where("tenant_id = ?", tenantID).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// LatestOfType → newest transaction of a fee type in the given statuses, or nil
func LatestOfType(ctx context.Context, idb bun.IDB, tenantID, bookingID string, feeType models.FeeType, statuses ...models.PaymentStatus) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	q := idb.NewSelect().
		Model(&t).
		Where("tenant_id = ?", tenantID).
		Where("booking_id = ?", bookingID).
		Where("fee_type = ?", feeType)
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	err := q.Order("created_at DESC", "id DESC").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Transition moves a transaction from one status to another and records the
// provider outcome. It reports false when the row was no longer in from.
func Transition(ctx context.Context, idb bun.IDB, t *models.PaymentTransaction, from models.PaymentStatus, at time.Time) (bool, error) {
	t.UpdatedAt = at
	res, err := idb.NewUpdate().
		Model(t).
		Column("status", "provider_ref", "failure_reason", "updated_at").
		Where("id = ?", t.ID).
		Where("tenant_id = ?", t.TenantID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListStalePending → pending rows older than the cutoff, for re-driving
func ListStalePending(ctx context.Context, idb bun.IDB, olderThan time.Time, limit int) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := idb.NewSelect().
		Model(&txs).
		Where("status = ?", models.PaymentPending).
		Where("updated_at < ?", olderThan.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return txs, nil
}
