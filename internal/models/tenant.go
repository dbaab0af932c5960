package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Tenant struct {
	bun.BaseModel `bun:"table:tenants"`

	ID       string `bun:"id,pk" json:"id"`
	Name     string `bun:"name,notnull" json:"name"`
	Timezone string `bun:"timezone,nullzero" json:"timezone,omitempty"`
	Currency string `bun:"currency,notnull" json:"currency"`

	// Fee policy defaults, in basis points where a rate is meant.
	NoShowFeeBps            int64 `bun:"no_show_fee_bps,notnull" json:"no_show_fee_bps"`
	CancellationFeeBps      int64 `bun:"cancellation_fee_bps,notnull" json:"cancellation_fee_bps"`
	CancellationFlatFee     int64 `bun:"cancellation_flat_fee,notnull" json:"cancellation_flat_fee"`
	CancellationCutoffHours int   `bun:"cancellation_cutoff_hours,notnull" json:"cancellation_cutoff_hours"`
	ApplicationFeeBps       int64 `bun:"application_fee_bps,notnull" json:"application_fee_bps"`

	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at"`
	DeletedAt *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

type ResourceKind string

const (
	ResourceStaff ResourceKind = "staff"
	ResourceRoom  ResourceKind = "room"
)

type Resource struct {
	bun.BaseModel `bun:"table:resources"`

	ID        string       `bun:"id,pk" json:"id"`
	TenantID  string       `bun:"tenant_id,notnull" json:"tenant_id"`
	Kind      ResourceKind `bun:"kind,notnull" json:"kind"`
	Name      string       `bun:"name,notnull" json:"name"`
	Timezone  string       `bun:"timezone,nullzero" json:"timezone,omitempty"`
	CreatedAt time.Time    `bun:"created_at,notnull" json:"created_at"`
	DeletedAt *time.Time   `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// Service is a catalogue entry. Bookings snapshot its name, price and duration.
type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID                  string `bun:"id,pk" json:"id"`
	TenantID            string `bun:"tenant_id,notnull" json:"tenant_id"`
	Name                string `bun:"name,notnull" json:"name"`
	Price               int64  `bun:"price,notnull" json:"price"`
	DurationMinutes     int    `bun:"duration_minutes,notnull" json:"duration_minutes"`
	BufferBeforeMinutes int    `bun:"buffer_before_minutes,notnull" json:"buffer_before_minutes"`
	BufferAfterMinutes  int    `bun:"buffer_after_minutes,notnull" json:"buffer_after_minutes"`

	// Overrides of the tenant fee policy; nil means "use the tenant default".
	NoShowFeeBps            *int64 `bun:"no_show_fee_bps" json:"no_show_fee_bps,omitempty"`
	CancellationFeeBps      *int64 `bun:"cancellation_fee_bps" json:"cancellation_fee_bps,omitempty"`
	CancellationFlatFee     *int64 `bun:"cancellation_flat_fee" json:"cancellation_flat_fee,omitempty"`
	CancellationCutoffHours *int   `bun:"cancellation_cutoff_hours" json:"cancellation_cutoff_hours,omitempty"`

	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at"`
	DeletedAt *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}
