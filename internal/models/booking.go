package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCheckedIn BookingStatus = "checked_in"
	BookingCompleted BookingStatus = "completed"
	BookingCanceled  BookingStatus = "canceled"
	BookingNoShow    BookingStatus = "no_show"
	BookingFailed    BookingStatus = "failed"
)

// AllBookingStatuses lists every status in lifecycle order.
var AllBookingStatuses = []BookingStatus{
	BookingPending,
	BookingConfirmed,
	BookingCheckedIn,
	BookingCompleted,
	BookingCanceled,
	BookingNoShow,
	BookingFailed,
}

func (s BookingStatus) Valid() bool {
	for _, v := range AllBookingStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID          string `bun:"id,pk" json:"id"`
	TenantID    string `bun:"tenant_id,notnull" json:"tenant_id"`
	CustomerID  string `bun:"customer_id,notnull" json:"customer_id"`
	ResourceID  string `bun:"resource_id,notnull" json:"resource_id"`
	ClientToken string `bun:"client_token,notnull" json:"client_token"`
	PayloadHash string `bun:"payload_hash,notnull" json:"-"`

	// Service snapshot taken at booking time.
	ServiceID       string `bun:"service_id,notnull" json:"service_id"`
	ServiceName     string `bun:"service_name,notnull" json:"service_name"`
	ServicePrice    int64  `bun:"service_price,notnull" json:"service_price"`
	ServiceDuration int    `bun:"service_duration_minutes,notnull" json:"service_duration_minutes"`
	Currency        string `bun:"currency,notnull" json:"currency"`

	StartAt  time.Time `bun:"start_at,notnull" json:"start_at"`
	EndAt    time.Time `bun:"end_at,notnull" json:"end_at"`
	Timezone string    `bun:"timezone,notnull" json:"timezone"`

	Status             BookingStatus `bun:"status,notnull" json:"status"`
	RequestedStatus    BookingStatus `bun:"requested_status,notnull" json:"requested_status"`
	CancelledAt        *time.Time    `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	CancellationReason string        `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`
	NoShow             bool          `bun:"no_show,notnull" json:"no_show"`

	NoShowFeeApplied       bool `bun:"no_show_fee_applied,notnull" json:"no_show_fee_applied"`
	CancellationFeeApplied bool `bun:"cancellation_fee_applied,notnull" json:"cancellation_fee_applied"`

	AttendeeCount   int    `bun:"attendee_count,notnull" json:"attendee_count"`
	RescheduledFrom string `bun:"rescheduled_from,nullzero" json:"rescheduled_from,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`

	Items []BookingItem `bun:"-" json:"items,omitempty"`
}

// Amount is the chargeable total of the booking: the sum of its item prices,
// falling back to the service snapshot price when items are not loaded.
func (b *Booking) Amount() int64 {
	if len(b.Items) == 0 {
		return b.ServicePrice
	}
	var total int64
	for _, it := range b.Items {
		total += it.Price
	}
	return total
}

type BookingItem struct {
	bun.BaseModel `bun:"table:booking_items"`

	ID                  string    `bun:"id,pk" json:"id"`
	BookingID           string    `bun:"booking_id,notnull" json:"booking_id"`
	TenantID            string    `bun:"tenant_id,notnull" json:"tenant_id"`
	ResourceID          string    `bun:"resource_id,notnull" json:"resource_id"`
	ServiceID           string    `bun:"service_id,notnull" json:"service_id"`
	StartAt             time.Time `bun:"start_at,notnull" json:"start_at"`
	EndAt               time.Time `bun:"end_at,notnull" json:"end_at"`
	BufferBeforeMinutes int       `bun:"buffer_before_minutes,notnull" json:"buffer_before_minutes"`
	BufferAfterMinutes  int       `bun:"buffer_after_minutes,notnull" json:"buffer_after_minutes"`
	OccupiedStart       time.Time `bun:"occupied_start,notnull" json:"occupied_start"`
	OccupiedEnd         time.Time `bun:"occupied_end,notnull" json:"occupied_end"`
	Price               int64     `bun:"price,notnull" json:"price"`
	BlocksTime          bool      `bun:"blocks_time,notnull" json:"blocks_time"`
}

// BookingFilter narrows booking queries. TenantID is mandatory.
type BookingFilter struct {
	TenantID   string
	ResourceID string
	CustomerID string
	From       *time.Time
	To         *time.Time
	Statuses   []BookingStatus
	Limit      int
	Offset     int
}

// BusyInterval is an occupied span on a resource, buffers included.
type BusyInterval struct {
	BookingID string    `json:"booking_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}
