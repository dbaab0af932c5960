package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuditOperation string

const (
	AuditInsert AuditOperation = "insert"
	AuditUpdate AuditOperation = "update"
	AuditDelete AuditOperation = "delete"
)

type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_records"`

	ID        string         `bun:"id,pk" json:"id"`
	TenantID  string         `bun:"tenant_id,notnull" json:"tenant_id"`
	TableName string         `bun:"table_name,notnull" json:"table_name"`
	Operation AuditOperation `bun:"operation,notnull" json:"operation"`
	RecordID  string         `bun:"record_id,notnull" json:"record_id"`
	Before    string         `bun:"before_image,type:jsonb,nullzero" json:"before,omitempty"`
	After     string         `bun:"after_image,type:jsonb,nullzero" json:"after,omitempty"`
	ActorID   string         `bun:"actor_id,notnull" json:"actor_id"`
	CreatedAt time.Time      `bun:"created_at,notnull" json:"created_at"`
}

type EventStatus string

const (
	EventReady     EventStatus = "ready"
	EventDelivered EventStatus = "delivered"
	EventFailed    EventStatus = "failed"
)

// Event codes produced alongside committed mutations.
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCheckedIn = "booking.checked_in"
	EventBookingCanceled  = "booking.canceled"
	EventBookingCompleted = "booking.completed"
	EventBookingNoShow    = "booking.no_show"
	EventBookingFailed    = "booking.failed"
	EventPaymentCaptured  = "payment.captured"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentFeeCharge = "payment.fee_charged"
	EventPaymentFailed    = "payment.failed"
)

type OutboundEvent struct {
	bun.BaseModel `bun:"table:outbound_events"`

	ID          string      `bun:"id,pk" json:"id"`
	TenantID    string      `bun:"tenant_id,notnull" json:"tenant_id"`
	EventCode   string      `bun:"event_code,notnull" json:"event_code"`
	Payload     string      `bun:"payload,type:jsonb,notnull" json:"payload"`
	Status      EventStatus `bun:"status,notnull" json:"status"`
	Attempts    int         `bun:"attempts,notnull" json:"attempts"`
	DedupKey    string      `bun:"dedup_key,nullzero" json:"dedup_key,omitempty"`
	LastError   string      `bun:"last_error,nullzero" json:"last_error,omitempty"`
	CreatedAt   time.Time   `bun:"created_at,notnull" json:"created_at"`
	DeliveredAt *time.Time  `bun:"delivered_at,nullzero" json:"delivered_at,omitempty"`
}
