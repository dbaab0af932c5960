package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Change describes one committed row mutation.
type Change struct {
	TenantID  string
	Table     string
	RecordID  string
	Operation models.AuditOperation
	ActorID   string
	Before    any
	After     any
}

// Event is the externally visible fact of a change.
type Event struct {
	Code     string
	Payload  any
	DedupKey string
	// NoDedup leaves dedup_key empty for events that may legitimately repeat.
	NoDedup bool
}

// Envelope is the JSON body every outbound event carries.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventCode  string          `json:"event_code"`
	TenantID   string          `json:"tenant_id"`
	RecordID   string          `json:"record_id"`
	ActorID    string          `json:"actor_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type Emitter struct {
	Now func() time.Time
}

func NewEmitter() *Emitter {
	return &Emitter{Now: time.Now}
}

// Record writes exactly one audit record and, when ev is non-nil, exactly one
// ready outbound event through idb. Call it with the transaction that made the
// change.
func (e *Emitter) Record(ctx context.Context, idb bun.IDB, c Change, ev *Event) error {
	now := e.Now().UTC()

	audit := &models.AuditRecord{
		ID:        uuid.NewString(),
		TenantID:  c.TenantID,
		TableName: c.Table,
		Operation: c.Operation,
		RecordID:  c.RecordID,
		ActorID:   c.ActorID,
		CreatedAt: now,
	}
	var err error
	if audit.Before, err = image(c.Before); err != nil {
		return fmt.Errorf("audit before image: %w", err)
	}
	if audit.After, err = image(c.After); err != nil {
		return fmt.Errorf("audit after image: %w", err)
	}
	if _, err := idb.NewInsert().Model(audit).Exec(ctx); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	if ev == nil {
		return nil
	}

	data := ev.Payload
	if data == nil {
		data = c.After
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	eventID := uuid.NewString()
	body, err := json.Marshal(Envelope{
		EventID:    eventID,
		EventCode:  ev.Code,
		TenantID:   c.TenantID,
		RecordID:   c.RecordID,
		ActorID:    c.ActorID,
		OccurredAt: now,
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	dedup := ev.DedupKey
	if dedup == "" && !ev.NoDedup && c.RecordID != "" {
		dedup = ev.Code + ":" + c.RecordID
	}

	out := &models.OutboundEvent{
		ID:        eventID,
		TenantID:  c.TenantID,
		EventCode: ev.Code,
		Payload:   string(body),
		Status:    models.EventReady,
		DedupKey:  dedup,
		CreatedAt: now,
	}
	if _, err := idb.NewInsert().Model(out).Exec(ctx); err != nil {
		return fmt.Errorf("enqueue event %s: %w", ev.Code, err)
	}
	return nil
}

func image(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
