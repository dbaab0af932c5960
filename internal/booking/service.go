package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/fees"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/outbox"
	"ms-booking/internal/payment"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const table = "bookings"

type Registry interface {
	Tenant(ctx context.Context, idb bun.IDB, id string) (*models.Tenant, error)
	Service(ctx context.Context, idb bun.IDB, tenantID, id string) (*models.Service, error)
}

// Payments stages fees inside the booking transaction and settles them once
// it has committed.
type Payments interface {
	StageFee(ctx context.Context, idb bun.IDB, b *models.Booking, feeType models.FeeType, amount int64, actor string) (*models.PaymentTransaction, error)
	Settle(ctx context.Context, tenantID, id, actor string) (*models.PaymentTransaction, error)
}

// Holds is the advisory hold layer. It never decides occupancy.
type Holds interface {
	HoldOwner(ctx context.Context, resourceID string, start time.Time) (string, error)
	ReleaseHold(ctx context.Context, resourceID string, start time.Time, token string) error
}

type Service struct {
	DB       *bookingdb.DB
	Registry Registry
	Payments Payments
	Holds    Holds
	Emitter  *outbox.Emitter
	Active   ActiveSet
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func NewService(db *bookingdb.DB, reg Registry, pay Payments, holds Holds, em *outbox.Emitter, active ActiveSet, log *logger.Logger, m *metrics.Metrics) *Service {
	if active == nil {
		active = NewActiveSet()
	}
	return &Service{
		DB: db, Registry: reg, Payments: pay, Holds: holds, Emitter: em,
		Active: active, Log: log, Metrics: m, Now: time.Now,
	}
}

type ItemRequest struct {
	ResourceID          string
	ServiceID           string
	StartAt             time.Time
	EndAt               time.Time
	BufferBeforeMinutes int
	BufferAfterMinutes  int
	Price               *int64
}

type CreateRequest struct {
	TenantID      string
	ResourceID    string
	ServiceID     string
	CustomerID    string
	StartAt       time.Time
	EndAt         time.Time // zero means StartAt plus the service duration
	Timezone      string
	AttendeeCount int
	ClientToken   string
	Status        models.BookingStatus // pending (default) or confirmed
	Items         []ItemRequest
	HoldToken     string
	Actor         string

	rescheduledFrom string
}

type RescheduleRequest struct {
	TenantID    string
	BookingID   string
	StartAt     time.Time
	EndAt       time.Time
	ClientToken string
	Actor       string
}

func (s *Service) now() time.Time {
	return normalize(s.Now())
}

// ---------------- CREATE ----------------

func (r *CreateRequest) validate() error {
	switch {
	case r.TenantID == "":
		return validationf("tenant_id is required")
	case r.ResourceID == "":
		return validationf("resource_id is required")
	case r.ServiceID == "":
		return validationf("service_id is required")
	case r.CustomerID == "":
		return validationf("customer_id is required")
	case r.ClientToken == "":
		return validationf("client_token is required")
	case r.StartAt.IsZero():
		return validationf("start_at is required")
	case !r.EndAt.IsZero() && !r.StartAt.Before(r.EndAt):
		return validationf("start_at must be before end_at")
	case r.AttendeeCount < 0:
		return validationf("attendee_count must be at least 1")
	}
	if r.Status != "" && r.Status != models.BookingPending && r.Status != models.BookingConfirmed {
		return validationf("a booking cannot be created as %q", r.Status)
	}
	for i, it := range r.Items {
		switch {
		case it.StartAt.IsZero() || it.EndAt.IsZero():
			return validationf("item %d: start_at and end_at are required", i)
		case !it.StartAt.Before(it.EndAt):
			return validationf("item %d: start_at must be before end_at", i)
		case it.BufferBeforeMinutes < 0 || it.BufferAfterMinutes < 0:
			return validationf("item %d: buffers cannot be negative", i)
		case it.Price != nil && *it.Price < 0:
			return validationf("item %d: price cannot be negative", i)
		}
	}
	return nil
}

// CreateBooking persists a booking exactly once per (tenant, client token).
// A retry with the same payload returns the stored booking; a different
// payload under the same token is ErrIdempotencyConflict.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	hash := Fingerprint(req)

	if req.HoldToken != "" && s.Holds != nil {
		owner, err := s.Holds.HoldOwner(ctx, req.ResourceID, req.StartAt)
		if err != nil {
			s.Log.Warn("BOOKING", fmt.Sprintf("hold lookup failed for %s: %v", req.ResourceID, err))
		} else if owner != "" && owner != req.HoldToken {
			s.Log.Warn("BOOKING", fmt.Sprintf("slot on %s is held by another checkout; relying on the overlap guard", req.ResourceID))
		}
	}

	var b *models.Booking
	var replay bool
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		b, replay, err = s.createInTx(ctx, tx, req, hash)
		return err
	})
	if errors.Is(err, bookingdb.ErrUniqueViolation) {
		// A concurrent request with the same token won the insert.
		b, replay, err = s.fetchByToken(ctx, req.TenantID, req.ClientToken, hash)
	}
	if err != nil {
		if errors.Is(err, ErrOverlapConflict) {
			s.Metrics.OverlapConflict()
		}
		return nil, err
	}

	if replay {
		s.Metrics.IdempotentReplay()
		s.Log.LogBooking("REPLAY", b.ID, "idempotent create returned existing booking")
		return b, nil
	}

	if req.HoldToken != "" && s.Holds != nil {
		if err := s.Holds.ReleaseHold(ctx, req.ResourceID, req.StartAt, req.HoldToken); err != nil {
			s.Log.Warn("BOOKING", fmt.Sprintf("release hold for %s: %v", b.ID, err))
		}
	}
	s.Metrics.BookingCreated(string(b.Status))
	s.Log.LogBooking("CREATE", b.ID, fmt.Sprintf("resource %s %s - %s (%s)", b.ResourceID,
		b.StartAt.Format(time.RFC3339), b.EndAt.Format(time.RFC3339), b.Status))
	return b, nil
}

func (s *Service) fetchByToken(ctx context.Context, tenantID, token, hash string) (*models.Booking, bool, error) {
	existing, err := bookingdb.GetBookingByToken(ctx, s.DB.Bun, tenantID, token)
	if err != nil {
		return nil, false, fmt.Errorf("refetch booking by token: %w", err)
	}
	if existing.PayloadHash != hash {
		return nil, false, fmt.Errorf("%w: token %s was used for a different booking", ErrIdempotencyConflict, token)
	}
	return existing, true, nil
}

// createInTx runs ledger lookup -> lock -> overlap guard -> insert inside tx.
// A stored booking is returned before the registry is consulted, so a replay
// still succeeds after its service or resource was deleted. Two first-time
// requests racing on one token are settled by the ledger's unique index.
func (s *Service) createInTx(ctx context.Context, tx bun.Tx, req CreateRequest, hash string) (*models.Booking, bool, error) {
	existing, err := bookingdb.GetBookingByToken(ctx, tx, req.TenantID, req.ClientToken)
	switch {
	case err == nil:
		if existing.PayloadHash != hash {
			return nil, false, fmt.Errorf("%w: token %s was used for a different booking", ErrIdempotencyConflict, req.ClientToken)
		}
		return existing, true, nil
	case !errors.Is(err, bookingdb.ErrNotFound):
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}

	tenant, err := s.Registry.Tenant(ctx, tx, req.TenantID)
	if err != nil {
		return nil, false, registryErr("tenant", req.TenantID, err)
	}
	svc, err := s.Registry.Service(ctx, tx, req.TenantID, req.ServiceID)
	if err != nil {
		return nil, false, registryErr("service", req.ServiceID, err)
	}

	items, err := s.planItems(ctx, tx, req, svc)
	if err != nil {
		return nil, false, err
	}

	resourceIDs := []string{req.ResourceID}
	for _, it := range items {
		resourceIDs = append(resourceIDs, it.ResourceID)
	}
	locked, err := bookingdb.LockResources(ctx, tx, req.TenantID, resourceIDs)
	if err != nil {
		return nil, false, registryErr("resource", req.ResourceID, err)
	}
	var primary models.Resource
	for _, r := range locked {
		if r.ID == req.ResourceID {
			primary = r
		}
	}

	tz, err := ResolveTimezone(req.Timezone, primary, *tenant)
	if err != nil {
		return nil, false, err
	}

	requested := req.Status
	if requested == "" {
		requested = models.BookingPending
	}
	now := s.now()
	b := &models.Booking{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		CustomerID:      req.CustomerID,
		ResourceID:      req.ResourceID,
		ClientToken:     req.ClientToken,
		PayloadHash:     hash,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		ServicePrice:    svc.Price,
		ServiceDuration: svc.DurationMinutes,
		Currency:        tenant.Currency,
		Timezone:        tz,
		RequestedStatus: requested,
		AttendeeCount:   attendees(req.AttendeeCount),
		RescheduledFrom: req.rescheduledFrom,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b.Status = DeriveStatus(flagsOf(b))
	blocks := s.Active.Contains(b.Status)

	b.StartAt, b.EndAt = items[0].StartAt, items[0].EndAt
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].BookingID = b.ID
		items[i].TenantID = b.TenantID
		items[i].BlocksTime = blocks
		if items[i].StartAt.Before(b.StartAt) {
			b.StartAt = items[i].StartAt
		}
		if items[i].EndAt.After(b.EndAt) {
			b.EndAt = items[i].EndAt
		}
	}
	b.Items = items

	if err := bookingdb.InsertBooking(ctx, tx, b); err != nil {
		return nil, false, err
	}
	if err := bookingdb.ReserveItems(ctx, tx, items); err != nil {
		return nil, false, overlapErr(err)
	}
	if err := s.Emitter.Record(ctx, tx, outbox.Change{
		TenantID: b.TenantID, Table: table, RecordID: b.ID,
		Operation: models.AuditInsert, ActorID: req.Actor, After: b,
	}, &outbox.Event{Code: models.EventBookingCreated}); err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// planItems expands the request into booking items with occupied intervals,
// defaulting to a single item for the booked service.
func (s *Service) planItems(ctx context.Context, tx bun.IDB, req CreateRequest, svc *models.Service) ([]models.BookingItem, error) {
	reqs := req.Items
	if len(reqs) == 0 {
		end := req.EndAt
		if end.IsZero() {
			if svc.DurationMinutes <= 0 {
				return nil, validationf("end_at is required for a service without a duration")
			}
			end = req.StartAt.Add(time.Duration(svc.DurationMinutes) * time.Minute)
		}
		reqs = []ItemRequest{{
			ResourceID:          req.ResourceID,
			ServiceID:           svc.ID,
			StartAt:             req.StartAt,
			EndAt:               end,
			BufferBeforeMinutes: svc.BufferBeforeMinutes,
			BufferAfterMinutes:  svc.BufferAfterMinutes,
		}}
	}

	services := map[string]*models.Service{svc.ID: svc}
	items := make([]models.BookingItem, 0, len(reqs))
	keyed := make([]keyedInterval, 0, len(reqs))
	for _, ir := range reqs {
		resourceID := ir.ResourceID
		if resourceID == "" {
			resourceID = req.ResourceID
		}
		serviceID := ir.ServiceID
		if serviceID == "" {
			serviceID = svc.ID
		}
		itemSvc, ok := services[serviceID]
		if !ok {
			var err error
			itemSvc, err = s.Registry.Service(ctx, tx, req.TenantID, serviceID)
			if err != nil {
				return nil, registryErr("service", serviceID, err)
			}
			services[serviceID] = itemSvc
		}
		price := itemSvc.Price
		if ir.Price != nil {
			price = *ir.Price
		}

		start, end := normalize(ir.StartAt), normalize(ir.EndAt)
		if !start.Before(end) {
			return nil, validationf("item on %s has an empty interval", resourceID)
		}
		occ := Occupied(start, end, ir.BufferBeforeMinutes, ir.BufferAfterMinutes)
		items = append(items, models.BookingItem{
			ResourceID:          resourceID,
			ServiceID:           serviceID,
			StartAt:             start,
			EndAt:               end,
			BufferBeforeMinutes: ir.BufferBeforeMinutes,
			BufferAfterMinutes:  ir.BufferAfterMinutes,
			OccupiedStart:       occ.Start,
			OccupiedEnd:         occ.End,
			Price:               price,
		})
		keyed = append(keyed, keyedInterval{key: resourceID, Interval: occ})
	}

	if i, j := firstSelfOverlap(keyed); i >= 0 {
		return nil, validationf("items %d and %d overlap on resource %s", i, j, keyed[i].key)
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].StartAt.Before(items[b].StartAt) })
	return items, nil
}

// ---------------- MUTATIONS ----------------

type outcome struct {
	event string
	fee   *models.PaymentTransaction
	noop  bool
}

// mutate locks the booking, applies fn, re-derives the status, syncs item
// blocking with the active set and records audit + event, all in one
// transaction. A fee staged pending by fn is settled after commit; provider
// failures do not undo the mutation.
func (s *Service) mutate(ctx context.Context, tenantID, bookingID, actor string, fn func(ctx context.Context, tx bun.Tx, b *models.Booking) (outcome, error)) (*models.Booking, error) {
	var (
		result *models.Booking
		out    outcome
		from   models.BookingStatus
	)
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		b, err := bookingdb.GetBookingForUpdate(ctx, tx, tenantID, bookingID)
		if err != nil {
			return notFound(bookingID, err)
		}
		before := snapshot(b)
		from = b.Status

		out, err = fn(ctx, tx, b)
		if err != nil {
			return err
		}
		result = b
		if out.noop {
			return nil
		}

		b.Status = DeriveStatus(flagsOf(b))
		b.UpdatedAt = s.now()
		if err := s.syncBlocking(ctx, tx, b, from); err != nil {
			return err
		}
		if err := bookingdb.UpdateBookingState(ctx, tx, b); err != nil {
			return fmt.Errorf("update booking %s: %w", b.ID, err)
		}
		var ev *outbox.Event
		if out.event != "" {
			ev = &outbox.Event{Code: out.event}
		}
		return s.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: b.TenantID, Table: table, RecordID: b.ID,
			Operation: models.AuditUpdate, ActorID: actor, Before: before, After: b,
		}, ev)
	})
	if err != nil {
		if errors.Is(err, ErrOverlapConflict) {
			s.Metrics.OverlapConflict()
		}
		return nil, err
	}
	if out.noop {
		return result, nil
	}

	s.Metrics.Transition(string(from), string(result.Status))
	s.Log.LogBooking("UPDATE", result.ID, fmt.Sprintf("%s -> %s", from, result.Status))

	if out.fee != nil && out.fee.Status == models.PaymentPending {
		if _, err := s.Payments.Settle(ctx, result.TenantID, out.fee.ID, actor); err != nil {
			s.Log.Warn("BOOKING", fmt.Sprintf("fee %s for booking %s not settled: %v", out.fee.ID, result.ID, err))
		}
	}
	return result, nil
}

// syncBlocking keeps blocks_time equal to active-set membership. Entering the
// active set re-runs the overlap guard under the resource locks.
func (s *Service) syncBlocking(ctx context.Context, tx bun.IDB, b *models.Booking, from models.BookingStatus) error {
	was, is := s.Active.Contains(from), s.Active.Contains(b.Status)
	if was == is {
		return nil
	}
	if is {
		ids := make([]string, 0, len(b.Items))
		for _, it := range b.Items {
			ids = append(ids, it.ResourceID)
		}
		if _, err := bookingdb.LockResources(ctx, tx, b.TenantID, ids); err != nil {
			return err
		}
	}
	if err := bookingdb.SetItemsBlocking(ctx, tx, b.ID, b.Items, is); err != nil {
		return overlapErr(err)
	}
	for i := range b.Items {
		b.Items[i].BlocksTime = is
	}
	return nil
}

func (s *Service) request(to models.BookingStatus, event string) func(context.Context, bun.Tx, *models.Booking) (outcome, error) {
	return func(_ context.Context, _ bun.Tx, b *models.Booking) (outcome, error) {
		if err := checkTransition(DeriveStatus(flagsOf(b)), to); err != nil {
			return outcome{}, err
		}
		b.RequestedStatus = to
		return outcome{event: event}, nil
	}
}

func (s *Service) ConfirmBooking(ctx context.Context, tenantID, bookingID, actor string) (*models.Booking, error) {
	return s.mutate(ctx, tenantID, bookingID, actor, s.request(models.BookingConfirmed, models.EventBookingConfirmed))
}

func (s *Service) CheckInBooking(ctx context.Context, tenantID, bookingID, actor string) (*models.Booking, error) {
	return s.mutate(ctx, tenantID, bookingID, actor, s.request(models.BookingCheckedIn, models.EventBookingCheckedIn))
}

func (s *Service) CompleteBooking(ctx context.Context, tenantID, bookingID, actor string) (*models.Booking, error) {
	return s.mutate(ctx, tenantID, bookingID, actor, s.request(models.BookingCompleted, models.EventBookingCompleted))
}

// FailBooking retires a pending booking whose checkout did not go through.
func (s *Service) FailBooking(ctx context.Context, tenantID, bookingID, actor string) (*models.Booking, error) {
	return s.mutate(ctx, tenantID, bookingID, actor, s.request(models.BookingFailed, models.EventBookingFailed))
}

// CancelBooking cancels and, inside the policy cutoff window, stages the
// cancellation fee. Cancelling a canceled booking changes nothing.
func (s *Service) CancelBooking(ctx context.Context, tenantID, bookingID, reason, actor string) (*models.Booking, error) {
	return s.mutate(ctx, tenantID, bookingID, actor, func(ctx context.Context, tx bun.Tx, b *models.Booking) (outcome, error) {
		if b.CancelledAt != nil {
			return outcome{noop: true}, nil
		}
		if err := checkTransition(DeriveStatus(flagsOf(b)), models.BookingCanceled); err != nil {
			return outcome{}, err
		}
		now := s.now()
		b.CancelledAt = &now
		b.CancellationReason = reason

		out := outcome{event: models.EventBookingCanceled}
		if b.CancellationFeeApplied {
			return out, nil
		}
		policy, err := s.policy(ctx, tx, b)
		if err != nil {
			return outcome{}, err
		}
		amount, err := fees.CancellationFee(b.Amount(), b.StartAt, now, policy)
		if errors.Is(err, fees.ErrNoAmountToCharge) {
			return out, nil
		}
		if err != nil {
			return outcome{}, err
		}
		out.fee, err = s.stageFee(ctx, tx, b, models.FeeCancellation, amount, actor)
		if err != nil {
			return outcome{}, err
		}
		b.CancellationFeeApplied = true
		return out, nil
	})
}

// MarkNoShow flags the booking and applies the no-show fee at most once. A
// second call returns the booking unchanged.
func (s *Service) MarkNoShow(ctx context.Context, tenantID, bookingID, actor string) (*models.Booking, error) {
	return s.mutate(ctx, tenantID, bookingID, actor, func(ctx context.Context, tx bun.Tx, b *models.Booking) (outcome, error) {
		if DeriveStatus(flagsOf(b)) == models.BookingNoShow {
			return outcome{noop: true}, nil
		}
		if err := checkTransition(DeriveStatus(flagsOf(b)), models.BookingNoShow); err != nil {
			return outcome{}, err
		}
		b.NoShow = true

		out := outcome{event: models.EventBookingNoShow}
		if b.NoShowFeeApplied {
			return out, nil
		}
		policy, err := s.policy(ctx, tx, b)
		if err != nil {
			return outcome{}, err
		}
		amount, err := fees.NoShowFee(b.Amount(), policy)
		if errors.Is(err, fees.ErrNoAmountToCharge) {
			return out, nil
		}
		if err != nil {
			return outcome{}, err
		}
		out.fee, err = s.stageFee(ctx, tx, b, models.FeeNoShow, amount, actor)
		if err != nil {
			return outcome{}, err
		}
		b.NoShowFeeApplied = true
		return out, nil
	})
}

func (s *Service) stageFee(ctx context.Context, tx bun.IDB, b *models.Booking, ft models.FeeType, amount int64, actor string) (*models.PaymentTransaction, error) {
	if s.Payments == nil {
		return nil, nil
	}
	t, err := s.Payments.StageFee(ctx, tx, b, ft, amount, actor)
	if errors.Is(err, payment.ErrAlreadyFeeApplied) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", ft, err)
	}
	return t, nil
}

func (s *Service) policy(ctx context.Context, tx bun.IDB, b *models.Booking) (fees.Policy, error) {
	tenant, err := s.Registry.Tenant(ctx, tx, b.TenantID)
	if err != nil {
		return fees.Policy{}, registryErr("tenant", b.TenantID, err)
	}
	svc, err := s.Registry.Service(ctx, tx, b.TenantID, b.ServiceID)
	if err != nil && !errors.Is(err, bookingdb.ErrNotFound) {
		return fees.Policy{}, err
	}
	return fees.PolicyFor(*tenant, svc), nil
}

// RescheduleBooking moves a booking to a new time: the original is canceled
// without a fee and a new booking pointing back at it is created, in one
// transaction. The original's items are released first, so the new slot may
// overlap the old one.
func (s *Service) RescheduleBooking(ctx context.Context, req RescheduleRequest) (*models.Booking, error) {
	if req.ClientToken == "" {
		return nil, validationf("client_token is required")
	}
	if req.StartAt.IsZero() {
		return nil, validationf("start_at is required")
	}
	if !req.EndAt.IsZero() && !req.StartAt.Before(req.EndAt) {
		return nil, validationf("start_at must be before end_at")
	}

	var (
		created  *models.Booking
		replay   bool
		original models.BookingStatus
	)
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		b, err := bookingdb.GetBookingForUpdate(ctx, tx, req.TenantID, req.BookingID)
		if err != nil {
			return notFound(req.BookingID, err)
		}
		original = b.Status
		create := s.rescheduleRequest(b, req)
		hash := Fingerprint(create)

		if existing, err := bookingdb.GetBookingByToken(ctx, tx, req.TenantID, req.ClientToken); err == nil {
			if existing.PayloadHash != hash || existing.RescheduledFrom != b.ID {
				return fmt.Errorf("%w: token %s was used for a different booking", ErrIdempotencyConflict, req.ClientToken)
			}
			created, replay = existing, true
			return nil
		} else if !errors.Is(err, bookingdb.ErrNotFound) {
			return err
		}

		current := DeriveStatus(flagsOf(b))
		if current != models.BookingPending && current != models.BookingConfirmed {
			return fmt.Errorf("%w: cannot reschedule a %s booking", ErrInvalidTransition, current)
		}

		before := snapshot(b)
		now := s.now()
		b.CancelledAt = &now
		b.CancellationReason = "rescheduled"
		b.Status = DeriveStatus(flagsOf(b))
		b.UpdatedAt = now
		if err := s.syncBlocking(ctx, tx, b, before.Status); err != nil {
			return err
		}
		if err := bookingdb.UpdateBookingState(ctx, tx, b); err != nil {
			return err
		}
		if err := s.Emitter.Record(ctx, tx, outbox.Change{
			TenantID: b.TenantID, Table: table, RecordID: b.ID,
			Operation: models.AuditUpdate, ActorID: req.Actor, Before: before, After: b,
		}, &outbox.Event{Code: models.EventBookingCanceled}); err != nil {
			return err
		}

		created, _, err = s.createInTx(ctx, tx, create, hash)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrOverlapConflict) {
			s.Metrics.OverlapConflict()
		}
		return nil, err
	}
	if replay {
		s.Metrics.IdempotentReplay()
		return created, nil
	}
	s.Metrics.Transition(string(original), string(models.BookingCanceled))
	s.Metrics.BookingCreated(string(created.Status))
	s.Log.LogBooking("RESCHEDULE", req.BookingID, "moved to "+created.ID)
	return created, nil
}

func (s *Service) rescheduleRequest(b *models.Booking, req RescheduleRequest) CreateRequest {
	shift := normalize(req.StartAt).Sub(b.StartAt)
	end := req.EndAt
	if end.IsZero() {
		end = req.StartAt.Add(b.EndAt.Sub(b.StartAt))
	}
	status := b.RequestedStatus
	if status != models.BookingConfirmed {
		status = models.BookingPending
	}
	create := CreateRequest{
		TenantID:        b.TenantID,
		ResourceID:      b.ResourceID,
		ServiceID:       b.ServiceID,
		CustomerID:      b.CustomerID,
		StartAt:         req.StartAt,
		EndAt:           end,
		Timezone:        b.Timezone,
		AttendeeCount:   b.AttendeeCount,
		ClientToken:     req.ClientToken,
		Status:          status,
		Actor:           req.Actor,
		rescheduledFrom: b.ID,
	}
	if len(b.Items) > 1 {
		for _, it := range b.Items {
			price := it.Price
			create.Items = append(create.Items, ItemRequest{
				ResourceID:          it.ResourceID,
				ServiceID:           it.ServiceID,
				StartAt:             it.StartAt.Add(shift),
				EndAt:               it.EndAt.Add(shift),
				BufferBeforeMinutes: it.BufferBeforeMinutes,
				BufferAfterMinutes:  it.BufferAfterMinutes,
				Price:               &price,
			})
		}
	} else if len(b.Items) == 1 {
		it := b.Items[0]
		price := it.Price
		create.Items = []ItemRequest{{
			ResourceID:          it.ResourceID,
			ServiceID:           it.ServiceID,
			StartAt:             req.StartAt,
			EndAt:               end,
			BufferBeforeMinutes: it.BufferBeforeMinutes,
			BufferAfterMinutes:  it.BufferAfterMinutes,
			Price:               &price,
		}}
	}
	return create
}

// ---------------- QUERIES ----------------

func (s *Service) GetBooking(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	b, err := bookingdb.GetBooking(ctx, s.DB.Bun, tenantID, bookingID)
	if err != nil {
		return nil, notFound(bookingID, err)
	}
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	if f.TenantID == "" {
		return nil, validationf("tenant_id is required")
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, validationf("from must be before to")
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, validationf("unknown status %q", st)
		}
	}
	return bookingdb.ListBookings(ctx, s.DB.Bun, f)
}

// ListBusy returns the occupied intervals of a resource, read from the store.
func (s *Service) ListBusy(ctx context.Context, tenantID, resourceID string, from, to time.Time) ([]models.BusyInterval, error) {
	if resourceID == "" {
		return nil, validationf("resource_id is required")
	}
	if !from.Before(to) {
		return nil, validationf("from must be before to")
	}
	return bookingdb.ListBusy(ctx, s.DB.Bun, tenantID, resourceID, from, to)
}

// ---------------- ERRORS ----------------

func snapshot(b *models.Booking) models.Booking {
	c := *b
	c.Items = append([]models.BookingItem(nil), b.Items...)
	return c
}

func notFound(id string, err error) error {
	if errors.Is(err, bookingdb.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func registryErr(kind, id string, err error) error {
	if errors.Is(err, bookingdb.ErrNotFound) {
		return validationf("unknown %s %s", kind, id)
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

func overlapErr(err error) error {
	if errors.Is(err, bookingdb.ErrOverlap) {
		return fmt.Errorf("%w: %v", ErrOverlapConflict, err)
	}
	return err
}
