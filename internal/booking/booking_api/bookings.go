package booking_api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"ms-booking/internal/booking"
	"ms-booking/internal/models"

	"github.com/go-chi/chi/v5"
)

type itemBody struct {
	ResourceID          string    `json:"resource_id"`
	ServiceID           string    `json:"service_id"`
	StartAt             time.Time `json:"start_at"`
	EndAt               time.Time `json:"end_at"`
	BufferBeforeMinutes int       `json:"buffer_before_minutes"`
	BufferAfterMinutes  int       `json:"buffer_after_minutes"`
	Price               *int64    `json:"price,omitempty"`
}

type createBody struct {
	ResourceID    string               `json:"resource_id"`
	ServiceID     string               `json:"service_id"`
	CustomerID    string               `json:"customer_id"`
	StartAt       time.Time            `json:"start_at"`
	EndAt         time.Time            `json:"end_at"`
	Timezone      string               `json:"timezone"`
	AttendeeCount int                  `json:"attendee_count"`
	ClientToken   string               `json:"client_token"`
	Status        models.BookingStatus `json:"status"`
	HoldToken     string               `json:"hold_token"`
	Items         []itemBody           `json:"items"`
}

// CreateBooking takes the client token from the body or, failing that, the
// Idempotency-Key header.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body createBody
	if !h.decode(w, r, &body) {
		return
	}
	token := body.ClientToken
	if token == "" {
		token = r.Header.Get("Idempotency-Key")
	}

	req := booking.CreateRequest{
		TenantID:      id.TenantID,
		ResourceID:    body.ResourceID,
		ServiceID:     body.ServiceID,
		CustomerID:    body.CustomerID,
		StartAt:       body.StartAt,
		EndAt:         body.EndAt,
		Timezone:      body.Timezone,
		AttendeeCount: body.AttendeeCount,
		ClientToken:   token,
		Status:        body.Status,
		HoldToken:     body.HoldToken,
		Actor:         id.ActorID,
	}
	for _, it := range body.Items {
		req.Items = append(req.Items, booking.ItemRequest{
			ResourceID:          it.ResourceID,
			ServiceID:           it.ServiceID,
			StartAt:             it.StartAt,
			EndAt:               it.EndAt,
			BufferBeforeMinutes: it.BufferBeforeMinutes,
			BufferAfterMinutes:  it.BufferAfterMinutes,
			Price:               it.Price,
		})
	}

	b, err := h.Bookings.CreateBooking(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateBooking", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, "booking created", b)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.GetBooking(r.Context(), id.TenantID, chi.URLParam(r, "bookingId"))
	if err != nil {
		h.fail(w, "GetBooking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "booking", b)
}

// ListBookings accepts resource_id, customer_id, from, to (RFC 3339), a comma
// separated status list, limit and offset.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := models.BookingFilter{
		TenantID:   id.TenantID,
		ResourceID: q.Get("resource_id"),
		CustomerID: q.Get("customer_id"),
	}
	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from", err)
		return
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid to", err)
		return
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			f.Statuses = append(f.Statuses, models.BookingStatus(strings.TrimSpace(part)))
		}
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid offset", err)
		return
	}

	list, err := h.Bookings.ListBookings(r.Context(), f)
	if err != nil {
		h.fail(w, "ListBookings", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "bookings", list)
}

type transitionFunc func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error)

func (h *Handler) transition(op string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.identity(w, r)
		if !ok {
			return
		}
		b, err := fn(h, r, id.TenantID, chi.URLParam(r, "bookingId"), id.ActorID)
		if err != nil {
			h.fail(w, op, err)
			return
		}
		h.Logger.LogBooking(op, b.ID, "status "+string(b.Status))
		h.writeJSON(w, http.StatusOK, "booking updated", b)
	}
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	h.transition("CONFIRM", func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error) {
		return h.Bookings.ConfirmBooking(r.Context(), tenantID, bookingID, actor)
	})(w, r)
}

func (h *Handler) CheckInBooking(w http.ResponseWriter, r *http.Request) {
	h.transition("CHECK_IN", func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error) {
		return h.Bookings.CheckInBooking(r.Context(), tenantID, bookingID, actor)
	})(w, r)
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	h.transition("COMPLETE", func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error) {
		return h.Bookings.CompleteBooking(r.Context(), tenantID, bookingID, actor)
	})(w, r)
}

func (h *Handler) FailBooking(w http.ResponseWriter, r *http.Request) {
	h.transition("FAIL", func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error) {
		return h.Bookings.FailBooking(r.Context(), tenantID, bookingID, actor)
	})(w, r)
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition("NO_SHOW", func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error) {
		return h.Bookings.MarkNoShow(r.Context(), tenantID, bookingID, actor)
	})(w, r)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.transition("CANCEL", func(h *Handler, r *http.Request, tenantID, bookingID, actor string) (*models.Booking, error) {
		return h.Bookings.CancelBooking(r.Context(), tenantID, bookingID, body.Reason, actor)
	})(w, r)
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		StartAt     time.Time `json:"start_at"`
		EndAt       time.Time `json:"end_at"`
		ClientToken string    `json:"client_token"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.ClientToken == "" {
		body.ClientToken = r.Header.Get("Idempotency-Key")
	}
	b, err := h.Bookings.RescheduleBooking(r.Context(), booking.RescheduleRequest{
		TenantID:    id.TenantID,
		BookingID:   chi.URLParam(r, "bookingId"),
		StartAt:     body.StartAt,
		EndAt:       body.EndAt,
		ClientToken: body.ClientToken,
		Actor:       id.ActorID,
	})
	if err != nil {
		h.fail(w, "RescheduleBooking", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, "booking rescheduled", b)
}

// BookingQR returns the check-in pass as a PNG, or as JSON with ?format=payload.
func (h *Handler) BookingQR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.GetBooking(r.Context(), id.TenantID, chi.URLParam(r, "bookingId"))
	if err != nil {
		h.fail(w, "BookingQR", err)
		return
	}

	if r.URL.Query().Get("format") == "payload" {
		payload, err := h.QRGenerator.Payload(b)
		if err != nil {
			h.fail(w, "BookingQR", err)
			return
		}
		h.writeJSON(w, http.StatusOK, "check-in pass", map[string]string{"encrypted_qr": payload})
		return
	}

	png, err := h.QRGenerator.GenerateEncryptedQR(b)
	if err != nil {
		h.fail(w, "BookingQR", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

// CheckInByQR handles a scanned pass.
// Expected POST request body: {"encrypted_qr": "..."}
func (h *Handler) CheckInByQR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		EncryptedQR string `json:"encrypted_qr"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	pass, err := h.QRGenerator.Decode(id.TenantID, body.EncryptedQR)
	if err != nil {
		h.Logger.LogSecurity("QR_REJECTED", "tenant "+id.TenantID)
		h.fail(w, "CheckInByQR", err)
		return
	}
	b, err := h.Bookings.CheckInBooking(r.Context(), id.TenantID, pass.BookingID, id.ActorID)
	if err != nil {
		h.fail(w, "CheckInByQR", err)
		return
	}
	h.Logger.LogBooking("CHECK_IN_QR", b.ID, "checked in by "+id.ActorID)
	h.writeJSON(w, http.StatusOK, "checked in", b)
}

func (h *Handler) ListBusy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil || from == nil {
		h.writeError(w, http.StatusBadRequest, "from is required", errOr(err, "missing from"))
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil || to == nil {
		h.writeError(w, http.StatusBadRequest, "to is required", errOr(err, "missing to"))
		return
	}
	busy, err := h.Bookings.ListBusy(r.Context(), id.TenantID, chi.URLParam(r, "resourceId"), *from, *to)
	if err != nil {
		h.fail(w, "ListBusy", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "busy intervals", busy)
}
