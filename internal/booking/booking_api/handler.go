package booking_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/checkin"
	bookingdb "ms-booking/internal/booking/db"
	holdstore "ms-booking/internal/booking/redis"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/payment"
	"ms-booking/internal/registry"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HoldStore places and drops advisory slot holds.
type HoldStore interface {
	PlaceHold(ctx context.Context, resourceID string, start time.Time, token string) error
	ReleaseHold(ctx context.Context, resourceID string, start time.Time, token string) error
}

// Requeuer puts parked outbound events back in line.
type Requeuer interface {
	Requeue(ctx context.Context, tenantID string) (int, error)
}

type Handler struct {
	Bookings    *booking.Service
	Payments    *payment.Service
	Registry    *registry.Registry
	Holds       HoldStore
	QRGenerator *checkin.QRGenerator
	Outbox      Requeuer
	Logger      *logger.Logger
	Metrics     *metrics.Metrics

	// DefaultCurrency applies to tenants created without one.
	DefaultCurrency string
}

// Routes mounts the booking API under r. Every route expects an identity in
// the request context.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.observe)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/", h.ListBookings)
		r.Post("/check-in/qr", h.CheckInByQR)
		r.Route("/{bookingId}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Post("/confirm", h.ConfirmBooking)
			r.Post("/check-in", h.CheckInBooking)
			r.Post("/cancel", h.CancelBooking)
			r.Post("/no-show", h.MarkNoShow)
			r.Post("/complete", h.CompleteBooking)
			r.Post("/fail", h.FailBooking)
			r.Post("/reschedule", h.RescheduleBooking)
			r.Get("/qr", h.BookingQR)
			r.Post("/charge", h.ChargeBooking)
			r.Get("/transactions", h.ListTransactions)
		})
	})

	r.Route("/payments/{paymentId}", func(r chi.Router) {
		r.Get("/", h.GetTransaction)
		r.Post("/refund", h.RefundPayment)
		r.Post("/retry", h.RetryTransaction)
	})

	r.Post("/holds", h.PlaceHold)
	r.Delete("/holds", h.ReleaseHold)

	r.Get("/resources/{resourceId}/busy", h.ListBusy)
	r.Post("/resources", h.CreateResource)
	r.Post("/services", h.CreateService)
	r.Put("/services/{serviceId}/policy", h.UpdateServicePolicy)
	r.Post("/tenant", h.CreateTenant)
	r.Put("/tenant/policy", h.UpdateTenantPolicy)
	r.Post("/outbox/requeue", h.RequeueEvents)
}

// observe records latency per route pattern and logs the request line.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		h.Metrics.ObserveHTTP(r.Method, route, fmt.Sprint(status), elapsed.Seconds())
		h.Logger.LogAPI(r.Method, route, fmt.Sprint(status), elapsed.String())
	})
}

// identity returns the caller, writing a 401 when the context carries none.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok || id.TenantID == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", errors.New("no caller identity"))
		return auth.Identity{}, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(utils.SuccessResponse(message, data)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(utils.ErrorResponse(message, err.Error()))
}

// fail maps a domain error onto its HTTP status and error code.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, code, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	resp := utils.ErrorResponse(message, err.Error())
	resp.Code = code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, booking.ErrMissingTimezone):
		return http.StatusUnprocessableEntity, "missing_timezone", "missing timezone"
	case errors.Is(err, booking.ErrValidation),
		errors.Is(err, payment.ErrInvalidRefundMode),
		errors.Is(err, checkin.ErrInvalidPass),
		errors.Is(err, registry.ErrInvalidTimezone):
		return http.StatusBadRequest, "validation", "invalid request"
	case errors.Is(err, booking.ErrOverlapConflict):
		return http.StatusConflict, "slot_taken", "slot is already booked"
	case errors.Is(err, booking.ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity, "idempotency_conflict", "client token reused with a different request"
	case errors.Is(err, holdstore.ErrHeld):
		return http.StatusConflict, "slot_held", "slot is held"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "transition not allowed"
	case errors.Is(err, payment.ErrNotChargeable),
		errors.Is(err, payment.ErrNotRefundable),
		errors.Is(err, payment.ErrNotRetryable),
		errors.Is(err, payment.ErrNotSettled),
		errors.Is(err, payment.ErrAlreadyFeeApplied),
		errors.Is(err, bookingdb.ErrUniqueViolation):
		return http.StatusConflict, "conflict", "conflict"
	case errors.Is(err, payment.ErrRefundExceedsCaptured):
		return http.StatusUnprocessableEntity, "refund_exceeds_captured", "amount not allowed"
	case errors.Is(err, payment.ErrNoAmountToCharge):
		return http.StatusUnprocessableEntity, "no_amount_to_charge", "amount not allowed"
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, bookingdb.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, payment.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable", "payment provider unavailable"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
