package booking_api

import (
	"net/http"

	"ms-booking/internal/models"
	"ms-booking/internal/payment"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ChargeBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		PaymentMethod string `json:"payment_method"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	t, err := h.Payments.Charge(r.Context(), payment.ChargeRequest{
		TenantID:      id.TenantID,
		BookingID:     chi.URLParam(r, "bookingId"),
		PaymentMethod: body.PaymentMethod,
		Actor:         id.ActorID,
	})
	if err != nil {
		h.fail(w, "ChargeBooking", err)
		return
	}
	h.Logger.LogPayment("CHARGE", t.ID, string(t.Status))
	h.writeJSON(w, http.StatusOK, "booking charged", t)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	bookingID := chi.URLParam(r, "bookingId")
	if _, err := h.Bookings.GetBooking(r.Context(), id.TenantID, bookingID); err != nil {
		h.fail(w, "ListTransactions", err)
		return
	}
	txs, err := h.Payments.ListTransactions(r.Context(), id.TenantID, bookingID)
	if err != nil {
		h.fail(w, "ListTransactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "payment transactions", txs)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	t, err := h.Payments.GetTransaction(r.Context(), id.TenantID, chi.URLParam(r, "paymentId"))
	if err != nil {
		h.fail(w, "GetTransaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "payment transaction", t)
}

// RefundPayment expects {"mode": "full|no_show_fee_only|partial", "amount": 0, "reason": ""}.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Mode   models.RefundMode `json:"mode"`
		Amount int64             `json:"amount"`
		Reason string            `json:"reason"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	t, err := h.Payments.Refund(r.Context(), payment.RefundRequest{
		TenantID:  id.TenantID,
		PaymentID: chi.URLParam(r, "paymentId"),
		Mode:      body.Mode,
		Amount:    body.Amount,
		Reason:    body.Reason,
		Actor:     id.ActorID,
	})
	if err != nil {
		h.fail(w, "RefundPayment", err)
		return
	}
	h.Logger.LogPayment("REFUND", t.ID, string(t.Status))
	h.writeJSON(w, http.StatusOK, "refund recorded", t)
}

func (h *Handler) RetryTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	t, err := h.Payments.RetryTransaction(r.Context(), id.TenantID, chi.URLParam(r, "paymentId"), id.ActorID)
	if err != nil {
		h.fail(w, "RetryTransaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "payment transaction retried", t)
}
