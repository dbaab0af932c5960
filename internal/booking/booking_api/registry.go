package booking_api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-booking/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateTenant registers the caller's tenant. The id always comes from the
// token.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var t models.Tenant
	if !h.decode(w, r, &t) {
		return
	}
	t.ID = id.TenantID
	t.CreatedAt = time.Now().UTC().Truncate(time.Second)
	t.DeletedAt = nil
	if t.Name == "" {
		t.Name = id.TenantID
	}
	if t.Currency == "" {
		t.Currency = h.DefaultCurrency
	}
	if err := h.Registry.CreateTenant(r.Context(), &t, id.ActorID); err != nil {
		h.fail(w, "CreateTenant", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, "tenant created", t)
}

// RequeueEvents moves the caller's failed outbound events back to ready.
func (h *Handler) RequeueEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if h.Outbox == nil {
		h.writeError(w, http.StatusServiceUnavailable, "outbox relay not running", errors.New("no relay"))
		return
	}
	n, err := h.Outbox.Requeue(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, "RequeueEvents", err)
		return
	}
	h.Logger.LogOutbox("REQUEUE", "", fmt.Sprintf("tenant %s: %d events", id.TenantID, n))
	h.writeJSON(w, http.StatusOK, "events requeued", map[string]int{"requeued": n})
}

func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var res models.Resource
	if !h.decode(w, r, &res) {
		return
	}
	res.ID = uuid.NewString()
	res.TenantID = id.TenantID
	res.CreatedAt = time.Now().UTC().Truncate(time.Second)
	res.DeletedAt = nil
	if res.Kind == "" {
		res.Kind = models.ResourceStaff
	}
	if err := h.Registry.CreateResource(r.Context(), &res, id.ActorID); err != nil {
		h.fail(w, "CreateResource", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, "resource created", res)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var svc models.Service
	if !h.decode(w, r, &svc) {
		return
	}
	svc.ID = uuid.NewString()
	svc.TenantID = id.TenantID
	svc.CreatedAt = time.Now().UTC().Truncate(time.Second)
	svc.DeletedAt = nil
	if err := h.Registry.CreateService(r.Context(), &svc, id.ActorID); err != nil {
		h.fail(w, "CreateService", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, "service created", svc)
}

func (h *Handler) UpdateServicePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var svc models.Service
	if !h.decode(w, r, &svc) {
		return
	}
	svc.ID = chi.URLParam(r, "serviceId")
	svc.TenantID = id.TenantID
	if err := h.Registry.UpdateServicePolicy(r.Context(), &svc, id.ActorID); err != nil {
		h.fail(w, "UpdateServicePolicy", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "service policy updated", svc)
}

func (h *Handler) UpdateTenantPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var t models.Tenant
	if !h.decode(w, r, &t) {
		return
	}
	t.ID = id.TenantID
	if err := h.Registry.UpdateTenantPolicy(r.Context(), &t, id.ActorID); err != nil {
		h.fail(w, "UpdateTenantPolicy", err)
		return
	}
	h.writeJSON(w, http.StatusOK, "tenant policy updated", t)
}
