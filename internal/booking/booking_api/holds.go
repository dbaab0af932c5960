package booking_api

import (
	"errors"
	"net/http"
	"time"
)

type holdBody struct {
	ResourceID string    `json:"resource_id"`
	StartAt    time.Time `json:"start_at"`
	Token      string    `json:"token"`
}

func (h *Handler) holdRequest(w http.ResponseWriter, r *http.Request) (holdBody, bool) {
	id, ok := h.identity(w, r)
	if !ok {
		return holdBody{}, false
	}
	var body holdBody
	if !h.decode(w, r, &body) {
		return holdBody{}, false
	}
	if body.ResourceID == "" || body.StartAt.IsZero() || body.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request", errors.New("resource_id, start_at and token are required"))
		return holdBody{}, false
	}
	// Holds are only placed on the caller's own resources.
	if _, err := h.Registry.Resource(r.Context(), nil, id.TenantID, body.ResourceID); err != nil {
		h.fail(w, "Hold", err)
		return holdBody{}, false
	}
	return body, true
}

func (h *Handler) PlaceHold(w http.ResponseWriter, r *http.Request) {
	body, ok := h.holdRequest(w, r)
	if !ok {
		return
	}
	if err := h.Holds.PlaceHold(r.Context(), body.ResourceID, body.StartAt, body.Token); err != nil {
		h.fail(w, "PlaceHold", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, "hold placed", body)
}

func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	body, ok := h.holdRequest(w, r)
	if !ok {
		return
	}
	if err := h.Holds.ReleaseHold(r.Context(), body.ResourceID, body.StartAt, body.Token); err != nil {
		h.fail(w, "ReleaseHold", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
