package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hookrelay/hookrelay/internal/dispatch"
	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/registry"
	"github.com/hookrelay/hookrelay/internal/storage"
)

type SubscriptionHandler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	store      storage.Store
}

func NewSubscriptionHandler(reg *registry.Registry, disp *dispatch.Dispatcher, store storage.Store) *SubscriptionHandler {
	return &SubscriptionHandler{registry: reg, dispatcher: disp, store: store}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in registry.SubscriptionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.registry.Create(r.Context(), &in)
	if err != nil {
		writeDomainError(w, err, "failed to create subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	var f storage.SubscriptionFilter
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		f.Active = &active
	}
	f.EventType = r.URL.Query().Get("event_type")
	f.Owner = r.URL.Query().Get("owner")

	subs, err := h.registry.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in registry.SubscriptionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), &in)
	if err != nil {
		writeDomainError(w, err, "failed to update subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test runs a synchronous test delivery so the caller gets an immediate
// pass/fail result.
func (h *SubscriptionHandler) Test(w http.ResponseWriter, r *http.Request) {
	dlv, err := h.dispatcher.TestDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to run test delivery")
		return
	}
	writeJSON(w, http.StatusOK, dlv)
}

func (h *SubscriptionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to get subscription")
		return
	}

	stats, err := h.store.Stats(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
