package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/storage"
)

type DeliveryHandler struct {
	store storage.Store
}

func NewDeliveryHandler(store storage.Store) *DeliveryHandler {
	return &DeliveryHandler{store: store}
}

type deliveryListResponse struct {
	Deliveries []models.Delivery `json:"deliveries"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.DeliveryFilter{
		SubscriptionID: q.Get("subscription_id"),
		EventType:      q.Get("event_type"),
	}
	if v := q.Get("status"); v != "" {
		status := models.DeliveryStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown delivery status")
			return
		}
		f.Status = status
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Normalize()

	deliveries, total, err := h.store.ListDeliveries(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveryListResponse{
		Deliveries: deliveries,
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
	})
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get delivery")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
