package api

import (
	"net/http"

	"github.com/hookrelay/hookrelay/internal/delivery"
	"github.com/hookrelay/hookrelay/internal/storage"
)

type StatsHandler struct {
	store     storage.Store
	scheduler *delivery.Scheduler
}

func NewStatsHandler(store storage.Store, sched *delivery.Scheduler) *StatsHandler {
	return &StatsHandler{store: store, scheduler: sched}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "hookrelay",
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), r.URL.Query().Get("subscription_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sweep lets an external scheduler force a retry sweep.
func (h *StatsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.scheduler.RetryDueDeliveries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retry sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resubmitted": n})
}
