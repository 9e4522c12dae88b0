package api

import (
	"encoding/json"
	"net/http"

	"github.com/hookrelay/hookrelay/internal/dispatch"
)

type EventHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewEventHandler(disp *dispatch.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: disp}
}

type triggerEventRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

const maxEventSize = 256 * 1024 // 256KB

// Trigger accepts a domain event and fans it out. Zero matches is a
// normal outcome, and delivery failures never surface here.
func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventSize)
	var req triggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	result := h.dispatcher.TriggerEvent(r.Context(), req.EventType, req.Data)
	writeJSON(w, http.StatusAccepted, result)
}
