package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	application "tagwatch/internal/notifications/application"
)

const defaultHistoryLimit = 100

// HistoryHandler lists recently emitted notifications.
type HistoryHandler struct {
	log *application.Log
}

// NewHistoryHandler constructs a history handler.
func NewHistoryHandler(log *application.Log) *HistoryHandler {
	return &HistoryHandler{log: log}
}

// ServeHTTP handles GET /api/v1/notifications.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.log == nil {
		http.Error(w, "history not ready", http.StatusServiceUnavailable)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries := h.log.Recent(limit)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"notifications": entries,
		"count":         len(entries),
	})
}
