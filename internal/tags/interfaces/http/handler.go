package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tagapp "tagwatch/internal/tags/application"
	tags "tagwatch/internal/tags/domain"
)

// Handler provides read-only tag graph endpoints.
type Handler struct {
	cache *tagapp.Cache
}

// NewHandler constructs a handler.
func NewHandler(cache *tagapp.Cache) (*Handler, error) {
	if cache == nil {
		return nil, errors.New("tags handler: nil cache")
	}
	return &Handler{cache: cache}, nil
}

// ServeHTTP handles /api/v1/tags and /api/v1/tags/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/tags":
		h.handleList(w)
	case strings.HasPrefix(r.URL.Path, "/api/v1/tags/"):
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter) {
	ids := h.cache.IDs()
	entries := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		tag, err := h.cache.Get(id)
		if err != nil {
			continue
		}
		entries = append(entries, summarize(tag))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tags": entries, "count": len(entries)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/tags/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid tag id", http.StatusBadRequest)
		return
	}
	if !h.cache.Has(id) {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}
	tag, err := h.cache.Get(id)
	if err != nil {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}

	entry := summarize(tag)
	if history := tag.History(); history != nil {
		statuses := make([]string, 0, len(history))
		for _, status := range history {
			statuses = append(statuses, status.String())
		}
		entry["history"] = statuses
	}
	if latest := tag.Latest(); latest != nil {
		entry["description"] = latest.Description
		entry["rule_expression"] = latest.RuleExpression
		if !latest.ServerTime.IsZero() {
			entry["server_time"] = latest.ServerTime.UTC().Format(time.RFC3339)
		}
	}
	entry["children"] = tagIDs(tag.Children())
	entry["parents"] = tagIDs(tag.Parents())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

func summarize(tag *tags.Tag) map[string]any {
	return map[string]any{
		"id":      tag.ID(),
		"name":    tag.Name(),
		"rule":    tag.IsRule(),
		"status":  tag.LatestStatus().String(),
		"value":   tag.Value().String(),
		"watched": tag.ToBeNotified(),
	}
}

func tagIDs(list []*tags.Tag) []int64 {
	ids := make([]int64, 0, len(list))
	for _, tag := range list {
		ids = append(ids, tag.ID())
	}
	return ids
}
