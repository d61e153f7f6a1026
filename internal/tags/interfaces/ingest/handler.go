package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"tagwatch/internal/observability/metrics"
	tagapp "tagwatch/internal/tags/application"
	tags "tagwatch/internal/tags/domain"
)

// UpdateNotifier receives each applied update with its affected ancestors.
type UpdateNotifier interface {
	OnUpdate(ctx context.Context, updated *tags.Tag, ancestors []*tags.Tag)
}

// Handler ingests tag updates from the upstream feed.
type Handler struct {
	cache    *tagapp.Cache
	notifier UpdateNotifier
	logger   *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(cache *tagapp.Cache, notifier UpdateNotifier, logger *log.Logger) (*Handler, error) {
	if cache == nil {
		return nil, errors.New("tag ingest: nil cache")
	}
	if notifier == nil {
		return nil, errors.New("tag ingest: nil notifier")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{cache: cache, notifier: notifier, logger: logger}, nil
}

type ingestRequest struct {
	Updates []tags.TagUpdate `json:"updates"`
}

// ServeHTTP handles POST /ingest/updates. Updates in one batch are applied
// in order, so consecutive-state comparisons for a single tag stay correct.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("tag ingest: read body error: %v", err)
		metrics.IncIngestError("read")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Updates) == 0 {
		// Single-update feeds post the bare object.
		var single tags.TagUpdate
		if err := json.Unmarshal(body, &single); err == nil && single.ID != 0 {
			req.Updates = []tags.TagUpdate{single}
		}
	}
	if len(req.Updates) == 0 {
		metrics.IncIngestError("decode")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	applied, rejected := 0, 0
	for i := range req.Updates {
		update := &req.Updates[i]
		if update.ID <= 0 {
			rejected++
			metrics.IncIngestError("invalid-id")
			continue
		}
		kind := "metric"
		if update.RuleResult {
			kind = "rule"
		}
		ancestors, err := h.cache.Apply(r.Context(), update)
		if err != nil {
			rejected++
			h.logger.Printf("tag ingest: apply tag %d: %v", update.ID, err)
			metrics.IncUpdateApplied(kind, metrics.ResultError)
			continue
		}
		applied++
		metrics.IncUpdateApplied(kind, metrics.ResultSuccess)

		tag, err := h.cache.Get(update.ID)
		if err != nil {
			continue
		}
		h.notifier.OnUpdate(r.Context(), tag, ancestors)
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"applied":  applied,
		"rejected": rejected,
	})
}
