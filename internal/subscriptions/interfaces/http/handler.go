package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tagwatch/internal/observability/metrics"
	subapp "tagwatch/internal/subscriptions/application"
	subscriptions "tagwatch/internal/subscriptions/domain"
	tags "tagwatch/internal/tags/domain"
)

// Handler provides subscriber and subscription HTTP endpoints.
type Handler struct {
	registry *subapp.Registry
}

// NewHandler constructs a handler.
func NewHandler(registry *subapp.Registry) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("subscriptions handler: nil registry")
	}
	return &Handler{registry: registry}, nil
}

type subscriptionPayload struct {
	TagID    int64    `json:"tag_id"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
	MinLevel int      `json:"min_level,omitempty"`
	Mail     *bool    `json:"mail,omitempty"`
	SMS      bool     `json:"sms,omitempty"`
}

type subscriberPayload struct {
	ID                    string                `json:"id"`
	Email                 string                `json:"email,omitempty"`
	SMS                   string                `json:"sms,omitempty"`
	ReportIntervalSeconds int64                 `json:"report_interval_seconds,omitempty"`
	Subscriptions         []subscriptionPayload `json:"subscriptions,omitempty"`
}

// ServeHTTP handles /api/v1/subscribers and /api/v1/subscriptions subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/subscribers":
		h.handleSubscribers(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/subscribers/"):
		h.handleSubscriber(w, r)
	case r.URL.Path == "/api/v1/subscriptions":
		h.handleForTag(w, r)
	case r.URL.Path == "/api/v1/subscriptions/reload":
		h.handleReload(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subscribers := h.registry.Subscribers()
		payload := make([]subscriberPayload, 0, len(subscribers))
		for _, subscriber := range subscribers {
			payload = append(payload, toPayload(subscriber))
		}
		writeJSON(w, map[string]any{"subscribers": payload, "count": len(payload)})
	case http.MethodPost, http.MethodPut:
		var payload subscriberPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		subscriber, err := fromPayload(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.registry.SetSubscriber(r.Context(), subscriber); err != nil {
			respondRegistryError(w, err)
			return
		}
		writeJSON(w, toPayload(subscriber))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSubscriber(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/subscribers/")
	parts := strings.Split(rest, "/")
	subscriberID := parts[0]
	if subscriberID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			subscriber, err := h.registry.Subscriber(subscriberID)
			if err != nil {
				respondRegistryError(w, err)
				return
			}
			writeJSON(w, toPayload(subscriber))
		case http.MethodDelete:
			if err := h.registry.RemoveSubscriber(r.Context(), subscriberID); err != nil {
				respondRegistryError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "subscriptions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload subscriptionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		sub, err := subscriptionFromPayload(subscriberID, payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.registry.AddSubscription(r.Context(), sub); err != nil {
			respondRegistryError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case len(parts) == 3 && parts[1] == "subscriptions":
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		tagID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || tagID <= 0 {
			http.Error(w, "invalid tag id", http.StatusBadRequest)
			return
		}
		if err := h.registry.RemoveSubscription(r.Context(), subscriberID, tagID); err != nil {
			respondRegistryError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleForTag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("tag_id")
	if raw == "" {
		http.Error(w, "tag_id is required", http.StatusBadRequest)
		return
	}
	tagID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || tagID <= 0 {
		http.Error(w, "invalid tag id", http.StatusBadRequest)
		return
	}
	bySubscriber := h.registry.SubscriptionsForTag(tagID)
	payload := make([]map[string]any, 0, len(bySubscriber))
	for subscriberID, sub := range bySubscriber {
		entry := map[string]any{
			"subscriber_id": subscriberID,
			"tag_id":        sub.TagID,
			"enabled":       sub.Enabled,
			"mail":          sub.Mail,
			"sms":           sub.SMS,
		}
		if last := sub.LastNotified(); !last.IsZero() {
			entry["last_notified_at"] = last.UTC().Format(time.RFC3339)
		}
		payload = append(payload, entry)
	}
	writeJSON(w, map[string]any{"subscriptions": payload, "count": len(payload)})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.registry.ReloadConfig(r.Context()); err != nil {
		metrics.IncRegistryReload(metrics.ResultError)
		respondRegistryError(w, err)
		return
	}
	metrics.IncRegistryReload(metrics.ResultSuccess)
	writeJSON(w, map[string]string{"status": "reloaded"})
}

func toPayload(subscriber *subscriptions.Subscriber) subscriberPayload {
	payload := subscriberPayload{
		ID:                    subscriber.ID,
		Email:                 subscriber.Email,
		SMS:                   subscriber.SMS,
		ReportIntervalSeconds: int64(subscriber.ReportInterval / time.Second),
	}
	for _, tagID := range subscriber.SubscribedTagIDs() {
		sub := subscriber.Subscriptions[tagID]
		enabled := sub.Enabled
		mail := sub.Mail
		kinds := make([]string, 0, len(sub.Kinds))
		for _, kind := range sub.Kinds {
			kinds = append(kinds, string(kind))
		}
		payload.Subscriptions = append(payload.Subscriptions, subscriptionPayload{
			TagID:    sub.TagID,
			Enabled:  &enabled,
			Kinds:    kinds,
			MinLevel: sub.MinLevel,
			Mail:     &mail,
			SMS:      sub.SMS,
		})
	}
	return payload
}

func fromPayload(payload subscriberPayload) (*subscriptions.Subscriber, error) {
	subscriber := &subscriptions.Subscriber{
		ID:             payload.ID,
		Email:          payload.Email,
		SMS:            payload.SMS,
		ReportInterval: time.Duration(payload.ReportIntervalSeconds) * time.Second,
		Subscriptions:  make(map[int64]*subscriptions.Subscription, len(payload.Subscriptions)),
	}
	for _, sp := range payload.Subscriptions {
		sub, err := subscriptionFromPayload(payload.ID, sp)
		if err != nil {
			return nil, err
		}
		subscriber.Subscriptions[sub.TagID] = sub
	}
	if err := subscriber.Validate(); err != nil {
		return nil, err
	}
	return subscriber, nil
}

func subscriptionFromPayload(subscriberID string, payload subscriptionPayload) (*subscriptions.Subscription, error) {
	sub := &subscriptions.Subscription{
		SubscriberID: subscriberID,
		TagID:        payload.TagID,
		Enabled:      true,
		MinLevel:     payload.MinLevel,
		Mail:         true,
		SMS:          payload.SMS,
	}
	if payload.Enabled != nil {
		sub.Enabled = *payload.Enabled
	}
	if payload.Mail != nil {
		sub.Mail = *payload.Mail
	}
	for _, raw := range payload.Kinds {
		kind, ok := subscriptions.ParseKind(raw)
		if !ok {
			return nil, errors.New("unknown notification kind " + raw)
		}
		sub.Kinds = append(sub.Kinds, kind)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}

func respondRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tags.ErrTagNotFound), errors.Is(err, subscriptions.ErrSubscriberNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
