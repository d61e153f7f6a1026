package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	subapp "tagwatch/internal/subscriptions/application"
	tagapp "tagwatch/internal/tags/application"
)

func testRegistry(t *testing.T, tagIDs ...int64) (*subapp.Registry, *tagapp.Cache) {
	t.Helper()
	cache := tagapp.NewCache()
	for _, id := range tagIDs {
		cache.Resolve(id, true)
	}
	registry, err := subapp.NewRegistry(cache)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry, cache
}

func TestSubscriberLifecycle(t *testing.T) {
	registry, cache := testRegistry(t, 10, 20)
	handler, err := NewHandler(registry)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	upsert := `{"id":"alice","email":"alice@example.org","subscriptions":[{"tag_id":10,"kinds":["rule-change"]}]}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/subscribers", strings.NewReader(upsert)))
	if resp.Code != http.StatusOK {
		t.Fatalf("upsert status %d: %s", resp.Code, resp.Body.String())
	}

	tag, err := cache.Get(10)
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}
	if !tag.ToBeNotified() {
		t.Fatal("expected upsert to flag the watched tag")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/subscribers/alice", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("get status %d", resp.Code)
	}
	var got struct {
		ID            string `json:"id"`
		Subscriptions []struct {
			TagID int64 `json:"tag_id"`
		} `json:"subscriptions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "alice" || len(got.Subscriptions) != 1 || got.Subscriptions[0].TagID != 10 {
		t.Fatalf("unexpected subscriber payload: %+v", got)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/subscribers/alice/subscriptions", strings.NewReader(`{"tag_id":20}`)))
	if resp.Code != http.StatusCreated {
		t.Fatalf("add subscription status %d: %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions?tag_id=20", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("list for tag status %d", resp.Code)
	}
	var forTag struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&forTag); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if forTag.Count != 1 {
		t.Fatalf("expected 1 subscription on tag 20, got %d", forTag.Count)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/subscribers/alice/subscriptions/20", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("remove subscription status %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/subscribers/alice", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("remove subscriber status %d", resp.Code)
	}
	if tag.ToBeNotified() {
		t.Fatal("expected removal to clear the watch flag")
	}
}

func TestUpsertUnknownTagRespondsNotFound(t *testing.T) {
	registry, _ := testRegistry(t, 10)
	handler, err := NewHandler(registry)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	upsert := `{"id":"bob","email":"bob@example.org","subscriptions":[{"tag_id":99}]}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/subscribers", strings.NewReader(upsert)))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tag, got %d", resp.Code)
	}
}

func TestUnknownSubscriberRespondsNotFound(t *testing.T) {
	registry, _ := testRegistry(t)
	handler, err := NewHandler(registry)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/subscribers/ghost", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestInvalidKindRejected(t *testing.T) {
	registry, _ := testRegistry(t, 10)
	handler, err := NewHandler(registry)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	upsert := `{"id":"carol","email":"carol@example.org","subscriptions":[{"tag_id":10,"kinds":["nonsense"]}]}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/subscribers", strings.NewReader(upsert)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", resp.Code)
	}
}
