package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	subscriptions "tagwatch/internal/subscriptions/domain"
	tags "tagwatch/internal/tags/domain"
)

type stubGraph struct {
	mu       sync.Mutex
	known    map[int64]bool
	attached map[string]int
}

func newStubGraph(ids ...int64) *stubGraph {
	g := &stubGraph{known: make(map[int64]bool), attached: make(map[string]int)}
	for _, id := range ids {
		g.known[id] = true
	}
	return g
}

func (g *stubGraph) Has(tagID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known[tagID]
}

func (g *stubGraph) Subscribe(tagID int64, sub *subscriptions.Subscription) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.known[tagID] {
		return tags.ErrTagNotFound
	}
	g.attached[sub.Key()]++
	return nil
}

func (g *stubGraph) Unsubscribe(tagID int64, sub *subscriptions.Subscription) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attached[sub.Key()]--
	return nil
}

func (g *stubGraph) attachCount(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attached[key]
}

type stubStore struct {
	mu      sync.Mutex
	loaded  []*subscriptions.Subscriber
	loadErr error
	saved   [][]*subscriptions.Subscriber
	saveErr error
}

func (s *stubStore) LoadAll(_ context.Context) ([]*subscriptions.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded, s.loadErr
}

func (s *stubStore) SaveAll(_ context.Context, subscribers []*subscriptions.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, subscribers)
	return nil
}

func (s *stubStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func subscriberWith(id string, tagIDs ...int64) *subscriptions.Subscriber {
	subscriber := &subscriptions.Subscriber{
		ID:            id,
		Email:         id + "@example.org",
		Subscriptions: make(map[int64]*subscriptions.Subscription),
	}
	for _, tagID := range tagIDs {
		subscriber.Subscriptions[tagID] = &subscriptions.Subscription{
			SubscriberID: id,
			TagID:        tagID,
			Enabled:      true,
			Mail:         true,
		}
	}
	return subscriber
}

func TestSetSubscriberUnknownTagLeavesRegistryUntouched(t *testing.T) {
	graph := newStubGraph(1)
	registry, err := NewRegistry(graph)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	err = registry.SetSubscriber(context.Background(), subscriberWith("alice", 1, 99))
	if !errors.Is(err, tags.ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound, got %v", err)
	}
	if got := len(registry.Subscribers()); got != 0 {
		t.Fatalf("failed upsert must not register anything, got %d subscribers", got)
	}
	if got := len(registry.SubscriptionsForTag(1)); got != 0 {
		t.Fatalf("failed upsert must not attach subscriptions, got %d", got)
	}
}

func TestSetSubscriberReplacementKeepsDeliveryState(t *testing.T) {
	graph := newStubGraph(1, 2)
	registry, err := NewRegistry(graph)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()

	original := subscriberWith("alice", 1)
	if err := registry.SetSubscriber(ctx, original); err != nil {
		t.Fatalf("set subscriber: %v", err)
	}
	notifiedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	original.Subscriptions[1].MarkNotified(notifiedAt, tags.StatusError.Int())

	replacement := subscriberWith("alice", 1, 2)
	if err := registry.SetSubscriber(ctx, replacement); err != nil {
		t.Fatalf("replace subscriber: %v", err)
	}

	kept := registry.SubscriptionsForTag(1)["alice"]
	if kept == nil {
		t.Fatal("expected replacement subscription attached to tag 1")
	}
	if !kept.LastNotified().Equal(notifiedAt) {
		t.Fatalf("expected carried-over delivery time, got %v", kept.LastNotified())
	}
	if got := kept.LastNotifiedStatus(); got != tags.StatusError.Int() {
		t.Fatalf("expected carried-over status, got %d", got)
	}
}

func TestRemoveSubscriptionDetachesFromGraph(t *testing.T) {
	graph := newStubGraph(1, 2)
	registry, err := NewRegistry(graph)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()

	if err := registry.SetSubscriber(ctx, subscriberWith("bob", 1, 2)); err != nil {
		t.Fatalf("set subscriber: %v", err)
	}
	if err := registry.RemoveSubscription(ctx, "bob", 1); err != nil {
		t.Fatalf("remove subscription: %v", err)
	}

	if got := len(registry.SubscriptionsForTag(1)); got != 0 {
		t.Fatalf("expected tag 1 without subscriptions, got %d", got)
	}
	if got := graph.attachCount("bob|1"); got != 0 {
		t.Fatalf("expected graph detach, attach count %d", got)
	}
	if got := registry.AllRegisteredTagIDs(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected only tag 2 registered, got %v", got)
	}
}

func TestSubscriptionsForTagNeverNil(t *testing.T) {
	registry, err := NewRegistry(newStubGraph())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := registry.SubscriptionsForTag(42); got == nil {
		t.Fatal("expected empty map, got nil")
	}
}

func TestReloadConfigFallsBackToBackup(t *testing.T) {
	graph := newStubGraph(1)
	store := &stubStore{loadErr: errors.New("connection refused")}
	backup := &stubStore{loaded: []*subscriptions.Subscriber{subscriberWith("carol", 1)}}
	registry, err := NewRegistry(graph, WithStore(store), WithBackup(backup))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if err := registry.ReloadConfig(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := registry.Subscriber("carol"); err != nil {
		t.Fatalf("expected carol loaded from backup: %v", err)
	}
}

func TestReloadConfigFailureKeepsPriorIndex(t *testing.T) {
	graph := newStubGraph(1)
	store := &stubStore{loaded: []*subscriptions.Subscriber{subscriberWith("dave", 99)}}
	registry, err := NewRegistry(graph, WithStore(store))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()

	if err := registry.SetSubscriber(ctx, subscriberWith("erin", 1)); err != nil {
		t.Fatalf("set subscriber: %v", err)
	}
	if err := registry.ReloadConfig(ctx); !errors.Is(err, tags.ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound from reload, got %v", err)
	}
	if _, err := registry.Subscriber("erin"); err != nil {
		t.Fatalf("failed reload must keep the prior index: %v", err)
	}
	if got := len(registry.SubscriptionsForTag(1)); got != 1 {
		t.Fatalf("expected erin still attached to tag 1, got %d", got)
	}
}

func TestSnapshotSubscriptionsFlattensAll(t *testing.T) {
	graph := newStubGraph(1, 2, 3)
	registry, err := NewRegistry(graph)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()

	if err := registry.SetSubscriber(ctx, subscriberWith("alice", 1, 2)); err != nil {
		t.Fatalf("set subscriber: %v", err)
	}
	if err := registry.SetSubscriber(ctx, subscriberWith("bob", 3)); err != nil {
		t.Fatalf("set subscriber: %v", err)
	}

	snapshot := registry.SnapshotSubscriptions()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", len(snapshot))
	}
}

func TestAutosavePersistsOnStop(t *testing.T) {
	graph := newStubGraph(1)
	store := &stubStore{}
	registry, err := NewRegistry(graph, WithStore(store), WithAutosaveInterval(time.Hour))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.SetSubscriber(context.Background(), subscriberWith("frank", 1)); err != nil {
		t.Fatalf("set subscriber: %v", err)
	}

	registry.StartAutosave()
	registry.StopAutosave()
	if got := store.saveCount(); got != 1 {
		t.Fatalf("expected one final write on stop, got %d", got)
	}

	// Nothing changed since the last write, so another cycle stays quiet.
	registry.StartAutosave()
	registry.StopAutosave()
	if got := store.saveCount(); got != 1 {
		t.Fatalf("expected unchanged registry to skip persistence, got %d writes", got)
	}
}
