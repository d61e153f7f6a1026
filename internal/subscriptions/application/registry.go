package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	subscriptions "tagwatch/internal/subscriptions/domain"
	tags "tagwatch/internal/tags/domain"
)

// TagGraph is the cache-side seam the registry drives. It is the only caller
// of the cascade subscribe/unsubscribe operations.
type TagGraph interface {
	Has(tagID int64) bool
	Subscribe(tagID int64, sub *subscriptions.Subscription) error
	Unsubscribe(tagID int64, sub *subscriptions.Subscription) error
}

// Store persists the full subscriber set.
type Store interface {
	LoadAll(ctx context.Context) ([]*subscriptions.Subscriber, error)
	SaveAll(ctx context.Context, subscribers []*subscriptions.Subscriber) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Registry is the bidirectional index between subscribers and tags.
type Registry struct {
	graph  TagGraph
	store  Store
	backup Store
	logger *log.Logger
	clock  Clock

	mu          sync.RWMutex
	subscribers map[string]*subscriptions.Subscriber
	byTag       map[int64]map[string]*subscriptions.Subscription
	modifiedAt  time.Time
	lastWrite   time.Time

	autosave time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// RegistryOption customizes the registry.
type RegistryOption func(*Registry)

// WithStore assigns the primary persistence store.
func WithStore(store Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithBackup assigns the local fallback store used when the primary one is
// unavailable.
func WithBackup(backup Store) RegistryOption {
	return func(r *Registry) { r.backup = backup }
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithAutosaveInterval enables the periodic persistence loop.
func WithAutosaveInterval(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		if interval > 0 {
			r.autosave = interval
		}
	}
}

// NewRegistry constructs a registry over the given tag graph.
func NewRegistry(graph TagGraph, opts ...RegistryOption) (*Registry, error) {
	if graph == nil {
		return nil, errors.New("registry: nil tag graph")
	}
	r := &Registry{
		graph:       graph,
		logger:      log.Default(),
		clock:       systemClock{},
		subscribers: make(map[string]*subscriptions.Subscriber),
		byTag:       make(map[int64]map[string]*subscriptions.Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetSubscriber upserts a subscriber and (re)registers its subscriptions.
// Registration is all-or-nothing: if any subscription references an unknown
// tag id, the registry is left untouched and ErrTagNotFound is returned.
func (r *Registry) SetSubscriber(ctx context.Context, subscriber *subscriptions.Subscriber) error {
	if err := subscriber.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, tagID := range subscriber.SubscribedTagIDs() {
		if !r.graph.Has(tagID) {
			return fmt.Errorf("registry: subscriber %s: tag %d: %w", subscriber.ID, tagID, tags.ErrTagNotFound)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.subscribers[subscriber.ID]; ok {
		for tagID, sub := range previous.Subscriptions {
			if replacement, stillThere := subscriber.Subscriptions[tagID]; stillThere {
				if replacement.LastNotified().IsZero() && !sub.LastNotified().IsZero() {
					replacement.RestoreNotified(sub.LastNotified(), sub.LastNotifiedStatus())
				}
			}
			r.detachLocked(sub)
		}
	}
	for _, sub := range subscriber.Subscriptions {
		r.attachLocked(sub)
	}
	r.subscribers[subscriber.ID] = subscriber
	r.markModifiedLocked()
	return nil
}

// RemoveSubscriber deregisters a subscriber and all of its subscriptions.
func (r *Registry) RemoveSubscriber(ctx context.Context, subscriberID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subscriber, ok := r.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("registry: %s: %w", subscriberID, subscriptions.ErrSubscriberNotFound)
	}
	for _, sub := range subscriber.Subscriptions {
		r.detachLocked(sub)
	}
	delete(r.subscribers, subscriberID)
	r.markModifiedLocked()
	return nil
}

// AddSubscription registers one subscription for an existing subscriber.
func (r *Registry) AddSubscription(ctx context.Context, sub *subscriptions.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.graph.Has(sub.TagID) {
		return fmt.Errorf("registry: tag %d: %w", sub.TagID, tags.ErrTagNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subscriber, ok := r.subscribers[sub.SubscriberID]
	if !ok {
		return fmt.Errorf("registry: %s: %w", sub.SubscriberID, subscriptions.ErrSubscriberNotFound)
	}
	if existing, ok := subscriber.Subscriptions[sub.TagID]; ok {
		r.detachLocked(existing)
	}
	if err := subscriber.AddSubscription(sub); err != nil {
		return err
	}
	r.attachLocked(sub)
	r.markModifiedLocked()
	return nil
}

// RemoveSubscription deregisters one subscription.
func (r *Registry) RemoveSubscription(ctx context.Context, subscriberID string, tagID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subscriber, ok := r.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("registry: %s: %w", subscriberID, subscriptions.ErrSubscriberNotFound)
	}
	sub, ok := subscriber.Subscriptions[tagID]
	if !ok {
		return nil
	}
	r.detachLocked(sub)
	subscriber.RemoveSubscription(tagID)
	r.markModifiedLocked()
	return nil
}

// Subscriber returns a deep copy of the subscriber with the given id.
func (r *Registry) Subscriber(subscriberID string) (*subscriptions.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subscriber, ok := r.subscribers[subscriberID]
	if !ok {
		return nil, fmt.Errorf("registry: %s: %w", subscriberID, subscriptions.ErrSubscriberNotFound)
	}
	return subscriber.Copy(), nil
}

// Subscribers returns deep copies of all subscribers, sorted by id.
func (r *Registry) Subscribers() []*subscriptions.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]*subscriptions.Subscriber, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.subscribers[id].Copy())
	}
	return result
}

// SubscriptionsForTag returns everyone subscribed to this exact tag, keyed
// by subscriber id. Never nil; an empty map when nobody is subscribed.
func (r *Registry) SubscriptionsForTag(tagID int64) map[string]*subscriptions.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*subscriptions.Subscription, len(r.byTag[tagID]))
	for id, sub := range r.byTag[tagID] {
		result[id] = sub
	}
	return result
}

// SnapshotSubscriptions returns all live subscriptions in one flat slice.
// The reminder scan works off this snapshot and reads each tag's status
// independently, so it never holds the registry lock during a full round.
func (r *Registry) SnapshotSubscriptions() []*subscriptions.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*subscriptions.Subscription
	ids := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		subscriber := r.subscribers[id]
		for _, tagID := range subscriber.SubscribedTagIDs() {
			result = append(result, subscriber.Subscriptions[tagID])
		}
	}
	return result
}

// AllRegisteredTagIDs returns the set of tag ids with at least one
// subscription, sorted.
func (r *Registry) AllRegisteredTagIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.byTag))
	for id, subs := range r.byTag {
		if len(subs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReloadConfig re-reads subscriber definitions from the store (falling back
// to the local backup) and swaps the in-memory index atomically. Concurrent
// readers see either the pre- or the post-reload view, never a partially
// reconciled one. On load failure the prior index stays untouched.
func (r *Registry) ReloadConfig(ctx context.Context) error {
	loaded, err := r.loadSubscribers(ctx)
	if err != nil {
		return err
	}

	for _, subscriber := range loaded {
		if err := subscriber.Validate(); err != nil {
			return fmt.Errorf("registry reload: %w", err)
		}
		for _, tagID := range subscriber.SubscribedTagIDs() {
			if !r.graph.Has(tagID) {
				return fmt.Errorf("registry reload: subscriber %s: tag %d: %w", subscriber.ID, tagID, tags.ErrTagNotFound)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subscriber := range r.subscribers {
		for _, sub := range subscriber.Subscriptions {
			r.detachLocked(sub)
		}
	}
	r.subscribers = make(map[string]*subscriptions.Subscriber, len(loaded))
	for _, subscriber := range loaded {
		for _, sub := range subscriber.Subscriptions {
			r.attachLocked(sub)
		}
		r.subscribers[subscriber.ID] = subscriber
	}
	r.markModifiedLocked()
	return nil
}

func (r *Registry) loadSubscribers(ctx context.Context) ([]*subscriptions.Subscriber, error) {
	if r.store != nil {
		loaded, err := r.store.LoadAll(ctx)
		if err == nil {
			return loaded, nil
		}
		r.logger.Printf("registry reload: store load error, trying backup: %v", err)
	}
	if r.backup != nil {
		return r.backup.LoadAll(ctx)
	}
	if r.store == nil {
		return nil, errors.New("registry reload: no store configured")
	}
	return nil, errors.New("registry reload: store unavailable and no backup configured")
}

// MarkModified records an out-of-band mutation (delivery state updates) so
// the autosave loop persists it.
func (r *Registry) MarkModified() {
	r.mu.Lock()
	r.markModifiedLocked()
	r.mu.Unlock()
}

// LastModified returns the time of the most recent registry mutation.
func (r *Registry) LastModified() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modifiedAt
}

// StartAutosave begins the periodic persistence loop. Idempotent.
func (r *Registry) StartAutosave() {
	if r.autosave <= 0 || (r.store == nil && r.backup == nil) {
		return
	}
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.autosave)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				r.persist(context.Background())
				return
			case <-ticker.C:
				r.persist(context.Background())
			}
		}
	}()
}

// StopAutosave halts the loop after a final write. Idempotent.
func (r *Registry) StopAutosave() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Registry) persist(ctx context.Context) {
	r.mu.RLock()
	modified, written := r.modifiedAt, r.lastWrite
	r.mu.RUnlock()
	if !modified.After(written) {
		return
	}

	snapshot := r.Subscribers()
	if r.store != nil {
		if err := r.store.SaveAll(ctx, snapshot); err != nil {
			r.logger.Printf("registry autosave: store write error: %v", err)
		}
	}
	if r.backup != nil {
		if err := r.backup.SaveAll(ctx, snapshot); err != nil {
			r.logger.Printf("registry autosave: backup write error: %v", err)
		}
	}
	r.mu.Lock()
	r.lastWrite = modified
	r.mu.Unlock()
}

func (r *Registry) attachLocked(sub *subscriptions.Subscription) {
	if err := r.graph.Subscribe(sub.TagID, sub); err != nil {
		// Pre-flight checked existence; a failure here means the tag vanished
		// mid-call, which the cache does not do.
		r.logger.Printf("registry: attach %s: %v", sub.Key(), err)
		return
	}
	bucket := r.byTag[sub.TagID]
	if bucket == nil {
		bucket = make(map[string]*subscriptions.Subscription)
		r.byTag[sub.TagID] = bucket
	}
	bucket[sub.SubscriberID] = sub
}

func (r *Registry) detachLocked(sub *subscriptions.Subscription) {
	if err := r.graph.Unsubscribe(sub.TagID, sub); err != nil {
		r.logger.Printf("registry: detach %s: %v", sub.Key(), err)
	}
	if bucket, ok := r.byTag[sub.TagID]; ok {
		delete(bucket, sub.SubscriberID)
		if len(bucket) == 0 {
			delete(r.byTag, sub.TagID)
		}
	}
}

func (r *Registry) markModifiedLocked() {
	r.modifiedAt = r.clock.Now().UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
