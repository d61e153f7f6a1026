package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tagwatch/internal/observability/metrics"
	subscriptions "tagwatch/internal/subscriptions/domain"
	tags "tagwatch/internal/tags/domain"
)

// ReminderRegistry is the registry-side seam the reminder scan reads.
type ReminderRegistry interface {
	SnapshotSubscriptions() []*subscriptions.Subscription
	Subscriber(subscriberID string) (*subscriptions.Subscriber, error)
}

// TagReader looks tags up by id.
type TagReader interface {
	Get(tagID int64) (*tags.Tag, error)
}

// Reminder periodically re-notifies subscribers about problems that have not
// self-resolved. It works off a snapshot of the subscription index and reads
// each tag's status independently, so a full scan never stalls update
// delivery.
type Reminder struct {
	notifier *Notifier
	registry ReminderRegistry
	cache    TagReader
	interval time.Duration
	tick     time.Duration
	clock    Clock
	logger   *log.Logger

	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	lastRound time.Time
}

// ReminderOption configures the reminder loop.
type ReminderOption func(*Reminder)

// WithReminderTick overrides how often the loop wakes to scan.
func WithReminderTick(tick time.Duration) ReminderOption {
	return func(r *Reminder) {
		if tick > 0 {
			r.tick = tick
		}
	}
}

// WithReminderClock overrides the default clock.
func WithReminderClock(clock Clock) ReminderOption {
	return func(r *Reminder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithReminderLogger assigns a logger.
func WithReminderLogger(logger *log.Logger) ReminderOption {
	return func(r *Reminder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReminder constructs a reminder loop. interval is the global staleness
// threshold; a subscriber's ReportInterval overrides it when set.
func NewReminder(notifier *Notifier, registry ReminderRegistry, cache TagReader, interval time.Duration, opts ...ReminderOption) (*Reminder, error) {
	if notifier == nil {
		return nil, errors.New("reminder: nil notifier")
	}
	if registry == nil {
		return nil, errors.New("reminder: nil registry")
	}
	if cache == nil {
		return nil, errors.New("reminder: nil tag reader")
	}
	if interval <= 0 {
		return nil, errors.New("reminder: non-positive interval")
	}
	r := &Reminder{
		notifier: notifier,
		registry: registry,
		cache:    cache,
		interval: interval,
		tick:     time.Minute,
		clock:    systemClock{},
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches the loop. Idempotent.
func (r *Reminder) Start() {
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
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Scan(context.Background())
			}
		}
	}()
}

// Stop halts the loop, letting an in-flight scan finish. Idempotent.
func (r *Reminder) Stop() {
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

// LastReminderRound reports when the most recent full scan completed. Health
// checks use it to detect a stalled loop.
func (r *Reminder) LastReminderRound() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRound
}

// Scan runs one full reminder round.
func (r *Reminder) Scan(ctx context.Context) {
	started := r.clock.Now().UTC()
	sent := 0
	for _, sub := range r.registry.SnapshotSubscriptions() {
		if err := ctx.Err(); err != nil {
			return
		}
		if r.remind(ctx, sub, started) {
			sent++
		}
	}
	r.mu.Lock()
	r.lastRound = r.clock.Now().UTC()
	r.mu.Unlock()
	metrics.ObserveReminderRound(r.clock.Now().UTC().Sub(started), sent)
}

// remind decides whether one subscription is due and, if so, re-notifies.
// A tag may transition between the snapshot and this read; at worst that
// costs one extra or one skipped reminder, which the next round corrects.
func (r *Reminder) remind(ctx context.Context, sub *subscriptions.Subscription, now time.Time) bool {
	if sub == nil || !sub.Enabled {
		return false
	}
	last := sub.LastNotified()
	if last.IsZero() {
		return false
	}

	interval := r.interval
	if owner, err := r.registry.Subscriber(sub.SubscriberID); err == nil && owner.ReportInterval > 0 {
		interval = owner.ReportInterval
	}
	if now.Sub(last) < interval {
		return false
	}

	t, err := r.cache.Get(sub.TagID)
	if err != nil {
		r.logger.Printf("reminder: tag %d: %v", sub.TagID, err)
		return false
	}
	if !t.LatestStatus().WorseThan(tags.StatusOK) {
		return false
	}
	if err := r.notifier.SendReminder(ctx, t, sub); err != nil {
		r.logger.Printf("reminder: send for %s: %v", sub.Key(), err)
		return false
	}
	return true
}
