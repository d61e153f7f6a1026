package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	subscriptions "tagwatch/internal/subscriptions/domain"
	tags "tagwatch/internal/tags/domain"
)

// Cache is the process-wide table of all known tags. It is the entry point
// for upstream updates and owns every node in the graph, so edges always
// point at cache-owned tags.
type Cache struct {
	mu              sync.RWMutex
	tags            map[int64]*tags.Tag
	historyCapacity int
	autoCreate      bool
	logger          *log.Logger
}

// CacheOption customizes the cache.
type CacheOption func(*Cache)

// WithHistoryCapacity sets the status ring size for newly created rule tags.
func WithHistoryCapacity(capacity int) CacheOption {
	return func(c *Cache) {
		if capacity > 0 {
			c.historyCapacity = capacity
		}
	}
}

// WithAutoCreate controls whether lookups for unknown ids create the tag.
func WithAutoCreate(enabled bool) CacheOption {
	return func(c *Cache) {
		c.autoCreate = enabled
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache constructs a tag cache. Updates create unknown tags by default.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		tags:            make(map[int64]*tags.Tag),
		historyCapacity: tags.DefaultHistoryCapacity,
		autoCreate:      true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks up a tag by id. When auto-create is off it fails with
// ErrTagNotFound for unknown ids; otherwise the tag is created as a metric
// placeholder.
func (c *Cache) Get(id int64) (*tags.Tag, error) {
	c.mu.RLock()
	tag, ok := c.tags[id]
	c.mu.RUnlock()
	if ok {
		return tag, nil
	}
	if !c.autoCreate {
		return nil, fmt.Errorf("tag %d: %w", id, tags.ErrTagNotFound)
	}
	return c.resolve(id, false), nil
}

// Has reports whether the id is known without creating it.
func (c *Cache) Has(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tags[id]
	return ok
}

// Resolve returns the tag for the id, creating it with the given kind when
// unknown. A placeholder created as a metric is promoted when first
// referenced as a rule, as long as no update has been applied yet.
func (c *Cache) Resolve(id int64, rule bool) *tags.Tag {
	return c.resolve(id, rule)
}

func (c *Cache) resolve(id int64, rule bool) *tags.Tag {
	c.mu.Lock()
	tag, ok := c.tags[id]
	if !ok {
		tag = tags.NewTag(id, rule, c.historyCapacity)
		c.tags[id] = tag
	}
	c.mu.Unlock()
	if ok && rule && !tag.IsRule() {
		if !tag.PromoteToRule(c.historyCapacity) && c.logger != nil {
			c.logger.Printf("tag cache: tag %d referenced as rule but already updated as metric", id)
		}
	}
	return tag
}

// Len returns the number of known tags.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tags)
}

// IDs returns all known tag ids, sorted.
func (c *Cache) IDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.tags))
	for id := range c.tags {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Apply looks up or creates the tag, wires the rule-input edges carried by
// the update, applies it, and returns the affected ancestor rules in
// child-before-parent topological order so each rule evaluates its children
// against already-updated state.
func (c *Cache) Apply(ctx context.Context, update *tags.TagUpdate) ([]*tags.Tag, error) {
	if update == nil {
		return nil, errors.New("tag cache: nil update")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tag *tags.Tag
	if c.autoCreate {
		tag = c.resolve(update.ID, update.RuleResult)
	} else {
		var err error
		tag, err = c.Get(update.ID)
		if err != nil {
			return nil, err
		}
	}

	if update.RuleResult {
		for _, inputID := range update.RuleInputTagIDs {
			child := c.resolve(inputID, false)
			if err := tag.AddChild(child); err != nil {
				return nil, err
			}
		}
	}

	if err := tag.Update(update); err != nil {
		return nil, err
	}
	return c.ancestorsOf(tag), nil
}

// Subscribe attaches a subscription to the tag and cascades over its
// transitive closure. Fails with ErrTagNotFound for unknown ids.
func (c *Cache) Subscribe(tagID int64, sub *subscriptions.Subscription) error {
	c.mu.RLock()
	tag, ok := c.tags[tagID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tag %d: %w", tagID, tags.ErrTagNotFound)
	}
	tag.Subscribe(sub)
	return nil
}

// Unsubscribe removes a subscription from the tag and its closure.
func (c *Cache) Unsubscribe(tagID int64, sub *subscriptions.Subscription) error {
	c.mu.RLock()
	tag, ok := c.tags[tagID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tag %d: %w", tagID, tags.ErrTagNotFound)
	}
	tag.Unsubscribe(sub)
	return nil
}

// ancestorsOf collects the transitive parents of the updated tag and orders
// them children before parents. Ids are visited in sorted order so the
// result is deterministic; visited sets keep the walk cycle-safe.
func (c *Cache) ancestorsOf(tag *tags.Tag) []*tags.Tag {
	affected := make(map[int64]*tags.Tag)
	collectAncestors(tag, affected)
	if len(affected) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	done := make(map[int64]bool)
	order := make([]*tags.Tag, 0, len(affected))
	var visit func(node *tags.Tag)
	visit = func(node *tags.Tag) {
		if done[node.ID()] {
			return
		}
		done[node.ID()] = true
		for _, child := range node.Children() {
			if _, ok := affected[child.ID()]; ok {
				visit(child)
			}
		}
		order = append(order, node)
	}
	for _, id := range ids {
		visit(affected[id])
	}
	return order
}

func collectAncestors(tag *tags.Tag, affected map[int64]*tags.Tag) {
	for _, parent := range tag.Parents() {
		if _, ok := affected[parent.ID()]; ok {
			continue
		}
		affected[parent.ID()] = parent
		collectAncestors(parent, affected)
	}
}
