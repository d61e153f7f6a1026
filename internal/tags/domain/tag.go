package tags

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	subscriptions "tagwatch/internal/subscriptions/domain"
)

// DefaultHistoryCapacity is the number of status entries a rule tag retains.
const DefaultHistoryCapacity = 10

// Tag is a node in the dependency graph: a metric (leaf, raw value) or a
// rule (derived, with a bounded status history and child tags). All mutable
// per-tag state shares one mutex so update delivery and subscription
// cascades never interleave on the same node.
type Tag struct {
	id   int64
	rule bool

	mu          sync.Mutex
	name        string
	latest      *TagUpdate
	previous    *TagUpdate
	history     []Status
	cursor      int
	children    map[int64]*Tag
	parents     map[int64]*Tag
	subscribers map[string]*subscriptions.Subscription

	toBeNotified atomic.Bool
}

// NewTag constructs a tag. A rule tag starts with its full history at OK.
func NewTag(id int64, rule bool, historyCapacity int) *Tag {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	t := &Tag{
		id:          id,
		rule:        rule,
		children:    make(map[int64]*Tag),
		parents:     make(map[int64]*Tag),
		subscribers: make(map[string]*subscriptions.Subscription),
	}
	if rule {
		t.history = make([]Status, historyCapacity)
	}
	return t
}

// ID returns the stable tag identifier.
func (t *Tag) ID() int64 { return t.id }

// IsRule reports whether this tag is a rule.
func (t *Tag) IsRule() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rule
}

// Name returns the display name from the most recent update.
func (t *Tag) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("tag-%d", t.id)
}

// PromoteToRule converts a lazily created metric placeholder into a rule.
// It succeeds only before the first update has been applied.
func (t *Tag) PromoteToRule(historyCapacity int) bool {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rule {
		return true
	}
	if t.latest != nil {
		return false
	}
	t.rule = true
	t.history = make([]Status, historyCapacity)
	t.cursor = 0
	return true
}

// Update applies one upstream event. For a rule the value is interpreted as
// a status code and written at the next history slot; an inaccessible source
// forces UNREACHABLE regardless of the raw value. A value that cannot be
// interpreted leaves the prior state untouched and returns
// ErrInvalidStatusEncoding.
func (t *Tag) Update(update *TagUpdate) error {
	if update == nil {
		return fmt.Errorf("tag %d: nil update", t.id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rule {
		var status Status
		if !update.Quality.Accessible {
			status = StatusUnreachable
		} else {
			code, ok := update.Value.StatusCode()
			if !ok {
				return fmt.Errorf("tag %d: %w: %q", t.id, ErrInvalidStatusEncoding, update.Value.String())
			}
			status = StatusFromInt(code)
		}
		t.cursor = (t.cursor + 1) % len(t.history)
		t.history[t.cursor] = status
	}

	t.previous = t.latest
	t.latest = update
	if update.Name != "" {
		t.name = update.Name
	}
	return nil
}

// Latest returns the most recent update snapshot, nil before the first one.
func (t *Tag) Latest() *TagUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// Previous returns the update before the latest, nil if fewer than two.
func (t *Tag) Previous() *TagUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.previous
}

// Value returns the last raw value received.
func (t *Tag) Value() Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return Value{}
	}
	return t.latest.Value
}

// LatestStatus returns the status at the history cursor. Metric tags carry
// no status and always report OK.
func (t *Tag) LatestStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.rule {
		return StatusOK
	}
	return t.history[t.cursor]
}

// PreviousStatus returns the status one slot back, wrapping at capacity.
func (t *Tag) PreviousStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.rule {
		return StatusOK
	}
	if t.cursor == 0 {
		return t.history[len(t.history)-1]
	}
	return t.history[t.cursor-1]
}

// History returns a copy of the status ring for a rule tag, nil for metrics.
func (t *Tag) History() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.rule {
		return nil
	}
	return append([]Status(nil), t.history...)
}

// SetHistory restores the status ring after a restart. Extra entries beyond
// the capacity are dropped.
func (t *Tag) SetHistory(history []Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.rule {
		return
	}
	n := len(history)
	if n > len(t.history) {
		n = len(t.history)
	}
	copy(t.history, history[:n])
}

// StatusChanged reports whether the current status differs from the previous
// one. A metric update is a change by definition.
func (t *Tag) StatusChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.rule {
		return true
	}
	current := t.history[t.cursor]
	prev := t.history[(t.cursor+len(t.history)-1)%len(t.history)]
	return current != prev
}

// ValueChanged compares the last two raw values by typed equality. The very
// first update always counts as changed.
func (t *Tag) ValueChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.previous == nil {
		return true
	}
	if t.latest == nil {
		return false
	}
	return !t.previous.Value.Equal(t.latest.Value)
}

// StatusRecovered reports an all-clear transition: previous worse than OK,
// current OK.
func (t *Tag) StatusRecovered() bool {
	return t.PreviousStatus().WorseThan(StatusOK) && t.LatestStatus() == StatusOK
}

// ToBeNotified reports whether this tag's transitions surface in parent
// reports.
func (t *Tag) ToBeNotified() bool { return t.toBeNotified.Load() }

// SetToBeNotified flips the reporting flag.
func (t *Tag) SetToBeNotified(flag bool) { t.toBeNotified.Store(flag) }

// AddChild attaches a direct input to this rule and registers the reverse
// parent link. Only rule tags may have children.
func (t *Tag) AddChild(child *Tag) error {
	if child == nil {
		return fmt.Errorf("tag %d: add child: %w: nil tag", t.id, ErrInvalidGraphEdge)
	}
	if !t.IsRule() {
		return fmt.Errorf("tag %d: add child: %w: tag %d cannot be assigned to non-rule tag %d", t.id, ErrInvalidGraphEdge, child.id, t.id)
	}
	t.mu.Lock()
	t.children[child.id] = child
	t.mu.Unlock()
	child.mu.Lock()
	child.parents[t.id] = t
	child.mu.Unlock()
	return nil
}

// RemoveChild detaches a direct input and its reverse parent link.
func (t *Tag) RemoveChild(child *Tag) error {
	if child == nil {
		return fmt.Errorf("tag %d: remove child: %w: nil tag", t.id, ErrInvalidGraphEdge)
	}
	t.mu.Lock()
	delete(t.children, child.id)
	t.mu.Unlock()
	child.mu.Lock()
	delete(child.parents, t.id)
	child.mu.Unlock()
	return nil
}

// Children returns the direct inputs, ordered by id for deterministic walks.
func (t *Tag) Children() []*Tag {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedTags(t.children)
}

// Parents returns the rules directly depending on this tag, ordered by id.
func (t *Tag) Parents() []*Tag {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedTags(t.parents)
}

// Descendants returns the transitive closure of children. The walk carries a
// visited set so it terminates even if configuration introduced a cycle.
func (t *Tag) Descendants() []*Tag {
	visited := map[int64]bool{t.id: true}
	var result []*Tag
	t.collectDescendants(visited, &result)
	return result
}

func (t *Tag) collectDescendants(visited map[int64]bool, result *[]*Tag) {
	for _, child := range t.Children() {
		if visited[child.id] {
			continue
		}
		visited[child.id] = true
		*result = append(*result, child)
		child.collectDescendants(visited, result)
	}
}

// ChildRules returns the direct children that are rules.
func (t *Tag) ChildRules() []*Tag {
	var result []*Tag
	for _, child := range t.Children() {
		if child.IsRule() {
			result = append(result, child)
		}
	}
	return result
}

// ChildMetrics returns the direct children that are metrics.
func (t *Tag) ChildMetrics() []*Tag {
	var result []*Tag
	for _, child := range t.Children() {
		if !child.IsRule() {
			result = append(result, child)
		}
	}
	return result
}

// ChangedChildRules returns the direct child rules whose status changed and
// which are flagged for notification.
func (t *Tag) ChangedChildRules() []*Tag {
	var result []*Tag
	for _, child := range t.ChildRules() {
		if child.StatusChanged() && child.ToBeNotified() {
			result = append(result, child)
		}
	}
	return result
}

// ChangedChildMetrics returns the direct child metrics whose value changed
// and which are flagged for notification.
func (t *Tag) ChangedChildMetrics() []*Tag {
	var result []*Tag
	for _, child := range t.ChildMetrics() {
		if child.ValueChanged() && child.ToBeNotified() {
			result = append(result, child)
		}
	}
	return result
}

// DegradedChildRules returns the direct child rules currently worse than OK
// and flagged for notification. Reminders use it to re-describe an unresolved
// problem.
func (t *Tag) DegradedChildRules() []*Tag {
	var result []*Tag
	for _, child := range t.ChildRules() {
		if child.LatestStatus().WorseThan(StatusOK) && child.ToBeNotified() {
			result = append(result, child)
		}
	}
	return result
}

// Subscribe attaches a subscription to this tag and, recursively, to every
// tag in its transitive closure, so a rule's report can later enumerate
// per-input values. Cycle-safe via a visited set.
func (t *Tag) Subscribe(sub *subscriptions.Subscription) {
	if sub == nil {
		return
	}
	t.subscribe(sub, make(map[int64]bool))
}

func (t *Tag) subscribe(sub *subscriptions.Subscription, visited map[int64]bool) {
	if visited[t.id] {
		return
	}
	visited[t.id] = true
	t.mu.Lock()
	t.subscribers[sub.Key()] = sub
	children := sortedTags(t.children)
	t.mu.Unlock()
	t.toBeNotified.Store(true)
	for _, child := range children {
		child.subscribe(sub, visited)
	}
}

// Unsubscribe removes a subscription from this tag and its transitive
// closure. A tag left without subscribers clears its notification flag.
func (t *Tag) Unsubscribe(sub *subscriptions.Subscription) {
	if sub == nil {
		return
	}
	t.unsubscribe(sub, make(map[int64]bool))
}

func (t *Tag) unsubscribe(sub *subscriptions.Subscription, visited map[int64]bool) {
	if visited[t.id] {
		return
	}
	visited[t.id] = true
	t.mu.Lock()
	delete(t.subscribers, sub.Key())
	remaining := len(t.subscribers)
	children := sortedTags(t.children)
	t.mu.Unlock()
	if remaining == 0 {
		t.toBeNotified.Store(false)
	}
	for _, child := range children {
		child.unsubscribe(sub, visited)
	}
}

// Subscribers returns the subscriptions attached to this exact tag, ordered
// by key.
func (t *Tag) Subscribers() []*subscriptions.Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.subscribers))
	for key := range t.subscribers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]*subscriptions.Subscription, 0, len(keys))
	for _, key := range keys {
		result = append(result, t.subscribers[key])
	}
	return result
}

func sortedTags(m map[int64]*Tag) []*Tag {
	result := make([]*Tag, 0, len(m))
	for _, tag := range m {
		result = append(result, tag)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].id < result[j].id })
	return result
}
