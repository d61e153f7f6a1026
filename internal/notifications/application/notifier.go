package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync/atomic"
	"time"

	notifications "tagwatch/internal/notifications/domain"
	"tagwatch/internal/notifications/notify"
	"tagwatch/internal/observability/metrics"
	subscriptions "tagwatch/internal/subscriptions/domain"
	tags "tagwatch/internal/tags/domain"
)

// SubscriptionIndex is the registry-side seam the notifier reads during
// fan-out.
type SubscriptionIndex interface {
	SubscriptionsForTag(tagID int64) map[string]*subscriptions.Subscription
	Subscriber(subscriberID string) (*subscriptions.Subscriber, error)
	MarkModified()
}

// Renderer turns report data into a subject and body.
type Renderer interface {
	Render(data notify.TemplateData) (subject, body string, err error)
}

// Sink receives every emitted notification (history log, live stream).
type Sink interface {
	Publish(n notifications.Notification)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Notifier is the decision layer: given a changed tag it selects the report
// kind per subscriber, filters out non-news, and drives delivery.
type Notifier struct {
	registry SubscriptionIndex
	renderer Renderer
	mailer   notify.Mailer
	texter   notify.Texter
	sinks    []Sink
	clock    Clock
	logger   *log.Logger
	seq      atomic.Int64
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithTexter enables SMS delivery.
func WithTexter(texter notify.Texter) NotifierOption {
	return func(n *Notifier) {
		if texter != nil {
			n.texter = texter
		}
	}
}

// WithSink attaches a notification sink. May be repeated.
func WithSink(sink Sink) NotifierOption {
	return func(n *Notifier) {
		if sink != nil {
			n.sinks = append(n.sinks, sink)
		}
	}
}

// WithNotifierClock overrides the default clock.
func WithNotifierClock(clock Clock) NotifierOption {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithNotifierLogger assigns a logger.
func WithNotifierLogger(logger *log.Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(registry SubscriptionIndex, renderer Renderer, mailer notify.Mailer, opts ...NotifierOption) (*Notifier, error) {
	if registry == nil {
		return nil, errors.New("notifier: nil subscription index")
	}
	if mailer == nil {
		return nil, errors.New("notifier: nil mailer")
	}
	if renderer == nil {
		defaultRenderer, err := notify.NewTemplate("", "")
		if err != nil {
			return nil, err
		}
		renderer = defaultRenderer
	}
	n := &Notifier{
		registry: registry,
		renderer: renderer,
		mailer:   mailer,
		clock:    systemClock{},
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// OnUpdate evaluates the freshly updated tag and then each affected ancestor
// rule. Ancestors arrive from the cache in child-before-parent order, so a
// parent's view of its children's changes is computed against settled state.
func (n *Notifier) OnUpdate(ctx context.Context, updated *tags.Tag, ancestors []*tags.Tag) {
	if n == nil {
		return
	}
	n.evaluate(ctx, updated, true)
	for _, ancestor := range ancestors {
		n.evaluate(ctx, ancestor, false)
	}
}

// SendReminder re-notifies one subscription about a still-degraded tag,
// regardless of whether the status changed since the last report.
func (n *Notifier) SendReminder(ctx context.Context, t *tags.Tag, sub *subscriptions.Subscription) error {
	if n == nil || t == nil || sub == nil {
		return errors.New("notifier: nil reminder arguments")
	}
	status := t.LatestStatus()
	data := n.buildData(t, subscriptions.KindReminder, t.DegradedChildRules(), nil)
	subject, body, err := n.renderer.Render(data)
	if err != nil {
		return err
	}
	sub.MarkNotified(n.clock.Now().UTC(), status.Int())
	n.deliver(ctx, sub, subscriptions.KindReminder, t, status, subject, body)
	n.registry.MarkModified()
	return nil
}

// evaluate runs the decision steps for one tag. direct marks the tag whose
// own update triggered this sweep; ancestors are re-examined only through
// their changed children.
func (n *Notifier) evaluate(ctx context.Context, t *tags.Tag, direct bool) {
	if t == nil || !t.ToBeNotified() {
		return
	}
	latest := t.Latest()
	if latest == nil {
		return
	}

	isRule := t.IsRule()
	status := t.LatestStatus()
	sourceDown := !latest.Quality.Accessible
	var changedRules, changedMetrics []*tags.Tag
	if isRule {
		changedRules = t.ChangedChildRules()
		changedMetrics = t.ChangedChildMetrics()
	}

	for _, sub := range n.subscriptionsSorted(t.ID()) {
		if !sub.Enabled {
			continue
		}
		kind, ok := n.resolveKind(t, sub, direct, isRule, sourceDown, changedRules)
		if !ok {
			continue
		}
		if !sub.WantsKind(kind) {
			if kind == subscriptions.KindInitial {
				// Baseline silently so the next change is not misreported
				// as the first contact.
				sub.MarkNotified(n.clock.Now().UTC(), status.Int())
				sub.SetLastStatusFor(t.ID(), status.Int())
				n.registry.MarkModified()
			}
			continue
		}

		interesting := changedRules
		if kind == subscriptions.KindRuleChange {
			news := n.newsworthy(t, sub, changedRules)
			if len(news) == 0 {
				metrics.IncSuppressed("already-reported")
				continue
			}
			if !n.passesLevel(sub, status) {
				metrics.IncSuppressed("below-level")
				continue
			}
			if status.WorseThan(tags.StatusOK) && coveredByParent(t, status) {
				metrics.IncSuppressed("parent-covers")
				continue
			}
			interesting = news
		}

		data := n.buildData(t, kind, interesting, changedMetrics)
		subject, body, err := n.renderer.Render(data)
		if err != nil {
			n.logger.Printf("notifier: render for %s: %v", sub.Key(), err)
			continue
		}

		recorded := status.Int()
		if kind == subscriptions.KindSourceDown {
			recorded = tags.StatusUnreachable.Int()
		}
		sub.MarkNotified(n.clock.Now().UTC(), recorded)
		sub.SetLastStatusFor(t.ID(), recorded)
		for _, child := range interesting {
			if child.ID() != t.ID() {
				sub.SetLastStatusFor(child.ID(), child.LatestStatus().Int())
			}
		}
		n.deliver(ctx, sub, kind, t, status, subject, body)
		n.registry.MarkModified()
	}
}

// resolveKind picks the candidate report kind for one subscription.
func (n *Notifier) resolveKind(t *tags.Tag, sub *subscriptions.Subscription, direct, isRule, sourceDown bool, changedRules []*tags.Tag) (subscriptions.Kind, bool) {
	if sub.LastNotified().IsZero() {
		return subscriptions.KindInitial, true
	}
	if sourceDown && sub.WantsKind(subscriptions.KindSourceDown) {
		// A metric's status stays OK while its source is down, so the dedupe
		// keys on the unreachable marker this subscription was last told
		// about, not on the status code.
		if last, ok := sub.LastStatusFor(t.ID()); ok && last == tags.StatusUnreachable.Int() {
			return "", false
		}
		return subscriptions.KindSourceDown, true
	}
	if isRule {
		if t.StatusChanged() || len(changedRules) > 0 {
			return subscriptions.KindRuleChange, true
		}
		return "", false
	}
	if direct && t.ValueChanged() {
		return subscriptions.KindValueChange, true
	}
	return "", false
}

// newsworthy filters the tag and its changed child rules down to entries this
// subscription has not yet been told about. Change flags stay raised until
// the next update, so the per-subscription status memory is what prevents a
// second sweep from repeating the same report.
func (n *Notifier) newsworthy(t *tags.Tag, sub *subscriptions.Subscription, changedRules []*tags.Tag) []*tags.Tag {
	var news []*tags.Tag
	if t.StatusChanged() {
		if last, ok := sub.LastStatusFor(t.ID()); !ok || last != t.LatestStatus().Int() {
			news = append(news, t)
		}
	}
	for _, child := range changedRules {
		if last, ok := sub.LastStatusFor(child.ID()); !ok || last != child.LatestStatus().Int() {
			news = append(news, child)
		}
	}
	return news
}

// passesLevel applies the subscription's minimum severity. A recovery to OK
// passes whenever the preceding report cleared the bar, so nobody is left
// with a dangling problem report.
func (n *Notifier) passesLevel(sub *subscriptions.Subscription, status tags.Status) bool {
	if sub.MinLevel <= 0 {
		return true
	}
	if status.Int() >= sub.MinLevel {
		return true
	}
	return status == tags.StatusOK && sub.LastNotifiedStatus() >= sub.MinLevel
}

// coveredByParent reports whether a parent rule already shows an equal or
// worse status, in which case the parent's own report covers this change and
// the child's would be a duplicate.
func coveredByParent(t *tags.Tag, status tags.Status) bool {
	for _, parent := range t.Parents() {
		if !parent.IsRule() || !parent.ToBeNotified() {
			continue
		}
		if !status.WorseThan(parent.LatestStatus()) {
			return true
		}
	}
	return false
}

func (n *Notifier) subscriptionsSorted(tagID int64) []*subscriptions.Subscription {
	bySubscriber := n.registry.SubscriptionsForTag(tagID)
	ids := make([]string, 0, len(bySubscriber))
	for id := range bySubscriber {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]*subscriptions.Subscription, 0, len(ids))
	for _, id := range ids {
		result = append(result, bySubscriber[id])
	}
	return result
}

func (n *Notifier) buildData(t *tags.Tag, kind subscriptions.Kind, changedRules, changedMetrics []*tags.Tag) notify.TemplateData {
	latest := t.Latest()
	data := notify.TemplateData{
		TagID:     t.ID(),
		TagName:   t.Name(),
		Kind:      string(kind),
		KindLabel: kindLabel(kind),
		Status:    t.LatestStatus().String(),
		Value:     t.Value().String(),
		Time:      n.clock.Now().UTC().Format(time.RFC3339),
	}
	if latest != nil {
		data.Description = latest.Description
		if data.Description == "" {
			data.Description = latest.ValueDescription
		}
		// A rule expression the server failed to relay degrades to an empty
		// condition line, never a failed report.
		data.Expression = latest.RuleExpression
		if !latest.ServerTime.IsZero() {
			data.Time = latest.ServerTime.UTC().Format(time.RFC3339)
		}
	}
	for _, child := range changedRules {
		if child.ID() == t.ID() {
			continue
		}
		data.ChangedRules = append(data.ChangedRules, notify.ChildLine{
			TagID:  child.ID(),
			Name:   child.Name(),
			Status: child.LatestStatus().String(),
			Value:  child.Value().String(),
		})
	}
	for _, child := range changedMetrics {
		data.ChangedMetrics = append(data.ChangedMetrics, notify.ChildLine{
			TagID:  child.ID(),
			Name:   child.Name(),
			Status: child.LatestStatus().String(),
			Value:  child.Value().String(),
		})
	}
	return data
}

// deliver sends one rendered report through every configured channel.
// Failures are logged per recipient and never abort the surrounding fan-out.
func (n *Notifier) deliver(ctx context.Context, sub *subscriptions.Subscription, kind subscriptions.Kind, t *tags.Tag, status tags.Status, subject, body string) {
	owner, err := n.registry.Subscriber(sub.SubscriberID)
	if err != nil {
		n.logger.Printf("notifier: subscriber %s lookup: %v", sub.SubscriberID, err)
		return
	}

	var channels []string
	if sub.Mail && owner.Email != "" {
		if err := n.mailer.SendMail(ctx, owner.Email, subject, body); err != nil {
			n.logger.Printf("notifier: mail to %s for tag %d: %v", sub.SubscriberID, t.ID(), err)
			metrics.IncNotification(string(kind), "mail", metrics.ResultError)
		} else {
			channels = append(channels, "mail")
			metrics.IncNotification(string(kind), "mail", metrics.ResultSuccess)
		}
	}
	if sub.SMS && owner.SMS != "" && n.texter != nil {
		if err := n.texter.SendSMS(ctx, owner.SMS, subject); err != nil {
			n.logger.Printf("notifier: sms to %s for tag %d: %v", sub.SubscriberID, t.ID(), err)
			metrics.IncNotification(string(kind), "sms", metrics.ResultError)
		} else {
			channels = append(channels, "sms")
			metrics.IncNotification(string(kind), "sms", metrics.ResultSuccess)
		}
	}

	record := notifications.Notification{
		ID:           n.seq.Add(1),
		Kind:         kind,
		TagID:        t.ID(),
		TagName:      t.Name(),
		Status:       status.String(),
		SubscriberID: sub.SubscriberID,
		Subject:      subject,
		Body:         body,
		Channels:     channels,
		CreatedAt:    n.clock.Now().UTC(),
	}
	for _, sink := range n.sinks {
		sink.Publish(record)
	}
}

func kindLabel(kind subscriptions.Kind) string {
	switch kind {
	case subscriptions.KindInitial:
		return "Initial Report"
	case subscriptions.KindRuleChange:
		return "Status Change"
	case subscriptions.KindValueChange:
		return "Value Change"
	case subscriptions.KindSourceDown:
		return "Source Down"
	case subscriptions.KindReminder:
		return "Reminder"
	default:
		return string(kind)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
