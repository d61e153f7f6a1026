package tags

import (
	"errors"
	"testing"
	"time"

	subscriptions "tagwatch/internal/subscriptions/domain"
)

func ruleUpdate(id int64, status Status) *TagUpdate {
	return &TagUpdate{
		ID:         id,
		Value:      IntValue(int64(status.Int())),
		Quality:    Quality{Valid: true, Accessible: true},
		ServerTime: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
		RuleResult: true,
	}
}

func metricUpdate(id int64, value Value) *TagUpdate {
	return &TagUpdate{
		ID:         id,
		Value:      value,
		Quality:    Quality{Valid: true, Accessible: true},
		ServerTime: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
	}
}

func TestRuleStatusHistoryWraps(t *testing.T) {
	tag := NewTag(1, true, 3)
	if got := tag.LatestStatus(); got != StatusOK {
		t.Fatalf("expected fresh rule at OK, got %s", got)
	}

	for _, status := range []Status{StatusWarning, StatusError, StatusWarning, StatusOK} {
		if err := tag.Update(ruleUpdate(1, status)); err != nil {
			t.Fatalf("update to %s: %v", status, err)
		}
	}

	if got := tag.LatestStatus(); got != StatusOK {
		t.Fatalf("expected OK after last update, got %s", got)
	}
	if got := tag.PreviousStatus(); got != StatusWarning {
		t.Fatalf("expected WARNING one slot back, got %s", got)
	}
	if got := len(tag.History()); got != 3 {
		t.Fatalf("expected history capacity 3, got %d", got)
	}
}

func TestStatusChangedAndRecovered(t *testing.T) {
	tag := NewTag(2, true, 5)

	if err := tag.Update(ruleUpdate(2, StatusError)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !tag.StatusChanged() {
		t.Fatal("expected OK to ERROR to count as a change")
	}
	if tag.StatusRecovered() {
		t.Fatal("degradation must not report as recovery")
	}

	if err := tag.Update(ruleUpdate(2, StatusError)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if tag.StatusChanged() {
		t.Fatal("repeated ERROR must not count as a change")
	}

	if err := tag.Update(ruleUpdate(2, StatusOK)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !tag.StatusRecovered() {
		t.Fatal("expected ERROR to OK to report as recovery")
	}
}

func TestMetricAlwaysReportsStatusChange(t *testing.T) {
	tag := NewTag(3, false, 0)
	if err := tag.Update(metricUpdate(3, FloatValue(21.5))); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !tag.StatusChanged() {
		t.Fatal("metric updates count as changes by definition")
	}
	if got := tag.LatestStatus(); got != StatusOK {
		t.Fatalf("metrics carry no status, expected OK, got %s", got)
	}
}

func TestValueChangedTypedEquality(t *testing.T) {
	tag := NewTag(4, false, 0)
	if err := tag.Update(metricUpdate(4, IntValue(5))); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !tag.ValueChanged() {
		t.Fatal("first update always counts as a value change")
	}

	if err := tag.Update(metricUpdate(4, FloatValue(5))); err != nil {
		t.Fatalf("update: %v", err)
	}
	if tag.ValueChanged() {
		t.Fatal("int 5 and float 5 compare numerically equal")
	}

	if err := tag.Update(metricUpdate(4, StringValue("5"))); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !tag.ValueChanged() {
		t.Fatal("string \"5\" is not the number 5")
	}
}

func TestInvalidStatusEncodingKeepsPriorState(t *testing.T) {
	tag := NewTag(5, true, 5)
	if err := tag.Update(ruleUpdate(5, StatusWarning)); err != nil {
		t.Fatalf("update: %v", err)
	}

	bad := metricUpdate(5, StringValue("broken"))
	bad.RuleResult = true
	err := tag.Update(bad)
	if !errors.Is(err, ErrInvalidStatusEncoding) {
		t.Fatalf("expected ErrInvalidStatusEncoding, got %v", err)
	}
	if got := tag.LatestStatus(); got != StatusWarning {
		t.Fatalf("rejected update must leave status untouched, got %s", got)
	}
	if got := tag.Value(); !got.Equal(IntValue(int64(StatusWarning.Int()))) {
		t.Fatalf("rejected update must leave value untouched, got %s", got)
	}
}

func TestInaccessibleSourceForcesUnreachable(t *testing.T) {
	tag := NewTag(6, true, 5)
	update := ruleUpdate(6, StatusOK)
	update.Quality.Accessible = false
	if err := tag.Update(update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := tag.LatestStatus(); got != StatusUnreachable {
		t.Fatalf("expected UNREACHABLE for inaccessible source, got %s", got)
	}
}

func TestAbsentRuleValueMapsToUnknown(t *testing.T) {
	tag := NewTag(7, true, 5)
	update := &TagUpdate{ID: 7, Quality: Quality{Valid: true, Accessible: true}, RuleResult: true}
	if err := tag.Update(update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := tag.LatestStatus(); got != StatusUnknown {
		t.Fatalf("expected UNKNOWN for absent rule result, got %s", got)
	}
}

func TestAddChildRequiresRule(t *testing.T) {
	metric := NewTag(10, false, 0)
	other := NewTag(11, false, 0)
	if err := metric.AddChild(other); !errors.Is(err, ErrInvalidGraphEdge) {
		t.Fatalf("expected ErrInvalidGraphEdge, got %v", err)
	}
	rule := NewTag(12, true, 5)
	if err := rule.AddChild(nil); !errors.Is(err, ErrInvalidGraphEdge) {
		t.Fatalf("expected ErrInvalidGraphEdge for nil child, got %v", err)
	}
	if err := rule.AddChild(metric); err != nil {
		t.Fatalf("add child: %v", err)
	}
	if got := len(metric.Parents()); got != 1 {
		t.Fatalf("expected reverse parent link, got %d parents", got)
	}
}

func TestPromoteToRuleOnlyBeforeFirstUpdate(t *testing.T) {
	tag := NewTag(20, false, 5)
	if !tag.PromoteToRule(5) {
		t.Fatal("expected promotion of untouched placeholder to succeed")
	}
	if !tag.IsRule() {
		t.Fatal("expected tag to be a rule after promotion")
	}

	updated := NewTag(21, false, 5)
	if err := updated.Update(metricUpdate(21, IntValue(1))); err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.PromoteToRule(5) {
		t.Fatal("promotion after an applied update must fail")
	}
}

func TestSubscribeCascadesOverClosure(t *testing.T) {
	top := NewTag(30, true, 5)
	mid := NewTag(31, true, 5)
	leaf := NewTag(32, false, 0)
	if err := top.AddChild(mid); err != nil {
		t.Fatalf("add child: %v", err)
	}
	if err := mid.AddChild(leaf); err != nil {
		t.Fatalf("add child: %v", err)
	}
	// Configuration cycle: the walk must still terminate.
	if err := mid.AddChild(top); err != nil {
		t.Fatalf("add child: %v", err)
	}

	sub := &subscriptions.Subscription{SubscriberID: "alice", TagID: 30, Enabled: true, Mail: true}
	top.Subscribe(sub)

	for _, tag := range []*Tag{top, mid, leaf} {
		if !tag.ToBeNotified() {
			t.Fatalf("tag %d not flagged after cascade subscribe", tag.ID())
		}
	}
	if got := len(top.Subscribers()); got != 1 {
		t.Fatalf("expected 1 subscriber on top, got %d", got)
	}
	if got := len(leaf.Subscribers()); got != 1 {
		t.Fatalf("expected cascade to reach leaf, got %d subscribers", got)
	}

	top.Unsubscribe(sub)
	for _, tag := range []*Tag{top, mid, leaf} {
		if tag.ToBeNotified() {
			t.Fatalf("tag %d still flagged after cascade unsubscribe", tag.ID())
		}
	}
}

func TestDegradedChildRules(t *testing.T) {
	parent := NewTag(40, true, 5)
	okChild := NewTag(41, true, 5)
	badChild := NewTag(42, true, 5)
	for _, child := range []*Tag{okChild, badChild} {
		if err := parent.AddChild(child); err != nil {
			t.Fatalf("add child: %v", err)
		}
	}
	if err := badChild.Update(ruleUpdate(42, StatusError)); err != nil {
		t.Fatalf("update: %v", err)
	}
	sub := &subscriptions.Subscription{SubscriberID: "bob", TagID: 40, Enabled: true, Mail: true}
	parent.Subscribe(sub)

	degraded := parent.DegradedChildRules()
	if len(degraded) != 1 || degraded[0].ID() != 42 {
		t.Fatalf("expected only the degraded child, got %d entries", len(degraded))
	}
}

func TestChangedChildRulesSkipsMutedChild(t *testing.T) {
	parent := NewTag(50, true, 5)
	loud := NewTag(51, true, 5)
	muted := NewTag(52, true, 5)
	for _, child := range []*Tag{loud, muted} {
		if err := parent.AddChild(child); err != nil {
			t.Fatalf("add child: %v", err)
		}
		if err := child.Update(ruleUpdate(child.ID(), StatusError)); err != nil {
			t.Fatalf("update: %v", err)
		}
		if !child.StatusChanged() {
			t.Fatalf("expected child %d to report a change", child.ID())
		}
	}
	loud.SetToBeNotified(true)
	muted.SetToBeNotified(false)

	changed := parent.ChangedChildRules()
	if len(changed) != 1 || changed[0].ID() != 51 {
		t.Fatalf("expected only the notifiable child, got %d entries", len(changed))
	}
}
