package application

import (
	"context"
	"errors"
	"testing"
	"time"

	tags "tagwatch/internal/tags/domain"
)

func statusUpdate(id int64, status tags.Status, inputs ...int64) *tags.TagUpdate {
	return &tags.TagUpdate{
		ID:              id,
		Value:           tags.IntValue(int64(status.Int())),
		Quality:         tags.Quality{Valid: true, Accessible: true},
		ServerTime:      time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		RuleResult:      true,
		RuleInputTagIDs: inputs,
	}
}

func readingUpdate(id int64, value float64) *tags.TagUpdate {
	return &tags.TagUpdate{
		ID:         id,
		Value:      tags.FloatValue(value),
		Quality:    tags.Quality{Valid: true, Accessible: true},
		ServerTime: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
	}
}

func TestApplyWiresRuleInputs(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	if _, err := cache.Apply(ctx, statusUpdate(100, tags.StatusOK, 1, 2)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rule, err := cache.Get(100)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	children := rule.Children()
	if len(children) != 2 || children[0].ID() != 1 || children[1].ID() != 2 {
		t.Fatalf("expected children [1 2], got %d entries", len(children))
	}
	for _, child := range children {
		if child.IsRule() {
			t.Fatalf("input %d created as rule, expected metric placeholder", child.ID())
		}
	}
}

func TestApplyReturnsAncestorsChildBeforeParent(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	// 300 depends on 200, 200 depends on metric 1.
	if _, err := cache.Apply(ctx, statusUpdate(200, tags.StatusOK, 1)); err != nil {
		t.Fatalf("apply 200: %v", err)
	}
	if _, err := cache.Apply(ctx, statusUpdate(300, tags.StatusOK, 200)); err != nil {
		t.Fatalf("apply 300: %v", err)
	}

	ancestors, err := cache.Apply(ctx, readingUpdate(1, 42))
	if err != nil {
		t.Fatalf("apply metric: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(ancestors))
	}
	if ancestors[0].ID() != 200 || ancestors[1].ID() != 300 {
		t.Fatalf("expected child-before-parent order [200 300], got [%d %d]", ancestors[0].ID(), ancestors[1].ID())
	}
}

func TestApplySurvivesGraphCycle(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	if _, err := cache.Apply(ctx, statusUpdate(400, tags.StatusOK, 401)); err != nil {
		t.Fatalf("apply 400: %v", err)
	}
	if _, err := cache.Apply(ctx, statusUpdate(401, tags.StatusOK, 400)); err != nil {
		t.Fatalf("apply 401: %v", err)
	}

	ancestors, err := cache.Apply(ctx, statusUpdate(400, tags.StatusWarning, 401))
	if err != nil {
		t.Fatalf("apply in cycle: %v", err)
	}
	if len(ancestors) != 1 || ancestors[0].ID() != 401 {
		t.Fatalf("expected single ancestor 401, got %d entries", len(ancestors))
	}
}

func TestStrictModeRejectsUnknownTags(t *testing.T) {
	cache := NewCache(WithAutoCreate(false))
	ctx := context.Background()

	if _, err := cache.Apply(ctx, readingUpdate(7, 1)); !errors.Is(err, tags.ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound, got %v", err)
	}
	if _, err := cache.Get(7); !errors.Is(err, tags.ErrTagNotFound) {
		t.Fatalf("expected ErrTagNotFound from get, got %v", err)
	}
	if cache.Has(7) {
		t.Fatal("strict miss must not create the tag")
	}
}

func TestResolvePromotesPlaceholderToRule(t *testing.T) {
	cache := NewCache()
	ctx := context.Background()

	// First seen as somebody's input, then its own rule update arrives.
	if _, err := cache.Apply(ctx, statusUpdate(500, tags.StatusOK, 501)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := cache.Apply(ctx, statusUpdate(501, tags.StatusWarning)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	promoted, err := cache.Get(501)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !promoted.IsRule() {
		t.Fatal("expected placeholder promoted to rule")
	}
	if got := promoted.LatestStatus(); got != tags.StatusWarning {
		t.Fatalf("expected WARNING after promotion, got %s", got)
	}
}

func TestApplyHonorsCancelledContext(t *testing.T) {
	cache := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cache.Apply(ctx, readingUpdate(9, 1)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if cache.Has(9) {
		t.Fatal("cancelled apply must not create the tag")
	}
}
