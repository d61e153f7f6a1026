package application

import (
	"testing"

	notifications "tagwatch/internal/notifications/domain"
)

func TestLogEvictsOldestAndListsNewestFirst(t *testing.T) {
	log := NewLog(3)
	for id := int64(1); id <= 5; id++ {
		log.Publish(notifications.Notification{ID: id})
	}

	if got := log.Len(); got != 3 {
		t.Fatalf("expected retention of 3, got %d", got)
	}
	recent := log.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	for i, want := range []int64{5, 4, 3} {
		if recent[i].ID != want {
			t.Fatalf("expected id %d at position %d, got %d", want, i, recent[i].ID)
		}
	}

	limited := log.Recent(2)
	if len(limited) != 2 || limited[0].ID != 5 || limited[1].ID != 4 {
		t.Fatalf("expected newest two entries, got %d entries", len(limited))
	}
}
