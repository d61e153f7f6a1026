package http

import (
	"strings"
	"testing"

	notifications "tagwatch/internal/notifications/domain"
)

func TestBrokerFormatsFramesWithEventID(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.subscribe()
	defer broker.unsubscribe(ch)

	broker.Publish(notifications.Notification{ID: 7, TagID: 42, Kind: "rule-change"})

	select {
	case frame := <-ch:
		if !strings.HasPrefix(frame, "id: 7\n") {
			t.Fatalf("expected event id line, got %q", frame)
		}
		if !strings.Contains(frame, "event: notification\n") {
			t.Fatalf("expected event type line, got %q", frame)
		}
		if !strings.Contains(frame, `"tag_id":42`) {
			t.Fatalf("expected payload in frame, got %q", frame)
		}
	default:
		t.Fatal("expected a frame on the subscribed channel")
	}
}

func TestBrokerDropsFramesForSlowClients(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.subscribe()
	defer broker.unsubscribe(ch)

	for i := 0; i < cap(ch)+5; i++ {
		broker.Publish(notifications.Notification{ID: int64(i)})
	}
	if got := broker.Dropped(); got != 5 {
		t.Fatalf("expected 5 dropped frames, got %d", got)
	}
	if got := len(ch); got != cap(ch) {
		t.Fatalf("expected full client buffer, got %d", got)
	}
}
