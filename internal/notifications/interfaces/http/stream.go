package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	notifications "tagwatch/internal/notifications/domain"
)

// SSEBroker fans out emitted notifications to connected stream clients. Frames
// are formatted once per notification and carry the notification id as the SSE
// event id, so a reconnecting client can spot the gap.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	dropped int64
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan string]struct{})}
}

// Publish implements the notifier sink.
func (b *SSEBroker) Publish(n notifications.Notification) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	var frame strings.Builder
	fmt.Fprintf(&frame, "id: %d\n", n.ID)
	frame.WriteString("event: notification\ndata: ")
	frame.Write(payload)
	frame.WriteString("\n\n")

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- frame.String():
		default:
			// Slow client; it keeps its connection but misses this frame.
			b.dropped++
		}
	}
}

func (b *SSEBroker) subscribe() chan string {
	ch := make(chan string, 32)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *SSEBroker) unsubscribe(ch chan string) {
	b.mu.Lock()
	delete(b.clients, ch)
	close(ch)
	b.mu.Unlock()
}

// Dropped reports how many frames were discarded for slow clients.
func (b *SSEBroker) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// StreamHandler serves the live notification stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/notifications/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.subscribe()
	defer h.broker.unsubscribe(ch)

	_, _ = fmt.Fprint(w, "retry: 5000\n\n")
	flusher.Flush()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprint(w, frame)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
