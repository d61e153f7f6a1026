package application

import (
	"sync"

	notifications "tagwatch/internal/notifications/domain"
)

const defaultLogCapacity = 1000

// Log is a bounded in-memory ring of emitted notifications. It backs the
// history listing, stream replay and the PDF export.
type Log struct {
	mu       sync.RWMutex
	entries  []notifications.Notification
	start    int
	count    int
	capacity int
}

// NewLog constructs a log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &Log{
		entries:  make([]notifications.Notification, capacity),
		capacity: capacity,
	}
}

// Publish appends a notification, evicting the oldest entry when full.
func (l *Log) Publish(n notifications.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count < l.capacity {
		l.entries[(l.start+l.count)%l.capacity] = n
		l.count++
		return
	}
	l.entries[l.start] = n
	l.start = (l.start + 1) % l.capacity
}

// Recent returns up to limit notifications, newest first. limit <= 0 returns
// everything retained.
func (l *Log) Recent(limit int) []notifications.Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]notifications.Notification, 0, n)
	for i := 0; i < n; i++ {
		index := (l.start + l.count - 1 - i + l.capacity) % l.capacity
		result = append(result, l.entries[index])
	}
	return result
}

// Len reports how many notifications are retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
