package notifications

import (
	"time"

	subscriptions "tagwatch/internal/subscriptions/domain"
)

// Notification is one rendered report delivered to one subscriber.
type Notification struct {
	ID           int64              `json:"id"`
	Kind         subscriptions.Kind `json:"kind"`
	TagID        int64              `json:"tag_id"`
	TagName      string             `json:"tag_name,omitempty"`
	Status       string             `json:"status"`
	SubscriberID string             `json:"subscriber_id"`
	Subject      string             `json:"subject"`
	Body         string             `json:"body"`
	Channels     []string           `json:"channels,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}
