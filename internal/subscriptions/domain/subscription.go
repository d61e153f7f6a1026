package subscriptions

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Kind identifies a notification category a subscription can opt into.
type Kind string

const (
	KindInitial     Kind = "initial"
	KindRuleChange  Kind = "rule-change"
	KindValueChange Kind = "value-change"
	KindSourceDown  Kind = "source-down"
	KindReminder    Kind = "reminder"
)

// ParseKind validates a kind string.
func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindInitial, KindRuleChange, KindValueChange, KindSourceDown, KindReminder:
		return Kind(value), true
	default:
		return "", false
	}
}

// DefaultKinds are the categories enabled when a subscription names none.
func DefaultKinds() []Kind {
	return []Kind{KindInitial, KindRuleChange, KindSourceDown}
}

// Subscription binds one subscriber to one tag, with the notification
// categories it opted into and a minimum severity filter for rule reports.
type Subscription struct {
	SubscriberID string `json:"subscriber_id"`
	TagID        int64  `json:"tag_id"`
	Enabled      bool   `json:"enabled"`
	Kinds        []Kind `json:"kinds,omitempty"`
	MinLevel     int    `json:"min_level,omitempty"`
	Mail         bool   `json:"mail"`
	SMS          bool   `json:"sms,omitempty"`

	mu               sync.Mutex
	lastNotified     time.Time
	lastStatus       int
	lastSubTagStatus map[int64]int
}

// Validate checks subscription invariants.
func (s *Subscription) Validate() error {
	if s == nil {
		return errors.New("subscription: nil")
	}
	if s.SubscriberID == "" {
		return errors.New("subscription: empty subscriber id")
	}
	if s.TagID <= 0 {
		return errors.New("subscription: invalid tag id")
	}
	for _, kind := range s.Kinds {
		if _, ok := ParseKind(string(kind)); !ok {
			return errors.New("subscription: unknown kind " + string(kind))
		}
	}
	return nil
}

// Key identifies this subscription across the registry and tag graph.
func (s *Subscription) Key() string {
	return s.SubscriberID + "|" + strconv.FormatInt(s.TagID, 10)
}

// WantsKind reports whether the subscription opted into the given category.
// A subscription without explicit kinds uses the defaults.
func (s *Subscription) WantsKind(kind Kind) bool {
	if s == nil {
		return false
	}
	kinds := s.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds()
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// LastNotified returns the time of the most recent delivery, zero if none.
func (s *Subscription) LastNotified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotified
}

// LastNotifiedStatus returns the status code delivered most recently.
func (s *Subscription) LastNotifiedStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// MarkNotified records a delivery at the given time with the given status code.
func (s *Subscription) MarkNotified(at time.Time, status int) {
	s.mu.Lock()
	s.lastNotified = at
	s.lastStatus = status
	s.mu.Unlock()
}

// RestoreNotified rehydrates delivery state from persistence.
func (s *Subscription) RestoreNotified(at time.Time, status int) {
	s.MarkNotified(at, status)
}

// LastStatusFor returns the last status reported for a resolved sub-tag.
func (s *Subscription) LastStatusFor(tagID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.lastSubTagStatus[tagID]
	return status, ok
}

// SetLastStatusFor records the last status reported for a resolved sub-tag.
func (s *Subscription) SetLastStatusFor(tagID int64, status int) {
	s.mu.Lock()
	if s.lastSubTagStatus == nil {
		s.lastSubTagStatus = make(map[int64]int)
	}
	s.lastSubTagStatus[tagID] = status
	s.mu.Unlock()
}

// Copy returns a deep copy with delivery state preserved.
func (s *Subscription) Copy() *Subscription {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := &Subscription{
		SubscriberID: s.SubscriberID,
		TagID:        s.TagID,
		Enabled:      s.Enabled,
		Kinds:        append([]Kind(nil), s.Kinds...),
		MinLevel:     s.MinLevel,
		Mail:         s.Mail,
		SMS:          s.SMS,
		lastNotified: s.lastNotified,
		lastStatus:   s.lastStatus,
	}
	if len(s.lastSubTagStatus) > 0 {
		clone.lastSubTagStatus = make(map[int64]int, len(s.lastSubTagStatus))
		for id, status := range s.lastSubTagStatus {
			clone.lastSubTagStatus[id] = status
		}
	}
	return clone
}
