package subscriptions

import (
	"errors"
	"sort"
	"time"
)

// Subscriber is a user identity that owns zero or more subscriptions.
type Subscriber struct {
	ID             string                  `json:"id"`
	Email          string                  `json:"email"`
	SMS            string                  `json:"sms,omitempty"`
	ReportInterval time.Duration           `json:"report_interval,omitempty"`
	Subscriptions  map[int64]*Subscription `json:"subscriptions"`
}

// Validate checks subscriber invariants, including all subscriptions.
func (s *Subscriber) Validate() error {
	if s == nil {
		return errors.New("subscriber: nil")
	}
	if s.ID == "" {
		return errors.New("subscriber: empty id")
	}
	if s.Email == "" && s.SMS == "" {
		return errors.New("subscriber: no delivery address")
	}
	for tagID, sub := range s.Subscriptions {
		if sub == nil {
			return errors.New("subscriber: nil subscription")
		}
		if sub.TagID != tagID {
			return errors.New("subscriber: subscription keyed under wrong tag id")
		}
		if sub.SubscriberID == "" {
			sub.SubscriberID = s.ID
		}
		if sub.SubscriberID != s.ID {
			return errors.New("subscriber: subscription owned by someone else")
		}
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AddSubscription attaches a subscription, replacing any existing one for the
// same tag.
func (s *Subscriber) AddSubscription(sub *Subscription) error {
	if sub == nil {
		return errors.New("subscriber: nil subscription")
	}
	if sub.SubscriberID == "" {
		sub.SubscriberID = s.ID
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[int64]*Subscription)
	}
	s.Subscriptions[sub.TagID] = sub
	return nil
}

// RemoveSubscription detaches the subscription for the given tag id.
func (s *Subscriber) RemoveSubscription(tagID int64) {
	delete(s.Subscriptions, tagID)
}

// SubscribedTagIDs returns the tag ids this subscriber watches, sorted.
func (s *Subscriber) SubscribedTagIDs() []int64 {
	ids := make([]int64, 0, len(s.Subscriptions))
	for id := range s.Subscriptions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Copy returns a deep copy of the subscriber and its subscriptions.
func (s *Subscriber) Copy() *Subscriber {
	if s == nil {
		return nil
	}
	clone := &Subscriber{
		ID:             s.ID,
		Email:          s.Email,
		SMS:            s.SMS,
		ReportInterval: s.ReportInterval,
	}
	if len(s.Subscriptions) > 0 {
		clone.Subscriptions = make(map[int64]*Subscription, len(s.Subscriptions))
		for id, sub := range s.Subscriptions {
			clone.Subscriptions[id] = sub.Copy()
		}
	}
	return clone
}
