package subscriptions

import "errors"

// ErrSubscriberNotFound indicates an unknown subscriber id.
var ErrSubscriberNotFound = errors.New("subscriptions: subscriber not found")
