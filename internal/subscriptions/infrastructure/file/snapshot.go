package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	subscriptions "tagwatch/internal/subscriptions/domain"
)

// Snapshot stores the subscriber set as a JSON file on local disk. It is the
// fallback store used when no database is configured or the database is down.
type Snapshot struct {
	path string
}

// NewSnapshot constructs a snapshot store at the given path.
func NewSnapshot(path string) (*Snapshot, error) {
	if path == "" {
		return nil, errors.New("subscription snapshot: empty path")
	}
	return &Snapshot{path: path}, nil
}

type snapshotFile struct {
	SavedAt     time.Time            `json:"saved_at"`
	Subscribers []snapshotSubscriber `json:"subscribers"`
}

type snapshotSubscriber struct {
	ID                    string                 `json:"id"`
	Email                 string                 `json:"email,omitempty"`
	SMS                   string                 `json:"sms,omitempty"`
	ReportIntervalSeconds int64                  `json:"report_interval_seconds,omitempty"`
	Subscriptions         []snapshotSubscription `json:"subscriptions,omitempty"`
}

type snapshotSubscription struct {
	TagID              int64                `json:"tag_id"`
	Enabled            bool                 `json:"enabled"`
	Kinds              []subscriptions.Kind `json:"kinds,omitempty"`
	MinLevel           int                  `json:"min_level,omitempty"`
	Mail               bool                 `json:"mail"`
	SMS                bool                 `json:"sms,omitempty"`
	LastNotifiedAt     time.Time            `json:"last_notified_at,omitempty"`
	LastNotifiedStatus int                  `json:"last_notified_status,omitempty"`
}

// LoadAll reads the snapshot file. A missing file is not an error; it yields
// an empty subscriber set.
func (s *Snapshot) LoadAll(ctx context.Context) ([]*subscriptions.Subscriber, error) {
	if s == nil || s.path == "" {
		return nil, errors.New("subscription snapshot: empty path")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("subscription snapshot: read %s: %w", s.path, err)
	}
	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("subscription snapshot: decode %s: %w", s.path, err)
	}

	result := make([]*subscriptions.Subscriber, 0, len(file.Subscribers))
	for _, record := range file.Subscribers {
		subscriber := &subscriptions.Subscriber{
			ID:             record.ID,
			Email:          record.Email,
			SMS:            record.SMS,
			ReportInterval: time.Duration(record.ReportIntervalSeconds) * time.Second,
			Subscriptions:  make(map[int64]*subscriptions.Subscription, len(record.Subscriptions)),
		}
		for _, sr := range record.Subscriptions {
			sub := &subscriptions.Subscription{
				SubscriberID: record.ID,
				TagID:        sr.TagID,
				Enabled:      sr.Enabled,
				Kinds:        append([]subscriptions.Kind(nil), sr.Kinds...),
				MinLevel:     sr.MinLevel,
				Mail:         sr.Mail,
				SMS:          sr.SMS,
			}
			if !sr.LastNotifiedAt.IsZero() {
				sub.RestoreNotified(sr.LastNotifiedAt.UTC(), sr.LastNotifiedStatus)
			}
			subscriber.Subscriptions[sub.TagID] = sub
		}
		result = append(result, subscriber)
	}
	return result, nil
}

// SaveAll writes the subscriber set atomically via a temp file rename.
func (s *Snapshot) SaveAll(ctx context.Context, subscribers []*subscriptions.Subscriber) error {
	if s == nil || s.path == "" {
		return errors.New("subscription snapshot: empty path")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	file := snapshotFile{SavedAt: time.Now().UTC()}
	for _, subscriber := range subscribers {
		if subscriber == nil {
			continue
		}
		record := snapshotSubscriber{
			ID:                    subscriber.ID,
			Email:                 subscriber.Email,
			SMS:                   subscriber.SMS,
			ReportIntervalSeconds: int64(subscriber.ReportInterval / time.Second),
		}
		for _, tagID := range subscriber.SubscribedTagIDs() {
			sub := subscriber.Subscriptions[tagID]
			sr := snapshotSubscription{
				TagID:              sub.TagID,
				Enabled:            sub.Enabled,
				Kinds:              append([]subscriptions.Kind(nil), sub.Kinds...),
				MinLevel:           sub.MinLevel,
				Mail:               sub.Mail,
				SMS:                sub.SMS,
				LastNotifiedStatus: sub.LastNotifiedStatus(),
			}
			if last := sub.LastNotified(); !last.IsZero() {
				sr.LastNotifiedAt = last.UTC()
			}
			record.Subscriptions = append(record.Subscriptions, sr)
		}
		file.Subscribers = append(file.Subscribers, record)
	}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("subscription snapshot: encode: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("subscription snapshot: mkdir %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("subscription snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("subscription snapshot: rename %s: %w", tmp, err)
	}
	return nil
}
