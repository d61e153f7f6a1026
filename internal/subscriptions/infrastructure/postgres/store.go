package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	subscriptions "tagwatch/internal/subscriptions/domain"
)

// Store persists subscriber definitions and delivery state in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("subscription store: nil db")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the subscription tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("subscription store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS watch_subscribers (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	sms TEXT NOT NULL DEFAULT '',
	report_interval_seconds BIGINT NOT NULL DEFAULT 0
)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS watch_subscriptions (
	subscriber_id TEXT NOT NULL REFERENCES watch_subscribers(id) ON DELETE CASCADE,
	tag_id BIGINT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	kinds TEXT NOT NULL DEFAULT '',
	min_level INT NOT NULL DEFAULT 0,
	mail BOOLEAN NOT NULL DEFAULT TRUE,
	sms BOOLEAN NOT NULL DEFAULT FALSE,
	last_notified_at TIMESTAMPTZ,
	last_notified_status INT NOT NULL DEFAULT 0,
	PRIMARY KEY (subscriber_id, tag_id)
)`)
	return err
}

// LoadAll reads every subscriber with its subscriptions.
func (s *Store) LoadAll(ctx context.Context) ([]*subscriptions.Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("subscription store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, email, sms, report_interval_seconds
FROM watch_subscribers
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*subscriptions.Subscriber)
	var order []string
	for rows.Next() {
		var (
			subscriber      subscriptions.Subscriber
			intervalSeconds int64
		)
		if err := rows.Scan(&subscriber.ID, &subscriber.Email, &subscriber.SMS, &intervalSeconds); err != nil {
			return nil, err
		}
		subscriber.ReportInterval = time.Duration(intervalSeconds) * time.Second
		subscriber.Subscriptions = make(map[int64]*subscriptions.Subscription)
		byID[subscriber.ID] = &subscriber
		order = append(order, subscriber.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subRows, err := s.db.QueryContext(ctx, `
SELECT subscriber_id, tag_id, enabled, kinds, min_level, mail, sms,
	last_notified_at, last_notified_status
FROM watch_subscriptions
ORDER BY subscriber_id ASC, tag_id ASC`)
	if err != nil {
		return nil, err
	}
	defer subRows.Close()

	for subRows.Next() {
		var (
			sub        subscriptions.Subscription
			kinds      string
			minLevel   int
			notifiedAt sql.NullTime
			status     int
		)
		if err := subRows.Scan(&sub.SubscriberID, &sub.TagID, &sub.Enabled, &kinds, &minLevel,
			&sub.Mail, &sub.SMS, &notifiedAt, &status); err != nil {
			return nil, err
		}
		sub.Kinds = parseKinds(kinds)
		sub.MinLevel = minLevel
		if notifiedAt.Valid {
			sub.RestoreNotified(notifiedAt.Time.UTC(), status)
		}
		owner, ok := byID[sub.SubscriberID]
		if !ok {
			// Orphaned row; skip rather than fail the whole load.
			continue
		}
		owner.Subscriptions[sub.TagID] = &sub
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	result := make([]*subscriptions.Subscriber, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}
	return result, nil
}

// SaveAll replaces the stored subscriber set with the given one.
func (s *Store) SaveAll(ctx context.Context, subscribers []*subscriptions.Subscriber) error {
	if s == nil || s.db == nil {
		return errors.New("subscription store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM watch_subscriptions`); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM watch_subscribers`); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, subscriber := range subscribers {
		if subscriber == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO watch_subscribers (id, email, sms, report_interval_seconds)
VALUES ($1, $2, $3, $4)`,
			subscriber.ID, subscriber.Email, subscriber.SMS, int64(subscriber.ReportInterval/time.Second))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, tagID := range subscriber.SubscribedTagIDs() {
			sub := subscriber.Subscriptions[tagID]
			var notifiedAt sql.NullTime
			if last := sub.LastNotified(); !last.IsZero() {
				notifiedAt = sql.NullTime{Time: last.UTC(), Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
INSERT INTO watch_subscriptions (
	subscriber_id, tag_id, enabled, kinds, min_level, mail, sms,
	last_notified_at, last_notified_status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				sub.SubscriberID, sub.TagID, sub.Enabled, joinKinds(sub.Kinds), sub.MinLevel,
				sub.Mail, sub.SMS, notifiedAt, sub.LastNotifiedStatus())
			if err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func joinKinds(kinds []subscriptions.Kind) string {
	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, string(kind))
	}
	return strings.Join(parts, ",")
}

func parseKinds(raw string) []subscriptions.Kind {
	if raw == "" {
		return nil
	}
	var kinds []subscriptions.Kind
	for _, part := range strings.Split(raw, ",") {
		kind, ok := subscriptions.ParseKind(strings.TrimSpace(part))
		if !ok {
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}
