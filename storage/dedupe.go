package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"paywatch/webhook"
)

// DedupeStore implements webhook.DedupeStore on a relational backend. The
// unique primary key on event_id serializes concurrent first claims; lease
// takeover uses an optimistic compare-and-swap keyed on the observed
// started_at value.
type DedupeStore struct {
	db    *gorm.DB
	lease time.Duration
	now   func() time.Time
}

// NewDedupeStore wires a DedupeStore. The db handle must be opened with
// gorm's TranslateError option so duplicate-key insertions surface as
// gorm.ErrDuplicatedKey. Non-positive leases fall back to
// webhook.DefaultLease.
func NewDedupeStore(db *gorm.DB, lease time.Duration) *DedupeStore {
	if lease <= 0 {
		lease = webhook.DefaultLease
	}
	return &DedupeStore{db: db, lease: lease, now: time.Now}
}

// WithClock overrides the store clock. Tests use it to drive lease expiry.
func (s *DedupeStore) WithClock(now func() time.Time) *DedupeStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *DedupeStore) TryBegin(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("storage: empty event id")
	}
	now := s.now().UTC()
	entry := WebhookEvent{EventID: eventID, StartedAt: now}
	err := s.db.WithContext(ctx).Create(&entry).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("storage: claim event %s: %w", eventID, err)
	}

	var existing WebhookEvent
	if err := s.db.WithContext(ctx).First(&existing, "event_id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row vanished between insert and read; treat as lost claim.
			return false, nil
		}
		return false, fmt.Errorf("storage: load event %s: %w", eventID, err)
	}

	switch {
	case existing.Succeeded != nil && *existing.Succeeded:
		return false, nil
	case existing.Succeeded == nil && now.Sub(existing.StartedAt) < s.lease:
		return false, nil
	}

	// Failed entry or expired lease: re-open the claim. The started_at guard
	// ensures only one contender wins when several observe the same row.
	res := s.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ? AND started_at = ?", eventID, existing.StartedAt).
		Updates(map[string]interface{}{
			"started_at":    now,
			"succeeded":     nil,
			"error_message": nil,
			"recorded_at":   nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("storage: reclaim event %s: %w", eventID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *DedupeStore) RecordOutcome(ctx context.Context, eventID string, outcome webhook.Outcome) error {
	if eventID == "" {
		return fmt.Errorf("storage: empty event id")
	}
	recordedAt := outcome.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now().UTC()
	}
	succeeded := outcome.Succeeded
	values := map[string]interface{}{
		"succeeded":     &succeeded,
		"error_message": strPtr(outcome.ErrorMessage),
		"recorded_at":   &recordedAt,
	}
	res := s.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("storage: record outcome for %s: %w", eventID, res.Error)
	}
	if res.RowsAffected == 0 {
		entry := WebhookEvent{
			EventID:      eventID,
			StartedAt:    recordedAt,
			Succeeded:    &succeeded,
			ErrorMessage: strPtr(outcome.ErrorMessage),
			RecordedAt:   &recordedAt,
		}
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			return fmt.Errorf("storage: record outcome for %s: %w", eventID, err)
		}
	}
	return nil
}

func (s *DedupeStore) GetOutcome(ctx context.Context, eventID string) (*webhook.Outcome, error) {
	if eventID == "" {
		return nil, fmt.Errorf("storage: empty event id")
	}
	var entry WebhookEvent
	err := s.db.WithContext(ctx).First(&entry, "event_id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load outcome for %s: %w", eventID, err)
	}
	if entry.Succeeded == nil {
		return nil, nil
	}
	out := &webhook.Outcome{
		Succeeded:    *entry.Succeeded,
		ErrorMessage: strVal(entry.ErrorMessage),
	}
	if entry.RecordedAt != nil {
		out.RecordedAt = *entry.RecordedAt
	}
	return out, nil
}
