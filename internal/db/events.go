package db

import (
	"context"
	"encoding/json"
	"fmt"

	"fitpro/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Record(ctx context.Context, userID uuid.UUID, typ models.EventType, source models.EventSource, metadata map[string]interface{}) error {
	ev := models.UserEvent{
		UserID:    userID,
		EventType: typ,
		Source:    source,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		ev.Metadata = datatypes.JSON(raw)
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// Recent returns the newest events across all users, optionally filtered by type.
func (s *EventStore) Recent(ctx context.Context, typ models.EventType, limit int) ([]models.UserEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if typ != "" {
		q = q.Where("event_type = ?", typ)
	}
	var out []models.UserEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return out, nil
}

func (s *EventStore) ByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.UserEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.UserEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list user events: %w", err)
	}
	return out, nil
}

// Count returns how many events of the given type the user has.
func (s *EventStore) Count(ctx context.Context, userID uuid.UUID, typ models.EventType) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.UserEvent{}).
		Where("user_id = ? AND event_type = ?", userID, typ).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count user events: %w", err)
	}
	return n, nil
}

