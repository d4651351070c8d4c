package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meridian/contexts/payments/payment-service/ports"
)

type pendingChargeModel struct {
	EventID       string `gorm:"primaryKey;size:64"`
	Envelope      []byte
	Attempts      int
	NextAttemptAt time.Time `gorm:"index"`
}

func (pendingChargeModel) TableName() string { return "payment_retry_queue" }

type dedupModel struct {
	EventID    string `gorm:"primaryKey;size:64"`
	ReservedAt time.Time
}

func (dedupModel) TableName() string { return "payment_event_dedup" }

// Store persists the payment retry queue and event dedup set through gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&pendingChargeModel{}, &dedupModel{}); err != nil {
		return nil, fmt.Errorf("migrate payment tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) ReserveEvent(ctx context.Context, eventID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&dedupModel{EventID: eventID, ReservedAt: time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 0, nil
}

func (s *Store) Enqueue(ctx context.Context, charge ports.PendingCharge) error {
	model := pendingChargeModel{
		EventID:       charge.EventID,
		Envelope:      charge.Envelope,
		Attempts:      charge.Attempts,
		NextAttemptAt: charge.NextAttemptAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]ports.PendingCharge, error) {
	if limit <= 0 {
		limit = 25
	}
	var models []pendingChargeModel
	err := s.db.WithContext(ctx).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]ports.PendingCharge, 0, len(models))
	for _, model := range models {
		out = append(out, ports.PendingCharge{
			EventID:       model.EventID,
			Envelope:      model.Envelope,
			Attempts:      model.Attempts,
			NextAttemptAt: model.NextAttemptAt,
		})
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, eventID string) error {
	return s.db.WithContext(ctx).
		Delete(&pendingChargeModel{}, "event_id = ?", eventID).Error
}
