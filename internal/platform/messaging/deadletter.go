package messaging

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// MemoryDeadLetterSink keeps dead letters in memory for the local runtime
// and tests.
type MemoryDeadLetterSink struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func NewMemoryDeadLetterSink() *MemoryDeadLetterSink {
	return &MemoryDeadLetterSink{}
}

func (s *MemoryDeadLetterSink) Record(_ context.Context, letter DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	return nil
}

// Letters returns a snapshot of recorded dead letters.
func (s *MemoryDeadLetterSink) Letters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.letters))
	copy(out, s.letters)
	return out
}

type deadLetterModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Topic      string `gorm:"index"`
	GroupName  string `gorm:"column:consumer_group"`
	Reason     string `gorm:"index"`
	Detail     string
	Payload    []byte
	OccurredAt time.Time `gorm:"index"`
}

func (deadLetterModel) TableName() string { return "dead_letter" }

// GormDeadLetterSink persists dead letters so operators can inspect and
// replay them out-of-band.
type GormDeadLetterSink struct {
	db *gorm.DB
}

func NewGormDeadLetterSink(db *gorm.DB) (*GormDeadLetterSink, error) {
	if err := db.AutoMigrate(&deadLetterModel{}); err != nil {
		return nil, err
	}
	return &GormDeadLetterSink{db: db}, nil
}

func (s *GormDeadLetterSink) Record(ctx context.Context, letter DeadLetter) error {
	row := deadLetterModel{
		Topic:      letter.Topic,
		GroupName:  letter.Group,
		Reason:     letter.Reason,
		Detail:     letter.Detail,
		Payload:    letter.Payload,
		OccurredAt: letter.OccurredAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
