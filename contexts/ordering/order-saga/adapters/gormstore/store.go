package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	domainerrors "meridian/contexts/ordering/order-saga/domain/errors"
	"meridian/contexts/ordering/order-saga/domain/saga"
)

// sagaModel is the relational shape of a saga instance. The step and
// compensation ledgers are stored as JSON columns; they are append-only and
// never queried by field.
type sagaModel struct {
	SagaID        string `gorm:"primaryKey;size:64"`
	State         string `gorm:"size:32;index"`
	Steps         []byte
	Compensations []byte
	OrderPayload  []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index"`
	Version       int
}

func (sagaModel) TableName() string { return "order_sagas" }

// Store persists saga instances through gorm, with optimistic locking on the
// version column.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sagaModel{}); err != nil {
		return nil, fmt.Errorf("migrate order_sagas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context, sagaID string) (saga.Instance, bool, error) {
	var model sagaModel
	err := s.db.WithContext(ctx).First(&model, "saga_id = ?", sagaID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return saga.Instance{}, false, nil
	}
	if err != nil {
		return saga.Instance{}, false, err
	}
	inst, err := toInstance(model)
	if err != nil {
		return saga.Instance{}, false, err
	}
	return inst, true, nil
}

func (s *Store) Save(ctx context.Context, instance saga.Instance) (saga.Instance, error) {
	model, err := toModel(instance)
	if err != nil {
		return saga.Instance{}, err
	}

	if instance.Version == 0 {
		model.Version = 1
		if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return saga.Instance{}, domainerrors.ErrDuplicateSaga
			}
			return saga.Instance{}, err
		}
		instance.Version = 1
		return instance, nil
	}

	model.Version = instance.Version + 1
	res := s.db.WithContext(ctx).
		Model(&sagaModel{}).
		Where("saga_id = ? AND version = ?", instance.SagaID, instance.Version).
		Updates(map[string]any{
			"state":         model.State,
			"steps":         model.Steps,
			"compensations": model.Compensations,
			"order_payload": model.OrderPayload,
			"updated_at":    model.UpdatedAt,
			"version":       model.Version,
		})
	if res.Error != nil {
		return saga.Instance{}, res.Error
	}
	if res.RowsAffected == 0 {
		return saga.Instance{}, domainerrors.ErrVersionConflict
	}
	instance.Version = model.Version
	return instance, nil
}

func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]saga.Instance, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []sagaModel
	err := s.db.WithContext(ctx).
		Where("updated_at < ? AND state NOT IN ?", cutoff, []string{
			string(saga.StateCompleted),
			string(saga.StateCompensated),
			string(saga.StateFailed),
		}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]saga.Instance, 0, len(models))
	for _, model := range models {
		inst, err := toInstance(model)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func toModel(inst saga.Instance) (sagaModel, error) {
	steps, err := json.Marshal(inst.CompletedSteps)
	if err != nil {
		return sagaModel{}, err
	}
	comps, err := json.Marshal(inst.Compensations)
	if err != nil {
		return sagaModel{}, err
	}
	return sagaModel{
		SagaID:        inst.SagaID,
		State:         string(inst.State),
		Steps:         steps,
		Compensations: comps,
		OrderPayload:  inst.OrderPayload,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
		Version:       inst.Version,
	}, nil
}

func toInstance(model sagaModel) (saga.Instance, error) {
	inst := saga.Instance{
		SagaID:       model.SagaID,
		State:        saga.State(model.State),
		OrderPayload: model.OrderPayload,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
		Version:      model.Version,
	}
	if len(model.Steps) > 0 {
		if err := json.Unmarshal(model.Steps, &inst.CompletedSteps); err != nil {
			return saga.Instance{}, err
		}
	}
	if len(model.Compensations) > 0 {
		if err := json.Unmarshal(model.Compensations, &inst.Compensations); err != nil {
			return saga.Instance{}, err
		}
	}
	return inst, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return true
	}
	return false
}
