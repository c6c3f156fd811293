package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository keeps the per-event history of collaborator calls.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create records an attempt. A redelivered message that repeats an attempt
// number already on file is ignored.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a == nil || strings.TrimSpace(a.EventID) == "" || a.AttemptNumber < 1 {
		return fmt.Errorf("%w: attempt needs an event id and a positive number", domain.ErrValidation)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	model := attemptModelFromDomain(a)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "attempt_number"}},
			DoNothing: true,
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*a = *attemptModelToDomain(model)
	return nil
}

func (r *GormAttemptRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "attempt_number"}}).
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.DeliveryAttempt, len(models))
	for i := range models {
		out[i] = *attemptModelToDomain(&models[i])
	}
	return out, nil
}
