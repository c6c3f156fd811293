package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository interface {
	CreateBatch(ctx context.Context, events []*domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	// GetDueForPublish returns pending events whose next attempt is due,
	// skipping rows another relay holds.
	GetDueForPublish(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	// ClaimForDelivery moves a published event to DELIVERING. It returns nil
	// when the event is already delivering or final.
	ClaimForDelivery(ctx context.Context, id string) (*domain.Event, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
	// RequeueStale returns events stuck in PUBLISHED or DELIVERING since
	// before olderThan to PENDING.
	RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) CreateBatch(ctx context.Context, events []*domain.Event) error {
	models := make([]EventModel, 0, len(events))
	modelIndexes := make([]int, 0, len(events))
	for i, e := range events {
		model := eventModelFromDomain(e)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(events) && events[idx] != nil {
			*events[idx] = *eventModelToDomain(&models[i])
		}
	}
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) GetDueForPublish(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	var models []EventModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", domain.EventStatusPending, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}

func (r *GormEventRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ? AND status = ?", id, domain.EventStatusPending).
		Updates(map[string]any{
			"status":          domain.EventStatusPublished,
			"published_at":    at,
			"next_attempt_at": nil,
			"updated_at":      at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: event %s is no longer pending", domain.ErrConflict, id)
	}
	return nil
}

func (r *GormEventRepo) ClaimForDelivery(ctx context.Context, id string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	switch model.Status {
	case domain.EventStatusDelivering, domain.EventStatusDelivered, domain.EventStatusFailed:
		return nil, nil
	case domain.EventStatusPending, domain.EventStatusPublished:
	}

	model.Status = domain.EventStatusDelivering
	if err := r.db.WithContext(ctx).
		Model(&model).
		Updates(map[string]any{
			"status":     domain.EventStatusDelivering,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return nil, err
	}

	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.finish(ctx, id, map[string]any{
		"status":       domain.EventStatusDelivered,
		"delivered_at": at,
		"last_error":   nil,
		"attempts":     gorm.Expr("attempts + 1"),
		"updated_at":   at,
	})
}

func (r *GormEventRepo) ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	return r.finish(ctx, id, map[string]any{
		"status":          domain.EventStatusPending,
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastErr,
		"attempts":        gorm.Expr("attempts + 1"),
		"updated_at":      time.Now().UTC(),
	})
}

func (r *GormEventRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.finish(ctx, id, map[string]any{
		"status":     domain.EventStatusFailed,
		"last_error": lastErr,
		"attempts":   gorm.Expr("attempts + 1"),
		"updated_at": time.Now().UTC(),
	})
}

func (r *GormEventRepo) finish(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *GormEventRepo) RequeueStale(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	stale := r.db.
		Model(&EventModel{}).
		Select("id").
		Where("status IN ? AND updated_at < ?",
			[]domain.EventStatus{domain.EventStatusPublished, domain.EventStatusDelivering}, olderThan).
		Order("updated_at ASC").
		Limit(limit)

	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id IN (?)", stale).
		Updates(map[string]any{
			"status":          domain.EventStatusPending,
			"next_attempt_at": nil,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
