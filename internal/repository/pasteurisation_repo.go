package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"gorm.io/gorm"
)

type PasteurisationRepository interface {
	Create(ctx context.Context, rec *domain.PasteurisationRecord) error
	// GetOpenByBatchID returns domain.ErrNotFound when no run is open.
	GetOpenByBatchID(ctx context.Context, batchID string) (*domain.PasteurisationRecord, error)
	ListByBatchID(ctx context.Context, batchID string) ([]domain.PasteurisationRecord, error)
	Complete(ctx context.Context, rec *domain.PasteurisationRecord) error
}

type GormPasteurisationRepo struct {
	db *gorm.DB
}

func NewGormPasteurisationRepo(db *gorm.DB) *GormPasteurisationRepo {
	return &GormPasteurisationRepo{db: db}
}

func (r *GormPasteurisationRepo) Create(ctx context.Context, rec *domain.PasteurisationRecord) error {
	model := recordModelFromDomain(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return recordCreateError(err, rec)
	}
	if rec != nil {
		*rec = *recordModelToDomain(model)
	}
	return nil
}

func (r *GormPasteurisationRepo) GetOpenByBatchID(ctx context.Context, batchID string) (*domain.PasteurisationRecord, error) {
	var model PasteurisationRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND ended_at IS NULL", batchID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no open pasteurisation record for batch %s", domain.ErrNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

func (r *GormPasteurisationRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.PasteurisationRecord, error) {
	var models []PasteurisationRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("started_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.PasteurisationRecord, 0, len(models))
	for i := range models {
		records = append(records, *recordModelToDomain(&models[i]))
	}
	return records, nil
}

func (r *GormPasteurisationRepo) Complete(ctx context.Context, rec *domain.PasteurisationRecord) error {
	result := r.db.WithContext(ctx).
		Model(&PasteurisationRecordModel{}).
		Where("id = ? AND ended_at IS NULL", rec.ID).
		Updates(map[string]any{
			"ended_at":     rec.EndedAt,
			"completed_by": rec.CompletedBy,
			"result_notes": rec.ResultNotes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: record %s", domain.ErrNoOpenRecord, rec.ID)
	}
	return nil
}

func recordCreateError(err error, rec *domain.PasteurisationRecord) error {
	if violatesIndex(err, IndexOpenRecordPerBatch) {
		return fmt.Errorf("%w: batch %s", domain.ErrRecordAlreadyOpen, rec.BatchID)
	}
	return err
}
