package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SampleRepository interface {
	Create(ctx context.Context, s *domain.Sample) error
	GetByID(ctx context.Context, id string) (*domain.Sample, error)
	ListByBatchID(ctx context.Context, batchID string) ([]domain.Sample, error)
	AddResult(ctx context.Context, result *domain.SampleResult) error
}

type GormSampleRepo struct {
	db *gorm.DB
}

func NewGormSampleRepo(db *gorm.DB) *GormSampleRepo {
	return &GormSampleRepo{db: db}
}

func (r *GormSampleRepo) Create(ctx context.Context, s *domain.Sample) error {
	model := sampleModelFromDomain(s)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(model).Error; err != nil {
		return sampleCreateError(err, s)
	}

	created := sampleModelToDomain(model)
	*s = *created
	return nil
}

func (r *GormSampleRepo) GetByID(ctx context.Context, id string) (*domain.Sample, error) {
	var model SampleModel
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("posted_at ASC") }).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: sample %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return sampleModelToDomain(&model), nil
}

func (r *GormSampleRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.Sample, error) {
	var models []SampleModel
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("posted_at ASC") }).
		Where("batch_id = ?", batchID).
		Order("kind ASC, slot ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	samples := make([]domain.Sample, 0, len(models))
	for i := range models {
		samples = append(samples, *sampleModelToDomain(&models[i]))
	}
	return samples, nil
}

func (r *GormSampleRepo) AddResult(ctx context.Context, result *domain.SampleResult) error {
	model := resultModelFromDomain(result)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if result != nil {
		*result = *resultModelToDomain(model)
	}
	return nil
}

func sampleCreateError(err error, s *domain.Sample) error {
	switch {
	case violatesIndex(err, IndexSampleSlot):
		return fmt.Errorf("%w: %s slot %d already taken on batch %s", domain.ErrTooManySamples, s.Kind, s.Slot, s.BatchID)
	case isUniqueViolationError(err):
		return fmt.Errorf("%w: sample_code %q already registered", domain.ErrConflict, s.SampleCode)
	default:
		return err
	}
}
