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

type BottleRepository interface {
	CreateBatch(ctx context.Context, bottles []*domain.Bottle) error
	GetByID(ctx context.Context, id string) (*domain.Bottle, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Bottle, error)
	// GetManyForUpdate locks rows in id order and fails with
	// domain.ErrNotFound when any id is missing.
	GetManyForUpdate(ctx context.Context, ids []string) ([]domain.Bottle, error)
	ListByBatchID(ctx context.Context, batchID string) ([]domain.Bottle, error)
	// Update persists b if the row still carries expectedVersion.
	Update(ctx context.Context, b *domain.Bottle, expectedVersion int) error
}

type GormBottleRepo struct {
	db *gorm.DB
}

func NewGormBottleRepo(db *gorm.DB) *GormBottleRepo {
	return &GormBottleRepo{db: db}
}

func (r *GormBottleRepo) CreateBatch(ctx context.Context, bottles []*domain.Bottle) error {
	models := make([]BottleModel, 0, len(bottles))
	modelIndexes := make([]int, 0, len(bottles))
	for i, b := range bottles {
		model := bottleModelFromDomain(b)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		if violatesIndex(err, IndexBottleBarcode) {
			return fmt.Errorf("%w: bottle barcode already minted: %v", domain.ErrConflict, err)
		}
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(bottles) && bottles[idx] != nil {
			*bottles[idx] = *bottleModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormBottleRepo) GetByID(ctx context.Context, id string) (*domain.Bottle, error) {
	var model BottleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: bottle %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return bottleModelToDomain(&model), nil
}

func (r *GormBottleRepo) GetForUpdate(ctx context.Context, id string) (*domain.Bottle, error) {
	var model BottleModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: bottle %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return bottleModelToDomain(&model), nil
}

func (r *GormBottleRepo) GetManyForUpdate(ctx context.Context, ids []string) ([]domain.Bottle, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []BottleModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	if len(models) != len(ids) {
		found := make(map[string]struct{}, len(models))
		for i := range models {
			found[models[i].ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return nil, fmt.Errorf("%w: bottle %s", domain.ErrNotFound, id)
			}
		}
	}

	bottles := make([]domain.Bottle, 0, len(models))
	for i := range models {
		bottles = append(bottles, *bottleModelToDomain(&models[i]))
	}
	return bottles, nil
}

func (r *GormBottleRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.Bottle, error) {
	var models []BottleModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("barcode ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	bottles := make([]domain.Bottle, 0, len(models))
	for i := range models {
		bottles = append(bottles, *bottleModelToDomain(&models[i]))
	}
	return bottles, nil
}

func (r *GormBottleRepo) Update(ctx context.Context, b *domain.Bottle, expectedVersion int) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&BottleModel{}).
		Where("id = ? AND version = ?", b.ID, expectedVersion).
		Updates(map[string]any{
			"status":             b.Status,
			"patient_id":         b.PatientID,
			"allocated_by":       b.AllocatedBy,
			"allocated_at":       b.AllocatedAt,
			"defrost_started_at": b.DefrostStartedAt,
			"administered_by":    b.AdministeredBy,
			"witnessed_by":       b.WitnessedBy,
			"administered_at":    b.AdministeredAt,
			"discard_reason":     b.DiscardReason,
			"discarded_by":       b.DiscardedBy,
			"discarded_at":       b.DiscardedAt,
			"version":            expectedVersion + 1,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: bottle %s changed since version %d", domain.ErrConcurrencyConflict, b.ID, expectedVersion)
	}

	b.Version = expectedVersion + 1
	b.UpdatedAt = now
	return nil
}
