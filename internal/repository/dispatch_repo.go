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

type DispatchRepository interface {
	Create(ctx context.Context, d *domain.Dispatch) error
	GetByID(ctx context.Context, id string) (*domain.Dispatch, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Dispatch, error)
	// ActiveBottleIDs returns the subset of bottleIDs already held by an
	// active dispatch.
	ActiveBottleIDs(ctx context.Context, bottleIDs []string) ([]string, error)
	// Update persists d and its items if the row still carries expectedVersion.
	Update(ctx context.Context, d *domain.Dispatch, expectedVersion int) error
	AddScan(ctx context.Context, scan *domain.DispatchScan) error
	ListScans(ctx context.Context, dispatchID string) ([]domain.DispatchScan, error)
}

type GormDispatchRepo struct {
	db *gorm.DB
}

func NewGormDispatchRepo(db *gorm.DB) *GormDispatchRepo {
	return &GormDispatchRepo{db: db}
}

func (r *GormDispatchRepo) Create(ctx context.Context, d *domain.Dispatch) error {
	model := dispatchModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return dispatchCreateError(err, d)
	}

	*d = *dispatchModelToDomain(model)
	return nil
}

func (r *GormDispatchRepo) GetByID(ctx context.Context, id string) (*domain.Dispatch, error) {
	return r.get(ctx, r.db.WithContext(ctx), id)
}

func (r *GormDispatchRepo) GetForUpdate(ctx context.Context, id string) (*domain.Dispatch, error) {
	return r.get(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormDispatchRepo) get(ctx context.Context, query *gorm.DB, id string) (*domain.Dispatch, error) {
	var model DispatchModel
	err := query.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: dispatch %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).
		Where("dispatch_id = ?", model.ID).
		Order("barcode ASC").
		Find(&model.Items).Error; err != nil {
		return nil, err
	}
	return dispatchModelToDomain(&model), nil
}

func (r *GormDispatchRepo) ActiveBottleIDs(ctx context.Context, bottleIDs []string) ([]string, error) {
	if len(bottleIDs) == 0 {
		return nil, nil
	}

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&DispatchItemModel{}).
		Where("bottle_id IN ? AND active = ?", bottleIDs, true).
		Pluck("bottle_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormDispatchRepo) Update(ctx context.Context, d *domain.Dispatch, expectedVersion int) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&DispatchModel{}).
		Where("id = ? AND version = ?", d.ID, expectedVersion).
		Updates(map[string]any{
			"status":        d.Status,
			"received_by":   d.ReceivedBy,
			"received_at":   d.ReceivedAt,
			"receive_notes": d.ReceiveNotes,
			"delivered_at":  d.DeliveredAt,
			"version":       expectedVersion + 1,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: dispatch %s changed since version %d", domain.ErrConcurrencyConflict, d.ID, expectedVersion)
	}

	for i := range d.Items {
		it := &d.Items[i]
		if err := r.db.WithContext(ctx).
			Model(&DispatchItemModel{}).
			Where("id = ?", it.ID).
			Updates(map[string]any{
				"scanned_out_at": it.ScannedOutAt,
				"scanned_out_by": it.ScannedOutBy,
				"scanned_in_at":  it.ScannedInAt,
				"scanned_in_by":  it.ScannedInBy,
				"active":         it.Active,
			}).Error; err != nil {
			return err
		}
	}

	d.Version = expectedVersion + 1
	d.UpdatedAt = now
	return nil
}

func (r *GormDispatchRepo) AddScan(ctx context.Context, scan *domain.DispatchScan) error {
	model := scanModelFromDomain(scan)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*scan = *scanModelToDomain(model)
	return nil
}

func (r *GormDispatchRepo) ListScans(ctx context.Context, dispatchID string) ([]domain.DispatchScan, error) {
	var models []DispatchScanModel
	err := r.db.WithContext(ctx).
		Where("dispatch_id = ?", dispatchID).
		Order("scanned_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	scans := make([]domain.DispatchScan, 0, len(models))
	for i := range models {
		scans = append(scans, *scanModelToDomain(&models[i]))
	}
	return scans, nil
}

func dispatchCreateError(err error, d *domain.Dispatch) error {
	switch {
	case violatesIndex(err, IndexActiveDispatchItem):
		return fmt.Errorf("%w: bottle already belongs to an active dispatch", domain.ErrConflict)
	case isUniqueViolationError(err):
		return fmt.Errorf("%w: dispatch_code %q already exists", domain.ErrConflict, d.DispatchCode)
	default:
		return err
	}
}
