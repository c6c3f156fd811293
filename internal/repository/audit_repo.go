package repository

import (
	"context"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"gorm.io/gorm"
)

type AuditListParams struct {
	EntityType *domain.AggregateType
	EntityID   *string
	Page       int
	PageSize   int
}

type AuditRepository interface {
	Create(ctx context.Context, a *domain.AuditEvent) error
	List(ctx context.Context, params AuditListParams) ([]domain.AuditEvent, int64, error)
}

type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Create(ctx context.Context, a *domain.AuditEvent) error {
	model := auditModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *auditModelToDomain(model)
	}
	return nil
}

func (r *GormAuditRepo) List(ctx context.Context, params AuditListParams) ([]domain.AuditEvent, int64, error) {
	query := r.db.WithContext(ctx).Model(&AuditEventModel{})

	if params.EntityType != nil {
		query = query.Where("entity_type = ?", *params.EntityType)
	}
	if params.EntityID != nil {
		query = query.Where("entity_id = ?", *params.EntityID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []AuditEventModel
	err := query.
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	events := make([]domain.AuditEvent, 0, len(models))
	for i := range models {
		events = append(events, *auditModelToDomain(&models[i]))
	}
	return events, total, nil
}
