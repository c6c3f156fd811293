package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/repository"
)

type AuditService struct {
	audit repository.AuditRepository
}

func NewAuditService(audit repository.AuditRepository) (*AuditService, error) {
	if audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	return &AuditService{audit: audit}, nil
}

func (s *AuditService) List(ctx context.Context, params repository.AuditListParams) ([]domain.AuditEvent, int64, error) {
	return s.audit.List(ctx, params)
}
