package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/repository"
)

type AuditService interface {
	List(ctx context.Context, params repository.AuditListParams) ([]domain.AuditEvent, int64, error)
}

type AuditHandler struct {
	service AuditService
}

func NewAuditHandler(service AuditService) (*AuditHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	return &AuditHandler{service: service}, nil
}

func RegisterAuditRoutes(router fiber.Router, service AuditService) error {
	h, err := NewAuditHandler(service)
	if err != nil {
		return err
	}

	router.Get("/audit", h.ListAudit)
	return nil
}

type auditResponse struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Operation  string          `json:"operation"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     *string         `json:"reason,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

type listAuditResponse struct {
	Data []auditResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

func (h *AuditHandler) ListAudit(c *fiber.Ctx) error {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return toHTTPError(err)
	}
	params := repository.AuditListParams{Page: page, PageSize: pageSize}

	if raw := strings.TrimSpace(c.Query("entity_type")); raw != "" {
		entityType, err := domain.ParseAggregateTypeFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		params.EntityType = &entityType
	}
	if raw := strings.TrimSpace(c.Query("entity_id")); raw != "" {
		params.EntityID = &raw
	}

	entries, total, err := h.service.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]auditResponse, 0, len(entries))
	for _, a := range entries {
		data = append(data, auditResponse{
			ID:         a.ID,
			UserID:     a.UserID,
			Operation:  a.Operation,
			EntityType: a.EntityType.String(),
			EntityID:   a.EntityID,
			Before:     a.Before,
			After:      a.After,
			Reason:     a.Reason,
			CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return c.Status(fiber.StatusOK).JSON(listAuditResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}
