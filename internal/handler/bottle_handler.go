package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/milkbank/internal/domain"
)

type BottleService interface {
	Get(ctx context.Context, id string) (*domain.Bottle, error)
	Allocate(ctx context.Context, id, patientID, allocatedBy string) (*domain.Bottle, error)
	StartDefrost(ctx context.Context, id, userID string) (*domain.Bottle, error)
	Administer(ctx context.Context, id, administeredBy string, witnessedBy *string) (*domain.Bottle, error)
	Discard(ctx context.Context, id, reason, discardedBy string) (*domain.Bottle, error)
}

type BottleHandler struct {
	service BottleService
}

func NewBottleHandler(service BottleService) (*BottleHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("bottle service is required")
	}
	return &BottleHandler{service: service}, nil
}

func RegisterBottleRoutes(router fiber.Router, service BottleService) error {
	h, err := NewBottleHandler(service)
	if err != nil {
		return err
	}

	router.Get("/bottles/:id", h.GetBottle)
	router.Post("/bottles/:id/allocate", h.Allocate)
	router.Post("/bottles/:id/defrost", h.StartDefrost)
	router.Post("/bottles/:id/administer", h.Administer)
	router.Post("/bottles/:id/discard", h.Discard)

	return nil
}

type allocateRequest struct {
	PatientID   string `json:"patient_id"`
	AllocatedBy string `json:"allocated_by"`
}

type defrostRequest struct {
	UserID string `json:"user_id"`
}

type administerRequest struct {
	AdministeredBy string  `json:"administered_by"`
	WitnessedBy    *string `json:"witnessed_by"`
}

type discardRequest struct {
	Reason      string `json:"reason"`
	DiscardedBy string `json:"discarded_by"`
}

type bottleResponse struct {
	ID               string  `json:"id"`
	Barcode          string  `json:"barcode"`
	BatchID          string  `json:"batch_id"`
	VolumeML         string  `json:"volume_ml"`
	Status           string  `json:"status"`
	PatientID        *string `json:"patient_id,omitempty"`
	AllocatedBy      *string `json:"allocated_by,omitempty"`
	AllocatedAt      *string `json:"allocated_at,omitempty"`
	DefrostStartedAt *string `json:"defrost_started_at,omitempty"`
	AdministeredBy   *string `json:"administered_by,omitempty"`
	WitnessedBy      *string `json:"witnessed_by,omitempty"`
	AdministeredAt   *string `json:"administered_at,omitempty"`
	DiscardReason    *string `json:"discard_reason,omitempty"`
	DiscardedBy      *string `json:"discarded_by,omitempty"`
	DiscardedAt      *string `json:"discarded_at,omitempty"`
	Version          int     `json:"version"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

func (h *BottleHandler) GetBottle(c *fiber.Ctx) error {
	bottle, err := h.service.Get(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBottleResponse(bottle))
}

func (h *BottleHandler) Allocate(c *fiber.Ctx) error {
	var req allocateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	bottle, err := h.service.Allocate(requestContext(c), strings.TrimSpace(c.Params("id")), req.PatientID, req.AllocatedBy)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBottleResponse(bottle))
}

func (h *BottleHandler) StartDefrost(c *fiber.Ctx) error {
	var req defrostRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	bottle, err := h.service.StartDefrost(requestContext(c), strings.TrimSpace(c.Params("id")), req.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBottleResponse(bottle))
}

func (h *BottleHandler) Administer(c *fiber.Ctx) error {
	var req administerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	bottle, err := h.service.Administer(requestContext(c), strings.TrimSpace(c.Params("id")), req.AdministeredBy, req.WitnessedBy)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBottleResponse(bottle))
}

func (h *BottleHandler) Discard(c *fiber.Ctx) error {
	var req discardRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	bottle, err := h.service.Discard(requestContext(c), strings.TrimSpace(c.Params("id")), req.Reason, req.DiscardedBy)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBottleResponse(bottle))
}

func toBottleResponse(b *domain.Bottle) bottleResponse {
	if b == nil {
		return bottleResponse{}
	}
	return bottleResponse{
		ID:               b.ID,
		Barcode:          b.Barcode,
		BatchID:          b.BatchID,
		VolumeML:         b.VolumeML.StringFixed(2),
		Status:           b.Status.String(),
		PatientID:        b.PatientID,
		AllocatedBy:      b.AllocatedBy,
		AllocatedAt:      formatTime(b.AllocatedAt),
		DefrostStartedAt: formatTime(b.DefrostStartedAt),
		AdministeredBy:   b.AdministeredBy,
		WitnessedBy:      b.WitnessedBy,
		AdministeredAt:   formatTime(b.AdministeredAt),
		DiscardReason:    b.DiscardReason,
		DiscardedBy:      b.DiscardedBy,
		DiscardedAt:      formatTime(b.DiscardedAt),
		Version:          b.Version,
		CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:        b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
