package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/service"
)

type DispatchService interface {
	Create(ctx context.Context, in service.CreateDispatchInput) (*domain.Dispatch, error)
	Get(ctx context.Context, id string) (*domain.Dispatch, error)
	ListScans(ctx context.Context, id string) ([]domain.DispatchScan, error)
	Scan(ctx context.Context, id, barcode, userID string, scanType domain.ScanType) (*domain.Dispatch, error)
	Receive(ctx context.Context, id, receiverID string, notes *string) (*domain.Dispatch, error)
}

type DispatchHandler struct {
	service DispatchService
}

func NewDispatchHandler(service DispatchService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &DispatchHandler{service: service}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	router.Post("/dispatches", h.CreateDispatch)
	router.Get("/dispatches/:id", h.GetDispatch)
	router.Get("/dispatches/:id/scans", h.ListScans)
	router.Post("/dispatches/:id/scan", h.Scan)
	router.Post("/dispatches/:id/receive", h.Receive)

	return nil
}

type createDispatchRequest struct {
	DispatchCode string   `json:"dispatch_code"`
	HospitalID   string   `json:"hospital_id"`
	CreatedBy    string   `json:"created_by"`
	Shipper      *string  `json:"shipper"`
	BottleIDs    []string `json:"bottle_ids"`
}

type scanRequest struct {
	Barcode  string `json:"barcode"`
	UserID   string `json:"user_id"`
	ScanType string `json:"scan_type"`
}

type receiveRequest struct {
	ReceiverID string  `json:"receiver_id"`
	Notes      *string `json:"notes"`
}

type dispatchItemResponse struct {
	BottleID     string  `json:"bottle_id"`
	Barcode      string  `json:"barcode"`
	ScannedOutAt *string `json:"scanned_out_at,omitempty"`
	ScannedOutBy *string `json:"scanned_out_by,omitempty"`
	ScannedInAt  *string `json:"scanned_in_at,omitempty"`
	ScannedInBy  *string `json:"scanned_in_by,omitempty"`
	Active       bool    `json:"active"`
}

type dispatchResponse struct {
	ID           string                 `json:"id"`
	DispatchCode string                 `json:"dispatch_code"`
	HospitalID   string                 `json:"hospital_id"`
	CreatedBy    string                 `json:"created_by"`
	Shipper      *string                `json:"shipper,omitempty"`
	Status       string                 `json:"status"`
	ReceivedBy   *string                `json:"received_by,omitempty"`
	ReceivedAt   *string                `json:"received_at,omitempty"`
	ReceiveNotes *string                `json:"receive_notes,omitempty"`
	DeliveredAt  *string                `json:"delivered_at,omitempty"`
	Items        []dispatchItemResponse `json:"items"`
	Version      int                    `json:"version"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

type scanResponse struct {
	ID         string `json:"id"`
	DispatchID string `json:"dispatch_id"`
	BottleID   string `json:"bottle_id"`
	ScanType   string `json:"scan_type"`
	ScannedBy  string `json:"scanned_by"`
	ScannedAt  string `json:"scanned_at"`
}

func (h *DispatchHandler) CreateDispatch(c *fiber.Ctx) error {
	var req createDispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	dispatch, err := h.service.Create(requestContext(c), service.CreateDispatchInput{
		DispatchCode: req.DispatchCode,
		HospitalID:   req.HospitalID,
		CreatedBy:    req.CreatedBy,
		Shipper:      req.Shipper,
		BottleIDs:    req.BottleIDs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toDispatchResponse(dispatch))
}

func (h *DispatchHandler) GetDispatch(c *fiber.Ctx) error {
	dispatch, err := h.service.Get(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(dispatch))
}

func (h *DispatchHandler) ListScans(c *fiber.Ctx) error {
	scans, err := h.service.ListScans(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]scanResponse, 0, len(scans))
	for _, s := range scans {
		data = append(data, scanResponse{
			ID:         s.ID,
			DispatchID: s.DispatchID,
			BottleID:   s.BottleID,
			ScanType:   s.ScanType.String(),
			ScannedBy:  s.ScannedBy,
			ScannedAt:  s.ScannedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *DispatchHandler) Scan(c *fiber.Ctx) error {
	var req scanRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	scanType, err := domain.ParseScanTypeFromString(req.ScanType)
	if err != nil {
		return toHTTPError(err)
	}

	dispatch, err := h.service.Scan(requestContext(c), strings.TrimSpace(c.Params("id")), req.Barcode, req.UserID, scanType)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(dispatch))
}

func (h *DispatchHandler) Receive(c *fiber.Ctx) error {
	var req receiveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	dispatch, err := h.service.Receive(requestContext(c), strings.TrimSpace(c.Params("id")), req.ReceiverID, req.Notes)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(dispatch))
}

func toDispatchResponse(d *domain.Dispatch) dispatchResponse {
	if d == nil {
		return dispatchResponse{}
	}

	items := make([]dispatchItemResponse, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, dispatchItemResponse{
			BottleID:     it.BottleID,
			Barcode:      it.Barcode,
			ScannedOutAt: formatTime(it.ScannedOutAt),
			ScannedOutBy: it.ScannedOutBy,
			ScannedInAt:  formatTime(it.ScannedInAt),
			ScannedInBy:  it.ScannedInBy,
			Active:       it.Active,
		})
	}
	return dispatchResponse{
		ID:           d.ID,
		DispatchCode: d.DispatchCode,
		HospitalID:   d.HospitalID,
		CreatedBy:    d.CreatedBy,
		Shipper:      d.Shipper,
		Status:       d.Status.String(),
		ReceivedBy:   d.ReceivedBy,
		ReceivedAt:   formatTime(d.ReceivedAt),
		ReceiveNotes: d.ReceiveNotes,
		DeliveredAt:  formatTime(d.DeliveredAt),
		Items:        items,
		Version:      d.Version,
		CreatedAt:    d.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
