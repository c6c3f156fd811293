package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"github.com/kursadbilgin/milkbank/internal/service"
	"github.com/shopspring/decimal"
)

type BatchService interface {
	Create(ctx context.Context, plan domain.BatchPlan, actorID string) (*domain.Batch, error)
	Get(ctx context.Context, id string) (*service.BatchDetail, error)
	List(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error)
	ListBottles(ctx context.Context, batchID string) ([]domain.Bottle, error)
	Quarantine(ctx context.Context, id, userID, reason string) (*domain.Batch, error)
	ProcessPostPasteurisation(ctx context.Context, id, actorID string) (*domain.Batch, error)
}

type PasteurisationService interface {
	Start(ctx context.Context, batchID, operatorID, deviceID string) (*domain.PasteurisationRecord, error)
	Complete(ctx context.Context, batchID, recordID, operatorID string, notes *string) (*service.CompleteResult, error)
}

type SampleService interface {
	CreateSample(ctx context.Context, batchID string, in service.CreateSampleInput) (*domain.Sample, error)
	PostResult(ctx context.Context, sampleID string, in service.PostResultInput) (*service.PostResultOutcome, error)
}

type BatchHandler struct {
	batches        BatchService
	pasteurisation PasteurisationService
	samples        SampleService
}

func NewBatchHandler(batches BatchService, pasteurisation PasteurisationService, samples SampleService) (*BatchHandler, error) {
	if batches == nil || pasteurisation == nil || samples == nil {
		return nil, fmt.Errorf("batch, pasteurisation and sample services are required")
	}
	return &BatchHandler{batches: batches, pasteurisation: pasteurisation, samples: samples}, nil
}

func RegisterBatchRoutes(router fiber.Router, batches BatchService, pasteurisation PasteurisationService, samples SampleService) error {
	h, err := NewBatchHandler(batches, pasteurisation, samples)
	if err != nil {
		return err
	}

	router.Post("/batches", h.CreateBatch)
	router.Get("/batches", h.ListBatches)
	router.Get("/batches/:id", h.GetBatch)
	router.Get("/batches/:id/bottles", h.ListBottles)
	router.Post("/batches/:id/pasteurise/start", h.StartPasteurisation)
	router.Post("/batches/:id/pasteurise/complete", h.CompletePasteurisation)
	router.Post("/batches/:id/samples", h.CreateSample)
	router.Post("/batches/:id/process-post-pasteurisation", h.ProcessPostPasteurisation)
	router.Post("/batches/:id/quarantine", h.QuarantineBatch)
	router.Post("/samples/:id/results", h.PostResult)

	return nil
}

type createBatchRequest struct {
	BatchCode       string            `json:"batch_code"`
	DonationIDs     []string          `json:"donation_ids"`
	BatchDate       string            `json:"batch_date"`
	NumberOfBottles *int              `json:"number_of_bottles"`
	BottleVolumes   []decimal.Decimal `json:"bottle_volumes"`
	CreatedBy       string            `json:"created_by"`
}

type startPasteurisationRequest struct {
	OperatorID string `json:"operator_id"`
	DeviceID   string `json:"device_id"`
}

type completePasteurisationRequest struct {
	OperatorID  string  `json:"operator_id"`
	RecordID    string  `json:"record_id"`
	ResultNotes *string `json:"result_notes"`
}

type createSampleRequest struct {
	SampleCode string `json:"sample_code"`
	SampleType string `json:"sample_type"`
	CreatedBy  string `json:"created_by"`
}

type postResultRequest struct {
	TestType      string  `json:"test_type"`
	Organism      *string `json:"organism"`
	ThresholdFlag bool    `json:"threshold_flag"`
	Notes         *string `json:"notes"`
	PostedBy      string  `json:"posted_by"`
}

type quarantineRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

type batchResponse struct {
	ID              string   `json:"id"`
	BatchCode       string   `json:"batch_code"`
	Status          string   `json:"status"`
	DonationIDs     []string `json:"donation_ids"`
	BatchDate       *string  `json:"batch_date,omitempty"`
	NumberOfBottles int      `json:"number_of_bottles"`
	BottleVolumes   []string `json:"bottle_volumes"`
	TotalVolumeML   string   `json:"total_volume_ml"`
	Version         int      `json:"version"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

type recordResponse struct {
	ID          string  `json:"id"`
	BatchID     string  `json:"batch_id"`
	OperatorID  string  `json:"operator_id"`
	DeviceID    string  `json:"device_id"`
	StartedAt   string  `json:"started_at"`
	EndedAt     *string `json:"ended_at,omitempty"`
	CompletedBy *string `json:"completed_by,omitempty"`
	ResultNotes *string `json:"result_notes,omitempty"`
}

type resultResponse struct {
	ID            string  `json:"id"`
	SampleID      string  `json:"sample_id"`
	TestType      string  `json:"test_type"`
	Organism      *string `json:"organism,omitempty"`
	ThresholdFlag bool    `json:"threshold_flag"`
	Notes         *string `json:"notes,omitempty"`
	PostedBy      string  `json:"posted_by"`
	PostedAt      string  `json:"posted_at"`
}

type sampleResponse struct {
	ID         string           `json:"id"`
	BatchID    string           `json:"batch_id"`
	SampleCode string           `json:"sample_code"`
	SampleType string           `json:"sample_type"`
	Slot       int              `json:"slot"`
	Results    []resultResponse `json:"results"`
	CreatedAt  string           `json:"created_at"`
}

type batchDetailResponse struct {
	batchResponse
	Records []recordResponse `json:"pasteurisation_records"`
	Samples []sampleResponse `json:"samples"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	batchDate, err := parseBatchDate(req.BatchDate)
	if err != nil {
		return toHTTPError(err)
	}

	batch, err := h.batches.Create(requestContext(c), domain.BatchPlan{
		BatchCode:       req.BatchCode,
		DonationIDs:     req.DonationIDs,
		BatchDate:       batchDate,
		NumberOfBottles: req.NumberOfBottles,
		BottleVolumes:   req.BottleVolumes,
	}, req.CreatedBy)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	detail, err := h.batches.Get(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	resp := batchDetailResponse{
		batchResponse: toBatchResponse(detail.Batch),
		Records:       make([]recordResponse, 0, len(detail.Records)),
		Samples:       make([]sampleResponse, 0, len(detail.Samples)),
	}
	for i := range detail.Records {
		resp.Records = append(resp.Records, toRecordResponse(&detail.Records[i]))
	}
	for i := range detail.Samples {
		resp.Samples = append(resp.Samples, toSampleResponse(&detail.Samples[i]))
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return toHTTPError(err)
	}
	params := repository.BatchListParams{Page: page, PageSize: pageSize}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseBatchStatusFromString(rawStatus)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}
	if params.From, err = parseRFC3339Query(c.Query("from"), "from"); err != nil {
		return toHTTPError(err)
	}
	if params.To, err = parseRFC3339Query(c.Query("to"), "to"); err != nil {
		return toHTTPError(err)
	}

	batches, total, err := h.batches.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *BatchHandler) ListBottles(c *fiber.Ctx) error {
	bottles, err := h.batches.ListBottles(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]bottleResponse, 0, len(bottles))
	for i := range bottles {
		data = append(data, toBottleResponse(&bottles[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *BatchHandler) StartPasteurisation(c *fiber.Ctx) error {
	var req startPasteurisationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	rec, err := h.pasteurisation.Start(requestContext(c), strings.TrimSpace(c.Params("id")), req.OperatorID, req.DeviceID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"record_id": rec.ID,
		"batch_id":  rec.BatchID,
		"status":    domain.BatchStatusPasteurising.String(),
	})
}

func (h *BatchHandler) CompletePasteurisation(c *fiber.Ctx) error {
	var req completePasteurisationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	out, err := h.pasteurisation.Complete(requestContext(c), strings.TrimSpace(c.Params("id")), req.RecordID, req.OperatorID, req.ResultNotes)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"record": toRecordResponse(out.Record),
		"status": out.Batch.Status.String(),
	})
}

func (h *BatchHandler) CreateSample(c *fiber.Ctx) error {
	var req createSampleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	sample, err := h.samples.CreateSample(requestContext(c), strings.TrimSpace(c.Params("id")), service.CreateSampleInput{
		SampleCode: req.SampleCode,
		Kind:       req.SampleType,
		ActorID:    req.CreatedBy,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sample_id":   sample.ID,
		"sample_type": strings.ToLower(sample.Kind.String()),
		"slot":        sample.Slot,
	})
}

func (h *BatchHandler) PostResult(c *fiber.Ctx) error {
	var req postResultRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	out, err := h.samples.PostResult(requestContext(c), strings.TrimSpace(c.Params("id")), service.PostResultInput{
		TestType:      req.TestType,
		Organism:      req.Organism,
		ThresholdFlag: req.ThresholdFlag,
		Notes:         req.Notes,
		PostedBy:      req.PostedBy,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"result":       toResultResponse(out.Result),
		"batch_status": out.BatchStatus.String(),
	})
}

func (h *BatchHandler) ProcessPostPasteurisation(c *fiber.Ctx) error {
	var req actorRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	batch, err := h.batches.ProcessPostPasteurisation(requestContext(c), strings.TrimSpace(c.Params("id")), req.ActorID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) QuarantineBatch(c *fiber.Ctx) error {
	var req quarantineRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	batch, err := h.batches.Quarantine(requestContext(c), strings.TrimSpace(c.Params("id")), req.UserID, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

// parseBatchDate accepts a calendar date or a full RFC3339 timestamp.
func parseBatchDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, trimmed); err == nil {
		return &t, nil
	}
	return parseRFC3339Query(trimmed, "batch_date")
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	volumes := make([]string, 0, len(b.BottleVolumes))
	for _, v := range b.BottleVolumes {
		volumes = append(volumes, v.StringFixed(2))
	}
	resp := batchResponse{
		ID:              b.ID,
		BatchCode:       b.BatchCode,
		Status:          b.Status.String(),
		DonationIDs:     b.DonationIDs,
		NumberOfBottles: b.NumberOfBottles(),
		BottleVolumes:   volumes,
		TotalVolumeML:   b.TotalVolumeML.StringFixed(2),
		Version:         b.Version,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if b.BatchDate != nil {
		date := b.BatchDate.UTC().Format(time.DateOnly)
		resp.BatchDate = &date
	}
	return resp
}

func toRecordResponse(r *domain.PasteurisationRecord) recordResponse {
	if r == nil {
		return recordResponse{}
	}
	return recordResponse{
		ID:          r.ID,
		BatchID:     r.BatchID,
		OperatorID:  r.OperatorID,
		DeviceID:    r.DeviceID,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339Nano),
		EndedAt:     formatTime(r.EndedAt),
		CompletedBy: r.CompletedBy,
		ResultNotes: r.ResultNotes,
	}
}

func toSampleResponse(s *domain.Sample) sampleResponse {
	results := make([]resultResponse, 0, len(s.Results))
	for i := range s.Results {
		results = append(results, toResultResponse(&s.Results[i]))
	}
	return sampleResponse{
		ID:         s.ID,
		BatchID:    s.BatchID,
		SampleCode: s.SampleCode,
		SampleType: strings.ToLower(s.Kind.String()),
		Slot:       s.Slot,
		Results:    results,
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toResultResponse(r *domain.SampleResult) resultResponse {
	if r == nil {
		return resultResponse{}
	}
	return resultResponse{
		ID:            r.ID,
		SampleID:      r.SampleID,
		TestType:      r.TestType,
		Organism:      r.Organism,
		ThresholdFlag: r.ThresholdFlag,
		Notes:         r.Notes,
		PostedBy:      r.PostedBy,
		PostedAt:      r.PostedAt.UTC().Format(time.RFC3339Nano),
	}
}
