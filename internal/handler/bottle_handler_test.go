package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/shopspring/decimal"
)

func testBottle(id string, status domain.BottleStatus) *domain.Bottle {
	return &domain.Bottle{
		ID:        id,
		Barcode:   "B1-001",
		BatchID:   "batch-1",
		VolumeML:  decimal.NewFromInt(50),
		Status:    status,
		Version:   1,
		CreatedAt: fixedTime,
		UpdatedAt: fixedTime,
	}
}

func TestBottleIntegration_GetBottle(t *testing.T) {
	t.Parallel()

	svc := &stubBottleService{
		getFn: func(ctx context.Context, id string) (*domain.Bottle, error) {
			if id != "bt-1" {
				return nil, fmt.Errorf("%w: bottle %s", domain.ErrNotFound, id)
			}
			return testBottle(id, domain.BottleStatusAvailable), nil
		},
	}
	app := newTestApp(t, testServices{bottles: svc})

	resp, raw := performRequest(t, app, http.MethodGet, "/bottles/bt-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	got := decodeJSON(t, raw)
	if got["barcode"] != "B1-001" || got["status"] != "Available" || got["volume_ml"] != "50.00" {
		t.Fatalf("response = %v", got)
	}
	if _, ok := got["patient_id"]; ok {
		t.Fatalf("unset patient_id should be omitted: %v", got)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/bottles/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("missing bottle status = %d, want 404", resp.StatusCode)
	}
}

func TestBottleIntegration_Transitions(t *testing.T) {
	t.Parallel()

	var witness *string
	svc := &stubBottleService{
		allocateFn: func(ctx context.Context, id, patientID, allocatedBy string) (*domain.Bottle, error) {
			if id == "taken" {
				return nil, fmt.Errorf("%w: Allocated", domain.ErrInvalidBottleState)
			}
			b := testBottle(id, domain.BottleStatusAllocated)
			b.PatientID, b.AllocatedBy, b.AllocatedAt = &patientID, &allocatedBy, &fixedTime
			b.Version = 2
			return b, nil
		},
		defrostFn: func(ctx context.Context, id, userID string) (*domain.Bottle, error) {
			return testBottle(id, domain.BottleStatusDefrosting), nil
		},
		administerFn: func(ctx context.Context, id, administeredBy string, witnessedBy *string) (*domain.Bottle, error) {
			witness = witnessedBy
			if id == "late" {
				return nil, domain.ErrDefrostWindowExceeded
			}
			if witnessedBy != nil && *witnessedBy == administeredBy {
				return nil, fmt.Errorf("%w: witness must differ from administrator", domain.ErrValidation)
			}
			return testBottle(id, domain.BottleStatusAdministered), nil
		},
		discardFn: func(ctx context.Context, id, reason, discardedBy string) (*domain.Bottle, error) {
			if id == "allocated" {
				return nil, fmt.Errorf("%w: Allocated", domain.ErrInvalidBottleState)
			}
			b := testBottle(id, domain.BottleStatusDiscarded)
			b.DiscardReason = &reason
			return b, nil
		},
	}
	app := newTestApp(t, testServices{bottles: svc})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantBottle string
	}{
		{name: "allocate", path: "/bottles/bt-1/allocate", body: `{"patient_id":"p-1","allocated_by":"nurse-1"}`, wantStatus: fiber.StatusOK, wantBottle: "Allocated"},
		{name: "allocate taken", path: "/bottles/taken/allocate", body: `{"patient_id":"p-1","allocated_by":"nurse-1"}`, wantStatus: fiber.StatusConflict},
		{name: "defrost", path: "/bottles/bt-1/defrost", body: `{"user_id":"nurse-1"}`, wantStatus: fiber.StatusOK, wantBottle: "Defrosting"},
		{name: "administer", path: "/bottles/bt-1/administer", body: `{"administered_by":"nurse-1","witnessed_by":"nurse-2"}`, wantStatus: fiber.StatusOK, wantBottle: "Administered"},
		{name: "administer self witness", path: "/bottles/bt-1/administer", body: `{"administered_by":"nurse-1","witnessed_by":"nurse-1"}`, wantStatus: fiber.StatusBadRequest},
		{name: "administer late", path: "/bottles/late/administer", body: `{"administered_by":"nurse-1"}`, wantStatus: fiber.StatusConflict},
		{name: "discard", path: "/bottles/bt-1/discard", body: `{"reason":"expired","discarded_by":"tech-1"}`, wantStatus: fiber.StatusOK, wantBottle: "Discarded"},
		{name: "discard allocated", path: "/bottles/allocated/discard", body: `{"reason":"expired","discarded_by":"tech-1"}`, wantStatus: fiber.StatusConflict},
		{name: "malformed body", path: "/bottles/bt-1/allocate", body: `{"patient_id":`, wantStatus: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		resp, raw := performRequest(t, app, http.MethodPost, tt.path, tt.body)
		if resp.StatusCode != tt.wantStatus {
			t.Fatalf("%s: status = %d, want %d, body=%s", tt.name, resp.StatusCode, tt.wantStatus, string(raw))
		}
		if tt.wantBottle != "" && decodeJSON(t, raw)["status"] != tt.wantBottle {
			t.Fatalf("%s: body = %s", tt.name, string(raw))
		}
	}

	if witness != nil {
		t.Fatalf("last administer call witness = %v, want nil", *witness)
	}
}
