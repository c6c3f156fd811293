package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func intPtr(v int) *int { return &v }

func TestBatchStatusTransitionGraph(t *testing.T) {
	t.Parallel()

	allowed := map[BatchStatus][]BatchStatus{
		BatchStatusCreated:          {BatchStatusPasteurising, BatchStatusQuarantined},
		BatchStatusPasteurising:     {BatchStatusPasteurised, BatchStatusQuarantined},
		BatchStatusPasteurised:      {BatchStatusMicroTestPending, BatchStatusQuarantined},
		BatchStatusMicroTestPending: {BatchStatusReleased, BatchStatusTestingFailed, BatchStatusQuarantined},
		BatchStatusReleased:         nil,
		BatchStatusTestingFailed:    nil,
		BatchStatusQuarantined:      nil,
	}

	for from, targets := range allowed {
		want := make(map[BatchStatus]bool, len(targets))
		for _, to := range targets {
			want[to] = true
		}
		for _, to := range batchStatuses {
			if got := from.CanTransitionTo(to); got != want[to] {
				t.Errorf("%s -> %s allowed = %v, want %v", from, to, got, want[to])
			}
		}
		if from.IsTerminal() != (len(targets) == 0) {
			t.Errorf("%s IsTerminal() = %v", from, from.IsTerminal())
		}
	}
}

func TestParseBatchStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseBatchStatusFromString(" microtestpending ")
	if err != nil {
		t.Fatalf("ParseBatchStatusFromString() unexpected error = %v", err)
	}
	if got != BatchStatusMicroTestPending {
		t.Fatalf("ParseBatchStatusFromString() = %s, want %s", got, BatchStatusMicroTestPending)
	}

	if _, err := ParseBatchStatusFromString("Shipped"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseBatchStatusFromString() error = %v, want ErrValidation", err)
	}
}

func TestNewBatch(t *testing.T) {
	t.Parallel()

	fifty := decimal.NewFromInt(50)

	tests := []struct {
		name        string
		plan        BatchPlan
		wantErr     error
		wantBottles int
		wantTotal   string
	}{
		{
			name:        "defaults to one bottle per donation",
			plan:        BatchPlan{BatchCode: "B1", DonationIDs: []string{"d1", "d2"}},
			wantBottles: 2,
			wantTotal:   "100",
		},
		{
			name:        "explicit count uses default volume",
			plan:        BatchPlan{BatchCode: "B1", DonationIDs: []string{"d1"}, NumberOfBottles: intPtr(3)},
			wantBottles: 3,
			wantTotal:   "150",
		},
		{
			name: "explicit volumes",
			plan: BatchPlan{
				BatchCode:     "B1",
				DonationIDs:   []string{"d1"},
				BottleVolumes: []decimal.Decimal{decimal.RequireFromString("30.5"), decimal.NewFromInt(40)},
			},
			wantBottles: 2,
			wantTotal:   "70.5",
		},
		{
			name:    "missing code",
			plan:    BatchPlan{DonationIDs: []string{"d1"}},
			wantErr: ErrValidation,
		},
		{
			name:    "no donations",
			plan:    BatchPlan{BatchCode: "B1"},
			wantErr: ErrValidation,
		},
		{
			name:    "duplicate donation",
			plan:    BatchPlan{BatchCode: "B1", DonationIDs: []string{"d1", " d1"}},
			wantErr: ErrValidation,
		},
		{
			name:    "zero bottles",
			plan:    BatchPlan{BatchCode: "B1", DonationIDs: []string{"d1"}, NumberOfBottles: intPtr(0)},
			wantErr: ErrValidation,
		},
		{
			name: "count and volumes disagree",
			plan: BatchPlan{
				BatchCode:       "B1",
				DonationIDs:     []string{"d1"},
				NumberOfBottles: intPtr(3),
				BottleVolumes:   []decimal.Decimal{fifty},
			},
			wantErr: ErrValidation,
		},
		{
			name: "non positive volume",
			plan: BatchPlan{
				BatchCode:     "B1",
				DonationIDs:   []string{"d1"},
				BottleVolumes: []decimal.Decimal{fifty, decimal.Zero},
			},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBatch(tt.plan, fifty)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewBatch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBatch() unexpected error = %v", err)
			}
			if b.Status != BatchStatusCreated {
				t.Fatalf("status = %s, want %s", b.Status, BatchStatusCreated)
			}
			if b.NumberOfBottles() != tt.wantBottles {
				t.Fatalf("NumberOfBottles() = %d, want %d", b.NumberOfBottles(), tt.wantBottles)
			}
			if !b.TotalVolumeML.Equal(decimal.RequireFromString(tt.wantTotal)) {
				t.Fatalf("TotalVolumeML = %s, want %s", b.TotalVolumeML, tt.wantTotal)
			}
		})
	}
}

func TestBatchTransitionTo(t *testing.T) {
	t.Parallel()

	b := &Batch{BatchCode: "B1", Status: BatchStatusCreated}

	from, err := b.TransitionTo(BatchStatusPasteurising)
	if err != nil {
		t.Fatalf("TransitionTo() unexpected error = %v", err)
	}
	if from != BatchStatusCreated || b.Status != BatchStatusPasteurising {
		t.Fatalf("from=%s status=%s", from, b.Status)
	}

	if _, err := b.TransitionTo(BatchStatusReleased); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("TransitionTo(Released) error = %v, want ErrInvalidTransition", err)
	}
	if b.Status != BatchStatusPasteurising {
		t.Fatalf("status changed on rejected transition: %s", b.Status)
	}

	if _, err := b.TransitionTo(BatchStatus("Shipped")); !errors.Is(err, ErrValidation) {
		t.Fatalf("TransitionTo(unknown) error = %v, want ErrValidation", err)
	}
}

func TestBatchMintBottles(t *testing.T) {
	t.Parallel()

	b, err := NewBatch(BatchPlan{
		BatchCode:   "B1",
		DonationIDs: []string{"d1", "d2"},
		BottleVolumes: []decimal.Decimal{
			decimal.RequireFromString("45.25"),
			decimal.RequireFromString("54.75"),
		},
	}, DefaultBottleVolumeML)
	if err != nil {
		t.Fatalf("NewBatch() unexpected error = %v", err)
	}
	b.ID = "batch-1"

	if _, err := b.MintBottles(time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MintBottles() before release error = %v, want ErrInvalidTransition", err)
	}

	b.Status = BatchStatusReleased
	bottles, err := b.MintBottles(time.Now())
	if err != nil {
		t.Fatalf("MintBottles() unexpected error = %v", err)
	}
	if len(bottles) != 2 {
		t.Fatalf("len(bottles) = %d, want 2", len(bottles))
	}

	sum := decimal.Zero
	for _, bt := range bottles {
		if bt.Status != BottleStatusAvailable {
			t.Fatalf("bottle status = %s, want Available", bt.Status)
		}
		if bt.BatchID != "batch-1" {
			t.Fatalf("bottle batch id = %q", bt.BatchID)
		}
		sum = sum.Add(bt.VolumeML)
	}
	if !sum.Equal(b.TotalVolumeML) {
		t.Fatalf("sum of bottle volumes = %s, want %s", sum, b.TotalVolumeML)
	}
	if bottles[0].Barcode != "B1-001" || bottles[1].Barcode != "B1-002" {
		t.Fatalf("barcodes = %q, %q", bottles[0].Barcode, bottles[1].Barcode)
	}
}
