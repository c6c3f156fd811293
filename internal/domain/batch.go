package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusCreated          BatchStatus = "Created"
	BatchStatusPasteurising     BatchStatus = "Pasteurising"
	BatchStatusPasteurised      BatchStatus = "Pasteurised"
	BatchStatusMicroTestPending BatchStatus = "MicroTestPending"
	BatchStatusReleased         BatchStatus = "Released"
	BatchStatusTestingFailed    BatchStatus = "TestingFailed"
	BatchStatusQuarantined      BatchStatus = "Quarantined"
)

var batchStatuses = []BatchStatus{
	BatchStatusCreated,
	BatchStatusPasteurising,
	BatchStatusPasteurised,
	BatchStatusMicroTestPending,
	BatchStatusReleased,
	BatchStatusTestingFailed,
	BatchStatusQuarantined,
}

// DefaultBottleVolumeML is used for every planned bottle when the batch does
// not carry explicit volumes.
var DefaultBottleVolumeML = decimal.NewFromInt(50)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusPasteurising, BatchStatusPasteurised, BatchStatusMicroTestPending,
		BatchStatusReleased, BatchStatusTestingFailed, BatchStatusQuarantined:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusReleased, BatchStatusTestingFailed, BatchStatusQuarantined:
		return true
	case BatchStatusCreated, BatchStatusPasteurising, BatchStatusPasteurised, BatchStatusMicroTestPending:
		return false
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchStatusCreated:
		return next == BatchStatusPasteurising || next == BatchStatusQuarantined
	case BatchStatusPasteurising:
		return next == BatchStatusPasteurised || next == BatchStatusQuarantined
	case BatchStatusPasteurised:
		return next == BatchStatusMicroTestPending || next == BatchStatusQuarantined
	case BatchStatusMicroTestPending:
		return next == BatchStatusReleased || next == BatchStatusTestingFailed || next == BatchStatusQuarantined
	case BatchStatusReleased, BatchStatusTestingFailed, BatchStatusQuarantined:
		return false
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range batchStatuses {
		if strings.EqualFold(trimmed, st.String()) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
}

// Batch is a pooled unit of donated milk moving through pasteurisation and
// testing. DonationIDs and the bottle plan are fixed at creation.
type Batch struct {
	ID            string
	BatchCode     string
	Status        BatchStatus
	DonationIDs   []string
	BatchDate     *time.Time
	BottleVolumes []decimal.Decimal
	TotalVolumeML decimal.Decimal
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NumberOfBottles is the count minted on release.
func (b *Batch) NumberOfBottles() int {
	return len(b.BottleVolumes)
}

// BatchPlan carries the caller-supplied creation parameters.
type BatchPlan struct {
	BatchCode       string
	DonationIDs     []string
	BatchDate       *time.Time
	NumberOfBottles *int
	BottleVolumes   []decimal.Decimal
}

// NewBatch validates a plan and returns a batch in Created with its bottle
// volumes resolved. A nil bottle count defaults to one bottle per donation.
func NewBatch(plan BatchPlan, defaultVolume decimal.Decimal) (*Batch, error) {
	code := strings.TrimSpace(plan.BatchCode)
	if code == "" {
		return nil, fmt.Errorf("%w: batch_code is required", ErrValidation)
	}
	if len(plan.DonationIDs) == 0 {
		return nil, fmt.Errorf("%w: donation_ids is required", ErrValidation)
	}

	seen := make(map[string]struct{}, len(plan.DonationIDs))
	donations := make([]string, 0, len(plan.DonationIDs))
	for _, id := range plan.DonationIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: donation_ids must not contain blank ids", ErrValidation)
		}
		if _, dup := seen[trimmed]; dup {
			return nil, fmt.Errorf("%w: duplicate donation id %q", ErrValidation, trimmed)
		}
		seen[trimmed] = struct{}{}
		donations = append(donations, trimmed)
	}

	if !defaultVolume.IsPositive() {
		defaultVolume = DefaultBottleVolumeML
	}

	count := len(donations)
	if len(plan.BottleVolumes) > 0 {
		count = len(plan.BottleVolumes)
	}
	if plan.NumberOfBottles != nil {
		if *plan.NumberOfBottles < 1 {
			return nil, fmt.Errorf("%w: number_of_bottles must be >= 1", ErrValidation)
		}
		if len(plan.BottleVolumes) > 0 && len(plan.BottleVolumes) != *plan.NumberOfBottles {
			return nil, fmt.Errorf("%w: bottle_volumes has %d entries, number_of_bottles is %d",
				ErrValidation, len(plan.BottleVolumes), *plan.NumberOfBottles)
		}
		count = *plan.NumberOfBottles
	}

	volumes := make([]decimal.Decimal, count)
	total := decimal.Zero
	for i := range volumes {
		v := defaultVolume
		if len(plan.BottleVolumes) > 0 {
			v = plan.BottleVolumes[i]
			if !v.IsPositive() {
				return nil, fmt.Errorf("%w: bottle_volumes[%d] must be > 0", ErrValidation, i)
			}
		}
		volumes[i] = v.Round(2)
		total = total.Add(volumes[i])
	}

	return &Batch{
		BatchCode:     code,
		Status:        BatchStatusCreated,
		DonationIDs:   donations,
		BatchDate:     plan.BatchDate,
		BottleVolumes: volumes,
		TotalVolumeML: total,
	}, nil
}

// TransitionTo moves the batch along the lifecycle graph and returns the
// previous status.
func (b *Batch) TransitionTo(next BatchStatus) (BatchStatus, error) {
	from := b.Status
	if !next.IsValid() {
		return from, fmt.Errorf("%w: unknown batch status %q", ErrValidation, next)
	}
	if !from.CanTransitionTo(next) {
		return from, fmt.Errorf("%w: batch %s cannot move from %s to %s", ErrInvalidTransition, b.BatchCode, from, next)
	}
	b.Status = next
	return from, nil
}

// MintBottles derives the bottles of a released batch from its plan. Barcodes
// are the batch code followed by a three digit sequence.
func (b *Batch) MintBottles(now time.Time) ([]Bottle, error) {
	if b.Status != BatchStatusReleased {
		return nil, fmt.Errorf("%w: bottles are minted only for released batches (batch %s is %s)",
			ErrInvalidTransition, b.BatchCode, b.Status)
	}

	bottles := make([]Bottle, 0, len(b.BottleVolumes))
	for i, volume := range b.BottleVolumes {
		bottles = append(bottles, Bottle{
			Barcode:   fmt.Sprintf("%s-%03d", b.BatchCode, i+1),
			BatchID:   b.ID,
			VolumeML:  volume,
			Status:    BottleStatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return bottles, nil
}
