package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BottleStatus represents the lifecycle state of a bottle.
type BottleStatus string

const (
	BottleStatusAvailable    BottleStatus = "Available"
	BottleStatusAllocated    BottleStatus = "Allocated"
	BottleStatusDefrosting   BottleStatus = "Defrosting"
	BottleStatusAdministered BottleStatus = "Administered"
	BottleStatusDiscarded    BottleStatus = "Discarded"
)

var bottleStatuses = []BottleStatus{
	BottleStatusAvailable,
	BottleStatusAllocated,
	BottleStatusDefrosting,
	BottleStatusAdministered,
	BottleStatusDiscarded,
}

// DefaultDefrostWindow bounds the time between defrost start and administration.
const DefaultDefrostWindow = 24 * time.Hour

func (s BottleStatus) String() string { return string(s) }

func (s BottleStatus) IsValid() bool {
	switch s {
	case BottleStatusAvailable, BottleStatusAllocated, BottleStatusDefrosting,
		BottleStatusAdministered, BottleStatusDiscarded:
		return true
	}
	return false
}

func (s BottleStatus) IsTerminal() bool {
	switch s {
	case BottleStatusAdministered, BottleStatusDiscarded:
		return true
	case BottleStatusAvailable, BottleStatusAllocated, BottleStatusDefrosting:
		return false
	}
	return false
}

func (s BottleStatus) CanTransitionTo(next BottleStatus) bool {
	switch s {
	case BottleStatusAvailable:
		return next == BottleStatusAllocated || next == BottleStatusDiscarded
	case BottleStatusAllocated:
		return next == BottleStatusDefrosting
	case BottleStatusDefrosting:
		return next == BottleStatusAdministered
	case BottleStatusAdministered, BottleStatusDiscarded:
		return false
	}
	return false
}

func ParseBottleStatusFromString(s string) (BottleStatus, error) {
	trimmed := strings.TrimSpace(s)
	for _, st := range bottleStatuses {
		if strings.EqualFold(trimmed, st.String()) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: invalid bottle status %q", ErrValidation, s)
}

// Bottle is an individually tracked dispensing unit minted from a released batch.
type Bottle struct {
	ID               string
	Barcode          string
	BatchID          string
	VolumeML         decimal.Decimal
	Status           BottleStatus
	PatientID        *string
	AllocatedBy      *string
	AllocatedAt      *time.Time
	DefrostStartedAt *time.Time
	AdministeredBy   *string
	WitnessedBy      *string
	AdministeredAt   *time.Time
	DiscardReason    *string
	DiscardedBy      *string
	DiscardedAt      *time.Time
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (b *Bottle) transition(next BottleStatus) error {
	if !b.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: bottle %s is %s, cannot move to %s", ErrInvalidBottleState, b.Barcode, b.Status, next)
	}
	b.Status = next
	return nil
}

func (b *Bottle) Allocate(patientID, allocatedBy string, now time.Time) error {
	patientID = strings.TrimSpace(patientID)
	allocatedBy = strings.TrimSpace(allocatedBy)
	if patientID == "" {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if allocatedBy == "" {
		return fmt.Errorf("%w: allocated_by is required", ErrValidation)
	}
	if err := b.transition(BottleStatusAllocated); err != nil {
		return err
	}

	at := now
	b.PatientID = &patientID
	b.AllocatedBy = &allocatedBy
	b.AllocatedAt = &at
	return nil
}

func (b *Bottle) StartDefrost(now time.Time) error {
	if err := b.transition(BottleStatusDefrosting); err != nil {
		return err
	}
	at := now
	b.DefrostStartedAt = &at
	return nil
}

// Administer is terminal. witnessedBy is optional but must name a second
// person when present.
func (b *Bottle) Administer(administeredBy string, witnessedBy *string, now time.Time, window time.Duration) error {
	administeredBy = strings.TrimSpace(administeredBy)
	if administeredBy == "" {
		return fmt.Errorf("%w: administered_by is required", ErrValidation)
	}

	var witness *string
	if witnessedBy != nil {
		if trimmed := strings.TrimSpace(*witnessedBy); trimmed != "" {
			if strings.EqualFold(trimmed, administeredBy) {
				return fmt.Errorf("%w: witnessed_by must differ from administered_by", ErrValidation)
			}
			witness = &trimmed
		}
	}

	if b.Status != BottleStatusDefrosting {
		return fmt.Errorf("%w: bottle %s is %s, cannot move to %s",
			ErrInvalidBottleState, b.Barcode, b.Status, BottleStatusAdministered)
	}
	if window > 0 && b.DefrostStartedAt != nil && now.Sub(*b.DefrostStartedAt) > window {
		return fmt.Errorf("%w: bottle %s defrosting since %s (window %s)",
			ErrDefrostWindowExceeded, b.Barcode, b.DefrostStartedAt.UTC().Format(time.RFC3339), window)
	}
	if err := b.transition(BottleStatusAdministered); err != nil {
		return err
	}

	at := now
	b.AdministeredBy = &administeredBy
	b.WitnessedBy = witness
	b.AdministeredAt = &at
	return nil
}

func (b *Bottle) Discard(reason, discardedBy string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if err := b.transition(BottleStatusDiscarded); err != nil {
		return err
	}

	at := now
	b.DiscardReason = &reason
	if by := strings.TrimSpace(discardedBy); by != "" {
		b.DiscardedBy = &by
	}
	b.DiscardedAt = &at
	return nil
}
