package domain

import (
	"fmt"
	"strings"
	"time"
)

// PasteurisationRecord is a single heat-treatment run applied to a batch.
type PasteurisationRecord struct {
	ID          string
	BatchID     string
	OperatorID  string
	DeviceID    string
	StartedAt   time.Time
	EndedAt     *time.Time
	CompletedBy *string
	ResultNotes *string
}

func (r *PasteurisationRecord) IsOpen() bool {
	return r != nil && r.EndedAt == nil
}

// NewPasteurisationRecord opens a run for batchID. Operator and device are
// mandatory.
func NewPasteurisationRecord(batchID, operatorID, deviceID string, now time.Time) (*PasteurisationRecord, error) {
	operatorID = strings.TrimSpace(operatorID)
	deviceID = strings.TrimSpace(deviceID)
	if operatorID == "" {
		return nil, fmt.Errorf("%w: operator_id is required", ErrValidation)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrValidation)
	}

	return &PasteurisationRecord{
		BatchID:    batchID,
		OperatorID: operatorID,
		DeviceID:   deviceID,
		StartedAt:  now,
	}, nil
}

// Complete closes the run. A positive minDuration rejects runs that end too
// early.
func (r *PasteurisationRecord) Complete(operatorID string, notes *string, now time.Time, minDuration time.Duration) error {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return fmt.Errorf("%w: operator_id is required", ErrValidation)
	}
	if !r.IsOpen() {
		return fmt.Errorf("%w: record %s is already completed", ErrNoOpenRecord, r.ID)
	}
	if now.Before(r.StartedAt) {
		return fmt.Errorf("%w: completion time precedes start time", ErrValidation)
	}
	if minDuration > 0 && now.Sub(r.StartedAt) < minDuration {
		return fmt.Errorf("%w: pasteurisation ran %s, minimum is %s",
			ErrValidation, now.Sub(r.StartedAt).Round(time.Second), minDuration)
	}

	end := now
	r.EndedAt = &end
	r.CompletedBy = &operatorID
	if notes != nil {
		if trimmed := strings.TrimSpace(*notes); trimmed != "" {
			r.ResultNotes = &trimmed
		}
	}
	return nil
}
