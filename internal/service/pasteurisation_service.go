package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
)

type PasteurisationService struct {
	engine      *Engine
	minDuration time.Duration
}

func NewPasteurisationService(engine *Engine, minDuration time.Duration) (*PasteurisationService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if minDuration < 0 {
		minDuration = 0
	}

	return &PasteurisationService{engine: engine, minDuration: minDuration}, nil
}

type recordSnapshot struct {
	RecordID    string  `json:"recordId"`
	OperatorID  string  `json:"operatorId"`
	DeviceID    string  `json:"deviceId"`
	StartedAt   string  `json:"startedAt"`
	EndedAt     *string `json:"endedAt,omitempty"`
	CompletedBy *string `json:"completedBy,omitempty"`
}

func snapshotRecord(r *domain.PasteurisationRecord) recordSnapshot {
	snap := recordSnapshot{
		RecordID:    r.ID,
		OperatorID:  r.OperatorID,
		DeviceID:    r.DeviceID,
		StartedAt:   r.StartedAt.Format(time.RFC3339Nano),
		CompletedBy: r.CompletedBy,
	}
	if r.EndedAt != nil {
		ended := r.EndedAt.Format(time.RFC3339Nano)
		snap.EndedAt = &ended
	}
	return snap
}

// Start opens a pasteurisation run and moves the batch to Pasteurising. An
// already open run wins over the batch state check.
func (s *PasteurisationService) Start(ctx context.Context, batchID, operatorID, deviceID string) (*domain.PasteurisationRecord, error) {
	if _, err := domain.NewPasteurisationRecord(batchID, operatorID, deviceID, time.Time{}); err != nil {
		return nil, err
	}

	var record *domain.PasteurisationRecord
	err := s.engine.run(ctx, "batch", []string{lock.BatchKey(batchID)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Batches.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}

		open, err := u.repos.Pasteurisations.GetOpenByBatchID(ctx, batchID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: record %s is still open on batch %s", domain.ErrRecordAlreadyOpen, open.ID, b.BatchCode)
		case errors.Is(err, domain.ErrNotFound):
		default:
			return fmt.Errorf("failed to look up open record: %w", err)
		}

		if b.Status != domain.BatchStatusCreated {
			return fmt.Errorf("%w: batch %s is %s, pasteurisation starts from %s",
				domain.ErrInvalidTransition, b.BatchCode, b.Status, domain.BatchStatusCreated)
		}

		rec, err := domain.NewPasteurisationRecord(batchID, operatorID, deviceID, u.now)
		if err != nil {
			return err
		}
		rec.ID = u.newID()
		if err := u.repos.Pasteurisations.Create(ctx, rec); err != nil {
			return err
		}
		if err := u.audit(rec.OperatorID, domain.OpPasteurisationStart, domain.AggregateRecord, rec.ID,
			nil, snapshotRecord(rec), nil); err != nil {
			return err
		}
		if err := u.advanceBatch(ctx, b, domain.BatchStatusPasteurising, rec.OperatorID, domain.OpPasteurisationStart, nil); err != nil {
			return err
		}

		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CompleteResult is the closed run and the batch after any automatic moves.
type CompleteResult struct {
	Record *domain.PasteurisationRecord
	Batch  *domain.Batch
}

// Complete closes the open run identified by recordID and moves the batch to
// Pasteurised. A batch that already has a post-pasteurisation sample moves on
// to MicroTestPending in the same transaction.
func (s *PasteurisationService) Complete(
	ctx context.Context,
	batchID, recordID, operatorID string,
	notes *string,
) (*CompleteResult, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, fmt.Errorf("%w: record_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(operatorID) == "" {
		return nil, fmt.Errorf("%w: operator_id is required", domain.ErrValidation)
	}

	var result *CompleteResult
	err := s.engine.run(ctx, "batch", []string{lock.BatchKey(batchID)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Batches.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}

		rec, err := u.repos.Pasteurisations.GetOpenByBatchID(ctx, batchID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: batch %s has no open run", domain.ErrNoOpenRecord, b.BatchCode)
		}
		if err != nil {
			return fmt.Errorf("failed to look up open record: %w", err)
		}
		if rec.ID != recordID {
			return fmt.Errorf("%w: record %s is not the open run of batch %s", domain.ErrNoOpenRecord, recordID, b.BatchCode)
		}

		if b.Status != domain.BatchStatusPasteurising {
			return fmt.Errorf("%w: batch %s is %s, completion needs %s",
				domain.ErrInvalidTransition, b.BatchCode, b.Status, domain.BatchStatusPasteurising)
		}

		before := snapshotRecord(rec)
		if err := rec.Complete(operatorID, notes, u.now, s.minDuration); err != nil {
			return err
		}
		if err := u.repos.Pasteurisations.Complete(ctx, rec); err != nil {
			return err
		}
		actor := *rec.CompletedBy
		if err := u.audit(actor, domain.OpPasteurisationFinish, domain.AggregateRecord, rec.ID,
			before, snapshotRecord(rec), nil); err != nil {
			return err
		}
		if err := u.advanceBatch(ctx, b, domain.BatchStatusPasteurised, actor, domain.OpPasteurisationFinish, nil); err != nil {
			return err
		}

		samples, err := u.repos.Samples.ListByBatchID(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to load samples: %w", err)
		}
		if domain.PairSamples(samples, domain.SampleKindPost).Count() > 0 {
			if err := u.advanceBatch(ctx, b, domain.BatchStatusMicroTestPending, domain.SystemActor, domain.OpBatchAdvance, nil); err != nil {
				return err
			}
		}

		result = &CompleteResult{Record: rec, Batch: b}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
