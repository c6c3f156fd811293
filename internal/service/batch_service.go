package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"github.com/shopspring/decimal"
)

type BatchService struct {
	engine        *Engine
	defaultVolume decimal.Decimal
}

// BatchDetail is a batch with its pasteurisation runs and samples.
type BatchDetail struct {
	Batch   *domain.Batch
	Records []domain.PasteurisationRecord
	Samples []domain.Sample
}

func NewBatchService(engine *Engine, defaultVolume decimal.Decimal) (*BatchService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if !defaultVolume.IsPositive() {
		defaultVolume = domain.DefaultBottleVolumeML
	}

	return &BatchService{engine: engine, defaultVolume: defaultVolume}, nil
}

func (s *BatchService) Create(ctx context.Context, plan domain.BatchPlan, actorID string) (*domain.Batch, error) {
	batch, err := domain.NewBatch(plan, s.defaultVolume)
	if err != nil {
		return nil, err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = domain.SystemActor
	}

	err = s.engine.run(ctx, "batch", nil, func(ctx context.Context, u *unitOfWork) error {
		batch.ID = u.newID()
		batch.Version = 1
		batch.CreatedAt = u.now
		batch.UpdatedAt = u.now
		if err := u.repos.Batches.Create(ctx, batch); err != nil {
			return err
		}

		after := statusSnapshot{Status: batch.Status.String()}
		if err := u.audit(actorID, domain.OpBatchCreate, domain.AggregateBatch, batch.ID, nil, after, nil); err != nil {
			return err
		}
		change := u.statusChange(batch.ID, batch.BatchCode, "", batch.Status.String(), actorID)
		if err := u.emit(domain.EventBatchStatusChanged, domain.AggregateBatch, batch.ID, domain.PriorityLow, change); err != nil {
			return err
		}
		u.transitioned("batch", batch.ID, "", batch.Status.String(), actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *BatchService) Get(ctx context.Context, id string) (*BatchDetail, error) {
	batch, err := s.engine.reads.Batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.engine.reads.Pasteurisations.ListByBatchID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pasteurisation records: %w", err)
	}
	samples, err := s.engine.reads.Samples.ListByBatchID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}

	return &BatchDetail{Batch: batch, Records: records, Samples: samples}, nil
}

func (s *BatchService) List(ctx context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error) {
	return s.engine.reads.Batches.List(ctx, params)
}

func (s *BatchService) ListBottles(ctx context.Context, batchID string) ([]domain.Bottle, error) {
	if _, err := s.engine.reads.Batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return s.engine.reads.Bottles.ListByBatchID(ctx, batchID)
}

// Quarantine is the manual override available from every pre-release state.
// It is terminal.
func (s *BatchService) Quarantine(ctx context.Context, id, userID, reason string) (*domain.Batch, error) {
	userID = strings.TrimSpace(userID)
	reason = strings.TrimSpace(reason)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", domain.ErrValidation)
	}

	var batch *domain.Batch
	err := s.engine.run(ctx, "batch", []string{lock.BatchKey(id)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Batches.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := u.advanceBatch(ctx, b, domain.BatchStatusQuarantined, userID, domain.OpBatchQuarantine, &reason); err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// ProcessPostPasteurisation evaluates the release rule on demand. The batch
// must be waiting on microbiology.
func (s *BatchService) ProcessPostPasteurisation(ctx context.Context, id, actorID string) (*domain.Batch, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = domain.SystemActor
	}

	var batch *domain.Batch
	err := s.engine.run(ctx, "batch", []string{lock.BatchKey(id)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Batches.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != domain.BatchStatusMicroTestPending {
			return fmt.Errorf("%w: batch %s is %s, evaluation needs %s",
				domain.ErrInvalidTransition, b.BatchCode, b.Status, domain.BatchStatusMicroTestPending)
		}
		if err := u.evaluateBatch(ctx, b, actorID); err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}
