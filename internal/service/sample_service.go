package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
)

type SampleService struct {
	engine *Engine
}

func NewSampleService(engine *Engine) (*SampleService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	return &SampleService{engine: engine}, nil
}

// CreateSampleInput registers a sample. Kind may be blank when the code
// carries a PRE-/POST- prefix.
type CreateSampleInput struct {
	SampleCode string
	Kind       string
	ActorID    string
}

type sampleSnapshot struct {
	SampleCode string `json:"sampleCode"`
	Kind       string `json:"kind"`
	Slot       int    `json:"slot"`
}

func resolveSampleKind(code, kind string) (domain.SampleKind, error) {
	if strings.TrimSpace(kind) != "" {
		return domain.ParseSampleKindFromString(kind)
	}
	if inferred, ok := domain.InferSampleKind(code); ok {
		return inferred, nil
	}
	return "", fmt.Errorf("%w: sample_type is required when sample_code has no PRE-/POST- prefix", domain.ErrValidation)
}

// CreateSample takes the next free slot of its kind. The first post sample
// of a Pasteurised batch moves it to MicroTestPending.
func (s *SampleService) CreateSample(ctx context.Context, batchID string, in CreateSampleInput) (*domain.Sample, error) {
	code := strings.TrimSpace(in.SampleCode)
	if code == "" {
		return nil, fmt.Errorf("%w: sample_code is required", domain.ErrValidation)
	}
	kind, err := resolveSampleKind(code, in.Kind)
	if err != nil {
		return nil, err
	}
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		actor = domain.SystemActor
	}

	var sample *domain.Sample
	err = s.engine.run(ctx, "sample", []string{lock.BatchKey(batchID)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Batches.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}

		existing, err := u.repos.Samples.ListByBatchID(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to load samples: %w", err)
		}
		slot, err := domain.PairSamples(existing, kind).NextSlot()
		if err != nil {
			return err
		}

		created := &domain.Sample{
			ID:         u.newID(),
			BatchID:    batchID,
			SampleCode: code,
			Kind:       kind,
			Slot:       slot,
			CreatedAt:  u.now,
		}
		if err := u.repos.Samples.Create(ctx, created); err != nil {
			return err
		}
		after := sampleSnapshot{SampleCode: created.SampleCode, Kind: created.Kind.String(), Slot: created.Slot}
		if err := u.audit(actor, domain.OpSampleCreate, domain.AggregateSample, created.ID, nil, after, nil); err != nil {
			return err
		}

		if kind == domain.SampleKindPost && b.Status == domain.BatchStatusPasteurised {
			if err := u.advanceBatch(ctx, b, domain.BatchStatusMicroTestPending, actor, domain.OpBatchAdvance, nil); err != nil {
				return err
			}
		}

		sample = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sample, nil
}

// PostResultInput is an immutable microbiology result.
type PostResultInput struct {
	TestType      string
	Organism      *string
	ThresholdFlag bool
	Notes         *string
	PostedBy      string
}

// PostResultOutcome reports the stored result and where the batch ended up.
type PostResultOutcome struct {
	Result      *domain.SampleResult
	BatchStatus domain.BatchStatus
}

type resultSnapshot struct {
	TestType      string  `json:"testType"`
	Organism      *string `json:"organism,omitempty"`
	ThresholdFlag bool    `json:"thresholdFlag"`
}

// PostResult appends a result. Post-pasteurisation results are only taken
// while the batch is MicroTestPending, so every culture counted by the
// release rule was drawn after heat treatment. Completing the pair evaluates
// the rule in the same transaction.
func (s *SampleService) PostResult(ctx context.Context, sampleID string, in PostResultInput) (*PostResultOutcome, error) {
	result := &domain.SampleResult{
		SampleID:      strings.TrimSpace(sampleID),
		TestType:      strings.TrimSpace(in.TestType),
		Organism:      optionalString(in.Organism),
		ThresholdFlag: in.ThresholdFlag,
		Notes:         optionalString(in.Notes),
		PostedBy:      strings.TrimSpace(in.PostedBy),
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	sample, err := s.engine.reads.Samples.GetByID(ctx, result.SampleID)
	if err != nil {
		return nil, err
	}

	var outcome *PostResultOutcome
	err = s.engine.run(ctx, "sample", []string{lock.BatchKey(sample.BatchID)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Batches.GetForUpdate(ctx, sample.BatchID)
		if err != nil {
			return err
		}
		if sample.Kind == domain.SampleKindPost && b.Status != domain.BatchStatusMicroTestPending {
			return fmt.Errorf("%w: batch %s is %s, post-pasteurisation results need %s",
				domain.ErrInvalidTransition, b.BatchCode, b.Status, domain.BatchStatusMicroTestPending)
		}

		result.ID = u.newID()
		result.PostedAt = u.now
		if err := u.repos.Samples.AddResult(ctx, result); err != nil {
			return err
		}
		after := resultSnapshot{TestType: result.TestType, Organism: result.Organism, ThresholdFlag: result.ThresholdFlag}
		if err := u.audit(result.PostedBy, domain.OpResultPost, domain.AggregateSample, sample.ID, nil, after, nil); err != nil {
			return err
		}

		if sample.Kind == domain.SampleKindPost {
			samples, err := u.repos.Samples.ListByBatchID(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("failed to load samples: %w", err)
			}
			if domain.PairSamples(samples, domain.SampleKindPost).Complete() {
				if err := u.evaluateBatch(ctx, b, result.PostedBy); err != nil {
					return err
				}
			}
		}

		outcome = &PostResultOutcome{Result: result, BatchStatus: b.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
