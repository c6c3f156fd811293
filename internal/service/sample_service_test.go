package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

func TestResolveSampleKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		code     string
		explicit string
		want     domain.SampleKind
		wantErr  bool
	}{
		{name: "post prefix", code: "POST-1", want: domain.SampleKindPost},
		{name: "pre prefix lower case", code: "pre_7", want: domain.SampleKindPre},
		{name: "explicit wins over prefix", code: "POST-1", explicit: "pre-pasteurisation", want: domain.SampleKindPre},
		{name: "explicit without prefix", code: "S-9", explicit: "post", want: domain.SampleKindPost},
		{name: "no prefix no type", code: "S-9", wantErr: true},
		{name: "bad explicit", code: "POST-1", explicit: "during", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveSampleKind(tt.code, tt.explicit)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("resolveSampleKind() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveSampleKind() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("resolveSampleKind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreateSampleSlots(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBatch(t, "B-S", "d1")

	pre1, err := env.samples.CreateSample(ctx, b.ID, CreateSampleInput{SampleCode: "PRE-1", ActorID: "lab1"})
	if err != nil {
		t.Fatalf("CreateSample(PRE-1) error = %v", err)
	}
	if pre1.Kind != domain.SampleKindPre || pre1.Slot != 1 {
		t.Fatalf("PRE-1 = %s slot %d", pre1.Kind, pre1.Slot)
	}

	if _, err := env.samples.CreateSample(ctx, b.ID, CreateSampleInput{SampleCode: "PRE-1", Kind: "post", ActorID: "lab1"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate code error = %v, want ErrConflict", err)
	}

	pre2, err := env.samples.CreateSample(ctx, b.ID, CreateSampleInput{SampleCode: "PRE-2", ActorID: "lab1"})
	if err != nil {
		t.Fatalf("CreateSample(PRE-2) error = %v", err)
	}
	if pre2.Slot != 2 {
		t.Fatalf("PRE-2 slot = %d, want 2", pre2.Slot)
	}

	if _, err := env.samples.CreateSample(ctx, b.ID, CreateSampleInput{SampleCode: "PRE-3", ActorID: "lab1"}); !errors.Is(err, domain.ErrTooManySamples) {
		t.Fatalf("third pre sample error = %v, want ErrTooManySamples", err)
	}

	// Post slots are independent of pre slots.
	if _, err := env.samples.CreateSample(ctx, b.ID, CreateSampleInput{SampleCode: "POST-1", ActorID: "lab1"}); err != nil {
		t.Fatalf("CreateSample(POST-1) error = %v", err)
	}
	if got := env.batchStatus(t, b.ID); got != domain.BatchStatusCreated {
		t.Fatalf("post sample before pasteurisation moved batch to %s", got)
	}

	if _, err := env.samples.CreateSample(ctx, "missing", CreateSampleInput{SampleCode: "POST-1"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CreateSample(missing batch) error = %v, want ErrNotFound", err)
	}
}

func TestPreResultsDoNotGateRelease(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBatch(t, "B-PRE", "d1")

	pre, err := env.samples.CreateSample(ctx, b.ID, CreateSampleInput{SampleCode: "PRE-1", ActorID: "lab1"})
	if err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}
	out := env.postResult(t, pre.ID, true)
	if out.BatchStatus != domain.BatchStatusCreated {
		t.Fatalf("positive pre result moved batch to %s", out.BatchStatus)
	}

	env.pasteurise(t, b.ID)
	first, second := env.addPostSamples(t, b.ID)
	env.postResult(t, first.ID, false)
	if out := env.postResult(t, second.ID, false); out.BatchStatus != domain.BatchStatusReleased {
		t.Fatalf("status = %s, want Released", out.BatchStatus)
	}
}

func TestPostResultErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	bottles := env.releasedBottles(t, "B-DONE", "d1")
	batchID := bottles[0].BatchID
	samples, err := env.store.reads().Samples.ListByBatchID(ctx, batchID)
	if err != nil {
		t.Fatalf("ListByBatchID() error = %v", err)
	}
	post := domain.PairSamples(samples, domain.SampleKindPost)

	tests := []struct {
		name     string
		sampleID string
		in       PostResultInput
		want     error
	}{
		{name: "result after release", sampleID: post.First.ID, in: PostResultInput{TestType: "culture", ThresholdFlag: true, PostedBy: "lab1"}, want: domain.ErrInvalidTransition},
		{name: "missing test type", sampleID: post.First.ID, in: PostResultInput{PostedBy: "lab1"}, want: domain.ErrValidation},
		{name: "missing poster", sampleID: post.First.ID, in: PostResultInput{TestType: "culture"}, want: domain.ErrValidation},
		{name: "unknown sample", sampleID: "missing", in: PostResultInput{TestType: "culture", PostedBy: "lab1"}, want: domain.ErrNotFound},
	}

	for _, tt := range tests {
		if _, err := env.samples.PostResult(ctx, tt.sampleID, tt.in); !errors.Is(err, tt.want) {
			t.Fatalf("%s: PostResult() error = %v, want %v", tt.name, err, tt.want)
		}
	}

	if got := env.batchStatus(t, batchID); got != domain.BatchStatusReleased {
		t.Fatalf("status = %s, want Released", got)
	}
}

func TestSecondResultOnSameSampleKeepsHistory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	b := env.createBatch(t, "B-HIST", "d1")
	env.pasteurise(t, b.ID)
	first, second := env.addPostSamples(t, b.ID)

	env.postResult(t, first.ID, false)
	if out := env.postResult(t, first.ID, false); out.BatchStatus != domain.BatchStatusMicroTestPending {
		t.Fatalf("status = %s, want MicroTestPending", out.BatchStatus)
	}
	if out := env.postResult(t, second.ID, false); out.BatchStatus != domain.BatchStatusReleased {
		t.Fatalf("status = %s, want Released", out.BatchStatus)
	}

	sample, err := env.store.reads().Samples.GetByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(sample.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(sample.Results))
	}
}

func TestPostResultsWaitForPasteurisation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBatch(t, "B-EARLY", "d1")
	first, second := env.addPostSamples(t, b.ID)
	negative := PostResultInput{TestType: "culture", PostedBy: "lab1"}

	if _, err := env.samples.PostResult(ctx, first.ID, negative); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("post result in Created error = %v, want ErrInvalidTransition", err)
	}

	rec, err := env.pasteurisation.Start(ctx, b.ID, "op1", "dev1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := env.samples.PostResult(ctx, second.ID, negative); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("post result in Pasteurising error = %v, want ErrInvalidTransition", err)
	}

	env.clock.Advance(30 * time.Minute)
	if _, err := env.pasteurisation.Complete(ctx, b.ID, rec.ID, "op1", nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got := env.batchStatus(t, b.ID); got != domain.BatchStatusMicroTestPending {
		t.Fatalf("status after complete = %s, want MicroTestPending", got)
	}
	if _, err := env.batches.ProcessPostPasteurisation(ctx, b.ID, "lab1"); !errors.Is(err, domain.ErrIncompleteResults) {
		t.Fatalf("evaluation with only early results error = %v, want ErrIncompleteResults", err)
	}

	env.postResult(t, first.ID, false)
	if out := env.postResult(t, second.ID, false); out.BatchStatus != domain.BatchStatusReleased {
		t.Fatalf("status = %s, want Released", out.BatchStatus)
	}
}

func TestPreResultsAcceptedInAnyOpenState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	b := env.createBatch(t, "B-PRE-ANY", "d1")
	pre, err := env.samples.CreateSample(context.Background(), b.ID, CreateSampleInput{SampleCode: "PRE-1", ActorID: "lab1"})
	if err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}
	env.postResult(t, pre.ID, false)
	env.pasteurise(t, b.ID)
	if out := env.postResult(t, pre.ID, false); out.BatchStatus != domain.BatchStatusPasteurised {
		t.Fatalf("status = %s, want Pasteurised", out.BatchStatus)
	}
}
