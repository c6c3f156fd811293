package domain

import (
	"fmt"
	"strings"
	"time"
)

// SampleKind tags a microbiology sample as drawn before or after pasteurisation.
type SampleKind string

const (
	SampleKindPre  SampleKind = "PRE"
	SampleKindPost SampleKind = "POST"
)

// SamplesPerKind is the fixed number of slots per kind and batch.
const SamplesPerKind = 2

func (k SampleKind) String() string { return string(k) }

func (k SampleKind) IsValid() bool {
	switch k {
	case SampleKindPre, SampleKindPost:
		return true
	}
	return false
}

// ParseSampleKindFromString accepts "pre", "post" and the long
// "pre-pasteurisation" / "post-pasteurisation" forms.
func ParseSampleKindFromString(s string) (SampleKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.TrimSuffix(normalized, "-PASTEURISATION")
	normalized = strings.TrimSuffix(normalized, "_PASTEURISATION")
	kind := SampleKind(normalized)
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: invalid sample type %q", ErrValidation, s)
	}
	return kind, nil
}

// InferSampleKind reads the kind from PRE-/POST- sample code prefixes.
func InferSampleKind(sampleCode string) (SampleKind, bool) {
	code := strings.ToUpper(strings.TrimSpace(sampleCode))
	switch {
	case strings.HasPrefix(code, "POST-"), strings.HasPrefix(code, "POST_"):
		return SampleKindPost, true
	case strings.HasPrefix(code, "PRE-"), strings.HasPrefix(code, "PRE_"):
		return SampleKindPre, true
	}
	return "", false
}

// Sample is a microbiology specimen occupying one of the two slots of its kind.
type Sample struct {
	ID         string
	BatchID    string
	SampleCode string
	Kind       SampleKind
	Slot       int
	Results    []SampleResult
	CreatedAt  time.Time
}

// HasResult reports whether at least one result was posted.
func (s *Sample) HasResult() bool {
	return s != nil && len(s.Results) > 0
}

// IsPositive reports whether any posted result breached the threshold.
func (s *Sample) IsPositive() bool {
	if s == nil {
		return false
	}
	for _, r := range s.Results {
		if r.ThresholdFlag {
			return true
		}
	}
	return false
}

// SampleResult is an immutable microbiology result.
type SampleResult struct {
	ID            string
	SampleID      string
	TestType      string
	Organism      *string
	ThresholdFlag bool
	Notes         *string
	PostedBy      string
	PostedAt      time.Time
}

func (r *SampleResult) Validate() error {
	if strings.TrimSpace(r.SampleID) == "" {
		return fmt.Errorf("%w: sample id is required", ErrValidation)
	}
	if strings.TrimSpace(r.TestType) == "" {
		return fmt.Errorf("%w: test_type is required", ErrValidation)
	}
	if strings.TrimSpace(r.PostedBy) == "" {
		return fmt.Errorf("%w: posted_by is required", ErrValidation)
	}
	return nil
}

// SamplePair holds the two slots of one kind for a batch.
type SamplePair struct {
	Kind   SampleKind
	First  *Sample
	Second *Sample
}

// PairSamples arranges the samples of kind into their slots.
func PairSamples(samples []Sample, kind SampleKind) SamplePair {
	pair := SamplePair{Kind: kind}
	for i := range samples {
		s := &samples[i]
		if s.Kind != kind {
			continue
		}
		switch s.Slot {
		case 1:
			pair.First = s
		case 2:
			pair.Second = s
		}
	}
	return pair
}

func (p SamplePair) Count() int {
	n := 0
	if p.First != nil {
		n++
	}
	if p.Second != nil {
		n++
	}
	return n
}

// NextSlot returns the first free slot.
func (p SamplePair) NextSlot() (int, error) {
	switch {
	case p.First == nil:
		return 1, nil
	case p.Second == nil:
		return 2, nil
	}
	return 0, fmt.Errorf("%w: batch already has %d %s samples", ErrTooManySamples, SamplesPerKind, strings.ToLower(p.Kind.String()))
}

// Complete reports whether both slots carry at least one result.
func (p SamplePair) Complete() bool {
	return p.First.HasResult() && p.Second.HasResult()
}

// EvaluatePostPasteurisation applies the release rule to the post pair: both
// slots need results; any positive slot fails the batch.
func EvaluatePostPasteurisation(post SamplePair) (BatchStatus, error) {
	if post.Kind != SampleKindPost {
		return "", fmt.Errorf("%w: release rule needs post-pasteurisation samples", ErrValidation)
	}

	results := 0
	if post.First.HasResult() {
		results++
	}
	if post.Second.HasResult() {
		results++
	}
	if results < SamplesPerKind {
		return "", fmt.Errorf("%w: %d of %d post-pasteurisation samples have results",
			ErrIncompleteResults, results, SamplesPerKind)
	}

	if post.First.IsPositive() || post.Second.IsPositive() {
		return BatchStatusTestingFailed, nil
	}
	return BatchStatusReleased, nil
}
