package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
	"github.com/kursadbilgin/milkbank/internal/observability"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"go.uber.org/zap"
)

const defaultMaxDeliveryAttempts = 5

// Engine runs every mutating operation as lock -> transaction -> commit ->
// unlock. Audit rows and outbox events collected by the operation are written
// in the same transaction as the state change they describe.
type Engine struct {
	tx          repository.Transactor
	reads       repository.Repositories
	locker      lock.Locker
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

func NewEngine(
	tx repository.Transactor,
	reads repository.Repositories,
	locker lock.Locker,
	maxAttempts int,
	logger *zap.Logger,
) (*Engine, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		tx:          tx,
		reads:       reads,
		locker:      locker,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

type transition struct {
	entity string
	id     string
	from   string
	to     string
	actor  string
}

// unitOfWork is handed to an operation running inside Engine.run.
type unitOfWork struct {
	engine      *Engine
	repos       repository.Repositories
	now         time.Time
	audits      []*domain.AuditEvent
	events      []*domain.Event
	transitions []transition
}

func (e *Engine) run(
	ctx context.Context,
	entity string,
	keys []string,
	fn func(ctx context.Context, u *unitOfWork) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	unlock, err := lock.LockAll(ctx, e.locker, keys...)
	if err != nil {
		e.reject(entity, err)
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to release lock", zap.Strings("keys", keys), zap.Error(err))
		}
	}()

	var committed []transition
	err = e.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		u := &unitOfWork{engine: e, repos: repos, now: e.now()}
		if err := fn(ctx, u); err != nil {
			return err
		}
		if err := u.flush(ctx); err != nil {
			return err
		}
		committed = u.transitions
		return nil
	})
	if err != nil {
		e.reject(entity, err)
		return err
	}

	logger := observability.WithContextLogger(e.logger, ctx)
	for _, t := range committed {
		logger.Info("transition committed", observability.TransitionFields(t.entity, t.id, t.from, t.to, t.actor)...)
		e.metrics.IncTransition(t.entity, t.from, t.to)
	}
	return nil
}

func (e *Engine) reject(entity string, err error) {
	reason := rejectionReason(err)
	e.metrics.IncTransitionRejected(entity, reason)
	if reason == "internal" {
		e.logger.Error("operation failed", zap.String("entity", entity), zap.Error(err))
	}
}

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{domain.ErrValidation, "validation"},
	{domain.ErrNotFound, "not_found"},
	{domain.ErrInvalidTransition, "invalid_transition"},
	{domain.ErrInvalidBottleState, "invalid_bottle_state"},
	{domain.ErrNoOpenRecord, "no_open_record"},
	{domain.ErrRecordAlreadyOpen, "record_already_open"},
	{domain.ErrIncompleteResults, "incomplete_results"},
	{domain.ErrIncompleteScanOut, "incomplete_scan_out"},
	{domain.ErrUnknownBarcode, "unknown_barcode"},
	{domain.ErrDuplicateScan, "duplicate_scan"},
	{domain.ErrTooManySamples, "too_many_samples"},
	{domain.ErrConcurrencyConflict, "concurrency_conflict"},
	{domain.ErrDefrostWindowExceeded, "defrost_window_exceeded"},
	{domain.ErrConflict, "conflict"},
	{domain.ErrRetryable, "retryable"},
}

func rejectionReason(err error) string {
	for _, r := range rejectionReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

func (u *unitOfWork) newID() string { return u.engine.newID() }

func (u *unitOfWork) audit(
	actor, op string,
	entity domain.AggregateType,
	id string,
	before, after any,
	reason *string,
) error {
	beforeRaw, err := snapshot(before)
	if err != nil {
		return err
	}
	afterRaw, err := snapshot(after)
	if err != nil {
		return err
	}

	u.audits = append(u.audits, &domain.AuditEvent{
		ID:         u.newID(),
		UserID:     actor,
		Operation:  op,
		EntityType: entity,
		EntityID:   id,
		Before:     beforeRaw,
		After:      afterRaw,
		Reason:     reason,
		CreatedAt:  u.now,
	})
	return nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return raw, nil
}

func (u *unitOfWork) emit(
	eventType domain.EventType,
	aggregate domain.AggregateType,
	id string,
	priority domain.Priority,
	payload any,
) error {
	event, err := domain.NewEvent(eventType, aggregate, id, priority, payload)
	if err != nil {
		return err
	}
	event.ID = u.newID()
	event.MaxAttempts = u.engine.maxAttempts
	event.CreatedAt = u.now
	event.UpdatedAt = u.now
	u.events = append(u.events, event)
	return nil
}

func (u *unitOfWork) statusChange(id, code, from, to, actor string) domain.StatusChange {
	return domain.StatusChange{
		ID:      id,
		Code:    code,
		From:    from,
		To:      to,
		ActorID: actor,
		At:      u.now.Format(time.RFC3339Nano),
	}
}

func (u *unitOfWork) transitioned(entity, id, from, to, actor string) {
	u.transitions = append(u.transitions, transition{entity: entity, id: id, from: from, to: to, actor: actor})
}

func (u *unitOfWork) flush(ctx context.Context) error {
	for _, a := range u.audits {
		if err := u.repos.Audit.Create(ctx, a); err != nil {
			return fmt.Errorf("failed to write audit event: %w", err)
		}
	}
	if len(u.events) > 0 {
		if err := u.repos.Events.CreateBatch(ctx, u.events); err != nil {
			return fmt.Errorf("failed to enqueue lifecycle events: %w", err)
		}
	}
	return nil
}

type statusSnapshot struct {
	Status string `json:"status"`
}

// advanceBatch moves b to next, persists the move as a version
// compare-and-swap, and records the audit row and outbox event. Moving to
// Released mints the batch's bottles in the same transaction.
func (u *unitOfWork) advanceBatch(
	ctx context.Context,
	b *domain.Batch,
	next domain.BatchStatus,
	actor, op string,
	reason *string,
) error {
	expected := b.Version
	from, err := b.TransitionTo(next)
	if err != nil {
		return err
	}
	if err := u.repos.Batches.UpdateStatus(ctx, b.ID, expected, next); err != nil {
		return err
	}
	b.Version = expected + 1
	b.UpdatedAt = u.now

	if err := u.audit(actor, op, domain.AggregateBatch, b.ID,
		statusSnapshot{Status: from.String()}, statusSnapshot{Status: next.String()}, reason); err != nil {
		return err
	}

	priority := domain.PriorityNormal
	if next == domain.BatchStatusTestingFailed || next == domain.BatchStatusQuarantined {
		priority = domain.PriorityHigh
	}
	change := u.statusChange(b.ID, b.BatchCode, from.String(), next.String(), actor)
	if err := u.emit(domain.EventBatchStatusChanged, domain.AggregateBatch, b.ID, priority, change); err != nil {
		return err
	}
	u.transitioned("batch", b.ID, from.String(), next.String(), actor)

	if next == domain.BatchStatusReleased {
		return u.mintBottles(ctx, b)
	}
	return nil
}

func (u *unitOfWork) mintBottles(ctx context.Context, b *domain.Batch) error {
	minted, err := b.MintBottles(u.now)
	if err != nil {
		return err
	}

	bottles := make([]*domain.Bottle, len(minted))
	payload := domain.BottlesMinted{
		BatchID:       b.ID,
		BatchCode:     b.BatchCode,
		TotalVolumeML: b.TotalVolumeML.StringFixed(2),
		Bottles:       make([]domain.MintedBottle, 0, len(minted)),
	}
	for i := range minted {
		minted[i].ID = u.newID()
		minted[i].Version = 1
		bottles[i] = &minted[i]
		payload.Bottles = append(payload.Bottles, domain.MintedBottle{
			ID:       minted[i].ID,
			Barcode:  minted[i].Barcode,
			VolumeML: minted[i].VolumeML.StringFixed(2),
		})
	}

	if err := u.repos.Bottles.CreateBatch(ctx, bottles); err != nil {
		return fmt.Errorf("%w: minting bottles for batch %s failed: %v", domain.ErrRetryable, b.BatchCode, err)
	}

	return u.emit(domain.EventBottlesMinted, domain.AggregateBatch, b.ID, domain.PriorityNormal, payload)
}

// evaluateBatch applies the post-pasteurisation release rule to a batch in
// MicroTestPending.
func (u *unitOfWork) evaluateBatch(ctx context.Context, b *domain.Batch, actor string) error {
	samples, err := u.repos.Samples.ListByBatchID(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}

	next, err := domain.EvaluatePostPasteurisation(domain.PairSamples(samples, domain.SampleKindPost))
	if err != nil {
		return err
	}
	return u.advanceBatch(ctx, b, next, actor, domain.OpBatchEvaluate, nil)
}

func optionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
