package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/milkbank/internal/collaborator"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/observability"
	"github.com/kursadbilgin/milkbank/internal/queue"
	"github.com/kursadbilgin/milkbank/internal/ratelimit"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250

	collaboratorRateScope = "collaborator"
)

// DeliveryWorker consumes event messages and hands the outbox event to the
// external collaborator, recording one attempt per call.
type DeliveryWorker struct {
	tx           repository.Transactor
	events       repository.EventRepository
	attempts     repository.AttemptRepository
	consumer     queue.Consumer
	collaborator collaborator.Collaborator
	rateLimiter  ratelimit.RateLimiter
	logger       *zap.Logger
	metrics      *observability.Metrics
	concurrency  int
	now          func() time.Time
	randIntn     func(n int) int
}

func NewDeliveryWorker(
	tx repository.Transactor,
	events repository.EventRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	collab collaborator.Collaborator,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if tx == nil || events == nil || attempts == nil {
		return nil, fmt.Errorf("transactor, event and attempt repositories are required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if collab == nil {
		return nil, fmt.Errorf("collaborator is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		tx:           tx,
		events:       events,
		attempts:     attempts,
		consumer:     consumer,
		collaborator: collab,
		rateLimiter:  rateLimiter,
		logger:       logger,
		concurrency:  concurrency,
		now:          func() time.Time { return time.Now().UTC() },
		randIntn:     rand.Intn,
	}, nil
}

// Start consumes the aggregate queues until context cancellation. Consumers
// are spread round-robin over the queues.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	consumers := max(w.concurrency, len(queueNames))
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("delivery worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, func(ctx context.Context, msg queue.EventMessage) error {
				w.metrics.IncWorkerInFlight(queueName)
				defer w.metrics.DecWorkerInFlight(queueName)
				return w.processMessage(ctx, msg)
			})
			if err != nil {
				w.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("delivery worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

func (w *DeliveryWorker) claim(ctx context.Context, eventID string) (*domain.Event, error) {
	var event *domain.Event
	err := w.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		claimed, err := repos.Events.ClaimForDelivery(ctx, eventID)
		if err != nil {
			return err
		}
		event = claimed
		return nil
	})
	return event, err
}

func (w *DeliveryWorker) processMessage(ctx context.Context, msg queue.EventMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx)

	event, err := w.claim(ctx, msg.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("event not found during claim, skipping", zap.String("eventId", msg.EventID))
			return nil
		}
		return fmt.Errorf("failed to claim event for delivery: %w", err)
	}

	// Nil means another worker holds it or it is already final; ack and skip.
	if event == nil {
		return nil
	}

	eventType := event.Type.String()
	if err := w.rateLimiter.Wait(ctx, collaboratorRateScope); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	attemptNumber := event.Attempts + 1
	deliverStart := w.now()
	resp, deliverErr := w.collaborator.Deliver(ctx, *event)
	w.metrics.ObserveDeliveryDuration(eventType, w.now().Sub(deliverStart))

	if err := w.recordAttempt(ctx, event.ID, attemptNumber, resp, deliverErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if deliverErr == nil {
		if err := w.events.MarkDelivered(ctx, event.ID, w.now()); err != nil {
			return fmt.Errorf("failed to mark event delivered: %w", err)
		}
		w.metrics.IncEventDelivered(eventType)
		return nil
	}

	isTransient := collaborator.IsTransient(deliverErr)
	maxAttempts := event.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}

	if isTransient && attemptNumber < maxAttempts {
		delay := w.computeRetryDelay(attemptNumber)
		if asked, ok := collaborator.RetryAfter(deliverErr); ok && asked > delay {
			delay = min(asked, maxRetryDelay)
		}
		nextAttemptAt := w.now().Add(delay)
		if err := w.events.ScheduleRetry(ctx, event.ID, nextAttemptAt, deliverErr.Error()); err != nil {
			return fmt.Errorf("failed to schedule event retry: %w", err)
		}
		w.metrics.IncRetryScheduled(eventType)
		logger.Warn("event delivery failed, retry scheduled",
			zap.String("eventId", event.ID),
			zap.Int("attempt", attemptNumber),
			zap.Time("nextAttemptAt", nextAttemptAt),
			zap.Error(deliverErr),
		)
		return nil
	}

	if err := w.events.MarkFailed(ctx, event.ID, deliverErr.Error()); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	reason := "permanent_error"
	if isTransient {
		reason = "retry_exhausted"
	}
	w.metrics.IncEventFailed(eventType, reason)

	return fmt.Errorf("%w: event %s %s after %d attempts: %v",
		queue.ErrDeadLetter, event.ID, strings.ReplaceAll(reason, "_", " "), attemptNumber, deliverErr)
}

func (w *DeliveryWorker) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if w.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = w.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (w *DeliveryWorker) recordAttempt(
	ctx context.Context,
	eventID string,
	attemptNumber int,
	resp *collaborator.Response,
	deliverErr error,
) error {
	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if resp != nil {
		if resp.StatusCode > 0 {
			value := resp.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(resp.Body); body != "" {
			value := resp.Body
			responseBody = &value
		}
	}

	if deliverErr != nil {
		value := deliverErr.Error()
		attemptErr = &value

		if code, ok := collaborator.StatusCode(deliverErr); ok && statusCode == nil {
			statusCode = &code
		}
	}

	return w.attempts.Create(ctx, &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		EventID:       eventID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         attemptErr,
		CreatedAt:     w.now(),
	})
}
