package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/milkbank/internal/observability"
	"github.com/kursadbilgin/milkbank/internal/queue"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRelayInterval = 2 * time.Second
	defaultRelayLimit    = 100
)

// EventRelay periodically publishes pending outbox events to the event bus.
// Rows are claimed with SKIP LOCKED so several relays can run side by side.
type EventRelay struct {
	tx        repository.Transactor
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewEventRelay(
	tx repository.Transactor,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*EventRelay, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	if limit <= 0 {
		limit = defaultRelayLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventRelay{
		tx:        tx,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *EventRelay) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *EventRelay) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := r.relayDue(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("event relay initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.relayDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("event relay scan failed", zap.Error(err))
			}
		}
	}
}

// relayDue publishes one page of due events and returns how many went out.
func (r *EventRelay) relayDue(ctx context.Context) (int, error) {
	var marked []string
	err := r.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		marked = marked[:0]
		now := r.now()
		due, err := repos.Events.GetDueForPublish(ctx, now, r.limit)
		if err != nil {
			return fmt.Errorf("failed to fetch due events: %w", err)
		}

		for i := range due {
			event := &due[i]
			queueName := queue.QueueName(event.AggregateType)
			msg := queue.NewEventMessage(event, event.ID)
			if err := r.publisher.Publish(ctx, queueName, msg); err != nil {
				r.logger.Error("failed to publish event",
					zap.String("eventId", event.ID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				continue
			}

			// A failed write aborts the transaction, so the whole page rolls back
			// to pending and is republished on the next pass.
			if err := repos.Events.MarkPublished(ctx, event.ID, now); err != nil {
				return fmt.Errorf("failed to mark event %s as published: %w", event.ID, err)
			}
			marked = append(marked, event.AggregateType.String())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, aggregate := range marked {
		r.metrics.IncEventPublished(aggregate)
	}
	return len(marked), nil
}
