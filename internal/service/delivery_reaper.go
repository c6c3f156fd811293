package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/milkbank/internal/observability"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReapInterval = 30 * time.Second
	defaultStaleAfter   = 5 * time.Minute
	defaultReapLimit    = 100
)

// DeliveryReaper returns events that were published or claimed but never
// finished to PENDING so the relay publishes them again. This covers
// messages lost by the broker and workers that died mid-delivery.
type DeliveryReaper struct {
	events     repository.EventRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewDeliveryReaper(
	events repository.EventRepository,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*DeliveryReaper, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if limit <= 0 {
		limit = defaultReapLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryReaper{
		events:     events,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limit,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *DeliveryReaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *DeliveryReaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so events stranded by a previous worker do not wait for the first tick.
	if err := r.reap(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("delivery reaper initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.reap(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("delivery reaper scan failed", zap.Error(err))
			}
		}
	}
}

func (r *DeliveryReaper) reap(ctx context.Context) error {
	requeued, err := r.events.RequeueStale(ctx, r.now().Add(-r.staleAfter), r.limit)
	if err != nil {
		return fmt.Errorf("failed to requeue stale events: %w", err)
	}
	if requeued > 0 {
		r.logger.Warn("requeued stale events", zap.Int64("count", requeued))
		r.metrics.AddStaleRequeued(requeued)
	}
	return nil
}
