package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/milkbank/internal/collaborator"
	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/queue"
	"github.com/kursadbilgin/milkbank/internal/ratelimit"
	"github.com/kursadbilgin/milkbank/internal/repository"
)

type fakePublisher struct {
	publishFn func(ctx context.Context, queue string, msg queue.EventMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.EventMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakeCollaborator struct {
	deliverFn func(ctx context.Context, event domain.Event) (*collaborator.Response, error)
}

func (f *fakeCollaborator) Deliver(ctx context.Context, event domain.Event) (*collaborator.Response, error) {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, event)
	}
	return &collaborator.Response{StatusCode: 200}, nil
}

var (
	_ queue.Publisher           = (*fakePublisher)(nil)
	_ queue.Consumer            = (*fakeConsumer)(nil)
	_ ratelimit.RateLimiter     = (*fakeRateLimiter)(nil)
	_ collaborator.Collaborator = (*fakeCollaborator)(nil)
)

// seedEvents writes events straight into the outbox.
func seedEvents(t *testing.T, store *memStore, events ...domain.Event) {
	t.Helper()
	ptrs := make([]*domain.Event, len(events))
	for i := range events {
		ptrs[i] = &events[i]
	}
	err := store.WithinTransaction(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		return repos.Events.CreateBatch(ctx, ptrs)
	})
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
}

func testEvent(id string, aggregate domain.AggregateType, status domain.EventStatus, createdAt time.Time) domain.Event {
	eventType := domain.EventBatchStatusChanged
	switch aggregate {
	case domain.AggregateBottle:
		eventType = domain.EventBottleStatusChanged
	case domain.AggregateDispatch:
		eventType = domain.EventDispatchStatusChanged
	}
	return domain.Event{
		ID:            id,
		Type:          eventType,
		AggregateType: aggregate,
		AggregateID:   "agg-" + id,
		Priority:      domain.PriorityNormal,
		Payload:       []byte(`{"id":"agg-` + id + `"}`),
		Status:        status,
		MaxAttempts:   5,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}
