package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

// ErrDeadLetter marks a handler failure that must not be redelivered. The
// consumer rejects such messages so the broker routes them to the DLQ.
var ErrDeadLetter = errors.New("message dead-lettered")

// Publisher publishes event messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg EventMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg EventMessage) error

// Consumer consumes event messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// routedAggregates are the aggregates that emit outbound events.
var routedAggregates = []domain.AggregateType{
	domain.AggregateBatch,
	domain.AggregateBottle,
	domain.AggregateDispatch,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 3

	queuePrefix = "events"
)

func isRoutable(aggregate domain.AggregateType) bool {
	for _, a := range routedAggregates {
		if a == aggregate {
			return true
		}
	}
	return false
}

// QueueName returns the work queue for an aggregate, e.g. events.batch.
func QueueName(aggregate domain.AggregateType) string {
	return fmt.Sprintf("%s.%s", queuePrefix, aggregate.String())
}

// DLQName returns the dead-letter queue for an aggregate, e.g. dlq.events.batch.
func DLQName(aggregate domain.AggregateType) string {
	return fmt.Sprintf("dlq.%s", QueueName(aggregate))
}

// WorkQueueNames returns every aggregate work queue.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(routedAggregates))
	for _, aggregate := range routedAggregates {
		queues = append(queues, QueueName(aggregate))
	}
	return queues
}

// DLQNames returns every dead-letter queue.
func DLQNames() []string {
	queues := make([]string, 0, len(routedAggregates))
	for _, aggregate := range routedAggregates {
		queues = append(queues, DLQName(aggregate))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
