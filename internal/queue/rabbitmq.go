package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName   = "milkbank.dlx"
	connectionName    = "milkbank"
	reconnectBackoff  = time.Second
	maxBackoff        = 30 * time.Second
	initialDialBudget = 15 * time.Second
)

// queueSpec is one durable queue and, for dead-letter queues, the DLX
// binding that feeds it.
type queueSpec struct {
	Name       string
	Args       amqp.Table
	BindingKey string
}

// topologyPlan lists the declarations in the order they must run: each DLQ
// exists and is bound before the work queue that dead-letters into it.
func topologyPlan() []queueSpec {
	plan := make([]queueSpec, 0, 2*len(routedAggregates))
	for _, aggregate := range routedAggregates {
		key := aggregateRoutingKey(aggregate)
		plan = append(plan,
			queueSpec{Name: DLQName(aggregate), BindingKey: key},
			queueSpec{Name: QueueName(aggregate), Args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": key,
				"x-max-priority":            queueMaxPriority,
			}},
		)
	}
	return plan
}

// RabbitMQ owns one broker connection shared by publisher and consumer.
// Topology is declared once per connection, not per channel.
type RabbitMQ struct {
	url string

	mu       sync.RWMutex
	dialMu   sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), initialDialBudget)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a fresh channel, redialing once if the live connection
// refuses it.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.drop(conn)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := r.ensureTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.RLock()
	conn = r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	conn, err := r.dialWithBackoff(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.conn = conn
	r.declared = false
	r.mu.Unlock()
	return conn, nil
}

func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
		r.declared = false
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *RabbitMQ) dialWithBackoff(ctx context.Context) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)

	wait := reconnectBackoff
	for {
		conn, err := amqp.DialConfig(r.url, amqp.Config{Properties: props})
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (r *RabbitMQ) ensureTopology(ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declared
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	r.declared = true
	r.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, q := range topologyPlan() {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, q.Args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.Name, err)
		}
		if q.BindingKey == "" {
			continue
		}
		if err := ch.QueueBind(q.Name, q.BindingKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", q.Name, err)
		}
	}
	return nil
}

func aggregateRoutingKey(aggregate domain.AggregateType) string {
	return strings.ToLower(aggregate.String())
}
