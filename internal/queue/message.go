package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

// EventMessage is the broker payload announcing a committed lifecycle event.
// The event body stays in the outbox; workers load it by ID.
type EventMessage struct {
	EventID       string               `json:"eventId"`
	CorrelationID string               `json:"correlationId,omitempty"`
	Type          domain.EventType     `json:"type"`
	AggregateType domain.AggregateType `json:"aggregateType"`
	AggregateID   string               `json:"aggregateId"`
	Priority      domain.Priority      `json:"priority"`
}

// NewEventMessage builds the broker payload for an outbox event.
func NewEventMessage(e *domain.Event, correlationID string) EventMessage {
	return EventMessage{
		EventID:       e.ID,
		CorrelationID: correlationID,
		Type:          e.Type,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Priority:      e.Priority,
	}
}

func (m EventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", m.Type)
	}
	if !isRoutable(m.AggregateType) {
		return fmt.Errorf("aggregate type %q has no queue", m.AggregateType)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
