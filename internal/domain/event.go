package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventStatus represents the outbox state of a lifecycle event.
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusPublished  EventStatus = "PUBLISHED"
	EventStatusDelivering EventStatus = "DELIVERING"
	EventStatusDelivered  EventStatus = "DELIVERED"
	EventStatusFailed     EventStatus = "FAILED"
)

func (s EventStatus) String() string { return string(s) }

func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusPending, EventStatusPublished, EventStatusDelivering, EventStatusDelivered, EventStatusFailed:
		return true
	}
	return false
}

func ParseEventStatusFromString(s string) (EventStatus, error) {
	st := EventStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid event status %q", ErrValidation, s)
	}
	return st, nil
}

// EventType names a lifecycle fact handed to external collaborators.
type EventType string

const (
	EventBatchStatusChanged    EventType = "batch.status_changed"
	EventBottlesMinted         EventType = "bottles.minted"
	EventBottleStatusChanged   EventType = "bottle.status_changed"
	EventDispatchStatusChanged EventType = "dispatch.status_changed"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventBatchStatusChanged, EventBottlesMinted, EventBottleStatusChanged, EventDispatchStatusChanged:
		return true
	}
	return false
}

// AggregateType names the entity an event or audit row is about.
type AggregateType string

const (
	AggregateBatch    AggregateType = "batch"
	AggregateBottle   AggregateType = "bottle"
	AggregateDispatch AggregateType = "dispatch"
	AggregateSample   AggregateType = "sample"
	AggregateRecord   AggregateType = "pasteurisation_record"
)

func (a AggregateType) String() string { return string(a) }

func (a AggregateType) IsValid() bool {
	switch a {
	case AggregateBatch, AggregateBottle, AggregateDispatch, AggregateSample, AggregateRecord:
		return true
	}
	return false
}

func ParseAggregateTypeFromString(s string) (AggregateType, error) {
	at := AggregateType(strings.ToLower(strings.TrimSpace(s)))
	if !at.IsValid() {
		return "", fmt.Errorf("%w: invalid entity type %q", ErrValidation, s)
	}
	return at, nil
}

// Priority orders delivery on the event bus.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Event is a transactional outbox row. It is written in the same transaction
// as the state change it describes and relayed to the event bus afterwards.
type Event struct {
	ID            string
	Type          EventType
	AggregateType AggregateType
	AggregateID   string
	Priority      Priority
	Payload       json.RawMessage
	Status        EventStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt *time.Time
	LastError     *string
	PublishedAt   *time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEvent marshals payload into a pending event.
func NewEvent(eventType EventType, aggregate AggregateType, aggregateID string, priority Priority, payload any) (*Event, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("%w: invalid event type %q", ErrValidation, eventType)
	}
	if !aggregate.IsValid() {
		return nil, fmt.Errorf("%w: invalid aggregate type %q", ErrValidation, aggregate)
	}
	if strings.TrimSpace(aggregateID) == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", ErrValidation)
	}
	if !priority.IsValid() {
		priority = PriorityNormal
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal event payload: %v", ErrValidation, err)
	}

	return &Event{
		Type:          eventType,
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		Priority:      priority,
		Payload:       raw,
		Status:        EventStatusPending,
	}, nil
}

// StatusChange is the payload of the *.status_changed events.
type StatusChange struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actorId,omitempty"`
	At      string `json:"at"`
}

// MintedBottle is one entry of the bottles.minted payload.
type MintedBottle struct {
	ID       string `json:"id"`
	Barcode  string `json:"barcode"`
	VolumeML string `json:"volumeMl"`
}

// BottlesMinted is the payload of bottles.minted.
type BottlesMinted struct {
	BatchID       string         `json:"batchId"`
	BatchCode     string         `json:"batchCode"`
	TotalVolumeML string         `json:"totalVolumeMl"`
	Bottles       []MintedBottle `json:"bottles"`
}
