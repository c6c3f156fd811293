package domain

import (
	"encoding/json"
	"time"
)

// AuditEvent is an append-only record of a state change and who made it.
type AuditEvent struct {
	ID         string
	UserID     string
	Operation  string
	EntityType AggregateType
	EntityID   string
	Before     json.RawMessage
	After      json.RawMessage
	Reason     *string
	CreatedAt  time.Time
}

// Audit operations.
const (
	OpBatchCreate          = "batch.create"
	OpBatchQuarantine      = "batch.quarantine"
	OpBatchEvaluate        = "batch.evaluate"
	OpBatchAdvance         = "batch.advance"
	OpPasteurisationStart  = "pasteurisation.start"
	OpPasteurisationFinish = "pasteurisation.complete"
	OpSampleCreate         = "sample.create"
	OpResultPost           = "sample.result"
	OpBottleAllocate       = "bottle.allocate"
	OpBottleDefrost        = "bottle.defrost"
	OpBottleAdminister     = "bottle.administer"
	OpBottleDiscard        = "bottle.discard"
	OpDispatchCreate       = "dispatch.create"
	OpDispatchScan         = "dispatch.scan"
	OpDispatchReceive      = "dispatch.receive"
)

// SystemActor is recorded for transitions the engine applies on its own.
const SystemActor = "system"
