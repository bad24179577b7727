package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionOpened
	EventTypeLoopCompleted
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeEmergencyWithdrawal
	EventTypeConfigUpdated
	EventTypeStrategyPaused
	EventTypeStrategyUnpaused
	EventTypeCompromiseDeclared
	EventTypeOwnershipTransferStarted
	EventTypeOwnershipTransferred
	EventTypeReauthorized
)

// EventEnvelope wraps every event appended to the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key (operation ID)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Position owner context (nullable for global events)
	Owner *uuid.UUID

	// Engine-assigned timestamp
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Owner returns the position owner (nil for global events)
	Owner() *uuid.UUID
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypeLoopCompleted:
		return "LoopCompleted"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeEmergencyWithdrawal:
		return "EmergencyWithdrawal"
	case EventTypeConfigUpdated:
		return "ConfigUpdated"
	case EventTypeStrategyPaused:
		return "StrategyPaused"
	case EventTypeStrategyUnpaused:
		return "StrategyUnpaused"
	case EventTypeCompromiseDeclared:
		return "CompromiseDeclared"
	case EventTypeOwnershipTransferStarted:
		return "OwnershipTransferStarted"
	case EventTypeOwnershipTransferred:
		return "OwnershipTransferred"
	case EventTypeReauthorized:
		return "Reauthorized"
	default:
		return "Unknown"
	}
}
