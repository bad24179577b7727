package event

import (
	"time"

	"github.com/google/uuid"
)

// ConfigUpdated records an owner-applied strategy config change
type ConfigUpdated struct {
	OperationID       uuid.UUID
	MaxLoops          int32
	MinHealthFactor   int64
	BorrowDecayFactor int64
	DustThreshold     int64
	Active            bool
	Timestamp         time.Time
}

func (e *ConfigUpdated) IdempotencyKey() string { return e.OperationID.String() + ":config" }
func (e *ConfigUpdated) EventType() EventType   { return EventTypeConfigUpdated }
func (e *ConfigUpdated) Owner() *uuid.UUID      { return nil }

// StrategyPaused records entry into emergency mode
type StrategyPaused struct {
	OperationID uuid.UUID
	Reason      string
	Timestamp   time.Time
}

func (e *StrategyPaused) IdempotencyKey() string { return e.OperationID.String() + ":paused" }
func (e *StrategyPaused) EventType() EventType   { return EventTypeStrategyPaused }
func (e *StrategyPaused) Owner() *uuid.UUID      { return nil }

// StrategyUnpaused records exit from emergency mode
type StrategyUnpaused struct {
	OperationID uuid.UUID
	Timestamp   time.Time
}

func (e *StrategyUnpaused) IdempotencyKey() string { return e.OperationID.String() + ":unpaused" }
func (e *StrategyUnpaused) EventType() EventType   { return EventTypeStrategyUnpaused }
func (e *StrategyUnpaused) Owner() *uuid.UUID      { return nil }

// CompromiseDeclared records the sticky compromised flag being set
type CompromiseDeclared struct {
	OperationID uuid.UUID
	Reason      string
	Timestamp   time.Time
}

func (e *CompromiseDeclared) IdempotencyKey() string { return e.OperationID.String() + ":compromise" }
func (e *CompromiseDeclared) EventType() EventType   { return EventTypeCompromiseDeclared }
func (e *CompromiseDeclared) Owner() *uuid.UUID      { return nil }

// OwnershipTransferStarted records step one of the two-step handover
type OwnershipTransferStarted struct {
	OperationID  uuid.UUID
	CurrentOwner uuid.UUID
	PendingOwner uuid.UUID
	Timestamp    time.Time
}

func (e *OwnershipTransferStarted) IdempotencyKey() string {
	return e.OperationID.String() + ":transfer_started"
}
func (e *OwnershipTransferStarted) EventType() EventType {
	return EventTypeOwnershipTransferStarted
}
func (e *OwnershipTransferStarted) Owner() *uuid.UUID { return nil }

// OwnershipTransferred records the pending owner accepting control
type OwnershipTransferred struct {
	OperationID   uuid.UUID
	PreviousOwner uuid.UUID
	NewOwner      uuid.UUID
	Timestamp     time.Time
}

func (e *OwnershipTransferred) IdempotencyKey() string { return e.OperationID.String() + ":transferred" }
func (e *OwnershipTransferred) EventType() EventType   { return EventTypeOwnershipTransferred }
func (e *OwnershipTransferred) Owner() *uuid.UUID      { return nil }

// Reauthorized records the owner resetting the operational-gap clock
type Reauthorized struct {
	OperationID uuid.UUID
	Timestamp   time.Time
}

func (e *Reauthorized) IdempotencyKey() string { return e.OperationID.String() + ":reauthorized" }
func (e *Reauthorized) EventType() EventType   { return EventTypeReauthorized }
func (e *Reauthorized) Owner() *uuid.UUID      { return nil }
