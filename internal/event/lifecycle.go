package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PositionOpened records a completed open including the loop outcome
type PositionOpened struct {
	OperationID      uuid.UUID
	OwnerID          uuid.UUID
	CollateralAmount int64 // Measured amount actually received
	BorrowedAmount   int64
	PrincipalClaims  int64
	YieldClaims      int64
	LoopCount        int32
	HealthFactor     int64
	Timestamp        time.Time
}

// One operation can emit several events (an open plus its loop legs), so
// every key carries an event-specific suffix. The event log enforces a
// unique index on the key.
func (e *PositionOpened) IdempotencyKey() string { return e.OperationID.String() + ":opened" }
func (e *PositionOpened) EventType() EventType   { return EventTypePositionOpened }
func (e *PositionOpened) Owner() *uuid.UUID      { return &e.OwnerID }

// LoopCompleted records a single loop iteration inside an open
type LoopCompleted struct {
	OperationID uuid.UUID
	OwnerID     uuid.UUID
	Iteration   int32
	Minted      int64
	Supplied    int64
	Borrowed    int64
	Timestamp   time.Time
}

func (e *LoopCompleted) IdempotencyKey() string {
	return fmt.Sprintf("%s:loop:%d", e.OperationID, e.Iteration)
}
func (e *LoopCompleted) EventType() EventType   { return EventTypeLoopCompleted }
func (e *LoopCompleted) Owner() *uuid.UUID      { return &e.OwnerID }

// PositionClosed records a full unwind back to the owner
type PositionClosed struct {
	OperationID  uuid.UUID
	OwnerID      uuid.UUID
	NetReturned  int64 // Measured amount actually delivered
	ProfitOrLoss int64
	Timestamp    time.Time
}

func (e *PositionClosed) IdempotencyKey() string { return e.OperationID.String() + ":closed" }
func (e *PositionClosed) EventType() EventType   { return EventTypePositionClosed }
func (e *PositionClosed) Owner() *uuid.UUID      { return &e.OwnerID }

// PositionLiquidated records a forced unwind triggered by the health sweep
type PositionLiquidated struct {
	OperationID  uuid.UUID
	OwnerID      uuid.UUID
	HealthFactor int64 // Factor observed at trigger time
	NetReturned  int64
	Timestamp    time.Time
}

func (e *PositionLiquidated) IdempotencyKey() string { return e.OperationID.String() + ":liquidated" }
func (e *PositionLiquidated) EventType() EventType   { return EventTypePositionLiquidated }
func (e *PositionLiquidated) Owner() *uuid.UUID      { return &e.OwnerID }

// EmergencyWithdrawal records a recovery payout to the withdrawal recipient
type EmergencyWithdrawal struct {
	OperationID uuid.UUID
	OwnerID     uuid.UUID
	CallerID    uuid.UUID
	Asset       string
	Amount      int64
	Timestamp   time.Time
}

func (e *EmergencyWithdrawal) IdempotencyKey() string { return e.OperationID.String() + ":emergency" }
func (e *EmergencyWithdrawal) EventType() EventType   { return EventTypeEmergencyWithdrawal }
func (e *EmergencyWithdrawal) Owner() *uuid.UUID      { return &e.OwnerID }
