package state

import (
	"github.com/google/uuid"
)

// PositionStatus tracks the position lifecycle
type PositionStatus int32

const (
	PositionStatusActive PositionStatus = iota
	PositionStatusClosing
	PositionStatusClosed
	PositionStatusLiquidated
)

// Position represents an owner's leveraged looping position
type Position struct {
	OwnerID              uuid.UUID
	CollateralAmount     int64 // Fixed-point: quote scale, measured at deposit
	BorrowedAmount       int64 // Fixed-point: quote scale, cumulative outstanding
	PrincipalClaimAmount int64 // Claims supplied as lending collateral
	YieldClaimAmount     int64 // Claims held by the engine
	LoopCount            int32 // Iterations actually executed
	OpenedAt             int64 // Epoch microseconds
	Status               PositionStatus
	Version              int64 // Optimistic concurrency control
}

func (ps PositionStatus) String() string {
	switch ps {
	case PositionStatusActive:
		return "Active"
	case PositionStatusClosing:
		return "Closing"
	case PositionStatusClosed:
		return "Closed"
	case PositionStatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions
func (ps PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusActive: {
			PositionStatusClosing,
			PositionStatusLiquidated,
		},
		PositionStatusClosing: {
			PositionStatusActive, // Unwind rolled back after external failure
			PositionStatusClosed,
			PositionStatusLiquidated,
		},
		PositionStatusClosed:     {},
		PositionStatusLiquidated: {},
	}

	allowed, ok := validTransitions[ps]
	if !ok {
		return false
	}

	for _, allowedStatus := range allowed {
		if next == allowedStatus {
			return true
		}
	}

	return false
}

// IsOpen reports whether the position still holds external exposure
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusActive || p.Status == PositionStatusClosing
}

// Clone returns a deep copy for rollback caching
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
