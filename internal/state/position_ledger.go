package state

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PositionLedger is the authoritative in-memory store of open positions.
// Mutations happen inside guarded engine operations; the RWMutex exists so
// read-only queries (HTTP API, health sweep) never block behind them.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]*Position
	tvl       int64 // Sum of open CollateralAmount
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[uuid.UUID]*Position),
	}
}

// Create inserts a new Active position. At most one open position per owner.
func (pl *PositionLedger) Create(pos *Position) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if existing, ok := pl.positions[pos.OwnerID]; ok && existing.IsOpen() {
		return fmt.Errorf("owner %s already has an open position", pos.OwnerID)
	}
	if pos.Status != PositionStatusActive {
		return fmt.Errorf("new position must be Active, got %s", pos.Status)
	}

	pl.positions[pos.OwnerID] = pos
	pl.tvl += pos.CollateralAmount
	return nil
}

// Get returns a copy of the owner's position
func (pl *PositionLedger) Get(ownerID uuid.UUID) (Position, bool) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	pos, ok := pl.positions[ownerID]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// RemoveForUnwind applies the ledger effects of a close/liquidation BEFORE
// any external interaction: the entry is deleted and TVL decremented, so a
// reentrant call during the interaction phase sees no position. The cached
// pre-unwind entry is returned for rollback on external failure.
func (pl *PositionLedger) RemoveForUnwind(ownerID uuid.UUID, final PositionStatus) (*Position, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pos, ok := pl.positions[ownerID]
	if !ok || !pos.IsOpen() {
		return nil, fmt.Errorf("no open position for owner %s", ownerID)
	}

	// The unwind passes through Closing while external calls run, so the
	// final status is validated from there.
	from := pos.Status
	if from == PositionStatusActive && from.CanTransitionTo(PositionStatusClosing) {
		from = PositionStatusClosing
	}
	if !from.CanTransitionTo(final) {
		return nil, fmt.Errorf("invalid transition %s -> %s", pos.Status, final)
	}

	cached := pos.Clone()
	delete(pl.positions, ownerID)
	pl.tvl -= pos.CollateralAmount
	return cached, nil
}

// Restore reinserts a cached entry after a failed unwind (rollback path)
func (pl *PositionLedger) Restore(cached *Position) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.positions[cached.OwnerID] = cached
	pl.tvl += cached.CollateralAmount
}

// TotalValueLocked returns the tracked TVL
func (pl *PositionLedger) TotalValueLocked() int64 {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.tvl
}

// Count returns the number of open positions
func (pl *PositionLedger) Count() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.positions)
}

// Snapshot returns copies of all open positions
func (pl *PositionLedger) Snapshot() []Position {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	result := make([]Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		result = append(result, *pos)
	}
	return result
}

// CheckTVLInvariant verifies tracked TVL equals the sum of open collateral
func (pl *PositionLedger) CheckTVLInvariant() error {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	var sum int64
	for _, pos := range pl.positions {
		sum += pos.CollateralAmount
	}
	if sum != pl.tvl {
		return fmt.Errorf("TVL mismatch: tracked=%d, sum of collateral=%d", pl.tvl, sum)
	}
	return nil
}
