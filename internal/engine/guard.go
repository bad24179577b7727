package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ExecutionGuard serializes mutating operations. Each owner has an
// independent lock; global operations (config updates, pause) take the
// whole guard. Nested acquisition fails fast instead of deadlocking:
// a reentrant callback that re-enters the engine on the same account is
// rejected here, and by the state checks behind it.
type ExecutionGuard struct {
	mu       sync.Mutex
	locked   map[uuid.UUID]bool
	inflight int
	global   bool
}

func NewExecutionGuard() *ExecutionGuard {
	return &ExecutionGuard{
		locked: make(map[uuid.UUID]bool),
	}
}

// Acquire takes the per-account lock for a mutating operation
func (g *ExecutionGuard) Acquire(ownerID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.global {
		return fmt.Errorf("%w: global operation in progress", ErrReentrantCall)
	}
	if g.locked[ownerID] {
		return fmt.Errorf("%w: operation already executing for %s", ErrReentrantCall, ownerID)
	}

	g.locked[ownerID] = true
	g.inflight++
	return nil
}

// Release frees the per-account lock
func (g *ExecutionGuard) Release(ownerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked[ownerID] {
		delete(g.locked, ownerID)
		g.inflight--
	}
}

// AcquireGlobal takes the whole guard for config-level operations.
// It fails fast while any per-account operation is executing.
func (g *ExecutionGuard) AcquireGlobal() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.global {
		return fmt.Errorf("%w: global operation in progress", ErrReentrantCall)
	}
	if g.inflight > 0 {
		return fmt.Errorf("%w: %d operations executing", ErrReentrantCall, g.inflight)
	}

	g.global = true
	return nil
}

// ReleaseGlobal frees the global lock
func (g *ExecutionGuard) ReleaseGlobal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.global = false
}

// Executing reports whether any guarded operation is in flight
func (g *ExecutionGuard) Executing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global || g.inflight > 0
}
