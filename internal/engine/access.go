package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AccessControl fixes the three control identities at construction.
// The withdrawal recipient can never change; ownership moves only through
// the two-step transfer (start, then accept by the pending owner).
type AccessControl struct {
	mu                  sync.RWMutex
	owner               uuid.UUID
	pendingOwner        *uuid.UUID
	guardian            uuid.UUID
	withdrawalRecipient uuid.UUID
}

func NewAccessControl(owner, guardian, withdrawalRecipient uuid.UUID) *AccessControl {
	return &AccessControl{
		owner:               owner,
		guardian:            guardian,
		withdrawalRecipient: withdrawalRecipient,
	}
}

func (ac *AccessControl) Owner() uuid.UUID {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.owner
}

func (ac *AccessControl) Guardian() uuid.UUID {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.guardian
}

func (ac *AccessControl) WithdrawalRecipient() uuid.UUID {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.withdrawalRecipient
}

// RequireOwner gates owner-only operations
func (ac *AccessControl) RequireOwner(callerID uuid.UUID) error {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if callerID != ac.owner {
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, callerID)
	}
	return nil
}

// RequireGuardianOrOwner gates emergency operations
func (ac *AccessControl) RequireGuardianOrOwner(callerID uuid.UUID) error {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if callerID != ac.owner && callerID != ac.guardian {
		return fmt.Errorf("%w: caller %s is neither owner nor guardian", ErrUnauthorized, callerID)
	}
	return nil
}

// StartOwnershipTransfer records the pending owner (step one)
func (ac *AccessControl) StartOwnershipTransfer(callerID, newOwner uuid.UUID) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if callerID != ac.owner {
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, callerID)
	}
	if newOwner == uuid.Nil {
		return fmt.Errorf("%w: new owner must not be nil", ErrInvalidInput)
	}

	pending := newOwner
	ac.pendingOwner = &pending
	return nil
}

// AcceptOwnership completes the handover (step two). Only the recorded
// pending owner may accept.
func (ac *AccessControl) AcceptOwnership(callerID uuid.UUID) (previous uuid.UUID, err error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.pendingOwner == nil || callerID != *ac.pendingOwner {
		return uuid.Nil, fmt.Errorf("%w: caller %s is not the pending owner", ErrUnauthorized, callerID)
	}

	previous = ac.owner
	ac.owner = callerID
	ac.pendingOwner = nil
	return previous, nil
}

// PendingOwner returns the pending owner, if a transfer is in progress
func (ac *AccessControl) PendingOwner() (uuid.UUID, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if ac.pendingOwner == nil {
		return uuid.Nil, false
	}
	return *ac.pendingOwner, true
}
