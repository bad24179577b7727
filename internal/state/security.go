package state

import (
	"sync"
	"time"
)

// SecurityState tracks protocol-level safety flags.
// Compromised is sticky: once set it can never be cleared at runtime.
type SecurityState struct {
	mu                sync.RWMutex
	compromised       bool
	compromisedReason string
	emergencyMode     bool
	pauseReason       string
	lastAuthorizedAt  time.Time
	maxOperationGap   time.Duration
}

func NewSecurityState(maxOperationGap time.Duration, now time.Time) *SecurityState {
	return &SecurityState{
		maxOperationGap:  maxOperationGap,
		lastAuthorizedAt: now,
	}
}

// Status is an immutable view for queries and logging
type SecurityStatus struct {
	Compromised       bool
	CompromisedReason string
	EmergencyMode     bool
	PauseReason       string
	LastAuthorizedAt  time.Time
	MaxOperationGap   time.Duration
}

func (s *SecurityState) Status() SecurityStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SecurityStatus{
		Compromised:       s.compromised,
		CompromisedReason: s.compromisedReason,
		EmergencyMode:     s.emergencyMode,
		PauseReason:       s.pauseReason,
		LastAuthorizedAt:  s.lastAuthorizedAt,
		MaxOperationGap:   s.maxOperationGap,
	}
}

// DeclareCompromised sets the sticky flag. First reason wins.
func (s *SecurityState) DeclareCompromised(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.compromised {
		s.compromised = true
		s.compromisedReason = reason
	}
}

func (s *SecurityState) IsCompromised() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compromised
}

func (s *SecurityState) Pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergencyMode = true
	s.pauseReason = reason
}

func (s *SecurityState) Unpause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergencyMode = false
	s.pauseReason = ""
}

func (s *SecurityState) InEmergencyMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergencyMode
}

// RecordAuthorizedOperation resets the operational-gap clock
func (s *SecurityState) RecordAuthorizedOperation(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastAuthorizedAt) {
		s.lastAuthorizedAt = now
	}
}

// GapExceeded reports whether the silence window has run out.
// Mutating operations are refused until the owner re-authorizes.
func (s *SecurityState) GapExceeded(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.maxOperationGap <= 0 {
		return false
	}
	return now.Sub(s.lastAuthorizedAt) > s.maxOperationGap
}
