package state_test

import (
	"LoopVault/internal/state"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustActivePosition(ownerID uuid.UUID, collateral int64) *state.Position {
	return &state.Position{
		OwnerID:          ownerID,
		CollateralAmount: collateral,
		Status:           state.PositionStatusActive,
	}
}

func TestPositionStatus_Transitions(t *testing.T) {
	cases := []struct {
		from    state.PositionStatus
		to      state.PositionStatus
		allowed bool
	}{
		{state.PositionStatusActive, state.PositionStatusClosing, true},
		{state.PositionStatusActive, state.PositionStatusLiquidated, true},
		{state.PositionStatusActive, state.PositionStatusClosed, false},
		{state.PositionStatusClosing, state.PositionStatusClosed, true},
		{state.PositionStatusClosing, state.PositionStatusActive, true},
		{state.PositionStatusClosing, state.PositionStatusLiquidated, true},
		{state.PositionStatusClosed, state.PositionStatusActive, false},
		{state.PositionStatusClosed, state.PositionStatusClosing, false},
		{state.PositionStatusLiquidated, state.PositionStatusActive, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		if got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestPositionLedger_SinglePositionPerOwner(t *testing.T) {
	pl := state.NewPositionLedger()
	ownerID := uuid.New()

	if err := pl.Create(mustActivePosition(ownerID, 1000_000000)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	if err := pl.Create(mustActivePosition(ownerID, 500_000000)); err == nil {
		t.Error("second open position for same owner should be rejected")
	}
}

func TestPositionLedger_TVLTracksCollateral(t *testing.T) {
	pl := state.NewPositionLedger()
	a, b := uuid.New(), uuid.New()

	if err := pl.Create(mustActivePosition(a, 1000_000000)); err != nil {
		t.Fatal(err)
	}
	if err := pl.Create(mustActivePosition(b, 250_000000)); err != nil {
		t.Fatal(err)
	}

	if tvl := pl.TotalValueLocked(); tvl != 1250_000000 {
		t.Errorf("TVL = %d, want 1250e6", tvl)
	}
	if err := pl.CheckTVLInvariant(); err != nil {
		t.Errorf("TVL invariant: %v", err)
	}

	cached, err := pl.RemoveForUnwind(a, state.PositionStatusClosed)
	if err != nil {
		t.Fatalf("RemoveForUnwind failed: %v", err)
	}
	if tvl := pl.TotalValueLocked(); tvl != 250_000000 {
		t.Errorf("TVL after remove = %d, want 250e6", tvl)
	}
	if err := pl.CheckTVLInvariant(); err != nil {
		t.Errorf("TVL invariant after remove: %v", err)
	}

	// Rollback restores both the entry and TVL
	pl.Restore(cached)
	if tvl := pl.TotalValueLocked(); tvl != 1250_000000 {
		t.Errorf("TVL after restore = %d, want 1250e6", tvl)
	}
	if _, ok := pl.Get(a); !ok {
		t.Error("restored position should be visible")
	}
}

func TestPositionLedger_RemoveForUnwind_DeletesEntry(t *testing.T) {
	pl := state.NewPositionLedger()
	ownerID := uuid.New()

	if err := pl.Create(mustActivePosition(ownerID, 100)); err != nil {
		t.Fatal(err)
	}

	if _, err := pl.RemoveForUnwind(ownerID, state.PositionStatusClosed); err != nil {
		t.Fatalf("RemoveForUnwind failed: %v", err)
	}

	// Entry gone: second unwind of the same position must fail
	if _, ok := pl.Get(ownerID); ok {
		t.Error("position should be deleted after unwind effects")
	}
	if _, err := pl.RemoveForUnwind(ownerID, state.PositionStatusClosed); err == nil {
		t.Error("unwinding a deleted position should fail")
	}
}

func TestPositionLedger_GetReturnsCopy(t *testing.T) {
	pl := state.NewPositionLedger()
	ownerID := uuid.New()

	if err := pl.Create(mustActivePosition(ownerID, 777)); err != nil {
		t.Fatal(err)
	}

	pos, _ := pl.Get(ownerID)
	pos.CollateralAmount = 0

	again, _ := pl.Get(ownerID)
	if again.CollateralAmount != 777 {
		t.Error("Get must return a copy, not the stored entry")
	}
}

func TestSecurityState_CompromisedIsSticky(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := state.NewSecurityState(24*time.Hour, now)

	s.DeclareCompromised("oracle mismatch")
	s.DeclareCompromised("second reason")

	st := s.Status()
	if !st.Compromised {
		t.Fatal("compromised flag should be set")
	}
	if st.CompromisedReason != "oracle mismatch" {
		t.Errorf("first reason should win, got %q", st.CompromisedReason)
	}
}

func TestSecurityState_OperationalGap(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s := state.NewSecurityState(24*time.Hour, start)

	if s.GapExceeded(start.Add(23 * time.Hour)) {
		t.Error("gap should not be exceeded within the window")
	}
	if !s.GapExceeded(start.Add(25 * time.Hour)) {
		t.Error("gap should be exceeded after the window")
	}

	// Re-authorization resets the clock
	s.RecordAuthorizedOperation(start.Add(25 * time.Hour))
	if s.GapExceeded(start.Add(26 * time.Hour)) {
		t.Error("gap should reset after re-authorization")
	}
}

func TestSecurityState_PauseUnpause(t *testing.T) {
	s := state.NewSecurityState(0, time.Unix(0, 0))

	s.Pause("oracle outage")
	if !s.InEmergencyMode() {
		t.Fatal("should be in emergency mode after pause")
	}
	if s.Status().PauseReason != "oracle outage" {
		t.Error("pause reason should be recorded")
	}

	s.Unpause()
	if s.InEmergencyMode() {
		t.Error("should leave emergency mode after unpause")
	}
}
