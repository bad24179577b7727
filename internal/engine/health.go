package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"LoopVault/internal/market"
	fpmath "LoopVault/internal/math"
	"LoopVault/internal/state"
)

// HealthMonitor derives the leverage health factor from position exposure
// and oracle prices. It never mutates state; the engine acts on its answers
// (loop admission, liquidation trigger).
type HealthMonitor struct {
	oracle    market.PriceOracle
	base      market.Asset
	principal market.Asset
	yield     market.Asset
}

func NewHealthMonitor(oracle market.PriceOracle, base, principal, yield market.Asset) *HealthMonitor {
	return &HealthMonitor{
		oracle:    oracle,
		base:      base,
		principal: principal,
		yield:     yield,
	}
}

// Evaluate returns the health factor (ratio scale 1e4) for a position.
// Zero debt yields the infinity sentinel, never an error.
func (hm *HealthMonitor) Evaluate(ctx context.Context, pos *state.Position) (int64, error) {
	return hm.EvaluateExposure(ctx, pos.PrincipalClaimAmount, pos.YieldClaimAmount, pos.BorrowedAmount)
}

// EvaluateExposure computes the health factor for raw exposure numbers.
// The loop executor uses it to project the factor an iteration would
// produce before executing it.
func (hm *HealthMonitor) EvaluateExposure(ctx context.Context, principalClaims, yieldClaims, borrowed int64) (int64, error) {
	if borrowed <= 0 {
		return fpmath.HealthInfinity, nil
	}

	principalPrice, err := hm.oracle.Price(ctx, hm.principal)
	if err != nil {
		return 0, fmt.Errorf("%w: price %s: %v", ErrExternalCallFailed, hm.principal, err)
	}
	yieldPrice, err := hm.oracle.Price(ctx, hm.yield)
	if err != nil {
		return 0, fmt.Errorf("%w: price %s: %v", ErrExternalCallFailed, hm.yield, err)
	}
	basePrice, err := hm.oracle.Price(ctx, hm.base)
	if err != nil {
		return 0, fmt.Errorf("%w: price %s: %v", ErrExternalCallFailed, hm.base, err)
	}

	collateralValue := fpmath.ComputeValue(principalClaims, principalPrice) +
		fpmath.ComputeValue(yieldClaims, yieldPrice)
	debtValue := fpmath.ComputeValue(borrowed, basePrice)

	return fpmath.ComputeHealthFactor(collateralValue, debtValue), nil
}

// UnhealthyPositions returns the owners whose committed positions sit
// strictly below the minimum, ready for forced unwind.
func (hm *HealthMonitor) UnhealthyPositions(ctx context.Context, positions []state.Position, minHealthFactor int64) ([]uuid.UUID, error) {
	var owners []uuid.UUID
	for i := range positions {
		pos := &positions[i]
		if pos.Status != state.PositionStatusActive {
			continue
		}
		factor, err := hm.Evaluate(ctx, pos)
		if err != nil {
			return nil, err
		}
		if factor < minHealthFactor {
			owners = append(owners, pos.OwnerID)
		}
	}
	return owners, nil
}
