package engine

import (
	"context"
	"fmt"

	"LoopVault/internal/config"
	"LoopVault/internal/ledger"
	"LoopVault/internal/market"
	fpmath "LoopVault/internal/math"
)

// LoopResult aggregates the outcome of an executed loop sequence
type LoopResult struct {
	Iterations        int32
	PrincipalClaims   int64
	YieldClaims       int64
	Supplied          int64 // Principal claims delivered to the lending market
	Borrowed          int64
	FinalHealthFactor int64

	// One leg per executed mint/supply/borrow round, plus the residual
	// deployment, in execution order. Used for journaling and events.
	Legs []ledger.LoopLeg
}

// loopExecutor runs the iterative mint → supply → borrow sequence.
// Termination policy, in priority order: adapter failure aborts; reaching
// targetLoops stops; a prospective borrow below the dust threshold stops;
// a prospective borrow that would drop health below the minimum stops
// (truncation, not an error).
type loopExecutor struct {
	adapters market.Adapters
	health   *HealthMonitor
	base     market.Asset
	claim    market.Asset
}

func newLoopExecutor(adapters market.Adapters, health *HealthMonitor, base, claim market.Asset) *loopExecutor {
	return &loopExecutor{
		adapters: adapters,
		health:   health,
		base:     base,
		claim:    claim,
	}
}

// run executes up to targetLoops iterations starting from the measured
// collateral. An iteration counts only once its borrow executes; a final
// mint/supply without a borrow is recorded as a residual leg.
func (le *loopExecutor) run(ctx context.Context, initialCollateral int64, cfg config.Strategy, targetLoops int32) (*LoopResult, error) {
	result := &LoopResult{FinalHealthFactor: fpmath.HealthInfinity}

	current := initialCollateral
	prevBorrow := initialCollateral

	for i := int32(0); i < targetLoops; i++ {
		if current < cfg.DustThreshold {
			break
		}

		minted, supplied, err := le.mintAndSupply(ctx, current)
		if err != nil {
			return result, err
		}
		spent := current
		current = 0
		result.PrincipalClaims += minted.PrincipalOut
		result.YieldClaims += minted.YieldOut
		result.Supplied += supplied

		borrowAmount := fpmath.ApplyRate(prevBorrow, cfg.BorrowDecayFactor)
		if borrowAmount < cfg.DustThreshold {
			result.Legs = append(result.Legs, ledger.LoopLeg{
				Spent:        spent,
				PrincipalOut: minted.PrincipalOut,
				YieldOut:     minted.YieldOut,
				Supplied:     supplied,
			})
			break
		}

		// The borrow is what moves health; project it before executing.
		projected, err := le.health.EvaluateExposure(ctx,
			result.PrincipalClaims, result.YieldClaims, result.Borrowed+borrowAmount)
		if err != nil {
			return result, err
		}
		if projected < cfg.MinHealthFactor {
			result.Legs = append(result.Legs, ledger.LoopLeg{
				Spent:        spent,
				PrincipalOut: minted.PrincipalOut,
				YieldOut:     minted.YieldOut,
				Supplied:     supplied,
			})
			result.FinalHealthFactor, err = le.health.EvaluateExposure(ctx,
				result.PrincipalClaims, result.YieldClaims, result.Borrowed)
			if err != nil {
				return result, err
			}
			return result, nil
		}

		borrowed, err := le.adapters.Lending.Borrow(ctx, le.base, borrowAmount)
		if err != nil {
			return result, fmt.Errorf("%w: borrow: %v", ErrExternalCallFailed, err)
		}

		result.Borrowed += borrowAmount
		result.Iterations++
		result.Legs = append(result.Legs, ledger.LoopLeg{
			Spent:        spent,
			PrincipalOut: minted.PrincipalOut,
			YieldOut:     minted.YieldOut,
			Supplied:     supplied,
			Borrowed:     borrowAmount,
		})

		current = borrowed
		prevBorrow = borrowAmount
	}

	// Residual deployment: the last borrow is minted and supplied without
	// another borrow so no working capital idles in the engine wallet.
	if current >= cfg.DustThreshold {
		minted, supplied, err := le.mintAndSupply(ctx, current)
		if err != nil {
			return result, err
		}
		result.PrincipalClaims += minted.PrincipalOut
		result.YieldClaims += minted.YieldOut
		result.Supplied += supplied
		result.Legs = append(result.Legs, ledger.LoopLeg{
			Spent:        current,
			PrincipalOut: minted.PrincipalOut,
			YieldOut:     minted.YieldOut,
			Supplied:     supplied,
		})
	}

	factor, err := le.health.EvaluateExposure(ctx,
		result.PrincipalClaims, result.YieldClaims, result.Borrowed)
	if err != nil {
		return result, err
	}
	result.FinalHealthFactor = factor
	return result, nil
}

func (le *loopExecutor) mintAndSupply(ctx context.Context, amount int64) (market.MintResult, int64, error) {
	minted, err := le.adapters.Derivative.Mint(ctx, amount)
	if err != nil {
		return market.MintResult{}, 0, fmt.Errorf("%w: mint: %v", ErrExternalCallFailed, err)
	}

	supplied, err := le.adapters.Lending.Supply(ctx, le.claim, minted.PrincipalOut)
	if err != nil {
		return market.MintResult{}, 0, fmt.Errorf("%w: supply: %v", ErrExternalCallFailed, err)
	}
	return minted, supplied, nil
}
