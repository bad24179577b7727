package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LoopVault/internal/event"
	"LoopVault/internal/ledger"
	"LoopVault/internal/market"
	"LoopVault/internal/state"
)

// CloseRequest asks the engine to fully unwind a position
type CloseRequest struct {
	OperationID uuid.UUID
	CallerID    uuid.UUID
	OwnerID     uuid.UUID
}

// CloseResult reports the measured outcome of an unwind
type CloseResult struct {
	NetReturned  int64
	ProfitOrLoss int64
}

// Close unwinds the position: withdraw supplied claims, redeem the claim
// pair, repay the borrow, deliver the remainder to the owner's wallet.
// The position entry is removed BEFORE any external call; a call that
// re-enters the engine mid-unwind finds no position. External failure
// restores the entry.
func (e *Engine) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	start := time.Now()

	if err := e.acl.RequireOwner(req.CallerID); err != nil {
		e.reject("close", "unauthorized")
		return nil, err
	}
	if e.security.IsCompromised() {
		e.reject("close", "compromised")
		return nil, fmt.Errorf("%w: %s", ErrCompromised, e.security.Status().CompromisedReason)
	}

	// This lookup runs before the guard so a reentrant close observes the
	// already-removed position, not a lock error.
	if pos, ok := e.positions.Get(req.OwnerID); !ok || !pos.IsOpen() {
		e.reject("close", "no_position")
		return nil, fmt.Errorf("%w: no open position for owner %s", ErrPositionConflict, req.OwnerID)
	}

	ownerWallet, ok := e.wallets[req.OwnerID]
	if !ok {
		e.reject("close", "unknown_wallet")
		return nil, fmt.Errorf("%w: no wallet registered for owner %s", ErrInvalidInput, req.OwnerID)
	}

	if err := e.guard.Acquire(req.OwnerID); err != nil {
		e.reject("close", "reentrant")
		return nil, err
	}
	defer e.guard.Release(req.OwnerID)

	result, err := e.unwind(ctx, req.OperationID, req.OwnerID, ownerWallet, state.PositionStatusClosed, 0)
	if err != nil {
		return nil, err
	}

	e.security.RecordAuthorizedOperation(e.now())
	e.metrics.PositionsClosed.WithLabelValues("closed").Inc()
	e.metrics.OperationDuration.WithLabelValues("close").Observe(time.Since(start).Seconds())
	return result, nil
}

// unwind executes the shared close/liquidation sequence. The guard for the
// owner must already be held.
func (e *Engine) unwind(
	ctx context.Context,
	operationID, ownerID uuid.UUID,
	ownerWallet string,
	finalStatus state.PositionStatus,
	observedFactor int64,
) (*CloseResult, error) {
	// Effects first: the entry is gone before any external call
	cached, err := e.positions.RemoveForUnwind(ownerID, finalStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPositionConflict, err)
	}

	withdrawn, proceeds, repaid, progressed, err := e.unwindExternals(ctx, cached)
	if err != nil {
		// Restore is only safe while the venues still hold what the cached
		// position says they hold. After the first successful external call
		// they no longer do, so a retried close could never line up.
		if !progressed {
			e.positions.Restore(cached)
			return nil, err
		}
		e.security.DeclareCompromised(fmt.Sprintf("unwind of %s failed after partial execution: %v", ownerID, err))
		e.metrics.CompromisedFlag.Set(1)
		return nil, err
	}

	payout := proceeds - repaid
	var delivered int64
	if payout > 0 {
		delivered, err = e.transfer.PushMeasured(ctx, e.baseAsset, ownerWallet, payout)
		if err != nil {
			e.security.DeclareCompromised(fmt.Sprintf("unwind payout for %s failed: %v", ownerID, err))
			e.metrics.CompromisedFlag.Set(1)
			return nil, err
		}
	}

	now := e.now()
	batch, err := e.journals.GenerateUnwind(ownerID, operationID.String(), ledger.UnwindLeg{
		Withdrawn:         withdrawn,
		RedeemedPrincipal: withdrawn,
		RedeemedYield:     cached.YieldClaimAmount,
		Proceeds:          proceeds,
		Repaid:            repaid,
		Payout:            delivered,
		Fee:               payout - delivered,
	}, now.UnixMicro())
	if err != nil {
		// Externals already executed; the ledger can no longer mirror them
		e.security.DeclareCompromised(fmt.Sprintf("unwind journal for %s failed: %v", ownerID, err))
		e.metrics.CompromisedFlag.Set(1)
		return nil, fmt.Errorf("generate unwind journal: %w", err)
	}
	if err := e.applyBatch(batch); err != nil {
		return nil, err
	}
	if err := e.postCheckInvariants(ownerID); err != nil {
		e.security.DeclareCompromised(err.Error())
		e.metrics.CompromisedFlag.Set(1)
		return nil, fmt.Errorf("ledger invariant violated after unwind: %w", err)
	}

	profitOrLoss := delivered - cached.CollateralAmount

	switch finalStatus {
	case state.PositionStatusLiquidated:
		e.emit(&event.PositionLiquidated{
			OperationID:  operationID,
			OwnerID:      ownerID,
			HealthFactor: observedFactor,
			NetReturned:  delivered,
			Timestamp:    now,
		}, batch)
	default:
		e.emit(&event.PositionClosed{
			OperationID:  operationID,
			OwnerID:      ownerID,
			NetReturned:  delivered,
			ProfitOrLoss: profitOrLoss,
			Timestamp:    now,
		}, batch)
	}

	e.metrics.PositionsOpen.Set(float64(e.positions.Count()))
	e.metrics.TotalValueLocked.Set(float64(e.positions.TotalValueLocked()))
	e.metrics.HealthFactor.DeleteLabelValues(ownerID.String())

	e.log.Info().
		Str("owner", ownerID.String()).
		Str("final_status", finalStatus.String()).
		Int64("proceeds", proceeds).
		Int64("repaid", repaid).
		Int64("delivered", delivered).
		Int64("pnl", profitOrLoss).
		Msg("position unwound")

	return &CloseResult{NetReturned: delivered, ProfitOrLoss: profitOrLoss}, nil
}

// unwindExternals runs the venue calls of an unwind in reverse loop order.
// progressed reports whether any call succeeded before a failure, which
// decides between restoring the position and declaring compromise.
func (e *Engine) unwindExternals(ctx context.Context, pos *state.Position) (withdrawn, proceeds, repaid int64, progressed bool, err error) {
	if pos.PrincipalClaimAmount > 0 {
		withdrawn, err = e.adapters.Lending.Withdraw(ctx, e.principalAsset, pos.PrincipalClaimAmount)
		if err != nil {
			return 0, 0, 0, progressed, fmt.Errorf("%w: withdraw: %v", ErrExternalCallFailed, err)
		}
		progressed = true
	}

	if withdrawn > 0 || pos.YieldClaimAmount > 0 {
		proceeds, err = e.adapters.Derivative.Redeem(ctx, withdrawn, pos.YieldClaimAmount)
		if err != nil {
			return 0, 0, 0, progressed, fmt.Errorf("%w: redeem: %v", ErrExternalCallFailed, err)
		}
		progressed = true
	}

	if pos.BorrowedAmount > 0 {
		// The engine wallet only holds the redeem proceeds at this point
		repayTarget := pos.BorrowedAmount
		if repayTarget > proceeds {
			repayTarget = proceeds
		}
		if repayTarget > 0 {
			repaid, err = e.adapters.Lending.Repay(ctx, e.baseAsset, repayTarget)
			if err != nil {
				return 0, 0, 0, progressed, fmt.Errorf("%w: repay: %v", ErrExternalCallFailed, err)
			}
			progressed = true
		}
	}

	return withdrawn, proceeds, repaid, progressed, nil
}

// SweepUnhealthy force-unwinds every position whose health factor sits below
// the configured minimum. Returns the number of liquidated positions.
func (e *Engine) SweepUnhealthy(ctx context.Context) (int, error) {
	if e.security.IsCompromised() {
		return 0, fmt.Errorf("%w: %s", ErrCompromised, e.security.Status().CompromisedReason)
	}

	minFactor := e.Strategy().MinHealthFactor
	owners, err := e.health.UnhealthyPositions(ctx, e.positions.Snapshot(), minFactor)
	if err != nil {
		return 0, err
	}

	liquidated := 0
	for _, ownerID := range owners {
		factor, err := e.HealthFactor(ctx, ownerID)
		if err != nil {
			continue
		}
		if factor >= minFactor {
			continue
		}
		if err := e.liquidate(ctx, ownerID, factor); err != nil {
			e.log.Error().Err(err).Str("owner", ownerID.String()).Msg("liquidation failed")
			continue
		}
		liquidated++
	}
	return liquidated, nil
}

func (e *Engine) liquidate(ctx context.Context, ownerID uuid.UUID, observedFactor int64) error {
	ownerWallet, ok := e.wallets[ownerID]
	if !ok {
		return fmt.Errorf("%w: no wallet registered for owner %s", ErrInvalidInput, ownerID)
	}

	if err := e.guard.Acquire(ownerID); err != nil {
		return err
	}
	defer e.guard.Release(ownerID)

	_, err := e.unwind(ctx, uuid.New(), ownerID, ownerWallet, state.PositionStatusLiquidated, observedFactor)
	if err != nil {
		return err
	}

	e.metrics.PositionsClosed.WithLabelValues("liquidated").Inc()
	e.metrics.LiquidationsSwept.Inc()
	return nil
}

// EmergencyWithdrawRequest asks for a recovery payout of one asset
type EmergencyWithdrawRequest struct {
	OperationID uuid.UUID
	CallerID    uuid.UUID
	Asset       string
	Amount      int64 // 0 drains the full engine balance
}

// EmergencyWithdraw moves engine-held funds to the fixed withdrawal
// recipient wallet. Guardian or owner, and only while paused or
// compromised. No other destination is reachable from this path.
func (e *Engine) EmergencyWithdraw(ctx context.Context, req EmergencyWithdrawRequest) (int64, error) {
	if err := e.acl.RequireGuardianOrOwner(req.CallerID); err != nil {
		e.reject("emergency_withdraw", "unauthorized")
		return 0, err
	}
	if !e.security.InEmergencyMode() && !e.security.IsCompromised() {
		e.reject("emergency_withdraw", "not_paused")
		return 0, fmt.Errorf("%w: emergency withdrawal requires emergency mode", ErrInvalidInput)
	}

	assetID, ok := ledger.GetAssetID(req.Asset)
	if !ok {
		e.reject("emergency_withdraw", "unknown_asset")
		return 0, fmt.Errorf("%w: unknown asset %q", ErrInvalidInput, req.Asset)
	}
	asset := market.Asset(req.Asset)

	amount := req.Amount
	if amount <= 0 {
		balance, err := e.transfer.EngineBalance(ctx, asset)
		if err != nil {
			return 0, err
		}
		amount = balance
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: nothing to withdraw for asset %q", ErrInvalidInput, req.Asset)
	}

	delivered, err := e.transfer.PushMeasured(ctx, asset, e.recipientWallet, amount)
	if err != nil {
		return 0, err
	}

	now := e.now()
	vaultOwner := e.acl.Owner()
	batch, err := e.journals.GenerateEmergencyPayout(vaultOwner, req.OperationID.String(), assetID, amount, now.UnixMicro())
	if err != nil {
		return delivered, fmt.Errorf("generate emergency payout journal: %w", err)
	}
	if err := e.applyBatch(batch); err != nil {
		return delivered, err
	}

	e.emit(&event.EmergencyWithdrawal{
		OperationID: req.OperationID,
		OwnerID:     vaultOwner,
		CallerID:    req.CallerID,
		Asset:       req.Asset,
		Amount:      delivered,
		Timestamp:   now,
	}, batch)

	e.log.Warn().
		Str("caller", req.CallerID.String()).
		Str("asset", req.Asset).
		Int64("delivered", delivered).
		Msg("emergency withdrawal executed")

	return delivered, nil
}
