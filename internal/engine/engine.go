package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LoopVault/internal/config"
	"LoopVault/internal/event"
	"LoopVault/internal/ledger"
	"LoopVault/internal/market"
	"LoopVault/internal/observability"
	"LoopVault/internal/state"
)

// EngineOutput pairs an event envelope with the journal batch it produced.
// Batch is nil for state-only events (pause, ownership transfer).
type EngineOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
}

// Engine executes all mutating operations of the looping strategy.
// Ordering inside every operation: checks, then internal effects (position
// ledger, journal state), then external interactions where the CEI inversion
// is impossible; the unwind path applies effects before interactions and
// rolls them back on failure.
type Engine struct {
	mu       sync.Mutex // protects strategy and eventSeq
	strategy config.Strategy
	eventSeq int64

	log     zerolog.Logger
	metrics *observability.Metrics

	guard     *ExecutionGuard
	acl       *AccessControl
	security  *state.SecurityState
	positions *state.PositionLedger
	tracker   *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	journals  *ledger.JournalGenerator
	transfer  *TransferGuard
	adapters  market.Adapters
	health    *HealthMonitor
	loops     *loopExecutor

	baseAsset      market.Asset
	principalAsset market.Asset
	yieldAsset     market.Asset
	baseAssetID    ledger.AssetID
	principalID    ledger.AssetID
	yieldID        ledger.AssetID

	wallets         map[uuid.UUID]string
	recipientWallet string

	persistCh chan<- EngineOutput
	publishCh chan<- EngineOutput

	now func() time.Time
}

// NewEngine wires the engine from validated configuration and a set of
// market adapters (sim or evm).
func NewEngine(
	cfg *config.Config,
	adapters market.Adapters,
	metrics *observability.Metrics,
	log zerolog.Logger,
	persistCh, publishCh chan<- EngineOutput,
) (*Engine, error) {
	owner, err := uuid.Parse(cfg.Roles.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	guardian, err := uuid.Parse(cfg.Roles.Guardian)
	if err != nil {
		return nil, fmt.Errorf("parse guardian id: %w", err)
	}
	recipient, err := uuid.Parse(cfg.Roles.WithdrawalRecipient)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal recipient id: %w", err)
	}

	baseID, ok := ledger.GetAssetID(cfg.Strategy.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown collateral asset %q", cfg.Strategy.CollateralAsset)
	}
	principalID, ok := ledger.GetAssetID(cfg.Strategy.PrincipalAsset)
	if !ok {
		return nil, fmt.Errorf("unknown principal asset %q", cfg.Strategy.PrincipalAsset)
	}
	yieldID, ok := ledger.GetAssetID(cfg.Strategy.YieldAsset)
	if !ok {
		return nil, fmt.Errorf("unknown yield asset %q", cfg.Strategy.YieldAsset)
	}

	wallets := make(map[uuid.UUID]string, len(cfg.Roles.Wallets))
	for id, addr := range cfg.Roles.Wallets {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse wallet owner id %q: %w", id, err)
		}
		wallets[parsed] = addr
	}

	tracker := ledger.NewBalanceTracker()
	base := market.Asset(cfg.Strategy.CollateralAsset)
	principal := market.Asset(cfg.Strategy.PrincipalAsset)
	yield := market.Asset(cfg.Strategy.YieldAsset)

	adapters = instrumentAdapters(adapters, metrics)
	health := NewHealthMonitor(adapters.Oracle, base, principal, yield)

	e := &Engine{
		strategy:  cfg.Strategy,
		log:       log,
		metrics:   metrics,
		guard:     NewExecutionGuard(),
		acl:       NewAccessControl(owner, guardian, recipient),
		security:  state.NewSecurityState(cfg.Security.MaxOperationGap.Duration, time.Now()),
		positions: state.NewPositionLedger(),
		tracker:   tracker,
		validator: ledger.NewInvariantValidator(tracker),
		journals:  ledger.NewJournalGenerator(0, tracker, baseID, principalID, yieldID),
		transfer:  NewTransferGuard(adapters.Tokens, cfg.Roles.EngineWallet),
		adapters:  adapters,
		health:    health,
		loops:     newLoopExecutor(adapters, health, base, principal),

		baseAsset:      base,
		principalAsset: principal,
		yieldAsset:     yield,
		baseAssetID:    baseID,
		principalID:    principalID,
		yieldID:        yieldID,

		wallets:         wallets,
		recipientWallet: cfg.Roles.RecipientWallet,

		persistCh: persistCh,
		publishCh: publishCh,

		now: time.Now,
	}
	return e, nil
}

// OpenRequest asks the engine to open a looped position
type OpenRequest struct {
	OperationID uuid.UUID
	CallerID    uuid.UUID
	OwnerID     uuid.UUID
	Amount      int64 // Requested deposit, quote scale
	TargetLoops int32 // 0 means strategy max
}

// OpenResult reports the measured outcome of an open
type OpenResult struct {
	CollateralReceived int64
	BorrowedAmount     int64
	PrincipalClaims    int64
	YieldClaims        int64
	LoopCount          int32
	HealthFactor       int64
}

// Open deposits collateral and executes the loop sequence.
// The position records the measured received amount, not the requested one.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	start := time.Now()

	if err := e.acl.RequireOwner(req.CallerID); err != nil {
		e.reject("open", "unauthorized")
		return nil, err
	}
	if req.Amount <= 0 {
		e.reject("open", "invalid_amount")
		return nil, fmt.Errorf("%w: deposit amount must be positive, got %d", ErrInvalidInput, req.Amount)
	}
	if err := e.checkOperational(); err != nil {
		e.reject("open", "not_operational")
		return nil, err
	}

	strategy := e.Strategy()
	if !strategy.Active {
		e.reject("open", "strategy_inactive")
		return nil, fmt.Errorf("%w: strategy is not active", ErrEmergencyMode)
	}

	targetLoops := req.TargetLoops
	if targetLoops <= 0 || targetLoops > strategy.MaxLoops {
		targetLoops = strategy.MaxLoops
	}

	ownerWallet, ok := e.wallets[req.OwnerID]
	if !ok {
		e.reject("open", "unknown_wallet")
		return nil, fmt.Errorf("%w: no wallet registered for owner %s", ErrInvalidInput, req.OwnerID)
	}

	if err := e.guard.Acquire(req.OwnerID); err != nil {
		e.reject("open", "reentrant")
		return nil, err
	}
	defer e.guard.Release(req.OwnerID)

	if existing, ok := e.positions.Get(req.OwnerID); ok && existing.IsOpen() {
		e.reject("open", "position_exists")
		return nil, fmt.Errorf("%w: owner %s already has an open position", ErrPositionConflict, req.OwnerID)
	}

	received, err := e.transfer.PullMeasured(ctx, e.baseAsset, ownerWallet, req.Amount)
	if err != nil {
		return nil, err
	}
	if shortfall := req.Amount - received; shortfall > 0 {
		e.metrics.TransferFeeObserved.Add(float64(shortfall))
	}

	loopRes, err := e.loops.run(ctx, received, strategy, targetLoops)
	if err != nil {
		e.revertAbortedOpen(ctx, req.OwnerID, ownerWallet, loopRes)
		return nil, err
	}
	if loopRes.FinalHealthFactor < strategy.MinHealthFactor {
		e.revertAbortedOpen(ctx, req.OwnerID, ownerWallet, loopRes)
		return nil, fmt.Errorf("%w: final health factor %d below minimum %d",
			ErrHealthViolation, loopRes.FinalHealthFactor, strategy.MinHealthFactor)
	}
	if loopRes.Iterations < targetLoops {
		e.metrics.LoopsTruncated.Inc()
	}

	now := e.now()
	pos := &state.Position{
		OwnerID:              req.OwnerID,
		CollateralAmount:     received,
		BorrowedAmount:       loopRes.Borrowed,
		PrincipalClaimAmount: loopRes.PrincipalClaims,
		YieldClaimAmount:     loopRes.YieldClaims,
		LoopCount:            loopRes.Iterations,
		OpenedAt:             now.UnixMicro(),
		Status:               state.PositionStatusActive,
		Version:              1,
	}
	if err := e.positions.Create(pos); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPositionConflict, err)
	}

	eventRef := req.OperationID.String()
	depositBatch, err := e.journals.GenerateDeposit(req.OwnerID, eventRef, received, now.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("generate deposit journal: %w", err)
	}
	if err := e.applyBatch(depositBatch); err != nil {
		return nil, err
	}

	loopBatches := make([]*ledger.Batch, 0, len(loopRes.Legs))
	for _, leg := range loopRes.Legs {
		batch, err := e.journals.GenerateLoopIteration(req.OwnerID, eventRef, leg, now.UnixMicro())
		if err != nil {
			return nil, fmt.Errorf("generate loop journal: %w", err)
		}
		if err := e.applyBatch(batch); err != nil {
			return nil, err
		}
		loopBatches = append(loopBatches, batch)
	}

	if err := e.postCheckInvariants(req.OwnerID); err != nil {
		e.security.DeclareCompromised(err.Error())
		e.metrics.CompromisedFlag.Set(1)
		return nil, fmt.Errorf("ledger invariant violated after open: %w", err)
	}

	e.emit(&event.PositionOpened{
		OperationID:      req.OperationID,
		OwnerID:          req.OwnerID,
		CollateralAmount: received,
		BorrowedAmount:   loopRes.Borrowed,
		PrincipalClaims:  loopRes.PrincipalClaims,
		YieldClaims:      loopRes.YieldClaims,
		LoopCount:        loopRes.Iterations,
		HealthFactor:     loopRes.FinalHealthFactor,
		Timestamp:        now,
	}, depositBatch)

	for i, batch := range loopBatches {
		leg := loopRes.Legs[i]
		e.emit(&event.LoopCompleted{
			OperationID: req.OperationID,
			OwnerID:     req.OwnerID,
			Iteration:   int32(i + 1),
			Minted:      leg.PrincipalOut,
			Supplied:    leg.Supplied,
			Borrowed:    leg.Borrowed,
			Timestamp:   now,
		}, batch)
	}

	e.security.RecordAuthorizedOperation(now)
	e.metrics.PositionsOpened.Inc()
	e.metrics.PositionsOpen.Set(float64(e.positions.Count()))
	e.metrics.TotalValueLocked.Set(float64(e.positions.TotalValueLocked()))
	e.metrics.LoopIterations.Observe(float64(loopRes.Iterations))
	e.metrics.HealthFactor.WithLabelValues(req.OwnerID.String()).Set(float64(loopRes.FinalHealthFactor))
	e.metrics.OperationDuration.WithLabelValues("open").Observe(time.Since(start).Seconds())

	e.log.Info().
		Str("owner", req.OwnerID.String()).
		Int64("received", received).
		Int64("borrowed", loopRes.Borrowed).
		Int32("loops", loopRes.Iterations).
		Int64("health_factor", loopRes.FinalHealthFactor).
		Msg("position opened")

	return &OpenResult{
		CollateralReceived: received,
		BorrowedAmount:     loopRes.Borrowed,
		PrincipalClaims:    loopRes.PrincipalClaims,
		YieldClaims:        loopRes.YieldClaims,
		LoopCount:          loopRes.Iterations,
		HealthFactor:       loopRes.FinalHealthFactor,
	}, nil
}

// revertAbortedOpen undoes the external legs of an open that cannot commit.
// The loop aborted before any ledger commit, so no journal rollback is
// needed, but executed legs have already moved value: supplied claims are
// withdrawn, held claims redeemed back to base, the borrow repaid, and the
// remainder pushed to the owner. A revert step that fails leaves value at a
// venue with no position recording it, which flips the compromised flag.
func (e *Engine) revertAbortedOpen(ctx context.Context, ownerID uuid.UUID, ownerWallet string, partial *LoopResult) {
	if err := e.revertExecutedLegs(ctx, partial); err != nil {
		e.security.DeclareCompromised(fmt.Sprintf("revert of aborted open for %s failed: %v", ownerID, err))
		e.metrics.CompromisedFlag.Set(1)
		e.log.Error().Err(err).Str("owner", ownerID.String()).Msg("aborted open left value at a venue")
		return
	}

	balance, err := e.transfer.EngineBalance(ctx, e.baseAsset)
	if err != nil || balance <= 0 {
		return
	}
	if _, err := e.transfer.PushMeasured(ctx, e.baseAsset, ownerWallet, balance); err != nil {
		e.security.DeclareCompromised(fmt.Sprintf("refund to %s failed: %v", ownerID, err))
		e.metrics.CompromisedFlag.Set(1)
		e.log.Error().Err(err).Str("owner", ownerID.String()).Msg("refund after aborted open did not land")
	}
}

// revertExecutedLegs walks the partial loop outcome back to plain base
// asset in the engine wallet. Claim balances are read from the wallet
// rather than the result, so claims minted by a leg whose supply failed
// are redeemed too.
func (e *Engine) revertExecutedLegs(ctx context.Context, partial *LoopResult) error {
	if partial == nil {
		return nil
	}

	if partial.Supplied > 0 {
		if _, err := e.adapters.Lending.Withdraw(ctx, e.principalAsset, partial.Supplied); err != nil {
			return fmt.Errorf("withdraw supplied claims: %w", err)
		}
	}

	principalHeld, err := e.transfer.EngineBalance(ctx, e.principalAsset)
	if err != nil {
		return err
	}
	yieldHeld, err := e.transfer.EngineBalance(ctx, e.yieldAsset)
	if err != nil {
		return err
	}
	if principalHeld > 0 || yieldHeld > 0 {
		if _, err := e.adapters.Derivative.Redeem(ctx, principalHeld, yieldHeld); err != nil {
			return fmt.Errorf("redeem claims: %w", err)
		}
	}

	if partial.Borrowed > 0 {
		baseHeld, err := e.transfer.EngineBalance(ctx, e.baseAsset)
		if err != nil {
			return err
		}
		repayTarget := partial.Borrowed
		if repayTarget > baseHeld {
			repayTarget = baseHeld
		}
		if repayTarget > 0 {
			if _, err := e.adapters.Lending.Repay(ctx, e.baseAsset, repayTarget); err != nil {
				return fmt.Errorf("repay borrow: %w", err)
			}
		}
	}
	return nil
}

// checkOperational gates every mutating operation on the security flags
func (e *Engine) checkOperational() error {
	if e.security.IsCompromised() {
		return fmt.Errorf("%w: %s", ErrCompromised, e.security.Status().CompromisedReason)
	}
	if e.security.InEmergencyMode() {
		return fmt.Errorf("%w: %s", ErrEmergencyMode, e.security.Status().PauseReason)
	}
	if e.security.GapExceeded(e.now()) {
		return fmt.Errorf("%w: owner must re-authorize before further operations", ErrOperationGap)
	}
	return nil
}

func (e *Engine) applyBatch(batch *ledger.Batch) error {
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		return fmt.Errorf("unbalanced batch: %w", err)
	}
	if err := e.tracker.ApplyBatch(batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	for _, j := range batch.Journals {
		e.metrics.JournalsGenerated.WithLabelValues(j.JournalType.String()).Inc()
	}
	e.metrics.LedgerSequence.Set(float64(e.journals.Sequence()))
	return nil
}

// postCheckInvariants verifies the ledger after a committed operation
func (e *Engine) postCheckInvariants(ownerID uuid.UUID) error {
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := e.validator.ValidateUserDebtSign(ownerID, e.baseAssetID); err != nil {
		return err
	}
	if err := e.validator.ValidateClaimsNonNegative(ownerID, e.principalID, e.yieldID); err != nil {
		return err
	}
	return e.positions.CheckTVLInvariant()
}

// emit sends the envelope to persistence (blocking) and publish (drop on full)
func (e *Engine) emit(evt event.Event, batch *ledger.Batch) {
	payload, err := json.Marshal(evt)
	if err != nil {
		e.log.Error().Err(err).Str("event_type", evt.EventType().String()).Msg("event marshal failed")
		payload = nil
	}

	e.mu.Lock()
	seq := e.eventSeq
	e.eventSeq++
	e.mu.Unlock()

	output := EngineOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: evt.IdempotencyKey(),
			EventType:      evt.EventType(),
			Owner:          evt.Owner(),
			Timestamp:      e.now(),
			Payload:        payload,
		},
		Batch: batch,
	}

	if e.persistCh != nil {
		// Blocking send: no event may be lost between engine and Postgres
		select {
		case e.persistCh <- output:
		default:
			e.metrics.PersistBackpressure.Inc()
			e.persistCh <- output
		}
	}

	if e.publishCh != nil {
		select {
		case e.publishCh <- output:
		default:
			e.metrics.PublishDrops.Inc()
		}
	}
}

func (e *Engine) reject(operation, reason string) {
	e.metrics.OperationsRejected.WithLabelValues(operation, reason).Inc()
}

// === Admin operations ===

// Pause puts the strategy in emergency mode. Guardian or owner.
func (e *Engine) Pause(operationID, callerID uuid.UUID, reason string) error {
	if err := e.acl.RequireGuardianOrOwner(callerID); err != nil {
		e.reject("pause", "unauthorized")
		return err
	}

	e.security.Pause(reason)
	e.metrics.EmergencyModeFlag.Set(1)
	e.log.Warn().Str("reason", reason).Msg("strategy paused")

	e.emit(&event.StrategyPaused{
		OperationID: operationID,
		Reason:      reason,
		Timestamp:   e.now(),
	}, nil)
	return nil
}

// Unpause leaves emergency mode. Owner only; refused while compromised.
func (e *Engine) Unpause(operationID, callerID uuid.UUID) error {
	if err := e.acl.RequireOwner(callerID); err != nil {
		e.reject("unpause", "unauthorized")
		return err
	}
	if e.security.IsCompromised() {
		e.reject("unpause", "compromised")
		return fmt.Errorf("%w: cannot unpause a compromised strategy", ErrCompromised)
	}

	e.security.Unpause()
	e.security.RecordAuthorizedOperation(e.now())
	e.metrics.EmergencyModeFlag.Set(0)
	e.log.Info().Msg("strategy unpaused")

	e.emit(&event.StrategyUnpaused{
		OperationID: operationID,
		Timestamp:   e.now(),
	}, nil)
	return nil
}

// DeclareCompromised sets the sticky compromised flag and pauses.
// Guardian or owner. There is no runtime path that clears it.
func (e *Engine) DeclareCompromised(operationID, callerID uuid.UUID, reason string) error {
	if err := e.acl.RequireGuardianOrOwner(callerID); err != nil {
		e.reject("declare_compromised", "unauthorized")
		return err
	}

	e.security.DeclareCompromised(reason)
	e.security.Pause(reason)
	e.metrics.CompromisedFlag.Set(1)
	e.metrics.EmergencyModeFlag.Set(1)
	e.log.Error().Str("reason", reason).Msg("strategy declared compromised")

	e.emit(&event.CompromiseDeclared{
		OperationID: operationID,
		Reason:      reason,
		Timestamp:   e.now(),
	}, nil)
	return nil
}

// UpdateStrategy replaces the loop parameters. Owner only; the update is
// refused while any operation is executing.
func (e *Engine) UpdateStrategy(operationID, callerID uuid.UUID, next config.Strategy) error {
	if err := e.acl.RequireOwner(callerID); err != nil {
		e.reject("update_strategy", "unauthorized")
		return err
	}
	if err := next.Validate(); err != nil {
		e.reject("update_strategy", "invalid")
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := e.guard.AcquireGlobal(); err != nil {
		e.reject("update_strategy", "busy")
		return err
	}
	defer e.guard.ReleaseGlobal()

	e.mu.Lock()
	e.strategy = next
	e.mu.Unlock()

	now := e.now()
	e.security.RecordAuthorizedOperation(now)
	e.log.Info().
		Int32("max_loops", next.MaxLoops).
		Int64("min_health_factor", next.MinHealthFactor).
		Int64("borrow_decay_factor", next.BorrowDecayFactor).
		Bool("active", next.Active).
		Msg("strategy updated")

	e.emit(&event.ConfigUpdated{
		OperationID:       operationID,
		MaxLoops:          next.MaxLoops,
		MinHealthFactor:   next.MinHealthFactor,
		BorrowDecayFactor: next.BorrowDecayFactor,
		DustThreshold:     next.DustThreshold,
		Active:            next.Active,
		Timestamp:         now,
	}, nil)
	return nil
}

// Reauthorize resets the operational-gap clock. Owner only.
func (e *Engine) Reauthorize(operationID, callerID uuid.UUID) error {
	if err := e.acl.RequireOwner(callerID); err != nil {
		e.reject("reauthorize", "unauthorized")
		return err
	}

	now := e.now()
	e.security.RecordAuthorizedOperation(now)
	e.log.Info().Msg("owner re-authorized")

	e.emit(&event.Reauthorized{
		OperationID: operationID,
		Timestamp:   now,
	}, nil)
	return nil
}

// StartOwnershipTransfer begins the two-step handover. Owner only.
func (e *Engine) StartOwnershipTransfer(operationID, callerID, newOwner uuid.UUID) error {
	if err := e.acl.StartOwnershipTransfer(callerID, newOwner); err != nil {
		e.reject("transfer_ownership", "rejected")
		return err
	}

	e.log.Info().Str("pending_owner", newOwner.String()).Msg("ownership transfer started")
	e.emit(&event.OwnershipTransferStarted{
		OperationID:  operationID,
		CurrentOwner: callerID,
		PendingOwner: newOwner,
		Timestamp:    e.now(),
	}, nil)
	return nil
}

// AcceptOwnership completes the handover. Pending owner only.
func (e *Engine) AcceptOwnership(operationID, callerID uuid.UUID) error {
	previous, err := e.acl.AcceptOwnership(callerID)
	if err != nil {
		e.reject("accept_ownership", "rejected")
		return err
	}

	e.log.Info().
		Str("previous_owner", previous.String()).
		Str("new_owner", callerID.String()).
		Msg("ownership transferred")
	e.emit(&event.OwnershipTransferred{
		OperationID:   operationID,
		PreviousOwner: previous,
		NewOwner:      callerID,
		Timestamp:     e.now(),
	}, nil)
	return nil
}

// === Queries ===

// Strategy returns a copy of the active loop parameters
func (e *Engine) Strategy() config.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// Position returns the owner's open position, if any
func (e *Engine) Position(ownerID uuid.UUID) (state.Position, bool) {
	return e.positions.Get(ownerID)
}

// HealthFactor evaluates the owner's current health factor against live prices
func (e *Engine) HealthFactor(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	pos, ok := e.positions.Get(ownerID)
	if !ok {
		return 0, fmt.Errorf("%w: no open position for owner %s", ErrPositionConflict, ownerID)
	}
	return e.health.Evaluate(ctx, &pos)
}

// SecurityStatus returns the current security flags
func (e *Engine) SecurityStatus() state.SecurityStatus {
	return e.security.Status()
}

// RiskSummary is the aggregate exposure view served by the API
type RiskSummary struct {
	OpenPositions    int   `json:"open_positions"`
	TotalValueLocked int64 `json:"tvl"`
	TotalBorrowed    int64 `json:"total_borrowed"`
	TotalPrincipal   int64 `json:"total_principal_claims"`
	TotalYield       int64 `json:"total_yield_claims"`
}

// Risk aggregates exposure across all open positions
func (e *Engine) Risk() RiskSummary {
	summary := RiskSummary{
		OpenPositions:    e.positions.Count(),
		TotalValueLocked: e.positions.TotalValueLocked(),
	}
	for _, pos := range e.positions.Snapshot() {
		summary.TotalBorrowed += pos.BorrowedAmount
		summary.TotalPrincipal += pos.PrincipalClaimAmount
		summary.TotalYield += pos.YieldClaimAmount
	}
	e.metrics.TotalDebt.Set(float64(summary.TotalBorrowed))
	return summary
}

// Balances exposes read-only ledger queries for the API layer
func (e *Engine) Balances(ownerID uuid.UUID) map[string]int64 {
	return map[string]int64{
		"collateral":       e.tracker.GetUserCollateral(ownerID, e.baseAssetID),
		"debt":             e.tracker.GetUserDebt(ownerID, e.baseAssetID),
		"principal_claims": e.tracker.GetUserPrincipalClaims(ownerID, e.principalID),
		"yield_claims":     e.tracker.GetUserYieldClaims(ownerID, e.yieldID),
	}
}

// Owner returns the current control owner
func (e *Engine) Owner() uuid.UUID {
	return e.acl.Owner()
}

// WithdrawalRecipient returns the fixed emergency payout identity
func (e *Engine) WithdrawalRecipient() uuid.UUID {
	return e.acl.WithdrawalRecipient()
}
