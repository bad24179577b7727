package engine

import (
	"context"
	"fmt"

	"LoopVault/internal/market"
)

// TransferGuard measures every token movement by balance delta, so
// fee-on-transfer assets are accounted at what actually arrived rather
// than what was requested.
type TransferGuard struct {
	tokens       market.TokenPort
	engineWallet string
}

func NewTransferGuard(tokens market.TokenPort, engineWallet string) *TransferGuard {
	return &TransferGuard{tokens: tokens, engineWallet: engineWallet}
}

// PullMeasured moves amount from a wallet into the engine and returns the
// measured received amount.
func (tg *TransferGuard) PullMeasured(ctx context.Context, asset market.Asset, from string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: pull amount must be positive, got %d", ErrInvalidInput, amount)
	}

	before, err := tg.tokens.BalanceOf(ctx, asset, tg.engineWallet)
	if err != nil {
		return 0, fmt.Errorf("%w: balance read: %v", ErrExternalCallFailed, err)
	}

	if err := tg.tokens.Pull(ctx, asset, from, amount); err != nil {
		return 0, fmt.Errorf("%w: pull %s: %v", ErrExternalCallFailed, asset, err)
	}

	after, err := tg.tokens.BalanceOf(ctx, asset, tg.engineWallet)
	if err != nil {
		return 0, fmt.Errorf("%w: balance read: %v", ErrExternalCallFailed, err)
	}

	received := after - before
	if received <= 0 {
		return 0, fmt.Errorf("%w: transfer of %d delivered nothing", ErrExternalCallFailed, amount)
	}
	return received, nil
}

// PushMeasured moves amount from the engine to a wallet and returns the
// measured delivered amount.
func (tg *TransferGuard) PushMeasured(ctx context.Context, asset market.Asset, to string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: push amount must be positive, got %d", ErrInvalidInput, amount)
	}

	before, err := tg.tokens.BalanceOf(ctx, asset, to)
	if err != nil {
		return 0, fmt.Errorf("%w: balance read: %v", ErrExternalCallFailed, err)
	}

	if err := tg.tokens.Push(ctx, asset, to, amount); err != nil {
		return 0, fmt.Errorf("%w: push %s: %v", ErrExternalCallFailed, asset, err)
	}

	after, err := tg.tokens.BalanceOf(ctx, asset, to)
	if err != nil {
		return 0, fmt.Errorf("%w: balance read: %v", ErrExternalCallFailed, err)
	}

	delivered := after - before
	if delivered <= 0 {
		return 0, fmt.Errorf("%w: transfer of %d delivered nothing", ErrExternalCallFailed, amount)
	}
	return delivered, nil
}

// EngineBalance reads the engine's own balance of an asset
func (tg *TransferGuard) EngineBalance(ctx context.Context, asset market.Asset) (int64, error) {
	balance, err := tg.tokens.BalanceOf(ctx, asset, tg.engineWallet)
	if err != nil {
		return 0, fmt.Errorf("%w: balance read: %v", ErrExternalCallFailed, err)
	}
	return balance, nil
}
