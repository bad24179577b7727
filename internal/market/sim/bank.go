package sim

import (
	"context"
	"fmt"
	"sync"

	"LoopVault/internal/market"
)

// Bank is an in-memory token registry shared by the simulated venues.
// A per-asset transfer fee (bps, taken from the delivered amount) models
// fee-on-transfer tokens.
type Bank struct {
	mu       sync.Mutex
	balances map[market.Asset]map[string]int64
	feeBps   map[market.Asset]int64
}

func NewBank() *Bank {
	return &Bank{
		balances: make(map[market.Asset]map[string]int64),
		feeBps:   make(map[market.Asset]int64),
	}
}

// SetTransferFeeBps makes an asset fee-on-transfer (100 bps = 1%)
func (b *Bank) SetTransferFeeBps(asset market.Asset, bps int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feeBps[asset] = bps
}

// Mint credits a holder out of thin air (issuance and test setup)
func (b *Bank) Mint(asset market.Asset, holder string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, holder, amount)
}

// Burn debits a holder, failing on insufficient balance
func (b *Bank) Burn(asset market.Asset, holder string, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.debit(asset, holder, amount)
}

// Balance returns the holder's balance
func (b *Bank) Balance(asset market.Asset, holder string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[asset][holder]
}

// Transfer moves amount from one holder to another and returns the amount
// actually delivered after the transfer fee.
func (b *Bank) Transfer(asset market.Asset, from, to string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.debit(asset, from, amount); err != nil {
		return 0, err
	}

	fee := amount * b.feeBps[asset] / 10_000
	delivered := amount - fee
	b.credit(asset, to, delivered)
	return delivered, nil
}

func (b *Bank) credit(asset market.Asset, holder string, amount int64) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[string]int64)
	}
	b.balances[asset][holder] += amount
}

func (b *Bank) debit(asset market.Asset, holder string, amount int64) error {
	if b.balances[asset][holder] < amount {
		return fmt.Errorf("insufficient %s balance for %s: have %d, need %d",
			asset, holder, b.balances[asset][holder], amount)
	}
	b.balances[asset][holder] -= amount
	return nil
}

// Tokens adapts the bank to market.TokenPort, bound to the engine's wallet
type Tokens struct {
	bank   *Bank
	engine string
}

func NewTokens(bank *Bank, engineWallet string) *Tokens {
	return &Tokens{bank: bank, engine: engineWallet}
}

func (t *Tokens) BalanceOf(_ context.Context, asset market.Asset, holder string) (int64, error) {
	return t.bank.Balance(asset, holder), nil
}

func (t *Tokens) Pull(_ context.Context, asset market.Asset, from string, amount int64) error {
	_, err := t.bank.Transfer(asset, from, t.engine, amount)
	return err
}

func (t *Tokens) Push(_ context.Context, asset market.Asset, to string, amount int64) error {
	_, err := t.bank.Transfer(asset, t.engine, to, amount)
	return err
}
