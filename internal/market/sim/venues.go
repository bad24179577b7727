package sim

import (
	"context"
	"fmt"
	"sync"

	"LoopVault/internal/market"
)

// Lending is a deterministic in-memory lending market. It tracks supplied
// collateral and outstanding borrows but charges no interest; liquidity must
// be pre-minted into its wallet.
type Lending struct {
	bank   *Bank
	engine string // Engine wallet
	wallet string // Venue wallet

	mu       sync.Mutex
	supplied map[market.Asset]int64
	borrowed map[market.Asset]int64
}

func NewLending(bank *Bank, engineWallet, venueWallet string) *Lending {
	return &Lending{
		bank:     bank,
		engine:   engineWallet,
		wallet:   venueWallet,
		supplied: make(map[market.Asset]int64),
		borrowed: make(map[market.Asset]int64),
	}
}

func (l *Lending) Supply(_ context.Context, asset market.Asset, amount int64) (int64, error) {
	delivered, err := l.bank.Transfer(asset, l.engine, l.wallet, amount)
	if err != nil {
		return 0, fmt.Errorf("supply: %w", err)
	}
	l.mu.Lock()
	l.supplied[asset] += delivered
	l.mu.Unlock()
	return delivered, nil
}

func (l *Lending) Borrow(_ context.Context, asset market.Asset, amount int64) (int64, error) {
	delivered, err := l.bank.Transfer(asset, l.wallet, l.engine, amount)
	if err != nil {
		return 0, fmt.Errorf("borrow: %w", err)
	}
	l.mu.Lock()
	l.borrowed[asset] += amount
	l.mu.Unlock()
	return delivered, nil
}

func (l *Lending) Withdraw(_ context.Context, asset market.Asset, amount int64) (int64, error) {
	l.mu.Lock()
	if l.supplied[asset] < amount {
		have := l.supplied[asset]
		l.mu.Unlock()
		return 0, fmt.Errorf("withdraw: supplied %d < requested %d", have, amount)
	}
	l.supplied[asset] -= amount
	l.mu.Unlock()

	delivered, err := l.bank.Transfer(asset, l.wallet, l.engine, amount)
	if err != nil {
		return 0, fmt.Errorf("withdraw: %w", err)
	}
	return delivered, nil
}

func (l *Lending) Repay(_ context.Context, asset market.Asset, amount int64) (int64, error) {
	delivered, err := l.bank.Transfer(asset, l.engine, l.wallet, amount)
	if err != nil {
		return 0, fmt.Errorf("repay: %w", err)
	}
	l.mu.Lock()
	l.borrowed[asset] -= amount
	if l.borrowed[asset] < 0 {
		l.borrowed[asset] = 0
	}
	l.mu.Unlock()
	return delivered, nil
}

// Outstanding returns the recorded borrow for inspection in tests
func (l *Lending) Outstanding(asset market.Asset) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.borrowed[asset]
}

// Derivative mints a 1:1 principal/yield claim pair against the base asset
// and redeems principal claims at par.
type Derivative struct {
	bank      *Bank
	engine    string
	wallet    string
	base      market.Asset
	principal market.Asset
	yield     market.Asset
}

func NewDerivative(bank *Bank, engineWallet, venueWallet string, base, principal, yield market.Asset) *Derivative {
	return &Derivative{
		bank:      bank,
		engine:    engineWallet,
		wallet:    venueWallet,
		base:      base,
		principal: principal,
		yield:     yield,
	}
}

func (d *Derivative) Mint(_ context.Context, baseAmount int64) (market.MintResult, error) {
	delivered, err := d.bank.Transfer(d.base, d.engine, d.wallet, baseAmount)
	if err != nil {
		return market.MintResult{}, fmt.Errorf("mint: %w", err)
	}

	// Claims are issued against the base actually received
	d.bank.Mint(d.principal, d.engine, delivered)
	d.bank.Mint(d.yield, d.engine, delivered)

	return market.MintResult{PrincipalOut: delivered, YieldOut: delivered}, nil
}

func (d *Derivative) Redeem(_ context.Context, principalAmount, yieldAmount int64) (int64, error) {
	if err := d.bank.Burn(d.principal, d.engine, principalAmount); err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}
	if yieldAmount > 0 {
		if err := d.bank.Burn(d.yield, d.engine, yieldAmount); err != nil {
			return 0, fmt.Errorf("redeem: %w", err)
		}
	}

	delivered, err := d.bank.Transfer(d.base, d.wallet, d.engine, principalAmount)
	if err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}
	return delivered, nil
}

// Swap exchanges assets at oracle prices minus a flat fee
type Swap struct {
	bank   *Bank
	engine string
	wallet string
	oracle market.PriceOracle
	feeBps int64
}

func NewSwap(bank *Bank, engineWallet, venueWallet string, oracle market.PriceOracle, feeBps int64) *Swap {
	return &Swap{
		bank:   bank,
		engine: engineWallet,
		wallet: venueWallet,
		oracle: oracle,
		feeBps: feeBps,
	}
}

func (s *Swap) Swap(ctx context.Context, in market.Asset, amountIn int64, out market.Asset, minOut int64) (int64, error) {
	priceIn, err := s.oracle.Price(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("swap: %w", err)
	}
	priceOut, err := s.oracle.Price(ctx, out)
	if err != nil {
		return 0, fmt.Errorf("swap: %w", err)
	}
	if priceOut <= 0 {
		return 0, fmt.Errorf("swap: non-positive price for %s", out)
	}

	amountOut := amountIn * priceIn / priceOut
	amountOut -= amountOut * s.feeBps / 10_000
	if amountOut < minOut {
		return 0, fmt.Errorf("swap: output %d below minimum %d", amountOut, minOut)
	}

	if _, err := s.bank.Transfer(in, s.engine, s.wallet, amountIn); err != nil {
		return 0, fmt.Errorf("swap: %w", err)
	}
	delivered, err := s.bank.Transfer(out, s.wallet, s.engine, amountOut)
	if err != nil {
		return 0, fmt.Errorf("swap: %w", err)
	}
	return delivered, nil
}
