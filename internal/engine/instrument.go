package engine

import (
	"context"
	"time"

	"LoopVault/internal/market"
	"LoopVault/internal/observability"
)

// instrumentAdapters wraps every venue port with call, error and latency
// metrics so venue behavior is visible without touching the adapters.
func instrumentAdapters(a market.Adapters, m *observability.Metrics) market.Adapters {
	return market.Adapters{
		Lending:    &instrumentedLending{inner: a.Lending, metrics: m},
		Derivative: &instrumentedDerivative{inner: a.Derivative, metrics: m},
		Swap:       &instrumentedSwap{inner: a.Swap, metrics: m},
		Oracle:     &instrumentedOracle{inner: a.Oracle, metrics: m},
		Tokens:     &instrumentedTokens{inner: a.Tokens, metrics: m},
	}
}

func observeCall(m *observability.Metrics, venue, method string, start time.Time, err error) {
	m.ExternalCalls.WithLabelValues(venue, method).Inc()
	m.ExternalCallLatency.WithLabelValues(venue, method).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ExternalCallErrors.WithLabelValues(venue, method).Inc()
	}
}

type instrumentedLending struct {
	inner   market.LendingMarket
	metrics *observability.Metrics
}

func (l *instrumentedLending) Supply(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	start := time.Now()
	out, err := l.inner.Supply(ctx, asset, amount)
	observeCall(l.metrics, "lending", "supply", start, err)
	return out, err
}

func (l *instrumentedLending) Borrow(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	start := time.Now()
	out, err := l.inner.Borrow(ctx, asset, amount)
	observeCall(l.metrics, "lending", "borrow", start, err)
	return out, err
}

func (l *instrumentedLending) Withdraw(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	start := time.Now()
	out, err := l.inner.Withdraw(ctx, asset, amount)
	observeCall(l.metrics, "lending", "withdraw", start, err)
	return out, err
}

func (l *instrumentedLending) Repay(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	start := time.Now()
	out, err := l.inner.Repay(ctx, asset, amount)
	observeCall(l.metrics, "lending", "repay", start, err)
	return out, err
}

type instrumentedDerivative struct {
	inner   market.DerivativeMarket
	metrics *observability.Metrics
}

func (d *instrumentedDerivative) Mint(ctx context.Context, baseAmount int64) (market.MintResult, error) {
	start := time.Now()
	out, err := d.inner.Mint(ctx, baseAmount)
	observeCall(d.metrics, "derivative", "mint", start, err)
	return out, err
}

func (d *instrumentedDerivative) Redeem(ctx context.Context, principalAmount, yieldAmount int64) (int64, error) {
	start := time.Now()
	out, err := d.inner.Redeem(ctx, principalAmount, yieldAmount)
	observeCall(d.metrics, "derivative", "redeem", start, err)
	return out, err
}

type instrumentedSwap struct {
	inner   market.SwapVenue
	metrics *observability.Metrics
}

func (s *instrumentedSwap) Swap(ctx context.Context, in market.Asset, amountIn int64, out market.Asset, minOut int64) (int64, error) {
	start := time.Now()
	delivered, err := s.inner.Swap(ctx, in, amountIn, out, minOut)
	observeCall(s.metrics, "swap", "swap", start, err)
	return delivered, err
}

type instrumentedOracle struct {
	inner   market.PriceOracle
	metrics *observability.Metrics
}

func (o *instrumentedOracle) Price(ctx context.Context, asset market.Asset) (int64, error) {
	start := time.Now()
	price, err := o.inner.Price(ctx, asset)
	observeCall(o.metrics, "oracle", "price", start, err)
	return price, err
}

type instrumentedTokens struct {
	inner   market.TokenPort
	metrics *observability.Metrics
}

func (t *instrumentedTokens) BalanceOf(ctx context.Context, asset market.Asset, holder string) (int64, error) {
	start := time.Now()
	balance, err := t.inner.BalanceOf(ctx, asset, holder)
	observeCall(t.metrics, "tokens", "balance_of", start, err)
	return balance, err
}

func (t *instrumentedTokens) Pull(ctx context.Context, asset market.Asset, from string, amount int64) error {
	start := time.Now()
	err := t.inner.Pull(ctx, asset, from, amount)
	observeCall(t.metrics, "tokens", "pull", start, err)
	return err
}

func (t *instrumentedTokens) Push(ctx context.Context, asset market.Asset, to string, amount int64) error {
	start := time.Now()
	err := t.inner.Push(ctx, asset, to, amount)
	observeCall(t.metrics, "tokens", "push", start, err)
	return err
}
