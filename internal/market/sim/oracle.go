package sim

import (
	"context"
	"fmt"
	"sync"

	"LoopVault/internal/market"
)

// Oracle serves settable fixed prices at price scale (1e8 per whole unit)
type Oracle struct {
	mu     sync.RWMutex
	prices map[market.Asset]int64
}

func NewOracle() *Oracle {
	return &Oracle{prices: make(map[market.Asset]int64)}
}

// SetPrice sets an asset price (1e8 = 1.00)
func (o *Oracle) SetPrice(asset market.Asset, price int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price
}

func (o *Oracle) Price(_ context.Context, asset market.Asset) (int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[asset]
	if !ok {
		return 0, fmt.Errorf("no price for asset %s", asset)
	}
	return price, nil
}
