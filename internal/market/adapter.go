package market

import (
	"context"
)

// Asset is a symbolic asset identifier ("USDE", "PT-USDE", ...)
type Asset string

// MintResult carries the claim amounts produced by a derivative mint
type MintResult struct {
	PrincipalOut int64
	YieldOut     int64
}

// LendingMarket is the collateral/borrow capability of an external venue.
// All amount parameters and returns are fixed-point at quote scale; returns
// are the amounts the venue reports as actually moved.
type LendingMarket interface {
	// Supply posts collateral, returning the amount accepted
	Supply(ctx context.Context, asset Asset, amount int64) (int64, error)

	// Borrow draws the asset against posted collateral
	Borrow(ctx context.Context, asset Asset, amount int64) (int64, error)

	// Withdraw pulls collateral back out
	Withdraw(ctx context.Context, asset Asset, amount int64) (int64, error)

	// Repay returns borrowed funds, reducing the outstanding debt
	Repay(ctx context.Context, asset Asset, amount int64) (int64, error)
}

// DerivativeMarket splits a base amount into principal and yield claims
// and reassembles them.
type DerivativeMarket interface {
	// Mint consumes baseAmount and issues the claim pair
	Mint(ctx context.Context, baseAmount int64) (MintResult, error)

	// Redeem burns claims and returns the base amount received
	Redeem(ctx context.Context, principalAmount, yieldAmount int64) (int64, error)
}

// SwapVenue exchanges one asset for another
type SwapVenue interface {
	Swap(ctx context.Context, in Asset, amountIn int64, out Asset, minOut int64) (int64, error)
}

// PriceOracle returns asset prices at price scale (1e8) per whole unit
type PriceOracle interface {
	Price(ctx context.Context, asset Asset) (int64, error)
}

// TokenPort moves tokens between wallets and reads balances. The transfer
// guard wraps it to measure deltas, so implementations need not account for
// transfer fees themselves.
type TokenPort interface {
	BalanceOf(ctx context.Context, asset Asset, holder string) (int64, error)
	Pull(ctx context.Context, asset Asset, from string, amount int64) error
	Push(ctx context.Context, asset Asset, to string, amount int64) error
}

// Adapters bundles the external collaborators of one configured backend
type Adapters struct {
	Lending    LendingMarket
	Derivative DerivativeMarket
	Swap       SwapVenue
	Oracle     PriceOracle
	Tokens     TokenPort
}
