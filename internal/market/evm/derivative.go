package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"LoopVault/internal/market"
)

// Tokenizer router surface: splits base into a principal/yield pair and
// reassembles it. Mint reports the claim amounts it issued.
const tokenizerABI = `[
	{"name":"mint","type":"function","stateMutability":"nonpayable","inputs":[{"name":"baseAmount","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"principalOut","type":"uint256"},{"name":"yieldOut","type":"uint256"}]},
	{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"principalAmount","type":"uint256"},{"name":"yieldAmount","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"baseOut","type":"uint256"}]},
	{"name":"previewMint","type":"function","stateMutability":"view","inputs":[{"name":"baseAmount","type":"uint256"}],"outputs":[{"name":"principalOut","type":"uint256"},{"name":"yieldOut","type":"uint256"}]},
	{"name":"previewRedeem","type":"function","stateMutability":"view","inputs":[{"name":"principalAmount","type":"uint256"},{"name":"yieldAmount","type":"uint256"}],"outputs":[{"name":"baseOut","type":"uint256"}]}
]`

type Derivative struct {
	backend   *Backend
	contract  *bind.BoundContract
	base      market.Asset
	principal market.Asset
	yield     market.Asset
}

func NewDerivative(backend *Backend, tokenizerAddress common.Address, base, principal, yield market.Asset) (*Derivative, error) {
	contract, err := backend.boundContract(tokenizerAddress, tokenizerABI)
	if err != nil {
		return nil, err
	}
	return &Derivative{
		backend:   backend,
		contract:  contract,
		base:      base,
		principal: principal,
		yield:     yield,
	}, nil
}

func (d *Derivative) Mint(ctx context.Context, baseAmount int64) (market.MintResult, error) {
	native, err := d.backend.toNative(d.base, baseAmount)
	if err != nil {
		return market.MintResult{}, err
	}

	// Preview gives the claim amounts; the transaction must then issue them
	// or revert. The transfer guard verifies the deltas either way.
	var out []interface{}
	if err := d.backend.call(ctx, d.contract, &out, "previewMint", native); err != nil {
		return market.MintResult{}, err
	}
	principalNative := *abiBigInt(out, 0)
	yieldNative := *abiBigInt(out, 1)

	if err := d.backend.transact(ctx, d.contract, "mint", native, d.backend.Sender()); err != nil {
		return market.MintResult{}, err
	}

	principalOut, err := d.backend.fromNative(d.principal, &principalNative)
	if err != nil {
		return market.MintResult{}, err
	}
	yieldOut, err := d.backend.fromNative(d.yield, &yieldNative)
	if err != nil {
		return market.MintResult{}, err
	}
	return market.MintResult{PrincipalOut: principalOut, YieldOut: yieldOut}, nil
}

func (d *Derivative) Redeem(ctx context.Context, principalAmount, yieldAmount int64) (int64, error) {
	principalNative, err := d.backend.toNative(d.principal, principalAmount)
	if err != nil {
		return 0, err
	}
	yieldNative, err := d.backend.toNative(d.yield, yieldAmount)
	if err != nil {
		return 0, err
	}

	var out []interface{}
	if err := d.backend.call(ctx, d.contract, &out, "previewRedeem", principalNative, yieldNative); err != nil {
		return 0, err
	}
	baseNative := *abiBigInt(out, 0)

	if err := d.backend.transact(ctx, d.contract, "redeem", principalNative, yieldNative, d.backend.Sender()); err != nil {
		return 0, err
	}

	return d.backend.fromNative(d.base, &baseNative)
}

// abiBigInt extracts a *big.Int output, tolerating a short result slice
func abiBigInt(out []interface{}, idx int) *big.Int {
	if idx >= len(out) {
		return new(big.Int)
	}
	if v, ok := out[idx].(*big.Int); ok {
		return v
	}
	return new(big.Int)
}
