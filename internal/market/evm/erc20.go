package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"LoopVault/internal/market"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Tokens implements market.TokenPort over ERC-20 contracts. Pull relies on
// a prior allowance from the holder to the engine address.
type Tokens struct {
	backend   *Backend
	contracts map[market.Asset]*bind.BoundContract
}

func NewTokens(backend *Backend) (*Tokens, error) {
	contracts := make(map[market.Asset]*bind.BoundContract, len(backend.tokens))
	for asset, info := range backend.tokens {
		contract, err := backend.boundContract(info.Address, erc20ABI)
		if err != nil {
			return nil, err
		}
		contracts[asset] = contract
	}
	return &Tokens{backend: backend, contracts: contracts}, nil
}

func (t *Tokens) contract(asset market.Asset) (*bind.BoundContract, error) {
	c, ok := t.contracts[asset]
	if !ok {
		return nil, fmt.Errorf("evm: unconfigured token %s", asset)
	}
	return c, nil
}

func (t *Tokens) BalanceOf(ctx context.Context, asset market.Asset, holder string) (int64, error) {
	c, err := t.contract(asset)
	if err != nil {
		return 0, err
	}

	var out []interface{}
	if err := t.backend.call(ctx, c, &out, "balanceOf", common.HexToAddress(holder)); err != nil {
		return 0, err
	}
	return t.backend.fromNative(asset, abiBigInt(out, 0))
}

func (t *Tokens) Pull(ctx context.Context, asset market.Asset, from string, amount int64) error {
	c, err := t.contract(asset)
	if err != nil {
		return err
	}
	native, err := t.backend.toNative(asset, amount)
	if err != nil {
		return err
	}
	return t.backend.transact(ctx, c, "transferFrom",
		common.HexToAddress(from), t.backend.Sender(), native)
}

func (t *Tokens) Push(ctx context.Context, asset market.Asset, to string, amount int64) error {
	c, err := t.contract(asset)
	if err != nil {
		return err
	}
	native, err := t.backend.toNative(asset, amount)
	if err != nil {
		return err
	}
	return t.backend.transact(ctx, c, "transfer", common.HexToAddress(to), native)
}
