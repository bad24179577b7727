package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"LoopVault/internal/market"
)

// Aave-style pool surface, reduced to the calls the engine issues.
const lendingPoolABI = `[
	{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
	{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]},
	{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[]}
]`

// Lending drives an on-chain pool contract. Returned amounts echo the
// request after a successful receipt; the transfer guard measures the
// authoritative ERC-20 balance deltas around every interaction.
type Lending struct {
	backend  *Backend
	contract *bind.BoundContract
}

func NewLending(backend *Backend, poolAddress common.Address) (*Lending, error) {
	contract, err := backend.boundContract(poolAddress, lendingPoolABI)
	if err != nil {
		return nil, err
	}
	return &Lending{backend: backend, contract: contract}, nil
}

func (l *Lending) Supply(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	info, err := l.backend.token(asset)
	if err != nil {
		return 0, err
	}
	native, err := l.backend.toNative(asset, amount)
	if err != nil {
		return 0, err
	}
	if err := l.backend.transact(ctx, l.contract, "supply", info.Address, native, l.backend.Sender()); err != nil {
		return 0, err
	}
	return amount, nil
}

func (l *Lending) Borrow(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	info, err := l.backend.token(asset)
	if err != nil {
		return 0, err
	}
	native, err := l.backend.toNative(asset, amount)
	if err != nil {
		return 0, err
	}
	if err := l.backend.transact(ctx, l.contract, "borrow", info.Address, native, l.backend.Sender()); err != nil {
		return 0, err
	}
	return amount, nil
}

func (l *Lending) Withdraw(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	info, err := l.backend.token(asset)
	if err != nil {
		return 0, err
	}
	native, err := l.backend.toNative(asset, amount)
	if err != nil {
		return 0, err
	}
	if err := l.backend.transact(ctx, l.contract, "withdraw", info.Address, native, l.backend.Sender()); err != nil {
		return 0, err
	}
	return amount, nil
}

func (l *Lending) Repay(ctx context.Context, asset market.Asset, amount int64) (int64, error) {
	info, err := l.backend.token(asset)
	if err != nil {
		return 0, err
	}
	native, err := l.backend.toNative(asset, amount)
	if err != nil {
		return 0, err
	}
	if err := l.backend.transact(ctx, l.contract, "repay", info.Address, native, l.backend.Sender()); err != nil {
		return 0, err
	}
	return amount, nil
}
