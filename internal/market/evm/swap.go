package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"LoopVault/internal/market"
)

const swapRouterABI = `[
	{"name":"swapExactIn","type":"function","stateMutability":"nonpayable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"name":"quote","type":"function","stateMutability":"view","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

type SwapVenue struct {
	backend  *Backend
	contract *bind.BoundContract
}

func NewSwapVenue(backend *Backend, routerAddress common.Address) (*SwapVenue, error) {
	contract, err := backend.boundContract(routerAddress, swapRouterABI)
	if err != nil {
		return nil, err
	}
	return &SwapVenue{backend: backend, contract: contract}, nil
}

func (s *SwapVenue) Swap(ctx context.Context, in market.Asset, amountIn int64, out market.Asset, minOut int64) (int64, error) {
	inInfo, err := s.backend.token(in)
	if err != nil {
		return 0, err
	}
	outInfo, err := s.backend.token(out)
	if err != nil {
		return 0, err
	}
	nativeIn, err := s.backend.toNative(in, amountIn)
	if err != nil {
		return 0, err
	}
	nativeMin, err := s.backend.toNative(out, minOut)
	if err != nil {
		return 0, err
	}

	var result []interface{}
	if err := s.backend.call(ctx, s.contract, &result, "quote", inInfo.Address, outInfo.Address, nativeIn); err != nil {
		return 0, err
	}
	quoted := *abiBigInt(result, 0)

	if err := s.backend.transact(ctx, s.contract, "swapExactIn",
		inInfo.Address, outInfo.Address, nativeIn, nativeMin, s.backend.Sender()); err != nil {
		return 0, err
	}

	return s.backend.fromNative(out, &quoted)
}
