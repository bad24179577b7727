package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"LoopVault/internal/market"
)

// Chainlink aggregator surface. Answers are normalized to price scale (1e8),
// which matches the aggregator's own default decimals for USD feeds.
const aggregatorABI = `[
	{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const oraclePriceDecimals = 8

// Oracle reads one aggregator feed per asset
type Oracle struct {
	backend *Backend
	feeds   map[market.Asset]*bind.BoundContract
}

func NewOracle(backend *Backend, feedAddresses map[market.Asset]common.Address) (*Oracle, error) {
	feeds := make(map[market.Asset]*bind.BoundContract, len(feedAddresses))
	for asset, addr := range feedAddresses {
		contract, err := backend.boundContract(addr, aggregatorABI)
		if err != nil {
			return nil, err
		}
		feeds[asset] = contract
	}
	return &Oracle{backend: backend, feeds: feeds}, nil
}

func (o *Oracle) Price(ctx context.Context, asset market.Asset) (int64, error) {
	feed, ok := o.feeds[asset]
	if !ok {
		return 0, fmt.Errorf("evm: no price feed for %s", asset)
	}

	var out []interface{}
	if err := o.backend.call(ctx, feed, &out, "latestRoundData"); err != nil {
		return 0, err
	}
	answer := abiBigInt(out, 1)
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("evm: non-positive answer for %s", asset)
	}

	var decOut []interface{}
	if err := o.backend.call(ctx, feed, &decOut, "decimals"); err != nil {
		return 0, err
	}
	decimals := oraclePriceDecimals
	if len(decOut) > 0 {
		if d, ok := decOut[0].(uint8); ok {
			decimals = int(d)
		}
	}

	normalized := new(big.Int).Set(answer)
	switch {
	case decimals > oraclePriceDecimals:
		normalized.Div(normalized, pow10(decimals-oraclePriceDecimals))
	case decimals < oraclePriceDecimals:
		normalized.Mul(normalized, pow10(oraclePriceDecimals-decimals))
	}
	if !normalized.IsInt64() {
		return 0, fmt.Errorf("evm: price for %s overflows", asset)
	}
	return normalized.Int64(), nil
}
