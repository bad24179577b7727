package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"LoopVault/internal/market"
)

// Quote-scale amounts carry 6 decimals; on-chain tokens usually carry 18.
const quoteDecimals = 6

// TokenInfo describes one on-chain token
type TokenInfo struct {
	Address  common.Address
	Decimals int
}

// Backend holds the shared RPC client, signer and token metadata for all
// EVM adapters of one configured venue set.
type Backend struct {
	client *ethclient.Client
	opts   *bind.TransactOpts
	sender common.Address
	tokens map[market.Asset]TokenInfo
}

func Dial(ctx context.Context, rpcURL, privateKeyHex string, chainID int64, tokens map[market.Asset]TokenInfo) (*Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: invalid private key: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("evm: transactor: %w", err)
	}

	return &Backend{
		client: client,
		opts:   opts,
		sender: crypto.PubkeyToAddress(key.PublicKey),
		tokens: tokens,
	}, nil
}

// Sender returns the engine's on-chain address
func (b *Backend) Sender() common.Address {
	return b.sender
}

// Close releases the underlying RPC connection
func (b *Backend) Close() {
	b.client.Close()
}

func (b *Backend) token(asset market.Asset) (TokenInfo, error) {
	info, ok := b.tokens[asset]
	if !ok {
		return TokenInfo{}, fmt.Errorf("evm: unconfigured token %s", asset)
	}
	return info, nil
}

// toNative converts a quote-scale amount to the token's native precision
func (b *Backend) toNative(asset market.Asset, amount int64) (*big.Int, error) {
	info, err := b.token(asset)
	if err != nil {
		return nil, err
	}
	v := big.NewInt(amount)
	diff := info.Decimals - quoteDecimals
	switch {
	case diff > 0:
		v.Mul(v, pow10(diff))
	case diff < 0:
		v.Div(v, pow10(-diff))
	}
	return v, nil
}

// fromNative converts a native amount back to quote scale, truncating dust
func (b *Backend) fromNative(asset market.Asset, v *big.Int) (int64, error) {
	info, err := b.token(asset)
	if err != nil {
		return 0, err
	}
	scaled := new(big.Int).Set(v)
	diff := info.Decimals - quoteDecimals
	switch {
	case diff > 0:
		scaled.Div(scaled, pow10(diff))
	case diff < 0:
		scaled.Mul(scaled, pow10(-diff))
	}
	if !scaled.IsInt64() {
		return 0, fmt.Errorf("evm: amount %s overflows quote scale", v)
	}
	return scaled.Int64(), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// boundContract parses an ABI and binds it to the shared client
func (b *Backend) boundContract(addr common.Address, rawABI string) (*bind.BoundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse ABI: %w", err)
	}
	return bind.NewBoundContract(addr, parsed, b.client, b.client, b.client), nil
}

// transact submits a state-changing call and waits for inclusion.
// A reverted receipt is an error: callers treat it as a failed interaction.
func (b *Backend) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) error {
	opts := *b.opts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("evm: %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return fmt.Errorf("evm: %s: wait mined: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: %s: transaction %s reverted", method, tx.Hash())
	}
	return nil
}

// call performs a read-only contract call
func (b *Backend) call(ctx context.Context, contract *bind.BoundContract, out *[]interface{}, method string, args ...interface{}) error {
	if err := contract.Call(&bind.CallOpts{Context: ctx, From: b.sender}, out, method, args...); err != nil {
		return fmt.Errorf("evm: %s: %w", method, err)
	}
	return nil
}
