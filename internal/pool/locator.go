package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lp-range-alerts/internal/chain"
)

// Protocol identifies the pool-discovery strategy for a network.
type Protocol string

const (
	UniswapV3 Protocol = "UniswapV3"
	Aerodrome Protocol = "Aerodrome"
	Shadow    Protocol = "Shadow"
)

// ParseProtocol validates a configured protocol tag. Unknown tags are a
// configuration error and must be rejected at startup, never per-position.
func ParseProtocol(tag string) (Protocol, error) {
	switch Protocol(tag) {
	case UniswapV3, Aerodrome, Shadow:
		return Protocol(tag), nil
	}
	return "", fmt.Errorf("unsupported protocol %q", tag)
}

// ErrPoolNotFound signals that the factory knows no pool for the pair.
var ErrPoolNotFound = errors.New("pool not found for pair")

// Pair identifies a pool by its token pair and fee tier.
type Pair struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint32
}

// Locator resolves the liquidity-pool address for a token pair.
type Locator interface {
	PoolAddress(ctx context.Context, pair Pair) (common.Address, error)
}

// Querier is the subset of the chain gateway the queried strategy needs.
type Querier interface {
	PoolByPair(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
}

// ForProtocol selects the locator strategy for a protocol.
func ForProtocol(protocol Protocol, factory common.Address, querier Querier) (Locator, error) {
	switch protocol {
	case UniswapV3:
		return &DerivedLocator{Factory: factory}, nil
	case Aerodrome, Shadow:
		return &QueriedLocator{Querier: querier}, nil
	}
	return nil, fmt.Errorf("unsupported protocol %q", protocol)
}

// uniswapV3PoolInitCodeHash is the keccak hash of the UniswapV3Pool creation
// bytecode, fixed across every canonical factory deployment.
var uniswapV3PoolInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")

var saltArguments abi.Arguments

func init() {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic("failed to build address abi type: " + err.Error())
	}
	uint24Type, err := abi.NewType("uint24", "", nil)
	if err != nil {
		panic("failed to build uint24 abi type: " + err.Error())
	}
	saltArguments = abi.Arguments{
		{Type: addressType},
		{Type: addressType},
		{Type: uint24Type},
	}
}

// DerivedLocator computes the pool address offline from the factory's CREATE2
// deployment pattern; no chain call is made.
type DerivedLocator struct {
	Factory common.Address
}

// PoolAddress derives the deterministic pool address for the pair.
func (l *DerivedLocator) PoolAddress(_ context.Context, pair Pair) (common.Address, error) {
	t0, t1 := chain.SortTokens(pair.Token0, pair.Token1)

	encoded, err := saltArguments.Pack(t0, t1, big.NewInt(int64(pair.Fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("encode pool salt: %w", err)
	}

	salt := crypto.Keccak256Hash(encoded)
	return crypto.CreateAddress2(l.Factory, salt, uniswapV3PoolInitCodeHash.Bytes()), nil
}

// QueriedLocator asks the protocol's pool factory for the pool address. The
// factory lookup is order-sensitive, so tokens are canonicalised by the
// gateway before the call.
type QueriedLocator struct {
	Querier Querier
}

// PoolAddress fetches the pool from the factory's getPool view.
func (l *QueriedLocator) PoolAddress(ctx context.Context, pair Pair) (common.Address, error) {
	addr, err := l.Querier.PoolByPair(ctx, pair.Token0, pair.Token1, pair.Fee)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, ErrPoolNotFound
	}
	return addr, nil
}

var (
	_ Locator = (*DerivedLocator)(nil)
	_ Locator = (*QueriedLocator)(nil)
)
