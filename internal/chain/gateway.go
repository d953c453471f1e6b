package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lp-range-alerts/internal/config"
)

// Position mirrors the on-chain record of a concentrated-liquidity stake.
type Position struct {
	ID        *big.Int
	Token0    common.Address
	Token1    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
}

// Options parameterise a per-network gateway.
type Options struct {
	Network        config.Network
	RequestTimeout time.Duration
	RateLimit      float64 // calls per second, 0 disables limiting
}

// Gateway is a read-only handle onto one network's contract set. Every call
// carries its own timeout and fails independently; no retries happen at this
// layer.
type Gateway struct {
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	proxyFactory    common.Address
	positionManager common.Address
	poolFactory     common.Address

	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewGateway builds a gateway for one network descriptor. The RPC connection
// is dialed lazily on first use.
func NewGateway(opts Options, logger zerolog.Logger) *Gateway {
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Gateway{
		opts:            opts,
		logger:          logger.With().Str("component", "chain_gateway").Str("network", opts.Network.Name).Logger(),
		limiter:         limiter,
		proxyFactory:    common.HexToAddress(opts.Network.ProxyFactory),
		positionManager: common.HexToAddress(opts.Network.PositionManager),
		poolFactory:     common.HexToAddress(opts.Network.PoolFactory),
	}
}

// Network returns the descriptor this gateway serves.
func (g *Gateway) Network() config.Network {
	return g.opts.Network
}

// ResolveProxyWallet looks up the proxy wallet deployed for owner. A zero
// address from the factory means no wallet exists; that is reported as
// found=false, not as an error.
func (g *Gateway) ResolveProxyWallet(ctx context.Context, owner common.Address) (common.Address, bool, error) {
	outputs, err := g.call(ctx, g.proxyFactory, proxyFactoryABI, "getSickleAddress", owner)
	if err != nil {
		return common.Address{}, false, err
	}

	wallet, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, false, g.wrap("getSickleAddress", errors.New("unexpected output type"))
	}
	if wallet == (common.Address{}) {
		return common.Address{}, false, nil
	}
	return wallet, true, nil
}

// ListPositionIDs enumerates the position identifiers ever transferred into
// wallet, via the position manager's Transfer event log from genesis. The set
// over-approximates current ownership; callers correct it by checking
// liquidity. If the log query itself fails (some providers reject unbounded
// ranges), enumeration falls back to balanceOf plus index lookups.
func (g *Gateway) ListPositionIDs(ctx context.Context, wallet common.Address) ([]*big.Int, error) {
	ids, err := g.positionIDsFromLogs(ctx, wallet)
	if err == nil {
		return ids, nil
	}

	g.logger.Warn().Err(err).Str("wallet", wallet.Hex()).Msg("transfer log query failed, using index enumeration")
	return g.positionIDsByIndex(ctx, wallet)
}

func (g *Gateway) positionIDsFromLogs(ctx context.Context, wallet common.Address) ([]*big.Int, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		Addresses: []common.Address{g.positionManager},
		Topics: [][]common.Hash{
			{transferTopic},
			nil, // any sender
			{common.BytesToHash(wallet.Bytes())},
		},
	}

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return nil, g.wrap("filter transfer logs", err)
	}

	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, g.wrap("filter transfer logs", err)
	}

	seen := make(map[string]struct{}, len(logs))
	ids := make([]*big.Int, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 4 {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[3].Bytes())
		key := id.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (g *Gateway) positionIDsByIndex(ctx context.Context, wallet common.Address) ([]*big.Int, error) {
	outputs, err := g.call(ctx, g.positionManager, positionManagerABI, "balanceOf", wallet)
	if err != nil {
		return nil, err
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, g.wrap("balanceOf", errors.New("unexpected output type"))
	}

	count := balance.Int64()
	ids := make([]*big.Int, 0, count)
	for i := int64(0); i < count; i++ {
		outputs, err := g.call(ctx, g.positionManager, positionManagerABI, "tokenOfOwnerByIndex", wallet, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		id, ok := outputs[0].(*big.Int)
		if !ok {
			return nil, g.wrap("tokenOfOwnerByIndex", errors.New("unexpected output type"))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PositionByID reads the full position record for one identifier.
func (g *Gateway) PositionByID(ctx context.Context, id *big.Int) (Position, error) {
	outputs, err := g.call(ctx, g.positionManager, positionManagerABI, "positions", id)
	if err != nil {
		return Position{}, err
	}
	if len(outputs) != 12 {
		return Position{}, g.wrap("positions", fmt.Errorf("expected 12 outputs, got %d", len(outputs)))
	}

	token0, ok0 := outputs[2].(common.Address)
	token1, ok1 := outputs[3].(common.Address)
	fee, ok2 := outputs[4].(*big.Int)
	tickLower, ok3 := outputs[5].(*big.Int)
	tickUpper, ok4 := outputs[6].(*big.Int)
	liquidity, ok5 := outputs[7].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Position{}, g.wrap("positions", errors.New("unexpected output types"))
	}

	return Position{
		ID:        new(big.Int).Set(id),
		Token0:    token0,
		Token1:    token1,
		Fee:       uint32(fee.Uint64()),
		TickLower: int32(tickLower.Int64()),
		TickUpper: int32(tickUpper.Int64()),
		Liquidity: liquidity,
	}, nil
}

// PoolTick reads the pool's current price tick from slot0.
func (g *Gateway) PoolTick(ctx context.Context, pool common.Address) (int32, error) {
	outputs, err := g.call(ctx, pool, poolABI, "slot0")
	if err != nil {
		return 0, err
	}
	if len(outputs) < 2 {
		return 0, g.wrap("slot0", errors.New("truncated slot0 response"))
	}
	tick, ok := outputs[1].(*big.Int)
	if !ok {
		return 0, g.wrap("slot0", errors.New("unexpected tick type"))
	}
	return int32(tick.Int64()), nil
}

// PoolByPair asks the pool factory for the pool of (tokenA, tokenB, fee).
// Tokens are passed in canonical ascending-address order because the factory
// mapping is order-sensitive.
func (g *Gateway) PoolByPair(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	t0, t1 := SortTokens(tokenA, tokenB)
	outputs, err := g.call(ctx, g.poolFactory, poolFactoryABI, "getPool", t0, t1, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	pool, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, g.wrap("getPool", errors.New("unexpected output type"))
	}
	return pool, nil
}

// SortTokens orders a token pair by ascending address value.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

func (g *Gateway) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return nil, g.wrap(method, err)
	}

	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, g.wrap(method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, g.wrap(method, err)
	}

	outputs, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, g.wrap(method, err)
	}
	if len(outputs) == 0 {
		return nil, g.wrap(method, errors.New("empty response"))
	}
	return outputs, nil
}

func (g *Gateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.opts.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return g.wrap("rate limit", err)
	}
	return nil
}

func (g *Gateway) wrap(call string, err error) error {
	return fmt.Errorf("%s: %s: %w", g.opts.Network.Name, call, err)
}

func (g *Gateway) getClient(ctx context.Context) (*ethclient.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := ethclient.DialContext(ctx, g.opts.Network.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
}
