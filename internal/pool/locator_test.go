package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// Mainnet USDC/WETH 0.05%, the canonical CREATE2 vector for the Uniswap V3
// factory deployment pattern.
func TestDerivedLocatorKnownPool(t *testing.T) {
	locator := &DerivedLocator{Factory: common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")}

	got, err := locator.PoolAddress(context.Background(), Pair{
		Token0: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), // USDC
		Token1: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), // WETH
		Fee:    500,
	})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	want := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	if got != want {
		t.Fatalf("derived %s, want %s", got.Hex(), want.Hex())
	}
}

func TestDerivedLocatorOrderInsensitive(t *testing.T) {
	locator := &DerivedLocator{Factory: common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")}
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	a, err := locator.PoolAddress(context.Background(), Pair{Token0: usdc, Token1: weth, Fee: 500})
	if err != nil {
		t.Fatal(err)
	}
	b, err := locator.PoolAddress(context.Background(), Pair{Token0: weth, Token1: usdc, Fee: 500})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("derivation must canonicalise token order: %s != %s", a.Hex(), b.Hex())
	}
}

type fakeQuerier struct {
	pool common.Address
	err  error
}

func (f *fakeQuerier) PoolByPair(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	return f.pool, f.err
}

func TestQueriedLocator(t *testing.T) {
	want := common.HexToAddress("0x5555555555555555555555555555555555555555")
	locator := &QueriedLocator{Querier: &fakeQuerier{pool: want}}

	got, err := locator.PoolAddress(context.Background(), Pair{Fee: 3000})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != want {
		t.Fatalf("got %s, want %s", got.Hex(), want.Hex())
	}
}

func TestQueriedLocatorZeroAddressIsNotFound(t *testing.T) {
	locator := &QueriedLocator{Querier: &fakeQuerier{}}
	if _, err := locator.PoolAddress(context.Background(), Pair{}); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestQueriedLocatorPropagatesErrors(t *testing.T) {
	locator := &QueriedLocator{Querier: &fakeQuerier{err: errors.New("rpc down")}}
	if _, err := locator.PoolAddress(context.Background(), Pair{}); err == nil {
		t.Fatal("gateway error must propagate")
	}
}

func TestParseProtocol(t *testing.T) {
	for _, tag := range []string{"UniswapV3", "Aerodrome", "Shadow"} {
		if _, err := ParseProtocol(tag); err != nil {
			t.Errorf("tag %s should be supported: %v", tag, err)
		}
	}
	if _, err := ParseProtocol("PancakeV3"); err == nil {
		t.Fatal("unknown tag must be rejected at startup")
	}
}
