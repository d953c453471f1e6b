package alerting

import (
	"strings"
	"testing"
	"time"

	"lp-range-alerts/internal/state"
)

func TestRenderSummaryContainsOneBlockPerEntry(t *testing.T) {
	entries := []state.Entry{
		{
			User: "mytest", Network: "Polygon", Protocol: "UniswapV3",
			Address:     "0x1111111111111111111111111111111111111111",
			ProxyWallet: "0x2222222222222222222222222222222222222222",
			PositionID:  "7",
			Token0:      "0x3333333333333333333333333333333333333333",
			Token1:      "0x4444444444444444444444444444444444444444",
			TickLower:   -100, TickUpper: 100, CurrentTick: 150,
			DetectedAt: time.Now().UTC(),
		},
		{
			User: "mytest", Network: "Base", Protocol: "Aerodrome",
			PositionID: "9", TickLower: -50, TickUpper: 50, CurrentTick: -60,
		},
	}

	text := RenderSummary("mytest", entries)

	if !strings.HasPrefix(text, "Hello mytest,") {
		t.Fatalf("missing greeting: %q", text)
	}
	if strings.Count(text, "TokenID:") != 2 {
		t.Fatalf("expected 2 position blocks:\n%s", text)
	}
	for _, want := range []string{
		"Network: Polygon", "Network: Base",
		"Protocol: UniswapV3", "Protocol: Aerodrome",
		"Tick Range: -100 to 100", "Current Tick: 150",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestTickPriceExtremeTicksDoNotPanic(t *testing.T) {
	// slot0's int24 admits values far past the protocol tick bounds; a
	// hostile pool must not be able to crash the notify path.
	for _, tick := range []int32{8388607, -8388608, maxUsableTick + 1, -maxUsableTick - 1} {
		got := TickPrice(tick)
		if got.IsNegative() {
			t.Fatalf("tick %d produced negative price %s", tick, got)
		}
	}

	summary := RenderSummary("mytest", []state.Entry{{
		User: "mytest", Network: "Polygon", Protocol: "UniswapV3",
		PositionID: "7", TickLower: -100, TickUpper: 100, CurrentTick: 8388607,
	}})
	if !strings.Contains(summary, "Current Tick: 8388607") {
		t.Fatalf("summary should render the raw tick:\n%s", summary)
	}
}

func TestTickPriceClampsToProtocolBounds(t *testing.T) {
	if !TickPrice(maxUsableTick).Equal(TickPrice(maxUsableTick + 1000)) {
		t.Fatal("ticks above the bound should clamp to the bound")
	}
	if !TickPrice(-maxUsableTick).Equal(TickPrice(-maxUsableTick - 1000)) {
		t.Fatal("ticks below the bound should clamp to the bound")
	}
}

func TestTickPrice(t *testing.T) {
	if got := TickPrice(0).String(); got != "1" {
		t.Fatalf("tick 0 should be price 1, got %s", got)
	}
	// one tick is one basis point
	if !TickPrice(1).Sub(TickPrice(0)).IsPositive() {
		t.Fatal("price must grow with tick")
	}
	if !TickPrice(-1).LessThan(TickPrice(0)) {
		t.Fatal("price must shrink with negative tick")
	}
}
