package alerting

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"lp-range-alerts/internal/state"
)

// RenderSummary formats one user's out-of-range entries as a single plain
// text message, one block per position.
func RenderSummary(user string, entries []state.Entry) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Hello %s,\nThe following liquidity pool positions are out of range:\n\n", user))

	for _, e := range entries {
		builder.WriteString(fmt.Sprintf("Network: %s\n", e.Network))
		builder.WriteString(fmt.Sprintf("Protocol: %s\n", e.Protocol))
		builder.WriteString(fmt.Sprintf("Address: %s\n", e.Address))
		builder.WriteString(fmt.Sprintf("Proxy Wallet: %s\n", e.ProxyWallet))
		builder.WriteString(fmt.Sprintf("TokenID: %s\n", e.PositionID))
		builder.WriteString(fmt.Sprintf("Pool: %s/%s\n", e.Token0, e.Token1))
		builder.WriteString(fmt.Sprintf("Tick Range: %d to %d\n", e.TickLower, e.TickUpper))
		builder.WriteString(fmt.Sprintf("Current Tick: %d\n", e.CurrentTick))
		builder.WriteString(fmt.Sprintf("Price (token1/token0, raw): %s\n\n", TickPrice(e.CurrentTick).String()))
	}

	return builder.String()
}

// Concentrated-liquidity pools only admit ticks in [-887272, 887272]; the
// int24 wire type is wider, and an extreme value from a broken pool would
// overflow float64 below.
const maxUsableTick = 887272

// TickPrice converts a tick to the pool's raw token1/token0 price,
// 1.0001^tick, without adjusting for token decimals. Ticks outside the
// protocol bounds are clamped so rendering stays total.
func TickPrice(tick int32) decimal.Decimal {
	if tick > maxUsableTick {
		tick = maxUsableTick
	}
	if tick < -maxUsableTick {
		tick = -maxUsableTick
	}
	price := math.Pow(1.0001, float64(tick))
	if math.IsInf(price, 0) || math.IsNaN(price) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(price).Round(8)
}
