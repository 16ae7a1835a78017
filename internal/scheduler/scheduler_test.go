package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 30M ", 30 * time.Minute, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"15x", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseIntervalDuration(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestNextFixedTimeAfter(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	next := nextFixedTimeAfter(anchor, 3*time.Minute, anchor.Add(7*time.Minute))
	assert.Equal(t, anchor.Add(9*time.Minute), next)

	// now 恰好落在格点上也要推进到下一格
	next = nextFixedTimeAfter(anchor, 3*time.Minute, anchor.Add(6*time.Minute))
	assert.Equal(t, anchor.Add(9*time.Minute), next)

	// now 在锚点之前直接返回锚点
	next = nextFixedTimeAfter(anchor, 3*time.Minute, anchor.Add(-time.Minute))
	assert.Equal(t, anchor, next)
}

func TestProtectionBookWindow(t *testing.T) {
	b := newProtectionBook(5 * time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	assert.False(t, b.protected("BTCUSDT"))
	assert.Zero(t, b.remaining("BTCUSDT"))

	b.recordOpen("BTCUSDT")
	assert.True(t, b.protected("BTCUSDT"))
	assert.Equal(t, 5*time.Minute, b.remaining("BTCUSDT"))

	now = now.Add(4 * time.Minute)
	assert.True(t, b.protected("BTCUSDT"))
	assert.Equal(t, time.Minute, b.remaining("BTCUSDT"))

	now = now.Add(2 * time.Minute)
	assert.False(t, b.protected("BTCUSDT"))
	assert.Zero(t, b.remaining("BTCUSDT"))

	b.recordOpen("ETHUSDT")
	b.clear("ETHUSDT")
	assert.False(t, b.protected("ETHUSDT"))
}

type stubHotList struct{ symbols []string }

func (s stubHotList) HotSymbols(context.Context) ([]string, error) { return s.symbols, nil }

func TestMonitorPoolDedup(t *testing.T) {
	e := &Engine{
		opts: Options{WatchSymbols: []string{"ETHUSDT", "SOLUSDT"}},
		hot:  stubHotList{symbols: []string{"SOLUSDT", "DOGEUSDT", ""}},
	}
	positions := []exchange.Position{
		{Symbol: "BTCUSDT", Size: 0.5},
		{Symbol: "ETHUSDT", Size: -2},
		{Symbol: "XRPUSDT", Size: 0}, // 零仓位不进池
	}
	pool := e.monitorPool(context.Background(), positions)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT", "BTCUSDT", "DOGEUSDT"}, pool)
}

func TestHeldSides(t *testing.T) {
	held := heldSides([]exchange.Position{
		{Symbol: "BTCUSDT", Size: 0.5},
		{Symbol: "ETHUSDT", Size: -2},
		{Symbol: "XRPUSDT", Size: 0},
	})
	assert.Equal(t, map[string]string{"BTCUSDT": "LONG", "ETHUSDT": "SHORT"}, held)
}

func newFilterEngine(maxPositions int, bypassPct float64) *Engine {
	return &Engine{
		opts: Options{MaxPositions: maxPositions, ProtectBypassPct: bypassPct},
		prot: newProtectionBook(5 * time.Minute),
	}
}

func TestFilterActionsMaxPositions(t *testing.T) {
	e := newFilterEngine(2, 5)
	held := map[string]string{"BTCUSDT": "LONG"}
	actions := []decision.Action{
		{Symbol: "ETHUSDT", Action: decision.ActionOpenLong},
		{Symbol: "SOLUSDT", Action: decision.ActionOpenShort}, // 超出上限
		{Symbol: "BTCUSDT", Action: decision.ActionIncreasePosition},
	}
	out := e.filterActions(context.Background(), ModeScan, actions, held, nil, nil, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "ETHUSDT", out[0].Symbol)
	assert.Equal(t, decision.ActionIncreasePosition, out[1].Action)
}

func TestFilterActionsManageMode(t *testing.T) {
	e := newFilterEngine(10, 5)
	positions := []exchange.Position{
		{Symbol: "BTCUSDT", Size: 1, EntryPrice: 65000, MarkPrice: 64000},
	}
	held := heldSides(positions)
	actions := []decision.Action{
		{Symbol: "ETHUSDT", Action: decision.ActionOpenLong},       // manage 禁止开仓
		{Symbol: "SOLUSDT", Action: decision.ActionUpdateStopLoss}, // 非持仓币种
		{Symbol: "BTCUSDT", Action: decision.ActionUpdateStopLoss, StopLoss: 60000},
		{Symbol: "BTCUSDT", Action: decision.ActionHold},
	}
	out := e.filterActions(context.Background(), ModeManage, actions, held, positions, nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
	assert.Equal(t, decision.ActionUpdateStopLoss, out[0].Action)
}

func TestFilterActionsDropsInvalidStops(t *testing.T) {
	e := newFilterEngine(10, 5)
	prices := map[string]float64{"ETHUSDT": 100, "SOLUSDT": 100}
	actions := []decision.Action{
		// 止损止盈方向颠倒
		{Symbol: "ETHUSDT", Action: decision.ActionOpenLong, StopLoss: 120, TakeProfit: 90, PositionSize: 100},
		{Symbol: "SOLUSDT", Action: decision.ActionOpenLong, StopLoss: 95, TakeProfit: 110, PositionSize: 100},
	}
	out := e.filterActions(context.Background(), ModeScan, actions, nil, nil, nil, prices)
	require.Len(t, out, 1)
	assert.Equal(t, "SOLUSDT", out[0].Symbol)
	assert.Equal(t, 95.0, out[0].StopLoss)
}

func TestFilterActionsDropsStopUpdateOnWrongSide(t *testing.T) {
	e := newFilterEngine(10, 5)
	positions := []exchange.Position{
		{Symbol: "BTCUSDT", Size: 1, EntryPrice: 100, MarkPrice: 100},
	}
	held := heldSides(positions)
	actions := []decision.Action{
		// 多头止损挂到当前价上方
		{Symbol: "BTCUSDT", Action: decision.ActionUpdateStopLoss, StopLoss: 105},
	}
	out := e.filterActions(context.Background(), ModeManage, actions, held, positions, nil, nil)
	assert.Empty(t, out)
}

func TestFilterActionsProtectionBlocksClose(t *testing.T) {
	e := newFilterEngine(10, 5)
	e.prot.recordOpen("BTCUSDT")
	positions := []exchange.Position{
		{Symbol: "BTCUSDT", Size: 1, EntryPrice: 100, MarkPrice: 102}, // 盈利 2%，不足绕过
	}
	held := heldSides(positions)
	actions := []decision.Action{
		{Symbol: "BTCUSDT", Action: decision.ActionCloseLong},
	}
	out := e.filterActions(context.Background(), ModeScan, actions, held, positions, nil, nil)
	assert.Empty(t, out)
	assert.True(t, e.prot.protected("BTCUSDT"))
}

func TestFilterActionsProtectedCloseBypassOnProfit(t *testing.T) {
	e := newFilterEngine(10, 5)
	e.prot.recordOpen("BTCUSDT")
	positions := []exchange.Position{
		{Symbol: "BTCUSDT", Size: 1, EntryPrice: 100, MarkPrice: 110}, // 盈利 10%，达到绕过阈值
	}
	held := heldSides(positions)
	actions := []decision.Action{
		{Symbol: "BTCUSDT", Action: decision.ActionCloseLong},
	}
	out := e.filterActions(context.Background(), ModeScan, actions, held, positions, nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, decision.ActionCloseLong, out[0].Action)
	assert.False(t, e.prot.protected("BTCUSDT"), "绕过后保护记录应清除")
}

func TestFilterActionsTrailingMerge(t *testing.T) {
	e := newFilterEngine(10, 5)
	held := map[string]string{"BTCUSDT": "LONG", "ETHUSDT": "SHORT"}
	actions := []decision.Action{
		{Symbol: "BTCUSDT", Action: decision.ActionCloseLong, Quantity: 0.5},
	}
	trailing := []decision.Action{
		{Symbol: "BTCUSDT", Action: decision.ActionCloseLong, Quantity: 0.5}, // 已在模型动作里
		{Symbol: "ETHUSDT", Action: decision.ActionCloseShort, Quantity: 2},
	}
	out := e.filterActions(context.Background(), ModeScan, actions, held, nil, trailing, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
	assert.Equal(t, "ETHUSDT", out[1].Symbol)
}

func TestFilterActionsTrailingBypassProfit(t *testing.T) {
	e := newFilterEngine(10, 5)
	e.prot.recordOpen("BTCUSDT")
	e.prot.recordOpen("ETHUSDT")
	positions := []exchange.Position{
		{Symbol: "BTCUSDT", Size: 1, EntryPrice: 100, MarkPrice: 102},  // 盈利 2%，不足绕过
		{Symbol: "ETHUSDT", Size: -2, EntryPrice: 100, MarkPrice: 94},  // 空头盈利 6%，可绕过
	}
	held := heldSides(positions)
	trailing := []decision.Action{
		{Symbol: "BTCUSDT", Action: decision.ActionCloseLong, Quantity: 1},
		{Symbol: "ETHUSDT", Action: decision.ActionCloseShort, Quantity: 2},
	}
	out := e.filterActions(context.Background(), ModeScan, nil, held, positions, trailing, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "ETHUSDT", out[0].Symbol)
	assert.False(t, e.prot.protected("ETHUSDT"), "绕过后保护记录应清除")
	assert.True(t, e.prot.protected("BTCUSDT"))
}

func TestFilterActionsNormalizesAliases(t *testing.T) {
	e := newFilterEngine(10, 5)
	held := map[string]string{"BTCUSDT": "SHORT"}
	actions := []decision.Action{
		{Symbol: "BTCUSDT", Action: "close"}, // 裸 close 按持仓方向拆分
		{Symbol: "ETHUSDT", Action: "nonsense"},
	}
	out := e.filterActions(context.Background(), ModeScan, actions, held, nil, nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, decision.ActionCloseShort, out[0].Action)
}

func TestPositionProfitPct(t *testing.T) {
	assert.InDelta(t, 5.0, positionProfitPct(exchange.Position{Size: 1, EntryPrice: 100, MarkPrice: 105}), 1e-9)
	assert.InDelta(t, 5.0, positionProfitPct(exchange.Position{Size: -1, EntryPrice: 100, MarkPrice: 95}), 1e-9)
	assert.Zero(t, positionProfitPct(exchange.Position{Size: 1, EntryPrice: 0, MarkPrice: 95}))
}
