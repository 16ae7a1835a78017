package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAliases(t *testing.T) {
	cases := map[string]string{
		"set_tp":          ActionUpdateTakeProfit,
		"Set_Take_Profit": ActionUpdateTakeProfit,
		"modify_tp":       ActionUpdateTakeProfit,
		"set_sl":          ActionUpdateStopLoss,
		"modify_sl":       ActionUpdateStopLoss,
		"update_tp_sl":    ActionUpdateStopLoss,
		"open_long":       ActionOpenLong,
		"HOLD":            ActionHold,
	}
	for in, want := range cases {
		got := Normalize(Action{Symbol: "BTCUSDT", Action: in}, nil)
		assert.Equal(t, want, got.Action, "input=%s", in)
	}
}

func TestNormalizeCloseUsesActualSide(t *testing.T) {
	held := map[string]string{"ETHUSDT": SideShort}

	// 实际持仓方向优先于方向提示
	got := Normalize(Action{Symbol: "ETHUSDT", Action: "close", Direction: "long"}, held)
	assert.Equal(t, ActionCloseShort, got.Action)

	// 无持仓时退回方向提示
	got = Normalize(Action{Symbol: "SOLUSDT", Action: "close", Direction: "short"}, held)
	assert.Equal(t, ActionCloseShort, got.Action)

	got = Normalize(Action{Symbol: "SOLUSDT", Action: "close", Direction: "long"}, held)
	assert.Equal(t, ActionCloseLong, got.Action)

	// 方向无从判断时保留原样，由后续校验丢弃
	got = Normalize(Action{Symbol: "SOLUSDT", Action: "close"}, held)
	assert.Equal(t, "close", got.Action)
	assert.False(t, got.Valid())
}

func TestIsTradeActionByMode(t *testing.T) {
	assert.True(t, IsTradeAction(ActionOpenLong, "scan"))
	assert.False(t, IsTradeAction(ActionOpenLong, "manage"))
	assert.True(t, IsTradeAction(ActionUpdateStopLoss, "manage"))
	assert.True(t, IsTradeAction(ActionCloseShort, "manage"))
	assert.False(t, IsTradeAction(ActionHold, "scan"))
	assert.False(t, IsTradeAction(ActionWait, "manage"))
	assert.False(t, IsTradeAction("nonsense", "scan"))
}

func TestValidateWithPrice(t *testing.T) {
	long := Action{Symbol: "BTCUSDT", Action: ActionOpenLong, StopLoss: 95, TakeProfit: 110}
	assert.NoError(t, ValidateWithPrice(long, 100, ""))
	assert.Error(t, ValidateWithPrice(long, 90, "")) // 价格低于止损

	// 止损止盈方向颠倒
	inverted := Action{Symbol: "BTCUSDT", Action: ActionOpenLong, StopLoss: 120, TakeProfit: 90}
	assert.Error(t, ValidateWithPrice(inverted, 100, ""))

	short := Action{Symbol: "BTCUSDT", Action: ActionOpenShort, StopLoss: 110, TakeProfit: 90}
	assert.NoError(t, ValidateWithPrice(short, 100, ""))
	assert.Error(t, ValidateWithPrice(short, 120, ""))

	// SL/TP 缺省时跳过方向校验
	bare := Action{Symbol: "BTCUSDT", Action: ActionOpenLong}
	assert.NoError(t, ValidateWithPrice(bare, 100, ""))

	// 限价单用入场价校验
	limit := Action{Symbol: "BTCUSDT", Action: ActionOpenLongLimit, OrderType: "limit", Entry: 100, StopLoss: 95, TakeProfit: 110}
	assert.NoError(t, ValidateWithPrice(limit, 120, ""))
}

func TestValidateProtectionUpdate(t *testing.T) {
	// 多头止损必须在当前价下方
	sl := Action{Symbol: "BTCUSDT", Action: ActionUpdateStopLoss, StopLoss: 95}
	assert.NoError(t, ValidateWithPrice(sl, 100, SideLong))
	sl.StopLoss = 105
	assert.Error(t, ValidateWithPrice(sl, 100, SideLong))
	assert.NoError(t, ValidateWithPrice(sl, 100, SideShort))

	// 空头止盈必须在当前价下方
	tp := Action{Symbol: "BTCUSDT", Action: ActionUpdateTakeProfit, TakeProfit: 90}
	assert.NoError(t, ValidateWithPrice(tp, 100, SideShort))
	assert.Error(t, ValidateWithPrice(tp, 100, SideLong))

	// 同时改两个价位时逐一校验
	both := Action{Symbol: "BTCUSDT", Action: ActionUpdateStopLoss, StopLoss: 95, TakeProfit: 90}
	assert.Error(t, ValidateWithPrice(both, 100, SideLong))

	// 无价位或无当前价直接拒绝
	empty := Action{Symbol: "BTCUSDT", Action: ActionUpdateStopLoss}
	assert.Error(t, ValidateWithPrice(empty, 100, SideLong))
	assert.Error(t, ValidateWithPrice(sl, 0, SideShort))
}
