// Package decision 定义决策动作闭集与边界处的标准化/校验逻辑。
package decision

// 动作闭集。模型返回的别名在 Normalize 中归一到这些值。
const (
	ActionOpenLong         = "open_long"
	ActionOpenShort        = "open_short"
	ActionOpenLongMarket   = "open_long_market"
	ActionOpenShortMarket  = "open_short_market"
	ActionOpenLongLimit    = "open_long_limit"
	ActionOpenShortLimit   = "open_short_limit"
	ActionCloseLong        = "close_long"
	ActionCloseShort       = "close_short"
	ActionReverse          = "reverse"
	ActionIncreasePosition = "increase_position"
	ActionDecreasePosition = "decrease_position"
	ActionUpdateStopLoss   = "update_stop_loss"
	ActionUpdateTakeProfit = "update_take_profit"
	ActionHold             = "hold"
	ActionWait             = "wait"
)

// 持仓方向。
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Action 决策器返回的单条动作。
type Action struct {
	Symbol       string  `json:"symbol"`
	Action       string  `json:"action"`
	Direction    string  `json:"direction,omitempty"` // close 的方向提示，实际持仓方向优先
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	PositionSize float64 `json:"position_size,omitempty"` // USDT 名义
	Quantity     float64 `json:"quantity,omitempty"`      // 币数量
	OrderType    string  `json:"order_type,omitempty"`    // market / limit
	Entry        float64 `json:"entry,omitempty"`         // 限价单入场价
	Confidence   float64 `json:"confidence,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

var closedSet = map[string]bool{
	ActionOpenLong: true, ActionOpenShort: true,
	ActionOpenLongMarket: true, ActionOpenShortMarket: true,
	ActionOpenLongLimit: true, ActionOpenShortLimit: true,
	ActionCloseLong: true, ActionCloseShort: true,
	ActionReverse:          true,
	ActionIncreasePosition: true, ActionDecreasePosition: true,
	ActionUpdateStopLoss: true, ActionUpdateTakeProfit: true,
	ActionHold: true, ActionWait: true,
}

var openActions = map[string]bool{
	ActionOpenLong: true, ActionOpenShort: true,
	ActionOpenLongMarket: true, ActionOpenShortMarket: true,
	ActionOpenLongLimit: true, ActionOpenShortLimit: true,
}

var closeActions = map[string]bool{
	ActionCloseLong: true, ActionCloseShort: true, ActionReverse: true,
}

var manageActions = map[string]bool{
	ActionUpdateStopLoss: true, ActionUpdateTakeProfit: true,
	ActionCloseLong: true, ActionCloseShort: true,
	ActionReverse:          true,
	ActionIncreasePosition: true, ActionDecreasePosition: true,
}

// Valid 动作是否在闭集内（含 hold/wait）。
func (a Action) Valid() bool { return closedSet[a.Action] }

// IsOpen 是否开仓类动作。
func IsOpen(action string) bool { return openActions[action] }

// IsClose 是否平仓/反转类动作。
func IsClose(action string) bool { return closeActions[action] }

// IsTradeAction 该动作在当前模式下是否需要真正下单。
// manage 模式只放行风控动作，禁止开新仓；hold/wait 两种模式都不下单。
func IsTradeAction(action, mode string) bool {
	if mode == "manage" {
		return manageActions[action]
	}
	return closedSet[action] && action != ActionHold && action != ActionWait
}
