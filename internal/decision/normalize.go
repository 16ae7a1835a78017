package decision

import "strings"

// Normalize 把模型可能返回的非标准动作名映射进闭集，并把裸 "close"
// 按实际持仓方向拆成 close_long / close_short。
// heldSides: symbol -> "LONG"|"SHORT"，实际持仓方向优先于动作里的方向提示。
func Normalize(a Action, heldSides map[string]string) Action {
	name := strings.ToLower(strings.TrimSpace(a.Action))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)

	switch name {
	case "set_tp", "set_take_profit", "add_tp", "modify_tp":
		a.Action = ActionUpdateTakeProfit
	case "set_sl", "set_stop_loss", "add_sl", "modify_sl":
		a.Action = ActionUpdateStopLoss
	case "modify_tp_sl", "update_tp_sl", "set_tp_sl":
		// 同时改止盈止损时先处理止损
		a.Action = ActionUpdateStopLoss
	case "close", "exit", "flat", "close_position":
		if side, ok := heldSides[a.Symbol]; ok {
			if side == SideShort {
				a.Action = ActionCloseShort
			} else {
				a.Action = ActionCloseLong
			}
		} else {
			switch strings.ToLower(a.Direction) {
			case "short":
				a.Action = ActionCloseShort
			case "long":
				a.Action = ActionCloseLong
			default:
				a.Action = name
			}
		}
	default:
		a.Action = name
	}
	return a
}
