package decision

import (
	"fmt"
	"strings"
)

// Validate 基础校验：动作需在闭集内，symbol 非空。
func Validate(a Action) error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("缺少 symbol")
	}
	if !a.Valid() {
		return fmt.Errorf("非法 action: %s", a.Action)
	}
	return nil
}

// ValidateWithPrice 带当前价格的方向性校验。
// 开仓：做多要求 止损 < 价格 < 止盈，做空对称，SL/TP 任一缺省时跳过。
// 改止损/止盈：按实际持仓方向 heldSide 校验新价位在当前价的正确一侧。
func ValidateWithPrice(a Action, price float64, heldSide string) error {
	if err := Validate(a); err != nil {
		return err
	}
	switch {
	case IsOpen(a.Action):
		return validateOpen(a, price)
	case a.Action == ActionUpdateStopLoss || a.Action == ActionUpdateTakeProfit:
		return validateProtectionUpdate(a, price, heldSide)
	}
	return nil
}

func validateOpen(a Action, price float64) error {
	if a.StopLoss <= 0 || a.TakeProfit <= 0 {
		return nil
	}
	ref := price
	if a.OrderType == "limit" && a.Entry > 0 {
		ref = a.Entry
	}
	if ref <= 0 {
		return fmt.Errorf("缺少用于校验的当前价格")
	}
	long := a.Action == ActionOpenLong || a.Action == ActionOpenLongMarket || a.Action == ActionOpenLongLimit
	if long {
		if !(a.StopLoss < ref && ref < a.TakeProfit) {
			return fmt.Errorf("做多要求: 止损 < 价格 < 止盈")
		}
	} else {
		if !(a.TakeProfit < ref && ref < a.StopLoss) {
			return fmt.Errorf("做空要求: 止盈 < 价格 < 止损")
		}
	}
	return nil
}

func validateProtectionUpdate(a Action, price float64, heldSide string) error {
	if a.StopLoss <= 0 && a.TakeProfit <= 0 {
		return fmt.Errorf("改单缺少止损/止盈价位")
	}
	if price <= 0 {
		return fmt.Errorf("缺少用于校验的当前价格")
	}
	long := heldSide != SideShort
	if a.StopLoss > 0 {
		if long && a.StopLoss >= price {
			return fmt.Errorf("做多止损需低于当前价 %.4f", price)
		}
		if !long && a.StopLoss <= price {
			return fmt.Errorf("做空止损需高于当前价 %.4f", price)
		}
	}
	if a.TakeProfit > 0 {
		if long && a.TakeProfit <= price {
			return fmt.Errorf("做多止盈需高于当前价 %.4f", price)
		}
		if !long && a.TakeProfit >= price {
			return fmt.Errorf("做空止盈需低于当前价 %.4f", price)
		}
	}
	return nil
}
