package scheduler

import (
	"context"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/logger"
)

// filterActions 把模型返回的原始动作过滤成可执行清单：
// 标准化、方向性校验、模式约束、仓位上限、新仓保护窗口，最后并入动态止盈信号。
// marketPrices 提供非持仓币种的参考价，持仓币种用标记价覆盖。
func (e *Engine) filterActions(
	_ context.Context,
	mode string,
	actions []decision.Action,
	held map[string]string,
	positions []exchange.Position,
	trailing []decision.Action,
	marketPrices map[string]float64,
) []decision.Action {
	profitPct := make(map[string]float64, len(positions))
	prices := make(map[string]float64, len(marketPrices)+len(positions))
	for sym, p := range marketPrices {
		prices[sym] = p
	}
	for _, p := range positions {
		if p.Size != 0 {
			profitPct[p.Symbol] = positionProfitPct(p)
		}
		if p.MarkPrice > 0 {
			prices[p.Symbol] = p.MarkPrice
		}
	}

	var execList []decision.Action
	openCount := len(held)
	for _, raw := range actions {
		act := decision.Normalize(raw, held)
		if !act.Valid() {
			logger.Warnf("忽略未知动作 | %s | %s", raw.Symbol, raw.Action)
			continue
		}
		if !decision.IsTradeAction(act.Action, mode) {
			if act.Action != decision.ActionHold && act.Action != decision.ActionWait {
				logger.Infof("%s 模式下忽略动作 | %s | %s", mode, act.Symbol, act.Action)
			}
			continue
		}
		if mode == ModeManage {
			if _, ok := held[act.Symbol]; !ok {
				logger.Infof("manage 模式跳过非持仓币种 | %s | %s", act.Symbol, act.Action)
				continue
			}
		}
		if err := decision.ValidateWithPrice(act, prices[act.Symbol], held[act.Symbol]); err != nil {
			logger.Warnf("方向性校验未通过，丢弃动作 | %s | %s | %v", act.Symbol, act.Action, err)
			continue
		}
		if decision.IsOpen(act.Action) {
			act = e.clampOpenSize(act)
			if _, already := held[act.Symbol]; !already {
				if openCount >= e.opts.MaxPositions {
					logger.Infof("已达最大持仓数 %d，忽略开仓 | %s", e.opts.MaxPositions, act.Symbol)
					continue
				}
				openCount++
			}
		}
		if decision.IsClose(act.Action) && e.prot.protected(act.Symbol) {
			if profitPct[act.Symbol] < e.opts.ProtectBypassPct {
				logger.Infof("新仓保护期未过，忽略平仓 | %s | 剩余 %.0f 秒",
					act.Symbol, e.prot.remaining(act.Symbol).Seconds())
				continue
			}
			logger.Infof("盈利 %.2f%% 达到绕过阈值，保护期内执行平仓 | %s",
				profitPct[act.Symbol], act.Symbol)
			e.prot.clear(act.Symbol)
		}
		execList = append(execList, act)
	}

	execList = e.mergeTrailing(execList, trailing, profitPct)
	return execList
}

// clampOpenSize 把模型给的开仓名义金额收敛到配置区间。
func (e *Engine) clampOpenSize(act decision.Action) decision.Action {
	if act.Quantity > 0 {
		return act
	}
	size := act.PositionSize
	if size <= 0 {
		size = e.opts.MinTradeAmount
	}
	if e.opts.MinTradeAmount > 0 && size < e.opts.MinTradeAmount {
		logger.Infof("开仓金额 %.1f 低于下限，提升至 %.1f | %s", size, e.opts.MinTradeAmount, act.Symbol)
		size = e.opts.MinTradeAmount
	}
	if e.opts.MaxPositionUSD > 0 && size > e.opts.MaxPositionUSD {
		logger.Infof("开仓金额 %.1f 超出上限，压缩至 %.1f | %s", size, e.opts.MaxPositionUSD, act.Symbol)
		size = e.opts.MaxPositionUSD
	}
	act.PositionSize = size
	return act
}

// mergeTrailing 并入动态止盈产生的平仓信号，避免与模型动作重复下单。
func (e *Engine) mergeTrailing(execList, trailing []decision.Action, profitPct map[string]float64) []decision.Action {
	inList := make(map[string]bool, len(execList))
	for _, act := range execList {
		inList[act.Symbol] = true
	}
	for _, act := range trailing {
		if inList[act.Symbol] {
			continue
		}
		if e.prot.protected(act.Symbol) {
			if profitPct[act.Symbol] < e.opts.ProtectBypassPct {
				logger.Infof("保护期内且盈利不足 %.1f%%，暂不执行止盈 | %s",
					e.opts.ProtectBypassPct, act.Symbol)
				continue
			}
			logger.Infof("盈利 %.2f%% 达到绕过阈值，保护期内执行止盈 | %s",
				profitPct[act.Symbol], act.Symbol)
			e.prot.clear(act.Symbol)
		}
		inList[act.Symbol] = true
		execList = append(execList, act)
	}
	return execList
}
