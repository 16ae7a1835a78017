package tracker

import (
	"context"
	"fmt"

	"github.com/liliangjiep/nofv/internal/logger"
)

// EvaluateExit 自适应移动止盈判定。
//
// 盈利越高 ATR 倍数越小，止盈越紧；ATR 允许回撤再与
// entry*MaxDrawdownPct/100 取小作为上限；ATR 不可用时降级到
// 峰值回撤百分比档位表。
func (tr *Tracker) EvaluateExit(ctx context.Context, symbol, side string, price, entry float64) ExitSignal {
	if !tr.cfg.Enabled {
		return ExitSignal{Reason: "移动止盈未启用"}
	}
	trade, err := tr.store.GetActiveTrade(ctx, symbol, side)
	if err != nil {
		return ExitSignal{Reason: fmt.Sprintf("读取活跃交易失败: %v", err)}
	}
	if trade == nil {
		return ExitSignal{Reason: "未找到活跃交易记录"}
	}

	peakPrice := trade.PeakPrice
	if peakPrice == 0 {
		peakPrice = entry
	}
	var currentPct, peakPct, priceDrawdown, drawdownPct float64
	if side == "SHORT" {
		currentPct = (entry - price) / entry * 100
		peakPct = (entry - peakPrice) / entry * 100
		priceDrawdown = price - peakPrice
		drawdownPct = (price - peakPrice) / entry * 100
	} else {
		currentPct = (price - entry) / entry * 100
		peakPct = (peakPrice - entry) / entry * 100
		priceDrawdown = peakPrice - price
		drawdownPct = (peakPrice - price) / entry * 100
	}

	if peakPct < tr.cfg.ActivatePct {
		return ExitSignal{
			Reason:    fmt.Sprintf("峰值盈利 %.2f%% 未达激活条件 %.2f%%", peakPct, tr.cfg.ActivatePct),
			ProfitPct: currentPct,
			PeakPct:   peakPct,
		}
	}

	if tr.cfg.ATREnabled && tr.atr != nil {
		atr, err := tr.atr.ATR(ctx, symbol)
		if err == nil && atr > 0 {
			return tr.evaluateATR(atr, entry, currentPct, peakPct, priceDrawdown, drawdownPct)
		}
		logger.Warnf("ATR不可用 | %s | 降级到百分比止盈", symbol)
	}
	return tr.evaluatePct(currentPct, peakPct)
}

func (tr *Tracker) evaluateATR(atr, entry, currentPct, peakPct, priceDrawdown, drawdownPct float64) ExitSignal {
	mult := 1.0
	for _, tier := range tr.cfg.ATRTiers {
		if tier.MinProfit <= peakPct && peakPct < tier.MaxProfit {
			mult = tier.ATRMult
			break
		}
	}
	atrAllowed := atr * mult
	capPrice := entry * tr.cfg.MaxDrawdownPct / 100
	allowed := atrAllowed
	if capPrice < allowed {
		allowed = capPrice
	}
	sig := ExitSignal{
		ProfitPct:       currentPct,
		PeakPct:         peakPct,
		DrawdownPct:     drawdownPct,
		ATR:             atr,
		ATRMult:         mult,
		AllowedDrawdown: allowed,
	}
	thresholdPct := allowed / entry * 100
	if priceDrawdown >= allowed {
		kind := "ATR"
		if atrAllowed > capPrice {
			kind = "最大回撤"
		}
		sig.Triggered = true
		sig.Reason = fmt.Sprintf("%s止盈 | 峰值盈利%.2f%% | 回撤%.2f%% > 阈值%.2f%% | ATR=%.4f 倍数%.1f",
			kind, peakPct, drawdownPct, thresholdPct, atr, mult)
		return sig
	}
	sig.Reason = fmt.Sprintf("ATR追踪 | 峰值%.2f%% 当前%.2f%% | 回撤%.2f%% < 阈值%.2f%% | ATR=%.4f×%.1f",
		peakPct, currentPct, drawdownPct, thresholdPct, atr, mult)
	return sig
}

func (tr *Tracker) evaluatePct(currentPct, peakPct float64) ExitSignal {
	var retracePct float64
	if peakPct > 0 {
		retracePct = (peakPct - currentPct) / peakPct * 100
	}
	allowed := 50.0
	for _, tier := range tr.cfg.PctTiers {
		if tier.MinProfit <= peakPct && peakPct < tier.MaxProfit {
			allowed = tier.DrawdownPct
			break
		}
	}
	sig := ExitSignal{
		ProfitPct:       currentPct,
		PeakPct:         peakPct,
		DrawdownPct:     retracePct,
		AllowedDrawdown: allowed,
	}
	if retracePct >= allowed {
		sig.Triggered = true
		sig.Reason = fmt.Sprintf("百分比止盈 | 峰值%.2f%% → 当前%.2f%% | 回撤%.1f%% > 阈值%.0f%%",
			peakPct, currentPct, retracePct, allowed)
		return sig
	}
	sig.Reason = fmt.Sprintf("追踪中 | 峰值%.2f%% 当前%.2f%% | 回撤%.1f%% < 阈值%.0f%%",
		peakPct, currentPct, retracePct, allowed)
	return sig
}
