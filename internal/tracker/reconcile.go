package tracker

import (
	"context"

	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/logger"
)

const (
	reconcileFillLimit   = 20
	reconcileIncomeLimit = 10
)

// ReconcileAutoCloses 找出活跃记录里已不在持仓中的交易，并通过交易所
// 历史验证后落账为 CLOSED_AUTO。
//
// 只认得到验证的平仓：先在成交历史里找开仓之后的反向成交，找不到再查
// REALIZED_PNL 收入流水兜底；两者都查不到就跳过，留给下个周期重试。
func (tr *Tracker) ReconcileAutoCloses(ctx context.Context, positions []exchange.Position) ([]CompletedTrade, error) {
	active, err := tr.store.ListActiveTrades(ctx)
	if err != nil || len(active) == 0 {
		return nil, err
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			held[p.Symbol+":"+p.Side()] = true
		}
	}

	var closed []CompletedTrade
	for _, trade := range active {
		if held[trade.Key()] {
			continue
		}
		exitPrice, exitFee, realized, verified := tr.verifyClose(ctx, trade)
		if !verified {
			logger.Warnf("无法验证 %s 是否已平仓，跳过本次检查", trade.Key())
			continue
		}
		netPnL := signedPnL(trade.Side, trade.EntryPrice, exitPrice, trade.Quantity)
		if realized != nil {
			netPnL = *realized
		}
		completed := tr.settle(trade, exitPrice, tr.now().Unix(), "auto_sl_tp", netPnL, exitFee, StatusClosedAuto)
		if err := tr.store.AppendCompletedTrade(ctx, completed); err != nil {
			return closed, err
		}
		if err := tr.store.RemoveActiveTrade(ctx, trade.Symbol, trade.Side); err != nil {
			return closed, err
		}
		closed = append(closed, completed)
		logger.Infof("自动平仓落账 | %s | pnl=%.4f | status=%s", trade.Key(), netPnL, completed.Status)
	}
	return closed, nil
}

// verifyClose 返回 (exitPrice, exitFee, realizedPnL, verified)。
func (tr *Tracker) verifyClose(ctx context.Context, trade ActiveTrade) (float64, float64, *float64, bool) {
	entryMs := trade.EntryTime * 1000

	fills, err := tr.history.FillHistory(ctx, trade.Symbol, reconcileFillLimit)
	if err != nil {
		logger.Warnf("验证平仓信息失败 | %s | %v", trade.Key(), err)
		return 0, 0, nil, false
	}
	// 从最新成交往回找开仓之后的平仓方向成交
	for i := len(fills) - 1; i >= 0; i-- {
		f := fills[i]
		if f.Time <= entryMs || f.PositionSide != trade.Side {
			continue
		}
		// LONG 平仓是卖出，SHORT 平仓是买入
		if (trade.Side == "LONG" && !f.Buyer) || (trade.Side == "SHORT" && f.Buyer) {
			return f.Price, f.Commission, nil, true
		}
	}

	incomes, err := tr.history.IncomeHistory(ctx, trade.Symbol, "REALIZED_PNL", reconcileIncomeLimit)
	if err != nil {
		return 0, 0, nil, false
	}
	for _, inc := range incomes {
		if inc.Time > entryMs && inc.Symbol == trade.Symbol {
			pnl := inc.Income
			// 没有成交价可用，退而用入场价记录
			return trade.EntryPrice, 0, &pnl, true
		}
	}
	return 0, 0, nil, false
}
