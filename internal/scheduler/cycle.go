package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/logger"
	"github.com/liliangjiep/nofv/internal/oracle"
	"github.com/liliangjiep/nofv/internal/tracker"
)

// RunCycle 执行一轮完整调度。scan 与 manage 共用互斥锁，互不重入。
func (e *Engine) RunCycle(ctx context.Context, mode string) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	logger.Infof("执行一轮交易调度 | mode=%s", mode)

	positions, err := e.gateway.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("refresh positions: %w", err)
	}
	e.refreshBalance(ctx)

	// 限价单成交补记录
	newTrades, err := e.tracker.SyncPositions(ctx, positions)
	if err != nil {
		logger.Errorf("同步持仓失败: %v", err)
	}
	for _, t := range newTrades {
		e.prot.recordOpen(t.Symbol)
		logger.Infof("限价单成交 | %s | %s | entry=%v", t.Symbol, t.Side, t.EntryPrice)
	}
	e.setupDefaultStops(ctx, positions)

	// 止损/止盈自动平仓对账
	autoClosed, err := e.tracker.ReconcileAutoCloses(ctx, positions)
	if err != nil {
		logger.Errorf("自动平仓对账失败: %v", err)
	}
	for _, closed := range autoClosed {
		e.prot.clear(closed.Symbol)
		e.archiveTrade(ctx, closed)
		logger.Infof("AUTO_CLOSE | %s | %s | 净收益 %.2f USDT", closed.Symbol, closed.Side, closed.NetPnL)
	}

	if e.opts.LimitOrderCheck {
		e.expireLimitOrders(ctx)
		e.syncLimitOrderRecords(ctx)
	}

	// 推进高水位并收集动态止盈信号
	trailing := e.collectTrailingExits(ctx, positions)

	held := heldSides(positions)
	if mode == ModeManage && len(held) == 0 {
		logger.Infof("manage 模式无持仓，跳过本轮")
		return nil
	}

	pool := e.monitorPool(ctx, positions)
	logger.Infof("本轮监控币种: %v", pool)

	// 本轮清理用的本地快照，避免并发修改
	symbolsThisRound := append([]string(nil), pool...)
	defer func() {
		if mode == ModeScan {
			e.cleanupKlineCache(ctx, symbolsThisRound, held)
		}
	}()

	e.refreshKlines(ctx, pool)
	reports := e.analyzeSymbols(ctx, pool)

	snap := e.buildSnapshot(ctx, mode, positions, reports)
	actions, err := e.oracle.ProposeActions(ctx, snap)
	if err != nil {
		return fmt.Errorf("oracle decide: %w", err)
	}

	marketPrices := make(map[string]float64, len(reports))
	for _, r := range reports {
		if r.Price > 0 {
			marketPrices[r.Symbol] = r.Price
		}
	}
	execList := e.filterActions(ctx, mode, actions, held, positions, trailing, marketPrices)
	e.dispatch(ctx, execList, positions)
	logger.Infof("本轮调度完成")
	return nil
}

// setupDefaultStops 为限价单成交后的仓位补设默认止损止盈。
func (e *Engine) setupDefaultStops(ctx context.Context, positions []exchange.Position) {
	for _, p := range positions {
		if p.Size == 0 || p.EntryPrice <= 0 {
			continue
		}
		side := p.Side()
		trade, err := e.tracker.UpdateOnPrice(ctx, p.Symbol, side, p.MarkPrice)
		if err != nil || trade == nil || !trade.NeedsStopSetup {
			continue
		}
		var sl, tp float64
		if side == decision.SideLong {
			sl = p.EntryPrice * (1 - e.opts.DefaultSLPct/100)
			tp = p.EntryPrice * (1 + e.opts.DefaultTPPct/100)
		} else {
			sl = p.EntryPrice * (1 + e.opts.DefaultSLPct/100)
			tp = p.EntryPrice * (1 - e.opts.DefaultTPPct/100)
		}
		err = e.trader.Execute(ctx, decision.Action{
			Symbol:     p.Symbol,
			Action:     decision.ActionUpdateStopLoss,
			StopLoss:   sl,
			TakeProfit: tp,
		})
		if err != nil {
			logger.Errorf("设置限价单 TP/SL 失败 | %s | %v", p.Symbol, err)
			continue
		}
		logger.Infof("限价单成交后设置 TP/SL | %s | %s | SL=%.4f TP=%.4f", p.Symbol, side, sl, tp)
		trade.NeedsStopSetup = false
		if err := e.tracker.Store().PutActiveTrade(ctx, *trade); err != nil {
			logger.Warnf("清除 TP/SL 标记失败 | %s | %v", p.Symbol, err)
		}
	}
}

// collectTrailingExits 推进峰值统计并返回触发的平仓动作。
func (e *Engine) collectTrailingExits(ctx context.Context, positions []exchange.Position) []decision.Action {
	var out []decision.Action
	for _, p := range positions {
		if p.Size == 0 || p.MarkPrice <= 0 {
			continue
		}
		side := p.Side()
		if _, err := e.tracker.UpdateOnPrice(ctx, p.Symbol, side, p.MarkPrice); err != nil {
			continue
		}
		if p.EntryPrice <= 0 {
			continue
		}
		sig := e.tracker.EvaluateExit(ctx, p.Symbol, side, p.MarkPrice, p.EntryPrice)
		if !sig.Triggered {
			continue
		}
		action := decision.ActionCloseLong
		if side == decision.SideShort {
			action = decision.ActionCloseShort
		}
		out = append(out, decision.Action{Symbol: p.Symbol, Action: action, Quantity: absFloat(p.Size)})
		logger.Infof("动态回撤止盈触发 | %s | %s | %s", p.Symbol, side, sig.Reason)
	}
	return out
}

// expireLimitOrders 撤销挂超时的限价单。
func (e *Engine) expireLimitOrders(ctx context.Context) {
	orders, err := e.gateway.ListOpenOrders(ctx, "")
	if err != nil {
		logger.Errorf("获取未成交订单失败: %v", err)
		return
	}
	nowMs := time.Now().UnixMilli()
	timeoutMs := e.opts.LimitOrderTimeout.Milliseconds()
	for _, o := range orders {
		if o.Type != "LIMIT" {
			continue
		}
		if o.Status != "NEW" && o.Status != "PARTIALLY_FILLED" {
			continue
		}
		elapsed := nowMs - o.CreatedAt
		if elapsed < timeoutMs {
			continue
		}
		if err := e.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			logger.Errorf("撤销限价单失败 | %s | orderId=%d | %v", o.Symbol, o.OrderID, err)
			continue
		}
		logger.Infof("限价单超时撤销 | %s | %s | orderId=%d | 已挂 %d 分钟",
			o.Symbol, o.PositionSide, o.OrderID, elapsed/60_000)
		if e.ledger != nil {
			_ = e.ledger.RemoveLimitOrder(ctx, o.Symbol, o.OrderID)
		}
	}
}

// syncLimitOrderRecords 清理台账中已成交或已撤销的限价单记录。
func (e *Engine) syncLimitOrderRecords(ctx context.Context) {
	if e.ledger == nil {
		return
	}
	records, err := e.ledger.ListLimitOrders(ctx)
	if err != nil || len(records) == 0 {
		return
	}
	bySymbol := make(map[string][]int64)
	for _, rec := range records {
		bySymbol[rec.Symbol] = append(bySymbol[rec.Symbol], rec.OrderID)
	}
	for symbol, ids := range bySymbol {
		open, err := e.gateway.ListOpenOrders(ctx, symbol)
		if err != nil {
			logger.Errorf("同步限价单记录失败 | %s | %v", symbol, err)
			continue
		}
		alive := make(map[int64]bool, len(open))
		for _, o := range open {
			alive[o.OrderID] = true
		}
		for _, id := range ids {
			if !alive[id] {
				_ = e.ledger.RemoveLimitOrder(ctx, symbol, id)
				logger.Debugf("清理已成交/撤销的限价单记录 | %s | orderId=%d", symbol, id)
			}
		}
	}
}

func (e *Engine) buildSnapshot(ctx context.Context, mode string, positions []exchange.Position, reports []oracle.SymbolReport) oracle.Snapshot {
	e.balanceMu.RLock()
	balance := e.lastBalance
	e.balanceMu.RUnlock()

	now := time.Now()
	posReports := make([]oracle.PositionReport, 0, len(positions))
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		side := p.Side()
		rep := oracle.PositionReport{
			Symbol:        p.Symbol,
			Side:          side,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnL: p.UnrealizedPnL,
		}
		if p.EntryPrice > 0 && p.MarkPrice > 0 {
			rep.PnLPct = positionProfitPct(p)
		}
		if trade, err := e.tracker.Store().GetActiveTrade(ctx, p.Symbol, side); err == nil && trade != nil {
			rep.HoldingMinutes = now.Sub(time.Unix(trade.EntryTime, 0)).Minutes()
			if trade.EntryPrice > 0 {
				peakPct := (trade.PeakPrice - trade.EntryPrice) / trade.EntryPrice * 100
				if side == decision.SideShort {
					peakPct = (trade.EntryPrice - trade.PeakPrice) / trade.EntryPrice * 100
				}
				rep.PeakPnLPct = peakPct
			}
		}
		posReports = append(posReports, rep)
	}
	return oracle.Snapshot{
		Time:         now,
		Mode:         mode,
		Balance:      balance,
		MaxPositions: e.opts.MaxPositions,
		Positions:    posReports,
		Reports:      reports,
	}
}

// dispatch 并发下单，互不阻塞；开/平仓同时维护追踪器与保护窗口。
func (e *Engine) dispatch(ctx context.Context, actions []decision.Action, positions []exchange.Position) {
	if len(actions) == 0 {
		logger.Debugf("本轮无需要执行的下单动作")
		return
	}
	marks := make(map[string]float64, len(positions))
	sizes := make(map[string]float64, len(positions))
	for _, p := range positions {
		marks[p.Symbol+":"+p.Side()] = p.MarkPrice
		sizes[p.Symbol+":"+p.Side()] = absFloat(p.Size)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, act := range actions {
		act := act
		g.Go(func() error {
			logger.Infof("执行信号 | %s | %s | SL=%v TP=%v size=%v",
				act.Symbol, act.Action, act.StopLoss, act.TakeProfit, act.PositionSize)
			if err := e.trader.Execute(gctx, act); err != nil {
				logger.Errorf("下单异常 | %s | %s | %v", act.Symbol, act.Action, err)
				return nil // 单笔失败不拖垮整轮
			}
			e.postExecute(gctx, act, marks, sizes)
			return nil
		})
	}
	_ = g.Wait()
}

// postExecute 在订单成功后维护本地账本。
func (e *Engine) postExecute(ctx context.Context, act decision.Action, marks, sizes map[string]float64) {
	switch {
	case decision.IsOpen(act.Action):
		side := decision.SideLong
		if act.Action == decision.ActionOpenShort || act.Action == decision.ActionOpenShortMarket ||
			act.Action == decision.ActionOpenShortLimit {
			side = decision.SideShort
		}
		// 限价单成交前不入活跃账本，由下轮 SyncPositions 补
		if act.Action == decision.ActionOpenLongLimit || act.Action == decision.ActionOpenShortLimit {
			return
		}
		entry := act.Entry
		if entry <= 0 {
			if price, err := e.gateway.MarkPrice(ctx, act.Symbol); err == nil {
				entry = price
			}
		}
		qty := act.Quantity
		if qty <= 0 && entry > 0 {
			qty = act.PositionSize / entry
		}
		if _, err := e.tracker.RecordOpen(ctx, act.Symbol, side, entry, qty, "market", 0, 0); err != nil {
			logger.Warnf("记录开仓失败 | %s | %v", act.Symbol, err)
		}
		e.prot.recordOpen(act.Symbol)
	case act.Action == decision.ActionCloseLong || act.Action == decision.ActionCloseShort:
		side := decision.SideLong
		if act.Action == decision.ActionCloseShort {
			side = decision.SideShort
		}
		key := act.Symbol + ":" + side
		exitPrice := marks[key]
		qty := act.Quantity
		if qty <= 0 {
			qty = sizes[key]
		}
		completed, err := e.tracker.RecordClose(ctx, act.Symbol, side, exitPrice, qty, "market", 0)
		if err != nil {
			logger.Warnf("记录平仓失败 | %s | %v", act.Symbol, err)
			return
		}
		e.prot.clear(act.Symbol)
		e.archiveTrade(ctx, completed)
	}
}

func (e *Engine) archiveTrade(ctx context.Context, trade tracker.CompletedTrade) {
	if e.archive == nil {
		return
	}
	if err := e.archive.Append(ctx, trade); err != nil {
		logger.Warnf("写交易归档失败 | %s | %v", trade.TradeID, err)
	}
}

// cleanupKlineCache 淘汰不在本轮监控池且未持仓的币种缓存。
func (e *Engine) cleanupKlineCache(ctx context.Context, symbolsThisRound []string, held map[string]string) {
	valid := make(map[string]bool, len(symbolsThisRound)+len(held))
	for _, sym := range symbolsThisRound {
		valid[sym] = true
	}
	for sym := range held {
		valid[sym] = true
	}
	cached, err := e.klines.Symbols(ctx)
	if err != nil {
		logger.Warnf("K线缓存清理异常: %v", err)
		return
	}
	for _, sym := range cached {
		if !valid[sym] {
			if err := e.klines.Drop(ctx, sym); err != nil {
				logger.Warnf("K线缓存清理异常 | %s | %v", sym, err)
			}
		}
	}
}

func (e *Engine) refreshBalance(ctx context.Context) {
	balance, err := e.gateway.AccountBalance(ctx)
	if err != nil {
		logger.Warnf("刷新账户余额失败: %v", err)
		return
	}
	e.balanceMu.Lock()
	e.lastBalance = balance
	e.balanceMu.Unlock()
}

func positionProfitPct(p exchange.Position) float64 {
	if p.EntryPrice <= 0 || p.MarkPrice <= 0 {
		return 0
	}
	if p.Size < 0 {
		return (p.EntryPrice - p.MarkPrice) / p.EntryPrice * 100
	}
	return (p.MarkPrice - p.EntryPrice) / p.EntryPrice * 100
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
