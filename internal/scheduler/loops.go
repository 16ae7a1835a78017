package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/logger"
	"github.com/liliangjiep/nofv/internal/pkg/retry"
)

// Run 启动全部循环并阻塞到 ctx 取消：
// scan 循环对齐K线收盘做全量决策，manage 循环高频管理持仓，
// 价格监控循环秒级推进移动止盈，余额刷新循环维护账户快照。
func (e *Engine) Run(ctx context.Context) error {
	e.refreshBalance(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched := NewAlignedScheduler(ctx, e.opts.ScanInterval, 5*time.Second)
		sched.RunImmediately = true
		sched.Start(func() {
			if err := e.RunCycle(ctx, ModeScan); err != nil {
				logger.Errorf("scan 轮执行失败: %v", err)
			}
		})
	}()

	if e.opts.ManageInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched := NewAlignedOnceScheduler(ctx, time.Minute, e.opts.ManageInterval, 5*time.Second)
			sched.Name = "manage"
			sched.Start(func() {
				if err := e.RunCycle(ctx, ModeManage); err != nil {
					logger.Errorf("manage 轮执行失败: %v", err)
				}
			})
		}()
	}

	if e.opts.PriceMonitorInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.priceMonitorLoop(ctx)
		}()
	}

	if e.opts.AccountRefresh > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.balanceLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logger.Infof("调度器已退出")
	return ctx.Err()
}

// priceMonitorLoop 秒级轮询标记价格，推进峰值并在触发时立即平仓，
// 不等整点调度轮。
func (e *Engine) priceMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PriceMonitorInterval)
	defer ticker.Stop()
	logger.Infof("价格监控启动 | 间隔 %s", e.opts.PriceMonitorInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.monitorPrices(ctx)
		}
	}
}

func (e *Engine) monitorPrices(ctx context.Context) {
	positions, err := e.gateway.ListPositions(ctx)
	if err != nil {
		logger.Warnf("价格监控获取持仓失败: %v", err)
		return
	}
	for _, p := range positions {
		if p.Size == 0 || p.MarkPrice <= 0 || p.EntryPrice <= 0 {
			continue
		}
		side := p.Side()
		if _, err := e.tracker.UpdateOnPrice(ctx, p.Symbol, side, p.MarkPrice); err != nil {
			continue
		}
		sig := e.tracker.EvaluateExit(ctx, p.Symbol, side, p.MarkPrice, p.EntryPrice)
		if !sig.Triggered {
			continue
		}
		if e.prot.protected(p.Symbol) && positionProfitPct(p) < e.opts.ProtectBypassPct {
			logger.Debugf("保护期内暂不执行止盈 | %s | 剩余 %.0f 秒",
				p.Symbol, e.prot.remaining(p.Symbol).Seconds())
			continue
		}
		e.closeOnSignal(ctx, p, side, sig.Reason)
	}
}

func (e *Engine) closeOnSignal(ctx context.Context, p exchange.Position, side, reason string) {
	logger.Infof("动态回撤止盈触发，立即平仓 | %s | %s | %s", p.Symbol, side, reason)
	action := decision.ActionCloseLong
	if side == decision.SideShort {
		action = decision.ActionCloseShort
	}
	act := decision.Action{Symbol: p.Symbol, Action: action, Quantity: absFloat(p.Size)}
	err := retry.Do(ctx, retry.Default(), "trailing close "+p.Symbol, func(ctx context.Context) error {
		return e.trader.Execute(ctx, act)
	})
	if err != nil {
		logger.Errorf("止盈平仓失败 | %s | %v", p.Symbol, err)
		return
	}
	completed, err := e.tracker.RecordClose(ctx, p.Symbol, side, p.MarkPrice, absFloat(p.Size), "trailing_stop", 0)
	if err != nil {
		logger.Warnf("记录止盈平仓失败 | %s | %v", p.Symbol, err)
		return
	}
	e.prot.clear(p.Symbol)
	e.archiveTrade(ctx, completed)
	logger.Infof("止盈平仓完成 | %s | %s | 净收益 %.2f USDT", p.Symbol, side, completed.NetPnL)
}

func (e *Engine) balanceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.AccountRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshBalance(ctx)
		}
	}
}
