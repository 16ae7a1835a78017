package scheduler

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/liliangjiep/nofv/internal/indicator"
	"github.com/liliangjiep/nofv/internal/logger"
	"github.com/liliangjiep/nofv/internal/market"
	"github.com/liliangjiep/nofv/internal/oracle"
	"github.com/liliangjiep/nofv/internal/structure"
)

// 并发拉取上限，避免打满交易所权重。
const klineFetchConcurrency = 5

const atrPeriod = 14

// refreshKlines 并发补全监控池内所有币种、所有周期的K线缓存。
// 单个 symbol/interval 失败只记日志，不影响其它币种。
func (e *Engine) refreshKlines(ctx context.Context, symbols []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(klineFetchConcurrency)
	for _, symbol := range symbols {
		for _, interval := range e.opts.Timeframes {
			symbol, interval := symbol, interval
			g.Go(func() error {
				limit := e.opts.KlineLimits[interval]
				if limit <= 0 {
					limit = 300
				}
				candles, err := e.gateway.FetchKlines(gctx, symbol, interval, limit)
				if err != nil {
					logger.Warnf("拉取K线失败 | %s %s | %v", symbol, interval, err)
					return nil
				}
				if err := e.klines.Put(gctx, symbol, interval, candles, e.opts.MaxCached); err != nil {
					logger.Warnf("写K线缓存失败 | %s %s | %v", symbol, interval, err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

// analyzeSymbols 对监控池逐币种跑结构识别与 ATR，产出给模型的行情报告。
// 结构快照同时落库，带 TTL，供外部复盘。
func (e *Engine) analyzeSymbols(ctx context.Context, symbols []string) []oracle.SymbolReport {
	var (
		mu      sync.Mutex
		reports []oracle.SymbolReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(klineFetchConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			report, ok := e.analyzeOne(gctx, symbol)
			if !ok {
				return nil
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(reports, func(i, j int) bool { return reports[i].Symbol < reports[j].Symbol })
	return reports
}

func (e *Engine) analyzeOne(ctx context.Context, symbol string) (oracle.SymbolReport, bool) {
	report := oracle.SymbolReport{
		Symbol:    symbol,
		Structure: make(map[string]structure.Snapshot, len(e.opts.Timeframes)),
		ATR:       make(map[string]float64, len(e.opts.Timeframes)),
	}
	for _, interval := range e.opts.Timeframes {
		candles, err := e.klines.Get(ctx, symbol, interval)
		if err != nil || len(candles) == 0 {
			continue
		}
		params := e.opts.StructureParams[interval]
		analyzer := structure.NewAnalyzer(params.SwingSize, params.KeepPivots, params.TrendVoteLookback, params.RangePivotK)
		snap := analyzer.Analyze(candles)
		report.Structure[interval] = snap
		if e.snaps != nil {
			if err := e.snaps.PutStructureSnapshot(ctx, symbol, interval, snap, e.opts.SnapshotTTL); err != nil {
				logger.Warnf("写结构快照失败 | %s %s | %v", symbol, interval, err)
			}
		}
		if atr, err := indicator.ATR(candles, atrPeriod); err == nil && atr > 0 {
			report.ATR[interval] = atr
		}
		if report.Price <= 0 {
			report.Price = lastClose(candles, 0)
		}
	}
	if len(report.Structure) == 0 {
		logger.Warnf("行情数据不足，跳过 | %s", symbol)
		return oracle.SymbolReport{}, false
	}
	if report.Price <= 0 {
		if price, err := e.gateway.MarkPrice(ctx, symbol); err == nil {
			report.Price = price
		}
	}
	return report, true
}

func lastClose(candles []market.Candle, fallback float64) float64 {
	if len(candles) == 0 {
		return fallback
	}
	if c := candles[len(candles)-1].Close; c > 0 {
		return c
	}
	return fallback
}
