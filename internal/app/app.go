// Package app 按配置装配全部组件并启动调度循环。
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/liliangjiep/nofv/internal/config"
	"github.com/liliangjiep/nofv/internal/gateway/binance"
	"github.com/liliangjiep/nofv/internal/hotlist"
	"github.com/liliangjiep/nofv/internal/indicator"
	"github.com/liliangjiep/nofv/internal/logger"
	"github.com/liliangjiep/nofv/internal/oracle"
	"github.com/liliangjiep/nofv/internal/scheduler"
	"github.com/liliangjiep/nofv/internal/store/redisstore"
	"github.com/liliangjiep/nofv/internal/store/tradelog"
	"github.com/liliangjiep/nofv/internal/tracker"
)

// atrInterval 移动止盈使用的 ATR 周期与参数。
const (
	atrInterval = "15m"
	atrPeriod   = 14
)

// App 持有全部需要显式关闭的资源。
type App struct {
	cfg     *config.Config
	store   *redisstore.Store
	archive *tradelog.Archive
	engine  *scheduler.Engine
	hot     *hotlist.Refresher
}

func New(cfg *config.Config) (*App, error) {
	store, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	var archive *tradelog.Archive
	if cfg.TradeLog.Path != "" {
		archive, err = tradelog.Open(cfg.TradeLog.Path)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open trade log: %w", err)
		}
	}

	source, err := binance.New(binance.Config{
		APIKey:          cfg.Exchange.APIKey,
		APISecret:       cfg.Exchange.APISecret,
		Testnet:         cfg.Exchange.Testnet,
		ProxyURL:        cfg.Exchange.ProxyURL,
		HTTPTimeout:     time.Duration(cfg.Exchange.HTTPTimeoutSeconds) * time.Second,
		DefaultLeverage: cfg.Exchange.DefaultLeverage,
	})
	if err != nil {
		if archive != nil {
			archive.Close()
		}
		store.Close()
		return nil, fmt.Errorf("init exchange: %w", err)
	}
	source.SetLimitOrderLedger(store)

	atrProvider := indicator.NewProvider(store, atrInterval, atrPeriod)
	trk := tracker.New(store, source, atrProvider, cfg.Trailing)

	client := &oracle.OpenAIChatClient{
		BaseURL:      cfg.Oracle.BaseURL,
		APIKey:       cfg.Oracle.APIKey,
		Model:        cfg.Oracle.Model,
		Temperature:  cfg.Oracle.Temperature,
		Timeout:      time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
		MaxRetries:   cfg.Oracle.MaxRetries,
		ExtraHeaders: cfg.Oracle.Headers,
	}
	orc := oracle.NewChatOracle(cfg.Oracle.Model, client)

	engine := scheduler.NewEngine(
		schedulerOptions(cfg),
		source, source, orc, trk,
		store, store, store, store,
		archiveOrNil(archive),
	)

	var hot *hotlist.Refresher
	if cfg.Hotlist.URL != "" {
		hot = hotlist.NewRefresher(
			hotlist.NewHTTPSymbolProvider(cfg.Hotlist.URL, cfg.Hotlist.Exclude),
			store,
			time.Duration(cfg.Hotlist.IntervalMinutes)*time.Minute,
		)
	}

	return &App{cfg: cfg, store: store, archive: archive, engine: engine, hot: hot}, nil
}

// Run 阻塞运行调度器直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	logger.Infof("启动交易调度 | 关注币种=%v 周期=%v", a.cfg.Market.WatchSymbols, a.cfg.Market.Timeframes)
	if a.hot != nil {
		go a.hot.Run(ctx)
	}
	return a.engine.Run(ctx)
}

func (a *App) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			logger.Warnf("关闭交易归档失败: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭 Redis 失败: %v", err)
		}
	}
}

func schedulerOptions(cfg *config.Config) scheduler.Options {
	params := make(map[string]scheduler.StructureParams, len(cfg.Structure.Params))
	for tf, p := range cfg.Structure.Params {
		params[tf] = scheduler.StructureParams{
			SwingSize:         p.SwingSize,
			KeepPivots:        p.KeepPivots,
			TrendVoteLookback: p.TrendVoteLookback,
			RangePivotK:       p.RangePivotK,
		}
	}
	return scheduler.Options{
		WatchSymbols: cfg.Market.WatchSymbols,
		Timeframes:   cfg.Market.Timeframes,
		KlineLimits:  cfg.Market.KlineLimits,
		MaxCached:    cfg.Market.MaxCached,

		StructureParams: params,
		SnapshotTTL:     time.Duration(cfg.Structure.SnapshotTTLSeconds) * time.Second,

		ScanInterval:         time.Duration(cfg.Scheduler.ScanIntervalMinutes) * time.Minute,
		ManageInterval:       time.Duration(cfg.Scheduler.ManageIntervalMinutes) * time.Minute,
		PriceMonitorInterval: time.Duration(cfg.Scheduler.PriceMonitorIntervalSeconds) * time.Second,
		AccountRefresh:       time.Duration(cfg.Scheduler.AccountRefreshSeconds) * time.Second,

		MaxPositions:      cfg.Scheduler.MaxPositions,
		ProtectWindow:     time.Duration(cfg.Scheduler.ProtectSeconds) * time.Second,
		ProtectBypassPct:  cfg.Scheduler.ProtectBypassProfitPct,
		LimitOrderTimeout: time.Duration(cfg.Scheduler.LimitOrderTimeoutMinutes) * time.Minute,
		LimitOrderCheck:   cfg.Scheduler.LimitOrderCheckEnabled,

		DefaultSLPct: cfg.Trading.DefaultSLPct,
		DefaultTPPct: cfg.Trading.DefaultTPPct,

		MinTradeAmount: cfg.Trading.MinTradeAmount,
		MaxPositionUSD: cfg.Trading.MaxPositionSizeUSD,
	}
}

// archiveOrNil 避免把带类型的 nil 指针塞进接口。
func archiveOrNil(a *tradelog.Archive) scheduler.TradeArchive {
	if a == nil {
		return nil
	}
	return a
}
