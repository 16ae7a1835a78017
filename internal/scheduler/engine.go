// Package scheduler 驱动整个交易循环：刷新行情、同步持仓、移动止盈、
// 调用决策模型并执行过滤后的动作。
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/liliangjiep/nofv/internal/gateway/binance"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/market"
	"github.com/liliangjiep/nofv/internal/oracle"
	"github.com/liliangjiep/nofv/internal/structure"
	"github.com/liliangjiep/nofv/internal/tracker"
)

// 调度模式。
const (
	ModeScan   = "scan"
	ModeManage = "manage"
)

// SnapshotStore 结构快照持久化。
type SnapshotStore interface {
	PutStructureSnapshot(ctx context.Context, symbol, interval string, snap structure.Snapshot, ttl time.Duration) error
}

// HotList 外部维护的热门币种榜单。
type HotList interface {
	HotSymbols(ctx context.Context) ([]string, error)
}

// StructureParams 每个周期的结构分析参数。
type StructureParams struct {
	SwingSize         int
	KeepPivots        int
	TrendVoteLookback int
	RangePivotK       int
}

// Options 调度器的全部运行参数。
type Options struct {
	WatchSymbols []string
	Timeframes   []string
	KlineLimits  map[string]int
	MaxCached    int

	StructureParams map[string]StructureParams
	SnapshotTTL     time.Duration

	ScanInterval         time.Duration
	ManageInterval       time.Duration
	PriceMonitorInterval time.Duration
	AccountRefresh       time.Duration

	MaxPositions      int
	ProtectWindow     time.Duration
	ProtectBypassPct  float64
	LimitOrderTimeout time.Duration
	LimitOrderCheck   bool

	DefaultSLPct float64
	DefaultTPPct float64

	// 开仓名义金额（USDT）的下限与上限
	MinTradeAmount float64
	MaxPositionUSD float64
}

// Engine 把市场数据、追踪器、决策模型和下单通道编排成一个调度循环。
type Engine struct {
	opts    Options
	gateway exchange.Gateway
	trader  exchange.Trader
	oracle  oracle.Oracle
	tracker *tracker.Tracker
	klines  market.KlineStore
	snaps   SnapshotStore
	hot     HotList
	ledger  binance.LimitOrderLedger
	archive TradeArchive

	prot *protectionBook

	// runMu 串行化 scan/manage 两个循环
	runMu sync.Mutex

	balanceMu   sync.RWMutex
	lastBalance exchange.Balance
}

// TradeArchive 已完成交易的额外落盘，可为 nil。
type TradeArchive interface {
	Append(ctx context.Context, trade tracker.CompletedTrade) error
}

func NewEngine(
	opts Options,
	gw exchange.Gateway,
	trader exchange.Trader,
	orc oracle.Oracle,
	tr *tracker.Tracker,
	klines market.KlineStore,
	snaps SnapshotStore,
	hot HotList,
	ledger binance.LimitOrderLedger,
	archive TradeArchive,
) *Engine {
	return &Engine{
		opts:    opts,
		gateway: gw,
		trader:  trader,
		oracle:  orc,
		tracker: tr,
		klines:  klines,
		snaps:   snaps,
		hot:     hot,
		ledger:  ledger,
		archive: archive,
		prot:    newProtectionBook(opts.ProtectWindow),
	}
}

// heldSides 把持仓列表压成 symbol → LONG/SHORT 映射。
func heldSides(positions []exchange.Position) map[string]string {
	out := make(map[string]string, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			out[p.Symbol] = p.Side()
		}
	}
	return out
}

// monitorPool 本轮监控池 = 固定关注 ∪ 持仓 ∪ 热门榜，去重保序。
func (e *Engine) monitorPool(ctx context.Context, positions []exchange.Position) []string {
	var all []string
	all = append(all, e.opts.WatchSymbols...)
	for _, p := range positions {
		if p.Size != 0 {
			all = append(all, p.Symbol)
		}
	}
	if e.hot != nil {
		if hot, err := e.hot.HotSymbols(ctx); err == nil {
			all = append(all, hot...)
		}
	}
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, sym := range all {
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}
