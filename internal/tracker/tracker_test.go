package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliangjiep/nofv/internal/gateway/exchange"
)

type memStore struct {
	active    map[string]ActiveTrade
	completed []CompletedTrade
}

func newMemStore() *memStore {
	return &memStore{active: make(map[string]ActiveTrade)}
}

func (m *memStore) GetActiveTrade(_ context.Context, symbol, side string) (*ActiveTrade, error) {
	t, ok := m.active[symbol+":"+side]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (m *memStore) PutActiveTrade(_ context.Context, trade ActiveTrade) error {
	m.active[trade.Key()] = trade
	return nil
}

func (m *memStore) RemoveActiveTrade(_ context.Context, symbol, side string) error {
	delete(m.active, symbol+":"+side)
	return nil
}

func (m *memStore) ListActiveTrades(_ context.Context) ([]ActiveTrade, error) {
	out := make([]ActiveTrade, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) AppendCompletedTrade(_ context.Context, trade CompletedTrade) error {
	m.completed = append(m.completed, trade)
	return nil
}

func (m *memStore) ListCompletedTrades(_ context.Context, limit int) ([]CompletedTrade, error) {
	if limit > len(m.completed) {
		limit = len(m.completed)
	}
	return m.completed[:limit], nil
}

type fixedATR struct{ atr float64 }

func (f fixedATR) ATR(context.Context, string) (float64, error) { return f.atr, nil }

type fakeHistory struct {
	fills   []exchange.Fill
	incomes []exchange.Income
}

func (f *fakeHistory) FillHistory(context.Context, string, int) ([]exchange.Fill, error) {
	return f.fills, nil
}

func (f *fakeHistory) IncomeHistory(context.Context, string, string, int) ([]exchange.Income, error) {
	return f.incomes, nil
}

func newTestTracker(store TradeStore, atr ATRSource, hist AccountHistory) *Tracker {
	tr := New(store, hist, atr, DefaultTrailingConfig())
	tr.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return tr
}

func TestUpdateOnPriceMonotonicHighWaterMarks(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 2, "market", 0.1, 5)
	require.NoError(t, err)

	trade, err := tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 110)
	require.NoError(t, err)
	assert.Equal(t, 20.0, trade.PeakPnL)
	assert.Equal(t, 110.0, trade.PeakPrice)

	trade, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 105)
	require.NoError(t, err)
	assert.Equal(t, 20.0, trade.PeakPnL, "回落不降低峰值")
	assert.Equal(t, 10.0, trade.MaxDrawdown)
	assert.Equal(t, 105.0, trade.TroughPrice)

	trade, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 108)
	require.NoError(t, err)
	assert.Equal(t, 10.0, trade.MaxDrawdown, "回撤高水位保持")
}

func TestUpdateOnPriceShortSign(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "ETHUSDT", "SHORT", 100, 1, "market", 0, 3)
	require.NoError(t, err)

	trade, err := tr.UpdateOnPrice(ctx, "ETHUSDT", "SHORT", 90)
	require.NoError(t, err)
	assert.Equal(t, 10.0, trade.PeakPnL)
	assert.Equal(t, 90.0, trade.PeakPrice)
}

func TestUpdateOnPriceMissingRecord(t *testing.T) {
	tr := newTestTracker(newMemStore(), fixedATR{}, &fakeHistory{})
	trade, err := tr.UpdateOnPrice(context.Background(), "BTCUSDT", "LONG", 100)
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestEvaluateExitActivationGate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{atr: 1}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)
	_, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 101.5) // 峰值 1.5% < 2%
	require.NoError(t, err)

	sig := tr.EvaluateExit(ctx, "BTCUSDT", "LONG", 100.5, 100)
	assert.False(t, sig.Triggered)
	assert.Contains(t, sig.Reason, "未达激活条件")
}

func TestEvaluateExitATRTriggered(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{atr: 1.0}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)
	_, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 105) // 峰值 5% -> mult 1.0
	require.NoError(t, err)

	// 回撤 0.5 < 允许 1.0，不触发
	sig := tr.EvaluateExit(ctx, "BTCUSDT", "LONG", 104.5, 100)
	assert.False(t, sig.Triggered)
	assert.Equal(t, 1.0, sig.ATRMult)

	// 回撤 1.1 >= 1.0，触发
	sig = tr.EvaluateExit(ctx, "BTCUSDT", "LONG", 103.9, 100)
	assert.True(t, sig.Triggered)
	assert.Contains(t, sig.Reason, "ATR")
}

func TestEvaluateExitDrawdownCapClampsATR(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{atr: 5.0}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)
	_, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 106)
	require.NoError(t, err)

	// ATR 允许 5.0 被 entry*2% = 2.0 压住
	sig := tr.EvaluateExit(ctx, "BTCUSDT", "LONG", 103.8, 100)
	assert.True(t, sig.Triggered)
	assert.Equal(t, 2.0, sig.AllowedDrawdown)
	assert.Contains(t, sig.Reason, "最大回撤")
}

func TestEvaluateExitPctFallback(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{atr: 0}, &fakeHistory{}) // ATR 不可用

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)
	_, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 110) // 峰值 10% -> 档位允许回撤 30%
	require.NoError(t, err)

	// 回撤 (10-8)/10 = 20% < 30%
	sig := tr.EvaluateExit(ctx, "BTCUSDT", "LONG", 108, 100)
	assert.False(t, sig.Triggered)

	// 回撤 (10-6.9)/10 = 31% >= 30%
	sig = tr.EvaluateExit(ctx, "BTCUSDT", "LONG", 106.9, 100)
	assert.True(t, sig.Triggered)
	assert.Contains(t, sig.Reason, "百分比止盈")
}

func TestEvaluateExitDisabled(t *testing.T) {
	cfg := DefaultTrailingConfig()
	cfg.Enabled = false
	tr := New(newMemStore(), &fakeHistory{}, fixedATR{}, cfg)
	sig := tr.EvaluateExit(context.Background(), "BTCUSDT", "LONG", 105, 100)
	assert.False(t, sig.Triggered)
}

func TestRecordCloseSettles(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 2, "market", 0.2, 5)
	require.NoError(t, err)
	_, err = tr.UpdateOnPrice(ctx, "BTCUSDT", "LONG", 110)
	require.NoError(t, err)

	completed, err := tr.RecordClose(ctx, "BTCUSDT", "LONG", 105, 2, "market", 0.3)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, completed.Status)
	assert.Equal(t, 10.0, completed.NetPnL)
	assert.Equal(t, 20.0, completed.PeakPnL)
	assert.Equal(t, 10.0, completed.MaxDrawdown)
	assert.Equal(t, 0.5, completed.TotalFee)
	assert.Equal(t, 5.0, completed.PnLPct) // 10 / 200 * 100
	assert.Empty(t, store.active)
	assert.Len(t, store.completed, 1)
}

func TestRecordCloseWithoutEntry(t *testing.T) {
	tr := newTestTracker(newMemStore(), fixedATR{}, &fakeHistory{})
	completed, err := tr.RecordClose(context.Background(), "BTCUSDT", "SHORT", 100, 1, "market", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusClosedNoEntry, completed.Status)
}

func TestSyncPositionsBackfills(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	added, err := tr.SyncPositions(ctx, []exchange.Position{
		{Symbol: "BTCUSDT", Size: 0.5, EntryPrice: 60000, Leverage: 5},
		{Symbol: "ETHUSDT", Size: -2, EntryPrice: 3000, Leverage: 3},
		{Symbol: "XRPUSDT", Size: 0}, // 零仓位忽略
	})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.True(t, added[0].NeedsStopSetup)
	assert.Equal(t, "limit", added[0].OrderType)

	short, err := store.GetActiveTrade(ctx, "ETHUSDT", "SHORT")
	require.NoError(t, err)
	require.NotNil(t, short)
	assert.Equal(t, 2.0, short.Quantity)
}

func TestSyncPositionsConvertsPendingFlag(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	trade, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "limit", 0, 5)
	require.NoError(t, err)
	trade.PendingStopSetup = true
	require.NoError(t, store.PutActiveTrade(ctx, trade))

	added, err := tr.SyncPositions(ctx, []exchange.Position{{Symbol: "BTCUSDT", Size: 1, EntryPrice: 100}})
	require.NoError(t, err)
	assert.Empty(t, added)

	got, err := store.GetActiveTrade(ctx, "BTCUSDT", "LONG")
	require.NoError(t, err)
	assert.False(t, got.PendingStopSetup)
	assert.True(t, got.NeedsStopSetup)
}

func TestReconcileVerifiedByFill(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	hist := &fakeHistory{}
	tr := newTestTracker(store, fixedATR{}, hist)

	trade, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)

	// 开仓之后的卖出成交 = LONG 平仓
	hist.fills = []exchange.Fill{{
		Symbol:       "BTCUSDT",
		Price:        107,
		Quantity:     1,
		Commission:   0.05,
		Buyer:        false,
		PositionSide: "LONG",
		Time:         (trade.EntryTime + 60) * 1000,
	}}

	closed, err := tr.ReconcileAutoCloses(ctx, nil)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, StatusClosedAuto, closed[0].Status)
	assert.Equal(t, "auto_sl_tp", closed[0].ExitType)
	assert.Equal(t, 7.0, closed[0].NetPnL)
	assert.Empty(t, store.active)
}

func TestReconcileUnverifiedSkips(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)

	closed, err := tr.ReconcileAutoCloses(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, closed)
	assert.Len(t, store.active, 1, "未验证的缺失仓位保留待下轮重试")
}

func TestReconcileIncomeFallback(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	hist := &fakeHistory{}
	tr := newTestTracker(store, fixedATR{}, hist)

	trade, err := tr.RecordOpen(ctx, "BTCUSDT", "SHORT", 100, 1, "market", 0, 5)
	require.NoError(t, err)

	hist.incomes = []exchange.Income{{
		Symbol:     "BTCUSDT",
		IncomeType: "REALIZED_PNL",
		Income:     3.5,
		Time:       (trade.EntryTime + 30) * 1000,
	}}

	closed, err := tr.ReconcileAutoCloses(ctx, nil)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 3.5, closed[0].NetPnL)
	assert.Equal(t, 100.0, closed[0].ExitPrice, "无成交价时回退入场价")
}

func TestReconcileHeldPositionsUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := newTestTracker(store, fixedATR{}, &fakeHistory{})

	_, err := tr.RecordOpen(ctx, "BTCUSDT", "LONG", 100, 1, "market", 0, 5)
	require.NoError(t, err)

	closed, err := tr.ReconcileAutoCloses(ctx, []exchange.Position{{Symbol: "BTCUSDT", Size: 1}})
	require.NoError(t, err)
	assert.Empty(t, closed)
	assert.Len(t, store.active, 1)
}
