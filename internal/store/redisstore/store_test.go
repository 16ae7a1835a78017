package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliangjiep/nofv/internal/market"
	"github.com/liliangjiep/nofv/internal/tracker"
)

// 集成测试，需要本地 Redis：REDIS_TEST_ADDR=127.0.0.1:6379 go test ./...
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR 未设置，跳过 redis 集成测试")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client)
}

func TestActiveTradeRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	trade := tracker.ActiveTrade{
		TradeID:    "BTCUSDT_LONG_1",
		Symbol:     "BTCUSDT",
		Side:       "LONG",
		EntryPrice: 60000,
		Quantity:   0.5,
	}
	require.NoError(t, s.PutActiveTrade(ctx, trade))

	got, err := s.GetActiveTrade(ctx, "BTCUSDT", "LONG")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, trade.EntryPrice, got.EntryPrice)

	missing, err := s.GetActiveTrade(ctx, "BTCUSDT", "SHORT")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.RemoveActiveTrade(ctx, "BTCUSDT", "LONG"))
	got, err = s.GetActiveTrade(ctx, "BTCUSDT", "LONG")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKlineStoreTrimsOldest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	candles := make([]market.Candle, 5)
	for i := range candles {
		candles[i] = market.Candle{OpenTime: int64(i * 60_000), Close: float64(100 + i)}
	}
	require.NoError(t, s.Put(ctx, "BTCUSDT", "15m", candles, 3))

	got, err := s.Get(ctx, "BTCUSDT", "15m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(120_000), got[0].OpenTime, "最旧的两根被淘汰")
	assert.Equal(t, int64(240_000), got[2].OpenTime)
}

func TestSymbolsAndDrop(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	one := []market.Candle{{OpenTime: 1}}
	require.NoError(t, s.Put(ctx, "BTCUSDT", "15m", one, 0))
	require.NoError(t, s.Put(ctx, "BTCUSDT", "1h", one, 0))
	require.NoError(t, s.Put(ctx, "ETHUSDT", "15m", one, 0))

	symbols, err := s.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)

	require.NoError(t, s.Drop(ctx, "BTCUSDT"))
	symbols, err = s.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, symbols)
}
