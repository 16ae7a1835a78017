package market

import "context"

// KlineStore 缓存各 symbol+interval 的K线序列，供指标计算与外部读取。
type KlineStore interface {
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
	Put(ctx context.Context, symbol, interval string, candles []Candle, max int) error
	// Symbols 返回当前缓存中出现过的全部 symbol（任意 interval）。
	Symbols(ctx context.Context) ([]string, error)
	// Drop 删除一个 symbol 在所有 interval 下的缓存。
	Drop(ctx context.Context, symbol string) error
}
