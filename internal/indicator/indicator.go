// Package indicator 基于 go-talib 计算技术指标。
package indicator

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/liliangjiep/nofv/internal/market"
)

const DefaultATRPeriod = 14

// ATR 计算序列最后一根的 Average True Range。
// 数据不足或结果非有限值时返回错误。
func ATR(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		period = DefaultATRPeriod
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("atr: need %d candles, have %d", period+1, len(candles))
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	series := talib.Atr(highs, lows, closes, period)
	if len(series) == 0 {
		return 0, fmt.Errorf("atr: empty result")
	}
	last := series[len(series)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) || last <= 0 {
		return 0, fmt.Errorf("atr: invalid value %v", last)
	}
	return last, nil
}

// EMA 计算序列最后一根的指数均线值。
func EMA(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period {
		return 0, fmt.Errorf("ema: need %d closes, have %d", period, len(closes))
	}
	series := talib.Ema(closes, period)
	last := series[len(series)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return 0, fmt.Errorf("ema: invalid value %v", last)
	}
	return last, nil
}

// Provider 从K线缓存按需取某 symbol 的 ATR。追踪止盈用 15m / 14 周期。
type Provider struct {
	Store    market.KlineStore
	Interval string
	Period   int
}

func NewProvider(store market.KlineStore, interval string, period int) *Provider {
	if interval == "" {
		interval = "15m"
	}
	if period <= 0 {
		period = DefaultATRPeriod
	}
	return &Provider{Store: store, Interval: interval, Period: period}
}

// ATR 取不到数据时返回错误，调用方降级到百分比止盈。
func (p *Provider) ATR(ctx context.Context, symbol string) (float64, error) {
	candles, err := p.Store.Get(ctx, symbol, p.Interval)
	if err != nil {
		return 0, err
	}
	return ATR(candles, p.Period)
}
