package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/liliangjiep/nofv/internal/market"
)

// K线按 hash 存储：key historical_data:{symbol}:{interval}，
// field 为开盘毫秒时间戳，value 为单根K线 JSON。

func klineKey(symbol, interval string) string {
	return klineKeyPrefix + symbol + ":" + interval
}

func (s *Store) Put(ctx context.Context, symbol, interval string, candles []market.Candle, max int) error {
	if len(candles) == 0 {
		return nil
	}
	key := klineKey(symbol, interval)
	pipe := s.client.TxPipeline()
	for _, c := range candles {
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, key, strconv.FormatInt(c.OpenTime, 10), raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store klines %s %s: %w", symbol, interval, err)
	}
	if max > 0 {
		return s.trimKlines(ctx, key, max)
	}
	return nil
}

// trimKlines 把 hash 控制在 max 根以内，淘汰最旧的。
func (s *Store) trimKlines(ctx context.Context, key string, max int) error {
	fields, err := s.client.HKeys(ctx, key).Result()
	if err != nil || len(fields) <= max {
		return err
	}
	sort.Slice(fields, func(i, j int) bool {
		a, _ := strconv.ParseInt(fields[i], 10, 64)
		b, _ := strconv.ParseInt(fields[j], 10, 64)
		return a < b
	})
	stale := fields[:len(fields)-max]
	return s.client.HDel(ctx, key, stale...).Err()
}

func (s *Store) Get(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	raw, err := s.client.HGetAll(ctx, klineKey(symbol, interval)).Result()
	if err != nil {
		return nil, fmt.Errorf("read klines %s %s: %w", symbol, interval, err)
	}
	out := make([]market.Candle, 0, len(raw))
	for _, v := range raw {
		var c market.Candle
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, klineKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) != 3 {
			continue
		}
		if sym := parts[1]; !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Drop(ctx context.Context, symbol string) error {
	keys, err := s.client.Keys(ctx, klineKeyPrefix+symbol+":*").Result()
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.client.Del(ctx, keys...).Err()
}
