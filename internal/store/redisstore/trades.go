package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/liliangjiep/nofv/internal/logger"
	"github.com/liliangjiep/nofv/internal/tracker"
)

// GetActiveTrade 未命中返回 (nil, nil)。
func (s *Store) GetActiveTrade(ctx context.Context, symbol, side string) (*tracker.ActiveTrade, error) {
	raw, err := s.client.HGet(ctx, keyActiveTrades, symbol+":"+side).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hget active trade: %w", err)
	}
	var trade tracker.ActiveTrade
	if err := json.Unmarshal([]byte(raw), &trade); err != nil {
		return nil, fmt.Errorf("decode active trade %s:%s: %w", symbol, side, err)
	}
	return &trade, nil
}

func (s *Store) PutActiveTrade(ctx context.Context, trade tracker.ActiveTrade) error {
	raw, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, keyActiveTrades, trade.Key(), raw).Err()
}

func (s *Store) RemoveActiveTrade(ctx context.Context, symbol, side string) error {
	return s.client.HDel(ctx, keyActiveTrades, symbol+":"+side).Err()
}

func (s *Store) ListActiveTrades(ctx context.Context) ([]tracker.ActiveTrade, error) {
	raw, err := s.client.HGetAll(ctx, keyActiveTrades).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall active trades: %w", err)
	}
	out := make([]tracker.ActiveTrade, 0, len(raw))
	for field, v := range raw {
		var trade tracker.ActiveTrade
		if err := json.Unmarshal([]byte(v), &trade); err != nil {
			logger.Warnf("跳过损坏的活跃交易记录 | %s | %v", field, err)
			continue
		}
		out = append(out, trade)
	}
	return out, nil
}

func (s *Store) AppendCompletedTrade(ctx context.Context, trade tracker.CompletedTrade) error {
	raw, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, keyCompletedTrades, raw).Err()
}

func (s *Store) ListCompletedTrades(ctx context.Context, limit int) ([]tracker.CompletedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, keyCompletedTrades, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange completed trades: %w", err)
	}
	out := make([]tracker.CompletedTrade, 0, len(raw))
	for _, v := range raw {
		var trade tracker.CompletedTrade
		if err := json.Unmarshal([]byte(v), &trade); err != nil {
			continue
		}
		out = append(out, trade)
	}
	return out, nil
}
