package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/liliangjiep/nofv/internal/gateway/binance"
	"github.com/liliangjiep/nofv/internal/logger"
)

func limitOrderField(symbol string, orderID int64) string {
	return fmt.Sprintf("%s:%d", symbol, orderID)
}

func (s *Store) RecordLimitOrder(ctx context.Context, ord binance.PendingLimitOrder) error {
	raw, err := json.Marshal(ord)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, keyPendingLimits, limitOrderField(ord.Symbol, ord.OrderID), raw).Err()
}

func (s *Store) RemoveLimitOrder(ctx context.Context, symbol string, orderID int64) error {
	return s.client.HDel(ctx, keyPendingLimits, limitOrderField(symbol, orderID)).Err()
}

func (s *Store) ListLimitOrders(ctx context.Context) ([]binance.PendingLimitOrder, error) {
	raw, err := s.client.HGetAll(ctx, keyPendingLimits).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall pending limit orders: %w", err)
	}
	out := make([]binance.PendingLimitOrder, 0, len(raw))
	for field, v := range raw {
		var ord binance.PendingLimitOrder
		if err := json.Unmarshal([]byte(v), &ord); err != nil {
			logger.Warnf("跳过损坏的限价单记录 | %s | %v", field, err)
			continue
		}
		out = append(out, ord)
	}
	return out, nil
}
