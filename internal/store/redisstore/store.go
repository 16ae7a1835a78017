// Package redisstore 基于 Redis 的运行时存储：活跃/已完成交易、K线缓存、
// 结构快照、热门币种榜单、限价单台账。
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys
const (
	keyActiveTrades    = "active_trades"
	keyCompletedTrades = "completed_trades"
	keyHotSymbols      = "AI500_SYMBOLS"
	keyPendingLimits   = "pending_limit_orders"

	klineKeyPrefix     = "historical_data:"
	structureKeyPrefix = "structure:"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Store 持有一个共享的 redis 客户端，各存储面共用。
type Store struct {
	client *redis.Client
}

func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient 直接注入客户端，测试用。
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error { return s.client.Close() }

// HotSymbols 返回外部榜单维护的热门币种，榜单为空不算错误。
func (s *Store) HotSymbols(ctx context.Context) ([]string, error) {
	symbols, err := s.client.LRange(ctx, keyHotSymbols, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read hot symbols: %w", err)
	}
	return symbols, nil
}

// ReplaceHotSymbols 整体替换榜单。
func (s *Store) ReplaceHotSymbols(ctx context.Context, symbols []string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyHotSymbols)
	if len(symbols) > 0 {
		args := make([]interface{}, len(symbols))
		for i, sym := range symbols {
			args[i] = sym
		}
		pipe.RPush(ctx, keyHotSymbols, args...)
	}
	_, err := pipe.Exec(ctx)
	return err
}
