package config

import (
	"github.com/liliangjiep/nofv/internal/tracker"
)

// Config 是 nofv 的主配置载体。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Redis     RedisConfig     `mapstructure:"redis"`
	TradeLog  TradeLogConfig  `mapstructure:"trade_log"`
	Market    MarketConfig    `mapstructure:"market"`
	Structure StructureConfig `mapstructure:"structure"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Hotlist   HotlistConfig   `mapstructure:"hotlist"`

	Trailing tracker.TrailingConfig `mapstructure:"trailing"`
}

type AppConfig struct {
	LogLevel          string `mapstructure:"log_level"`
	LogPath           string `mapstructure:"log_path"`
	OracleLogPath     string `mapstructure:"oracle_log_path"`
	OracleDumpPayload bool   `mapstructure:"oracle_dump_payload"`
}

type ExchangeConfig struct {
	APIKey             string `mapstructure:"api_key"`
	APISecret          string `mapstructure:"api_secret"`
	Testnet            bool   `mapstructure:"testnet"`
	ProxyURL           string `mapstructure:"proxy_url"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
	DefaultLeverage    int    `mapstructure:"default_leverage"`
}

type OracleConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKey         string            `mapstructure:"api_key"`
	Model          string            `mapstructure:"model"`
	Temperature    float64           `mapstructure:"temperature"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	MaxRetries     int               `mapstructure:"max_retries"`
	Headers        map[string]string `mapstructure:"headers"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// TradeLogConfig SQLite 归档，路径为空时停用。
type TradeLogConfig struct {
	Path string `mapstructure:"path"`
}

type MarketConfig struct {
	WatchSymbols []string       `mapstructure:"watch_symbols"`
	Timeframes   []string       `mapstructure:"timeframes"`
	KlineLimits  map[string]int `mapstructure:"kline_limits"`
	MaxCached    int            `mapstructure:"max_cached"`
}

// StructureParams 单个周期的市场结构参数。
type StructureParams struct {
	SwingSize         int `mapstructure:"swing_size"`
	KeepPivots        int `mapstructure:"keep_pivots"`
	TrendVoteLookback int `mapstructure:"trend_vote_lookback"`
	RangePivotK       int `mapstructure:"range_pivot_k"`
}

type StructureConfig struct {
	Params map[string]StructureParams `mapstructure:"params"`
	// 快照在 Redis 里的存活时间（秒）
	SnapshotTTLSeconds int `mapstructure:"snapshot_ttl_seconds"`
}

type SchedulerConfig struct {
	ScanIntervalMinutes         int     `mapstructure:"scan_interval_minutes"`
	ManageIntervalMinutes       int     `mapstructure:"manage_interval_minutes"`
	PriceMonitorIntervalSeconds int     `mapstructure:"price_monitor_interval_seconds"`
	AccountRefreshSeconds       int     `mapstructure:"account_refresh_seconds"`
	MaxPositions                int     `mapstructure:"max_positions"`
	ProtectSeconds              int     `mapstructure:"protect_seconds"`
	ProtectBypassProfitPct      float64 `mapstructure:"protect_bypass_profit_pct"`
	LimitOrderTimeoutMinutes    int     `mapstructure:"limit_order_timeout_minutes"`
	LimitOrderCheckEnabled      bool    `mapstructure:"limit_order_check_enabled"`
}

// HotlistConfig 热门币种榜单来源。URL 为空时不启动刷新循环。
type HotlistConfig struct {
	URL             string   `mapstructure:"url"`
	IntervalMinutes int      `mapstructure:"interval_minutes"`
	Exclude         []string `mapstructure:"exclude"`
}

type TradingConfig struct {
	MinTradeAmount     float64 `mapstructure:"min_trade_amount"`
	MaxPositionSizeUSD float64 `mapstructure:"max_position_size_usd"`
	DefaultSLPct       float64 `mapstructure:"default_sl_pct"`
	DefaultTPPct       float64 `mapstructure:"default_tp_pct"`
}
