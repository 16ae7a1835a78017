package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/liliangjiep/nofv/internal/tracker"
)

// Load 读取 YAML 配置并补全缺省值。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(v)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(v *viper.Viper) {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Exchange.HTTPTimeoutSeconds <= 0 {
		c.Exchange.HTTPTimeoutSeconds = 30
	}
	if c.Exchange.DefaultLeverage <= 0 {
		c.Exchange.DefaultLeverage = 5
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 120
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}

	if len(c.Market.WatchSymbols) == 0 {
		c.Market.WatchSymbols = []string{"ETHUSDT", "SOLUSDT"}
	}
	if len(c.Market.Timeframes) == 0 {
		c.Market.Timeframes = []string{"4h", "1h", "15m"}
	}
	if len(c.Market.KlineLimits) == 0 {
		c.Market.KlineLimits = map[string]int{"15m": 301, "1h": 501, "4h": 801}
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 1000
	}

	if len(c.Structure.Params) == 0 {
		c.Structure.Params = map[string]StructureParams{
			"15m": {SwingSize: 4, KeepPivots: 10, TrendVoteLookback: 3, RangePivotK: 3},
			"1h":  {SwingSize: 6, KeepPivots: 12, TrendVoteLookback: 3, RangePivotK: 3},
			"4h":  {SwingSize: 10, KeepPivots: 14, TrendVoteLookback: 3, RangePivotK: 3},
		}
	}
	if c.Structure.SnapshotTTLSeconds <= 0 {
		c.Structure.SnapshotTTLSeconds = 3600
	}

	s := &c.Scheduler
	if s.ScanIntervalMinutes <= 0 {
		s.ScanIntervalMinutes = 15
	}
	if s.ManageIntervalMinutes <= 0 {
		s.ManageIntervalMinutes = 5
	}
	if s.PriceMonitorIntervalSeconds <= 0 {
		s.PriceMonitorIntervalSeconds = 10
	}
	if s.AccountRefreshSeconds <= 0 {
		s.AccountRefreshSeconds = 30
	}
	if s.MaxPositions <= 0 {
		s.MaxPositions = 10
	}
	if s.ProtectSeconds <= 0 {
		s.ProtectSeconds = 300
	}
	if s.ProtectBypassProfitPct <= 0 {
		s.ProtectBypassProfitPct = 5.0
	}
	if s.LimitOrderTimeoutMinutes <= 0 {
		s.LimitOrderTimeoutMinutes = 5
	}
	if !v.IsSet("scheduler.limit_order_check_enabled") {
		s.LimitOrderCheckEnabled = true
	}

	if c.Trading.MinTradeAmount <= 0 {
		c.Trading.MinTradeAmount = 50
	}
	if c.Trading.MaxPositionSizeUSD <= 0 {
		c.Trading.MaxPositionSizeUSD = 500
	}
	if c.Trading.DefaultSLPct <= 0 {
		c.Trading.DefaultSLPct = 3.0
	}
	if c.Trading.DefaultTPPct <= 0 {
		c.Trading.DefaultTPPct = 6.0
	}

	if c.Hotlist.IntervalMinutes <= 0 {
		c.Hotlist.IntervalMinutes = 10
	}
	if len(c.Hotlist.Exclude) == 0 {
		c.Hotlist.Exclude = []string{"BTCUSDT", "PAXGUSDT"}
	}

	// trailing 档位表为空时整体回退到缺省表
	def := tracker.DefaultTrailingConfig()
	if !v.IsSet("trailing.enabled") {
		c.Trailing.Enabled = def.Enabled
	}
	if !v.IsSet("trailing.atr_enabled") {
		c.Trailing.ATREnabled = def.ATREnabled
	}
	if c.Trailing.ActivatePct <= 0 {
		c.Trailing.ActivatePct = def.ActivatePct
	}
	if c.Trailing.MaxDrawdownPct <= 0 {
		c.Trailing.MaxDrawdownPct = def.MaxDrawdownPct
	}
	if len(c.Trailing.ATRTiers) == 0 {
		c.Trailing.ATRTiers = def.ATRTiers
	}
	if len(c.Trailing.PctTiers) == 0 {
		c.Trailing.PctTiers = def.PctTiers
	}
}
