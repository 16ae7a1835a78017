package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Oracle.validate(); err != nil {
		return err
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Structure.validate(c.Market.Timeframes); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
		return fmt.Errorf("exchange.api_key / exchange.api_secret 不能为空")
	}
	return nil
}

func (o *OracleConfig) validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return fmt.Errorf("oracle.model 不能为空")
	}
	if strings.TrimSpace(o.BaseURL) == "" {
		return fmt.Errorf("oracle.base_url 不能为空")
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("redis.addr 不能为空")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.WatchSymbols) == 0 {
		return fmt.Errorf("market.watch_symbols 至少配置一个币种")
	}
	for _, tf := range m.Timeframes {
		if _, ok := m.KlineLimits[tf]; !ok {
			return fmt.Errorf("market.kline_limits 缺少周期 %s", tf)
		}
	}
	return nil
}

func (s *StructureConfig) validate(timeframes []string) error {
	for _, tf := range timeframes {
		p, ok := s.Params[tf]
		if !ok {
			return fmt.Errorf("structure.params 缺少周期 %s", tf)
		}
		if p.SwingSize <= 0 || p.KeepPivots < 4 {
			return fmt.Errorf("structure.params.%s 非法: swing_size>0 且 keep_pivots>=4", tf)
		}
	}
	return nil
}
