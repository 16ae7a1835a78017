package binance

import "time"

type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// ProxyURL 非空时 REST 请求走代理。
	ProxyURL    string
	HTTPTimeout time.Duration
	// DefaultLeverage 开仓时模型未指定杠杆的缺省值。
	DefaultLeverage int
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = 5
	}
	return c
}
