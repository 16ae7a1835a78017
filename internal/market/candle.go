package market

// Candle 单根已收盘K线。序列约定按 OpenTime 严格递增。
type Candle struct {
	OpenTime       int64   `json:"open_time"`
	CloseTime      int64   `json:"close_time"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	TakerBuyVolume float64 `json:"taker_buy_volume"`
}
