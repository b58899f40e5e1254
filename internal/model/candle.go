package model

import (
	"time"
)

// Candle represents one daily OHLCV point from the market data service
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Snapshot converts the candle to a trade-time market snapshot
func (c Candle) Snapshot() MarketSnapshot {
	return MarketSnapshot{
		Price:  c.Close,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}
