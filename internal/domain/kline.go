package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
}

// PricePath returns the intra-candle path a replay walks through: open, the
// adverse extreme for side, the favorable extreme, then close.
func (k Kline) PricePath(side Side) []float64 {
	if side == SideShort {
		return []float64{k.Open, k.High, k.Low, k.Close}
	}
	return []float64{k.Open, k.Low, k.High, k.Close}
}
