package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Timeframe is one of the ranking horizons
type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists every ranking horizon in refresh order
func Timeframes() []Timeframe {
	return []Timeframe{TF5m, TF15m, TF1h, TF4h, TF1d}
}

// ParseTimeframe validates a timeframe label, case-insensitively
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	switch tf {
	case TF5m, TF15m, TF1h, TF4h, TF1d:
		return tf, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Duration returns the wall-clock span of the timeframe
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (tf Timeframe) String() string { return string(tf) }

// Ticker is the per-contract record from the tickers endpoint
type Ticker struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"last_price"`
	Volume24h   float64 `json:"volume_24h"`   // base-asset units
	Turnover24h float64 `json:"turnover_24h"` // quote units
	Price24hPct float64 `json:"price_24h_pct"`
	FundingRate float64 `json:"funding_rate"`
	HasFunding  bool    `json:"has_funding"`
}

// Candle is one kline bar
type Candle struct {
	Start    time.Time `json:"start"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Turnover float64   `json:"turnover"`
}

// Window selects a bounded run of candles. A zero End means "up to now".
type Window struct {
	Interval string    `json:"interval"`
	Limit    int       `json:"limit"`
	End      time.Time `json:"end,omitempty"`
}

// TickerSource returns every contract in the category
type TickerSource interface {
	Tickers(ctx context.Context) ([]Ticker, error)
}

// CandleSource returns candles for one symbol, newest first
type CandleSource interface {
	Klines(ctx context.Context, symbol string, w Window) ([]Candle, error)
}
