package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sawpanic/perpboard/internal/market"
)

// Response is the v5 envelope shared by every endpoint
type Response struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// TickerRow is one entry of /v5/market/tickers. Bybit encodes every number
// as a string.
type TickerRow struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Volume24h    string `json:"volume24h"`
	Turnover24h  string `json:"turnover24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	FundingRate  string `json:"fundingRate"`
}

type tickersResult struct {
	Category string      `json:"category"`
	List     []TickerRow `json:"list"`
}

// klineResult rows are [start, open, high, low, close, volume, turnover]
type klineResult struct {
	Symbol   string     `json:"symbol"`
	Category string     `json:"category"`
	List     [][]string `json:"list"`
}

// ToTicker converts the wire row. Unparseable numeric fields become zero;
// an unparseable or empty funding rate leaves HasFunding false.
func (r TickerRow) ToTicker() market.Ticker {
	t := market.Ticker{
		Symbol:      r.Symbol,
		LastPrice:   parseFloat(r.LastPrice),
		Volume24h:   parseFloat(r.Volume24h),
		Turnover24h: parseFloat(r.Turnover24h),
		Price24hPct: parseFloat(r.Price24hPcnt) * 100,
	}
	if r.FundingRate != "" {
		if rate, err := strconv.ParseFloat(r.FundingRate, 64); err == nil {
			t.FundingRate = rate
			t.HasFunding = true
		}
	}
	return t
}

func parseCandle(row []string) (market.Candle, error) {
	if len(row) < 7 {
		return market.Candle{}, fmt.Errorf("kline row has %d fields, want 7", len(row))
	}
	start, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("kline start %q: %w", row[0], err)
	}

	var vals [6]float64
	for i := range vals {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("kline field %d %q: %w", i+1, row[i+1], err)
		}
		vals[i] = v
	}

	return market.Candle{
		Start:    time.UnixMilli(start).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Turnover: vals[5],
	}, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
