package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpboard/internal/config"
	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/net/circuit"
	netclient "github.com/sawpanic/perpboard/internal/net/client"
	"github.com/sawpanic/perpboard/internal/net/ratelimit"
)

const tickersBody = `{
  "retCode": 0,
  "retMsg": "OK",
  "result": {
    "category": "linear",
    "list": [
      {"symbol": "BTCUSDT", "lastPrice": "65000.5", "volume24h": "12000", "turnover24h": "780000000", "price24hPcnt": "0.0123", "fundingRate": "0.0001"},
      {"symbol": "ETHUSDT-27MAR26", "lastPrice": "3200", "volume24h": "10", "turnover24h": "32000", "price24hPcnt": "-0.01", "fundingRate": ""}
    ]
  },
  "time": 1710000000000
}`

const klineBody = `{
  "retCode": 0,
  "retMsg": "OK",
  "result": {
    "symbol": "BTCUSDT",
    "category": "linear",
    "list": [
      ["1710000120000", "101", "103", "100", "102", "5", "510"],
      ["1710000060000", "100", "101", "99", "101", "4", "400"]
    ]
  },
  "time": 1710000180000
}`

func newTestClient(t *testing.T, h http.HandlerFunc, m *metrics.Registry, b *circuit.Breaker) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		Limiter:        ratelimit.NewLimiter(1000, 100),
		Metrics:        m,
		Breaker:        b,
	})
}

func TestClient_Tickers(t *testing.T) {
	m := metrics.NewRegistry()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/tickers", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		fmt.Fprint(w, tickersBody)
	}, m, nil)

	tickers, err := c.Tickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 2)

	btc := tickers[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, 65000.5, btc.LastPrice)
	assert.Equal(t, 12000.0, btc.Volume24h)
	assert.Equal(t, 780000000.0, btc.Turnover24h)
	assert.InDelta(t, 1.23, btc.Price24hPct, 1e-9)
	assert.True(t, btc.HasFunding)
	assert.Equal(t, 0.0001, btc.FundingRate)

	assert.False(t, tickers[1].HasFunding)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("tickers", metrics.ResultSuccess)))
}

func TestClient_Klines(t *testing.T) {
	end := time.UnixMilli(1710000179999).UTC()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1", q.Get("interval"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "1710000179999", q.Get("end"))
		fmt.Fprint(w, klineBody)
	}, nil, nil)

	candles, err := c.Klines(context.Background(), "BTCUSDT", market.Window{Interval: "1", Limit: 2, End: end})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.UnixMilli(1710000120000).UTC(), candles[0].Start)
	assert.Equal(t, 102.0, candles[0].Close)
	assert.Equal(t, 510.0, candles[0].Turnover)
	assert.Equal(t, 100.0, candles[1].Open)
}

func TestClient_KlinesOmitsZeroEnd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, hasEnd := r.URL.Query()["end"]
		assert.False(t, hasEnd)
		fmt.Fprint(w, klineBody)
	}, nil, nil)

	_, err := c.Klines(context.Background(), "BTCUSDT", market.Window{Interval: "1", Limit: 2})
	require.NoError(t, err)
}

func TestClient_APIError(t *testing.T) {
	m := metrics.NewRegistry()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error: symbol invalid","result":{},"time":1}`)
	}, m, nil)

	_, err := c.Klines(context.Background(), "NOPEUSDT", market.Window{Interval: "1", Limit: 5})
	require.Error(t, err)

	var aerr *APIError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 10001, aerr.Code)
	assert.False(t, IsUpstreamFailure(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("kline", "api_error")))
}

func TestClient_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not_json", `<html>maintenance</html>`},
		{"short_row", `{"retCode":0,"result":{"list":[["1","2","3"]]}}`},
		{"bad_number", `{"retCode":0,"result":{"list":[["1","x","3","4","5","6","7"]]}}`},
		{"empty_result", `{"retCode":0,"retMsg":"OK"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}, nil, nil)

			_, err := c.Klines(context.Background(), "BTCUSDT", market.Window{Interval: "1", Limit: 1})
			require.Error(t, err)
			assert.False(t, IsUpstreamFailure(err), "malformed payloads must not trip the breaker")
		})
	}
}

func TestClient_HTTPErrorIsProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil, nil)

	_, err := c.Tickers(context.Background())
	var perr *netclient.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	assert.True(t, IsUpstreamFailure(err))
}

func TestClient_BreakerTripsOnUpstreamFailures(t *testing.T) {
	var hits int32
	cc := config.CircuitConfig{
		Enabled:             true,
		ConsecutiveFailures: 3,
		FailureRatio:        1,
		MinRequests:         100,
		Interval:            time.Minute,
		Timeout:             time.Minute,
	}
	m := metrics.NewRegistry()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, m, NewBreaker(cc, m))

	for i := 0; i < 3; i++ {
		_, err := c.Tickers(context.Background())
		require.Error(t, err)
	}

	_, err := c.Tickers(context.Background())
	assert.ErrorIs(t, err, circuit.ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "open breaker short-circuits the request")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("bybit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("tickers", "circuit_open")))
}

func TestClient_BreakerIgnoresBadSymbols(t *testing.T) {
	cc := config.CircuitConfig{Enabled: true, ConsecutiveFailures: 2, FailureRatio: 1, Timeout: time.Minute}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":10001,"retMsg":"symbol invalid","result":{}}`)
	}, nil, NewBreaker(cc, nil))

	for i := 0; i < 5; i++ {
		_, err := c.Klines(context.Background(), "NOPEUSDT", market.Window{Interval: "1", Limit: 1})
		var aerr *APIError
		require.True(t, errors.As(err, &aerr), "call %d should reach upstream", i)
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Tickers(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestNewBreaker_Disabled(t *testing.T) {
	assert.Nil(t, NewBreaker(config.CircuitConfig{Enabled: false}, nil))
}

func TestAPIError_RateLimitCodes(t *testing.T) {
	assert.True(t, IsUpstreamFailure(&APIError{Code: CodeTooManyVisits}))
	assert.True(t, IsUpstreamFailure(&APIError{Code: CodeIPRateLimit}))
	assert.True(t, IsUpstreamFailure(fmt.Errorf("wrapped: %w", &APIError{Code: CodeServerError})))
	assert.False(t, IsUpstreamFailure(context.Canceled))
	assert.False(t, IsUpstreamFailure(nil))
}
