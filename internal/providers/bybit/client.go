package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/net/circuit"
	netclient "github.com/sawpanic/perpboard/internal/net/client"
	"github.com/sawpanic/perpboard/internal/net/ratelimit"
)

const (
	endpointTickers = "tickers"
	endpointKline   = "kline"

	maxBodyBytes = 16 << 20
)

// Config holds Bybit client configuration
type Config struct {
	BaseURL        string
	Category       string
	RequestTimeout time.Duration
	UserAgent      string

	Limiter   *ratelimit.Limiter
	Breaker   *circuit.Breaker
	Metrics   *metrics.Registry
	Transport http.RoundTripper
}

// Client provides Bybit v5 public market data access
type Client struct {
	httpClient *http.Client
	baseURL    string
	category   string
	breaker    *circuit.Breaker
	metrics    *metrics.Registry
}

// NewClient creates a new Bybit API client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bybit.com"
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: netclient.NewWrapper(netclient.WrapperConfig{
				Provider:    "bybit",
				UserAgent:   cfg.UserAgent,
				RateLimiter: cfg.Limiter,
			}, transport),
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		category: cfg.Category,
		breaker:  cfg.Breaker,
		metrics:  cfg.Metrics,
	}
}

// Tickers retrieves every contract of the configured category
func (c *Client) Tickers(ctx context.Context) ([]market.Ticker, error) {
	params := url.Values{}
	params.Set("category", c.category)

	var res tickersResult
	if err := c.get(ctx, endpointTickers, "/v5/market/tickers", params, &res); err != nil {
		return nil, err
	}

	out := make([]market.Ticker, 0, len(res.List))
	for _, row := range res.List {
		out = append(out, row.ToTicker())
	}
	return out, nil
}

// Klines retrieves candles for symbol, newest first. A non-zero w.End bounds
// the window.
func (c *Client) Klines(ctx context.Context, symbol string, w market.Window) ([]market.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("kline: empty symbol")
	}
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", w.Interval)
	if w.Limit > 0 {
		params.Set("limit", strconv.Itoa(w.Limit))
	}
	if !w.End.IsZero() {
		params.Set("end", strconv.FormatInt(w.End.UnixMilli(), 10))
	}

	var res klineResult
	if err := c.get(ctx, endpointKline, "/v5/market/kline", params, &res); err != nil {
		return nil, fmt.Errorf("kline %s: %w", symbol, err)
	}

	candles := make([]market.Candle, 0, len(res.List))
	for _, row := range res.List {
		cdl, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("kline %s: %w", symbol, err)
		}
		candles = append(candles, cdl)
	}
	return candles, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	start := time.Now()

	call := func() error { return c.do(ctx, endpoint, path, params, out) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(call)
	} else {
		err = call()
	}

	c.metrics.RecordUpstream(endpoint, resultLabel(err), time.Since(start))
	if err != nil && errors.Is(err, circuit.ErrCircuitOpen) {
		log.Debug().Str("component", "bybit").Str("endpoint", endpoint).Msg("Request rejected by open circuit")
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s body: %w", endpoint, err)
	}

	var env Response
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if env.RetCode != 0 {
		return &APIError{Endpoint: endpoint, Code: env.RetCode, Message: env.RetMsg}
	}
	if len(env.Result) == 0 {
		return fmt.Errorf("decode %s response: empty result", endpoint)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", endpoint, err)
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	var aerr *APIError
	var perr *netclient.ProviderError
	switch {
	case errors.Is(err, circuit.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &aerr):
		if aerr.IsRateLimited() {
			return "rate_limited"
		}
		return "api_error"
	case errors.As(err, &perr):
		if perr.IsRateLimited() {
			return "rate_limited"
		}
		return perr.Type
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "decode_error"
	}
}
