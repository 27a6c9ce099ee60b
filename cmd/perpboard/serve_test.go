package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpboard/internal/config"
	"github.com/sawpanic/perpboard/internal/pipeline"
)

const upstreamTickers = `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[
  {"symbol":"BTCUSDT","lastPrice":"65000","volume24h":"1000","turnover24h":"65000000","price24hPcnt":"0.01","fundingRate":"0.0001"}
]},"time":1710000000000}`

const upstreamKlines = `{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","category":"linear","list":[
  ["1710000060000","100","101","99","101","4","400"]
]},"time":1710000120000}`

func TestNewScheduler_FundingDoesNotWaitForBackfill(t *testing.T) {
	release := make(chan struct{})
	var klineCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/tickers":
			fmt.Fprint(w, upstreamTickers)
		case "/v5/market/kline":
			klineCalls.Add(1)
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
			fmt.Fprint(w, upstreamKlines)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Bybit.BaseURL = srv.URL
	cfg.Bybit.RPS = 1000
	cfg.Bybit.Burst = 100
	cfg.Bybit.Circuit.Enabled = false
	cfg.Exclusion.BackfillPause = 0
	cfg.Refresh.Funding = 10 * time.Millisecond

	a := newApp(&cfg)
	defer a.close()

	sched, err := newScheduler(a, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer close(release)
	go func() { _ = sched.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := a.store.Funding()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return klineCalls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	for _, js := range sched.GetStatus().Jobs {
		if js.Name == pipeline.CategoryVolume {
			assert.False(t, js.SetupDone)
			assert.Zero(t, js.Runs)
		}
	}
	assert.Nil(t, a.store.Status().Volume)
}

func TestNewScheduler_NoBackfillLeavesSetupUnset(t *testing.T) {
	cfg := config.Default()
	a := newApp(&cfg)
	defer a.close()

	sched, err := newScheduler(a, false)
	require.NoError(t, err)
	for _, j := range sched.ListJobs() {
		assert.Nil(t, j.Setup, j.Name)
	}
}
