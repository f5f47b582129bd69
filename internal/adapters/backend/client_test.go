package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poseidon/internal/adapters/config"
	"poseidon/internal/domain/position"
	"poseidon/internal/metrics"
	"poseidon/pkg/errors"
)

func testClient(baseURL string) *Client {
	return NewClient(config.BackendConfig{
		BaseURL:           baseURL,
		Username:          "admin",
		Password:          "secret",
		AccountName:       "master_account",
		RequestTimeout:    5 * time.Second,
		RequestsPerMinute: 600,
	})
}

func TestClient_GetParsesSnapshot(t *testing.T) {
	var gotPath, gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "exec-1",
			"status": "RUNNING",
			"config": {
				"connector_name": "meteora",
				"trading_pair": "SOL-USDC",
				"pool_address": "pool-abc",
				"side": "BOTH"
			},
			"custom_info": {
				"state": "OUT_OF_RANGE",
				"current_price": "95.0",
				"lower_price": "100",
				"upper_price": "110",
				"base_amount": "2",
				"quote_amount": "0",
				"base_fee": "0.01",
				"quote_fee": "0"
			}
		}`))
	}))
	defer server.Close()

	pos, err := testClient(server.URL).Get(context.Background(), "exec-1")

	require.NoError(t, err)
	assert.Equal(t, "/executors/exec-1", gotPath)
	assert.Equal(t, "admin", gotUser)
	assert.Equal(t, "secret", gotPass)

	assert.Equal(t, "exec-1", pos.ID)
	assert.Equal(t, "meteora", pos.Connector)
	assert.Equal(t, "SOL-USDC", pos.TradingPair)
	assert.Equal(t, position.SideBoth, pos.Side)
	assert.Equal(t, position.StateOutOfRange, pos.State)
	assert.True(t, pos.CurrentPrice.Equal(decimal.RequireFromString("95")))
	assert.True(t, pos.LowerPrice.Equal(decimal.RequireFromString("100")))
	assert.True(t, pos.UpperPrice.Equal(decimal.RequireFromString("110")))
	assert.True(t, pos.BaseFee.Equal(decimal.RequireFromString("0.01")))
	assert.False(t, pos.FetchedAt.IsZero())
}

func TestClient_RequestLatencyObserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "exec-1", "status": "RUNNING", "config": {}, "custom_info": {"state": "IN_RANGE"}}`))
	}))
	defer server.Close()

	before := testutil.CollectAndCount(metrics.BackendRequestLatency)

	_, err := testClient(server.URL).Get(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Greater(t, testutil.CollectAndCount(metrics.BackendRequestLatency), 0)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.BackendRequestLatency), before)
}

func TestClient_GetFallsBackToRuntimeStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "exec-1", "status": "TERMINATED", "config": {}, "custom_info": {}}`))
	}))
	defer server.Close()

	pos, err := testClient(server.URL).Get(context.Background(), "exec-1")

	require.NoError(t, err)
	assert.Equal(t, position.StateComplete, pos.State)
}

func TestClient_GetNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Get(context.Background(), "exec-gone")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
	// A missing id is a fact, not a fault: no retries
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "exec-1", "status": "RUNNING", "config": {}, "custom_info": {"state": "IN_RANGE"}}`))
	}))
	defer server.Close()

	pos, err := testClient(server.URL).Get(context.Background(), "exec-1")

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, position.StateInRange, pos.State)
}

func TestClient_CreateSendsConfigAndParsesID(t *testing.T) {
	var got createRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/executors/", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "exec-new"}`))
	}))
	defer server.Close()

	cfg := position.CreateConfig{
		Connector:       "meteora",
		PoolAddress:     "pool-abc",
		TradingPair:     "SOL-USDC",
		Side:            position.SideSellOnly,
		LowerPrice:      decimal.RequireFromString("95"),
		UpperPrice:      decimal.RequireFromString("95.475"),
		BaseAmount:      decimal.RequireFromString("2.01"),
		QuoteAmount:     decimal.Zero,
		CloseBelowAfter: 90 * time.Second,
		StrategyTag:     "clmm-rebalancer",
	}

	pos, err := testClient(server.URL).Create(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, "exec-new", pos.ID)
	assert.Equal(t, position.StateOpening, pos.State)
	assert.Equal(t, position.SideSellOnly, pos.Side)

	assert.Equal(t, "master_account", got.AccountName)
	assert.Equal(t, "meteora", got.ExecutorConfig.ConnectorName)
	assert.Equal(t, "SELL_ONLY", got.ExecutorConfig.Side)
	assert.True(t, got.ExecutorConfig.LowerPrice.Equal(cfg.LowerPrice))
	assert.True(t, got.ExecutorConfig.UpperPrice.Equal(cfg.UpperPrice))
	assert.True(t, got.ExecutorConfig.BaseAmount.Equal(cfg.BaseAmount))
	assert.Equal(t, int64(90), got.ExecutorConfig.CloseBelowAfterSecs)
	assert.Equal(t, "clmm-rebalancer", got.ExecutorConfig.Strategy)
}

func TestClient_CreateRejectedWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).Create(context.Background(), position.CreateConfig{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCreateRejected))
}

func TestClient_CreateNeverRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Create(context.Background(), position.CreateConfig{})

	require.Error(t, err)
	var statusErr *errors.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode())
	// Replaying a create can open a second on-chain position
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_StopPostsKeepFlag(t *testing.T) {
	var gotPath string
	var got stopRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := testClient(server.URL).Stop(context.Background(), "exec-1", false)

	require.NoError(t, err)
	assert.Equal(t, "/executors/exec-1/stop", gotPath)
	assert.False(t, got.KeepPosition)
}

func TestClient_StopRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := testClient(server.URL).Stop(context.Background(), "exec-1", false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimitExceeded))
}
