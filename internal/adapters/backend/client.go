package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"poseidon/internal/adapters/backend/ratelimit"
	"poseidon/internal/adapters/backend/retry"
	"poseidon/internal/adapters/config"
	"poseidon/internal/domain/position"
	"poseidon/internal/metrics"
	"poseidon/pkg/errors"
	"poseidon/pkg/logger"
)

// Client is the typed boundary to the trading backend's executor API. It
// carries no business logic: callers own id tracking and sequencing.
//
// Get is retried through the backoff middleware; Create and Stop are never
// auto-retried because neither endpoint is idempotent.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	username    string
	password    string
	accountName string
	limiter     *ratelimit.Limiter
	retrier     *retry.Middleware
	log         *logger.Logger
}

// NewClient creates a backend client with bounded request timeouts and a
// shared rate limiter across all callers.
func NewClient(cfg config.BackendConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		accountName: cfg.AccountName,
		limiter:     ratelimit.NewLimiter("backend", cfg.RequestsPerMinute),
		retrier:     retry.New(retry.DefaultConfig()),
		log:         logger.Get().With("component", "backend_client"),
	}
}

// Get fetches the current snapshot of one executor.
// Returns errors.ErrPositionNotFound when the backend no longer knows the id.
func (c *Client) Get(ctx context.Context, id string) (*position.Position, error) {
	var resp executorResponse

	err := c.retrier.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, "/executors/"+id, "get_executor", nil, &resp)
	})
	if err != nil {
		return nil, err
	}

	return c.toPosition(id, &resp), nil
}

// Create opens a new position from the given configuration and returns the
// snapshot the backend assigned, carrying the fresh executor id. Calling
// Create twice creates two on-chain positions; the caller must track the
// returned id and never re-issue a create for a plan already executed.
func (c *Client) Create(ctx context.Context, cfg position.CreateConfig) (*position.Position, error) {
	req := createRequest{
		ExecutorConfig: executorConfig{
			ConnectorName:       cfg.Connector,
			TradingPair:         cfg.TradingPair,
			PoolAddress:         cfg.PoolAddress,
			Side:                cfg.Side.String(),
			LowerPrice:          cfg.LowerPrice,
			UpperPrice:          cfg.UpperPrice,
			BaseAmount:          cfg.BaseAmount,
			QuoteAmount:         cfg.QuoteAmount,
			CloseBelowAfterSecs: int64(cfg.CloseBelowAfter / time.Second),
			CloseAboveAfterSecs: int64(cfg.CloseAboveAfter / time.Second),
			Strategy:            cfg.StrategyTag,
		},
		AccountName: c.accountName,
	}

	var resp createResponse
	if err := c.doJSON(ctx, http.MethodPost, "/executors/", "create_executor", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.Wrap(errors.ErrCreateRejected, "backend returned no executor id")
	}

	c.log.Infow("Position created",
		"id", resp.ID,
		"side", cfg.Side,
		"lower", cfg.LowerPrice,
		"upper", cfg.UpperPrice,
	)

	return &position.Position{
		ID:          resp.ID,
		Connector:   cfg.Connector,
		PoolAddress: cfg.PoolAddress,
		TradingPair: cfg.TradingPair,
		Side:        cfg.Side,
		LowerPrice:  cfg.LowerPrice,
		UpperPrice:  cfg.UpperPrice,
		BaseAmount:  cfg.BaseAmount,
		QuoteAmount: cfg.QuoteAmount,
		State:       position.StateOpening,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// Stop requests a close of the executor. keepOnChain=false withdraws the
// on-chain position; true detaches the executor and leaves it funded. The
// backend treats stopping an already-stopped executor as success, which
// keeps the caller's retry path safe.
func (c *Client) Stop(ctx context.Context, id string, keepOnChain bool) error {
	req := stopRequest{KeepPosition: keepOnChain}

	if err := c.doJSON(ctx, http.MethodPost, "/executors/"+id+"/stop", "stop_executor", req, nil); err != nil {
		return err
	}

	c.log.Infow("Position stop requested", "id", id, "keep_on_chain", keepOnChain)
	return nil
}

// doJSON performs one authenticated request against the backend and decodes
// the response body into out when non-nil. endpoint is the low-cardinality
// latency metric label.
func (c *Client) doJSON(ctx context.Context, method, path, endpoint string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.BackendRequestLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return errors.Wrapf(errors.ErrBackendUnavailable, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(errors.ErrPositionNotFound, "%s %s", method, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(errors.ErrRateLimitExceeded, "%s %s", method, path)
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &errors.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s %s response", method, path)
	}
	return nil
}

// toPosition maps a backend executor snapshot into the domain entity.
func (c *Client) toPosition(id string, resp *executorResponse) *position.Position {
	if resp.ID != "" {
		id = resp.ID
	}

	state := position.State(resp.CustomInfo.State)
	if !state.Valid() {
		// Executors that terminated without custom state fall back to the
		// coarse runtime status.
		state = mapRuntimeStatus(resp.Status)
	}

	return &position.Position{
		ID:           id,
		Connector:    resp.Config.ConnectorName,
		PoolAddress:  resp.Config.PoolAddress,
		TradingPair:  resp.Config.TradingPair,
		Side:         position.Side(resp.Config.Side),
		LowerPrice:   resp.CustomInfo.LowerPrice,
		UpperPrice:   resp.CustomInfo.UpperPrice,
		CurrentPrice: resp.CustomInfo.CurrentPrice,
		BaseAmount:   resp.CustomInfo.BaseAmount,
		QuoteAmount:  resp.CustomInfo.QuoteAmount,
		BaseFee:      resp.CustomInfo.BaseFee,
		QuoteFee:     resp.CustomInfo.QuoteFee,
		State:        state,
		FetchedAt:    time.Now().UTC(),
	}
}

// mapRuntimeStatus maps the backend's coarse executor status onto position
// states for snapshots missing custom_info.state.
func mapRuntimeStatus(status string) position.State {
	switch strings.ToUpper(status) {
	case "RUNNING", "ACTIVE":
		return position.StateOpening
	case "TERMINATED", "COMPLETED":
		return position.StateComplete
	case "FAILED":
		return position.StateFailed
	default:
		return position.StateNotActive
	}
}

// String implements fmt.Stringer for debug logging without credentials.
func (c *Client) String() string {
	return fmt.Sprintf("backend.Client(%s)", c.baseURL)
}
