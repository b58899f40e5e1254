package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"services/trading-simulation-service/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MarketDataClient fetches historical daily series from the market data
// service. Responses may be cached in Redis; staleness policy belongs to
// the market data service, not the simulation core.
type MarketDataClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	redis      *redis.Client
	cacheTTL   time.Duration
	maxRetries int
	logger     *zap.Logger
}

// MarketDataClientOptions configures a MarketDataClient
type MarketDataClientOptions struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	Redis      *redis.Client
	CacheTTL   time.Duration
	MaxRetries int
}

// NewMarketDataClient creates a new market data client
func NewMarketDataClient(opts MarketDataClientOptions, logger *zap.Logger) *MarketDataClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &MarketDataClient{
		baseURL:    opts.BaseURL,
		serviceKey: opts.ServiceKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		redis:      opts.Redis,
		cacheTTL:   opts.CacheTTL,
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

// GetDailySeries retrieves up to count daily candles for a symbol,
// chronological ascending. Transient failures are retried with
// exponential backoff; a final failure is returned to the caller.
func (c *MarketDataClient) GetDailySeries(
	ctx context.Context,
	symbol string,
	market string,
	count int,
) ([]model.Candle, error) {
	cacheKey := fmt.Sprintf("simsvc:daily:%s:%s:%d", market, symbol, count)

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var candles []model.Candle
			if err := json.Unmarshal([]byte(cached), &candles); err == nil {
				return candles, nil
			}
			// Corrupt cache entry, fall through to refetch
			c.redis.Del(ctx, cacheKey)
		}
	}

	var candles []model.Candle
	operation := func() error {
		var err error
		candles, err = c.fetchDailySeries(ctx, symbol, market, count)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)

	notify := func(err error, next time.Duration) {
		c.logger.Warn("Market data fetch failed, retrying",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.Duration("backoff", next))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	if c.redis != nil && len(candles) > 0 {
		if payload, err := json.Marshal(candles); err == nil {
			c.redis.Set(ctx, cacheKey, payload, c.cacheTTL)
		}
	}

	return candles, nil
}

// fetchDailySeries performs a single request against the market data service
func (c *MarketDataClient) fetchDailySeries(
	ctx context.Context,
	symbol string,
	market string,
	count int,
) ([]model.Candle, error) {
	reqURL := fmt.Sprintf("%s/api/v1/service/market-data/daily", c.baseURL)

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("market", market)
	params.Add("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Key", c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch daily series: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Error("Market data service error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(bodyBytes)))
		return nil, fmt.Errorf("market data service returned status code %d", resp.StatusCode)
	}

	var result struct {
		Candles []model.Candle `json:"candles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode daily series: %w", err)
	}

	return result.Candles, nil
}
