package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sepehrx/simurgh/utils"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ExchangeRateOracle quotes the fiat value of one coin in minor units (Tomans).
// A conversion uses a single quote taken at settlement time; rate movements
// after the credit are irrelevant.
type ExchangeRateOracle interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

const rateCacheKey = "simurgh:rate:coin_tmn"

// RateOracleConfig holds upstream provider settings
type RateOracleConfig struct {
	BaseURL  string
	APIKey   string
	Symbol   string // e.g. "ETH"
	Currency string // e.g. "TMN"
	Timeout  time.Duration
	CacheTTL time.Duration
}

// cachedRateOracle fetches quotes from an HTTP provider, caches them in redis
// for CacheTTL, and keeps the last successful quote in memory so a provider
// outage degrades to a stale rate instead of a failed settlement.
type cachedRateOracle struct {
	config RateOracleConfig
	http   *http.Client
	rdb    *redis.Client
	logger *log.Logger

	mu            sync.RWMutex
	lastKnownGood decimal.Decimal
	lastFetchedAt time.Time
}

// NewCachedRateOracle creates a rate oracle backed by redis caching
func NewCachedRateOracle(config RateOracleConfig, rdb *redis.Client, logger *log.Logger) ExchangeRateOracle {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = utils.RateCacheTTL
	}
	return &cachedRateOracle{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		rdb:    rdb,
		logger: logger,
	}
}

// rateResponse is the upstream provider payload
type rateResponse struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
	Price    string `json:"price"`
}

func (o *cachedRateOracle) Rate(ctx context.Context) (decimal.Decimal, error) {
	// Cheap path first
	if cached, err := o.rdb.Get(ctx, rateCacheKey).Result(); err == nil {
		if rate, derr := decimal.NewFromString(cached); derr == nil && rate.IsPositive() {
			return rate, nil
		}
	} else if err != redis.Nil {
		o.logger.Printf("WARN rate cache read failed: %v", err)
	}

	rate, err := o.fetch(ctx)
	if err != nil {
		o.mu.RLock()
		fallback, fetchedAt := o.lastKnownGood, o.lastFetchedAt
		o.mu.RUnlock()
		if fallback.IsPositive() {
			o.logger.Printf("WARN rate provider unavailable, using quote from %s: %v", fetchedAt.Format(time.RFC3339), err)
			return fallback, nil
		}
		return decimal.Zero, err
	}

	o.mu.Lock()
	o.lastKnownGood = rate
	o.lastFetchedAt = utils.UTCNow()
	o.mu.Unlock()

	if err := o.rdb.Set(ctx, rateCacheKey, rate.String(), o.config.CacheTTL).Err(); err != nil {
		o.logger.Printf("WARN rate cache write failed: %v", err)
	}

	return rate, nil
}

func (o *cachedRateOracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v1/rates?symbol=%s&currency=%s",
		o.config.BaseURL, url.QueryEscape(o.config.Symbol), url.QueryEscape(o.config.Currency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if o.config.APIKey != "" {
		req.Header.Set("X-API-Key", o.config.APIKey)
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate provider returned status %d", resp.StatusCode)
	}

	var payload rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rate response: %w", err)
	}

	rate, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate provider returned malformed price %q: %w", payload.Price, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate provider returned non-positive price %s", rate)
	}

	return rate, nil
}

// StaticRateOracle returns a fixed quote. Used in tests and local development.
type StaticRateOracle struct {
	Quote decimal.Decimal
}

func (o StaticRateOracle) Rate(ctx context.Context) (decimal.Decimal, error) {
	if !o.Quote.IsPositive() {
		return decimal.Zero, fmt.Errorf("static rate not configured")
	}
	return o.Quote, nil
}
