package rails

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultUSDZAR is used when no rate feed is configured.
var DefaultUSDZAR = decimal.RequireFromString("18.5")

// StaticRates serves fixed rates.
type StaticRates struct {
	rates map[Pair]decimal.Decimal
	now   func() time.Time
}

func NewStaticRates(rates map[Pair]decimal.Decimal) *StaticRates {
	if rates == nil {
		rates = map[Pair]decimal.Decimal{PairUSDZAR: DefaultUSDZAR}
	}
	return &StaticRates{rates: rates, now: time.Now}
}

func (s *StaticRates) Rate(_ context.Context, pair Pair) (Quote, error) {
	r, ok := s.rates[pair]
	if !ok {
		return Quote{}, fmt.Errorf("no static rate for %s", pair)
	}
	return Quote{Pair: pair, Rate: r, AsOf: s.now().UTC()}, nil
}

// HTTPRates fetches rates from a JSON feed at {BaseURL}/rates/{pair}.
type HTTPRates struct {
	BaseURL string
	Client  *http.Client
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

func (h *HTTPRates) Rate(ctx context.Context, pair Pair) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/rates/"+string(pair), nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := client(h.Client).Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch rate %s: %w", pair, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("fetch rate %s: status=%d", pair, resp.StatusCode)
	}
	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode rate %s: %w", pair, err)
	}
	if !body.Rate.IsPositive() {
		return Quote{}, fmt.Errorf("rate %s is not positive", pair)
	}
	if body.AsOf.IsZero() {
		body.AsOf = time.Now().UTC()
	}
	return Quote{Pair: pair, Rate: body.Rate, AsOf: body.AsOf}, nil
}

// RateCache wraps a provider and refreshes each pair at most once per
// interval. Concurrent misses share one upstream call. When a refresh fails
// the last good quote is served.
type RateCache struct {
	upstream ExchangeRateProvider
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	quotes map[Pair]cachedQuote
}

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

// DefaultRateInterval is the refresh interval when none is configured.
const DefaultRateInterval = time.Hour

func NewRateCache(upstream ExchangeRateProvider, interval time.Duration, logger *zap.Logger) *RateCache {
	if interval <= 0 {
		interval = DefaultRateInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateCache{
		upstream: upstream,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		quotes:   make(map[Pair]cachedQuote),
	}
}

func (c *RateCache) Rate(ctx context.Context, pair Pair) (Quote, error) {
	c.mu.RLock()
	cq, ok := c.quotes[pair]
	c.mu.RUnlock()
	if ok && c.now().Sub(cq.fetchedAt) < c.interval {
		return cq.quote, nil
	}

	q, err := c.refresh(ctx, pair)
	if err != nil {
		if ok {
			c.logger.Warn("serving stale exchange rate",
				zap.String("pair", string(pair)), zap.Time("as_of", cq.quote.AsOf), zap.Error(err))
			return cq.quote, nil
		}
		return Quote{}, err
	}
	return q, nil
}

func (c *RateCache) refresh(ctx context.Context, pair Pair) (Quote, error) {
	v, err, _ := c.group.Do(string(pair), func() (any, error) {
		q, err := c.upstream.Rate(ctx, pair)
		if err != nil {
			return Quote{}, err
		}
		c.mu.Lock()
		c.quotes[pair] = cachedQuote{quote: q, fetchedAt: c.now()}
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// Run refreshes the given pairs every interval until ctx is done.
func (c *RateCache) Run(ctx context.Context, pairs ...Pair) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		for _, p := range pairs {
			if _, err := c.refresh(ctx, p); err != nil {
				c.logger.Warn("exchange rate refresh failed", zap.String("pair", string(p)), zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
