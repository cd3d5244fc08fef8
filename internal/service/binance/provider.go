package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
	pkgcache "SqueezeWatch/pkg/cache"
	applogger "SqueezeWatch/pkg/logger"
)

// On a kline cache miss only one lock holder refreshes the entry; the rest
// wait this long, re-read the cache once and then fetch on their own.
const (
	fetchLockTTL  = 5 * time.Second
	fetchLockWait = 150 * time.Millisecond
)

// Provider implements repository.MarketData over the Binance spot REST API.
// Calls pass through a shared request-budget limiter; kline and price reads
// are served from cache when a fresh entry exists.
type Provider struct {
	cli     *gobinance.Client
	limiter *rate.Limiter
	budget  int
	cache   pkgcache.Service
	metrics repository.Metrics
	logger  *applogger.Logger

	klineTTL time.Duration
	priceTTL time.Duration

	onAPICall    func(endpoint string)
	onBudgetWait func()
}

type Option func(*Provider)

// WithCache serves klines and prices from c before hitting the API.
func WithCache(c pkgcache.Service, klineTTL, priceTTL time.Duration) Option {
	return func(p *Provider) {
		p.cache = c
		p.klineTTL = klineTTL
		p.priceTTL = priceTTL
	}
}

// WithMetrics records API calls and errors on m.
func WithMetrics(m repository.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// WithAPIBudget caps outgoing requests per minute.
func WithAPIBudget(perMinute int) Option {
	return func(p *Provider) {
		if perMinute > 0 {
			p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute/10+1)
			p.budget = perMinute
		}
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.cli.HTTPClient = &http.Client{Timeout: d}
		}
	}
}

// WithCallHooks registers callbacks fired on every real API call and on every
// budget-forced wait.
func WithCallHooks(onAPICall func(endpoint string), onBudgetWait func()) Option {
	return func(p *Provider) {
		p.onAPICall = onAPICall
		p.onBudgetWait = onBudgetWait
	}
}

// NewProvider creates a market data provider for the public spot endpoints.
func NewProvider(logger *applogger.Logger, opts ...Option) *Provider {
	p := &Provider{
		cli:    gobinance.NewClient("", ""),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Klines fetches limit candles for symbol at the given timeframe.
func (p *Provider) Klines(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.Candle, error) {
	key := pkgcache.GenerateKeyWithParams("klines", symbol, tf, limit)
	if p.cache != nil {
		var cached []models.Candle
		if err := p.cache.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}

		locked, err := p.cache.TryLock(ctx, key+":fetch", fetchLockTTL)
		switch {
		case err != nil:
			p.logger.Warn("kline fetch lock unavailable",
				applogger.String("symbol", symbol),
				applogger.Error(err))
		case locked:
			defer func() { _ = p.cache.Unlock(ctx, key+":fetch") }()
		default:
			// Another instance is already refreshing this entry.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(fetchLockWait):
			}
			if err := p.cache.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
				return cached, nil
			}
		}
	}

	if err := p.waitBudget(ctx); err != nil {
		return nil, fmt.Errorf("klines budget: %w", err)
	}
	p.recordCall("klines")

	raw, err := p.cli.NewKlinesService().
		Symbol(symbol).
		Interval(string(tf)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("binance_klines")
		}
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, tf, err)
	}

	candles, err := convertKlines(symbol, raw)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, key, candles, p.klineTTL)
	}
	return candles, nil
}

// LastPrice fetches the latest trade price for symbol.
func (p *Provider) LastPrice(ctx context.Context, symbol string) (float64, error) {
	key := pkgcache.GenerateKey("price", symbol)
	if p.cache != nil {
		var cached float64
		if err := p.cache.Get(ctx, key, &cached); err == nil && cached > 0 {
			return cached, nil
		}
	}

	if err := p.waitBudget(ctx); err != nil {
		return 0, fmt.Errorf("price budget: %w", err)
	}
	p.recordCall("ticker_price")

	prices, err := p.cli.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("binance_price")
		}
		return 0, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance price %s: empty response", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", prices[0].Price, err)
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, key, price, p.priceTTL)
	}
	if p.metrics != nil {
		p.metrics.RecordLastPrice(symbol, price)
	}
	return price, nil
}

func (p *Provider) waitBudget(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if p.limiter.Tokens() < 1 && p.onBudgetWait != nil {
		p.onBudgetWait()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return &models.RateLimitExceeded{Budget: p.budget, Window: time.Minute, Err: err}
	}
	return nil
}

func (p *Provider) recordCall(endpoint string) {
	if p.metrics != nil {
		p.metrics.RecordAPICall(endpoint)
	}
	if p.onAPICall != nil {
		p.onAPICall(endpoint)
	}
}

func convertKlines(symbol string, raw []*gobinance.Kline) ([]models.Candle, error) {
	candles := make([]models.Candle, 0, len(raw))
	for _, k := range raw {
		open, err := strconv.ParseFloat(k.Open, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline open %q: %w", k.Open, err)
		}
		high, err := strconv.ParseFloat(k.High, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline high %q: %w", k.High, err)
		}
		low, err := strconv.ParseFloat(k.Low, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline low %q: %w", k.Low, err)
		}
		cls, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline close %q: %w", k.Close, err)
		}
		vol, err := strconv.ParseFloat(k.Volume, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline volume %q: %w", k.Volume, err)
		}
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Symbol:   symbol,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}
	return candles, nil
}
