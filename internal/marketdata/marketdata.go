// Package marketdata implements the smart-fetch/cache service: a TTL cache in front of the broker, concurrent multi-symbol
// fan-out via errgroup, and the local-store/history smart-fetch used to
// prepare backtest data.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/barstore"
	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/history"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "marketdata")

// Source selects where Smart-fetch reads from.
type Source string

const (
	SourceLocal   Source = "local"
	SourceHistory Source = "history"
	SourceAuto    Source = "auto"
)

type barsCacheKey struct {
	symbol    string
	timeframe models.Timeframe
	start     time.Time
	end       time.Time
	limit     int
}

type cacheEntry struct {
	bars   models.BarSeries
	price  float64
	stored time.Time
}

// Service is the cache-fronted market-data facade every strategy and
// the risk manager read bars and quotes through.
type Service struct {
	brk   broker.Broker
	store *barstore.Store
	hist  *history.Provider
	ttl   time.Duration

	mu      sync.Mutex
	bars    map[barsCacheKey]cacheEntry
	prices  map[string]cacheEntry
}

// New builds a Service. ttl == 0 disables caching (every read goes to
// the broker).
func New(brk broker.Broker, store *barstore.Store, hist *history.Provider, ttl time.Duration) *Service {
	return &Service{
		brk:    brk,
		store:  store,
		hist:   hist,
		ttl:    ttl,
		bars:   make(map[barsCacheKey]cacheEntry),
		prices: make(map[string]cacheEntry),
	}
}

func (s *Service) fresh(stored time.Time) bool {
	if s.ttl <= 0 {
		return false
	}
	return time.Since(stored) < s.ttl
}

// GetBars reads (symbol, tf, query) through the cache, falling back to
// the broker on miss. A broker failure returns an empty series and is
// logged, never propagated as an error.
func (s *Service) GetBars(ctx context.Context, symbol string, tf models.Timeframe, q broker.BarsQuery) models.BarSeries {
	bars, _ := s.getBars(ctx, symbol, tf, q)
	return bars
}

// getBars is GetBars's internal counterpart: it reports whether the
// broker call itself failed, which GetBars's public (BarSeries) shape
// can't express without breaking callers that rely on "empty on
// failure, never throws". GetBarsForSymbols uses the distinction to
// tell a fetch failure apart from a symbol that simply has no bars
// yet.
func (s *Service) getBars(ctx context.Context, symbol string, tf models.Timeframe, q broker.BarsQuery) (models.BarSeries, error) {
	key := barsCacheKey{symbol: symbol, timeframe: tf, limit: q.Limit}
	if q.Start != nil {
		key.start = *q.Start
	}
	if q.End != nil {
		key.end = *q.End
	}

	s.mu.Lock()
	if entry, ok := s.bars[key]; ok && s.fresh(entry.stored) {
		s.mu.Unlock()
		return entry.bars, nil
	}
	s.mu.Unlock()

	bars, err := s.brk.GetBars(ctx, symbol, tf, q)
	if err != nil {
		log.Warnf("marketdata: GetBars(%s, %s) failed: %v", symbol, tf, err)
		return models.NewBarSeries(symbol, tf, nil), err
	}

	s.mu.Lock()
	s.bars[key] = cacheEntry{bars: bars, stored: time.Now()}
	s.mu.Unlock()
	return bars, nil
}

// GetBarsForSymbols fans out GetBars concurrently across symbols,
// waits for all, and drops failed/empty entries.
func (s *Service) GetBarsForSymbols(ctx context.Context, symbols []string, tf models.Timeframe, q broker.BarsQuery) map[string]models.BarSeries {
	bars, _ := s.GetBarsForSymbolsDetailed(ctx, symbols, tf, q)
	return bars
}

// GetBarsForSymbolsDetailed is GetBarsForSymbols plus a count of how
// many symbols failed at the broker call itself, as opposed to coming
// back empty from a healthy call (e.g. no bars printed yet this
// session). Callers that need to tell a transient fetch failure apart
// from a quiet market use the failure count; everyone else can ignore
// it via GetBarsForSymbols.
func (s *Service) GetBarsForSymbolsDetailed(ctx context.Context, symbols []string, tf models.Timeframe, q broker.BarsQuery) (map[string]models.BarSeries, int) {
	out := make(map[string]models.BarSeries, len(symbols))
	var mu sync.Mutex
	var failures int

	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			bars, err := s.getBars(gctx, sym, tf, q)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			if bars.Empty() {
				log.Debugf("marketdata: no bars for %s/%s, dropping from batch", sym, tf)
				return nil
			}
			mu.Lock()
			out[sym] = bars
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, failures
}

// GetLatestPrice reads a single symbol's price through the cache.
func (s *Service) GetLatestPrice(ctx context.Context, symbol string) (float64, bool) {
	s.mu.Lock()
	if entry, ok := s.prices[symbol]; ok && s.fresh(entry.stored) {
		s.mu.Unlock()
		return entry.price, true
	}
	s.mu.Unlock()

	price, err := s.brk.GetLatestPrice(ctx, symbol)
	if err != nil {
		log.Warnf("marketdata: GetLatestPrice(%s) failed: %v", symbol, err)
		return 0, false
	}
	s.mu.Lock()
	s.prices[symbol] = cacheEntry{price: price, stored: time.Now()}
	s.mu.Unlock()
	return price, true
}

// GetLatestPrices fans out GetLatestPrice concurrently, dropping
// symbols whose quote failed.
func (s *Service) GetLatestPrices(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			price, ok := s.GetLatestPrice(gctx, sym)
			if !ok {
				return nil
			}
			mu.Lock()
			out[sym] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// IsMarketOpen asks the broker, returning false on failure.
func (s *Service) IsMarketOpen(ctx context.Context) bool {
	open, err := s.brk.IsMarketOpen(ctx)
	if err != nil {
		log.Warnf("marketdata: IsMarketOpen failed: %v", err)
		return false
	}
	return open
}

// weekendHolidayTolerance widens the auto-source coverage check so a
// store refreshed before a long weekend still counts as covering the
// request.
const weekendHolidayTolerance = 2 * 24 * time.Hour
const forwardTolerance = 5 * 24 * time.Hour

// SmartFetch resolves bars for symbols's three
// sources. period is only consulted by the history source when start
// is nil.
func (s *Service) SmartFetch(ctx context.Context, symbols []string, tf models.Timeframe, start, end time.Time, source Source, period string) (map[string]models.BarSeries, error) {
	out := make(map[string]models.BarSeries, len(symbols))
	for _, sym := range symbols {
		switch source {
		case SourceLocal:
			series, err := s.store.Load(sym, tf, &start, &end)
			if err != nil {
				return nil, fmt.Errorf("marketdata: smart-fetch local load %s: %w", sym, err)
			}
			out[sym] = series

		case SourceHistory:
			series, err := s.hist.Download(ctx, sym, &start, &end, tf, period)
			if err != nil {
				return nil, fmt.Errorf("marketdata: smart-fetch history download %s: %w", sym, err)
			}
			if err := s.store.Save(sym, tf, series); err != nil {
				return nil, fmt.Errorf("marketdata: smart-fetch persisting %s: %w", sym, err)
			}
			out[sym] = series

		case SourceAuto:
			series, err := s.autoFetch(ctx, sym, tf, start, end, period)
			if err != nil {
				return nil, err
			}
			out[sym] = series

		default:
			return nil, fmt.Errorf("marketdata: unknown smart-fetch source %q", source)
		}
	}
	return out, nil
}

func (s *Service) autoFetch(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time, period string) (models.BarSeries, error) {
	stored, err := s.store.Load(symbol, tf, nil, nil)
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("marketdata: auto-fetch load %s: %w", symbol, err)
	}
	if !stored.Empty() {
		first, last := stored.Range()
		if coversRange(first, last, start, end) {
			return s.store.Load(symbol, tf, &start, &end)
		}
	}

	series, err := s.hist.Download(ctx, symbol, &start, &end, tf, period)
	if err != nil {
		return models.BarSeries{}, fmt.Errorf("marketdata: auto-fetch download %s: %w", symbol, err)
	}
	if _, err := s.store.Update(symbol, tf, series); err != nil {
		return models.BarSeries{}, fmt.Errorf("marketdata: auto-fetch updating store %s: %w", symbol, err)
	}
	return s.store.Load(symbol, tf, &start, &end)
}

// coversRange reports whether the stored [first,last] window covers
// the request within tolerance: first no later than start+2d and last
// no earlier than end-5d, a band wide enough to absorb weekends and
// holidays at either edge without forcing a re-download.
func coversRange(first, last, start, end time.Time) bool {
	return !first.After(start.Add(weekendHolidayTolerance)) && !last.Before(end.Add(-forwardTolerance))
}

// DownloadAndStore is the explicit bulk-refill entry point: downloads
// every symbol and persists via store.Save, returning bars written.
func (s *Service) DownloadAndStore(ctx context.Context, symbols []string, tf models.Timeframe, start, end *time.Time, period string) (map[string]int, error) {
	out := make(map[string]int, len(symbols))
	for _, sym := range symbols {
		series, err := s.hist.Download(ctx, sym, start, end, tf, period)
		if err != nil {
			return nil, fmt.Errorf("marketdata: download-and-store %s: %w", sym, err)
		}
		if err := s.store.Save(sym, tf, series); err != nil {
			return nil, fmt.Errorf("marketdata: download-and-store persisting %s: %w", sym, err)
		}
		out[sym] = series.Len()
	}
	return out, nil
}

// Resample aggregates series into target bars: open=first, high=max,
// low=min, close=last, volume=sum over each target bucket.
func Resample(series models.BarSeries, target models.Timeframe) models.BarSeries {
	bucketSeconds := target.Seconds()
	if bucketSeconds <= 0 || series.Empty() {
		return models.NewBarSeries(series.Symbol, target, nil)
	}

	buckets := make(map[int64][]models.Bar)
	var order []int64
	for _, b := range series.Bars {
		bucket := b.Timestamp.Unix() / bucketSeconds * bucketSeconds
		if _, seen := buckets[bucket]; !seen {
			order = append(order, bucket)
		}
		buckets[bucket] = append(buckets[bucket], b)
	}

	out := make([]models.Bar, 0, len(order))
	for _, bucket := range order {
		group := buckets[bucket]
		agg := models.Bar{
			Timestamp: time.Unix(bucket, 0).UTC(),
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, b := range group {
			if b.High > agg.High {
				agg.High = b.High
			}
			if b.Low < agg.Low {
				agg.Low = b.Low
			}
			agg.Volume += b.Volume
		}
		out = append(out, agg)
	}
	return models.NewBarSeries(series.Symbol, target, out)
}

// Returns computes pct_change over the given number of periods:
// (close[i] - close[i-periods]) / close[i-periods].
func Returns(series models.BarSeries, periods int) []float64 {
	closes := series.Closes()
	out := make([]float64, len(closes))
	for i := range closes {
		if i < periods || closes[i-periods] == 0 {
			out[i] = 0
			continue
		}
		out[i] = (closes[i] - closes[i-periods]) / closes[i-periods]
	}
	return out
}

// CacheStats summarizes cache occupancy for admin/observability use.
type CacheStats struct {
	BarEntries   int
	PriceEntries int
}

// Stats returns the current cache occupancy.
func (s *Service) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CacheStats{BarEntries: len(s.bars), PriceEntries: len(s.prices)}
}

// Clear empties both caches unconditionally.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = make(map[barsCacheKey]cacheEntry)
	s.prices = make(map[string]cacheEntry)
}

// ClearExpired evicts only entries past TTL. A no-op when TTL is
// disabled (ttl <= 0 means "never expire").
func (s *Service) ClearExpired() {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.bars {
		if !s.fresh(v.stored) {
			delete(s.bars, k)
		}
	}
	for k, v := range s.prices {
		if !s.fresh(v.stored) {
			delete(s.prices, k)
		}
	}
}
