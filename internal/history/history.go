// Package history implements a free long-history OHLCV downloader. It
// talks to a generic bars-by-symbol HTTP endpoint over the same
// retryablehttp transport the broker adapter uses, normalizing
// whatever the provider returns into models.BarSeries.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/relvacode/iso8601"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "history")

// providerInterval maps an internal timeframe key to the provider's
// own interval query parameter — a fixed table
var providerInterval = map[models.Timeframe]string{
	models.TF1Min:  "1min",
	models.TF5Min:  "5min",
	models.TF15Min: "15min",
	models.TF30Min: "30min",
	models.TF1Hour: "1hour",
	models.TF4Hour: "4hour",
	models.TF1Day:  "1day",
	models.TF1Week: "1week",
	models.TF1Mon:  "1month",
}

// Provider downloads historical OHLCV bars over HTTP.
type Provider struct {
	httpc   *retryablehttp.Client
	baseURL string
}

// New builds a Provider against baseURL (e.g. a free-tier historical
// data endpoint configured via HISTORY_PROVIDER_URL).
func New(baseURL string) *Provider {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 4 * time.Second
	rc.Logger = nil
	return &Provider{httpc: rc, baseURL: strings.TrimRight(baseURL, "/")}
}

type barWire struct {
	Timestamp string  `json:"timestamp"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    any     `json:"volume"`
}

// Download fetches one symbol's bar history. start/end are optional
// bounds; period is a provider-specific lookback shorthand (e.g.
// "1y") used when start is nil.
func (p *Provider) Download(ctx context.Context, symbol string, start, end *time.Time, tf models.Timeframe, period string) (models.BarSeries, error) {
	interval, ok := providerInterval[tf]
	if !ok {
		return models.BarSeries{}, apperr.New(apperr.Invalid, fmt.Sprintf("history: unsupported timeframe %q", tf))
	}

	path := fmt.Sprintf("/bars/%s?interval=%s", strings.ToUpper(symbol), interval)
	if start != nil {
		path += "&start=" + start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		path += "&end=" + end.UTC().Format(time.RFC3339)
	}
	if start == nil && period != "" {
		path += "&period=" + period
	}

	var wire []barWire
	if err := p.get(ctx, path, &wire); err != nil {
		return models.BarSeries{}, err
	}

	bars := make([]models.Bar, 0, len(wire))
	for _, w := range wire {
		if w.Open == nil || w.High == nil || w.Low == nil || w.Close == nil {
			log.Warnf("history: dropping %s bar at %s: missing OHLC field", symbol, w.Timestamp)
			continue
		}
		ts, err := iso8601.ParseString(w.Timestamp)
		if err != nil {
			log.Warnf("history: dropping %s bar: unparseable timestamp %q: %v", symbol, w.Timestamp, err)
			continue
		}
		bars = append(bars, models.Bar{
			Timestamp: ts.UTC(),
			Open:      *w.Open,
			High:      *w.High,
			Low:       *w.Low,
			Close:     *w.Close,
			Volume:    parseVolume(w.Volume),
		})
	}
	return models.NewBarSeries(symbol, tf, bars), nil
}

// parseVolume coerces volume to an integer-valued float (truncated
// toward zero), defaulting missing/unparseable values to 0.
func parseVolume(v any) float64 {
	switch t := v.(type) {
	case float64:
		return float64(int64(t))
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return float64(int64(f))
	default:
		return 0
	}
}

// DownloadMultiple downloads several symbols concurrently, one Download
// request per symbol; it never issues a batch request. A symbol whose
// download fails is logged and left out of the returned map.
func (p *Provider) DownloadMultiple(ctx context.Context, symbols []string, start, end *time.Time, tf models.Timeframe, period string) (map[string]models.BarSeries, error) {
	out := make(map[string]models.BarSeries, len(symbols))

	results := make(chan struct {
		symbol string
		series models.BarSeries
	}, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			series, err := p.Download(gctx, sym, start, end, tf, period)
			if err != nil {
				log.Warnf("history: download failed for %s: %v", sym, err)
				return nil // one symbol's failure never aborts the batch
			}
			results <- struct {
				symbol string
				series models.BarSeries
			}{sym, series}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for r := range results {
		out[r.symbol] = r.series
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, "history: building request", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "history: "+path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return apperr.New(apperr.Transient, fmt.Sprintf("history: provider %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 400 {
		return apperr.New(apperr.Invalid, fmt.Sprintf("history: provider %d: %s", resp.StatusCode, string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.Invalid, "history: decoding response", err)
	}
	return nil
}
