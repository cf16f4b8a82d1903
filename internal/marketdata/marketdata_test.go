package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/barstore"
	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	broker.Broker
	bars      models.BarSeries
	barsErr   error
	price     float64
	priceErr  error
	marketErr error
	open      bool
	calls     int
}

func (f *fakeBroker) GetBars(ctx context.Context, symbol string, tf models.Timeframe, q broker.BarsQuery) (models.BarSeries, error) {
	f.calls++
	if f.barsErr != nil {
		return models.BarSeries{}, f.barsErr
	}
	return f.bars, nil
}

func (f *fakeBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	if f.marketErr != nil {
		return false, f.marketErr
	}
	return f.open, nil
}

func TestGetBarsCachesUntilTTLExpires(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	series := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}})
	fb := &fakeBroker{bars: series}
	svc := New(fb, nil, nil, time.Minute)

	got1 := svc.GetBars(t.Context(), "AAPL", models.TF1Min, broker.BarsQuery{})
	got2 := svc.GetBars(t.Context(), "AAPL", models.TF1Min, broker.BarsQuery{})
	require.Equal(t, 1, got1.Len())
	require.Equal(t, 1, got2.Len())
	require.Equal(t, 1, fb.calls)
}

func TestGetBarsReturnsEmptyOnBrokerFailure(t *testing.T) {
	fb := &fakeBroker{barsErr: errors.New("boom")}
	svc := New(fb, nil, nil, 0)

	got := svc.GetBars(t.Context(), "AAPL", models.TF1Min, broker.BarsQuery{})
	require.True(t, got.Empty())
}

func TestGetBarsForSymbolsDropsFailedAndEmpty(t *testing.T) {
	fb := &fakeBroker{bars: models.NewBarSeries("X", models.TF1Min, nil)}
	svc := New(fb, nil, nil, 0)

	out := svc.GetBarsForSymbols(t.Context(), []string{"AAPL", "MSFT"}, models.TF1Min, broker.BarsQuery{})
	require.Empty(t, out)
}

func TestGetBarsForSymbolsDetailedCountsFetchFailures(t *testing.T) {
	fb := &fakeBroker{barsErr: errors.New("broker down")}
	svc := New(fb, nil, nil, 0)

	out, failures := svc.GetBarsForSymbolsDetailed(t.Context(), []string{"AAPL", "MSFT"}, models.TF1Min, broker.BarsQuery{})
	require.Empty(t, out)
	require.Equal(t, 2, failures)
}

func TestGetBarsForSymbolsDetailedNoFailuresOnQuietMarket(t *testing.T) {
	fb := &fakeBroker{bars: models.NewBarSeries("X", models.TF1Min, nil)}
	svc := New(fb, nil, nil, 0)

	out, failures := svc.GetBarsForSymbolsDetailed(t.Context(), []string{"AAPL"}, models.TF1Min, broker.BarsQuery{})
	require.Empty(t, out)
	require.Equal(t, 0, failures)
}

func TestGetLatestPricesDropsFailed(t *testing.T) {
	fb := &fakeBroker{priceErr: errors.New("no quote")}
	svc := New(fb, nil, nil, 0)

	out := svc.GetLatestPrices(t.Context(), []string{"AAPL"})
	require.Empty(t, out)
}

func TestIsMarketOpenFalseOnFailure(t *testing.T) {
	fb := &fakeBroker{marketErr: errors.New("down")}
	svc := New(fb, nil, nil, 0)
	require.False(t, svc.IsMarketOpen(t.Context()))
}

func TestResampleAggregatesOHLCV(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []models.Bar{
		{Timestamp: base, Open: 100, High: 102, Low: 99, Close: 101, Volume: 10},
		{Timestamp: base.Add(time.Minute), Open: 101, High: 103, Low: 100, Close: 102, Volume: 20},
		{Timestamp: base.Add(2 * time.Minute), Open: 102, High: 104, Low: 101, Close: 103, Volume: 30},
	}
	series := models.NewBarSeries("AAPL", models.TF1Min, bars)
	out := Resample(series, models.TF5Min)
	require.Equal(t, 1, out.Len())
	require.Equal(t, 100.0, out.Bars[0].Open)
	require.Equal(t, 104.0, out.Bars[0].High)
	require.Equal(t, 99.0, out.Bars[0].Low)
	require.Equal(t, 103.0, out.Bars[0].Close)
	require.Equal(t, 60.0, out.Bars[0].Volume)
}

func TestReturnsComputesPctChange(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []models.Bar{
		{Timestamp: base, Close: 100},
		{Timestamp: base.Add(time.Minute), Close: 110},
	}
	series := models.NewBarSeries("AAPL", models.TF1Min, bars)
	r := Returns(series, 1)
	require.Equal(t, 0.0, r[0])
	require.InDelta(t, 0.1, r[1], 1e-9)
}

func TestSmartFetchLocalReadsStoreAsIs(t *testing.T) {
	store, err := barstore.New(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	series := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}})
	require.NoError(t, store.Save("AAPL", models.TF1Min, series))

	svc := New(&fakeBroker{}, store, nil, 0)
	out, err := svc.SmartFetch(t.Context(), []string{"AAPL"}, models.TF1Min, base.Add(-time.Hour), base.Add(time.Hour), SourceLocal, "")
	require.NoError(t, err)
	require.Equal(t, 1, out["AAPL"].Len())
}

func TestCoversRangeToleratesStoredStartWithinWeekendHolidayWindow(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	start := base
	end := base.Add(30 * 24 * time.Hour)

	// Stored range starts exactly at the requested start and ends well
	// past the requested end: this is the ordinary "cache already
	// covers it" case and must not trigger a re-download.
	require.True(t, coversRange(start, end.Add(10*24*time.Hour), start, end))

	// Stored range starts up to 2 days after the requested start: still
	// within the weekend/holiday tolerance, still covered.
	require.True(t, coversRange(start.Add(2*24*time.Hour), end.Add(10*24*time.Hour), start, end))
}

func TestCoversRangeRejectsStoredStartOutsideTolerance(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	start := base
	end := base.Add(30 * 24 * time.Hour)

	// Stored range starts more than 2 days after the requested start:
	// outside tolerance, must re-download.
	require.False(t, coversRange(start.Add(3*24*time.Hour), end.Add(10*24*time.Hour), start, end))
}

func TestCoversRangeRejectsStoredEndOutsideTolerance(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	start := base
	end := base.Add(30 * 24 * time.Hour)

	// Stored range ends more than 5 days before the requested end:
	// outside tolerance, must re-download.
	require.False(t, coversRange(start, end.Add(-6*24*time.Hour), start, end))
}

func TestCacheAdmin(t *testing.T) {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	series := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1}})
	fb := &fakeBroker{bars: series}
	svc := New(fb, nil, nil, time.Minute)

	svc.GetBars(t.Context(), "AAPL", models.TF1Min, broker.BarsQuery{})
	stats := svc.Stats()
	require.Equal(t, 1, stats.BarEntries)

	svc.Clear()
	require.Equal(t, 0, svc.Stats().BarEntries)
}
