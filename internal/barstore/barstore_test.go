package barstore

import (
	"testing"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/stretchr/testify/require"
)

func mkBar(ts time.Time, close float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []models.Bar{mkBar(base, 100), mkBar(base.Add(time.Minute), 101), mkBar(base.Add(2*time.Minute), 102)}
	series := models.NewBarSeries("AAPL", models.TF1Min, bars)

	require.NoError(t, store.Save("AAPL", models.TF1Min, series))

	loaded, err := store.Load("AAPL", models.TF1Min, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())
	require.Equal(t, 100.0, loaded.Bars[0].Close)
	require.Equal(t, 102.0, loaded.Bars[2].Close)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	loaded, err := store.Load("MSFT", models.TF5Min, nil, nil)
	require.NoError(t, err)
	require.True(t, loaded.Empty())
}

func TestLoadBoundsFilter(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	var bars []models.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, mkBar(base.Add(time.Duration(i)*time.Minute), float64(100+i)))
	}
	series := models.NewBarSeries("AAPL", models.TF1Min, bars)
	require.NoError(t, store.Save("AAPL", models.TF1Min, series))

	start := base.Add(time.Minute)
	end := base.Add(3 * time.Minute)
	loaded, err := store.Load("AAPL", models.TF1Min, &start, &end)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())
	require.Equal(t, 101.0, loaded.Bars[0].Close)
	require.Equal(t, 103.0, loaded.Bars[2].Close)
}

func TestUpdateMergesAndDedupesKeepingLatest(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	first := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{
		mkBar(base, 100), mkBar(base.Add(time.Minute), 101),
	})
	require.NoError(t, store.Save("AAPL", models.TF1Min, first))

	second := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{
		mkBar(base.Add(time.Minute), 999), // overlaps, should win (latest wins)
		mkBar(base.Add(2*time.Minute), 102),
	})
	nNew, err := store.Update("AAPL", models.TF1Min, second)
	require.NoError(t, err)
	require.Equal(t, 1, nNew)

	loaded, err := store.Load("AAPL", models.TF1Min, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())
	mid, ok := loaded.At(base.Add(time.Minute))
	require.True(t, ok)
	require.Equal(t, 999.0, mid.Close)
}

func TestIntrospectionAndDelete(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	series := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{mkBar(base, 100), mkBar(base.Add(time.Minute), 101)})
	require.NoError(t, store.Save("AAPL", models.TF1Min, series))

	require.True(t, store.Has("AAPL", models.TF1Min))
	n, err := store.BarCount("AAPL", models.TF1Min)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	symbols, err := store.ListSymbols()
	require.NoError(t, err)
	require.Contains(t, symbols, "AAPL")

	tfs, err := store.ListTimeframes("AAPL")
	require.NoError(t, err)
	require.Contains(t, tfs, models.TF1Min)

	summary, err := store.Summary()
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.Equal(t, 2, summary[0].BarCount)

	require.NoError(t, store.Delete("AAPL", models.TF1Min))
	require.False(t, store.Has("AAPL", models.TF1Min))

	// Symbol dir should be cleaned up since it's now empty.
	symbols, err = store.ListSymbols()
	require.NoError(t, err)
	require.NotContains(t, symbols, "AAPL")
}

func TestDeleteSymbolRemovesAllTimeframes(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	series := models.NewBarSeries("AAPL", models.TF1Min, []models.Bar{mkBar(base, 100)})
	require.NoError(t, store.Save("AAPL", models.TF1Min, series))
	require.NoError(t, store.Save("AAPL", models.TF5Min, series))

	require.NoError(t, store.DeleteSymbol("AAPL"))
	require.False(t, store.Has("AAPL", models.TF1Min))
	require.False(t, store.Has("AAPL", models.TF5Min))
}
