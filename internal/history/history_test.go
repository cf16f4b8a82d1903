package history

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDownloadNormalizesAndDropsIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]barWire{
			{Timestamp: "2026-01-02T09:30:00Z", Open: f(100), High: f(101), Low: f(99), Close: f(100.5), Volume: 1000.0},
			{Timestamp: "2026-01-02T09:31:00Z", Open: nil, High: f(101), Low: f(99), Close: f(100.5), Volume: 1000.0},
			{Timestamp: "not-a-timestamp", Open: f(100), High: f(101), Low: f(99), Close: f(100.5), Volume: 1000.0},
		})
	}))
	defer srv.Close()

	p := New(srv.URL)
	series, err := p.Download(t.Context(), "AAPL", nil, nil, models.TF1Min, "")
	require.NoError(t, err)
	require.Equal(t, 1, series.Len())
	require.Equal(t, 100.0, series.Bars[0].Open)
}

func TestDownloadUnsupportedTimeframe(t *testing.T) {
	p := New("http://unused.example")
	_, err := p.Download(t.Context(), "AAPL", nil, nil, models.Timeframe("bogus"), "")
	require.Error(t, err)
}

func TestDownloadMultipleSkipsFailedSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bars/BAD" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]barWire{
			{Timestamp: "2026-01-02T09:30:00Z", Open: f(1), High: f(1), Low: f(1), Close: f(1), Volume: 1.0},
		})
	}))
	defer srv.Close()

	p := New(srv.URL)
	p.httpc.RetryMax = 0
	out, err := p.DownloadMultiple(t.Context(), []string{"GOOD", "BAD"}, nil, nil, models.TF1Min, "")
	require.NoError(t, err)
	require.Contains(t, out, "GOOD")
	require.NotContains(t, out, "BAD")
}

func f(v float64) *float64 { return &v }
