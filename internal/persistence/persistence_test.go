package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'trades'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "trades", name)
}

func TestRecordTradeAttemptAssignsID(t *testing.T) {
	s := openTestStore(t)
	id, err := s.RecordTradeAttempt(models.TradeRecord{
		StrategyName: "sma_crossover",
		Symbol:       "AAPL",
		Side:         models.SideBuy,
		Qty:          10,
		Type:         models.OrderMarket,
		TimeInForce:  models.TIFDay,
		Status:       models.TradeSubmitted,
		Signal:       models.SignalBuy,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))
}

func TestStrategyRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	started := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

	id, err := s.OpenStrategyRun("sma_crossover", []string{"AAPL", "MSFT"}, models.TF15Min, `{"fast_period":10}`, started)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	require.NoError(t, s.UpdateStrategyRunSignals(id, `{"AAPL":"buy"}`, 3))

	var symbols, status, lastSignal string
	var totalTrades int
	err = s.db.QueryRow(`SELECT symbols, status, last_signal_json, total_trades FROM strategy_runs WHERE id = ?`, id).
		Scan(&symbols, &status, &lastSignal, &totalTrades)
	require.NoError(t, err)
	require.Equal(t, "AAPL,MSFT", symbols)
	require.Equal(t, string(models.RunRunning), status)
	require.Equal(t, `{"AAPL":"buy"}`, lastSignal)
	require.Equal(t, 3, totalTrades)

	require.NoError(t, s.MarkStrategyRunStopped(id, started.Add(time.Hour)))
	err = s.db.QueryRow(`SELECT status FROM strategy_runs WHERE id = ?`, id).Scan(&status)
	require.NoError(t, err)
	require.Equal(t, string(models.RunStopped), status)
}

func TestMarkStrategyRunErrored(t *testing.T) {
	s := openTestStore(t)
	id, err := s.OpenStrategyRun("rsi_reversion", []string{"SPY"}, models.TF1Hour, `{}`, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, s.MarkStrategyRunErrored(id, "broker unreachable", time.Now().UTC()))

	var status, errMsg string
	err = s.db.QueryRow(`SELECT status, error_message FROM strategy_runs WHERE id = ?`, id).Scan(&status, &errMsg)
	require.NoError(t, err)
	require.Equal(t, string(models.RunError), status)
	require.Equal(t, "broker unreachable", errMsg)
}

func TestAppendPerformanceSnapshot(t *testing.T) {
	s := openTestStore(t)
	equity := 12000.5
	id, err := s.AppendPerformanceSnapshot(models.PerformanceSnapshot{
		StrategyName: "sma_crossover",
		Timestamp:    time.Now().UTC(),
		Equity:       &equity,
		TotalPnL:     200,
		DailyPnL:     50,
		TotalTrades:  4,
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	var gotEquity float64
	var gotTrades int
	err = s.db.QueryRow(`SELECT equity, total_trades FROM performance_snapshots WHERE id = ?`, id).Scan(&gotEquity, &gotTrades)
	require.NoError(t, err)
	require.Equal(t, equity, gotEquity)
	require.Equal(t, 4, gotTrades)
}

func TestJoinSymbolsEmpty(t *testing.T) {
	require.Equal(t, "", joinSymbols(nil))
	require.Equal(t, "AAPL", joinSymbols([]string{"AAPL"}))
}
