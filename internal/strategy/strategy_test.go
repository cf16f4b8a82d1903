package strategy

import (
	"testing"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/stretchr/testify/require"
)

func barsRising(n int, start float64) []models.Bar {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		c := start + float64(i)
		out[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out
}

func TestSMACrossoverSignalsBuyOnGoldenCross(t *testing.T) {
	s := NewSMACrossover([]string{"SPY"}, models.TF1Min, Parameters{"fast_period": 2, "slow_period": 4})
	// fast(2) sits at or below slow(4) through the dip at 99, then the
	// jump to 105 lifts it above on exactly the last bar.
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 99, 105}
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	raw := make([]models.Bar, len(closes))
	for i, c := range closes {
		raw[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	bars := models.NewBarSeries("SPY", models.TF1Min, raw)
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"SPY": bars}})
	require.NoError(t, err)
	require.Equal(t, models.SignalBuy, signals["SPY"])
}

func TestSMACrossoverHoldsOnInsufficientHistory(t *testing.T) {
	s := NewSMACrossover([]string{"SPY"}, models.TF1Min, nil)
	bars := models.NewBarSeries("SPY", models.TF1Min, barsRising(3, 100))
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"SPY": bars}})
	require.NoError(t, err)
	require.Equal(t, models.SignalHold, signals["SPY"])
}

func TestRSIReversionBuysOnOversoldCrossing(t *testing.T) {
	s := NewRSIReversion([]string{"SPY"}, models.TF1Min, Parameters{"period": 3, "oversold": 40.0, "overbought": 60.0})
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	// Flat bars hold RSI near 50 (neutral), then one sharp drop pushes
	// RSI below the oversold threshold on exactly the last bar.
	var bars []models.Bar
	price := 100.0
	for i := 0; i < 6; i++ {
		bars = append(bars, models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1})
	}
	price -= 20
	bars = append(bars, models.Bar{Timestamp: base.Add(6 * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1})
	series := models.NewBarSeries("SPY", models.TF1Min, bars)
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"SPY": series}})
	require.NoError(t, err)
	require.Equal(t, models.SignalBuy, signals["SPY"])
}

// TestRSIReversionStaysHoldWhileAlreadyOversold mirrors spec.md's
// boundary behavior: once RSI has already crossed into a zone, further
// bars that keep it there hold rather than re-triggering every cycle.
func TestRSIReversionStaysHoldWhileAlreadyOversold(t *testing.T) {
	s := NewRSIReversion([]string{"SPY"}, models.TF1Min, Parameters{"period": 3, "oversold": 40.0, "overbought": 60.0})
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	var bars []models.Bar
	price := 100.0
	for i := 0; i < 10; i++ {
		price -= 2
		bars = append(bars, models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1})
	}
	series := models.NewBarSeries("SPY", models.TF1Min, bars)
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"SPY": series}})
	require.NoError(t, err)
	require.Equal(t, models.SignalHold, signals["SPY"])
}

// TestRSIReversionSellsOnOverboughtCrossing mirrors spec.md scenario
// S2's shape: RSI sitting at neutral crosses above the overbought
// threshold on exactly the last bar, triggering SELL.
func TestRSIReversionSellsOnOverboughtCrossing(t *testing.T) {
	s := NewRSIReversion([]string{"MSFT"}, models.TF1Min, Parameters{"period": 14})
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	var bars []models.Bar
	price := 100.0
	for i := 0; i < 16; i++ {
		bars = append(bars, models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1})
	}
	price += 20
	bars = append(bars, models.Bar{Timestamp: base.Add(16 * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 1})
	series := models.NewBarSeries("MSFT", models.TF1Min, bars)
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"MSFT": series}})
	require.NoError(t, err)
	require.Equal(t, models.SignalSell, signals["MSFT"])
}

func TestAsiaRangeReversalHoldsDuringSession(t *testing.T) {
	s := NewAsiaRangeReversal([]string{"BTC/USD"}, models.TF1Hour, nil)
	s.now = func() time.Time {
		return time.Date(2026, 1, 2, 3, 0, 0, 0, madridLocation) // inside default 01:00-07:00 session
	}
	series := models.NewBarSeries("BTC/USD", models.TF1Hour, barsRising(5, 100))
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"BTC/USD": series}})
	require.NoError(t, err)
	require.Equal(t, models.SignalHold, signals["BTC/USD"])
}

func TestAsiaRangeReversalTradesBreakoutAfterSession(t *testing.T) {
	s := NewAsiaRangeReversal([]string{"BTC/USD"}, models.TF1Hour, nil)
	fixedNow := time.Date(2026, 1, 2, 10, 0, 0, 0, madridLocation) // after 07:00 session end
	s.now = func() time.Time { return fixedNow }

	// Build session bars (hours 1-6 Madrid) with a tight range, then a
	// post-session bar that breaks well above it.
	var bars []models.Bar
	for h := 1; h < 7; h++ {
		ts := time.Date(2026, 1, 2, h, 0, 0, 0, madridLocation).UTC()
		bars = append(bars, models.Bar{Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1})
	}
	breakoutTS := time.Date(2026, 1, 2, 9, 0, 0, 0, madridLocation).UTC()
	bars = append(bars, models.Bar{Timestamp: breakoutTS, Open: 100, High: 150, Low: 100, Close: 150, Volume: 1})

	series := models.NewBarSeries("BTC/USD", models.TF1Hour, bars)
	signals, err := s.CalculateSignals(Data{Bars: map[string]models.BarSeries{"BTC/USD": series}})
	require.NoError(t, err)
	require.Equal(t, models.SignalSell, signals["BTC/USD"]) // fades the breakout above range high
}

func TestRegistryGetStrategyIsSingleton(t *testing.T) {
	a, err := GetStrategy("sma_crossover")
	require.NoError(t, err)
	b, err := GetStrategy("sma_crossover")
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestRegistryCreateStrategyIsFresh(t *testing.T) {
	a, err := CreateStrategy("sma_crossover")
	require.NoError(t, err)
	b, err := CreateStrategy("sma_crossover")
	require.NoError(t, err)
	require.NotSame(t, a, b)
}

func TestRegistryUnknownStrategy(t *testing.T) {
	_, err := GetStrategy("does_not_exist")
	require.Error(t, err)
}

func TestUpdateParametersIgnoresUnknownKeys(t *testing.T) {
	s := NewSMACrossover([]string{"SPY"}, models.TF1Min, nil)
	s.UpdateParameters(Parameters{"fast_period": 5, "bogus_key": 1})
	params := s.GetParameters()
	require.Equal(t, 5, params["fast_period"])
	require.NotContains(t, params, "bogus_key")
}

func TestStateMachineTransitions(t *testing.T) {
	s := NewSMACrossover([]string{"SPY"}, models.TF1Min, nil)
	require.Equal(t, models.StrategyIdle, s.Status())
	require.NoError(t, s.Start())
	require.Equal(t, models.StrategyRunning, s.Status())
	require.NoError(t, s.Stop())
	require.Equal(t, models.StrategyStopped, s.Status())
	require.NoError(t, s.Start())
	require.NoError(t, s.Fail())
	require.Equal(t, models.StrategyError, s.Status())
	require.Error(t, s.Start()) // ERROR is terminal
}
