package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/marketdata"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/dlanglois/ironclad-trader/internal/risk"
	"github.com/dlanglois/ironclad-trader/internal/strategy"
	"github.com/stretchr/testify/require"
)

// fakeBroker implements broker.Broker with just enough behavior for
// the engine's cycle logic; embedding the interface lets each test
// override only the methods it needs.
type fakeBroker struct {
	broker.Broker
	account     models.Account
	accountErr  error
	bars        models.BarSeries
	barsErr     error
	price       float64
	priceErr    error
	position    *models.Position
	positionErr error
	marketOpen  bool

	mu           sync.Mutex
	submitErr    error
	submitted    []models.OrderRequest
	submitStatus models.OrderStatus
}

func (f *fakeBroker) GetAccount(ctx context.Context) (models.Account, error) {
	if f.accountErr != nil {
		return models.Account{}, f.accountErr
	}
	return f.account, nil
}

func (f *fakeBroker) GetBars(ctx context.Context, symbol string, tf models.Timeframe, q broker.BarsQuery) (models.BarSeries, error) {
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

func (f *fakeBroker) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	return f.position, f.positionErr
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	if f.position == nil {
		return nil, nil
	}
	return []models.Position{*f.position}, nil
}

func (f *fakeBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return f.marketOpen, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return models.Order{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	status := f.submitStatus
	if status == "" {
		status = models.OrderSubmitted
	}
	return models.Order{ID: "order-1", Symbol: req.Symbol, Side: req.Side, Qty: req.Qty, Status: status}, nil
}

// fakeStore implements persistence.Port in memory for assertions.
type fakeStore struct {
	mu      sync.Mutex
	trades  []models.TradeRecord
	stopped []int64
	errored []int64
}

func (s *fakeStore) RecordTradeAttempt(t models.TradeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return int64(len(s.trades)), nil
}

func (s *fakeStore) OpenStrategyRun(name string, symbols []string, tf models.Timeframe, parametersJSON string, startedAt time.Time) (int64, error) {
	return 1, nil
}

func (s *fakeStore) MarkStrategyRunStopped(id int64, stoppedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, id)
	return nil
}

func (s *fakeStore) MarkStrategyRunErrored(id int64, message string, stoppedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored = append(s.errored, id)
	return nil
}

func (s *fakeStore) UpdateStrategyRunSignals(id int64, lastSignalJSON string, tradeCountSince int) error {
	return nil
}

func (s *fakeStore) AppendPerformanceSnapshot(snap models.PerformanceSnapshot) (int64, error) {
	return 1, nil
}

func testBars(sym string, n int, rising bool) models.BarSeries {
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		c := 100.0
		if rising {
			c += float64(i)
		} else {
			c -= float64(i)
		}
		out[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return models.NewBarSeries(sym, models.TF1Min, out)
}

func newTestEngine(brk broker.Broker, store *fakeStore) *Engine {
	md := marketdata.New(brk, nil, nil, 0)
	riskMgr := risk.New(risk.Limits{MaxPositionSizePct: 50, MaxOpenPositions: 5, MaxTradesPerDay: 100})
	return New(brk, md, riskMgr, store, nil)
}

func TestStartStrategyRejectsWhenEngineNotReady(t *testing.T) {
	e := newTestEngine(&fakeBroker{}, &fakeStore{})
	err := e.StartStrategy("sma_crossover")
	require.Error(t, err)
}

func TestStartStrategyRejectsDuplicates(t *testing.T) {
	brk := &fakeBroker{account: models.Account{ID: "a1", Equity: 10000}, marketOpen: true}
	e := newTestEngine(brk, &fakeStore{})
	require.NoError(t, e.Initialize(t.Context()))

	require.NoError(t, e.StartStrategy("sma_crossover"))
	err := e.StartStrategy("sma_crossover")
	require.Error(t, err)

	require.NoError(t, e.StopStrategy("sma_crossover"))
}

func TestStopStrategyRemovesFromActiveAndMarksStopped(t *testing.T) {
	brk := &fakeBroker{account: models.Account{ID: "a1", Equity: 10000}, marketOpen: false}
	store := &fakeStore{}
	e := newTestEngine(brk, store)
	require.NoError(t, e.Initialize(t.Context()))
	require.NoError(t, e.StartStrategy("rsi_reversion"))

	require.Contains(t, e.ActiveStrategies(), "rsi_reversion")
	require.NoError(t, e.StopStrategy("rsi_reversion"))
	require.NotContains(t, e.ActiveStrategies(), "rsi_reversion")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.stopped, 1)
}

// goldenCrossBars builds a series whose fast(2)/slow(4) SMA crosses
// above exactly at the last bar, mirroring spec.md's S1 scenario.
func goldenCrossBars(sym string) models.BarSeries {
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 99, 105}
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return models.NewBarSeries(sym, models.TF1Min, out)
}

func TestRunCycleSubmitsOrderOnBuySignal(t *testing.T) {
	brk := &fakeBroker{
		account:    models.Account{ID: "a1", Equity: 100000, BuyingPower: 100000},
		bars:       goldenCrossBars("AAPL"),
		price:      50,
		marketOpen: true,
	}
	store := &fakeStore{}
	e := newTestEngine(brk, store)

	s := strategy.NewSMACrossover([]string{"AAPL"}, models.TF1Min, strategy.Parameters{"fast_period": 2, "slow_period": 4})
	require.NoError(t, s.Start())
	loop := &strategyLoop{strategy: s, stateful: s, runID: 1}

	outcome, orders := e.runCycle(t.Context(), "sma_crossover", loop, 200)
	require.Equal(t, outcomeOK, outcome)
	require.Equal(t, 1, orders)

	brk.mu.Lock()
	defer brk.mu.Unlock()
	require.Len(t, brk.submitted, 1)
	require.Equal(t, models.SideBuy, brk.submitted[0].Side)
	require.Equal(t, models.TIFDay, brk.submitted[0].TimeInForce)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.trades, 1)
	require.Equal(t, "order-1", store.trades[0].BrokerOrderID)
	require.NotEmpty(t, store.trades[0].BrokerOrderID)
}

func TestRunCycleSkipsWhenMarketClosed(t *testing.T) {
	brk := &fakeBroker{marketOpen: false}
	store := &fakeStore{}
	e := newTestEngine(brk, store)

	s := strategy.NewSMACrossover([]string{"AAPL"}, models.TF1Min, nil)
	require.NoError(t, s.Start())
	loop := &strategyLoop{strategy: s, stateful: s, runID: 1}

	outcome, orders := e.runCycle(t.Context(), "sma_crossover", loop, 200)
	require.Equal(t, outcomeSkip, outcome)
	require.Equal(t, 0, orders)
}

func TestRunCycleErrorsWhenBarFetchFails(t *testing.T) {
	brk := &fakeBroker{marketOpen: true, barsErr: context.DeadlineExceeded}
	store := &fakeStore{}
	e := newTestEngine(brk, store)

	s := strategy.NewSMACrossover([]string{"AAPL"}, models.TF1Min, nil)
	require.NoError(t, s.Start())
	loop := &strategyLoop{strategy: s, stateful: s, runID: 1}

	outcome, orders := e.runCycle(t.Context(), "sma_crossover", loop, 200)
	require.Equal(t, outcomeError, outcome)
	require.Equal(t, 0, orders)
}

func TestRunCycleSkipsWhenBarsQuietButBrokerHealthy(t *testing.T) {
	brk := &fakeBroker{marketOpen: true, bars: models.NewBarSeries("AAPL", models.TF1Min, nil)}
	store := &fakeStore{}
	e := newTestEngine(brk, store)

	s := strategy.NewSMACrossover([]string{"AAPL"}, models.TF1Min, nil)
	require.NoError(t, s.Start())
	loop := &strategyLoop{strategy: s, stateful: s, runID: 1}

	outcome, orders := e.runCycle(t.Context(), "sma_crossover", loop, 200)
	require.Equal(t, outcomeSkip, outcome)
	require.Equal(t, 0, orders)
}

func TestHandleSignalSkipsSellWithNoPosition(t *testing.T) {
	brk := &fakeBroker{marketOpen: true, price: 50, position: nil}
	store := &fakeStore{}
	e := newTestEngine(brk, store)

	submitted, errored := e.handleSignal(t.Context(), "rsi_reversion", &strategyLoop{strategy: strategy.NewRSIReversion(nil, models.TF1Min, nil)}, "MSFT", models.SignalSell)
	require.False(t, submitted)
	require.False(t, errored)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Empty(t, store.trades)
}

func TestHandleSignalRecordsRejectedTradeOnRiskFailure(t *testing.T) {
	brk := &fakeBroker{marketOpen: true, price: 50, account: models.Account{Equity: 1000, BuyingPower: 1000}}
	store := &fakeStore{}
	riskMgr := risk.New(risk.Limits{MaxPositionSizePct: 50, MaxTradesPerDay: 1})
	riskMgr.RecordTrade(0, time.Now().UTC())
	md := marketdata.New(brk, nil, nil, 0)
	e := New(brk, md, riskMgr, store, nil)

	submitted, errored := e.handleSignal(t.Context(), "sma_crossover", &strategyLoop{strategy: strategy.NewSMACrossover(nil, models.TF1Min, nil)}, "AAPL", models.SignalBuy)
	require.False(t, submitted)
	require.False(t, errored)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.trades, 1)
	require.Equal(t, models.TradeRejected, store.trades[0].Status)
	require.Contains(t, store.trades[0].Notes, "Risk rejected:")
}

func TestHandleSignalRecordsBrokerErrorTrade(t *testing.T) {
	brk := &fakeBroker{
		marketOpen: true, price: 50,
		account:   models.Account{Equity: 100000, BuyingPower: 100000},
		submitErr: context.DeadlineExceeded,
	}
	store := &fakeStore{}
	riskMgr := risk.New(risk.Limits{MaxPositionSizePct: 50, MaxOpenPositions: 5, MaxTradesPerDay: 10})
	md := marketdata.New(brk, nil, nil, 0)
	e := New(brk, md, riskMgr, store, nil)

	submitted, errored := e.handleSignal(t.Context(), "sma_crossover", &strategyLoop{strategy: strategy.NewSMACrossover(nil, models.TF1Min, nil)}, "AAPL", models.SignalBuy)
	require.False(t, submitted)
	require.True(t, errored)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.trades, 1)
	require.Equal(t, models.TradeError, store.trades[0].Status)
	require.Contains(t, store.trades[0].Notes, "Broker error:")
}
