package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	broker.Broker
	account    models.Account
	positions  []models.Position
	accountErr error
	position   *models.Position
}

func (f *fakeBroker) GetAccount(ctx context.Context) (models.Account, error) {
	if f.accountErr != nil {
		return models.Account{}, f.accountErr
	}
	return f.account, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	return f.position, nil
}

var brokerNow = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func TestEvaluateRejectsOnRefreshFailure(t *testing.T) {
	m := New(Limits{})
	fb := &fakeBroker{accountErr: errors.New("down")}
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 100, "s", brokerNow)
	require.False(t, d.Approved)
}

func TestEvaluateApprovesWithinLimits(t *testing.T) {
	m := New(Limits{MaxPositionSizePct: 50, MaxOpenPositions: 5, MaxTradesPerDay: 10})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 10000}}
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 100, "s", brokerNow)
	require.True(t, d.Approved)
}

func TestEvaluateRejectsDailyTradeCap(t *testing.T) {
	m := New(Limits{MaxTradesPerDay: 1})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 10000}}
	m.RecordTrade(0, brokerNow)
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 100, "s", brokerNow)
	require.False(t, d.Approved)
	require.Contains(t, d.Reason, "trade cap")
}

func TestEvaluateRejectsPositionSizeCap(t *testing.T) {
	m := New(Limits{MaxPositionSizePct: 1})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 10000}}
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 100, 100, "s", brokerNow) // 10000 notional > 1% of 10000
	require.False(t, d.Approved)
	require.Contains(t, d.Reason, "position size")
}

func TestEvaluateRejectsOpenPositionsCap(t *testing.T) {
	m := New(Limits{MaxOpenPositions: 1})
	fb := &fakeBroker{
		account:   models.Account{Equity: 10000, BuyingPower: 10000},
		positions: []models.Position{{Symbol: "MSFT"}},
	}
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 100, "s", brokerNow)
	require.False(t, d.Approved)
	require.Contains(t, d.Reason, "open position")
}

func TestEvaluateRejectsInsufficientBuyingPower(t *testing.T) {
	m := New(Limits{})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 50}}
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 100, "s", brokerNow)
	require.False(t, d.Approved)
	require.Contains(t, d.Reason, "buying power")
}

func TestEvaluateSellSkipsBuyOnlyChecks(t *testing.T) {
	m := New(Limits{MaxOpenPositions: 1})
	fb := &fakeBroker{
		account:   models.Account{Equity: 10000, BuyingPower: 10000},
		positions: []models.Position{{Symbol: "AAPL", MarketValue: 1000}},
	}
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideSell, 1, 100, "s", brokerNow)
	require.True(t, d.Approved)
}

func TestEvaluateRejectsDailyLossCap(t *testing.T) {
	m := New(Limits{MaxDailyLossPct: 1})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 10000}}
	// First call establishes equity_start_of_day.
	m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 1, "s", brokerNow)
	m.UpdateDailyPnL(-200) // 2% loss > 1% cap
	d := m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 1, "s", brokerNow)
	require.False(t, d.Approved)
	require.Contains(t, d.Reason, "daily loss")
}

func TestDayRollResetsCounters(t *testing.T) {
	m := New(Limits{})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 10000}}
	m.RecordTrade(50, brokerNow)
	_, pnl, trades, _ := m.Counters()
	require.Equal(t, 50.0, pnl)
	require.Equal(t, 1, trades)

	nextDay := brokerNow.Add(24 * time.Hour)
	m.Evaluate(t.Context(), fb, "AAPL", models.SideBuy, 1, 1, "s", nextDay)
	_, pnl, trades, equityStart := m.Counters()
	require.Equal(t, 0.0, pnl)
	require.Equal(t, 0, trades)
	require.Equal(t, 10000.0, equityStart)
}

func TestCalculatePositionSizeUsesMinOfTargetAndBuyingPower(t *testing.T) {
	m := New(Limits{MaxPositionSizePct: 50})
	fb := &fakeBroker{account: models.Account{Equity: 10000, BuyingPower: 1000}}
	qty, err := m.CalculatePositionSize(t.Context(), fb, "AAPL", 100, 0)
	require.NoError(t, err)
	// byTarget = 5000, byBuyingPower = 950 -> budget 950 / 100 = 9.5
	require.InDelta(t, 9.5, qty, 1e-6)
}

func TestCalculatePositionSizeReturnsZeroBelowMinimum(t *testing.T) {
	m := New(Limits{MaxPositionSizePct: 50})
	fb := &fakeBroker{account: models.Account{Equity: 1, BuyingPower: 1}}
	qty, err := m.CalculatePositionSize(t.Context(), fb, "AAPL", 1000, 0)
	require.NoError(t, err)
	require.Equal(t, 0.0, qty)
}
