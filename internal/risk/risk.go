// Package risk implements the pre-trade risk gate: a set of
// configured limits checked in a fixed order against daily counters,
// plus position sizing. The account+positions refresh at the top of
// Evaluate fans out over errgroup.Group and the result is copied into
// local variables before the single counter mutex is taken, so no
// broker round trip ever happens while the mutex is held.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "risk")

// Limits are the configured caps every order is checked against.
type Limits struct {
	MaxDailyLossPct    float64
	MaxPositionSizePct float64
	MaxTradesPerDay    int
	MaxOpenPositions   int
	MinBuyingPowerPct  float64
}

// Decision is evaluate_order's result.
type Decision struct {
	Approved bool
	Reason   string
	Details  map[string]any
}

type dailyCounters struct {
	date             string
	dailyPnL         float64
	tradesToday      int
	equityStartOfDay float64
}

// Manager owns the configured limits and mutable daily counters.
type Manager struct {
	limits Limits

	mu       sync.Mutex
	counters dailyCounters
}

// New builds a risk Manager with the given limits.
func New(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// today returns the broker's local calendar day
// "time-zero tests on start of day use the local broker calendar day"
// — callers pass brokerNow already resolved to that local time.
func today(brokerNow time.Time) string {
	return brokerNow.Format("2006-01-02")
}

// Evaluate runs the pre-trade gate for one candidate order.
func (m *Manager) Evaluate(ctx context.Context, brk broker.Broker, symbol string, side models.Side, qty, price float64, strategyName string, brokerNow time.Time) Decision {
	var account models.Account
	var positions []models.Position

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		account, err = brk.GetAccount(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = brk.GetPositions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Decision{Approved: false, Reason: fmt.Sprintf("refreshing account/positions: %v", err)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(today(brokerNow), account)

	if reason, ok := m.checkDailyLossLocked(); !ok {
		return Decision{Approved: false, Reason: reason}
	}
	if reason, ok := m.checkDailyTradesLocked(); !ok {
		return Decision{Approved: false, Reason: reason}
	}
	if side == models.SideBuy {
		if reason, ok := m.checkPositionSizeLocked(symbol, qty, price, account, positions); !ok {
			return Decision{Approved: false, Reason: reason}
		}
		if reason, ok := m.checkOpenPositionsLocked(positions); !ok {
			return Decision{Approved: false, Reason: reason}
		}
		if reason, ok := m.checkBuyingPowerLocked(qty, price, account); !ok {
			return Decision{Approved: false, Reason: reason}
		}
	}

	return Decision{
		Approved: true,
		Details: map[string]any{
			"strategy_name":       strategyName,
			"equity":              account.Equity,
			"trades_today":        m.counters.tradesToday,
			"equity_start_of_day": m.counters.equityStartOfDay,
		},
	}
}

// rollDayLocked resets the daily counters when the broker's calendar
// day has advanced since the last evaluation.
func (m *Manager) rollDayLocked(todayStr string, account models.Account) {
	if m.counters.date == todayStr {
		return
	}
	if m.counters.date != "" {
		log.Infof("risk: rolling day %s -> %s: trades=%d pnl=%.2f", m.counters.date, todayStr, m.counters.tradesToday, m.counters.dailyPnL)
	}
	m.counters.date = todayStr
	m.counters.dailyPnL = 0
	m.counters.tradesToday = 0
	if account.Equity > 0 {
		m.counters.equityStartOfDay = account.Equity
	}
}

func (m *Manager) checkDailyLossLocked() (string, bool) {
	if m.limits.MaxDailyLossPct <= 0 || m.counters.equityStartOfDay <= 0 {
		return "", true
	}
	loss := math.Abs(math.Min(m.counters.dailyPnL, 0))
	cap := m.counters.equityStartOfDay * m.limits.MaxDailyLossPct / 100
	if loss >= cap {
		return fmt.Sprintf("daily loss cap reached: loss %.2f >= cap %.2f", loss, cap), false
	}
	return "", true
}

func (m *Manager) checkDailyTradesLocked() (string, bool) {
	if m.limits.MaxTradesPerDay <= 0 {
		return "", true
	}
	if m.counters.tradesToday >= m.limits.MaxTradesPerDay {
		return fmt.Sprintf("daily trade cap reached: %d >= %d", m.counters.tradesToday, m.limits.MaxTradesPerDay), false
	}
	return "", true
}

func (m *Manager) checkPositionSizeLocked(symbol string, qty, price float64, account models.Account, positions []models.Position) (string, bool) {
	if m.limits.MaxPositionSizePct <= 0 {
		return "", true
	}
	var existingValue float64
	for _, p := range positions {
		if p.Symbol == symbol {
			existingValue = p.MarketValue
			break
		}
	}
	cap := account.Equity * m.limits.MaxPositionSizePct / 100
	if existingValue+qty*price > cap {
		return fmt.Sprintf("position size cap reached for %s: %.2f > %.2f", symbol, existingValue+qty*price, cap), false
	}
	return "", true
}

func (m *Manager) checkOpenPositionsLocked(positions []models.Position) (string, bool) {
	if m.limits.MaxOpenPositions <= 0 {
		return "", true
	}
	if len(positions) >= m.limits.MaxOpenPositions {
		return fmt.Sprintf("open position cap reached: %d >= %d", len(positions), m.limits.MaxOpenPositions), false
	}
	return "", true
}

func (m *Manager) checkBuyingPowerLocked(qty, price float64, account models.Account) (string, bool) {
	cost := qty * price
	if cost > account.BuyingPower {
		return fmt.Sprintf("insufficient buying power: need %.2f, have %.2f", cost, account.BuyingPower), false
	}
	if m.limits.MinBuyingPowerPct > 0 && account.Equity > 0 {
		residual := (account.BuyingPower - cost) / account.Equity
		if residual < m.limits.MinBuyingPowerPct/100 {
			log.Warnf("risk: buying power residual %.4f below min %.4f after a %.2f order", residual, m.limits.MinBuyingPowerPct/100, cost)
		}
	}
	return "", true
}

// CalculatePositionSize sizes a new entry from the smaller of the
// remaining room under targetPct of equity and 95% of buying power.
// targetPct defaults to MaxPositionSizePct when 0.
func (m *Manager) CalculatePositionSize(ctx context.Context, brk broker.Broker, symbol string, price, targetPct float64) (float64, error) {
	if targetPct <= 0 {
		targetPct = m.limits.MaxPositionSizePct
	}
	account, err := brk.GetAccount(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk: calculate_position_size: refreshing account: %w", err)
	}
	pos, err := brk.GetPosition(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("risk: calculate_position_size: refreshing position: %w", err)
	}
	var existingValue float64
	if pos != nil {
		existingValue = pos.MarketValue
	}

	byTarget := account.Equity*targetPct/100 - existingValue
	byBuyingPower := 0.95 * account.BuyingPower
	budget := math.Min(byTarget, byBuyingPower)
	if budget <= 0 || price <= 0 {
		return 0, nil
	}

	qty := math.Round(budget/price*1e4) / 1e4
	if qty < 0.01 {
		return 0, nil
	}
	return qty, nil
}

// RecordTrade increments trades_today and adds pnl to daily_pnl,
// rolling the day first if needed.
func (m *Manager) RecordTrade(pnl float64, brokerNow time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(today(brokerNow), models.Account{})
	m.counters.tradesToday++
	m.counters.dailyPnL += pnl
}

// UpdateDailyPnL overwrites daily_pnl to v.
func (m *Manager) UpdateDailyPnL(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.dailyPnL = v
}

// Counters returns a snapshot of the current daily counters, for
// dashboards/tests.
func (m *Manager) Counters() (date string, dailyPnL float64, tradesToday int, equityStartOfDay float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters.date, m.counters.dailyPnL, m.counters.tradesToday, m.counters.equityStartOfDay
}
