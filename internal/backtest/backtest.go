// Package backtest implements a deterministic bar-level backtester: it
// replays a strategy over historical bars fetched through the same
// market-data smart-fetch the live engine uses, and enforces the
// single non-negotiable rule of the whole component — signals
// computed from bars up to index i execute at the OPEN of i+1, never
// earlier.
//
// This is pure computation over in-memory bar slices and the existing
// strategy contract: it needs no new third-party dependency beyond
// what internal/strategy and internal/indicators already pull in.
package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/marketdata"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/dlanglois/ironclad-trader/internal/strategy"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "backtest")

// Config is one backtest run's input.
type Config struct {
	StrategyName       string
	Start, End         time.Time
	InitialCapital     float64
	CommissionPerTrade float64
	PositionSizePct    float64 // e.g. 10 means 10% of equity per entry
	MaxPositions       int
	AllowShort         bool
	// Timeframe overrides the strategy's declared timeframe when set;
	// zero value means "use the strategy's own timeframe".
	Timeframe models.Timeframe
}

// EquityPoint is one (timestamp, mark-to-close equity) sample.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// ClosedTrade is one completed round-trip.
type ClosedTrade struct {
	Symbol     string
	Side       models.Side // the side that OPENED the position
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	BarsHeld   int
	Commission float64 // entry + exit combined
	PnL        float64
}

// Stats summarizes a backtest run.
type Stats struct {
	TotalReturnPct          float64
	AnnualizedReturnPct     float64
	AnnualizedVolatilityPct float64
	Sharpe                  float64
	MaxDrawdownPct          float64

	TotalTrades           int
	WinningTrades         int
	LosingTrades          int
	WinRatePct            float64
	AvgPnL                float64
	AvgWinner             float64
	AvgLoser              float64
	BestTrade             float64
	WorstTrade            float64
	LongestWinningStreak  int
	LongestLosingStreak   int
	GrossProfit           float64
	GrossLoss             float64
	ProfitFactor          float64
	AvgBarsHeld           float64
	TotalCommission       float64
}

// Result is a completed backtest's full output.
type Result struct {
	StrategyName string
	EquityCurve  []EquityPoint
	ClosedTrades []ClosedTrade
	FinalEquity  float64
	Stats        Stats
}

// starter is satisfied by every concrete strategy through its
// embedded *strategy.Base; the backtester only needs to move the
// fresh instance out of IDLE once before its first CalculateSignals
// call, mirroring the engine's own use of statefulStrategy.
type starter interface {
	Start() error
}

// openPosition tracks one symbol's live position. Qty is signed: a
// long holds a positive quantity, a short a negative one, so every
// cash/equity formula below is a single expression instead of a
// branch per side.
type openPosition struct {
	side       models.Side
	qty        float64
	entryPrice float64
	entryTime  time.Time
	entryIdx   int
	commission float64
}

// lookbackKeywords are the parameter-name fragments to scan for when
// estimating how many bars a strategy needs warmed up before its
// first signal is trustworthy.
var lookbackKeywords = []string{"period", "length", "window", "slow", "fast", "long", "short", "signal"}

// estimateLookback scans a strategy's parameters for any key matching
// lookbackKeywords and returns 1.5x the largest matching value plus 5.
// maxVal is seeded at 1 rather than 0, so a strategy with no
// keyword-matching parameter still gets a minimal warmup window
// instead of starting signal generation from bar zero.
func estimateLookback(params strategy.Parameters) int {
	maxVal := 1.0
	for key, v := range params {
		lower := strings.ToLower(key)
		matched := false
		for _, kw := range lookbackKeywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if f := toFloat(v); f > maxVal {
			maxVal = f
		}
	}
	return int(maxVal*1.5) + 5
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// Run replays cfg.StrategyName over md's smart-fetched history and
// returns the full equity curve, trade ledger, and performance stats.
func Run(ctx context.Context, md *marketdata.Service, cfg Config) (*Result, error) {
	s, err := strategy.CreateStrategy(cfg.StrategyName)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if starter, ok := s.(starter); ok {
		if err := starter.Start(); err != nil {
			return nil, fmt.Errorf("backtest: starting strategy %q: %w", cfg.StrategyName, err)
		}
	}

	tf := cfg.Timeframe
	if tf == "" {
		tf = s.Timeframe()
	}

	bySymbol, err := md.SmartFetch(ctx, s.Symbols(), tf, cfg.Start, cfg.End, marketdata.SourceAuto, "")
	if err != nil {
		return nil, fmt.Errorf("backtest: smart-fetch: %w", err)
	}

	timeline := masterTimeline(bySymbol)
	if len(timeline) < 2 {
		return nil, fmt.Errorf("backtest: need at least 2 bars on the union timeline, got %d", len(timeline))
	}

	r := &runState{
		cfg:      cfg,
		strategy: s,
		bars:     bySymbol,
		timeline: timeline,
		lookback: estimateLookback(s.GetParameters()),
		cash:     cfg.InitialCapital,
		lastEq:   cfg.InitialCapital,
		positions: make(map[string]*openPosition),
	}
	return r.run()
}

// masterTimeline is the sorted, deduplicated union of every symbol's
// bar timestamps.
func masterTimeline(bySymbol map[string]models.BarSeries) []time.Time {
	seen := make(map[int64]time.Time)
	for _, series := range bySymbol {
		for _, b := range series.Bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type runState struct {
	cfg      Config
	strategy strategy.Strategy
	bars     map[string]models.BarSeries
	timeline []time.Time
	lookback int

	cash      float64
	lastEq    float64
	positions map[string]*openPosition
	pending   map[string]models.Signal

	equityCurve []EquityPoint
	closed      []ClosedTrade
}

func (r *runState) run() (*Result, error) {
	for i, ts := range r.timeline {
		r.executePending(i, ts)
		equity := r.markToClose(ts)
		r.equityCurve = append(r.equityCurve, EquityPoint{Timestamp: ts, Equity: equity})
		r.lastEq = equity

		if i < r.lookback {
			continue
		}
		signals := r.calculateSignals(ts)
		r.pending = signals.Actionable()
	}

	r.closeAllAtEnd()
	return r.buildResult(), nil
}

// executePending fills every signal queued by the previous iteration
// at the OPEN of bar index i — the only execution policy the
// backtester implements; no signal ever fills before the bar after
// the one it was computed from.
func (r *runState) executePending(i int, ts time.Time) {
	if len(r.pending) == 0 {
		return
	}
	pending := r.pending
	r.pending = nil

	for _, symbol := range sortedKeys(pending) {
		series, ok := r.bars[symbol]
		if !ok {
			continue
		}
		bar, ok := series.At(ts)
		if !ok {
			continue // this symbol has no bar at this timeline point; drop the fill.
		}
		r.fill(symbol, pending[symbol], bar.Open, ts, i)
	}
}

func (r *runState) fill(symbol string, sig models.Signal, price float64, ts time.Time, idx int) {
	pos := r.positions[symbol]
	switch sig {
	case models.SignalBuy:
		if pos != nil && pos.side == models.SideSell {
			r.closePosition(symbol, pos, price, ts, idx)
			return
		}
		if pos != nil {
			return // already long: nothing to do.
		}
		r.openPosition(symbol, models.SideBuy, price, ts, idx)
	case models.SignalSell:
		if pos != nil && pos.side == models.SideBuy {
			r.closePosition(symbol, pos, price, ts, idx)
			return
		}
		if pos != nil {
			return // already short: nothing to do.
		}
		if r.cfg.AllowShort {
			r.openPosition(symbol, models.SideSell, price, ts, idx)
		}
	}
}

func (r *runState) openPosition(symbol string, side models.Side, price float64, ts time.Time, idx int) {
	if len(r.positions) >= r.cfg.MaxPositions {
		return
	}
	budget := r.lastEq * r.cfg.PositionSizePct / 100
	if budget <= 0 || price <= 0 || budget > r.cash {
		return
	}
	qty := budget / price
	if side == models.SideSell {
		qty = -qty
	}

	r.cash -= qty*price + r.cfg.CommissionPerTrade
	r.positions[symbol] = &openPosition{
		side: side, qty: qty, entryPrice: price, entryTime: ts,
		entryIdx: idx, commission: r.cfg.CommissionPerTrade,
	}
}

func (r *runState) closePosition(symbol string, pos *openPosition, price float64, ts time.Time, idx int) {
	r.cash += pos.qty*price - r.cfg.CommissionPerTrade
	totalCommission := pos.commission + r.cfg.CommissionPerTrade

	r.closed = append(r.closed, ClosedTrade{
		Symbol: symbol, Side: pos.side, Qty: math.Abs(pos.qty),
		EntryPrice: pos.entryPrice, ExitPrice: price,
		EntryTime: pos.entryTime, ExitTime: ts, BarsHeld: idx - pos.entryIdx,
		Commission: totalCommission,
		PnL:        (price-pos.entryPrice)*pos.qty - totalCommission,
	})
	delete(r.positions, symbol)
}

// markToClose computes equity = cash + Σ qty·close across every open
// position, which holds literally for short positions too because
// qty is stored signed.
func (r *runState) markToClose(ts time.Time) float64 {
	equity := r.cash
	for symbol, pos := range r.positions {
		series, ok := r.bars[symbol]
		if !ok {
			continue
		}
		bar, ok := series.At(ts)
		if !ok {
			continue
		}
		equity += pos.qty * bar.Close
	}
	return equity
}

// calculateSignals runs the strategy over a per-symbol window
// truncated to timestamp <= ts. A CalculateSignals error is logged and
// swallowed rather than propagated — the backtester's state machine
// has nowhere useful to put the strategy but RUNNING, so it just
// keeps going.
func (r *runState) calculateSignals(ts time.Time) models.SignalSet {
	data := strategy.Data{Bars: make(map[string]models.BarSeries, len(r.bars))}
	for symbol, series := range r.bars {
		window := series.Slice(time.Time{}, ts)
		if len(window) == 0 {
			continue
		}
		data.Bars[symbol] = models.NewBarSeries(symbol, series.Timeframe, window)
	}

	signals, err := r.strategy.CalculateSignals(data)
	if err != nil {
		log.Warnf("backtest: %s.calculate_signals at %s: %v", r.cfg.StrategyName, ts, err)
		return nil
	}
	return signals
}

// closeAllAtEnd marks every position still open at the final bar
// closed at that bar's CLOSE, commission and all.
func (r *runState) closeAllAtEnd() {
	if len(r.timeline) == 0 {
		return
	}
	lastTS := r.timeline[len(r.timeline)-1]
	lastIdx := len(r.timeline) - 1

	for _, symbol := range sortedPositionKeys(r.positions) {
		pos := r.positions[symbol]
		series, ok := r.bars[symbol]
		if !ok {
			delete(r.positions, symbol)
			continue
		}
		closePrice := lastCloseAtOrBefore(series, lastTS)
		r.closePosition(symbol, pos, closePrice, lastTS, lastIdx)
	}
	r.equityCurve = append(r.equityCurve, EquityPoint{Timestamp: lastTS, Equity: r.markToClose(lastTS)})
}

func lastCloseAtOrBefore(series models.BarSeries, ts time.Time) float64 {
	bars := series.Slice(time.Time{}, ts)
	if len(bars) == 0 {
		return series.Last().Close
	}
	return bars[len(bars)-1].Close
}

func sortedKeys(m map[string]models.Signal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedPositionKeys(m map[string]*openPosition) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
