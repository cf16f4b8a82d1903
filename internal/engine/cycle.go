package engine

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/metrics"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/dlanglois/ironclad-trader/internal/strategy"
)

// cycleOutcome distinguishes a cycle that did nothing because its
// preconditions weren't met (market closed, no data yet) from one
// that genuinely failed, so the loop's consecutive-error counter only
// tracks real failures.
type cycleOutcome int

const (
	outcomeSkip cycleOutcome = iota
	outcomeOK
	outcomeError
)

// runLoop drives one strategy's cadence until ctx is canceled: fetch
// -> signals -> risk -> orders -> persistence -> emit, then sleep,
// with error-isolated back-off.
func (e *Engine) runLoop(ctx context.Context, name string, loop *strategyLoop) {
	defer close(loop.done)

	interval := time.Duration(loop.strategy.Timeframe().CycleInterval()) * time.Second
	historyLimit := loop.strategy.Timeframe().DefaultHistoryWindow()
	backoffUnit := interval
	if backoffUnit > 30*time.Second {
		backoffUnit = 30 * time.Second
	}

	consecutiveErrors := 0
	tradesSinceStart := 0

	for {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		outcome, ordersSubmitted := e.runCycle(ctx, name, loop, historyLimit)
		elapsed := time.Since(start)
		metrics.CycleDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		atomic.AddUint64(&e.totalCycles, 1)
		if ordersSubmitted > 0 {
			atomic.AddUint64(&e.totalOrders, uint64(ordersSubmitted))
			tradesSinceStart += ordersSubmitted
		}

		switch outcome {
		case outcomeError:
			metrics.CyclesTotal.WithLabelValues(name).Inc()
			consecutiveErrors++
			metrics.ConsecutiveErrors.WithLabelValues(name).Set(float64(consecutiveErrors))
			if consecutiveErrors >= 5 {
				e.failStrategy(name, loop, consecutiveErrors)
				return
			}
			if !e.sleepCancellable(ctx, backoffUnit*time.Duration(consecutiveErrors)) {
				e.finishStopped(name, loop)
				return
			}
			continue
		case outcomeOK:
			metrics.CyclesTotal.WithLabelValues(name).Inc()
			consecutiveErrors = 0
			metrics.ConsecutiveErrors.WithLabelValues(name).Set(0)
		case outcomeSkip:
			// leave consecutiveErrors untouched: neither a success nor a failure.
		}

		sleepFor := interval - elapsed
		if sleepFor < time.Second {
			sleepFor = time.Second
		}
		if !e.sleepCancellable(ctx, sleepFor) {
			e.finishStopped(name, loop)
			return
		}
	}
	e.finishStopped(name, loop)
}

// sleepCancellable waits for d or ctx cancellation, returning false
// if canceled first.
func (e *Engine) sleepCancellable(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) finishStopped(name string, loop *strategyLoop) {
	_ = loop.stateful.Stop()
	if err := e.store.MarkStrategyRunStopped(loop.runID, time.Now().UTC()); err != nil {
		log.Errorf("engine: marking run stopped for %s: %v", name, err)
	}
	metrics.StrategiesRunning.WithLabelValues(name).Set(0)
	e.emit(models.EventStrategyStopped, map[string]any{"strategy": name})
}

func (e *Engine) failStrategy(name string, loop *strategyLoop, consecutiveErrors int) {
	message := "too many consecutive cycle errors"
	_ = loop.stateful.Fail()
	if err := e.store.MarkStrategyRunErrored(loop.runID, message, time.Now().UTC()); err != nil {
		log.Errorf("engine: marking run errored for %s: %v", name, err)
	}
	metrics.StrategiesRunning.WithLabelValues(name).Set(0)
	e.emit(models.EventStrategyError, map[string]any{
		"strategy":           name,
		"error":              message,
		"consecutive_errors": consecutiveErrors,
	})
}

// runCycle runs one fetch -> signals -> risk -> orders pass for a
// strategy and reports how many orders it submitted and whether the
// pass should count towards the loop's consecutive-error streak. An
// empty bar fetch with no underlying broker error is a quiet market,
// not a failure, and is skipped rather than counted; an empty fetch
// in which at least one symbol's broker call errored is counted as an
// error so a broker that's down for good still trips the loop's
// failure streak.
func (e *Engine) runCycle(ctx context.Context, name string, loop *strategyLoop, historyLimit int) (cycleOutcome, int) {
	s := loop.strategy

	if !s.SkipMarketCheck() && !e.md.IsMarketOpen(ctx) {
		return outcomeSkip, 0
	}

	bars, fetchFailures := e.md.GetBarsForSymbolsDetailed(ctx, s.Symbols(), s.Timeframe(), broker.BarsQuery{Limit: historyLimit})
	if len(bars) == 0 {
		if fetchFailures > 0 {
			log.Warnf("engine: %s: no bars for any symbol this cycle (%d fetch failures), counting as error", name, fetchFailures)
			return outcomeError, 0
		}
		log.Warnf("engine: %s: no bars for any symbol this cycle, skipping", name)
		return outcomeSkip, 0
	}

	signals, err := e.runStrategySignals(loop, s, strategy.Data{Bars: bars})
	if err != nil {
		log.Errorf("engine: %s: calculate_signals: %v", name, err)
		return outcomeError, 0
	}

	actionable := signals.Actionable()
	if len(actionable) > 0 {
		e.emit(models.EventSignalGenerated, map[string]any{"strategy": name, "signals": signals})
	}

	ordersSubmitted := 0
	cycleErrored := false
	for _, symbol := range sortedKeys(actionable) {
		submitted, errored := e.handleSignal(ctx, name, loop, symbol, actionable[symbol])
		if submitted {
			ordersSubmitted++
		}
		if errored {
			cycleErrored = true
		}
	}

	if signalsJSON, err := json.Marshal(signals); err == nil {
		if err := e.store.UpdateStrategyRunSignals(loop.runID, string(signalsJSON), ordersSubmitted); err != nil {
			log.Errorf("engine: %s: updating run signals: %v", name, err)
		}
	}

	e.emit(models.EventCycleCompleted, map[string]any{
		"strategy":         name,
		"signals":          signals,
		"orders_submitted": ordersSubmitted,
	})

	if cycleErrored {
		return outcomeError, ordersSubmitted
	}
	return outcomeOK, ordersSubmitted
}

// runStrategySignals rejects a cycle if the strategy has drifted out
// of RUNNING since the loop started, and flips the strategy to ERROR
// on a CalculateSignals failure before re-raising it.
func (e *Engine) runStrategySignals(loop *strategyLoop, s strategy.Strategy, data strategy.Data) (models.SignalSet, error) {
	if loop.stateful.Status() != models.StrategyRunning {
		return nil, apperr.New(apperr.Invalid, "strategy is not running")
	}
	signals, err := s.CalculateSignals(data)
	if err != nil {
		_ = loop.stateful.Fail()
		return nil, err
	}
	return signals, nil
}

// handleSignal sizes, risk-gates, and (if approved) submits one
// actionable signal. Every signal that reaches the risk gate persists
// a trade row — rejected, broker-errored, or submitted. A signal with
// no available price, a BUY sized to zero (or whose sizing fails), and
// a SELL with no open position (or whose position lookup fails) return
// before the risk gate and write no row.
func (e *Engine) handleSignal(ctx context.Context, strategyName string, loop *strategyLoop, symbol string, sig models.Signal) (submitted, errored bool) {
	side := models.SideBuy
	if sig == models.SignalSell {
		side = models.SideSell
	}

	price, ok := e.md.GetLatestPrice(ctx, symbol)
	if !ok {
		log.Warnf("engine: %s: no price available for %s, skipping signal", strategyName, symbol)
		return false, false
	}

	var qty float64
	if side == models.SideBuy {
		sizedQty, err := e.risk.CalculatePositionSize(ctx, e.broker, symbol, price, 0)
		if err != nil {
			log.Errorf("engine: %s: sizing %s: %v", strategyName, symbol, err)
			return false, true
		}
		if sizedQty <= 0 {
			return false, false
		}
		qty = sizedQty
	} else {
		pos, err := e.broker.GetPosition(ctx, symbol)
		if err != nil {
			log.Errorf("engine: %s: fetching position for %s: %v", strategyName, symbol, err)
			return false, true
		}
		if pos == nil {
			return false, false // no open position: skip silently, no trade row.
		}
		qty = math.Abs(pos.Qty)
	}

	brokerNow := time.Now().UTC()
	decision := e.risk.Evaluate(ctx, e.broker, symbol, side, qty, price, strategyName, brokerNow)
	if !decision.Approved {
		e.recordRejected(strategyName, symbol, side, qty, sig, decision.Reason)
		metrics.RiskRejectionsTotal.WithLabelValues(strategyName, symbol).Inc()
		e.emit(models.EventRiskRejected, map[string]any{
			"strategy": strategyName, "symbol": symbol, "side": side, "qty": qty, "reason": decision.Reason,
		})
		return false, false
	}

	tif := models.TIFDay
	if models.IsCrypto(symbol) {
		tif = models.TIFGTC
	}

	req := models.OrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        models.OrderMarket,
		TimeInForce: tif,
	}
	if bp, ok := loop.strategy.(strategy.BracketProvider); ok {
		if bracket := bp.TakeBracketParams(); bracket != nil {
			req.TakeProfitPrice = bracket.TakeProfit
			req.StopLossPrice = bracket.StopLoss
		}
	}

	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		e.recordBrokerError(strategyName, symbol, side, qty, sig, req, err)
		metrics.OrdersTotal.WithLabelValues(strategyName, string(side), "error").Inc()
		return false, true
	}

	e.recordSubmitted(strategyName, symbol, side, qty, sig, req, order)
	metrics.OrdersTotal.WithLabelValues(strategyName, string(side), string(order.Status)).Inc()
	metrics.SignalsTotal.WithLabelValues(strategyName, string(sig)).Inc()

	if lc, ok := loop.strategy.(strategy.Lifecycle); ok {
		if err := lc.OnTradeExecuted(models.TradeRecord{
			StrategyName: strategyName, Symbol: symbol, Side: side, Qty: qty, Status: models.TradeStatus(order.Status),
			BrokerOrderID: order.ID,
		}); err != nil {
			log.Warnf("engine: %s: on_trade_executed: %v", strategyName, err)
		}
	}

	e.risk.RecordTrade(0, brokerNow)
	e.emit(models.EventOrderSubmitted, map[string]any{
		"strategy": strategyName, "symbol": symbol, "side": side, "qty": qty,
		"price": price, "order_id": order.ID, "status": order.Status,
	})
	return true, false
}

func (e *Engine) recordRejected(strategyName, symbol string, side models.Side, qty float64, sig models.Signal, reason string) {
	rec := models.TradeRecord{
		StrategyName: strategyName, Symbol: symbol, Side: side, Qty: qty,
		Type: models.OrderMarket, Signal: sig, Status: models.TradeRejected,
		Notes: "Risk rejected: " + reason, CreatedAt: time.Now().UTC(),
	}
	if _, err := e.store.RecordTradeAttempt(rec); err != nil {
		log.Errorf("engine: persisting rejected trade for %s/%s: %v", strategyName, symbol, err)
	}
}

func (e *Engine) recordBrokerError(strategyName, symbol string, side models.Side, qty float64, sig models.Signal, req models.OrderRequest, submitErr error) {
	rec := models.TradeRecord{
		StrategyName: strategyName, Symbol: symbol, Side: side, Qty: qty,
		Type: req.Type, TimeInForce: req.TimeInForce, Signal: sig, Status: models.TradeError,
		Notes: "Broker error: " + submitErr.Error(), CreatedAt: time.Now().UTC(),
	}
	if _, err := e.store.RecordTradeAttempt(rec); err != nil {
		log.Errorf("engine: persisting errored trade for %s/%s: %v", strategyName, symbol, err)
	}
}

func (e *Engine) recordSubmitted(strategyName, symbol string, side models.Side, qty float64, sig models.Signal, req models.OrderRequest, order models.Order) {
	now := time.Now().UTC()
	rec := models.TradeRecord{
		StrategyName: strategyName, Symbol: symbol, Side: side, Qty: qty,
		Type: req.Type, TimeInForce: req.TimeInForce, Signal: sig,
		Status: models.TradeStatus(order.Status), BrokerOrderID: order.ID,
		FilledAvgPrice: order.FilledAvgPrice, CreatedAt: now, SubmittedAt: &now, FilledAt: order.FilledAt,
	}
	if order.FilledQty != 0 {
		rec.FilledQty = &order.FilledQty
	}
	if _, err := e.store.RecordTradeAttempt(rec); err != nil {
		log.Errorf("engine: persisting submitted trade for %s/%s: %v", strategyName, symbol, err)
	}
}

func sortedKeys(m map[string]models.Signal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
