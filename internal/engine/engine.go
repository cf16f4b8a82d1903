// Package engine implements the trading engine: one
// scheduling loop per active strategy, cycle orchestration through
// the risk gate and broker, event emission, and persistence of every
// order attempt. Each active strategy runs its own ticker loop and
// single-cycle method, isolated from the others by its own
// cancellation, so a failure in one strategy never blocks another's.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/broker"
	"github.com/dlanglois/ironclad-trader/internal/eventbus"
	"github.com/dlanglois/ironclad-trader/internal/marketdata"
	"github.com/dlanglois/ironclad-trader/internal/metrics"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/dlanglois/ironclad-trader/internal/persistence"
	"github.com/dlanglois/ironclad-trader/internal/risk"
	"github.com/dlanglois/ironclad-trader/internal/strategy"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "engine")

// shutdownTimeout bounds how long Stop waits for every strategy loop
// to unwind before giving up.
const shutdownTimeout = 30 * time.Second

// statefulStrategy is satisfied by every concrete strategy through
// its embedded *strategy.Base; the engine asserts against it rather
// than widening strategy.Strategy, keeping the lifecycle mutation
// surface private to this package.
type statefulStrategy interface {
	Status() models.StrategyStatus
	Start() error
	Stop() error
	Fail() error
}

// Callback receives every emitted engine event, in subscription
// order. Panics are recovered and logged, never propagated.
type Callback func(models.Event)

type strategyLoop struct {
	strategy strategy.Strategy
	stateful statefulStrategy
	runID    int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// Engine is the composition root's runtime core: it owns the broker,
// market-data service, risk manager, and persistence port for its
// entire lifetime, and hands strategies to per-strategy loops it
// alone starts and stops.
type Engine struct {
	broker broker.Broker
	md     *marketdata.Service
	risk   *risk.Manager
	store  persistence.Port
	bus    *eventbus.Bus

	state *models.EngineStateMachine

	mu    sync.Mutex
	loops map[string]*strategyLoop

	cbMu      sync.Mutex
	callbacks []Callback

	totalCycles uint64
	totalOrders uint64
}

// New builds an Engine in the STOPPED state; call Initialize before
// starting any strategy.
func New(brk broker.Broker, md *marketdata.Service, riskMgr *risk.Manager, store persistence.Port, bus *eventbus.Bus) *Engine {
	return &Engine{
		broker: brk,
		md:     md,
		risk:   riskMgr,
		store:  store,
		bus:    bus,
		state:  models.NewEngineStateMachine(),
		loops:  make(map[string]*strategyLoop),
	}
}

// Status returns the engine's current lifecycle state.
func (e *Engine) Status() models.EngineStatus { return e.state.Status() }

// Broker exposes the engine's broker handle for the read-only HTTP
// surface — the API layer never constructs its own broker client.
func (e *Engine) Broker() broker.Broker { return e.broker }

// MarketData exposes the engine's market-data service for the same
// read-only HTTP surface's /api/market endpoint.
func (e *Engine) MarketData() *marketdata.Service { return e.md }

// Bus exposes the engine's event bus so the HTTP layer can upgrade
// /ws/live connections against the same fan-out the engine publishes
// through.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Counters returns the engine's monotonic cycle/order totals.
func (e *Engine) Counters() (totalCycles, totalOrders uint64) {
	return atomic.LoadUint64(&e.totalCycles), atomic.LoadUint64(&e.totalOrders)
}

// Subscribe registers cb to receive every future emitted event.
func (e *Engine) Subscribe(cb Callback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Initialize pings the broker (account + market clock) and discovers
// the registered strategies. A broker failure is fatal: the engine
// moves to ERROR and start is refused until the process restarts.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.state.Transition(models.EngineInitializing); err != nil {
		return apperr.Wrap(apperr.Internal, "engine: cannot begin initialize", err)
	}

	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		_ = e.state.Transition(models.EngineError)
		return apperr.Wrap(apperr.Auth, "engine: broker unreachable at initialize", err)
	}

	open, err := e.broker.IsMarketOpen(ctx)
	if err != nil {
		log.Warnf("engine: initialize: market clock check failed: %v", err)
		open = false
	}

	if err := e.state.Transition(models.EngineRunning); err != nil {
		_ = e.state.Transition(models.EngineError)
		return apperr.Wrap(apperr.Internal, "engine: cannot move to running", err)
	}

	e.emit(models.EventEngineStarted, map[string]any{
		"account_id":           account.ID,
		"equity":               account.Equity,
		"strategies_available": strategy.Registered(),
		"market_open":          open,
	})
	return nil
}

// StartStrategy spawns the per-strategy loop for name. It rejects
// duplicates and requires the engine to be RUNNING.
func (e *Engine) StartStrategy(name string) error {
	if e.state.Status() != models.EngineRunning {
		return apperr.ErrEngineNotReady
	}

	s, err := strategy.GetStrategy(name)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, fmt.Sprintf("engine: unknown strategy %q", name), err)
	}
	stateful, ok := s.(statefulStrategy)
	if !ok {
		return apperr.New(apperr.Internal, fmt.Sprintf("engine: strategy %q has no lifecycle state machine", name))
	}

	e.mu.Lock()
	if _, exists := e.loops[name]; exists {
		e.mu.Unlock()
		return apperr.ErrAlreadyRunning
	}
	if err := stateful.Start(); err != nil {
		e.mu.Unlock()
		return apperr.Wrap(apperr.Invalid, fmt.Sprintf("engine: cannot start strategy %q", name), err)
	}

	paramsJSON, _ := json.Marshal(s.GetParameters())
	runID, err := e.store.OpenStrategyRun(name, s.Symbols(), s.Timeframe(), string(paramsJSON), time.Now().UTC())
	if err != nil {
		log.Errorf("engine: persisting strategy run open for %s: %v", name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	loop := &strategyLoop{strategy: s, stateful: stateful, runID: runID, cancel: cancel, done: make(chan struct{})}
	e.loops[name] = loop
	e.mu.Unlock()

	if lc, ok := s.(strategy.Lifecycle); ok {
		if err := lc.OnStart(); err != nil {
			log.Warnf("engine: %s.OnStart: %v", name, err)
		}
	}

	metrics.StrategiesRunning.WithLabelValues(name).Set(1)
	e.emit(models.EventStrategyStarted, map[string]any{
		"strategy":  name,
		"symbols":   s.Symbols(),
		"timeframe": string(s.Timeframe()),
		"run_id":    runID,
	})

	go e.runLoop(loopCtx, name, loop)
	return nil
}

// StopStrategy cancels name's loop and awaits its completion before
// returning; the run row and strategy status are updated by the loop
// itself as it unwinds.
func (e *Engine) StopStrategy(name string) error {
	e.mu.Lock()
	loop, ok := e.loops[name]
	if ok {
		delete(e.loops, name)
	}
	e.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, fmt.Sprintf("engine: strategy %q not running", name))
	}

	loop.cancel()
	<-loop.done
	return nil
}

// ActiveStrategies lists the names of currently-looping strategies.
func (e *Engine) ActiveStrategies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.loops))
	for name := range e.loops {
		out = append(out, name)
	}
	return out
}

// Stop cancels every active strategy loop in parallel, awaits them
// (bounded by shutdownTimeout), and transitions the engine to
// STOPPED. Idempotent.
func (e *Engine) Stop() error {
	if e.state.Status() == models.EngineStopped {
		return nil
	}
	if err := e.state.Transition(models.EngineShuttingDown); err != nil && e.state.Status() != models.EngineShuttingDown {
		return apperr.Wrap(apperr.Internal, "engine: cannot begin shutdown", err)
	}

	names := e.ActiveStrategies()
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := e.StopStrategy(name); err != nil {
				log.Warnf("engine: stop: %s: %v", name, err)
			}
		}(name)
	}
	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(shutdownTimeout):
		log.Warnf("engine: stop: timed out after %s waiting for strategy loops", shutdownTimeout)
	}

	if err := e.state.Transition(models.EngineStopped); err != nil {
		return apperr.Wrap(apperr.Internal, "engine: cannot finish shutdown", err)
	}
	e.emit(models.EventEngineStopped, map[string]any{
		"total_cycles": atomic.LoadUint64(&e.totalCycles),
		"total_orders": atomic.LoadUint64(&e.totalOrders),
	})
	return nil
}

// emit delivers evt to every registered callback (copy-then-iterate,
// panic-isolated) and publishes it onto the event bus for the /ws/live
// fan-out.
func (e *Engine) emit(t models.EventType, payload map[string]any) {
	evt := models.Event{Type: t, Timestamp: time.Now().UTC(), Payload: payload}

	e.cbMu.Lock()
	cbs := make([]Callback, len(e.callbacks))
	copy(cbs, e.callbacks)
	e.cbMu.Unlock()

	for _, cb := range cbs {
		e.safeInvoke(cb, evt)
	}
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}

func (e *Engine) safeInvoke(cb Callback, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("engine: event callback panicked: %v", r)
		}
	}()
	cb(evt)
}
