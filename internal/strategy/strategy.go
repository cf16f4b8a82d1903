// Package strategy defines the pluggable strategy contract and a
// compile-time registry. Unlike a runtime classpath scan, Go has no
// reflection-friendly module discovery convention, so the registry is
// populated by each strategy file's own init(). Lifecycle state is
// tracked through the embedded models.StrategyStateMachine.
package strategy

import (
	"fmt"
	"sync"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "strategy")

// Parameters is a strategy's tunable configuration, keyed by
// parameter name. Values are concrete types (float64, int, string,
// bool) — JSON-marshalable for persistence in a StrategyRun row.
type Parameters map[string]any

// Data is the per-cycle input handed to CalculateSignals: one bar
// series per configured symbol, already fetched at the strategy's
// declared timeframe.
type Data struct {
	Bars map[string]models.BarSeries
}

// Strategy is the polymorphic capability every concrete strategy
// implements.
type Strategy interface {
	Name() string
	Description() string
	Symbols() []string
	Timeframe() models.Timeframe
	// SkipMarketCheck reports whether the engine should bypass the
	// market-hours gate before running a cycle (true for crypto/24h
	// strategies).
	SkipMarketCheck() bool

	GetParameters() Parameters
	CalculateSignals(data Data) (models.SignalSet, error)
}

// ParameterUpdater is implemented by every concrete strategy through
// its embedded *Base; the API layer type-asserts against it rather
// than widening Strategy, keeping parameter mutation out of the core
// contract every strategy body must read.
type ParameterUpdater interface {
	UpdateParameters(Parameters)
}

// BracketProvider is implemented by any strategy embedding *Base (via
// its TakeBracketParams method); the engine checks for it with a type
// assertion rather than widening the core Strategy interface.
type BracketProvider interface {
	TakeBracketParams() *BracketParams
}

// Lifecycle is implemented by strategies that want start/stop/
// trade-executed hooks; all three are optional.
type Lifecycle interface {
	OnStart() error
	OnStop() error
	OnTradeExecuted(trade models.TradeRecord) error
}

// Base embeds the shared bookkeeping every concrete strategy composes:
// the status state machine and a parameter map guarded by a mutex so
// concurrent reads (e.g. from the dashboard API) never race a running
// cycle's update_parameters call.
type Base struct {
	name        string
	description string
	symbols     []string
	timeframe   models.Timeframe
	skipMarket  bool

	mu       sync.Mutex
	params   Parameters
	sm       *models.StrategyStateMachine
	bracket  *BracketParams
}

// BracketParams is an optional take-profit/stop-loss pair a strategy
// attaches to itself ahead of a signal; the engine reads and clears it
// once per actionable order.
type BracketParams struct {
	TakeProfit *float64
	StopLoss   *float64
}

// NewBase constructs the shared strategy bookkeeping. It panics if
// symbols is empty: a strategy without at least one symbol is invalid,
// a construction-time invariant rather than a runtime error.
func NewBase(name, description string, symbols []string, tf models.Timeframe, skipMarketCheck bool, params Parameters) *Base {
	if len(symbols) == 0 {
		panic(fmt.Sprintf("strategy %q: declares no symbols", name))
	}
	return &Base{
		name:        name,
		description: description,
		symbols:     symbols,
		timeframe:   tf,
		skipMarket:  skipMarketCheck,
		params:      params,
		sm:          models.NewStrategyStateMachine(),
	}
}

func (b *Base) Name() string                  { return b.name }
func (b *Base) Description() string           { return b.description }
func (b *Base) Symbols() []string             { return b.symbols }
func (b *Base) Timeframe() models.Timeframe   { return b.timeframe }
func (b *Base) SkipMarketCheck() bool         { return b.skipMarket }

// GetParameters returns a copy of the current parameter map.
func (b *Base) GetParameters() Parameters {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(Parameters, len(b.params))
	for k, v := range b.params {
		out[k] = v
	}
	return out
}

// UpdateParameters updates only keys already present in the parameter
// map; unknown keys are ignored with a warning.
func (b *Base) UpdateParameters(updates Parameters) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range updates {
		if _, known := b.params[k]; !known {
			log.Warnf("strategy %s: ignoring unknown parameter %q", b.name, k)
			continue
		}
		b.params[k] = v
	}
}

// SetBracketParams attaches a take-profit/stop-loss pair that the
// engine will fold into the next submit_order call for this strategy.
func (b *Base) SetBracketParams(p *BracketParams) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bracket = p
}

// TakeBracketParams returns the attached bracket params, if any, and
// clears them — each attachment is consumed by exactly one order.
func (b *Base) TakeBracketParams() *BracketParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.bracket
	b.bracket = nil
	return p
}

// Status returns the current lifecycle state.
func (b *Base) Status() models.StrategyStatus { return b.sm.Status() }

// Start transitions IDLE/STOPPED -> RUNNING.
func (b *Base) Start() error { return b.sm.Transition(models.StrategyRunning) }

// Stop transitions RUNNING -> STOPPED.
func (b *Base) Stop() error { return b.sm.Transition(models.StrategyStopped) }

// Fail transitions RUNNING -> ERROR, preserving the triggering cause
// for the caller to log/persist.
func (b *Base) Fail() error { return b.sm.Transition(models.StrategyError) }

// Registration is one entry in the compile-time registry: a factory
// that produces a fresh Strategy instance with default parameters.
type Registration struct {
	Name    string
	Factory func() Strategy
}

var (
	registryMu    sync.Mutex
	registrations []Registration
	singletons    = make(map[string]Strategy)
)

// Register adds a strategy factory to the registry. Duplicate names
// warn (not fail) and the last registration wins. Called from each
// strategy file's init().
func Register(name string, factory func() Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, r := range registrations {
		if r.Name == name {
			log.Warnf("strategy: duplicate registration for %q, last one wins", name)
			registrations[i] = Registration{Name: name, Factory: factory}
			delete(singletons, name)
			return
		}
	}
	registrations = append(registrations, Registration{Name: name, Factory: factory})
}

// Registered lists every registered strategy name.
func Registered() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, len(registrations))
	for i, r := range registrations {
		out[i] = r.Name
	}
	return out
}

// GetStrategy is a singleton-per-name factory: the first call builds
// the instance, subsequent calls return the same one.
func GetStrategy(name string) (Strategy, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := singletons[name]; ok {
		return s, nil
	}
	for _, r := range registrations {
		if r.Name == name {
			s := r.Factory()
			singletons[name] = s
			return s, nil
		}
	}
	return nil, fmt.Errorf("strategy: unknown strategy %q", name)
}

// CreateStrategy returns a fresh, non-cached instance — used by the
// backtester so concurrent backtest runs never share strategy state.
func CreateStrategy(name string) (Strategy, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, r := range registrations {
		if r.Name == name {
			return r.Factory(), nil
		}
	}
	return nil, fmt.Errorf("strategy: unknown strategy %q", name)
}
