package broker

import (
	"context"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
)

// CircuitBreakerSettings configures the breaker; exposed so tests can
// use a fast-tripping configuration instead of the production defaults.
type CircuitBreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ConsecutiveFailures trips the breaker after this many consecutive
	// failed calls.
	ConsecutiveFailures uint32
}

// DefaultCircuitBreakerSettings trips after 5 consecutive failures and
// probes again after 30s — generous enough that a single slow venue
// blip never fails a whole trading cycle.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	Name:                "broker",
	MaxRequests:         1,
	Interval:            60 * time.Second,
	Timeout:             30 * time.Second,
	ConsecutiveFailures: 5,
}

// CircuitBreakerBroker wraps a Broker with a gobreaker.CircuitBreaker
// so a run of transient failures fails fast instead of hammering a
// struggling venue.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreakerBroker wraps inner with DefaultCircuitBreakerSettings.
func NewCircuitBreakerBroker(inner Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(inner, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerBrokerWithSettings wraps inner with custom settings.
func NewCircuitBreakerBrokerWithSettings(inner Broker, s CircuitBreakerSettings) *CircuitBreakerBroker {
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
	}
	return &CircuitBreakerBroker{broker: inner, breaker: gobreaker.NewCircuitBreaker[any](st)}
}

func run[T any](cb *CircuitBreakerBroker, fn func() (T, error)) (T, error) {
	var zero T
	v, err := cb.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, newTransient("broker circuit breaker open", err)
		}
		return zero, err
	}
	return v.(T), nil
}

// GetAccount implements Broker.
func (cb *CircuitBreakerBroker) GetAccount(ctx context.Context) (models.Account, error) {
	return run(cb, func() (models.Account, error) { return cb.broker.GetAccount(ctx) })
}

// SubmitOrder implements Broker.
func (cb *CircuitBreakerBroker) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	return run(cb, func() (models.Order, error) { return cb.broker.SubmitOrder(ctx, req) })
}

// GetOrder implements Broker.
func (cb *CircuitBreakerBroker) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return run(cb, func() (models.Order, error) { return cb.broker.GetOrder(ctx, id) })
}

// GetOrders implements Broker.
func (cb *CircuitBreakerBroker) GetOrders(ctx context.Context, status OrderQuery, limit int) ([]models.Order, error) {
	return run(cb, func() ([]models.Order, error) { return cb.broker.GetOrders(ctx, status, limit) })
}

// CancelOrder implements Broker.
func (cb *CircuitBreakerBroker) CancelOrder(ctx context.Context, id string) error {
	_, err := run(cb, func() (struct{}, error) { return struct{}{}, cb.broker.CancelOrder(ctx, id) })
	return err
}

// CancelAllOrders implements Broker.
func (cb *CircuitBreakerBroker) CancelAllOrders(ctx context.Context) error {
	_, err := run(cb, func() (struct{}, error) { return struct{}{}, cb.broker.CancelAllOrders(ctx) })
	return err
}

// GetPositions implements Broker.
func (cb *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	return run(cb, func() ([]models.Position, error) { return cb.broker.GetPositions(ctx) })
}

// GetPosition implements Broker.
func (cb *CircuitBreakerBroker) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	return run(cb, func() (*models.Position, error) { return cb.broker.GetPosition(ctx, symbol) })
}

// ClosePosition implements Broker.
func (cb *CircuitBreakerBroker) ClosePosition(ctx context.Context, symbol string) (models.Order, error) {
	return run(cb, func() (models.Order, error) { return cb.broker.ClosePosition(ctx, symbol) })
}

// CloseAllPositions implements Broker.
func (cb *CircuitBreakerBroker) CloseAllPositions(ctx context.Context) ([]models.Order, error) {
	return run(cb, func() ([]models.Order, error) { return cb.broker.CloseAllPositions(ctx) })
}

// GetBars implements Broker.
func (cb *CircuitBreakerBroker) GetBars(ctx context.Context, symbol string, tf models.Timeframe, q BarsQuery) (models.BarSeries, error) {
	return run(cb, func() (models.BarSeries, error) { return cb.broker.GetBars(ctx, symbol, tf, q) })
}

// GetLatestPrice implements Broker.
func (cb *CircuitBreakerBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return run(cb, func() (float64, error) { return cb.broker.GetLatestPrice(ctx, symbol) })
}

// IsMarketOpen implements Broker.
func (cb *CircuitBreakerBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return run(cb, func() (bool, error) { return cb.broker.IsMarketOpen(ctx) })
}
