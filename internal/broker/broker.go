// Package broker defines the uniform broker capability
// and a concrete Alpaca-shaped adapter. The Broker interface is the
// only vendor contact surface in the engine: nothing outside this
// package knows a venue-specific enum name or request shape.
package broker

import (
	"context"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
)

// OrderQuery filters Broker.GetOrders.
type OrderQuery string

// Order query filters.
const (
	OrdersOpen   OrderQuery = "open"
	OrdersClosed OrderQuery = "closed"
	OrdersAll    OrderQuery = "all"
)

// BarsQuery bounds Broker.GetBars.
type BarsQuery struct {
	Start *time.Time
	End   *time.Time
	Limit int
}

// Broker is the polymorphic capability the engine, risk manager, and
// market-data service use to talk to a venue. Every method is
// goroutine-safe; implementations must not block the caller beyond the
// underlying network round trip.
type Broker interface {
	GetAccount(ctx context.Context) (models.Account, error)

	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	GetOrders(ctx context.Context, status OrderQuery, limit int) ([]models.Order, error)
	CancelOrder(ctx context.Context, id string) error
	CancelAllOrders(ctx context.Context) error

	GetPositions(ctx context.Context) ([]models.Position, error)
	// GetPosition returns (nil, nil) when symbol has no open position —
	// the absent case is never an error.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	ClosePosition(ctx context.Context, symbol string) (models.Order, error)
	CloseAllPositions(ctx context.Context) ([]models.Order, error)

	GetBars(ctx context.Context, symbol string, tf models.Timeframe, q BarsQuery) (models.BarSeries, error)
	// GetLatestPrice returns ErrUnavailableQuote (kind Invalid) when
	// neither side of a crypto quote is positive.
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)

	IsMarketOpen(ctx context.Context) (bool, error)
}
