package models

import "time"

// Side is the direction of an order.
type Side string

// Order sides.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the order shapes the broker adapter accepts.
type OrderType string

// Order types.
const (
	OrderMarket        OrderType = "market"
	OrderLimit         OrderType = "limit"
	OrderStop          OrderType = "stop"
	OrderStopLimit     OrderType = "stop_limit"
	OrderTrailingStop  OrderType = "trailing_stop"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

// Time-in-force values.
const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

// Order statuses.
const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderErrored         OrderStatus = "error"
)

// Order is the broker's view of a submitted order. A bracket order
// additionally carries TakeProfitPrice/StopLossPrice; on parent fill
// the broker itself arms the OCO children — the core never manages
// them.
type Order struct {
	ID               string
	Symbol           string
	Side             Side
	Type             OrderType
	Qty              float64
	TimeInForce      TimeInForce
	Status           OrderStatus
	FilledQty        float64
	FilledAvgPrice   *float64
	LimitPrice       *float64
	StopPrice        *float64
	TakeProfitPrice  *float64
	StopLossPrice    *float64
	CreatedAt        time.Time
	FilledAt         *time.Time
}

// IsBracket reports whether the order carries OCO take-profit/stop-loss
// children.
func (o Order) IsBracket() bool {
	return o.TakeProfitPrice != nil || o.StopLossPrice != nil
}

// OrderRequest is the input to Broker.SubmitOrder.
type OrderRequest struct {
	Symbol          string
	Qty             float64
	Side            Side
	Type            OrderType
	TimeInForce     TimeInForce
	LimitPrice      *float64
	StopPrice       *float64
	TakeProfitPrice *float64
	StopLossPrice   *float64
}
