package models

import "time"

// StrategyRun is opened when a strategy is started and tracks one
// activation through to stop/error.
type StrategyRun struct {
	ID              int64
	Name            string
	Status          StrategyRunStatus
	Symbols         []string
	Timeframe       Timeframe
	ParametersJSON  string
	LastSignalJSON  string
	ErrorMessage    string
	StartedAt       time.Time
	StoppedAt       *time.Time
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	TotalPnL        float64
}

// TradeStatus is the outcome of one order attempt, persisted
// regardless of whether the broker ultimately accepted it.
type TradeStatus string

// Trade statuses.
const (
	TradePending          TradeStatus = "pending"
	TradeSubmitted        TradeStatus = "submitted"
	TradeFilled           TradeStatus = "filled"
	TradePartiallyFilled  TradeStatus = "partially_filled"
	TradeCanceled         TradeStatus = "canceled"
	TradeRejected         TradeStatus = "rejected"
	TradeError            TradeStatus = "error"
)

// TradeRecord is persisted for every order the engine attempts,
// whether submitted, rejected by risk, or erroring at the broker.
type TradeRecord struct {
	ID               int64
	StrategyName     string
	Symbol           string
	Side             Side
	Qty              float64
	Type             OrderType
	TimeInForce      TimeInForce
	LimitPrice       *float64
	StopPrice        *float64
	FilledAvgPrice   *float64
	FilledQty        *float64
	Status           TradeStatus
	BrokerOrderID    string
	Signal           Signal
	RealizedPnL      *float64
	Notes            string
	CreatedAt        time.Time
	SubmittedAt      *time.Time
	FilledAt         *time.Time
}

// PerformanceSnapshot is a periodic accounting row; StrategyName empty
// means the global portfolio.
type PerformanceSnapshot struct {
	ID            int64
	StrategyName  string
	Timestamp     time.Time
	Equity        *float64
	Cash          *float64
	BuyingPower   *float64
	TotalPnL      float64
	DailyPnL      float64
	UnrealizedPnL *float64
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       *float64
	Sharpe        *float64
	MaxDD         *float64
}
