package models

import (
	"encoding/json"
	"time"
)

// EventType enumerates the engine's observable lifecycle and trading
// events.
type EventType string

// Event types, engine lifecycle first, then per-cycle trading events.
const (
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventStrategyStarted EventType = "STRATEGY_STARTED"
	EventStrategyStopped EventType = "STRATEGY_STOPPED"
	EventStrategyError   EventType = "STRATEGY_ERROR"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventOrderSubmitted  EventType = "ORDER_SUBMITTED"
	EventRiskRejected    EventType = "RISK_REJECTED"
	EventCycleCompleted  EventType = "CYCLE_COMPLETED"
)

// Event is one emitted occurrence; Payload carries event-specific
// fields (e.g. strategy, signals, reason) on top of Type and
// Timestamp, which every event carries unconditionally.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   map[string]any
}

// MarshalJSON flattens Payload alongside "event" and "timestamp" so
// wire consumers see one object, e.g. {"event":"ORDER_SUBMITTED",
// "timestamp":"...","strategy":"sma_crossover",...} rather than a
// nested payload field.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["event"] = string(e.Type)
	out["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	return json.Marshal(out)
}
