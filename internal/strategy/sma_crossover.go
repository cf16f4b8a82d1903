package strategy

import (
	"github.com/dlanglois/ironclad-trader/internal/indicators"
	"github.com/dlanglois/ironclad-trader/internal/models"
)

func init() {
	Register("sma_crossover", func() Strategy { return NewSMACrossover(nil, models.TF15Min, nil) })
}

// SMACrossover buys when the fast SMA crosses above the slow SMA and
// sells on the mirror crossunder — the textbook trend-following
// strategy.
type SMACrossover struct {
	*Base
}

// NewSMACrossover builds the strategy with overridable symbols/
// timeframe/parameters; nil symbols defaults to ["SPY"] so the
// registry's zero-arg factory still produces a valid instance.
func NewSMACrossover(symbols []string, tf models.Timeframe, params Parameters) *SMACrossover {
	if len(symbols) == 0 {
		symbols = []string{"SPY"}
	}
	merged := Parameters{"fast_period": 10, "slow_period": 30}
	for k, v := range params {
		merged[k] = v
	}
	return &SMACrossover{
		Base: NewBase("sma_crossover", "Buys on fast/slow SMA crossover, sells on crossunder", symbols, tf, false, merged),
	}
}

// CalculateSignals implements Strategy.
func (s *SMACrossover) CalculateSignals(data Data) (models.SignalSet, error) {
	params := s.GetParameters()
	fast := intParam(params, "fast_period", 10)
	slow := intParam(params, "slow_period", 30)

	out := make(models.SignalSet, len(s.Symbols()))
	for _, sym := range s.Symbols() {
		bars, ok := data.Bars[sym]
		if !ok || bars.Len() < slow+1 {
			out[sym] = models.SignalHold
			continue
		}
		closes := bars.Closes()
		fastSMA := indicators.SMA(closes, fast)
		slowSMA := indicators.SMA(closes, slow)
		i := len(closes) - 1
		switch {
		case indicators.CrossesAbove(fastSMA, slowSMA, i):
			out[sym] = models.SignalBuy
		case indicators.CrossesBelow(fastSMA, slowSMA, i):
			out[sym] = models.SignalSell
		default:
			out[sym] = models.SignalHold
		}
	}
	return out, nil
}

func intParam(p Parameters, key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatParam(p Parameters, key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}
