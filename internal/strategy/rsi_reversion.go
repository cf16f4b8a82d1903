package strategy

import (
	"github.com/dlanglois/ironclad-trader/internal/indicators"
	"github.com/dlanglois/ironclad-trader/internal/models"
)

func init() {
	Register("rsi_reversion", func() Strategy { return NewRSIReversion(nil, models.TF15Min, nil) })
}

// RSIReversion buys the bar RSI crosses below the oversold threshold
// and sells the bar it crosses above the overbought threshold — a
// mean-reversion counterpart to SMACrossover's trend-following
// approach. The neutral zone, and any bar where RSI stays on one side
// of a threshold it already crossed, both hold: only the crossing bar
// itself ever triggers.
type RSIReversion struct {
	*Base
}

// NewRSIReversion builds the strategy with overridable symbols/
// timeframe/parameters.
func NewRSIReversion(symbols []string, tf models.Timeframe, params Parameters) *RSIReversion {
	if len(symbols) == 0 {
		symbols = []string{"SPY"}
	}
	merged := Parameters{"period": 14, "oversold": 30.0, "overbought": 70.0}
	for k, v := range params {
		merged[k] = v
	}
	return &RSIReversion{
		Base: NewBase("rsi_reversion", "Buys on RSI oversold, sells on RSI overbought", symbols, tf, false, merged),
	}
}

// CalculateSignals implements Strategy.
func (s *RSIReversion) CalculateSignals(data Data) (models.SignalSet, error) {
	params := s.GetParameters()
	period := intParam(params, "period", 14)
	oversold := floatParam(params, "oversold", 30.0)
	overbought := floatParam(params, "overbought", 70.0)

	out := make(models.SignalSet, len(s.Symbols()))
	for _, sym := range s.Symbols() {
		bars, ok := data.Bars[sym]
		if !ok || bars.Len() < period+2 {
			out[sym] = models.SignalHold
			continue
		}
		closes := bars.Closes()
		rsi := indicators.RSI(closes, period)
		i := len(rsi) - 1
		prev, now := rsi[i-1], rsi[i]
		switch {
		case prev >= oversold && now < oversold:
			out[sym] = models.SignalBuy
		case prev <= overbought && now > overbought:
			out[sym] = models.SignalSell
		default:
			out[sym] = models.SignalHold
		}
	}
	return out, nil
}
