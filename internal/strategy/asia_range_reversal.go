package strategy

import (
	_ "time/tzdata" // embed tzdata so LoadLocation works without host zoneinfo (teacher pattern, cmd/bot/main.go)

	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/sirupsen/logrus"
)

func init() {
	Register("asia_range_reversal", func() Strategy { return NewAsiaRangeReversal(nil, models.TF1Hour, nil) })
}

var madridLocation = mustLoadMadrid()

func mustLoadMadrid() *time.Location {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		logrus.WithField("component", "strategy").Errorf("asia_range_reversal: loading Europe/Madrid: %v; falling back to UTC", err)
		return time.UTC
	}
	return loc
}

// AsiaRangeReversal builds a high/low range from the Asian trading
// session (as seen on a Europe/Madrid wall clock) and fades breakouts
// once that session closes: a close above the range high signals SELL
// (reversion), a close below the range low signals BUY.
//
// The *system clock* (time.Now in Europe/Madrid) decides whether the
// strategy is still in the session-building window or in the
// post-session trading window, while *bar timestamps* (also converted
// to Europe/Madrid) decide which bars belong to today's session when
// building the range.
type AsiaRangeReversal struct {
	*Base
	now func() time.Time
}

// NewAsiaRangeReversal builds the strategy with overridable symbols/
// timeframe/parameters. sessionStartHour/sessionEndHour bound the
// Asian session on a 24h Europe/Madrid clock; defaults (01:00-07:00)
// approximate Tokyo trading hours as seen from Madrid.
func NewAsiaRangeReversal(symbols []string, tf models.Timeframe, params Parameters) *AsiaRangeReversal {
	if len(symbols) == 0 {
		symbols = []string{"BTC/USD"}
	}
	merged := Parameters{"session_start_hour": 1, "session_end_hour": 7}
	for k, v := range params {
		merged[k] = v
	}
	return &AsiaRangeReversal{
		Base: NewBase("asia_range_reversal", "Fades breakouts of the Asian session range", symbols, tf, true, merged),
		now:  time.Now,
	}
}

// CalculateSignals implements Strategy.
func (s *AsiaRangeReversal) CalculateSignals(data Data) (models.SignalSet, error) {
	params := s.GetParameters()
	startHour := intParam(params, "session_start_hour", 1)
	endHour := intParam(params, "session_end_hour", 7)

	nowMadrid := s.now().In(madridLocation)
	inSession := nowMadrid.Hour() >= startHour && nowMadrid.Hour() < endHour

	out := make(models.SignalSet, len(s.Symbols()))
	for _, sym := range s.Symbols() {
		if inSession {
			// Still building today's range; nothing to trade yet.
			out[sym] = models.SignalHold
			continue
		}

		bars, ok := data.Bars[sym]
		if !ok || bars.Empty() {
			out[sym] = models.SignalHold
			continue
		}

		sessionHigh, sessionLow, found := s.todaysSessionRange(bars, nowMadrid, startHour, endHour)
		if !found {
			out[sym] = models.SignalHold
			continue
		}

		latest := bars.Last().Close
		switch {
		case latest > sessionHigh:
			out[sym] = models.SignalSell
		case latest < sessionLow:
			out[sym] = models.SignalBuy
		default:
			out[sym] = models.SignalHold
		}
	}
	return out, nil
}

// todaysSessionRange scans bars (UTC timestamps, per models.Bar) for
// the ones whose Europe/Madrid wall-clock hour falls within
// [startHour, endHour) on the current Madrid calendar day, returning
// their high/low extremes.
func (s *AsiaRangeReversal) todaysSessionRange(bars models.BarSeries, nowMadrid time.Time, startHour, endHour int) (high, low float64, found bool) {
	today := nowMadrid.Format("2006-01-02")
	for _, b := range bars.Bars {
		local := b.Timestamp.In(madridLocation)
		if local.Format("2006-01-02") != today {
			continue
		}
		if local.Hour() < startHour || local.Hour() >= endHour {
			continue
		}
		if !found {
			high, low, found = b.High, b.Low, true
			continue
		}
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low, found
}
