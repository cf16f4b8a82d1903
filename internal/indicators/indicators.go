// Package indicators implements pure, vectorized OHLCV transforms.
// Every function returns slices aligned index-for-index with its
// input; when the input is too short for the requested period it
// returns an all-NaN series and logs a warning rather than failing — strategies are expected to treat a
// NaN indicator value as "not enough history yet" (see
// internal/strategy's HOLD-until-warm-up convention).
//
// There is no ecosystem numerics library in the retrieval pack shaped
// for single-series technical-indicator arithmetic (see DESIGN.md);
// these are plain float64 slices.
package indicators

import (
	"math"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "indicators")

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA computes the simple moving average over period bars.
func SMA(closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period {
		log.Warnf("SMA: need %d closes, have %d; returning NaN series", period, n)
		return nanSeries(n)
	}
	out := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		sum += closes[i]
		if i >= period {
			sum -= closes[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA computes the exponential moving average with the standard
// smoothing factor alpha = 2/(period+1), seeded by the SMA of the
// first `period` closes.
func EMA(closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period {
		log.Warnf("EMA: need %d closes, have %d; returning NaN series", period, n)
		return nanSeries(n)
	}
	out := make([]float64, n)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	seed := sum / float64(period)
	out[period-1] = seed
	alpha := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < n; i++ {
		v := (closes[i]-prev)*alpha + prev
		out[i] = v
		prev = v
	}
	return out
}

// RSI computes the Relative Strength Index using Wilder smoothing of
// up/down moves.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		log.Warnf("RSI: need %d closes, have %d; returning NaN series", period+1, n)
		return nanSeries(n)
	}
	out := nanSeries(n)

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the MACD line, signal line, and histogram using the
// standard 12/26/9 construction (fast, slow, signal periods supplied
// by the caller).
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	n := len(closes)
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line = make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			line[i] = math.NaN()
			continue
		}
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(line[i]) || math.IsNaN(sig[i]) {
			hist[i] = math.NaN()
			continue
		}
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// Stochastic returns %K and %D over the given lookback and smoothing.
func Stochastic(high, low, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := len(closes)
	k = nanSeries(n)
	if kPeriod <= 0 || n < kPeriod {
		log.Warnf("Stochastic: need %d bars, have %d; returning NaN series", kPeriod, n)
		return k, nanSeries(n)
	}
	for i := kPeriod - 1; i < n; i++ {
		hh, ll := high[i-kPeriod+1], low[i-kPeriod+1]
		for j := i - kPeriod + 2; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = (closes[i] - ll) / (hh - ll) * 100
	}
	d = SMA(k, dPeriod)
	return k, d
}

// BollingerBands returns the middle (SMA), upper, and lower bands at
// numStdDev standard deviations.
func BollingerBands(closes []float64, period int, numStdDev float64) (mid, upper, lower []float64) {
	n := len(closes)
	mid = SMA(closes, period)
	upper = nanSeries(n)
	lower = nanSeries(n)
	if period <= 0 || n < period {
		return mid, upper, lower
	}
	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
		var sumSq float64
		for _, c := range window {
			d := c - mid[i]
			sumSq += d * d
		}
		sd := math.Sqrt(sumSq / float64(period))
		upper[i] = mid[i] + numStdDev*sd
		lower[i] = mid[i] - numStdDev*sd
	}
	return mid, upper, lower
}

// ATR computes the Average True Range with Wilder smoothing.
func ATR(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		log.Warnf("ATR: need %d bars, have %d; returning NaN series", period+1, n)
		return nanSeries(n)
	}
	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
	}
	out := nanSeries(n)
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	avg := sum / float64(period)
	out[period] = avg
	for i := period + 1; i < n; i++ {
		avg = (avg*float64(period-1) + tr[i]) / float64(period)
		out[i] = avg
	}
	return out
}

// ADX computes the Average Directional Index plus +DI/-DI, Wilder
// smoothed.
func ADX(high, low, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	adx = nanSeries(n)
	plusDI = nanSeries(n)
	minusDI = nanSeries(n)
	if period <= 0 || n < 2*period {
		log.Warnf("ADX: need %d bars, have %d; returning NaN series", 2*period, n)
		return adx, plusDI, minusDI
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
	}

	var smoothTR, smoothPlusDM, smoothMinusDM float64
	for i := 1; i <= period; i++ {
		smoothTR += tr[i]
		smoothPlusDM += plusDM[i]
		smoothMinusDM += minusDM[i]
	}

	dxs := nanSeries(n)
	for i := period; i < n; i++ {
		if i > period {
			smoothTR = smoothTR - smoothTR/float64(period) + tr[i]
			smoothPlusDM = smoothPlusDM - smoothPlusDM/float64(period) + plusDM[i]
			smoothMinusDM = smoothMinusDM - smoothMinusDM/float64(period) + minusDM[i]
		}
		if smoothTR == 0 {
			continue
		}
		pdi := 100 * smoothPlusDM / smoothTR
		mdi := 100 * smoothMinusDM / smoothTR
		plusDI[i] = pdi
		minusDI[i] = mdi
		if pdi+mdi > 0 {
			dxs[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
		}
	}

	// ADX is the Wilder-smoothed average of DX, starting 2*period in.
	start := 2 * period
	if start >= n {
		return adx, plusDI, minusDI
	}
	var sum float64
	count := 0
	for i := period; i < start && i < n; i++ {
		if !math.IsNaN(dxs[i]) {
			sum += dxs[i]
			count++
		}
	}
	if count == 0 {
		return adx, plusDI, minusDI
	}
	avg := sum / float64(count)
	adx[start-1] = avg
	for i := start; i < n; i++ {
		if math.IsNaN(dxs[i]) {
			continue
		}
		avg = (avg*float64(period-1) + dxs[i]) / float64(period)
		adx[i] = avg
	}
	return adx, plusDI, minusDI
}

// OBV computes On-Balance Volume.
func OBV(closes, volume []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volume[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// VWAP computes the cumulative volume-weighted average price over the
// whole series (callers wanting a session-reset VWAP should slice the
// input to one session first).
func VWAP(high, low, closes, volume []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	var cumPV, cumV float64
	for i := 0; i < n; i++ {
		typical := (high[i] + low[i] + closes[i]) / 3
		cumPV += typical * volume[i]
		cumV += volume[i]
		if cumV == 0 {
			out[i] = typical
			continue
		}
		out[i] = cumPV / cumV
	}
	return out
}

// CrossesAbove reports whether series a crosses above series b at the
// current index i: a[i-1] <= b[i-1] && a[i] > b[i]. i == 0 is never a crossover.
func CrossesAbove(a, b []float64, i int) bool {
	if i <= 0 || i >= len(a) || i >= len(b) {
		return false
	}
	if math.IsNaN(a[i-1]) || math.IsNaN(b[i-1]) || math.IsNaN(a[i]) || math.IsNaN(b[i]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// CrossesBelow is the mirror of CrossesAbove.
func CrossesBelow(a, b []float64, i int) bool {
	if i <= 0 || i >= len(a) || i >= len(b) {
		return false
	}
	if math.IsNaN(a[i-1]) || math.IsNaN(b[i-1]) || math.IsNaN(a[i]) || math.IsNaN(b[i]) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}

// Common bundles the indicators add_common_indicators conventionally
// computes for a strategy: SMA(20), SMA(50), RSI(14), MACD(12,26,9).
type Common struct {
	SMA20       []float64
	SMA50       []float64
	RSI14       []float64
	MACDLine    []float64
	MACDSignal  []float64
	MACDHist    []float64
}

// AddCommonIndicators computes the Common bundle over closes, a
// convenience aggregate of the indicators strategies reach for most.
func AddCommonIndicators(closes []float64) Common {
	line, sig, hist := MACD(closes, 12, 26, 9)
	return Common{
		SMA20:      SMA(closes, 20),
		SMA50:      SMA(closes, 50),
		RSI14:      RSI(closes, 14),
		MACDLine:   line,
		MACDSignal: sig,
		MACDHist:   hist,
	}
}
