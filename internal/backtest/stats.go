package backtest

import "math"

// buildResult dedups the equity curve, derives returns, and computes
// the full stats block for a finished run.
func (r *runState) buildResult() *Result {
	curve := dedupEquityCurve(r.equityCurve)
	finalEquity := r.cfg.InitialCapital
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}

	return &Result{
		StrategyName: r.cfg.StrategyName,
		EquityCurve:  curve,
		ClosedTrades: r.closed,
		FinalEquity:  finalEquity,
		Stats:        computeStats(curve, r.closed, r.cfg.InitialCapital),
	}
}

// dedupEquityCurve keeps the latest sample for each timestamp, in
// ascending order.
func dedupEquityCurve(curve []EquityPoint) []EquityPoint {
	byTS := make(map[int64]EquityPoint, len(curve))
	order := make([]int64, 0, len(curve))
	for _, p := range curve {
		key := p.Timestamp.UnixNano()
		if _, seen := byTS[key]; !seen {
			order = append(order, key)
		}
		byTS[key] = p
	}
	out := make([]EquityPoint, len(order))
	for i, key := range order {
		out[i] = byTS[key]
	}
	return out
}

func returnsOf(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

const tradingDaysPerYear = 252

// computeStats derives the return/risk half of Stats from the equity
// curve, then fills in the trade-level half from the closed trades.
func computeStats(curve []EquityPoint, closed []ClosedTrade, initialCapital float64) Stats {
	var s Stats
	if len(curve) == 0 || initialCapital <= 0 {
		return s
	}

	finalEquity := curve[len(curve)-1].Equity
	totalReturn := (finalEquity - initialCapital) / initialCapital
	s.TotalReturnPct = totalReturn * 100

	years := yearsSpan(curve)
	switch {
	case totalReturn <= -1:
		s.AnnualizedReturnPct = -100
	default:
		s.AnnualizedReturnPct = (math.Pow(1+totalReturn, 1/years) - 1) * 100
	}

	rets := returnsOf(curve)
	sd := stddev(rets)
	s.AnnualizedVolatilityPct = sd * math.Sqrt(tradingDaysPerYear) * 100
	if sd == 0 {
		s.Sharpe = 0
	} else {
		s.Sharpe = mean(rets) / sd * math.Sqrt(tradingDaysPerYear)
	}

	s.MaxDrawdownPct = maxDrawdownPct(curve)

	tradeStats(&s, closed)
	return s
}

// yearsSpan computes the curve's span in years, floored at one day.
func yearsSpan(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 1.0 / 365.25
	}
	days := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24
	years := days / 365.25
	if years < 1.0/365.25 {
		return 1.0 / 365.25
	}
	return years
}

// maxDrawdownPct walks the running cummax of the equity curve and
// returns the largest peak-to-trough decline, as a positive percentage.
func maxDrawdownPct(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	var worst float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.Equity) / peak
		if dd > worst {
			worst = dd
		}
	}
	return worst * 100
}

// tradeStats fills in the trade-level half of Stats from the closed
// trade ledger, in exit-time order so streaks are chronological.
func tradeStats(s *Stats, closed []ClosedTrade) {
	s.TotalTrades = len(closed)
	if len(closed) == 0 {
		return
	}

	var (
		pnlSum, commissionSum, barsHeldSum float64
		winStreak, loseStreak              int
	)
	for _, t := range closed {
		pnlSum += t.PnL
		commissionSum += t.Commission
		barsHeldSum += float64(t.BarsHeld)

		switch {
		case t.PnL > 0:
			s.WinningTrades++
			s.GrossProfit += t.PnL
			if s.BestTrade == 0 || t.PnL > s.BestTrade {
				s.BestTrade = t.PnL
			}
			winStreak++
			loseStreak = 0
		case t.PnL < 0:
			s.LosingTrades++
			s.GrossLoss += -t.PnL
			if s.WorstTrade == 0 || t.PnL < s.WorstTrade {
				s.WorstTrade = t.PnL
			}
			loseStreak++
			winStreak = 0
		default:
			winStreak, loseStreak = 0, 0
		}
		if winStreak > s.LongestWinningStreak {
			s.LongestWinningStreak = winStreak
		}
		if loseStreak > s.LongestLosingStreak {
			s.LongestLosingStreak = loseStreak
		}
	}

	s.WinRatePct = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	s.AvgPnL = pnlSum / float64(s.TotalTrades)
	s.TotalCommission = commissionSum
	s.AvgBarsHeld = barsHeldSum / float64(s.TotalTrades)
	if s.WinningTrades > 0 {
		s.AvgWinner = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoser = -s.GrossLoss / float64(s.LosingTrades)
	}
	if s.GrossLoss == 0 {
		if s.GrossProfit > 0 {
			s.ProfitFactor = math.Inf(1)
		}
	} else {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
}
