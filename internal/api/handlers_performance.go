package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/go-chi/chi/v5"
)

// handleGlobalPerformance serves GET /api/performance: the most recent
// global (strategy = null) performance snapshots.
func (s *Server) handleGlobalPerformance(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 100)
	snaps, err := s.store.ListPerformanceSnapshots("", nil, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list performance snapshots", err))
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// engineStatusView is the JSON shape for GET /api/performance/engine-status.
type engineStatusView struct {
	Status           string   `json:"status"`
	ActiveStrategies []string `json:"active_strategies"`
	TotalCycles      uint64   `json:"total_cycles"`
	TotalOrders      uint64   `json:"total_orders"`
}

// handleEngineStatus serves GET /api/performance/engine-status.
func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	cycles, orders := s.eng.Counters()
	writeJSON(w, http.StatusOK, engineStatusView{
		Status:           string(s.eng.Status()),
		ActiveStrategies: s.eng.ActiveStrategies(),
		TotalCycles:      cycles,
		TotalOrders:      orders,
	})
}

// handleStrategyPerformance serves GET /api/performance/strategy/:name.
func (s *Server) handleStrategyPerformance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := limitParam(r, 100)
	snaps, err := s.store.ListPerformanceSnapshots(name, nil, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list strategy performance snapshots", err))
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// equityPoint is one (timestamp, equity) sample of the curve
// reconstructed from persisted performance snapshots.
type equityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// handleEquityCurve serves GET /api/performance/equity-curve[/:name]:
// the ascending, deduplicated-by-timestamp equity series.
func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snaps, err := s.store.ListPerformanceSnapshots(name, nil, limitParam(r, 500))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list equity curve snapshots", err))
		return
	}
	byTS := make(map[int64]float64, len(snaps))
	for _, snap := range snaps {
		if snap.Equity == nil {
			continue
		}
		byTS[snap.Timestamp.Unix()] = *snap.Equity
	}
	curve := make([]equityPoint, 0, len(byTS))
	for ts, eq := range byTS {
		curve = append(curve, equityPoint{Timestamp: time.Unix(ts, 0).UTC(), Equity: eq})
	}
	sort.Slice(curve, func(i, j int) bool { return curve[i].Timestamp.Before(curve[j].Timestamp) })
	writeJSON(w, http.StatusOK, curve)
}

// handleStrategyRuns serves GET /api/performance/strategy-runs[/:name].
func (s *Server) handleStrategyRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	runs, err := s.store.ListStrategyRuns(name, limitParam(r, 50))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list strategy runs", err))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func limitParam(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
