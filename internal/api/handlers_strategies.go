package api

import (
	"encoding/json"
	"net/http"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/dlanglois/ironclad-trader/internal/strategy"
	"github.com/go-chi/chi/v5"
)

// statusful is implemented by every concrete strategy through its
// embedded *strategy.Base; mirrors engine.statefulStrategy's
// Status() assertion without importing the engine package's
// unexported interface.
type statusful interface {
	Status() models.StrategyStatus
}

// strategyView is the JSON shape for GET /api/strategies[/:name].
type strategyView struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Symbols         []string       `json:"symbols"`
	Timeframe       string         `json:"timeframe"`
	SkipMarketCheck bool           `json:"skip_market_check"`
	Status          string         `json:"status"`
	Parameters      map[string]any `json:"parameters"`
}

func describeStrategy(s strategy.Strategy) strategyView {
	view := strategyView{
		Name:            s.Name(),
		Description:     s.Description(),
		Symbols:         s.Symbols(),
		Timeframe:       string(s.Timeframe()),
		SkipMarketCheck: s.SkipMarketCheck(),
		Status:          string(models.StrategyIdle),
		Parameters:      map[string]any(s.GetParameters()),
	}
	if sf, ok := s.(statusful); ok {
		view.Status = string(sf.Status())
	}
	return view
}

// handleListStrategies serves GET /api/strategies: every registered
// strategy with its current status.
func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	names := strategy.Registered()
	out := make([]strategyView, 0, len(names))
	for _, name := range names {
		inst, err := strategy.GetStrategy(name)
		if err != nil {
			continue
		}
		out = append(out, describeStrategy(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleActiveStrategies serves GET /api/strategies/active.
func (s *Server) handleActiveStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.ActiveStrategies())
}

// handleGetStrategy serves GET /api/strategies/:name.
func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	inst, err := strategy.GetStrategy(name)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "strategy not found", err))
		return
	}
	writeJSON(w, http.StatusOK, describeStrategy(inst))
}

// handleStartStrategy serves POST /api/strategies/:name/start.
func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.eng.StartStrategy(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"strategy": name, "status": "running"})
}

// handleStopStrategy serves POST /api/strategies/:name/stop.
func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.eng.StopStrategy(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"strategy": name, "status": "stopped"})
}

// handleUpdateStrategyParams serves PUT /api/strategies/:name/params:
// updates only the keys already present in the strategy's own
// parameter schema, ignoring unknown keys with a warning.
func (s *Server) handleUpdateStrategyParams(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	inst, err := strategy.GetStrategy(name)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "strategy not found", err))
		return
	}
	updater, ok := inst.(strategy.ParameterUpdater)
	if !ok {
		writeError(w, apperr.New(apperr.Internal, "strategy does not support parameter updates"))
		return
	}

	var updates strategy.Parameters
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, apperr.Wrap(apperr.Invalid, "invalid parameters body", err))
		return
	}
	updater.UpdateParameters(updates)
	writeJSON(w, http.StatusOK, describeStrategy(inst))
}
