package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/dlanglois/ironclad-trader/internal/persistence"
	"github.com/go-chi/chi/v5"
)

// tradeFilterFromQuery builds a persistence.TradeFilter from the
// request's query string: strategy, symbol, side, status, and a
// since/until time window, paginated by limit/offset.
func tradeFilterFromQuery(r *http.Request) (persistence.TradeFilter, error) {
	q := r.URL.Query()
	f := persistence.TradeFilter{
		Strategy: q.Get("strategy"),
		Symbol:   q.Get("symbol"),
		Side:     models.Side(q.Get("side")),
		Status:   models.TradeStatus(q.Get("status")),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return persistence.TradeFilter{}, apperr.Wrap(apperr.Invalid, "invalid since timestamp", err)
		}
		f.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return persistence.TradeFilter{}, apperr.Wrap(apperr.Invalid, "invalid until timestamp", err)
		}
		f.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return persistence.TradeFilter{}, apperr.Wrap(apperr.Invalid, "invalid limit", err)
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return persistence.TradeFilter{}, apperr.Wrap(apperr.Invalid, "invalid offset", err)
		}
		f.Offset = n
	}
	return f, nil
}

// handleListTrades serves GET /api/trades.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	f, err := tradeFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	trades, err := s.store.ListTrades(f)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list trades", err))
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// handleGetTrade serves GET /api/trades/:id.
func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Invalid, "invalid trade id", err))
		return
	}
	trade, err := s.store.GetTrade(id)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "trade not found", err))
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// handleTradeSummary serves GET /api/trades/summary.
func (s *Server) handleTradeSummary(w http.ResponseWriter, r *http.Request) {
	f, err := tradeFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.store.TradeSummary(f)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "trade summary", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
