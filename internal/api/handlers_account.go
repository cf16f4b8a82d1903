package api

import (
	"net/http"
	"strings"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/broker"
)

// handleAccount serves GET /api/account: a read-through to the
// broker's account snapshot.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.eng.Broker().GetAccount(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Transient, "fetch account", err))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handlePositions serves GET /api/positions: a read-through to the
// broker's current open positions.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.eng.Broker().GetPositions(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Transient, "fetch positions", err))
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleOrders serves GET /api/orders: a read-through to the broker's
// order list, optionally filtered by ?status=open|closed|all.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	status := broker.OrdersAll
	if v := r.URL.Query().Get("status"); v != "" {
		status = broker.OrderQuery(v)
	}
	limit := limitParam(r, 100)
	orders, err := s.eng.Broker().GetOrders(r.Context(), status, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Transient, "fetch orders", err))
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// marketView is the JSON shape for GET /api/market: whether the venue
// is currently open, plus the latest prices for the symbols requested
// via ?symbols=AAPL,MSFT (empty = no quotes, just the market-open flag).
type marketView struct {
	MarketOpen bool               `json:"market_open"`
	Prices     map[string]float64 `json:"prices,omitempty"`
}

// handleMarket serves GET /api/market.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	view := marketView{MarketOpen: s.eng.MarketData().IsMarketOpen(r.Context())}
	if symbols := splitSymbols(r.URL.Query().Get("symbols")); len(symbols) > 0 {
		view.Prices = s.eng.MarketData().GetLatestPrices(r.Context(), symbols)
	}
	writeJSON(w, http.StatusOK, view)
}

func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
