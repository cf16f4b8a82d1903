// Package api implements the HTTP/WS surface: a thin chi router over
// the engine, risk manager, persistence queries, and event bus
// (chi.Mux, a middleware stack built from go-chi/chi/v5/middleware, a
// request-logging middleware keyed off logrus fields, and a health
// endpoint that is always public).
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/engine"
	"github.com/dlanglois/ironclad-trader/internal/eventbus"
	"github.com/dlanglois/ironclad-trader/internal/persistence"
	"github.com/dlanglois/ironclad-trader/internal/risk"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the composition root's HTTP surface: it holds read-only
// handles to the engine and its collaborators and exposes a
// chi.Router the caller mounts on an *http.Server.
type Server struct {
	router *chi.Mux
	eng    *engine.Engine
	risk   *risk.Manager
	store  persistence.Queries
	bus    *eventbus.Bus
	log    *logrus.Entry
}

// New builds a Server wired to eng's collaborators. eng must already
// be constructed (but need not yet be Initialize'd) by the caller.
func New(eng *engine.Engine, riskMgr *risk.Manager, store persistence.Queries, bus *eventbus.Bus) *Server {
	s := &Server{
		eng:   eng,
		risk:  riskMgr,
		store: store,
		bus:   bus,
		log:   logrus.WithField("component", "api"),
	}
	s.router = chi.NewRouter()
	s.setupRoutes()
	return s
}

// Router returns the chi.Mux for mounting on an http.Server.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/", s.handleRoot)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/strategies", func(r chi.Router) {
		r.Get("/", s.handleListStrategies)
		r.Get("/active", s.handleActiveStrategies)
		r.Get("/{name}", s.handleGetStrategy)
		r.Post("/{name}/start", s.handleStartStrategy)
		r.Post("/{name}/stop", s.handleStopStrategy)
		r.Put("/{name}/params", s.handleUpdateStrategyParams)
	})

	s.router.Route("/api/trades", func(r chi.Router) {
		r.Get("/", s.handleListTrades)
		r.Get("/summary", s.handleTradeSummary)
		r.Get("/{id}", s.handleGetTrade)
	})

	s.router.Route("/api/performance", func(r chi.Router) {
		r.Get("/", s.handleGlobalPerformance)
		r.Get("/engine-status", s.handleEngineStatus)
		r.Get("/strategy/{name}", s.handleStrategyPerformance)
		r.Get("/equity-curve", s.handleEquityCurve)
		r.Get("/equity-curve/{name}", s.handleEquityCurve)
		r.Get("/strategy-runs", s.handleStrategyRuns)
		r.Get("/strategy-runs/{name}", s.handleStrategyRuns)
	})

	s.router.Get("/api/account", s.handleAccount)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/orders", s.handleOrders)
	s.router.Get("/api/market", s.handleMarket)

	s.router.Get("/ws/live", s.handleWSLive)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("http request")
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "ironclad-trader", "status": string(s.eng.Status())})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "engine_status": string(s.eng.Status())})
}

// writeJSON writes v as a JSON body with status code. Encoding errors
// are logged, not propagated — the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("component", "api").Warnf("api: encode response: %v", err)
	}
}

// writeError maps err onto an HTTP status by apperr.Kind and writes a
// JSON error body carrying the message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Invalid:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.RiskReject, apperr.AlreadyRunning:
		status = http.StatusConflict
	case apperr.EngineNotReady:
		status = http.StatusServiceUnavailable
	case apperr.Transient:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
