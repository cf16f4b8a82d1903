package api

import (
	"net/http"

	"github.com/dlanglois/ironclad-trader/internal/eventbus"
	"github.com/dlanglois/ironclad-trader/internal/models"
)

// handleWSLive serves WS /ws/live: it upgrades the connection and
// hands it to eventbus.ServeWS, which owns the read/write pumps
//. An initial ?channels=a,b,c query seeds the
// subscriber's filter; empty means every channel.
func (s *Server) handleWSLive(w http.ResponseWriter, r *http.Request) {
	var channels []models.EventType
	for _, c := range splitSymbols(r.URL.Query().Get("channels")) {
		channels = append(channels, models.EventType(c))
	}
	if err := eventbus.ServeWS(s.bus, w, r, channels); err != nil {
		s.log.Debugf("api: /ws/live upgrade failed: %v", err)
	}
}
