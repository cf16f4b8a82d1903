package eventbus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The live surface is read by dashboards on the same origin as the
	// API in every deployment this engine targets, and authenticating
	// external clients is out of scope, so a permissive origin check
	// is deliberate here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is the shape of a client->server JSON frame.
type controlMessage struct {
	Subscribe   []models.EventType `json:"subscribe"`
	Unsubscribe []models.EventType `json:"unsubscribe"`
}

// ServeWS upgrades r to a WebSocket connection and pumps events from
// bus to the client until the connection closes. channels pre-seeds
// the subscriber's filter from the initial connect query (empty =
// all channels).
func ServeWS(bus *Bus, w http.ResponseWriter, r *http.Request, channels []models.EventType) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := bus.Subscribe(channels)
	log := logrus.WithField("component", "eventbus.ws")

	done := make(chan struct{})
	go writePump(conn, sub, log, done)
	readPump(conn, bus, sub, log)
	close(done)
	bus.Unsubscribe(sub)
	return nil
}

func readPump(conn *websocket.Conn, bus *Bus, sub *Subscriber, log *logrus.Entry) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		handleControlMessage(conn, sub, msg, log)
	}
}

func handleControlMessage(conn *websocket.Conn, sub *Subscriber, msg []byte, log *logrus.Entry) {
	text := string(msg)
	if text == "ping" {
		writeText(conn, "pong")
		return
	}

	var ctrl controlMessage
	if err := json.Unmarshal(msg, &ctrl); err != nil {
		log.Debugf("eventbus.ws: unparseable control frame: %v", err)
		writeJSON(conn, map[string]string{"error": "unparseable message"})
		return
	}
	switch {
	case len(ctrl.Subscribe) > 0:
		sub.SetFilter(ctrl.Subscribe)
	case len(ctrl.Unsubscribe) > 0:
		sub.SetFilter(nil)
	}
}

func writePump(conn *websocket.Conn, sub *Subscriber, log *logrus.Entry, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				log.Debugf("eventbus.ws: write failed, closing: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeText(conn *websocket.Conn, s string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func writeJSON(conn *websocket.Conn, v any) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(v)
}
