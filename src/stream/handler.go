package stream

import (
	"net/http"
	"strings"
	"time"

	"portfoliodoctor/src/auth"
	"portfoliodoctor/src/utils"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// NewUpgrader accepts requests without an Origin header and requests from
// allowedOrigin. An empty or "*" origin allows everything.
func NewUpgrader(allowedOrigin string) *websocket.Upgrader {
	allowedOrigin = strings.TrimSpace(allowedOrigin)
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
}

// ServeWS upgrades an authenticated request and streams the user's sync runs
// until the client disconnects.
func ServeWS(hub *Hub, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return
		}

		sub := hub.Subscribe(user.ID)
		logger.WithField("user_id", user.ID).Debug("sync stream subscribed")

		go writePump(conn, sub)
		readPump(conn, sub)
	}
}

// readPump only handles control frames; it returns when the peer goes away.
func readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("sync stream closed unexpectedly")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
