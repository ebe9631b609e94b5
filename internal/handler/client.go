package handler

import (
	"net/http"

	"agroscan/internal/logger"
	"agroscan/internal/service/websocket"

	gorillaws "github.com/gorilla/websocket"
)

// NewUpgrader builds the websocket upgrader. Origins are checked against the
// configured list; an empty list allows any origin.
func NewUpgrader(allowedOrigins []string) gorillaws.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return gorillaws.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed[origin]
		},
	}
}

// ViewWebsocketHandler handles GET /api/view. The viewer is registered under
// the session user and receives that user's camera updates.
func ViewWebsocketHandler(hub *websocket.HubService, upgrader gorillaws.Upgrader, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := currentSession(w, r)
		if !ok {
			return
		}

		connection, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		userID := sess.User.ID
		hub.Register(connection, userID)
		defer hub.Unregister(connection)

		if sess.Camera != nil {
			hub.PublishCamera(userID, sess.Camera.Status())
		}

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}
