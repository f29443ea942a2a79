package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/chorus/internal/logging"
	"github.com/neboloop/chorus/internal/realtime"
)

// NewUpgrader returns an upgrader that accepts the given origins. An empty
// list accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

// Handler returns an HTTP handler function for WebSocket upgrades
func Handler(hub *realtime.Hub, allowedOrigins []string) http.HandlerFunc {
	upgrader := NewUpgrader(allowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		// Generate client ID (unique per connection)
		clientID := r.URL.Query().Get("clientId")
		if clientID == "" {
			clientID = "client-" + uuid.New().String()[:8]
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Errorf("WebSocket upgrade error: %v", err)
			return
		}

		logging.Debugf("Serving WebSocket for clientID: %s", clientID)
		realtime.ServeWS(hub, conn, clientID)
	}
}
