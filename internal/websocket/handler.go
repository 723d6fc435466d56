package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/campuskubo/internal/auth"
)

// HandleWebSocket upgrades the connection and runs it as a Hub client until
// it closes. originPatterns lists extra hosts allowed to connect; same-origin
// requests are always accepted.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		userID := auth.UserID(r.Context())
		logger.Debug("websocket connected", "user_id", userID)
		NewClient(hub, conn, userID).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
		logger.Debug("websocket disconnected", "user_id", userID)
	}
}
