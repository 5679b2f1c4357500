package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/feed"
)

// Handle returns an HTTP handler that upgrades connections to WebSocket and
// streams the caller's household feed until the client disconnects.
func Handle(broker *feed.Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		householdID := auth.HouseholdID(r.Context())
		if householdID == 0 {
			http.Error(w, "no household selected", http.StatusForbidden)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // native clients send no Origin
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		sub := broker.Subscribe(householdID)
		logger.Debug("websocket connected",
			"user_id", auth.UserID(r.Context()), "household_id", householdID)

		NewClient(conn, sub, logger).Run(r.Context())
	}
}
