package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/famcal/internal/auth"
)

// MembershipChecker reports whether a user belongs to a family.
type MembershipChecker interface {
	IsUserMember(ctx context.Context, familyID, userID int64) (bool, error)
}

// HandleWebSocket returns an HTTP handler that upgrades connections to WebSocket
// and runs them as Hub clients of the family named by the family_id query
// parameter. Only members of that family may subscribe.
func HandleWebSocket(hub *Hub, members MembershipChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := strconv.ParseInt(r.URL.Query().Get("family_id"), 10, 64)
		if err != nil || familyID < 1 {
			writeError(w, http.StatusBadRequest, "family_id is required")
			return
		}

		ok, err := members.IsUserMember(r.Context(), familyID, auth.UserID(r.Context()))
		if err != nil {
			logger.Error("check membership", "family_id", familyID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "requester is not a member of this family")
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // clients authenticate with a bearer token, not cookies
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, familyID, auth.UserID(r.Context()))
		client.Run(r.Context())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
