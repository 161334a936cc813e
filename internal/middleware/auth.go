package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/model"
)

// TokenAuthenticator resolves a raw bearer token. It returns nil, nil for
// anything that is not a live token.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.APIToken, error)
}

// RequireToken validates the bearer token and populates AuthContext.
// Browsers cannot set headers on a websocket upgrade, so an access_token
// query parameter is accepted as well.
func RequireToken(tokens TokenAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w)
				return
			}

			tok, err := tokens.Authenticate(r.Context(), raw)
			if err != nil {
				logger.Error("authenticate token", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if tok == nil {
				unauthorized(w)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: tok.UserID, TokenID: tok.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="famcal"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
