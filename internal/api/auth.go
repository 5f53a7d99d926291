package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yourname/beamnet/pkg/types"
)

type claims struct {
	PlayerID string `json:"player_id"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

type ctxKey int

const actorKey ctxKey = 0

// IssueToken mints a 24h HS256 token for a player. Exposed so operators and
// tests can produce credentials without a separate auth service.
func IssueToken(secret, playerID string, admin bool) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		PlayerID: playerID,
		Admin:    admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "beamnet",
		},
	})
	return tok.SignedString([]byte(secret))
}

// authMiddleware resolves the bearer token into an Actor on the request
// context. Requests without a valid token are rejected.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, types.NewError(types.KindForbidden, "missing credentials"))
				return
			}
			var c claims
			tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !tok.Valid || c.PlayerID == "" {
				writeError(w, types.NewError(types.KindForbidden, "invalid credentials"))
				return
			}
			actor := types.Actor{ID: c.PlayerID, Admin: c.Admin}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r).Admin {
			writeError(w, types.NewError(types.KindForbidden, "admin capability required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(r *http.Request) types.Actor {
	a, _ := r.Context().Value(actorKey).(types.Actor)
	return a
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browsers connecting the websocket cannot set headers.
	return r.URL.Query().Get("token")
}
