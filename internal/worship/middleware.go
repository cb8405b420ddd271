package worship

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the access-token shape issued by the auth service.
type TokenClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msg})
}

// authMiddleware resolves the caller's identity. With a JWT secret configured
// it validates the bearer token itself; without one it trusts the X-User-Id
// header the gateway sets after validation.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			if r.Header.Get("X-User-Id") == "" {
				unauthorized(w, "missing X-User-Id header")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get("Authorization")
		if raw == "" {
			// Browsers cannot set headers on websocket upgrades.
			raw = "Bearer " + r.URL.Query().Get("token")
		}
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			unauthorized(w, "invalid Authorization header")
			return
		}

		claims := &TokenClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.TokenType != "access" {
			unauthorized(w, "invalid token")
			return
		}

		r.Header.Set("X-User-Id", claims.UserID)
		next.ServeHTTP(w, r)
	})
}

func requestUserID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}
