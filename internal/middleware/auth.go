package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"quietend-server/internal/shared/config"
	"quietend-server/internal/shared/errors"
	"quietend-server/internal/shared/response"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserContextKey contextKey = "user"

// OperatorClaims identify a caller of the ops API. Tokens are minted out of
// band for operators; the game itself never issues them.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTMiddleware validates a bearer token against the configured secret and
// attaches the claims to the request context.
func JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With(
			"middleware", "jwt",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Error(w, r, logger, errors.Unauthorized("authentication required"))
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims, err := parseToken(tokenString)
		if err != nil {
			logger.Debug("Token rejected", "error", err)
			response.Error(w, r, logger, errors.Unauthorized("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseToken(tokenString string) (*OperatorClaims, error) {
	secret := config.GlobalConfig.Auth.JWTSecret
	if secret == "" {
		return nil, errors.Unauthorized("ops API is not configured")
	}

	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.Unauthorized("invalid token")
	}
	return claims, nil
}

// GetUserFromContext returns the operator claims set by JWTMiddleware.
func GetUserFromContext(r *http.Request) *OperatorClaims {
	if claims, ok := r.Context().Value(UserContextKey).(*OperatorClaims); ok {
		return claims
	}
	return nil
}
