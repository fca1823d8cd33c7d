package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/chordkeeper/internal/server/handlers"
)

// AuthMiddleware создает middleware для проверки bearer токена владельца
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("missing Authorization header", "path", r.URL.Path)
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") {
				// Заголовок не логируем: в нем может быть секрет
				logger.Warn("invalid Authorization header format", "path", r.URL.Path)
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := handlers.ValidateOwnerToken(jwtConfig, strings.TrimSpace(tokenString))
			if err != nil {
				logger.Warn("invalid owner token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			logger.Debug("owner authenticated", "owner_id", claims.OwnerID)

			next.ServeHTTP(w, r.WithContext(handlers.WithOwnerID(r.Context(), claims.OwnerID)))
		})
	}
}
