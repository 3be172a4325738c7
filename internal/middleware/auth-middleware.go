package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"chat-fanout/internal/auth"
	"chat-fanout/internal/models"
	"chat-fanout/internal/repository"

	"go.uber.org/zap"
)

type contextKey string

const userKey contextKey = "user"

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// tokenFromRequest reads the access token from the Authorization header, the
// access_token cookie, or the token query parameter, in that order. Browsers
// cannot set headers on a WebSocket upgrade, hence the last two.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// Authenticate admits requests that carry a valid token for an existing,
// enabled user and stores that user in the request context.
func Authenticate(verifier *auth.Verifier, users repository.UserRepository, log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			currentIP := getIP(r)

			token := tokenFromRequest(r)
			if token == "" {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				log.Info("invalid token", zap.String("ip", currentIP), zap.Error(err))
				http.Error(w, "Session expired or invalid", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					log.Info("token valid but user no longer exists", zap.Int64("user", claims.UserID))
					http.Error(w, "User account not found", http.StatusUnauthorized)
					return
				}
				log.Error("user lookup failed", zap.Error(err))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			if user.Disabled {
				log.Info("disabled user rejected", zap.Int64("user", user.ID), zap.String("ip", currentIP))
				http.Error(w, "Inactive user", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user set by Authenticate, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}
