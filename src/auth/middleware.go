package auth

import (
	"context"
	"net/http"
	"strings"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/security"
	"portfoliodoctor/src/utils"

	logger "github.com/sirupsen/logrus"
)

type TokenParser interface {
	Parse(token string) (*security.Claims, error)
}

type UserLoader interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for WebSocket upgrades that cannot set headers, from the token query
// parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Middleware authenticates the request and stores the active user in the
// request context.
func Middleware(tokens TokenParser, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r)
			if raw == "" {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			claims, err := tokens.Parse(raw)
			if err != nil {
				logger.WithError(err).Debug("rejected access token")
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil || user == nil {
				logger.WithField("user_id", claims.UserID).WithError(err).Warn("token for unknown user")
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			if !user.IsActive {
				utils.WriteError(w, http.StatusUnauthorized, "inactive_user", "Account is disabled")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
