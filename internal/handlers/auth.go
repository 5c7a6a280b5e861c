package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tubeshelf/accounts/internal/middleware"
	"github.com/tubeshelf/accounts/types"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

// Authenticator resolves an access token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (types.User, error)
}

// RequireAuth accepts the access token from the accessToken cookie or an
// Authorization bearer header and stores the stripped user in the context.
func RequireAuth(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := accessToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized request")
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeServiceError(w, r, logger, err)
				return
			}

			middleware.SetUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

func accessToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	token, err := bearerToken(r)
	if err != nil {
		return ""
	}
	return token
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
