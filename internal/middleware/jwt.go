package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"ga4u/internal/httpx"

	"github.com/google/uuid"
)

type contextKey string

const (
	UserKey contextKey = "user_id"
	RoleKey contextKey = "role"
)

// TokenValidator is what the middleware needs from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (uuid.UUID, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			scheme, token, ok := strings.Cut(authHeader, " ")
			if ok && strings.EqualFold(scheme, "Bearer") {
				tokenString = strings.TrimSpace(token)
			}
		}

		// Browsers cannot set headers on websocket upgrades.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			httpx.Error(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		userID, role, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			httpx.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, RoleKey, role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id stored by Handle.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
