package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// UserContext lifts the authenticated user id from the X-User-ID header
// set by the edge gateway. The API trusts the gateway; requests that
// bypass it simply arrive anonymous.
func UserContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if raw := r.Header.Get("X-User-ID"); raw != "" {
				if userID, err := uuid.Parse(raw); err == nil {
					ctx = context.WithValue(ctx, userIDContextKey, userID)
					if logg != nil {
						ctx = logg.WithUserID(ctx, userID.String())
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUserID returns a context carrying the given user id.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the authenticated user, or an unauthorized
// error when the request carried none.
func UserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity required")
	}
	return userID, nil
}
