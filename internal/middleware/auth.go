// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the caller's external identity.
	IdentityKey ContextKey = "identity"
	// OwnerIDKey is the context key for the caller's owner id.
	OwnerIDKey ContextKey = "owner_id"
)

// Claims represents JWT claims. The subject is the caller's stable identity.
type Claims struct {
	jwt.RegisteredClaims
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if err := ValidateIdentity(claims.Subject); err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token subject")
				return
			}

			noteIdentity(r.Context(), claims.Subject)
			ctx := context.WithValue(r.Context(), IdentityKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerResolver maps an identity to an owner id.
type OwnerResolver interface {
	EnsureUser(ctx context.Context, identity string) (int64, error)
}

// ResolveOwner puts the owner id of the authenticated identity in the context.
// It must run after Auth.
func ResolveOwner(users OwnerResolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			ownerID, err := users.EnsureUser(r.Context(), identity)
			if err != nil {
				log.Error("failed to resolve owner", zap.String("identity", identity), zap.Error(err))
				writeJSONError(w, http.StatusServiceUnavailable, "could not complete the request")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity gets the caller identity from context.
func GetIdentity(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityKey).(string); ok {
		return v
	}
	return ""
}

// GetOwnerID gets the caller's owner id from context.
func GetOwnerID(ctx context.Context) int64 {
	if v, ok := ctx.Value(OwnerIDKey).(int64); ok {
		return v
	}
	return 0
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
