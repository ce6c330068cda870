/**
 * @description
 * Authentication middleware for billing-api: a shared key for internal
 * server-to-server calls and HS256 JWTs for operator endpoints.
 */
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// OperatorContextKey is the key used to store the operator's subject in the request context.
const OperatorContextKey = contextKey("operator")

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
// An empty key rejects every request.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuthMiddleware validates HS256 operator tokens and requires the given role claim.
func AdminAuthMiddleware(secret, role string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				respondWithError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}
			if secret == "" {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid token: %v", err))
				return
			}
			if !token.Valid {
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if role != "" {
				if got, _ := claims["role"].(string); got != role {
					respondWithError(w, http.StatusForbidden, "Forbidden")
					return
				}
			}

			subject, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), OperatorContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext retrieves the operator's subject from the request context.
func OperatorFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(OperatorContextKey).(string)
	return subject, ok
}
