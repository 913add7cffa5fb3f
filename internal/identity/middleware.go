package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Middleware extracts the caller identity from a bearer token issued by the
// auth service. Requests without a valid token are rejected before they reach
// any handler.
func Middleware(secret string) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			var c claims
			token, err := jwt.ParseWithClaims(raw, &c, keyFunc,
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			userID, err := uuid.Parse(c.Subject)
			if err != nil || !ValidRole(Role(c.Role)) {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{UserID: userID, Role: Role(c.Role)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
