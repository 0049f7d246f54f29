package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/liderhq/payhub/internal/handlers/render"
	"github.com/liderhq/payhub/internal/handlers/userctx"
)

// AccessTokenClaims is the access token payload issued by the auth gateway
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

// AuthMiddleware validates the bearer token and puts the user id into the
// request context
func AuthMiddleware(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims := &AccessTokenClaims{}
			_, err := jwt.ParseWithClaims(
				token,
				claims,
				func(t *jwt.Token) (any, error) {
					return []byte(secretKey), nil
				},
				jwt.WithValidMethods([]string{"HS256"}),
			)
			if err != nil || claims.UserID == uuid.Nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
