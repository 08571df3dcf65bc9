package middleware

import (
	"net/http"
	"strings"

	"trade-service/internal/pkg/response"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload the external Auth Service issues. The core
// trusts the verified identity as given.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies bearer tokens locally against the shared signing
// secret and stashes the verified identity in the request context.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Require rejects requests without a valid bearer token.
func (am *AuthMiddleware) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				response.Error(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := am.verify(token)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if claims.UserID == "" {
				response.Error(w, http.StatusUnauthorized, "Token carries no user identity")
				return
			}

			next.ServeHTTP(w, setContextValues(r, claims, token))
		})
	}
}

func (am *AuthMiddleware) verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	// Websocket clients cannot set headers from the browser.
	return r.URL.Query().Get("token")
}
