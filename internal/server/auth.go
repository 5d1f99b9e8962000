package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth is an optional RouteRegistrar that guards every request behind a
// bearer JWT signed with a shared secret. Passed as the auth parameter to
// New; pass nil there to run without authentication.
type JWTAuth struct {
	secret []byte
	// ExemptPaths bypasses the check entirely (health/readiness/metrics).
	ExemptPaths map[string]bool
}

// NewJWTAuth builds a JWTAuth validating tokens with an HMAC secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		ExemptPaths: map[string]bool{
			"/healthz": true,
			"/readyz":  true,
			"/metrics": true,
		},
	}
}

// RegisterRoutes is a no-op: JWTAuth contributes middleware only, no routes.
func (a *JWTAuth) RegisterRoutes(mux *http.ServeMux) {}

// Middleware rejects any request lacking a valid bearer token.
func (a *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.ExemptPaths[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/swagger/") {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				WriteProblem(w, Problem{
					Type:     ProblemTypeUnauthorized,
					Title:    "Unauthorized",
					Status:   http.StatusUnauthorized,
					Detail:   "missing bearer token",
					Instance: r.URL.Path,
				})
				return
			}

			_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return a.secret, nil
			})
			if err != nil {
				WriteProblem(w, Problem{
					Type:     ProblemTypeUnauthorized,
					Title:    "Unauthorized",
					Status:   http.StatusUnauthorized,
					Detail:   err.Error(),
					Instance: r.URL.Path,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
