package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/edgeflare/sensorhub/pkg/httputil"
)

// BasicAuthConfig holds the username-password pairs for basic authentication.
type BasicAuthConfig struct {
	Credentials map[string]string
}

// BasicAuthCreds creates a new instance of BasicAuthConfig with multiple username/password pairs.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{Credentials: credentials}
}

// VerifyBasicAuth is a middleware function for basic authentication.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				httputil.Error(w, http.StatusUnauthorized, "authorization header missing")
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			validPassword, known := config.Credentials[username]
			if !known || subtle.ConstantTimeCompare([]byte(validPassword), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				httputil.Error(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			// Store authenticated user in context
			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
