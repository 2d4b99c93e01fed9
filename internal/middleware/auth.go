package middleware

import (
	"net/http"
	"strings"

	"github.com/vigilsec/riskengine/internal/auth"
)

// RequireAPIKey gates control endpoints behind the configured keyring. Keys
// are accepted as "Authorization: Bearer vg_..." or "X-API-Key". With no
// keys configured the gate stays open so single-operator deployments run
// without auth.
func RequireAPIKey(ring *auth.Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ring == nil || ring.Empty() {
				next.ServeHTTP(w, r)
				return
			}

			presented := extractAPIKey(r)
			if presented == "" {
				http.Error(w, "Missing API key", http.StatusUnauthorized)
				return
			}

			caller, err := ring.Validate(presented)
			if err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
