package command

import (
	"context"
	"net/http"
	"strings"

	"github.com/loftbid/liveauction/internal/auth"
)

type identityKey struct{}

// authMiddleware resolves the bearer token into an auth.Identity and
// attaches it to the request context. Handlers that require
// authentication read it back with identityFromContext.
func (s *Surface) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			s.writeError(w, r, errUnauthenticated("missing bearer token"))
			return
		}

		identity, err := s.authenticator.Verify(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// corsMiddleware mirrors the single, cheap CORS handler this codebase
// mounts ahead of its router rather than pulling in a dedicated CORS
// package.
func (s *Surface) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
