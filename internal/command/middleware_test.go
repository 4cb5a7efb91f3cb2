package command

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftbid/liveauction/internal/auth"
	"github.com/loftbid/liveauction/internal/domain"
	"github.com/loftbid/liveauction/internal/eventbus"
	"github.com/loftbid/liveauction/internal/gateway"
)

type allowAllLimiter struct{}

func (allowAllLimiter) AllowMessage(ctx context.Context, userID, channelID int64, limit int64, window time.Duration) (bool, error) {
	return true, nil
}

func newTestSurface() *Surface {
	return &Surface{
		authenticator: auth.New("test-signing-key", time.Hour),
		validate:      validator.New(),
		corsOrigin:    "http://localhost:3000",
		messageLimit:  10,
		messageWindow: time.Minute,
		messageMaxLen: 500,
		bus:           eventbus.New(16),
		presence:      gateway.NewPresence(),
		limiter:       allowAllLimiter{},
	}
}

func TestAuthMiddlewareRejectsMissingBearerToken(t *testing.T) {
	s := newTestSurface()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/v1/auctions", nil)
	rec := httptest.NewRecorder()
	s.authMiddleware(next).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAttachesIdentityForValidToken(t *testing.T) {
	s := newTestSurface()
	token, err := s.authenticator.Issue(7, []domain.Role{domain.RoleSeller})
	require.NoError(t, err)

	var gotIdentity auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = identityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/auctions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.authMiddleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), gotIdentity.UserID)
	assert.True(t, gotIdentity.HasRole(domain.RoleSeller))
}

func TestCorsMiddlewareShortCircuitsPreflight(t *testing.T) {
	s := newTestSurface()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodOptions, "/v1/auctions", nil)
	rec := httptest.NewRecorder()
	s.corsMiddleware(next).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
