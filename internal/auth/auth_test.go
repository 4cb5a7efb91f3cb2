package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loftbid/liveauction/internal/apperr"
	"github.com/loftbid/liveauction/internal/domain"
)

func TestIssueThenVerifyRoundTripsIdentity(t *testing.T) {
	a := New("signing-key", time.Hour)
	token, err := a.Issue(42, []domain.Role{domain.RoleBuyer, domain.RoleSeller})
	require.NoError(t, err)

	identity, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), identity.UserID)
	assert.True(t, identity.HasRole(domain.RoleBuyer))
	assert.True(t, identity.HasRole(domain.RoleSeller))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := New("signing-key", -time.Hour)
	token, err := a.Issue(1, nil)
	require.NoError(t, err)

	_, err = a.Verify(token)
	require.Error(t, err)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestVerifyRejectsTokenSignedWithDifferentKey(t *testing.T) {
	issuer := New("key-a", time.Hour)
	verifier := New("key-b", time.Hour)

	token, err := issuer.Issue(1, nil)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	id := Identity{UserID: 1, Roles: []domain.Role{domain.RoleBuyer}}
	err := RequireRole(id, domain.RoleSeller)
	require.Error(t, err)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestRequireRoleAcceptsPresentRole(t *testing.T) {
	id := Identity{UserID: 1, Roles: []domain.Role{domain.RoleSeller}}
	assert.NoError(t, RequireRole(id, domain.RoleSeller))
}
