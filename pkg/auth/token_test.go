package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/gatherly/pkg/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "gatherly-test",
		BcryptCost:    10,
	}
}

func TestIssueAndVerifyPair(t *testing.T) {
	tm := NewTokenManager(testAuthConfig())

	pair, err := tm.IssuePair(42)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEmpty(t, pair.RefreshTokenID)
	assert.Equal(t, int64(60), pair.ExpiresIn)

	access, err := tm.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	id, err := access.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, AccessToken, access.Kind)
	assert.Equal(t, pair.RefreshTokenID, access.SessionID)

	refresh, err := tm.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshTokenID, refresh.ID)
	assert.Equal(t, pair.RefreshTokenID, refresh.SessionID)
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	tm := NewTokenManager(testAuthConfig())
	pair, err := tm.IssuePair(7)
	require.NoError(t, err)

	_, err = tm.VerifyAccess(pair.RefreshToken)
	assert.Error(t, err)
	_, err = tm.VerifyRefresh(pair.AccessToken)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	cfg := testAuthConfig()
	other := cfg
	other.Issuer = "someone-else"

	pair, err := NewTokenManager(other).IssuePair(7)
	require.NoError(t, err)

	_, err = NewTokenManager(cfg).VerifyAccess(pair.AccessToken)
	assert.Error(t, err)
}

func TestVerifyRejectsTampered(t *testing.T) {
	tm := NewTokenManager(testAuthConfig())
	pair, err := tm.IssuePair(7)
	require.NoError(t, err)

	_, err = tm.VerifyAccess(pair.AccessToken + "x")
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	cfg := testAuthConfig()
	cfg.AccessTTL = -time.Minute
	tm := NewTokenManager(cfg)

	pair, err := tm.IssuePair(7)
	require.NoError(t, err)

	_, err = tm.VerifyAccess(pair.AccessToken)
	assert.Error(t, err)
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(10)

	hash, err := h.Hash("s3cret-password")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-password", hash)

	require.NoError(t, h.Compare(hash, "s3cret-password"))
	assert.ErrorIs(t, h.Compare(hash, "wrong"), ErrPasswordMismatch)
}

func TestPasswordHasherRejectsOverlong(t *testing.T) {
	h := NewPasswordHasher(10)
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	_, err := h.Hash(string(long))
	assert.Error(t, err)
}
