package auth

import (
	"testing"
	"time"

	"tubeforge/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)
	assert.True(t, VerifyPassword("secret123", hash))
	assert.False(t, VerifyPassword("secret124", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s3cret", ExpireTime: 2, Issuer: "tubeforge"})

	token, expireAt, err := svc.GenerateToken(7, "ops")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), expireAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.OperatorID)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, "tubeforge", claims.Issuer)
}

func TestTokenSignedWithOtherSecretIsRejected(t *testing.T) {
	a := NewJWTService(config.JWTConfig{Secret: "a", ExpireTime: 1})
	b := NewJWTService(config.JWTConfig{Secret: "b", ExpireTime: 1})

	token, _, err := a.GenerateToken(1, "ops")
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.Error(t, err)
}

func TestRefreshTooEarly(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s", ExpireTime: 24})
	token, _, err := svc.GenerateToken(1, "ops")
	require.NoError(t, err)

	_, _, err = svc.RefreshToken(token)
	assert.Error(t, err)
}
