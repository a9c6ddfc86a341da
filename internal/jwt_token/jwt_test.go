package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gabizap/pkg/platform/sentinel"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")
var subject = "admin@example.com"
var expiresIn = time.Hour

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(subject, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, subject, claims.Subject)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTService("other-key", "test-issuer")
	token, err := other.GenerateAccessToken(subject, expiresIn)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(subject, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, sentinel.ErrExpired)
}

func Test_ExpiresAt(t *testing.T) {
	token, err := NewJWTService("unknown-to-reader", "x").GenerateAccessToken(subject, expiresIn)
	require.NoError(t, err)

	exp, ok := ExpiresAt(token)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(expiresIn), exp, time.Minute)

	_, ok = ExpiresAt("opaque-session-token")
	assert.False(t, ok)
}
