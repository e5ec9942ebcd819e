package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewManager("secret", "jurinapse", time.Minute)
	require.NoError(t, err)

	token, err := m.GenerateAccessToken("u1", "alice", []string{"admin"})
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("moderator"))
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	signer, err := NewManager("one", "", time.Minute)
	require.NoError(t, err)
	verifier, err := NewManager("two", "", time.Minute)
	require.NoError(t, err)

	token, err := signer.GenerateAccessToken("u1", "alice", nil)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	signer, err := NewManager("s", "other", time.Minute)
	require.NoError(t, err)
	verifier, err := NewManager("s", "jurinapse", time.Minute)
	require.NoError(t, err)

	token, err := signer.GenerateAccessToken("u1", "alice", nil)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	m, err := NewManager("s", "", time.Minute)
	require.NoError(t, err)
	m.accessDuration = -time.Minute

	token, err := m.GenerateAccessToken("u1", "alice", nil)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", "", time.Minute)
	assert.ErrorIs(t, err, ErrMissingKey)
}
