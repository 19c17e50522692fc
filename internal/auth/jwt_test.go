package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	manager := NewJWTManager("test-secret", "fraud-radar", time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateToken(userID, "analyst@example.com", RoleAnalyst)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "analyst@example.com", claims.Email)
	assert.Equal(t, RoleAnalyst, claims.Role)
	assert.Equal(t, "fraud-radar", claims.Issuer)
}

func TestJWTExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "fraud-radar", time.Millisecond)

	token, err := manager.GenerateToken(uuid.New(), "a@b.c", RoleAnalyst)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = manager.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTWrongSecretRejected(t *testing.T) {
	issuer := NewJWTManager("secret-a", "fraud-radar", time.Hour)
	verifier := NewJWTManager("secret-b", "fraud-radar", time.Hour)

	token, err := issuer.GenerateToken(uuid.New(), "a@b.c", RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTGarbageRejected(t *testing.T) {
	manager := NewJWTManager("test-secret", "fraud-radar", time.Hour)
	_, err := manager.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashAndCheck(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3rSecret", hash)

	assert.True(t, CheckPassword("Sup3rSecret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestValidatePasswordStrength(t *testing.T) {
	assert.True(t, ValidatePasswordStrength("Abcdef12"))
	assert.False(t, ValidatePasswordStrength("short1A"))
	assert.False(t, ValidatePasswordStrength("alllowercase1"))
	assert.False(t, ValidatePasswordStrength("ALLUPPERCASE1"))
	assert.False(t, ValidatePasswordStrength("NoDigitsHere"))
}
