package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.Issue("user-1", "a@b.c")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
}

func TestTokenIssuerRejectsExpiredAndForeign(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := issuer.Issue("user-1", "a@b.c")
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, _, err := NewTokenIssuer("other", time.Hour).Issue("user-1", "a@b.c")
	require.NoError(t, err)
	_, err = issuer.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong"))

	_, err = HashPassword(string(make([]byte, 73)), 4)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
