package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIdentity_NotSignedIn(t *testing.T) {
	s := NewSessionIdentity("secret", "ironfreight", time.Hour)

	token, err := s.Token(context.Background())

	assert.Empty(t, token)
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestSessionIdentity_MintsAndCaches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessionIdentity("secret", "ironfreight", time.Hour)
	s.now = func() time.Time { return now }
	s.SignIn("user-42", "ops@americaniron.example", "admin")

	first, err := s.Token(context.Background())
	require.NoError(t, err)

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(first, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "ironfreight", claims.Issuer)

	now = now.Add(30 * time.Minute)
	second, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	now = now.Add(29*time.Minute + 30*time.Second)
	third, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestSessionIdentity_SignOut(t *testing.T) {
	s := NewSessionIdentity("secret", "ironfreight", time.Hour)
	s.SignIn("user-42", "", "")
	_, err := s.Token(context.Background())
	require.NoError(t, err)

	s.SignOut()

	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestStaticAndNoSession(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = NoSession{}.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	token, err = TokenFunc(func(context.Context) (string, error) { return "fn", nil }).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fn", token)
}
