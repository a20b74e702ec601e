package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T, now func() time.Time) *JWTStore {
	t.Helper()
	s, err := NewJWTStore("test-secret", time.Hour, DefaultCredentials(), nil,
		WithBcryptCost(bcrypt.MinCost), WithClock(now))
	require.NoError(t, err)
	return s
}

func TestLoginResolveLogout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Now)

	token, user, err := s.Login(ctx, "Admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, user.Role)
	assert.NotEmpty(t, token)

	resolved, err := s.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user, resolved)

	require.NoError(t, s.Logout(ctx, token))
	_, err = s.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestStore(t, time.Now)

	_, _, err := s.Login(context.Background(), "staff", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(context.Background(), "nobody", "staff123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveExpired(t *testing.T) {
	current := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s := newTestStore(t, func() time.Time { return current })

	token, _, err := s.Login(context.Background(), "staff", "staff123")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = s.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveForeignToken(t *testing.T) {
	a := newTestStore(t, time.Now)
	b, err := NewJWTStore("other-secret", time.Hour, DefaultCredentials(), nil, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	token, _, err := b.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)

	_, err = a.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = a.Resolve(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTStoreRequiresSecret(t *testing.T) {
	_, err := NewJWTStore("", time.Hour, nil, nil)
	assert.Error(t, err)
}
