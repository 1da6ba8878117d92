package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/feed/model"
	"feedsync/pkg/utils"
)

const secret = "0123456789abcdef0123456789abcdef"

func token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok, _, err := utils.GenerateToken(secret, utils.Claims{UserID: "u1", Email: "alice@example.com", Name: "Alice"}, ttl)
	require.NoError(t, err)
	return tok
}

func TestJWTIdentityLifecycle(t *testing.T) {
	p := NewJWTIdentity(secret)
	ctx := context.Background()

	me, err := p.CurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, me)

	signed, err := p.SignIn(token(t, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "u1", signed.ID)
	assert.Equal(t, "Alice", signed.Name)

	me, err = p.CurrentIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, me)
	assert.Equal(t, "alice@example.com", me.Email)

	p.SignOut()
	me, err = p.CurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, me)
}

func TestJWTIdentityRejectsBadToken(t *testing.T) {
	p := NewJWTIdentity(secret)
	_, err := p.SignIn("bogus")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestJWTIdentityExpires(t *testing.T) {
	p := NewJWTIdentity(secret)
	_, err := p.SignIn(token(t, time.Hour))
	require.NoError(t, err)

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	me, err := p.CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, me)
}
