package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndParseToken(t *testing.T) {
	token, exp, err := GenerateToken(testSecret, Claims{UserID: "u1", Email: "alice@example.com"}, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *exp, time.Minute)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "u1", claims.Subject)
}

func TestParseTokenRejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := GenerateToken(testSecret, Claims{UserID: "u1"}, time.Hour)
		require.NoError(t, err)
		_, err = ParseToken("another-secret-another-secret-xx", token)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := GenerateToken(testSecret, Claims{UserID: "u1"}, -time.Minute)
		require.NoError(t, err)
		_, err = ParseToken(testSecret, token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseToken(testSecret, "not-a-token")
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, _, err := GenerateToken(testSecret, Claims{}, time.Hour)
		assert.Error(t, err)
	})
}

func TestFeedQueryPageLimit(t *testing.T) {
	q := FeedQuery{}
	assert.Equal(t, 50, q.PageLimit(50, 100))
	q = FeedQuery{Limit: 500}
	assert.Equal(t, 100, q.PageLimit(50, 100))
	q = FeedQuery{Limit: 7}
	assert.Equal(t, 7, q.PageLimit(50, 100))
}
