package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/feed/model"
)

func TestNormalizeCount(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want int64
	}{
		{"nil", nil, 0},
		{"int", 7, 7},
		{"float", float64(12), 12},
		{"msgpack int8", int8(3), 3},
		{"numeric string", "42", 42},
		{"aggregation object", map[string]interface{}{"count": 5}, 5},
		{"aggregation array", []interface{}{map[string]interface{}{"count": float64(9)}}, 9},
		{"empty array", []interface{}{}, 0},
		{"negative", -4, 0},
		{"garbage string", "lots", 0},
		{"bool", true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeCount(tc.in))
		})
	}
}

func TestNormalizePost(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		raw := model.RawRecord{
			"id":            "p1",
			"user_id":       "u1",
			"content":       "hello",
			"image_url":     "https://img/1.jpeg",
			"created_at":    "2024-03-01T10:00:00.123456+00:00",
			"likes_count":   []interface{}{map[string]interface{}{"count": 3}},
			"comment_count": map[string]interface{}{"count": 2},
			"shares":        1,
			"is_liked":      []interface{}{map[string]interface{}{"user_id": "u1"}},
			"nonce":         "local-abc",
			"user": map[string]interface{}{
				"id": "u1", "username": "ana", "avatar_url": "https://a/u1.png",
			},
		}

		p := NormalizePost(raw)

		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, "hello", p.Content)
		assert.Equal(t, "https://img/1.jpeg", p.ImageURI)
		assert.Equal(t, int64(3), p.Likes)
		assert.Equal(t, int64(2), p.CommentCount)
		assert.Equal(t, int64(1), p.Shares)
		assert.True(t, p.LikedByMe)
		assert.Equal(t, "local-abc", p.Nonce)
		assert.Equal(t, model.Author{ID: "u1", Name: "ana", AvatarURI: "https://a/u1.png"}, p.Author)
		assert.Equal(t, 2024, p.CreatedAt.Year())
		assert.Equal(t, time.March, p.CreatedAt.Month())
	})

	t.Run("missing profile falls back", func(t *testing.T) {
		p := NormalizePost(model.RawRecord{"id": "p2", "user_id": "u9"})

		assert.Equal(t, "u9", p.Author.ID)
		assert.Equal(t, AnonymousName, p.Author.Name)
		assert.Equal(t, PlaceholderAvatarURI, p.Author.AvatarURI)
		assert.Zero(t, p.Likes)
		assert.Zero(t, p.CommentCount)
		assert.False(t, p.LikedByMe)
		assert.True(t, p.CreatedAt.IsZero())
	})

	t.Run("nil and malformed input never panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NormalizePost(nil)
			NormalizePost(model.RawRecord{
				"id": 12, "user": "not-an-object", "created_at": "yesterday",
				"likes_count": map[string]interface{}{"nope": 1}, "is_liked": "maybe",
			})
		})
		p := NormalizePost(model.RawRecord{"id": 12})
		assert.Equal(t, "12", p.ID)
	})
}

func TestNormalizeComment(t *testing.T) {
	raw := model.RawRecord{
		"id":          "c1",
		"post_id":     "p1",
		"content":     "top",
		"created_at":  "2024-03-01T10:00:00Z",
		"likes_count": 2,
		"is_liked":    true,
		"profiles":    []interface{}{map[string]interface{}{"id": "u1", "username": "ana"}},
		"replies": []interface{}{
			map[string]interface{}{
				"id":      "c2",
				"content": "child",
				"replies": []interface{}{
					map[string]interface{}{"id": "c3", "content": "grandchild"},
				},
			},
		},
	}

	c := NormalizeComment(raw)

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "ana", c.Author.Name)
	assert.Equal(t, PlaceholderAvatarURI, c.Author.AvatarURI)
	assert.Equal(t, int64(2), c.Likes)
	assert.True(t, c.LikedByMe)
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)
	require.Len(t, c.Replies, 1)

	child := c.Replies[0]
	assert.Equal(t, "p1", child.PostID)
	assert.Equal(t, "c1", child.ParentID)
	require.Len(t, child.Replies, 1)
	assert.Equal(t, "c2", child.Replies[0].ParentID)
	assert.Equal(t, "p1", child.Replies[0].PostID)
}

func TestHelpers(t *testing.T) {
	assert.True(t, HasLikeFlag(model.RawRecord{"is_liked": false}))
	assert.False(t, HasLikeFlag(model.RawRecord{"id": "x"}))
	assert.True(t, HasProfile(model.RawRecord{"user": map[string]interface{}{"id": "u"}}))
	assert.False(t, HasProfile(model.RawRecord{"user": nil}))

	a := AuthorFor(model.Identity{ID: "u1", Email: "ana@example.com"})
	assert.Equal(t, "ana", a.Name)
	assert.Equal(t, PlaceholderAvatarURI, a.AvatarURI)
	assert.Equal(t, AnonymousName, AuthorFor(model.Identity{ID: "u2"}).Name)
}
