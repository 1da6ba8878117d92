package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutationError(t *testing.T) {
	err := NewMutationError("create post", ErrNetworkFailure, context.Canceled)

	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "create post: network failure: context canceled", err.Error())

	var me *MutationError
	assert.True(t, errors.As(err, &me))
	assert.Equal(t, "create post", me.Op)

	bare := NewMutationError("delete comment", ErrForbidden, nil)
	assert.Equal(t, "delete comment: forbidden", bare.Error())
}

func TestWalkOrderAndDepth(t *testing.T) {
	tree := []*Comment{
		{ID: "a", Replies: []*Comment{
			{ID: "a1", Replies: []*Comment{{ID: "a1x"}}},
			{ID: "a2"},
		}},
		{ID: "b"},
	}

	var ids []string
	var depths []int
	Walk(tree, func(c *Comment, depth int) bool {
		ids = append(ids, c.ID)
		depths = append(depths, depth)
		return true
	})

	assert.Equal(t, []string{"a", "a1", "a1x", "a2", "b"}, ids)
	assert.Equal(t, []int{1, 2, 3, 2, 1}, depths)
	assert.Equal(t, 5, CountComments(tree))
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Comment{ID: "a", Replies: []*Comment{{ID: "b"}}}
	cp := orig.Clone()
	cp.Replies[0].Content = "changed"
	cp.Replies = append(cp.Replies, &Comment{ID: "c"})

	assert.Empty(t, orig.Replies[0].Content)
	assert.Len(t, orig.Replies, 1)
}

func TestScopeChannels(t *testing.T) {
	assert.Equal(t, "posts", Scope{}.Channel())
	assert.Equal(t, "comments:p1", Scope{PostID: "p1"}.Channel())
	assert.Equal(t, "comments:p1", ChangeEvent{Kind: KindComment, PostID: "p1"}.Channel())
	assert.Equal(t, "posts", ChangeEvent{Kind: KindPostCounter, PostID: "p1"}.Channel())
}

func TestNewEventDropsViewerFields(t *testing.T) {
	rec := RawRecord{"id": "c1", "content": "edited", "is_liked": true}

	ev := NewEvent(Updated, KindComment, "c1", "p1", rec, RawRecord{"id": "c1", "is_liked": false})

	assert.Len(t, ev.ID, 26)
	assert.Equal(t, "edited", ev.New["content"])
	assert.NotContains(t, ev.New, "is_liked")
	assert.NotContains(t, ev.Old, "is_liked")
	assert.Contains(t, rec, "is_liked", "caller's record is left intact")
	assert.Nil(t, NewEvent(Deleted, KindPost, "p1", "", nil, nil).New)
}
