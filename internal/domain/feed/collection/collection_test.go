package collection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/feed/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func post(id string, age time.Duration) model.Post {
	return model.Post{ID: id, Content: id, CreatedAt: t0.Add(-age)}
}

func comment(id, parent string) *model.Comment {
	return &model.Comment{ID: id, ParentID: parent, Content: id}
}

func ids(list []*model.Comment) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func postIDs(list []model.Post) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func TestPostsOrdering(t *testing.T) {
	c := New(0)
	c.UpsertPost(post("old", 2*time.Hour))
	c.UpsertPost(post("new", 0))
	c.UpsertPost(post("mid", time.Hour))

	assert.Equal(t, []string{"new", "mid", "old"}, postIDs(c.Posts()))

	t.Run("replace by id keeps position", func(t *testing.T) {
		updated := post("mid", time.Hour)
		updated.Content = "edited"
		inserted := c.UpsertPost(updated)

		assert.False(t, inserted)
		assert.Equal(t, []string{"new", "mid", "old"}, postIDs(c.Posts()))
		p, ok := c.Post("mid")
		require.True(t, ok)
		assert.Equal(t, "edited", p.Content)
	})

	t.Run("provisional replaced by nonce", func(t *testing.T) {
		c.PrependPost(model.Post{ID: "local-1", Nonce: "local-1", Provisional: true, CreatedAt: t0.Add(time.Minute)})
		confirmed := post("srv-1", -time.Minute)
		confirmed.Nonce = "local-1"
		c.UpsertPost(confirmed)

		assert.Equal(t, []string{"srv-1", "new", "mid", "old"}, postIDs(c.Posts()))
	})
}

func TestReplacePost(t *testing.T) {
	t.Run("same position", func(t *testing.T) {
		c := New(0)
		c.UpsertPost(post("a", time.Hour))
		c.PrependPost(model.Post{ID: "local-x", Provisional: true})

		c.ReplacePost("local-x", post("srv-x", 0))

		assert.Equal(t, []string{"srv-x", "a"}, postIDs(c.Posts()))
	})

	t.Run("event arrived first", func(t *testing.T) {
		c := New(0)
		c.PrependPost(model.Post{ID: "local-x", Provisional: true})
		c.UpsertPost(post("srv-x", 0))

		c.ReplacePost("local-x", post("srv-x", 0))

		assert.Equal(t, []string{"srv-x"}, postIDs(c.Posts()))
	})
}

func TestRemoveAndInsertPostAt(t *testing.T) {
	c := New(0)
	c.UpsertPost(post("a", 0))
	c.UpsertPost(post("b", time.Hour))
	c.UpsertPost(post("c", 2*time.Hour))

	p, idx, ok := c.RemovePost("b")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []string{"a", "c"}, postIDs(c.Posts()))

	c.InsertPostAt(idx, p)
	assert.Equal(t, []string{"a", "b", "c"}, postIDs(c.Posts()))

	_, _, ok = c.RemovePost("missing")
	assert.False(t, ok)
}

func TestCountersNeverNegative(t *testing.T) {
	c := New(0)
	c.UpsertPost(model.Post{ID: "p", CommentCount: 1})

	c.AdjustCommentCount("p", -1)
	c.AdjustCommentCount("p", -1)
	p, _ := c.Post("p")
	assert.Zero(t, p.CommentCount)

	c.SetCommentCount("p", 5)
	c.SetCommentCount("p", 5)
	p, _ = c.Post("p")
	assert.Equal(t, int64(5), p.CommentCount)

	p, _ = c.UpdatePost("p", func(p *model.Post) { p.Likes -= 3 })
	assert.Zero(t, p.Likes)
}

func TestMergePostsKeepsProvisional(t *testing.T) {
	c := New(0)
	c.UpsertPost(post("gone", 3*time.Hour))
	c.PrependPost(model.Post{ID: "local-1", Provisional: true})

	c.MergePosts([]model.Post{post("a", 0), post("b", time.Hour)}, false)

	assert.Equal(t, []string{"local-1", "a", "b"}, postIDs(c.Posts()))
}

func TestMergeFullPageKeepsOlderPosts(t *testing.T) {
	c := New(0)
	c.UpsertPost(post("deleted", 30*time.Minute))
	c.UpsertPost(post("older", 3*time.Hour))

	c.MergePosts([]model.Post{post("a", 0), post("b", time.Hour)}, true)

	assert.Equal(t, []string{"a", "b", "older"}, postIDs(c.Posts()),
		"a full page says nothing about posts older than its last entry")
}

func TestCommentTree(t *testing.T) {
	t.Run("reply attaches under parent", func(t *testing.T) {
		c := New(3)
		assert.Equal(t, Inserted, c.UpsertComment("p", comment("a", "")))
		assert.Equal(t, Inserted, c.UpsertComment("p", comment("b", "a")))

		tree := c.Comments("p")
		require.Len(t, tree, 1)
		assert.Equal(t, []string{"b"}, ids(tree[0].Replies))
		assert.Equal(t, "p", tree[0].Replies[0].PostID)
	})

	t.Run("depth is capped", func(t *testing.T) {
		c := New(3)
		c.UpsertComment("p", comment("d1", ""))
		c.UpsertComment("p", comment("d2", "d1"))
		c.UpsertComment("p", comment("d3", "d2"))
		c.UpsertComment("p", comment("d4", "d3"))
		c.UpsertComment("p", comment("d5", "d4"))

		for _, id := range []string{"d3", "d4", "d5"} {
			depth, ok := c.Depth("p", id)
			require.True(t, ok, id)
			assert.Equal(t, 3, depth, id)
		}
		cm, ok := c.Comment("p", "d5")
		require.True(t, ok)
		assert.Equal(t, "d4", cm.ParentID)

		deepest := 0
		model.Walk(c.Comments("p"), func(_ *model.Comment, depth int) bool {
			if depth > deepest {
				deepest = depth
			}
			return true
		})
		assert.Equal(t, 3, deepest)
	})

	t.Run("depth one flattens everything", func(t *testing.T) {
		c := New(1)
		c.UpsertComment("p", comment("a", ""))
		c.UpsertComment("p", comment("b", "a"))
		assert.Equal(t, []string{"a", "b"}, ids(c.Comments("p")))
	})

	t.Run("replace keeps children", func(t *testing.T) {
		c := New(3)
		c.UpsertComment("p", comment("a", ""))
		c.UpsertComment("p", comment("b", "a"))

		edited := comment("a", "")
		edited.Content = "edited"
		assert.Equal(t, Replaced, c.UpsertComment("p", edited))

		tree := c.Comments("p")
		require.Len(t, tree, 1)
		assert.Equal(t, "edited", tree[0].Content)
		assert.Equal(t, []string{"b"}, ids(tree[0].Replies))
	})

	t.Run("nested input is inserted with cap", func(t *testing.T) {
		c := New(2)
		root := comment("r", "")
		child := comment("r1", "r")
		child.Replies = []*model.Comment{comment("r1a", "r1")}
		root.Replies = []*model.Comment{child}

		c.UpsertComment("p", root)

		tree := c.Comments("p")
		require.Len(t, tree, 1)
		assert.Equal(t, []string{"r1", "r1a"}, ids(tree[0].Replies))
	})
}

func TestOrphanBuffer(t *testing.T) {
	c := New(3)

	assert.Equal(t, Deferred, c.UpsertComment("p", comment("child", "parent")))
	assert.Empty(t, c.Comments("p"))
	assert.Equal(t, 1, c.PendingReplies("p"))

	// duplicate delivery while buffered stays a single entry
	c.UpsertComment("p", comment("child", "parent"))
	assert.Equal(t, 1, c.PendingReplies("p"))

	c.UpsertComment("p", comment("parent", ""))

	tree := c.Comments("p")
	require.Len(t, tree, 1)
	assert.Equal(t, []string{"child"}, ids(tree[0].Replies))
	assert.Zero(t, c.PendingReplies("p"))

	t.Run("delete drops buffered reply", func(t *testing.T) {
		c.UpsertComment("p", comment("late", "nobody"))
		_, _, found := c.RemoveComment("p", "late")
		assert.False(t, found)
		assert.Zero(t, c.PendingReplies("p"))
	})
}

func TestIdempotentUpsert(t *testing.T) {
	c := New(3)
	c.UpsertComment("p", comment("a", ""))
	c.UpsertComment("p", comment("b", "a"))
	before := c.Comments("p")

	c.UpsertComment("p", comment("b", "a"))
	c.UpsertComment("p", comment("a", ""))

	assert.Equal(t, before, c.Comments("p"))
	assert.Equal(t, 2, model.CountComments(c.Comments("p")))
}

func TestReplaceComment(t *testing.T) {
	t.Run("provisional confirmed in place", func(t *testing.T) {
		c := New(3)
		c.UpsertComment("p", comment("a", ""))
		c.UpsertComment("p", &model.Comment{ID: "local-1", Provisional: true})
		c.UpsertComment("p", comment("z", ""))

		c.ReplaceComment("p", "local-1", comment("srv-1", ""))

		assert.Equal(t, []string{"a", "srv-1", "z"}, ids(c.Comments("p")))
	})

	t.Run("event first then confirmation", func(t *testing.T) {
		c := New(3)
		c.UpsertComment("p", &model.Comment{ID: "local-1", Provisional: true})
		c.UpsertComment("p", comment("srv-1", ""))

		c.ReplaceComment("p", "local-1", comment("srv-1", ""))

		assert.Equal(t, []string{"srv-1"}, ids(c.Comments("p")))
	})

	t.Run("event carrying nonce replaces provisional", func(t *testing.T) {
		c := New(3)
		c.UpsertComment("p", &model.Comment{ID: "local-1", Provisional: true})
		confirmed := comment("srv-1", "")
		confirmed.Nonce = "local-1"

		assert.Equal(t, Replaced, c.UpsertComment("p", confirmed))
		c.ReplaceComment("p", "local-1", confirmed)

		assert.Equal(t, []string{"srv-1"}, ids(c.Comments("p")))
	})
}

func TestRemoveAndRestoreComment(t *testing.T) {
	c := New(3)
	c.UpsertComment("p", comment("a", ""))
	c.UpsertComment("p", comment("a1", "a"))
	c.UpsertComment("p", comment("a2", "a"))
	c.UpsertComment("p", comment("a3", "a"))
	c.UpsertComment("p", comment("a2x", "a2"))

	removed, loc, ok := c.RemoveComment("p", "a2")
	require.True(t, ok)
	assert.Equal(t, Location{ParentID: "a", Index: 1}, loc)
	assert.Equal(t, []string{"a2x"}, ids(removed.Replies))
	assert.Equal(t, 3, model.CountComments(c.Comments("p")))

	c.RestoreComment("p", removed, loc)

	tree := c.Comments("p")
	assert.Equal(t, []string{"a1", "a2", "a3"}, ids(tree[0].Replies))
	assert.Equal(t, []string{"a2x"}, ids(tree[0].Replies[1].Replies))
}

func TestSetComments(t *testing.T) {
	c := New(3)
	c.UpsertComment("p", comment("stale", ""))
	c.UpsertComment("p", &model.Comment{ID: "local-1", Provisional: true})
	c.UpsertComment("p", &model.Comment{ID: "local-2", Provisional: true})

	confirmed := comment("srv-1", "")
	confirmed.Nonce = "local-1"
	kept := c.SetComments("p", []*model.Comment{comment("x", ""), confirmed})

	assert.Equal(t, 1, kept)
	assert.Equal(t, []string{"x", "srv-1", "local-2"}, ids(c.Comments("p")))
}

func TestReadersGetCopies(t *testing.T) {
	c := New(3)
	c.UpsertComment("p", comment("a", ""))

	tree := c.Comments("p")
	tree[0].Content = "mutated"
	tree[0].Replies = append(tree[0].Replies, comment("injected", "a"))

	fresh := c.Comments("p")
	assert.Equal(t, "a", fresh[0].Content)
	assert.Empty(t, fresh[0].Replies)
}

func TestListenersAndEpoch(t *testing.T) {
	c := New(3)
	var mu sync.Mutex
	var seen []Change
	unsubscribe := c.Subscribe(func(ch Change) {
		mu.Lock()
		seen = append(seen, ch)
		mu.Unlock()
	})

	c.UpsertPost(post("a", 0))
	c.UpsertComment("a", comment("c", ""))
	c.Clear()

	require.Len(t, seen, 3)
	assert.Equal(t, uint64(1), seen[0].Version)
	assert.Equal(t, ReasonComments, seen[1].Reason)
	assert.Equal(t, ReasonCleared, seen[2].Reason)
	assert.Equal(t, uint64(1), seen[2].Epoch)
	assert.Equal(t, uint64(1), c.Epoch())
	assert.Empty(t, c.Posts())
	assert.Empty(t, c.Comments("a"))

	unsubscribe()
	c.UpsertPost(post("b", 0))
	assert.Len(t, seen, 3)
}

func TestSnapshotRestore(t *testing.T) {
	c := New(3)
	c.UpsertPost(post("a", 0))
	c.PrependPost(model.Post{ID: "local-p", Provisional: true})
	c.UpsertComment("a", comment("c1", ""))
	c.UpsertComment("a", &model.Comment{ID: "local-c", Provisional: true})

	snap := c.Snapshot()

	restored := New(3)
	restored.Restore(snap)

	assert.Equal(t, []string{"a"}, postIDs(restored.Posts()))
	assert.Equal(t, []string{"c1"}, ids(restored.Comments("a")))
}

func TestConcurrentWriters(t *testing.T) {
	c := New(3)
	c.UpsertPost(post("p", 0))
	c.UpsertComment("p", comment("root", ""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.UpsertComment("p", comment("dup", "root"))
				c.SetCommentCount("p", 2)
				_ = c.Comments("p")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, model.CountComments(c.Comments("p")))
	p, _ := c.Post("p")
	assert.Equal(t, int64(2), p.CommentCount)
}
