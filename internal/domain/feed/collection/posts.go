package collection

import (
	"time"

	"feedsync/internal/domain/feed/model"
)

func (c *Collection) Posts() []model.Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Post(nil), c.posts...)
}

func (c *Collection) Post(id string) (model.Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.postIndexLocked(id); i >= 0 {
		return c.posts[i], true
	}
	return model.Post{}, false
}

// PrependPost puts p at the head of the feed.
func (c *Collection) PrependPost(p model.Post) {
	c.mu.Lock()
	p.ClampCounters()
	c.posts = append([]model.Post{p}, c.posts...)
	change, ls := c.commitLocked(ReasonPosts, p.ID)
	c.mu.Unlock()
	notify(ls, change)
}

// UpsertPost replaces the post with the same id, or the provisional post
// whose id equals p.Nonce, in place. Otherwise p is inserted by created-at
// order. Reports whether p was inserted.
func (c *Collection) UpsertPost(p model.Post) bool {
	c.mu.Lock()
	inserted := c.upsertPostLocked(p)
	change, ls := c.commitLocked(ReasonPosts, p.ID)
	c.mu.Unlock()
	notify(ls, change)
	return inserted
}

func (c *Collection) upsertPostLocked(p model.Post) bool {
	p.ClampCounters()
	if i := c.postIndexLocked(p.ID); i >= 0 {
		c.posts[i] = p
		c.dropPostNonceDuplicateLocked(p, i)
		return false
	}
	if p.Nonce != "" {
		if i := c.postIndexLocked(p.Nonce); i >= 0 {
			c.posts[i] = p
			c.moveCommentsLocked(p.Nonce, p.ID)
			return false
		}
	}
	at := len(c.posts)
	for i, existing := range c.posts {
		if !existing.Provisional && existing.CreatedAt.Before(p.CreatedAt) {
			at = i
			break
		}
	}
	c.posts = append(c.posts, model.Post{})
	copy(c.posts[at+1:], c.posts[at:])
	c.posts[at] = p
	return true
}

// dropPostNonceDuplicateLocked removes a provisional post that stands for p when
// p itself is already present at index keep.
func (c *Collection) dropPostNonceDuplicateLocked(p model.Post, keep int) {
	if p.Nonce == "" || p.Nonce == p.ID {
		return
	}
	if j := c.postIndexLocked(p.Nonce); j >= 0 && j != keep && c.posts[j].Provisional {
		c.posts = append(c.posts[:j], c.posts[j+1:]...)
		c.moveCommentsLocked(p.Nonce, p.ID)
	}
}

// ReplacePost swaps the provisional post oldID for the confirmed p at the
// same position. If p already arrived by another path the provisional
// entry is dropped and the existing one updated. Missing oldID inserts p.
func (c *Collection) ReplacePost(oldID string, p model.Post) {
	c.mu.Lock()
	p.ClampCounters()
	oldIdx := c.postIndexLocked(oldID)
	newIdx := c.postIndexLocked(p.ID)
	switch {
	case oldIdx >= 0 && newIdx >= 0 && oldIdx != newIdx:
		c.posts[newIdx] = p
		c.posts = append(c.posts[:oldIdx], c.posts[oldIdx+1:]...)
	case oldIdx >= 0:
		c.posts[oldIdx] = p
	default:
		c.upsertPostLocked(p)
	}
	c.moveCommentsLocked(oldID, p.ID)
	change, ls := c.commitLocked(ReasonPosts, p.ID)
	c.mu.Unlock()
	notify(ls, change)
}

// RemovePost deletes the post and returns it with its former index.
func (c *Collection) RemovePost(id string) (model.Post, int, bool) {
	c.mu.Lock()
	i := c.postIndexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return model.Post{}, -1, false
	}
	p := c.posts[i]
	c.posts = append(c.posts[:i], c.posts[i+1:]...)
	change, ls := c.commitLocked(ReasonPosts, id)
	c.mu.Unlock()
	notify(ls, change)
	return p, i, true
}

// InsertPostAt restores p at index i (clamped), unless it is present.
func (c *Collection) InsertPostAt(i int, p model.Post) {
	c.mu.Lock()
	if c.postIndexLocked(p.ID) >= 0 {
		c.mu.Unlock()
		return
	}
	if i < 0 {
		i = 0
	}
	if i > len(c.posts) {
		i = len(c.posts)
	}
	c.posts = append(c.posts, model.Post{})
	copy(c.posts[i+1:], c.posts[i:])
	c.posts[i] = p
	change, ls := c.commitLocked(ReasonPosts, p.ID)
	c.mu.Unlock()
	notify(ls, change)
}

// UpdatePost applies fn to the stored post. Counters are floored at zero
// afterwards. Returns the updated copy.
func (c *Collection) UpdatePost(id string, fn func(p *model.Post)) (model.Post, bool) {
	c.mu.Lock()
	i := c.postIndexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return model.Post{}, false
	}
	fn(&c.posts[i])
	c.posts[i].ID = id
	c.posts[i].ClampCounters()
	p := c.posts[i]
	change, ls := c.commitLocked(ReasonCounters, id)
	c.mu.Unlock()
	notify(ls, change)
	return p, true
}

// SetCommentCount overwrites the comment count with an authoritative value.
func (c *Collection) SetCommentCount(postID string, n int64) bool {
	_, ok := c.UpdatePost(postID, func(p *model.Post) { p.CommentCount = n })
	return ok
}

// AdjustCommentCount moves the comment count by delta, floored at zero.
func (c *Collection) AdjustCommentCount(postID string, delta int64) bool {
	_, ok := c.UpdatePost(postID, func(p *model.Post) { p.CommentCount += delta })
	return ok
}

// MergePosts applies an authoritative page: every post is replaced by id or
// inserted in order. An absent post is dropped only where the page proves it
// gone, which is anywhere for a short page and within the page's created-at
// window for a full one. Provisional posts always stay.
func (c *Collection) MergePosts(page []model.Post, full bool) {
	c.mu.Lock()
	keep := make(map[string]bool, len(page))
	var oldest time.Time
	for i, p := range page {
		keep[p.ID] = true
		if p.Nonce != "" {
			keep[p.Nonce] = true
		}
		if i == 0 || p.CreatedAt.Before(oldest) {
			oldest = p.CreatedAt
		}
	}
	kept := c.posts[:0]
	for _, p := range c.posts {
		beyond := full && len(page) > 0 && p.CreatedAt.Before(oldest)
		if p.Provisional || keep[p.ID] || beyond {
			kept = append(kept, p)
		}
	}
	c.posts = kept
	for _, p := range page {
		c.upsertPostLocked(p)
	}
	change, ls := c.commitLocked(ReasonPosts, "")
	c.mu.Unlock()
	notify(ls, change)
}

func (c *Collection) postIndexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.posts {
		if c.posts[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) moveCommentsLocked(from, to string) {
	if from == to {
		return
	}
	if list, ok := c.comments[from]; ok {
		for _, cm := range list {
			model.Walk([]*model.Comment{cm}, func(n *model.Comment, _ int) bool {
				n.PostID = to
				return true
			})
		}
		c.comments[to] = append(c.comments[to], list...)
		delete(c.comments, from)
	}
	delete(c.orphans, from)
}
