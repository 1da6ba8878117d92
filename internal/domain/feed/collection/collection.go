// Package collection holds the canonical in-memory feed: posts ordered most
// recent first, a comment tree per post and a buffer of replies whose parent
// has not arrived yet. Readers always receive copies.
package collection

import (
	"sort"
	"sync"

	"feedsync/internal/domain/feed/model"
)

const DefaultMaxDepth = 3

// Reason describes what kind of change produced a notification.
type Reason string

const (
	ReasonPosts    Reason = "posts"
	ReasonComments Reason = "comments"
	ReasonCounters Reason = "counters"
	ReasonRestored Reason = "restored"
	ReasonCleared  Reason = "cleared"
)

// Change is delivered to listeners after every mutation.
type Change struct {
	Version uint64 `json:"version"`
	Epoch   uint64 `json:"epoch"`
	Reason  Reason `json:"reason"`
	PostID  string `json:"postId,omitempty"`
}

type Listener func(Change)

// Snapshot is a point-in-time copy of the collection.
type Snapshot struct {
	Version  uint64                      `json:"version"`
	Posts    []model.Post                `json:"posts"`
	Comments map[string][]*model.Comment `json:"comments"`
}

// Collection 帖子与评论的内存视图
type Collection struct {
	mu       sync.RWMutex
	maxDepth int

	posts    []model.Post
	comments map[string][]*model.Comment
	// postID -> missing parent id -> waiting replies
	orphans map[string]map[string][]*model.Comment

	version uint64
	epoch   uint64

	listeners    map[uint64]Listener
	nextListener uint64
}

// New creates an empty collection. maxDepth < 1 uses DefaultMaxDepth.
func New(maxDepth int) *Collection {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	return &Collection{
		maxDepth:  maxDepth,
		comments:  make(map[string][]*model.Comment),
		orphans:   make(map[string]map[string][]*model.Comment),
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers l and returns a func that removes it.
func (c *Collection) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Version is the number of mutations applied so far.
func (c *Collection) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Epoch changes on every Clear.
func (c *Collection) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *Collection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Version:  c.version,
		Posts:    append([]model.Post(nil), c.posts...),
		Comments: make(map[string][]*model.Comment, len(c.comments)),
	}
	for postID, list := range c.comments {
		s.Comments[postID] = model.CloneComments(list)
	}
	return s
}

// Restore replaces the whole state with s, skipping provisional records.
func (c *Collection) Restore(s Snapshot) {
	c.mu.Lock()
	c.posts = c.posts[:0]
	for _, p := range s.Posts {
		if p.Provisional || p.ID == "" {
			continue
		}
		c.posts = append(c.posts, p)
	}
	c.comments = make(map[string][]*model.Comment, len(s.Comments))
	c.orphans = make(map[string]map[string][]*model.Comment)
	for postID, list := range s.Comments {
		kept := confirmedOnly(list)
		if len(kept) > 0 {
			c.comments[postID] = kept
		}
	}
	change, ls := c.commitLocked(ReasonRestored, "")
	c.mu.Unlock()
	notify(ls, change)
}

// Clear drops everything and starts a new epoch.
func (c *Collection) Clear() {
	c.mu.Lock()
	c.posts = nil
	c.comments = make(map[string][]*model.Comment)
	c.orphans = make(map[string]map[string][]*model.Comment)
	c.epoch++
	change, ls := c.commitLocked(ReasonCleared, "")
	c.mu.Unlock()
	notify(ls, change)
}

// commitLocked bumps the version and captures the listeners to call once
// the lock is released.
func (c *Collection) commitLocked(reason Reason, postID string) (Change, []Listener) {
	c.version++
	ls := make([]Listener, 0, len(c.listeners))
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ls = append(ls, c.listeners[id])
	}
	return Change{Version: c.version, Epoch: c.epoch, Reason: reason, PostID: postID}, ls
}

func notify(ls []Listener, change Change) {
	for _, l := range ls {
		l(change)
	}
}

func confirmedOnly(list []*model.Comment) []*model.Comment {
	var out []*model.Comment
	for _, cm := range list {
		if cm == nil || cm.Provisional || cm.ID == "" {
			continue
		}
		cp := *cm
		cp.Replies = confirmedOnly(cm.Replies)
		out = append(out, &cp)
	}
	return out
}
