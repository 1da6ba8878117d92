package model

import "time"

// Comment 评论. Replies holds the children attached under this node, which
// may include descendants flattened from deeper levels; ParentID always
// keeps the real parent.
type Comment struct {
	ID          string     `json:"id"`
	PostID      string     `json:"postId"`
	ParentID    string     `json:"parentId,omitempty"`
	Author      Author     `json:"user"`
	Content     string     `json:"content"`
	ImageURI    string     `json:"imageUri,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Likes       int64      `json:"likes"`
	LikedByMe   bool       `json:"likedByMe"`
	Replies     []*Comment `json:"replies,omitempty"`
	Nonce       string     `json:"nonce,omitempty"`
	Provisional bool       `json:"provisional,omitempty"`
}

// Clone returns a deep copy of c including its replies.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Replies = CloneComments(c.Replies)
	return &cp
}

// CloneComments deep-copies a list of comment trees.
func CloneComments(list []*Comment) []*Comment {
	if list == nil {
		return nil
	}
	out := make([]*Comment, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

// Walk visits every comment depth-first in display order. depth starts at 1
// for top-level comments. Returning false from fn stops the walk.
func Walk(list []*Comment, fn func(c *Comment, depth int) bool) {
	type frame struct {
		c     *Comment
		depth int
	}
	stack := make([]frame, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		stack = append(stack, frame{list[i], 1})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.c, f.depth) {
			return
		}
		for i := len(f.c.Replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.c.Replies[i], f.depth + 1})
		}
	}
}

// CountComments returns the number of nodes in the given trees.
func CountComments(list []*Comment) int {
	n := 0
	Walk(list, func(*Comment, int) bool {
		n++
		return true
	})
	return n
}

// NewComment is the remote create payload.
type NewComment struct {
	PostID   string
	ParentID string
	AuthorID string
	Content  string
	ImageURL string
	Nonce    string
}
