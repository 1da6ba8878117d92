package model

import "time"

// Author 作者信息, joined from the profiles table.
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURI string `json:"avatarUri"`
}

// Post 动态
type Post struct {
	ID           string    `json:"id"`
	Author       Author    `json:"user"`
	Content      string    `json:"content"`
	ImageURI     string    `json:"imageUri,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Likes        int64     `json:"likes"`
	CommentCount int64     `json:"comments"`
	Shares       int64     `json:"shares"`
	LikedByMe    bool      `json:"likedByMe"`
	Nonce        string    `json:"nonce,omitempty"`
	Provisional  bool      `json:"provisional,omitempty"`
}

// ClampCounters floors every counter at zero.
func (p *Post) ClampCounters() {
	if p.Likes < 0 {
		p.Likes = 0
	}
	if p.CommentCount < 0 {
		p.CommentCount = 0
	}
	if p.Shares < 0 {
		p.Shares = 0
	}
}

// NewPost is the remote create payload.
type NewPost struct {
	AuthorID string
	Content  string
	ImageURL string
	Nonce    string
}

// Patch is the remote edit payload for posts and comments. An empty
// ImageURL leaves the stored image untouched.
type Patch struct {
	Content  string
	ImageURL string
}
