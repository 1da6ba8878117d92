package repository

import (
	"time"

	basemodel "feedsync/pkg/model"
)

// Profile 用户资料
type Profile struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	Username  string
	AvatarURL string
}

func (Profile) TableName() string { return "profiles" }

// PostRow 动态表
type PostRow struct {
	basemodel.BaseModel
	UserID      string `gorm:"type:uuid;index"`
	Content     string
	ImageURL    string
	ClientNonce string
	Shares      int64
	User        *Profile `gorm:"foreignKey:UserID"`
}

func (PostRow) TableName() string { return "posts" }

// CommentRow 评论表
type CommentRow struct {
	basemodel.BaseModel
	PostID      string  `gorm:"type:uuid;index"`
	ParentID    *string `gorm:"type:uuid;index"`
	UserID      string  `gorm:"type:uuid"`
	Content     string
	ImageURL    string
	ClientNonce string
	User        *Profile `gorm:"foreignKey:UserID"`
}

func (CommentRow) TableName() string { return "comments" }

type PostLike struct {
	PostID    string `gorm:"primaryKey;type:uuid"`
	UserID    string `gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time
}

func (PostLike) TableName() string { return "post_likes" }

type CommentLike struct {
	CommentID string `gorm:"primaryKey;type:uuid"`
	UserID    string `gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time
}

func (CommentLike) TableName() string { return "comment_likes" }

type countRow struct {
	ID string
	N  int64
}

// stats holds the aggregates joined onto a page of rows.
type stats struct {
	likes    map[string]int64
	comments map[string]int64
	liked    map[string]bool
}

func newStats() stats {
	return stats{likes: map[string]int64{}, comments: map[string]int64{}, liked: map[string]bool{}}
}

func profileRecord(p *Profile) map[string]interface{} {
	if p == nil {
		return nil
	}
	return map[string]interface{}{"id": p.ID, "username": p.Username, "avatar_url": p.AvatarURL}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// postRecord renders a row the way the REST layer would: joined profile and
// aggregation-shaped counts.
func postRecord(row PostRow, st stats) map[string]interface{} {
	rec := map[string]interface{}{
		"id":            row.ID,
		"user_id":       row.UserID,
		"content":       row.Content,
		"created_at":    timestamp(row.CreatedAt),
		"updated_at":    timestamp(row.UpdatedAt),
		"shares":        row.Shares,
		"nonce":         row.ClientNonce,
		"likes_count":   []interface{}{map[string]interface{}{"count": st.likes[row.ID]}},
		"comment_count": map[string]interface{}{"count": st.comments[row.ID]},
		"is_liked":      st.liked[row.ID],
	}
	if row.ImageURL != "" {
		rec["image_url"] = row.ImageURL
	}
	if u := profileRecord(row.User); u != nil {
		rec["user"] = u
	}
	return rec
}

func commentRecord(row CommentRow, st stats) map[string]interface{} {
	rec := map[string]interface{}{
		"id":          row.ID,
		"post_id":     row.PostID,
		"user_id":     row.UserID,
		"content":     row.Content,
		"created_at":  timestamp(row.CreatedAt),
		"updated_at":  timestamp(row.UpdatedAt),
		"nonce":       row.ClientNonce,
		"likes_count": []interface{}{map[string]interface{}{"count": st.likes[row.ID]}},
		"is_liked":    st.liked[row.ID],
	}
	if row.ParentID != nil {
		rec["parent_id"] = *row.ParentID
	}
	if row.ImageURL != "" {
		rec["image_url"] = row.ImageURL
	}
	if u := profileRecord(row.User); u != nil {
		rec["user"] = u
	}
	return rec
}
