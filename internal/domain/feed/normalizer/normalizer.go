// Package normalizer converts loosely typed backend records into domain
// entities with safe defaults. It never fails.
package normalizer

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"feedsync/internal/domain/feed/model"
)

const (
	AnonymousName        = "Anonymous"
	PlaceholderAvatarURI = "asset://avatar/placeholder.png"
)

var (
	postCommentKeys = []string{"comment_count", "comments_count", "comments"}
	likeCountKeys   = []string{"likes_count", "likes", "like_count"}
	shareKeys       = []string{"shares", "shares_count"}
	likeFlagKeys    = []string{"is_liked", "liked_by_me", "user_likes"}
	profileKeys     = []string{"user", "profile", "profiles", "author"}
)

// NormalizePost builds a Post from raw.
func NormalizePost(raw model.RawRecord) model.Post {
	p := model.Post{
		ID:           str(raw["id"]),
		Content:      str(raw["content"]),
		ImageURI:     str(first(raw, "image_url", "image")),
		CreatedAt:    timestamp(raw["created_at"]),
		Likes:        NormalizeCount(first(raw, likeCountKeys...)),
		CommentCount: NormalizeCount(first(raw, postCommentKeys...)),
		Shares:       NormalizeCount(first(raw, shareKeys...)),
		LikedByMe:    flag(first(raw, likeFlagKeys...)),
		Nonce:        str(first(raw, "nonce", "client_nonce")),
	}
	p.Author = normalizeAuthor(raw, str(raw["user_id"]))
	return p
}

// NormalizeComment builds a Comment tree from raw, recursing into replies.
func NormalizeComment(raw model.RawRecord) *model.Comment {
	return normalizeComment(raw, "")
}

func normalizeComment(raw model.RawRecord, postID string) *model.Comment {
	c := &model.Comment{
		ID:        str(raw["id"]),
		PostID:    str(raw["post_id"]),
		ParentID:  str(raw["parent_id"]),
		Content:   str(raw["content"]),
		ImageURI:  str(first(raw, "image_url", "image")),
		CreatedAt: timestamp(raw["created_at"]),
		UpdatedAt: timestamp(raw["updated_at"]),
		Likes:     NormalizeCount(first(raw, likeCountKeys...)),
		LikedByMe: flag(first(raw, likeFlagKeys...)),
		Nonce:     str(first(raw, "nonce", "client_nonce")),
	}
	if c.PostID == "" {
		c.PostID = postID
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.Author = normalizeAuthor(raw, str(raw["user_id"]))

	for _, r := range records(raw["replies"]) {
		reply := normalizeComment(r, c.PostID)
		if reply.ParentID == "" {
			reply.ParentID = c.ID
		}
		c.Replies = append(c.Replies, reply)
	}
	return c
}

// NormalizeComments normalizes a list of raw comment trees.
func NormalizeComments(raws []model.RawRecord) []*model.Comment {
	out := make([]*model.Comment, 0, len(raws))
	for _, r := range raws {
		out = append(out, NormalizeComment(r))
	}
	return out
}

// NormalizeCount accepts a bare number, {"count": n} or [{"count": n}] and
// returns a non-negative count. Anything else yields 0.
func NormalizeCount(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case map[string]interface{}:
		return NormalizeCount(t["count"])
	case []interface{}:
		if len(t) == 0 {
			return 0
		}
		return NormalizeCount(t[0])
	case []map[string]interface{}:
		if len(t) == 0 {
			return 0
		}
		return NormalizeCount(t[0]["count"])
	case bool:
		return 0
	}
	n, err := cast.ToInt64E(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HasLikeFlag reports whether raw carries a per-viewer like flag at all.
func HasLikeFlag(raw model.RawRecord) bool {
	return first(raw, likeFlagKeys...) != nil
}

// HasProfile reports whether raw carries the joined author profile.
func HasProfile(raw model.RawRecord) bool {
	return record(first(raw, profileKeys...)) != nil
}

// AuthorFor is the author block for entities created by id locally.
func AuthorFor(id model.Identity) model.Author {
	a := model.Author{ID: id.ID, Name: id.Name, AvatarURI: id.AvatarURI}
	if a.Name == "" {
		if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
			a.Name = local
		} else {
			a.Name = AnonymousName
		}
	}
	if a.AvatarURI == "" {
		a.AvatarURI = PlaceholderAvatarURI
	}
	return a
}

func normalizeAuthor(raw model.RawRecord, fallbackID string) model.Author {
	a := model.Author{ID: fallbackID, Name: AnonymousName, AvatarURI: PlaceholderAvatarURI}
	profile := record(first(raw, profileKeys...))
	if profile == nil {
		return a
	}
	if id := str(profile["id"]); id != "" {
		a.ID = id
	}
	if name := str(first(profile, "username", "name", "display_name", "full_name")); name != "" {
		a.Name = name
	}
	if avatar := str(first(profile, "avatar_url", "avatar", "avatarUri")); avatar != "" {
		a.AvatarURI = avatar
	}
	return a
}

func first(raw model.RawRecord, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

func timestamp(v interface{}) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func flag(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case []interface{}:
		return len(t) > 0
	case []map[string]interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	b, err := cast.ToBoolE(v)
	return err == nil && b
}

// record unwraps a joined row that may arrive as an object or a one-element
// array.
func record(v interface{}) model.RawRecord {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		return record(t[0])
	case []map[string]interface{}:
		if len(t) == 0 {
			return nil
		}
		return t[0]
	}
	return nil
}

func records(v interface{}) []model.RawRecord {
	switch t := v.(type) {
	case []map[string]interface{}:
		return t
	case []interface{}:
		out := make([]model.RawRecord, 0, len(t))
		for _, item := range t {
			if r := record(item); r != nil {
				out = append(out, r)
			}
		}
		return out
	}
	return nil
}
