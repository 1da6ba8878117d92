package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RawRecord is a loosely typed backend row as decoded from JSON or msgpack.
type RawRecord = map[string]interface{}

// ChangeType 变更类型
type ChangeType string

const (
	Inserted ChangeType = "INSERT"
	Updated  ChangeType = "UPDATE"
	Deleted  ChangeType = "DELETE"
)

// EntityKind 变更实体
type EntityKind string

const (
	KindPost    EntityKind = "post"
	KindComment EntityKind = "comment"
	// KindPostCounter signals that a post aggregate (comment count) moved
	// without carrying the value itself.
	KindPostCounter EntityKind = "post_counter"
)

const (
	FeedChannel          = "posts"
	commentChannelPrefix = "comments:"
)

// ChangeEvent 变更事件
type ChangeEvent struct {
	ID          string     `msgpack:"id"`
	Type        ChangeType `msgpack:"type"`
	Kind        EntityKind `msgpack:"kind"`
	EntityID    string     `msgpack:"entity_id"`
	PostID      string     `msgpack:"post_id"`
	New         RawRecord  `msgpack:"new,omitempty"`
	Old         RawRecord  `msgpack:"old,omitempty"`
	CommittedAt time.Time  `msgpack:"committed_at"`
}

// viewerFields are computed for the session that read the row. They never
// travel on the bus because every subscriber has its own viewer.
var viewerFields = []string{"is_liked"}

// NewEvent stamps a change event with a ULID and commit time. The records
// are copied without viewer fields.
func NewEvent(typ ChangeType, kind EntityKind, entityID, postID string, newRec, oldRec RawRecord) ChangeEvent {
	return ChangeEvent{
		ID:          ulid.Make().String(),
		Type:        typ,
		Kind:        kind,
		EntityID:    entityID,
		PostID:      postID,
		New:         sharedRecord(newRec),
		Old:         sharedRecord(oldRec),
		CommittedAt: time.Now().UTC(),
	}
}

func sharedRecord(rec RawRecord) RawRecord {
	if rec == nil {
		return nil
	}
	out := make(RawRecord, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, k := range viewerFields {
		delete(out, k)
	}
	return out
}

// Channel returns the pub/sub channel the event is published on.
func (e ChangeEvent) Channel() string {
	if e.Kind == KindComment {
		return Scope{PostID: e.PostID}.Channel()
	}
	return FeedChannel
}

// Scope selects what a subscription observes. The zero value is the feed
// scope (post-level events); a PostID scopes to that post's comments.
type Scope struct {
	PostID string
}

func (s Scope) Channel() string {
	if s.PostID == "" {
		return FeedChannel
	}
	return commentChannelPrefix + s.PostID
}

func (s Scope) String() string {
	return s.Channel()
}
