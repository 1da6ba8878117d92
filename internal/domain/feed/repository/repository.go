package repository

import (
	"context"

	"feedsync/internal/domain/feed/model"
)

// IdentityProvider returns the signed-in user, or nil when signed out.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (*model.Identity, error)
}

// PostStore 动态远端存储
type PostStore interface {
	FetchPosts(ctx context.Context, limit int) ([]model.RawRecord, error)
	FetchPost(ctx context.Context, id string) (model.RawRecord, error)
	CreatePost(ctx context.Context, in model.NewPost) (model.RawRecord, error)
	// UpdatePost edits a post owned by the caller.
	UpdatePost(ctx context.Context, id string, patch model.Patch) (model.RawRecord, error)
	DeletePost(ctx context.Context, id string) error
}

// CommentStore 评论远端存储
type CommentStore interface {
	// FetchComments returns the top-level comments of a post, oldest
	// first, each carrying its descendants under "replies".
	FetchComments(ctx context.Context, postID string) ([]model.RawRecord, error)
	FetchComment(ctx context.Context, id string) (model.RawRecord, error)
	CreateComment(ctx context.Context, in model.NewComment) (model.RawRecord, error)
	UpdateComment(ctx context.Context, id string, patch model.Patch) (model.RawRecord, error)
	DeleteComment(ctx context.Context, id string) error
	CountComments(ctx context.Context, postID string) (int64, error)
}

// LikeStore 点赞
type LikeStore interface {
	SetLike(ctx context.Context, target model.LikeTarget, liked bool) error
}

// BlobStore uploads binary data and returns its public URL.
type BlobStore interface {
	UploadBinary(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// Subscription is a live change-feed registration.
type Subscription interface {
	Unsubscribe() error
}

// ChangeFeed delivers change events for a scope until unsubscribed.
type ChangeFeed interface {
	Subscribe(ctx context.Context, scope model.Scope, onEvent func(model.ChangeEvent)) (Subscription, error)
}

// EventPublisher emits change events after writes.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// DataStore is the request/response half of the backend.
type DataStore interface {
	PostStore
	CommentStore
	LikeStore
}

// RemoteStore is everything the mutation layer talks to.
type RemoteStore interface {
	IdentityProvider
	DataStore
	BlobStore
}

type remoteStore struct {
	IdentityProvider
	DataStore
	BlobStore
}

// Compose assembles a RemoteStore from its parts.
func Compose(identity IdentityProvider, data DataStore, blobs BlobStore) RemoteStore {
	return &remoteStore{IdentityProvider: identity, DataStore: data, BlobStore: blobs}
}
