// Package mocks holds testify mocks of the repository interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/repository"
)

// MockRemoteStore is a mock of repository.RemoteStore
type MockRemoteStore struct {
	mock.Mock
}

func (m *MockRemoteStore) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Identity), args.Error(1)
}

func (m *MockRemoteStore) FetchPosts(ctx context.Context, limit int) ([]model.RawRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) FetchPost(ctx context.Context, id string) (model.RawRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) CreatePost(ctx context.Context, in model.NewPost) (model.RawRecord, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) UpdatePost(ctx context.Context, id string, patch model.Patch) (model.RawRecord, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) DeletePost(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRemoteStore) FetchComments(ctx context.Context, postID string) ([]model.RawRecord, error) {
	args := m.Called(ctx, postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) FetchComment(ctx context.Context, id string) (model.RawRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) CreateComment(ctx context.Context, in model.NewComment) (model.RawRecord, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) UpdateComment(ctx context.Context, id string, patch model.Patch) (model.RawRecord, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.RawRecord), args.Error(1)
}

func (m *MockRemoteStore) DeleteComment(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRemoteStore) CountComments(ctx context.Context, postID string) (int64, error) {
	args := m.Called(ctx, postID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRemoteStore) SetLike(ctx context.Context, target model.LikeTarget, liked bool) error {
	args := m.Called(ctx, target, liked)
	return args.Error(0)
}

func (m *MockRemoteStore) UploadBinary(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, bucket, path, data, contentType)
	return args.String(0), args.Error(1)
}

var _ repository.RemoteStore = (*MockRemoteStore)(nil)

// FakeFeed is an in-process ChangeFeed that lets tests push events.
type FakeFeed struct {
	mu          sync.Mutex
	handlers    map[string]func(model.ChangeEvent)
	SubscribeFn func(scope model.Scope) error
}

func NewFakeFeed() *FakeFeed {
	return &FakeFeed{handlers: make(map[string]func(model.ChangeEvent))}
}

func (f *FakeFeed) Subscribe(_ context.Context, scope model.Scope, onEvent func(model.ChangeEvent)) (repository.Subscription, error) {
	if f.SubscribeFn != nil {
		if err := f.SubscribeFn(scope); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.handlers[scope.Channel()] = onEvent
	f.mu.Unlock()
	return &fakeSubscription{feed: f, channel: scope.Channel()}, nil
}

// Emit delivers ev to the subscriber of its channel, if any.
func (f *FakeFeed) Emit(ev model.ChangeEvent) bool {
	f.mu.Lock()
	h := f.handlers[ev.Channel()]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(ev)
	return true
}

// Subscribed reports whether a handler is registered for scope.
func (f *FakeFeed) Subscribed(scope model.Scope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[scope.Channel()]
	return ok
}

type fakeSubscription struct {
	feed    *FakeFeed
	channel string
}

func (s *fakeSubscription) Unsubscribe() error {
	s.feed.mu.Lock()
	delete(s.feed.handlers, s.channel)
	s.feed.mu.Unlock()
	return nil
}
