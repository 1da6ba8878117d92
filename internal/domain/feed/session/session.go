// Package session owns the lifecycle of the signed-in user's feed: the
// collection, mutation layer and reconciler live exactly as long as the
// session does.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"feedsync/internal/domain/feed/collection"
	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/reconciler"
	"feedsync/internal/domain/feed/repository"
	"feedsync/internal/domain/feed/service"
	"feedsync/internal/pkg/config"
	"feedsync/internal/pkg/worker"
	"feedsync/pkg/cache"
	"feedsync/pkg/logger"
	"feedsync/pkg/metrics"
)

const snapshotTask = "save_snapshot"

// Authenticator turns a token into the current identity.
type Authenticator interface {
	repository.IdentityProvider
	SignIn(token string) (*model.Identity, error)
	SignOut()
}

// ProfileSync mirrors the signed-in identity into the backend.
type ProfileSync interface {
	EnsureProfile(ctx context.Context, id model.Identity) error
}

type Deps struct {
	Auth       Authenticator
	Data       repository.DataStore
	Blobs      repository.BlobStore
	Feed       repository.ChangeFeed
	Profiles   ProfileSync
	Cache      cache.CacheService
	Dispatcher service.Dispatcher
	Sync       config.SyncConfig
	OSS        config.OSSConfig
	Metrics    *metrics.MetricsCollector
}

// Session 当前登录会话
type Session struct {
	Identity   model.Identity
	Collection *collection.Collection
	Mutations  service.MutationService
	Reconciler *reconciler.Reconciler

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	saveQueued  atomic.Bool
	// saveMu orders snapshot writes against the delete on sign-out
	saveMu sync.Mutex
}

// Context is cancelled on sign-out. Mutations and watches started for the
// session should run under it rather than a request context.
func (s *Session) Context() context.Context {
	return s.ctx
}

func snapshotKey(userID string) string {
	return "feed:" + userID
}

// Manager holds at most one Session.
type Manager struct {
	deps Deps

	mu      sync.Mutex
	current *Session
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps}
}

// Current returns the active session.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// SignIn validates token, restores the cached snapshot, starts the feed
// subscription and loads the first page. An existing session is signed
// out first.
func (m *Manager) SignIn(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.signOutLocked(ctx)
	}

	me, err := m.deps.Auth.SignIn(token)
	if err != nil {
		return nil, err
	}
	if m.deps.Profiles != nil {
		if err := m.deps.Profiles.EnsureProfile(ctx, *me); err != nil {
			m.deps.Auth.SignOut()
			return nil, errors.Join(model.ErrNetworkFailure, err)
		}
	}

	coll := collection.New(m.deps.Sync.MaxReplyDepth)
	sctx, cancel := context.WithCancel(context.Background())
	store := repository.Compose(m.deps.Auth, m.deps.Data, m.deps.Blobs)
	s := &Session{
		Identity:   *me,
		Collection: coll,
		Mutations: service.NewMutationService(store, coll, m.deps.Dispatcher, service.Options{
			PostBucket:    m.deps.OSS.PostBucket,
			CommentBucket: m.deps.OSS.CommentBucket,
			FeedPageSize:  m.deps.Sync.FeedPageSize,
			Metrics:       m.deps.Metrics,
		}),
		Reconciler: reconciler.New(m.deps.Feed, m.deps.Data, coll, m.deps.Metrics, m.deps.Sync.EventBuffer),
		ctx:        sctx,
		cancel:     cancel,
	}

	m.restore(ctx, s)
	s.unsubscribe = coll.Subscribe(func(ch collection.Change) {
		m.deps.Metrics.SetCollectionVersion(ch.Version)
		m.scheduleSave(s, ch)
	})

	if _, err := s.Reconciler.Watch(sctx, model.Scope{}); err != nil {
		logger.Log.Warn("Feed subscription unavailable", zap.Error(err))
	}
	// 离线时保留缓存快照
	if err := s.Mutations.LoadFeed(ctx, m.deps.Sync.FeedPageSize); err != nil {
		logger.Log.Warn("Initial feed load failed", zap.String("user_id", me.ID), zap.Error(err))
	}

	m.current = s
	logger.Log.Info("Session started", zap.String("user_id", me.ID))
	return s, nil
}

// SignOut tears down the session. It is a no-op when signed out.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.signOutLocked(ctx)
	}
}

func (m *Manager) signOutLocked(ctx context.Context) {
	s := m.current
	m.current = nil

	s.unsubscribe()
	s.Reconciler.CloseAll()
	s.Collection.Clear()
	// in-flight confirmations observe the new epoch and stop touching the collection
	s.cancel()

	s.saveMu.Lock()
	if err := m.deps.Cache.Delete(ctx, snapshotKey(s.Identity.ID)); err != nil {
		logger.Log.Warn("Failed to drop feed snapshot", zap.String("user_id", s.Identity.ID), zap.Error(err))
	}
	s.saveMu.Unlock()
	m.deps.Auth.SignOut()
	logger.Log.Info("Session ended", zap.String("user_id", s.Identity.ID))
}

func (m *Manager) restore(ctx context.Context, s *Session) {
	var snap collection.Snapshot
	err := m.deps.Cache.Get(ctx, snapshotKey(s.Identity.ID), &snap)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return
	case err != nil:
		logger.Log.Warn("Failed to read feed snapshot", zap.String("user_id", s.Identity.ID), zap.Error(err))
		return
	}
	s.Collection.Restore(snap)
	logger.Log.Debug("Feed snapshot restored",
		zap.String("user_id", s.Identity.ID),
		zap.Int("posts", len(snap.Posts)))
}

// scheduleSave coalesces bursts of changes into one queued save.
func (m *Manager) scheduleSave(s *Session, ch collection.Change) {
	if ch.Reason == collection.ReasonCleared {
		return
	}
	if !s.saveQueued.CompareAndSwap(false, true) {
		return
	}
	err := m.deps.Dispatcher.Submit(worker.Task{
		Name:     snapshotTask,
		Ctx:      s.ctx,
		MaxRetry: 2,
		Run: func(ctx context.Context) error {
			s.saveQueued.Store(false)
			return m.save(ctx, s)
		},
		OnFailure: func(err error) {
			s.saveQueued.Store(false)
			if !errors.Is(err, context.Canceled) {
				logger.CaptureError(err, "Feed snapshot not saved", zap.String("user_id", s.Identity.ID))
			}
		},
	})
	if err != nil {
		s.saveQueued.Store(false)
		logger.Log.Debug("Snapshot save not queued", zap.Error(err))
	}
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.ctx.Err(); err != nil {
		return nil
	}
	ttl := m.deps.Sync.SnapshotTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return m.deps.Cache.Set(ctx, snapshotKey(s.Identity.ID), s.Collection.Snapshot(), ttl)
}
