package feed

import (
	"context"
	"fmt"

	"feedsync/internal/domain/feed/handler"
	"feedsync/internal/domain/feed/repository"
	"feedsync/internal/domain/feed/session"
	"feedsync/internal/pkg/identity"
	"feedsync/internal/pkg/realtime"
	"feedsync/internal/pkg/registry"
	"feedsync/internal/pkg/uploader"
	"feedsync/pkg/cache"
)

// FeedModule 动态同步模块
type FeedModule struct {
	sessions *session.Manager
}

func init() {
	registry.Register(&FeedModule{})
}

func (m *FeedModule) Name() string {
	return "feed"
}

func (m *FeedModule) Priority() int {
	return 10
}

func (m *FeedModule) Init(ctx *registry.ModuleContext) error {
	cfg := ctx.Config

	// 1. 依赖注入
	auth := identity.NewJWTIdentity(cfg.JWT.Secret)
	bus := realtime.NewRedisFeed(ctx.Redis)
	store := repository.NewPostgresStore(ctx.DB, auth, bus)

	var blobs repository.BlobStore = uploader.Disabled{}
	if cfg.OSS.Endpoint != "" {
		oss, err := uploader.NewAliyunOSSUploader(cfg.OSS)
		if err != nil {
			return fmt.Errorf("init oss uploader: %w", err)
		}
		blobs = oss
	}

	m.sessions = session.NewManager(session.Deps{
		Auth:       auth,
		Data:       store,
		Blobs:      blobs,
		Feed:       bus,
		Profiles:   store,
		Cache:      cache.NewRedisCache(ctx.Redis, cfg.Server.Mode, ctx.Metrics),
		Dispatcher: ctx.Pool,
		Sync:       cfg.Sync,
		OSS:        cfg.OSS,
		Metrics:    ctx.Metrics,
	})

	// 2. 路由注册
	handler.RegisterRoutes(ctx.Router, handler.NewFeedHandler(m.sessions, cfg.Sync.FeedPageSize))
	return nil
}

// Shutdown ends the active session so watches and queued work stop.
func (m *FeedModule) Shutdown(ctx context.Context) {
	if m.sessions != nil {
		m.sessions.SignOut(ctx)
	}
}
