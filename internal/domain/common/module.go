package common

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	commonHandler "feedsync/internal/pkg/common"
	"feedsync/internal/pkg/registry"
)

// CommonModule 通用功能模块: 健康检查与指标
type CommonModule struct{}

func init() {
	registry.Register(&CommonModule{})
}

func (m *CommonModule) Name() string {
	return "common"
}

func (m *CommonModule) Priority() int {
	return 100 // 最后初始化
}

func (m *CommonModule) Init(ctx *registry.ModuleContext) error {
	deps := map[string]commonHandler.Pinger{}
	if ctx.DB != nil {
		deps["postgres"] = commonHandler.PingFunc(func(c context.Context) error {
			sqlDB, err := ctx.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(c)
		})
	}
	if ctx.Redis != nil {
		deps["redis"] = commonHandler.PingFunc(func(c context.Context) error {
			return ctx.Redis.Ping(c).Err()
		})
	}

	gatherer := ctx.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	setupRoutes(ctx.Router, deps, gatherer)
	return nil
}

func setupRoutes(r *gin.Engine, deps map[string]commonHandler.Pinger, g prometheus.Gatherer) {
	r.GET("/healthz", commonHandler.Health(deps))
	r.GET("/metrics", commonHandler.Metrics(g))
}
