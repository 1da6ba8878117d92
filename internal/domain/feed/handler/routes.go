package handler

import (
	"github.com/gin-gonic/gin"

	"feedsync/internal/pkg/middleware"
)

// RegisterRoutes 注册会话与动态路由
func RegisterRoutes(r *gin.Engine, h *FeedHandler) {
	r.POST("/session", middleware.BearerToken(), h.SignIn)
	r.DELETE("/session", h.SignOut)

	g := r.Group("/feed", h.RequireSession())
	{
		g.GET("", h.GetFeed)
		g.GET("/ws", h.Stream)
		g.POST("/like", h.ToggleLike)

		g.POST("/posts", h.CreatePost)
		g.PUT("/posts/:id", h.UpdatePost)
		g.DELETE("/posts/:id", h.DeletePost)

		g.GET("/posts/:id/comments", h.GetComments)
		g.POST("/posts/:id/comments", h.CreateComment)
		g.PUT("/posts/:id/comments/:commentId", h.UpdateComment)
		g.DELETE("/posts/:id/comments/:commentId", h.DeleteComment)

		g.POST("/posts/:id/watch", h.Watch)
		g.DELETE("/posts/:id/watch", h.Unwatch)
	}
}
