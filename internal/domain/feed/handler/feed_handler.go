package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/service"
	"feedsync/internal/domain/feed/session"
	"feedsync/internal/pkg/middleware"
	"feedsync/pkg/logger"
	"feedsync/pkg/response"
	"feedsync/pkg/utils"
)

const (
	sessionKey   = "session"
	maxPageLimit = 200
)

type FeedHandler struct {
	sessions *session.Manager
	pageSize int
}

func NewFeedHandler(sessions *session.Manager, pageSize int) *FeedHandler {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &FeedHandler{sessions: sessions, pageSize: pageSize}
}

// ImageInput 图片附件, data 为 base64
type ImageInput struct {
	Data        []byte `json:"data" binding:"required"`
	ContentType string `json:"contentType" binding:"omitempty,oneof=image/jpeg image/png image/gif image/webp"`
}

// PostInput 发布动态输入
type PostInput struct {
	Content string      `json:"content"`
	Image   *ImageInput `json:"image"`
	// SkipFailedImage publishes without the image when the upload fails.
	SkipFailedImage bool `json:"skipFailedImage"`
}

// CommentInput 评论输入
type CommentInput struct {
	Content         string      `json:"content"`
	ParentID        string      `json:"parentId"`
	Image           *ImageInput `json:"image"`
	SkipFailedImage bool        `json:"skipFailedImage"`
}

// UpdateCommentInput 编辑评论输入
type UpdateCommentInput struct {
	Content         string      `json:"content"`
	Image           *ImageInput `json:"image"`
	SkipFailedImage bool        `json:"skipFailedImage"`
}

// UpdatePostInput 编辑动态输入; 不带 image 时保留原图
type UpdatePostInput struct {
	Content         string      `json:"content"`
	Image           *ImageInput `json:"image"`
	SkipFailedImage bool        `json:"skipFailedImage"`
}

// LikeInput 点赞输入
type LikeInput struct {
	Kind      string `json:"kind" binding:"required,oneof=post comment"`
	PostID    string `json:"postId" binding:"required"`
	CommentID string `json:"commentId" binding:"required_if=Kind comment"`
}

// CommentsOutput 评论树
type CommentsOutput struct {
	PostID   string           `json:"postId"`
	Count    int64            `json:"count"`
	Comments []*model.Comment `json:"comments"`
}

// SignIn 使用 Bearer token 登录
func (h *FeedHandler) SignIn(c *gin.Context) {
	s, err := h.sessions.SignIn(c.Request.Context(), c.GetString(middleware.TokenKey))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"user": s.Identity, "version": s.Collection.Version()})
}

// SignOut 登出并清空本地状态
func (h *FeedHandler) SignOut(c *gin.Context) {
	h.sessions.SignOut(c.Request.Context())
	response.Success(c, "success")
}

// RequireSession rejects requests made while signed out.
func (h *FeedHandler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := h.sessions.Current()
		if !ok {
			response.Error(c, http.StatusUnauthorized, response.ErrNoSession, "Not signed in")
			c.Abort()
			return
		}
		c.Set(sessionKey, s)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// GetFeed 返回本地动态列表, refresh=true 时先从远端拉取
func (h *FeedHandler) GetFeed(c *gin.Context) {
	s := currentSession(c)
	var q utils.FeedQuery
	_ = c.ShouldBindQuery(&q)

	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		if err := s.Mutations.LoadFeed(c.Request.Context(), q.PageLimit(h.pageSize, maxPageLimit)); err != nil {
			fail(c, err)
			return
		}
	}
	response.Success(c, gin.H{"version": s.Collection.Version(), "posts": s.Collection.Posts()})
}

// CreatePost 乐观发布动态
func (h *FeedHandler) CreatePost(c *gin.Context) {
	var input PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	s := currentSession(c)
	post, pending, err := s.Mutations.CreatePost(s.Context(), model.PostDraft{
		Content:         input.Content,
		Image:           input.Image.toModel(),
		OnUploadFailure: uploadDecision(input.SkipFailedImage),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, post, pending)
}

// UpdatePost 乐观编辑自己的动态
func (h *FeedHandler) UpdatePost(c *gin.Context) {
	var input UpdatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	s := currentSession(c)
	post, pending, err := s.Mutations.UpdatePost(s.Context(), model.PostEdit{
		PostID:          c.Param("id"),
		Content:         input.Content,
		Image:           input.Image.toModel(),
		OnUploadFailure: uploadDecision(input.SkipFailedImage),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, post, pending)
}

// DeletePost 乐观删除动态
func (h *FeedHandler) DeletePost(c *gin.Context) {
	s := currentSession(c)
	pending, err := s.Mutations.DeletePost(s.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, struct{}{}, pending)
}

// GetComments 返回评论树, 首次访问或 refresh=true 时从远端拉取
func (h *FeedHandler) GetComments(c *gin.Context) {
	s := currentSession(c)
	postID := c.Param("id")
	if _, ok := s.Collection.Post(postID); !ok {
		response.Error(c, http.StatusNotFound, response.ErrNotFound, "post not found")
		return
	}

	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	comments := s.Collection.Comments(postID)
	if refresh || comments == nil {
		if err := s.Mutations.LoadComments(c.Request.Context(), postID); err != nil {
			fail(c, err)
			return
		}
		comments = s.Collection.Comments(postID)
	}

	out := CommentsOutput{PostID: postID, Comments: comments}
	if p, ok := s.Collection.Post(postID); ok {
		out.Count = p.CommentCount
	}
	if out.Comments == nil {
		out.Comments = []*model.Comment{}
	}
	response.Success(c, out)
}

// CreateComment 乐观发表评论
func (h *FeedHandler) CreateComment(c *gin.Context) {
	var input CommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	s := currentSession(c)
	comment, pending, err := s.Mutations.CreateComment(s.Context(), model.CommentDraft{
		PostID:          c.Param("id"),
		ParentID:        input.ParentID,
		Content:         input.Content,
		Image:           input.Image.toModel(),
		OnUploadFailure: uploadDecision(input.SkipFailedImage),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, comment, pending)
}

// UpdateComment 乐观编辑评论
func (h *FeedHandler) UpdateComment(c *gin.Context) {
	var input UpdateCommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	s := currentSession(c)
	comment, pending, err := s.Mutations.UpdateComment(s.Context(), model.CommentEdit{
		PostID:          c.Param("id"),
		CommentID:       c.Param("commentId"),
		Content:         input.Content,
		Image:           input.Image.toModel(),
		OnUploadFailure: uploadDecision(input.SkipFailedImage),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, comment, pending)
}

// DeleteComment 乐观删除评论及其回复
func (h *FeedHandler) DeleteComment(c *gin.Context) {
	s := currentSession(c)
	pending, err := s.Mutations.DeleteComment(s.Context(), c.Param("id"), c.Param("commentId"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, struct{}{}, pending)
}

// ToggleLike 点赞/取消点赞
func (h *FeedHandler) ToggleLike(c *gin.Context) {
	var input LikeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	s := currentSession(c)
	liked, pending, err := s.Mutations.ToggleLike(s.Context(), model.LikeTarget{
		Kind:      model.EntityKind(input.Kind),
		PostID:    input.PostID,
		CommentID: input.CommentID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, liked, pending)
}

// Watch 订阅某条动态的评论变更
func (h *FeedHandler) Watch(c *gin.Context) {
	s := currentSession(c)
	w, err := s.Reconciler.Watch(s.Context(), model.Scope{PostID: c.Param("id")})
	if err != nil {
		fail(c, errors.Join(model.ErrNetworkFailure, err))
		return
	}
	response.Success(c, gin.H{"scope": w.Scope().String(), "state": w.State().String()})
}

// Unwatch 取消订阅
func (h *FeedHandler) Unwatch(c *gin.Context) {
	s := currentSession(c)
	if w, ok := s.Reconciler.Lookup(model.Scope{PostID: c.Param("id")}); ok {
		w.Close()
	}
	response.Success(c, "success")
}

func (in *ImageInput) toModel() *model.Image {
	if in == nil {
		return nil
	}
	return &model.Image{Data: in.Data, ContentType: in.ContentType}
}

func uploadDecision(skip bool) model.UploadFailureHandler {
	return func(error) model.UploadDecision {
		if skip {
			return model.ContinueWithoutImage
		}
		return model.AbortOnUploadFailure
	}
}

// respond returns the optimistic value with 202, or with wait=true blocks
// until the remote store confirms.
func respond[T any](c *gin.Context, optimistic T, pending *service.Pending[T]) {
	if wait, _ := strconv.ParseBool(c.Query("wait")); !wait {
		response.Accepted(c, optimistic)
		return
	}
	confirmed, err := pending.Wait(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, confirmed)
}

// fail maps error kinds onto HTTP statuses.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, response.ErrAuthFailed, err.Error())
	case errors.Is(err, model.ErrForbidden):
		response.Error(c, http.StatusForbidden, response.ErrNoPermission, err.Error())
	case errors.Is(err, model.ErrUploadFailure):
		response.Error(c, http.StatusUnprocessableEntity, response.ErrUploadFailed, err.Error())
	case errors.Is(err, model.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.ErrNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
	case errors.Is(err, model.ErrNetworkFailure):
		response.Error(c, http.StatusBadGateway, response.ErrRemoteFailure, err.Error())
	default:
		logger.Log.Error("Unhandled feed error", zap.String("path", c.FullPath()), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal error")
	}
}
