package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/feed/collection"
	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/repository/mocks"
	"feedsync/internal/domain/feed/session"
	"feedsync/internal/pkg/config"
	"feedsync/internal/pkg/identity"
	"feedsync/internal/pkg/worker"
	"feedsync/pkg/cache"
	"feedsync/pkg/response"
	"feedsync/pkg/utils"
)

const secret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router   *gin.Engine
	store    *mocks.MockRemoteStore
	sessions *session.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	pool := worker.NewWorkerPool(2, 16, 10*time.Millisecond, nil)
	pool.Start()
	t.Cleanup(pool.Stop)

	store := new(mocks.MockRemoteStore)
	sessions := session.NewManager(session.Deps{
		Auth:       identity.NewJWTIdentity(secret),
		Data:       store,
		Blobs:      store,
		Feed:       mocks.NewFakeFeed(),
		Cache:      cache.NewMemoryCache(nil),
		Dispatcher: pool,
		Sync:       config.SyncConfig{MaxReplyDepth: 3, FeedPageSize: 50, EventBuffer: 8},
	})
	t.Cleanup(func() { sessions.SignOut(context.Background()) })

	r := gin.New()
	RegisterRoutes(r, NewFeedHandler(sessions, 50))
	return &env{router: r, store: store, sessions: sessions}
}

func (e *env) do(method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	resp := response.Response{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func rawPost(id, authorID string) model.RawRecord {
	return model.RawRecord{
		"id":         id,
		"content":    "hello " + id,
		"created_at": time.Now().Format(time.RFC3339Nano),
		"user":       map[string]interface{}{"id": authorID, "username": authorID},
	}
}

func (e *env) signIn(t *testing.T, posts ...model.RawRecord) *session.Session {
	t.Helper()
	if posts == nil {
		posts = []model.RawRecord{}
	}
	e.store.On("FetchPosts", mock.Anything, 50).Return(posts, nil).Once()
	tok, _, err := utils.GenerateToken(secret, utils.Claims{UserID: "u1", Email: "alice@example.com"}, time.Hour)
	require.NoError(t, err)

	w := e.do(http.MethodPost, "/session", nil, "Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s, ok := e.sessions.Current()
	require.True(t, ok)
	return s
}

func TestSessionEndpoints(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/feed", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrNoSession, decode(t, w, nil).Code)

	w = e.do(http.MethodPost, "/session", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	e.signIn(t, rawPost("p1", "u2"))

	var feed struct {
		Posts []model.Post `json:"posts"`
	}
	w = e.do(http.MethodGet, "/feed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &feed)
	require.Len(t, feed.Posts, 1)
	assert.Equal(t, "p1", feed.Posts[0].ID)

	w = e.do(http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodGet, "/feed", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePost(t *testing.T) {
	e := newEnv(t)
	e.signIn(t)

	t.Run("optimistic", func(t *testing.T) {
		gate := make(chan struct{})
		e.store.On("CreatePost", mock.Anything, mock.MatchedBy(func(in model.NewPost) bool { return in.Content == "first" })).
			Run(func(mock.Arguments) { <-gate }).Return(rawPost("p10", "u1"), nil).Once()

		var post model.Post
		w := e.do(http.MethodPost, "/feed/posts", PostInput{Content: "first"})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		decode(t, w, &post)
		assert.True(t, post.Provisional)
		assert.True(t, strings.HasPrefix(post.ID, "local-"))

		close(gate)
		s, _ := e.sessions.Current()
		assert.Eventually(t, func() bool {
			_, ok := s.Collection.Post("p10")
			return ok
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("wait for confirmation", func(t *testing.T) {
		e.store.On("CreatePost", mock.Anything, mock.MatchedBy(func(in model.NewPost) bool { return in.Content == "second" })).
			Return(rawPost("p11", "u1"), nil).Once()

		var post model.Post
		w := e.do(http.MethodPost, "/feed/posts?wait=true", PostInput{Content: "second"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &post)
		assert.Equal(t, "p11", post.ID)
		assert.False(t, post.Provisional)
	})

	t.Run("empty draft", func(t *testing.T) {
		w := e.do(http.MethodPost, "/feed/posts", PostInput{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUpdatePost(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, rawPost("p1", "u1"), rawPost("p2", "u2"))

	t.Run("author edits", func(t *testing.T) {
		edited := rawPost("p1", "u1")
		edited["content"] = "edited"
		e.store.On("UpdatePost", mock.Anything, "p1", model.Patch{Content: "edited"}).Return(edited, nil).Once()

		var post model.Post
		w := e.do(http.MethodPut, "/feed/posts/p1?wait=true", UpdatePostInput{Content: "edited"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &post)
		assert.Equal(t, "edited", post.Content)

		s, _ := e.sessions.Current()
		p, _ := s.Collection.Post("p1")
		assert.Equal(t, "edited", p.Content)
	})

	t.Run("someone else's post", func(t *testing.T) {
		w := e.do(http.MethodPut, "/feed/posts/p2", UpdatePostInput{Content: "mine now"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("nothing to change", func(t *testing.T) {
		w := e.do(http.MethodPut, "/feed/posts/p1", UpdatePostInput{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, rawPost("p1", "u2"))

	w := e.do(http.MethodDelete, "/feed/posts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodDelete, "/feed/posts/p1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the author may delete")

	w = e.do(http.MethodPost, "/feed/like", LikeInput{Kind: "comment", PostID: "p1"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "comment likes need a comment id")

	e.store.On("SetLike", mock.Anything, mock.Anything, true).Return(errors.New("timeout")).Once()
	w = e.do(http.MethodPost, "/feed/like?wait=true", LikeInput{Kind: "post", PostID: "p1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, response.ErrRemoteFailure, decode(t, w, nil).Code)

	s, _ := e.sessions.Current()
	p, ok := s.Collection.Post("p1")
	require.True(t, ok)
	assert.False(t, p.LikedByMe, "failed like is rolled back")
	assert.Equal(t, int64(0), p.Likes)
}

func TestGetCommentsLoadsOnce(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, rawPost("p1", "u2"))

	e.store.On("FetchComments", mock.Anything, "p1").Return([]model.RawRecord{
		{
			"id": "c1", "post_id": "p1", "content": "root",
			"created_at": time.Now().Format(time.RFC3339Nano),
			"user":       map[string]interface{}{"id": "u2", "username": "bob"},
		},
	}, nil).Once()

	var out CommentsOutput
	w := e.do(http.MethodGet, "/feed/posts/p1/comments", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &out)
	require.Len(t, out.Comments, 1)
	assert.Equal(t, int64(1), out.Count)

	// second read is served locally
	w = e.do(http.MethodGet, "/feed/posts/p1/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	e.store.AssertNumberOfCalls(t, "FetchComments", 1)

	w = e.do(http.MethodGet, "/feed/posts/nope/comments", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchEndpoints(t *testing.T) {
	e := newEnv(t)
	s := e.signIn(t, rawPost("p1", "u2"))

	w := e.do(http.MethodPost, "/feed/posts/p1/watch", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, ok := s.Reconciler.Lookup(model.Scope{PostID: "p1"})
	assert.True(t, ok)

	w = e.do(http.MethodDelete, "/feed/posts/p1/watch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		_, ok := s.Reconciler.Lookup(model.Scope{PostID: "p1"})
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStreamPushesChanges(t *testing.T) {
	e := newEnv(t)
	s := e.signIn(t)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello collection.Change
	require.NoError(t, conn.ReadJSON(&hello))

	s.Collection.PrependPost(model.Post{ID: "p5", Content: "pushed", CreatedAt: time.Now()})

	var change collection.Change
	require.NoError(t, conn.ReadJSON(&change))
	assert.Greater(t, change.Version, hello.Version)
	assert.Equal(t, collection.ReasonPosts, change.Reason)

	// sign-out closes the stream
	e.sessions.SignOut(context.Background())
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
}
