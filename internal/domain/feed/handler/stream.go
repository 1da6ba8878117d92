package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"feedsync/internal/domain/feed/collection"
	"feedsync/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由 cors 中间件控制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream pushes collection change notifications over a websocket until the
// client disconnects or the session ends. Slow clients only see the most
// recent change; every notification carries the version to re-read.
func (h *FeedHandler) Stream(c *gin.Context) {
	s := currentSession(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes := make(chan collection.Change, 1)
	unsubscribe := s.Collection.Subscribe(func(ch collection.Change) {
		for {
			select {
			case changes <- ch:
				return
			default:
			}
			// 丢弃旧通知, 只保留最新
			select {
			case <-changes:
			default:
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hello := collection.Change{Version: s.Collection.Version(), Epoch: s.Collection.Epoch()}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ch := <-changes:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ch); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signed out")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-closed:
			return
		}
	}
}
