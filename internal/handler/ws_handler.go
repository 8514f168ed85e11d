package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunrin-today/cli-domain-backend/internal/push"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 4 << 10
)

var errConnClosed = errors.New("websocket: connection already closed")

// LoginSessionSubscriber はライブ配信の待受登録に必要なインターフェース。
type LoginSessionSubscriber interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
	Subscribe(sessionID string, c push.Conn)
	Unsubscribe(sessionID string, c push.Conn)
}

// TokenDeliverer は待受開始時点で本人確認が済んでいたセッションへトークンを配信する。
type TokenDeliverer interface {
	DeliverIfResolved(ctx context.Context, sessionID string) (bool, error)
}

// LiveHandler はログインセッションのトークンをWebSocketで配信するハンドラー。
type LiveHandler struct {
	sessions  LoginSessionSubscriber
	deliverer TokenDeliverer
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewLiveHandler はLiveHandlerを生成する。
// CLIはブラウザではないためOriginは検査しない。
func NewLiveHandler(sessions LoginSessionSubscriber, deliverer TokenDeliverer, logger *slog.Logger) *LiveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveHandler{
		sessions:  sessions,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// wsConn はpush.ConnのWebSocket実装。
// gorillaのコネクションは同時書き込みできないため書き込みを直列化する。
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	return c.conn.Close()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Serve はセッションのトークン配信を待ち受ける。
// 存在しないセッションは1008で閉じる。本人確認が済めばトークンを1回だけ送り1000で閉じる。
// GET /auth/login/session/ws?session_id=xxx
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade が既にエラーレスポンスを書き込んでいる
		h.logger.Debug("WebSocketのアップグレードに失敗しました", slog.String("error", err.Error()))
		return
	}
	conn := &wsConn{conn: ws}

	ctx := r.Context()
	exists := false
	if sessionID != "" {
		exists, err = h.sessions.Exists(ctx, sessionID)
		if err != nil {
			h.logger.Error("ログインセッションの確認に失敗しました",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			conn.Close(push.CloseTryAgainLater, "store unavailable")
			return
		}
	}
	if !exists {
		conn.Close(push.ClosePolicyViolation, "session not found")
		return
	}

	if err := conn.Send(push.Waiting); err != nil {
		conn.Close(push.CloseNormal, "")
		return
	}

	h.sessions.Subscribe(sessionID, conn)
	defer func() {
		h.sessions.Unsubscribe(sessionID, conn)
		conn.Close(push.CloseNormal, "")
	}()

	// 待受開始前にコールバックが完了していた場合はここで配信される
	if _, err := h.deliverer.DeliverIfResolved(ctx, sessionID); err != nil {
		h.logger.Warn("待受開始時のトークン配信に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	ws.SetReadLimit(wsReadLimit)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	// クライアントからのメッセージは使わない。切断検知のためだけに読む
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
