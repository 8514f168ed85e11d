// Package push はログインセッションごとの待受コネクションを管理し、
// 発行したトークンを待受側へ1回だけ配信する。
package push

import (
	"log/slog"
	"sync"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
)

// WebSocketのクローズコード。
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseTryAgainLater   = 1013
)

// Conn は待受コネクションの抽象。
// Sendは1つのメッセージを送り、Closeはクローズコード付きで接続を閉じる。
type Conn interface {
	Send(v any) error
	Close(code int, reason string) error
}

// TokenMessage は待受側へ送るトークン通知。
type TokenMessage struct {
	Token string `json:"token"`
}

// StatusMessage は待受側へ送る状態通知。
type StatusMessage struct {
	Message string `json:"message"`
}

// Waiting は待受開始直後に送る通知。
var Waiting = StatusMessage{Message: "waiting"}

// Registry はセッションIDごとに高々1つのコネクションを保持する。
// 同じセッションへ再購読すると古いコネクションは閉じられる。
type Registry struct {
	mu      sync.Mutex
	conns   map[string]Conn
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewRegistry はRegistryを生成する。
func NewRegistry(logger *slog.Logger, m metrics.MetricsCollector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[string]Conn),
		logger:  logger,
		metrics: metrics.OrNop(m),
	}
}

// Subscribe はセッションの待受コネクションを登録する。
// 既存のコネクションがあれば置き換え、古い方を閉じる。
func (r *Registry) Subscribe(sessionID string, c Conn) {
	r.mu.Lock()
	old := r.conns[sessionID]
	r.conns[sessionID] = c
	r.mu.Unlock()

	if old == nil || old == c {
		return
	}
	if err := old.Close(CloseGoingAway, "superseded by a new subscriber"); err != nil {
		r.logger.Debug("置き換えられたコネクションのクローズに失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	r.metrics.RecordPushDelivery(metrics.PushSuperseded)
}

// Unsubscribe はcが現在の待受コネクションである場合に限り登録を外す。
// 置き換え済みの古いコネクションが新しい登録を消さないようにする。
func (r *Registry) Unsubscribe(sessionID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[sessionID] != c {
		return false
	}
	delete(r.conns, sessionID)
	return true
}

// Has は待受コネクションが登録されているかを返す。
func (r *Registry) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[sessionID]
	return ok
}

// Len は登録中のコネクション数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Deliver は待受コネクションへトークンを送り、送信後に正常クローズする。
// コネクションはロック下で登録から取り出すため、再購読と競合しても配信先は高々1つ。
// 送信できた場合にtrueを返す。相手が既に切断していた場合はエラーにせずfalseを返す。
func (r *Registry) Deliver(sessionID, token string) bool {
	r.mu.Lock()
	c, ok := r.conns[sessionID]
	if ok {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		r.metrics.RecordPushDelivery(metrics.PushNoSubscriber)
		return false
	}

	if err := c.Send(TokenMessage{Token: token}); err != nil {
		r.logger.Info("トークン配信前に待受側が切断していました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		_ = c.Close(CloseNormal, "")
		r.metrics.RecordPushDelivery(metrics.PushPeerGone)
		return false
	}

	if err := c.Close(CloseNormal, "token delivered"); err != nil {
		r.logger.Debug("配信後のコネクションのクローズに失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	r.metrics.RecordPushDelivery(metrics.PushDelivered)
	return true
}

// CloseAll は全コネクションを閉じる。シャットダウン時に使用する。
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(code, reason)
	}
}
