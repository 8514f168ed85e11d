package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/push"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// DefaultLoginSessionTTL はログインセッションの有効期間。
const DefaultLoginSessionTTL = 5 * time.Minute

// PushRegistry はセッションごとの待受コネクションの登録先。
type PushRegistry interface {
	Subscribe(sessionID string, c push.Conn)
	Unsubscribe(sessionID string, c push.Conn) bool
	Has(sessionID string) bool
	Deliver(sessionID, token string) bool
}

// SessionService はログインセッションの作成・解決と、待受側へのトークン配信を扱う。
type SessionService struct {
	repo     repository.LoginSessionRepository
	registry PushRegistry
	ttl      time.Duration
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewSessionService はSessionServiceを生成する。
func NewSessionService(
	repo repository.LoginSessionRepository,
	registry PushRegistry,
	ttl time.Duration,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *SessionService {
	if ttl <= 0 {
		ttl = DefaultLoginSessionTTL
	}
	return &SessionService{
		repo:     repo,
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics.OrNop(m),
		now:      time.Now,
	}
}

// Create は未解決のログインセッションを作成する。
func (s *SessionService) Create(ctx context.Context, kind model.SessionKind, applicationURL string) (*model.LoginSession, error) {
	now := s.now()
	session := &model.LoginSession{
		ID:             uuid.New().String(),
		Kind:           kind,
		ApplicationURL: applicationURL,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	s.metrics.RecordSessionCreated(string(kind))
	return session, nil
}

// Get は有効なセッションを返す。存在しないか期限切れの場合はSESSION_NOT_FOUND。
func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.LoginSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, model.NewSessionNotFoundError()
	}
	session, err := s.repo.FindByID(ctx, sessionID, s.now())
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}
	return session, nil
}

// Exists はセッションが有効かどうかを返す。
func (s *SessionService) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.Get(ctx, sessionID)
	if model.HasCode(err, model.ErrCodeSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Resolve はセッションにユーザーを紐付ける。期限切れで更新できなかった場合はfalseを返す。
func (s *SessionService) Resolve(ctx context.Context, sessionID, userID string) (bool, error) {
	ok, err := s.repo.Resolve(ctx, sessionID, userID, s.now())
	if err != nil {
		return false, model.NewStoreUnavailableError(err)
	}
	return ok, nil
}

// Delete はセッションを削除する。
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	if err := s.repo.DeleteByID(ctx, sessionID); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	return nil
}

// Subscribe はセッションの待受コネクションを登録する。
func (s *SessionService) Subscribe(sessionID string, c push.Conn) {
	s.registry.Subscribe(sessionID, c)
	s.logger.Info("ログインセッションの待受を開始しました", slog.String("session_id", sessionID))
}

// Unsubscribe は待受コネクションの登録を外す。
func (s *SessionService) Unsubscribe(sessionID string, c push.Conn) {
	if s.registry.Unsubscribe(sessionID, c) {
		s.logger.Debug("ログインセッションの待受を終了しました", slog.String("session_id", sessionID))
	}
}

// HasSubscriber は待受コネクションが存在するかを返す。
func (s *SessionService) HasSubscriber(sessionID string) bool {
	return s.registry.Has(sessionID)
}

// PushToken は待受コネクションへトークンを送り接続を閉じる。
// 待受がない場合や相手が既に切断していた場合はfalseを返す。
func (s *SessionService) PushToken(sessionID, token string) bool {
	return s.registry.Deliver(sessionID, token)
}
