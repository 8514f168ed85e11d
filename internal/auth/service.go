// Package auth はブラウザでの本人確認とCLIへのトークン受け渡しを提供する。
// ログインセッションの作成、OAuthコールバック処理、ベアラートークンの発行と検証を含む。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/notify"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
)

// Identity はIDプロバイダから取得したプロフィール。
type Identity struct {
	Email   string
	Name    string
	Picture string
}

// IdentityProvider はOAuth IDプロバイダのインターフェース。
type IdentityProvider interface {
	// AuthorizationURL は認証URLを生成する。
	AuthorizationURL(state string) string
	// ExchangeCode は認可コードをプロフィールに交換する。
	ExchangeCode(ctx context.Context, code string) (*Identity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// DomainLimit は新規ユーザーに設定するドメイン保有上限。
	DomainLimit int
}

// CallbackResult はOAuthコールバック処理の結果。
type CallbackResult struct {
	Session *model.LoginSession
	User    *model.User
	// Delivered は待受コネクションへトークンを配信できたかどうか。
	Delivered bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	identity IdentityProvider
	states   *StateSigner
	sessions *SessionService
	tokens   *TokenService
	userRepo repository.UserRepository
	notifier notify.Notifier
	logger   *slog.Logger
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	identity IdentityProvider,
	states *StateSigner,
	sessions *SessionService,
	tokens *TokenService,
	userRepo repository.UserRepository,
	notifier notify.Notifier,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if config.DomainLimit <= 0 {
		config.DomainLimit = model.DefaultDomainLimit
	}
	return &Service{
		identity: identity,
		states:   states,
		sessions: sessions,
		tokens:   tokens,
		userRepo: userRepo,
		notifier: notifier,
		logger:   logger,
		config:   config,
	}
}

// StartLogin はログインセッションを作成する。
// 連携ログインの場合はリダイレクト先URLを検証する。
func (s *Service) StartLogin(ctx context.Context, kind model.SessionKind, applicationURL string) (*model.LoginSession, error) {
	if kind == "" {
		kind = model.SessionKindLogin
	}
	if !kind.Valid() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("未知のセッション種別です: %s", kind))
	}

	switch kind {
	case model.SessionKindApplication:
		if err := security.ValidateApplicationURL(applicationURL); err != nil {
			return nil, model.NewInvalidURLError(err.Error())
		}
	default:
		applicationURL = ""
	}

	session, err := s.sessions.Create(ctx, kind, applicationURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ログインセッションを作成しました",
		slog.String("session_id", session.ID),
		slog.String("kind", string(kind)),
	)
	return session, nil
}

// AuthorizationURL はセッションIDを署名付きstateとして埋め込んだ認証URLを返す。
func (s *Service) AuthorizationURL(ctx context.Context, sessionID string) (string, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return "", err
	}
	state, err := s.states.Sign(sessionID)
	if err != nil {
		return "", err
	}
	return s.identity.AuthorizationURL(state), nil
}

// HandleCallback はOAuthコールバックを処理する。
// セッションにユーザーを紐付けたあと、待受コネクションがあればトークンを配信する。
// 配信できた場合はセッションを削除し、できなかった場合はポーリング用に残す。
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	if code == "" {
		return nil, model.NewInvalidRequestError("code がありません")
	}
	sessionID, err := s.states.Verify(state)
	if err != nil {
		s.logger.Warn("OAuth stateの検証に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewInvalidRequestError("state が不正です")
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeSessionNotFound) {
			return nil, model.NewSessionExpiredError()
		}
		return nil, err
	}

	identity, err := s.identity.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Error("IDプロバイダとの認可コード交換に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError("google", err)
	}

	user, err := s.findOrCreateUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	ok, err := s.sessions.Resolve(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewSessionExpiredError()
	}
	session.UserID = user.ID

	s.logger.Info("ログインセッションを解決しました",
		slog.String("session_id", sessionID),
		slog.String("user_id", user.ID),
	)

	delivered, err := s.deliver(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{Session: session, User: user, Delivered: delivered}, nil
}

// DeliverIfResolved は解決済みセッションの待受コネクションへトークンを配信する。
// コールバックが待受開始より先に完了した場合に使う。
func (s *Service) DeliverIfResolved(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !session.Resolved() {
		return false, nil
	}
	return s.deliver(ctx, sessionID, session.UserID)
}

// deliver は待受コネクションがある場合に限りトークンを発行して送る。
// 送信に失敗したトークンは失効させる。
func (s *Service) deliver(ctx context.Context, sessionID, userID string) (bool, error) {
	if !s.sessions.HasSubscriber(sessionID) {
		return false, nil
	}

	token, err := s.tokens.Issue(ctx, userID)
	if err != nil {
		return false, err
	}

	if !s.sessions.PushToken(sessionID, token) {
		if err := s.tokens.Revoke(ctx, token); err != nil {
			s.logger.Error("未配信トークンの失効に失敗しました",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
		return false, nil
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("配信済みセッションの削除に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}

// PollToken は解決済みセッションに対してトークンを発行する。
// セッションは削除しない。
func (s *Service) PollToken(ctx context.Context, sessionID string) (string, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !session.Resolved() {
		return "", model.NewSessionPendingError()
	}
	return s.tokens.Issue(ctx, session.UserID)
}

// Authenticate はベアラートークンを検証してユーザーを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialError()
	}
	return user, nil
}

// Logout はトークンを失効させる。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return model.NewInvalidCredentialError()
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return err
	}
	s.logger.Info("ログアウトしました")
	return nil
}

// findOrCreateUser はメールアドレスでユーザーを検索し、存在しなければ作成する。
// 同時に初回ログインした場合は一意制約で片方が失敗するため、再検索して既存ユーザーを返す。
func (s *Service) findOrCreateUser(ctx context.Context, identity *Identity) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user != nil {
		return user, nil
	}

	now := time.Now()
	user = &model.User{
		ID:          uuid.New().String(),
		Email:       identity.Email,
		Nickname:    identity.Name,
		Avatar:      identity.Picture,
		DomainLimit: s.config.DomainLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, findErr := s.userRepo.FindByEmail(ctx, identity.Email)
		if findErr != nil {
			return nil, model.NewStoreUnavailableError(findErr)
		}
		if existing == nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	s.logger.Info("新しいユーザーを作成しました",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	s.notifier.Mail(mail.Welcome(user.Email, user.Nickname))
	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditUserCreated,
		Actor:   user,
		Subject: user.Nickname,
	})
	return user, nil
}
