// Package transfer はドメイン所有権の移管招待を扱う。
//
// 招待IDを知っていることと、招待先メールアドレスでログインしていることの
// 2点をもって移管を認める。招待IDは署名なしでメールに載せる。
package transfer

import (
	"context"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunrin-today/cli-domain-backend/internal/dns"
	mailtmpl "github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/notify"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// DefaultInviteTTL は招待の有効期間。
const DefaultInviteTTL = 7 * 24 * time.Hour

// DomainOwner はユーザーが保有するドメインの検索。
type DomainOwner interface {
	Owned(ctx context.Context, user *model.User, name string) (*model.Domain, *dns.Target, error)
}

// Config は移管サービスの設定。
type Config struct {
	// BaseURL は招待受諾リンクの基点URL。
	BaseURL string
	// InviteTTL は招待の有効期間。
	InviteTTL time.Duration
}

// Service は移管招待のビジネスロジックを提供する。
type Service struct {
	transfers repository.TransferRepository
	domains   DomainOwner
	notifier  notify.Notifier
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	transfers repository.TransferRepository,
	domains DomainOwner,
	notifier notify.Notifier,
	logger *slog.Logger,
	config Config,
) *Service {
	if config.InviteTTL <= 0 {
		config.InviteTTL = DefaultInviteTTL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Service{
		transfers: transfers,
		domains:   domains,
		notifier:  notifier,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// AcceptURL は招待受諾リンクを返す。
func (s *Service) AcceptURL(inviteID string) string {
	return s.config.BaseURL + "/transfer/accept?code=" + url.QueryEscape(inviteID)
}

// CreateInvite はユーザーが保有するドメインの移管招待を作成し、招待先へメールを送る。
func (s *Service) CreateInvite(ctx context.Context, user *model.User, domainName, targetEmail string) (*model.TransferInvite, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(targetEmail))
	if err != nil {
		return nil, model.NewInvalidRequestError("招待先のメールアドレスが不正です")
	}
	target := strings.ToLower(addr.Address)
	if strings.EqualFold(target, user.Email) {
		return nil, model.NewInvalidRequestError("自分自身には移管できません")
	}

	domain, _, err := s.domains.Owned(ctx, user, domainName)
	if err != nil {
		return nil, err
	}

	now := s.now()
	invite := &model.TransferInvite{
		ID:          uuid.New().String(),
		DomainID:    domain.ID,
		DomainName:  domain.Name(),
		UserID:      user.ID,
		TargetEmail: target,
		ExpiresAt:   now.Add(s.config.InviteTTL),
		CreatedAt:   now,
	}
	if err := s.transfers.Create(ctx, invite); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	s.logger.Info("移管招待を作成しました",
		slog.String("invite_id", invite.ID),
		slog.String("domain", domain.Name()),
		slog.String("user_id", user.ID),
	)
	s.notifier.Mail(mailtmpl.TransferInvite(target, domain.Name(), user.Nickname, s.AcceptURL(invite.ID)))
	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditTransferInvited,
		Actor:   user,
		Subject: domain.Name(),
		Detail:  map[string]string{"domain_id": domain.ID, "target_email": target},
	})
	return invite, nil
}

// lookup は招待を取得し、期限と受け手を検証する。
// 期限切れの招待は削除する。受け手が違う場合は削除しない。
func (s *Service) lookup(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error) {
	if _, err := uuid.Parse(inviteID); err != nil {
		return nil, model.NewInviteNotFoundError()
	}
	invite, err := s.transfers.FindByID(ctx, inviteID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if invite == nil {
		return nil, model.NewInviteNotFoundError()
	}
	if invite.Expired(s.now()) {
		if err := s.transfers.DeleteByID(ctx, invite.ID); err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		return nil, model.NewInviteExpiredError()
	}
	if !strings.EqualFold(invite.TargetEmail, user.Email) {
		s.logger.Warn("招待先と異なるユーザーが招待を使おうとしました",
			slog.String("invite_id", invite.ID),
			slog.String("user_id", user.ID),
		)
		return nil, model.NewInvalidInviteError()
	}
	return invite, nil
}

// Accept は招待を受諾し、ドメインの所有者を受け手に移す。
// DNSレコードハンドルはドメイン行ごと引き継がれる。
func (s *Service) Accept(ctx context.Context, inviteID string, user *model.User) (*model.TransferInvite, error) {
	invite, err := s.lookup(ctx, inviteID, user)
	if err != nil {
		return nil, err
	}

	ok, err := s.transfers.Complete(ctx, invite, user.ID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if !ok {
		// 招待元が既に削除・移管済み。招待はComplete内で削除されている
		s.logger.Info("招待元がドメインを保有していないため移管しませんでした",
			slog.String("invite_id", invite.ID),
			slog.String("domain_id", invite.DomainID),
		)
		return nil, model.NewInviteNotFoundError()
	}

	s.logger.Info("ドメインを移管しました",
		slog.String("invite_id", invite.ID),
		slog.String("domain_id", invite.DomainID),
		slog.String("from_user_id", invite.UserID),
		slog.String("to_user_id", user.ID),
	)
	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditTransferAccepted,
		Actor:   user,
		Subject: invite.DomainName,
		Detail:  map[string]string{"domain_id": invite.DomainID, "target_email": user.Email},
	})
	return invite, nil
}

// Reject は招待を辞退する。招待を削除する以外の影響はない。
func (s *Service) Reject(ctx context.Context, inviteID string, user *model.User) error {
	invite, err := s.lookup(ctx, inviteID, user)
	if err != nil {
		return err
	}
	if err := s.transfers.DeleteByID(ctx, invite.ID); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	s.logger.Info("移管招待を辞退しました", slog.String("invite_id", invite.ID))
	return nil
}
