// Package ticket はドメイン申請チケットの受付とモデレーター判断による状態遷移を提供する。
//
// 状態遷移は PENDING からの一方向のみで、承認・却下・取り下げはいずれも
// 永続化層の条件付き更新で行う。同じ判断が再送されても二重に処理しない。
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sunrin-today/cli-domain-backend/internal/dns"
	"github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/notify"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// nameTakenReason は同名ドメインが先に承認されていた場合の却下理由。
const nameTakenReason = "이미 다른 사용자가 사용 중인 도메인입니다."

// RecordProvisioner はDNSプロバイダのうち申請処理で使う操作。
type RecordProvisioner interface {
	IsAvailable(ctx context.Context, zoneID, name string) (bool, error)
	CreateRecord(ctx context.Context, zoneID string, rec model.Record) (string, error)
}

// Reviewer はモデレーションチャンネルへの審査依頼の送信先。
type Reviewer interface {
	RequestReview(ctx context.Context, ticket *model.DomainTicket, owner *model.User) error
}

// DomainStore はドメインの永続化のうち申請処理で使う操作。
type DomainStore interface {
	CountByUser(ctx context.Context, userID string) (int, error)
	SetRecordID(ctx context.Context, id, recordID string) error
}

// UserFinder は通知先ユーザーの検索。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service はドメイン申請のビジネスロジックを提供する。
type Service struct {
	tickets  repository.TicketRepository
	domains  DomainStore
	users    UserFinder
	zones    *dns.Zones
	provider RecordProvisioner
	reviewer Reviewer
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	tickets repository.TicketRepository,
	domains DomainStore,
	users UserFinder,
	zones *dns.Zones,
	provider RecordProvisioner,
	reviewer Reviewer,
	notifier notify.Notifier,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	return &Service{
		tickets:  tickets,
		domains:  domains,
		users:    users,
		zones:    zones,
		provider: provider,
		reviewer: reviewer,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics.OrNop(m),
		now:      time.Now,
	}
}

// AvailableRoots は申請を受け付けるルートドメインを返す。
func (s *Service) AvailableRoots() []string {
	return s.zones.Roots()
}

// Exist はドメイン名がポリシーを満たし、かつDNSプロバイダ上で未使用かどうかを返す。
func (s *Service) Exist(ctx context.Context, name string) (*dns.Target, bool, error) {
	target, err := s.zones.Resolve(name)
	if err != nil {
		return nil, false, err
	}
	available, err := s.provider.IsAvailable(ctx, target.ZoneID, target.Name)
	if err != nil {
		return nil, false, model.NewUpstreamUnavailableError("cloudflare", err)
	}
	return target, available, nil
}

// Submit はドメイン申請を受け付ける。
// 検査順序: 名前ポリシー → プロバイダ上の空き → 申請上限 → 重複申請。
// 審査依頼の送信に失敗してもチケットは残し、運用者向けにログへ記録する。
func (s *Service) Submit(ctx context.Context, user *model.User, rec model.Record) (*model.DomainTicket, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	target, available, err := s.Exist(ctx, rec.Name)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, model.NewDomainUnavailableError(target.Name)
	}
	rec.Name = target.Name

	limit, err := s.checkQuota(ctx, user)
	if err != nil {
		return nil, err
	}

	pending, err := s.tickets.ExistsPending(ctx, user.ID, rec.Name)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if pending {
		return nil, model.NewDuplicateRequestError(rec.Name)
	}

	now := s.now()
	ticket := &model.DomainTicket{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Record:    rec,
		Status:    model.TicketStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.tickets.CreateWithinQuota(ctx, ticket, limit)
	if errors.Is(err, repository.ErrQuotaExceeded) {
		return nil, model.NewQuotaExceededError(limit)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewDuplicateRequestError(rec.Name)
	}
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	s.metrics.RecordTicketSubmitted()

	s.logger.Info("ドメイン申請を受け付けました",
		slog.String("ticket_id", ticket.ID),
		slog.String("user_id", user.ID),
		slog.String("domain", rec.Name),
	)

	if err := s.reviewer.RequestReview(ctx, ticket, user); err != nil {
		s.logger.Error("審査依頼の送信に失敗しました",
			slog.String("ticket_id", ticket.ID),
			slog.String("domain", rec.Name),
			slog.String("error", err.Error()),
		)
	}
	return ticket, nil
}

// checkQuota は審査中チケット数と保有ドメイン数の合計が上限未満であることを確認し、上限を返す。
// 同時申請との競合はCreateWithinQuotaで改めて判定する。
func (s *Service) checkQuota(ctx context.Context, user *model.User) (int, error) {
	limit := user.DomainLimit
	if limit <= 0 {
		limit = model.DefaultDomainLimit
	}
	pending, err := s.tickets.CountPendingByUser(ctx, user.ID)
	if err != nil {
		return 0, model.NewStoreUnavailableError(err)
	}
	owned, err := s.domains.CountByUser(ctx, user.ID)
	if err != nil {
		return 0, model.NewStoreUnavailableError(err)
	}
	if pending+owned >= limit {
		return 0, model.NewQuotaExceededError(limit)
	}
	return limit, nil
}

// Find はチケットを返す。存在しない場合はnilを返す。
func (s *Service) Find(ctx context.Context, ticketID string) (*model.DomainTicket, error) {
	if _, err := uuid.Parse(ticketID); err != nil {
		return nil, nil
	}
	ticket, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return ticket, nil
}

// Decide はモデレーターの判断をチケットに適用する。
// 存在しないチケットや終端状態のチケットに対しては何もせず、その結果を返す。
// 承認後のDNSレコード作成失敗はエラーにせず、運用者と申請者へ通知する。
func (s *Service) Decide(ctx context.Context, ticketID string, action model.DecisionAction, moderator string) (model.DecisionOutcome, error) {
	outcome, err := s.decide(ctx, ticketID, action, moderator)
	if err != nil {
		return "", err
	}
	s.metrics.RecordDecision(string(action), string(outcome))
	s.logger.Info("モデレーター判断を処理しました",
		slog.String("ticket_id", ticketID),
		slog.String("action", string(action)),
		slog.String("outcome", string(outcome)),
		slog.String("moderator", moderator),
	)
	return outcome, nil
}

func (s *Service) decide(ctx context.Context, ticketID string, action model.DecisionAction, moderator string) (model.DecisionOutcome, error) {
	if action != model.DecisionApprove && action != model.DecisionReject {
		return "", model.NewInvalidRequestError(fmt.Sprintf("未知の操作です: %s", action))
	}

	ticket, err := s.Find(ctx, ticketID)
	if err != nil {
		return "", err
	}
	if ticket == nil {
		return model.DecisionNotFound, nil
	}
	if ticket.Status.Terminal() {
		return model.DecisionAlreadyDecided, nil
	}

	owner, err := s.users.FindByID(ctx, ticket.UserID)
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}

	if action == model.DecisionReject {
		return s.reject(ctx, ticket, owner, moderator, "")
	}
	return s.approve(ctx, ticket, owner, moderator)
}

func (s *Service) approve(ctx context.Context, ticket *model.DomainTicket, owner *model.User, moderator string) (model.DecisionOutcome, error) {
	// 申請後にプロバイダ側で直接作られたレコードもここで検出する
	_, available, err := s.Exist(ctx, ticket.Record.Name)
	if err != nil {
		return "", err
	}
	if !available {
		return s.rejectTaken(ctx, ticket, owner, moderator)
	}

	now := s.now()
	domain := &model.Domain{
		ID:        uuid.New().String(),
		UserID:    ticket.UserID,
		TicketID:  ticket.ID,
		Record:    ticket.Record,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ok, err := s.tickets.Approve(ctx, ticket.ID, moderator, domain)
	if errors.Is(err, repository.ErrDuplicate) {
		return s.rejectTaken(ctx, ticket, owner, moderator)
	}
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}
	if !ok {
		return model.DecisionAlreadyDecided, nil
	}

	detail := ticket.Record.AuditDetail()
	detail["ticket_id"] = ticket.ID
	detail["domain_id"] = domain.ID

	recordID, err := s.provision(ctx, domain)
	if err != nil {
		s.metrics.RecordProvisioningFailure()
		s.logger.Error("承認済みドメインのDNSレコード作成に失敗しました",
			slog.String("ticket_id", ticket.ID),
			slog.String("domain_id", domain.ID),
			slog.String("domain", domain.Name()),
			slog.String("error", err.Error()),
		)
		s.notifier.Audit(model.AuditEvent{
			Kind:    model.AuditProvisioningFailed,
			Actor:   owner,
			Subject: domain.Name(),
			Detail: map[string]string{
				"ticket_id": ticket.ID,
				"domain":    domain.Name(),
				"error":     err.Error(),
			},
		})
		if owner != nil {
			s.notifier.Mail(mail.ProvisioningFailed(owner.Email, domain.Name()))
		}
		return model.DecisionProvisionFailed, nil
	}

	if err := s.domains.SetRecordID(ctx, domain.ID, recordID); err != nil {
		// レコードは作成済みのため、運用者が手で紐付けられるようハンドルを残す
		s.logger.Error("DNSレコードIDの保存に失敗しました",
			slog.String("domain_id", domain.ID),
			slog.String("record_id", recordID),
			slog.String("error", err.Error()),
		)
	}
	detail["record_id"] = recordID

	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditTicketApproved,
		Actor:   owner,
		Subject: domain.Name(),
		Detail:  detail,
	})
	if owner != nil {
		s.notifier.Mail(mail.Approved(owner.Email, domain.Name()))
	}
	return model.DecisionApplied, nil
}

// rejectTaken は名前が既に使われているチケットを却下する。
func (s *Service) rejectTaken(ctx context.Context, ticket *model.DomainTicket, owner *model.User, moderator string) (model.DecisionOutcome, error) {
	outcome, err := s.reject(ctx, ticket, owner, moderator, nameTakenReason)
	if err != nil || outcome != model.DecisionApplied {
		return outcome, err
	}
	return model.DecisionNameTaken, nil
}

// provision はドメインの所属ゾーンにDNSレコードを作成する。
func (s *Service) provision(ctx context.Context, domain *model.Domain) (string, error) {
	target, err := s.zones.Resolve(domain.Name())
	if err != nil {
		return "", err
	}
	return s.provider.CreateRecord(ctx, target.ZoneID, domain.Record)
}

func (s *Service) reject(ctx context.Context, ticket *model.DomainTicket, owner *model.User, moderator, reason string) (model.DecisionOutcome, error) {
	ok, err := s.tickets.TransitionStatus(ctx, ticket.ID, model.TicketStatusPending, model.TicketStatusRejected, moderator)
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}
	if !ok {
		return model.DecisionAlreadyDecided, nil
	}

	detail := ticket.Record.AuditDetail()
	detail["ticket_id"] = ticket.ID
	if reason != "" {
		detail["reason"] = reason
	}
	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditTicketRejected,
		Actor:   owner,
		Subject: ticket.Record.Name,
		Detail:  detail,
	})
	if owner != nil {
		s.notifier.Mail(mail.Rejected(owner.Email, ticket.Record.Name, reason))
	}
	return model.DecisionApplied, nil
}

// ownedTicket はユーザーが所有する取り下げ前のチケットを返す。
// 他人のチケットと取り下げ済みのチケットは存在しないものとして扱う。
func (s *Service) ownedTicket(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error) {
	ticket, err := s.Find(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket == nil || ticket.UserID != user.ID || ticket.Status == model.TicketStatusClosed {
		return nil, model.NewTicketNotFoundError(ticketID)
	}
	return ticket, nil
}

// Status は申請者本人のチケットを返す。
func (s *Service) Status(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error) {
	return s.ownedTicket(ctx, user, ticketID)
}

// Close は申請者本人がチケットを取り下げる。
// 審査済みのチケットも取り下げられるが、作成済みのドメインには影響しない。
func (s *Service) Close(ctx context.Context, user *model.User, ticketID string) (*model.DomainTicket, error) {
	// 判断と競合した場合は最新の状態から1回だけやり直す
	for attempt := 0; attempt < 2; attempt++ {
		ticket, err := s.ownedTicket(ctx, user, ticketID)
		if err != nil {
			return nil, err
		}
		ok, err := s.tickets.TransitionStatus(ctx, ticket.ID, ticket.Status, model.TicketStatusClosed, user.ID)
		if err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
		if !ok {
			continue
		}

		ticket.Status = model.TicketStatusClosed
		s.logger.Info("ドメイン申請を取り下げました",
			slog.String("ticket_id", ticket.ID),
			slog.String("user_id", user.ID),
		)
		s.notifier.Audit(model.AuditEvent{
			Kind:    model.AuditTicketClosed,
			Actor:   user,
			Subject: ticket.Record.Name,
			Detail:  map[string]string{"ticket_id": ticket.ID},
		})
		return ticket, nil
	}
	return nil, model.NewTicketNotFoundError(ticketID)
}

// List はユーザーのチケットを新しい順に返す。
func (s *Service) List(ctx context.Context, user *model.User, filter model.TicketFilter) ([]*model.DomainTicket, error) {
	if !filter.Valid() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("未知のフィルタです: %s", filter))
	}
	tickets, err := s.tickets.ListByUser(ctx, user.ID, filter)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return tickets, nil
}
