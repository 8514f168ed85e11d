// Package domain は承認済みドメインの参照・更新・削除を提供する。
// 更新と削除はDNSプロバイダへの反映が成功した場合にのみ永続化する。
package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/dns"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/notify"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// RecordManager はDNSプロバイダのレコード操作。
type RecordManager interface {
	CreateRecord(ctx context.Context, zoneID string, rec model.Record) (string, error)
	UpdateRecord(ctx context.Context, zoneID, recordID string, rec model.Record) error
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}

// Service はドメイン管理のサービス層。
type Service struct {
	domains  repository.DomainRepository
	zones    *dns.Zones
	provider RecordManager
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	domains repository.DomainRepository,
	zones *dns.Zones,
	provider RecordManager,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		domains:  domains,
		zones:    zones,
		provider: provider,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// List はユーザーの保有ドメインを返す。
func (s *Service) List(ctx context.Context, user *model.User) ([]*model.Domain, error) {
	domains, err := s.domains.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return domains, nil
}

// Owned はユーザーが保有する指定名のドメインと所属ゾーンを返す。
func (s *Service) Owned(ctx context.Context, user *model.User, name string) (*model.Domain, *dns.Target, error) {
	target, err := s.zones.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	domain, err := s.domains.FindByUserAndName(ctx, user.ID, target.Name)
	if err != nil {
		return nil, nil, model.NewStoreUnavailableError(err)
	}
	if domain == nil {
		return nil, nil, model.NewDomainNotFoundError(target.Name)
	}
	return domain, target, nil
}

// Update はドメインのレコード内容を書き換える。
// 承認時にレコード作成に失敗していたドメインは、ここで改めて作成する。
func (s *Service) Update(ctx context.Context, user *model.User, rec model.Record) (*model.Domain, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	domain, target, err := s.Owned(ctx, user, rec.Name)
	if err != nil {
		return nil, err
	}
	rec.Name = target.Name

	if domain.Provisioned() {
		if err := s.provider.UpdateRecord(ctx, target.ZoneID, domain.RecordID, rec); err != nil {
			s.logUpstreamError("DNSレコードの更新に失敗しました", domain, err)
			return nil, model.NewUpstreamUnavailableError("cloudflare", err)
		}
	} else {
		recordID, err := s.provider.CreateRecord(ctx, target.ZoneID, rec)
		if err != nil {
			s.logUpstreamError("未作成のDNSレコードの作成に失敗しました", domain, err)
			return nil, model.NewUpstreamUnavailableError("cloudflare", err)
		}
		domain.RecordID = recordID
		if err := s.domains.SetRecordID(ctx, domain.ID, recordID); err != nil {
			return nil, model.NewStoreUnavailableError(err)
		}
	}

	domain.Record = rec
	domain.UpdatedAt = s.now()
	if err := s.domains.UpdateRecord(ctx, domain); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	s.logger.Info("ドメインを更新しました",
		slog.String("domain_id", domain.ID),
		slog.String("domain", domain.Name()),
		slog.String("user_id", user.ID),
	)
	detail := rec.AuditDetail()
	detail["domain_id"] = domain.ID
	detail["record_id"] = domain.RecordID
	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditDomainUpdated,
		Actor:   user,
		Subject: domain.Name(),
		Detail:  detail,
	})
	return domain, nil
}

// Delete はDNSレコードを削除してからドメインを削除する。
func (s *Service) Delete(ctx context.Context, user *model.User, name string) (*model.Domain, error) {
	domain, target, err := s.Owned(ctx, user, name)
	if err != nil {
		return nil, err
	}

	if domain.Provisioned() {
		if err := s.provider.DeleteRecord(ctx, target.ZoneID, domain.RecordID); err != nil {
			s.logUpstreamError("DNSレコードの削除に失敗しました", domain, err)
			return nil, model.NewUpstreamUnavailableError("cloudflare", err)
		}
	}
	if err := s.domains.Delete(ctx, domain.ID); err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	s.logger.Info("ドメインを削除しました",
		slog.String("domain_id", domain.ID),
		slog.String("domain", domain.Name()),
		slog.String("user_id", user.ID),
	)
	s.notifier.Audit(model.AuditEvent{
		Kind:    model.AuditDomainDeleted,
		Actor:   user,
		Subject: domain.Name(),
		Detail:  map[string]string{"domain_id": domain.ID, "record_id": domain.RecordID},
	})
	return domain, nil
}

func (s *Service) logUpstreamError(msg string, domain *model.Domain, err error) {
	s.logger.Error(msg,
		slog.String("domain_id", domain.ID),
		slog.String("domain", domain.Name()),
		slog.String("record_id", domain.RecordID),
		slog.String("error", err.Error()),
	)
}
