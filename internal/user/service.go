// Package user はユーザー情報の参照と保有状況の集計を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
)

// DomainCounter はユーザーの保有ドメイン数を数えるインターフェース。
type DomainCounter interface {
	CountByUser(ctx context.Context, userID string) (int, error)
}

// PendingTicketCounter はユーザーの審査中チケット数を数えるインターフェース。
type PendingTicketCounter interface {
	CountPendingByUser(ctx context.Context, userID string) (int, error)
}

// Service はユーザー情報のサービス層。
type Service struct {
	userRepo repository.UserRepository
	domains  DomainCounter
	tickets  PendingTicketCounter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	domains DomainCounter,
	tickets PendingTicketCounter,
) *Service {
	return &Service{
		userRepo: userRepo,
		domains:  domains,
		tickets:  tickets,
	}
}

// Profile はユーザー情報と、保有ドメイン数・審査中チケット数を返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(fmt.Errorf("ユーザーの取得に失敗しました: %w", err))
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	domainCount, err := s.domains.CountByUser(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(fmt.Errorf("保有ドメイン数の取得に失敗しました: %w", err))
	}
	pending, err := s.tickets.CountPendingByUser(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(fmt.Errorf("審査中チケット数の取得に失敗しました: %w", err))
	}

	slog.Debug("プロフィールを取得しました",
		slog.String("user_id", userID),
		slog.Int("domains", domainCount),
		slog.Int("pending", pending),
	)

	return &model.UserProfile{
		User:           user,
		DomainCount:    domainCount,
		PendingTickets: pending,
	}, nil
}

// Remaining は新たに申請できる残り件数を返す。
func Remaining(p *model.UserProfile) int {
	left := p.User.DomainLimit - p.DomainCount - p.PendingTickets
	if left < 0 {
		return 0
	}
	return left
}
