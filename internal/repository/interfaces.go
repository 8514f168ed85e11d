// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("repository: duplicate entry")

// ErrQuotaExceeded はユーザーの申請上限に達していることを表す。
var ErrQuotaExceeded = errors.New("repository: quota exceeded")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error
}

// LoginSessionRepository は短命なログインセッションの永続化インターフェース。
// 期限切れの行は存在しないものとして扱う。
type LoginSessionRepository interface {
	// Create はセッションを作成する。同一IDが存在する場合は上書きする。
	Create(ctx context.Context, session *model.LoginSession) error

	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string, now time.Time) (*model.LoginSession, error)

	// Resolve はセッションにユーザーを紐付ける。期限切れで更新できなかった場合はfalseを返す。
	Resolve(ctx context.Context, id, userID string, now time.Time) (bool, error)

	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccessTokenRepository はベアラートークンの永続化インターフェース。
type AccessTokenRepository interface {
	// Create はトークンを保存する。
	Create(ctx context.Context, token *model.AccessToken) error

	// FindByToken はトークンを取得する。存在しないか期限切れの場合はnilを返す。
	FindByToken(ctx context.Context, token string, now time.Time) (*model.AccessToken, error)

	// Touch はnow時点で有効なトークンに限り有効期限を延長する。
	// 期限切れまたは存在しない場合はfalseを返す。
	Touch(ctx context.Context, token string, now, expiresAt time.Time) (bool, error)

	// DeleteByToken はトークンを削除する。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired は期限切れのトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TicketRepository はドメイン申請チケットの永続化インターフェース。
type TicketRepository interface {
	// CreateWithinQuota はチケットを作成する。
	// 審査中チケット数と保有ドメイン数の合計がlimit以上の場合はErrQuotaExceededを返す。
	// 同一ユーザー・同一名の審査中チケットがある場合はErrDuplicateを返す。
	// 上限の確認と作成は同一ユーザーの他の申請と競合しない。
	CreateWithinQuota(ctx context.Context, ticket *model.DomainTicket, limit int) error

	// FindByID は指定IDのチケットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.DomainTicket, error)

	// ListByUser はユーザーのチケットを新しい順に返す。
	ListByUser(ctx context.Context, userID string, filter model.TicketFilter) ([]*model.DomainTicket, error)

	// CountPendingByUser はユーザーの審査中チケット数を返す。
	CountPendingByUser(ctx context.Context, userID string) (int, error)

	// ExistsPending はユーザーが同名の審査中チケットを持っているかを返す。
	ExistsPending(ctx context.Context, userID, name string) (bool, error)

	// TransitionStatus はチケットがfromの状態である場合に限りtoへ遷移させる。
	// 遷移しなかった場合はfalseを返す。
	TransitionStatus(ctx context.Context, id string, from, to model.TicketStatus, decidedBy string) (bool, error)

	// Approve は審査中チケットの承認とドメイン作成を同一トランザクションで行う。
	// チケットが審査中でなかった場合はfalseを返す。
	// 同名ドメインが既に存在する場合はErrDuplicateを返し、何も変更しない。
	Approve(ctx context.Context, ticketID, decidedBy string, domain *model.Domain) (bool, error)
}

// DomainRepository は承認済みドメインの永続化インターフェース。
type DomainRepository interface {
	// FindByName はドメイン名で検索する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Domain, error)

	// FindByUserAndName はユーザーが所有する指定名のドメインを返す。見つからない場合はnilを返す。
	FindByUserAndName(ctx context.Context, userID, name string) (*model.Domain, error)

	// ListByUser はユーザーのドメイン一覧を返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Domain, error)

	// CountByUser はユーザーのドメイン数を返す。
	CountByUser(ctx context.Context, userID string) (int, error)

	// SetRecordID はDNSプロバイダのレコードハンドルを保存する。
	SetRecordID(ctx context.Context, id, recordID string) error

	// UpdateRecord はレコード内容を更新する。
	UpdateRecord(ctx context.Context, domain *model.Domain) error

	// Delete は指定IDのドメインを削除する。
	Delete(ctx context.Context, id string) error
}

// TransferRepository はドメイン移管招待の永続化インターフェース。
type TransferRepository interface {
	// Create は招待を作成する。
	Create(ctx context.Context, invite *model.TransferInvite) error

	// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.TransferInvite, error)

	// DeleteByID は指定IDの招待を削除する。
	DeleteByID(ctx context.Context, id string) error

	// Complete はドメインの所有者を移し、招待を削除する。
	// 招待元がもうドメインを所有していない場合はfalseを返す。
	Complete(ctx context.Context, invite *model.TransferInvite, newOwnerID string) (bool, error)

	// DeleteExpired は期限切れの招待を削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
