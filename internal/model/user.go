// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultDomainLimit はユーザーごとのドメイン保有上限の既定値。
const DefaultDomainLimit = 5

// User はサービス利用ユーザーを表す。
// メールアドレスで一意に識別される。
type User struct {
	ID          string
	Email       string
	Nickname    string
	Avatar      string
	DomainLimit int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionKind はログインセッションの種別を表す。
type SessionKind string

const (
	// SessionKindLogin はCLIからの通常ログイン。
	SessionKindLogin SessionKind = "login"
	// SessionKindApplication は外部アプリケーション連携ログイン。
	SessionKindApplication SessionKind = "application"
)

// Valid は種別が既知の値かどうかを判定する。
func (k SessionKind) Valid() bool {
	return k == SessionKindLogin || k == SessionKindApplication
}

// LoginSession は本人確認待ちの短命なログインセッションを表す。
// UserIDが空の間は未解決。
type LoginSession struct {
	ID             string
	Kind           SessionKind
	UserID         string
	ApplicationURL string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Resolved は本人確認が完了しているかどうかを返す。
func (s *LoginSession) Resolved() bool {
	return s.UserID != ""
}

// AccessToken はユーザーに発行したベアラートークンを表す。
type AccessToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserProfile はユーザー情報と保有状況をまとめたもの。
type UserProfile struct {
	User           *User
	DomainCount    int
	PendingTickets int
}
