// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, policy, conflict, upstream, system
	Action   string            // ユーザー向け対処方法
	Context  map[string]string // 補足情報（ドメイン名など）
	Err      error             // 原因エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired      = "SESSION_EXPIRED"
	ErrCodeSessionPending      = "SESSION_PENDING"
	ErrCodeInvalidCredential   = "INVALID_CREDENTIAL"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeTicketNotFound      = "TICKET_NOT_FOUND"
	ErrCodeDomainNotFound      = "DOMAIN_NOT_FOUND"
	ErrCodeDomainNotAllowed    = "DOMAIN_NOT_ALLOWED"
	ErrCodeDomainUnavailable   = "DOMAIN_UNAVAILABLE"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeDuplicateRequest    = "DUPLICATE_REQUEST"
	ErrCodeInvalidRecord       = "INVALID_RECORD"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidURL          = "INVALID_URL"
	ErrCodeInviteNotFound      = "INVITE_NOT_FOUND"
	ErrCodeInviteExpired       = "INVITE_EXPIRED"
	ErrCodeInvalidInvite       = "INVALID_INVITE"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeBusy                = "BUSY"
)

// AsAPIError はerrがAPIErrorであればそれを返す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode はerrが指定コードのAPIErrorかどうかを判定する。
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// NewSessionNotFoundError はログインセッション未検出エラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "ログインセッションが見つかりません。",
		Category: "auth",
		Action:   "ログインセッションを作成し直してください。",
	}
}

// NewSessionExpiredError はログインセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "ログインセッションの有効期限が切れています。",
		Category: "auth",
		Action:   "ログインをやり直してください。",
	}
}

// NewSessionPendingError はまだ本人確認が完了していないセッションに対するエラーを生成する。
func NewSessionPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionPending,
		Message:  "ログインはまだ完了していません。",
		Category: "auth",
		Action:   "ブラウザでログインを完了してから再度お試しください。",
	}
}

// NewInvalidCredentialError は無効なアクセストークンのエラーを生成する。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "認証情報が無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewTicketNotFoundError はチケット未検出エラーを生成する。
func NewTicketNotFoundError(ticketID string) *APIError {
	return &APIError{
		Code:     ErrCodeTicketNotFound,
		Message:  fmt.Sprintf("指定されたチケットが見つかりません: %s", ticketID),
		Category: "validation",
		Action:   "チケットIDを確認してください。",
		Context:  map[string]string{"ticket_id": ticketID},
	}
}

// NewDomainNotFoundError はドメイン未検出エラーを生成する。
func NewDomainNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDomainNotFound,
		Message:  fmt.Sprintf("指定されたドメインが見つかりません: %s", name),
		Category: "validation",
		Action:   "所有しているドメイン名を確認してください。",
		Context:  map[string]string{"domain": name},
	}
}

// NewDomainNotAllowedError はポリシー違反のドメイン名エラーを生成する。
func NewDomainNotAllowedError(name, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeDomainNotAllowed,
		Message:  fmt.Sprintf("このドメイン名は利用できません: %s", reason),
		Category: "policy",
		Action:   "利用可能なルートドメイン直下のサブドメインを1階層だけ指定してください。",
		Context:  map[string]string{"domain": name},
	}
}

// NewDomainUnavailableError は既に使用中のドメイン名エラーを生成する。
func NewDomainUnavailableError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDomainUnavailable,
		Message:  fmt.Sprintf("このドメイン名は既に使用されています: %s", name),
		Category: "policy",
		Action:   "別のドメイン名を指定してください。",
		Context:  map[string]string{"domain": name},
	}
}

// NewQuotaExceededError はドメイン上限エラーを生成する。
func NewQuotaExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("ドメイン数が上限（%d件）に達しています。", limit),
		Category: "policy",
		Action:   "不要なドメインや申請を削除してから再度お試しください。",
		Context:  map[string]string{"limit": fmt.Sprint(limit)},
	}
}

// NewDuplicateRequestError は同一ドメインの申請が審査中の場合のエラーを生成する。
func NewDuplicateRequestError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateRequest,
		Message:  fmt.Sprintf("このドメインの申請は既に審査中です: %s", name),
		Category: "conflict",
		Action:   "審査結果をお待ちください。",
		Context:  map[string]string{"domain": name},
	}
}

// NewInvalidRecordError は無効なDNSレコードのエラーを生成する。
func NewInvalidRecordError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRecord,
		Message:  fmt.Sprintf("無効なレコードです: %s", reason),
		Category: "validation",
		Action:   "レコードの種別と値の形式を確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "https:// で始まる公開URLを指定してください。",
	}
}

// NewInviteNotFoundError は移管招待未検出エラーを生成する。
func NewInviteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeInviteNotFound,
		Message:  "移管招待が見つかりません。",
		Category: "validation",
		Action:   "招待コードを確認してください。",
	}
}

// NewInviteExpiredError は移管招待期限切れエラーを生成する。
func NewInviteExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeInviteExpired,
		Message:  "移管招待の有効期限が切れています。",
		Category: "validation",
		Action:   "ドメインの所有者に再度招待を依頼してください。",
	}
}

// NewInvalidInviteError は招待先と異なるユーザーが操作した場合のエラーを生成する。
func NewInvalidInviteError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInvite,
		Message:  "この移管招待はあなた宛てではありません。",
		Category: "auth",
		Action:   "招待されたメールアドレスのアカウントでログインしてください。",
	}
}

// NewUpstreamUnavailableError は外部サービス障害エラーを生成する。
func NewUpstreamUnavailableError(service string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("外部サービスとの通信に失敗しました: %s", service),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
		Context:  map[string]string{"service": service},
		Err:      err,
	}
}

// NewStoreUnavailableError はストア障害エラーを生成する。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewBusyError はバックグラウンドキューが満杯の場合のエラーを生成する。
func NewBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeBusy,
		Message:  "現在処理が混み合っています。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
