package model

import "time"

// TicketStatus はドメイン申請チケットの状態を表す。
type TicketStatus string

const (
	// TicketStatusPending は審査待ち。
	TicketStatusPending TicketStatus = "PENDING"
	// TicketStatusApproved は承認済み。
	TicketStatusApproved TicketStatus = "APPROVED"
	// TicketStatusRejected は却下済み。
	TicketStatusRejected TicketStatus = "REJECTED"
	// TicketStatusClosed は申請者による取り下げ。
	TicketStatusClosed TicketStatus = "CLOSED"
)

// Terminal はそれ以上遷移しない状態かどうかを返す。
func (s TicketStatus) Terminal() bool {
	return s != TicketStatusPending
}

// TicketFilter はチケット一覧の絞り込み条件。空文字は全件。
type TicketFilter string

const (
	TicketFilterAll      TicketFilter = ""
	TicketFilterPending  TicketFilter = TicketFilter(TicketStatusPending)
	TicketFilterApproved TicketFilter = TicketFilter(TicketStatusApproved)
	TicketFilterRejected TicketFilter = TicketFilter(TicketStatusRejected)
	TicketFilterClosed   TicketFilter = TicketFilter(TicketStatusClosed)
)

// Valid はフィルタ値が既知かどうかを判定する。
func (f TicketFilter) Valid() bool {
	switch f {
	case TicketFilterAll, TicketFilterPending, TicketFilterApproved, TicketFilterRejected, TicketFilterClosed:
		return true
	}
	return false
}

// DomainTicket はドメイン登録申請を表す。
type DomainTicket struct {
	ID        string
	UserID    string
	Record    Record
	Status    TicketStatus
	DecidedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain は承認済みでDNSレコードが割り当てられたサブドメインを表す。
// RecordIDはDNSプロバイダ側のレコードハンドルで、作成失敗時は空のまま残る。
type Domain struct {
	ID        string
	UserID    string
	TicketID  string
	Record    Record
	RecordID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name はドメイン名を返す。
func (d *Domain) Name() string {
	return d.Record.Name
}

// Provisioned はDNSレコードが作成済みかどうかを返す。
func (d *Domain) Provisioned() bool {
	return d.RecordID != ""
}

// TransferInvite はドメイン所有権移管の招待を表す。
// DomainNameは参照用で、永続化時はドメイン行から引く。
type TransferInvite struct {
	ID          string
	DomainID    string
	DomainName  string
	UserID      string
	TargetEmail string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired は招待が期限切れかどうかを判定する。
func (i *TransferInvite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// DecisionAction はモデレーターの判断を表す。
type DecisionAction string

const (
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
)

// DecisionOutcome は判断処理の結果を表す。
type DecisionOutcome string

const (
	// DecisionApplied は状態遷移が行われた。
	DecisionApplied DecisionOutcome = "applied"
	// DecisionNotFound はチケットが存在しない。
	DecisionNotFound DecisionOutcome = "not_found"
	// DecisionAlreadyDecided は既に終端状態のため何もしなかった。
	DecisionAlreadyDecided DecisionOutcome = "already_decided"
	// DecisionProvisionFailed は承認したがDNSレコード作成に失敗した。
	DecisionProvisionFailed DecisionOutcome = "provision_failed"
	// DecisionNameTaken は同名ドメインが既に存在したため却下した。
	DecisionNameTaken DecisionOutcome = "name_taken"
)

// AuditKind は監査ログの種類を表す。
type AuditKind string

const (
	AuditUserCreated        AuditKind = "user_created"
	AuditTicketApproved     AuditKind = "ticket_approved"
	AuditTicketRejected     AuditKind = "ticket_rejected"
	AuditTicketClosed       AuditKind = "ticket_closed"
	AuditProvisioningFailed AuditKind = "provisioning_failed"
	AuditDomainUpdated      AuditKind = "domain_updated"
	AuditDomainDeleted      AuditKind = "domain_deleted"
	AuditTransferInvited    AuditKind = "transfer_invited"
	AuditTransferAccepted   AuditKind = "transfer_accepted"
)

// AuditEvent は運用者向け監査ログの1件を表す。
type AuditEvent struct {
	Kind    AuditKind
	Actor   *User
	Subject string
	Detail  map[string]string
}
