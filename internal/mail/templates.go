package mail

import (
	"fmt"
	"strings"
)

const (
	greeting  = "안녕하세요. 선린 도메인입니다."
	contact   = "자세한 문의는 domain@sunrin.kr로 문의해주세요."
	signature = "감사합니다.\nSunrin Domain 드림"
)

func body(lines ...string) string {
	all := append([]string{greeting}, lines...)
	all = append(all, signature)
	return strings.Join(all, "\n")
}

// Welcome は新規登録ユーザーへの歓迎メールを生成する。
func Welcome(to, name string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("[Sunrin Domain] %s님, 환영합니다!", name),
		Text: body(
			fmt.Sprintf("%s님, 환영합니다! 선린 도메인 서비스에 가입해 주셔서 감사합니다.", name),
			contact,
		),
	}
}

// Approved はドメイン承認通知を生成する。
func Approved(to, domain string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("[Sunrin Domain] %s 도메인 승인됨", domain),
		Text:    body(fmt.Sprintf("%s이 승인되었습니다. 이제 해당 도메인을 사용할 수 있습니다.", domain)),
	}
}

// Rejected はドメイン却下通知を生成する。reasonが空の場合は既定の理由を使う。
func Rejected(to, domain, reason string) Message {
	if reason == "" {
		reason = "관리자가 도메인 신청을 거절함."
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("[Sunrin Domain] %s 도메인 거절됨", domain),
		Text:    body(fmt.Sprintf("%s이 거절되었습니다. 사유: %s", domain, reason), contact),
	}
}

// ProvisioningFailed は承認後のDNSレコード作成失敗通知を生成する。
func ProvisioningFailed(to, domain string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("[Sunrin Domain] %s 도메인 생성 실패", domain),
		Text:    body(fmt.Sprintf("%s이 생성에 실패했습니다. 사유: 서비스 처리 도중 오류 발생", domain), contact),
	}
}

// TransferInvite はドメイン移管招待メールを生成する。
func TransferInvite(to, domain, inviter, acceptURL string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("[Sunrin Domain] %s 도메인 이전 초대", domain),
		Text: body(
			fmt.Sprintf("%s님이 %s 도메인을 이전하고자 합니다.", inviter, domain),
			acceptURL,
			"위 링크에서 도메인 이전을 수락할 수 있으며 일주일 후에 만료됩니다.",
			contact,
		),
	}
}
