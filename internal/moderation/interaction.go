package moderation

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

// インタラクション種別。
const (
	InteractionPing             = 1
	InteractionMessageComponent = 3
)

// インタラクション応答種別。
const (
	ResponsePong           = 1
	ResponseChannelMessage = 4
	ResponseUpdateMessage  = 7
)

const (
	componentActionRow = 1
	componentButton    = 2

	buttonSecondary = 2
	buttonSuccess   = 3
	buttonDanger    = 4

	flagEphemeral = 1 << 6
)

// Embed はDiscordメッセージの埋め込み。
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedAuthor は埋め込みの作成者欄。
type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedFooter は埋め込みのフッター。
type EmbedFooter struct {
	Text string `json:"text"`
}

// ActionRow はボタンを並べるコンポーネント行。
type ActionRow struct {
	Type       int      `json:"type"`
	Components []Button `json:"components"`
}

// Button はボタンコンポーネント。
type Button struct {
	Type     int    `json:"type"`
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

func reviewButtons(ticketID string) ActionRow {
	return ActionRow{
		Type: componentActionRow,
		Components: []Button{
			{Type: componentButton, Style: buttonSuccess, Label: "승인", CustomID: CustomID(model.DecisionApprove, ticketID)},
			{Type: componentButton, Style: buttonDanger, Label: "거절", CustomID: CustomID(model.DecisionReject, ticketID)},
		},
	}
}

// CustomID はボタンのcustom_idを組み立てる。
func CustomID(action model.DecisionAction, ticketID string) string {
	return string(action) + "@" + ticketID
}

// ErrUnknownCommand は解釈できないcustom_idを表す。
var ErrUnknownCommand = errors.New("moderation: unknown command")

// ParseCustomID はcustom_idを判断種別とチケットIDに分解する。
func ParseCustomID(customID string) (model.DecisionAction, string, error) {
	action, ticketID, ok := strings.Cut(customID, "@")
	if !ok || ticketID == "" {
		return "", "", ErrUnknownCommand
	}
	switch model.DecisionAction(action) {
	case model.DecisionApprove, model.DecisionReject:
		return model.DecisionAction(action), ticketID, nil
	}
	return "", "", ErrUnknownCommand
}

// Verifier はインタラクションWebhookのEd25519署名を検証する。
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier は16進文字列の公開鍵からVerifierを生成する。
func NewVerifier(hexKey string) (*Verifier, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid discord public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid discord public key length: %d", len(raw))
	}
	return &Verifier{key: ed25519.PublicKey(raw)}, nil
}

// Verify はタイムスタンプと本文を連結したメッセージに対する署名を検証する。
func (v *Verifier) Verify(signature, timestamp string, body []byte) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(v.key, msg, sig)
}

// Interaction は受信したインタラクションのうち利用する項目。
type Interaction struct {
	Type      int           `json:"type"`
	ChannelID string        `json:"channel_id"`
	Member    *Member       `json:"member"`
	Data      ComponentData `json:"data"`
	Message   *Message      `json:"message"`
}

// Member はギルドメンバー情報。
type Member struct {
	User  DiscordUser `json:"user"`
	Roles []string    `json:"roles"`
}

// DiscordUser はDiscordユーザー。
type DiscordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

// ComponentData はコンポーネント操作のデータ。
type ComponentData struct {
	CustomID string `json:"custom_id"`
}

// Message はインタラクション元のメッセージ。
type Message struct {
	Embeds []Embed `json:"embeds"`
}

// HasRole は操作者が指定ロールを持っているかを返す。
func (i *Interaction) HasRole(roleID string) bool {
	return i.Member != nil && slices.Contains(i.Member.Roles, roleID)
}

// Actor は操作者の表示名を返す。
func (i *Interaction) Actor() string {
	if i.Member == nil {
		return ""
	}
	return i.Member.User.Username
}

// ActorID は操作者のDiscordユーザーIDを返す。
func (i *Interaction) ActorID() string {
	if i.Member == nil {
		return ""
	}
	return i.Member.User.ID
}

// Response はインタラクションへの応答。
type Response struct {
	Type int           `json:"type"`
	Data *ResponseData `json:"data,omitempty"`
}

// ResponseData は応答メッセージの内容。
type ResponseData struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
	Flags      int         `json:"flags,omitempty"`
}

// Pong はPINGへの応答を返す。
func Pong() Response {
	return Response{Type: ResponsePong}
}

// Ephemeral は操作者にのみ表示されるメッセージ応答を返す。
func Ephemeral(content string) Response {
	return Response{
		Type: ResponseChannelMessage,
		Data: &ResponseData{Content: content, Flags: flagEphemeral},
	}
}

// DecisionAck は審査メッセージを判断結果の表示に差し替える応答を返す。
// ボタンは無効化したものに置き換え、二重操作を防ぐ。
func DecisionAck(i *Interaction, action model.DecisionAction) Response {
	var embed Embed
	if i.Message != nil && len(i.Message.Embeds) > 0 {
		embed = i.Message.Embeds[0]
	}

	var content, label string
	if action == model.DecisionApprove {
		embed.Title = "✅ " + strings.Replace(embed.Title, "요청", "승인됨", 1)
		content = fmt.Sprintf("승인되었습니다. (유저: %s)", i.Actor())
		label = "승인 처리됨"
	} else {
		embed.Title = "❌ " + strings.Replace(embed.Title, "요청", "거절됨", 1)
		content = fmt.Sprintf("거절했습니다. (유저: %s)", i.Actor())
		label = "거절 처리됨"
	}

	return Response{
		Type: ResponseUpdateMessage,
		Data: &ResponseData{
			Content: content,
			Embeds:  []Embed{embed},
			Components: []ActionRow{{
				Type:       componentActionRow,
				Components: []Button{{Type: componentButton, Style: buttonSecondary, Label: label, Disabled: true}},
			}},
		},
	}
}
