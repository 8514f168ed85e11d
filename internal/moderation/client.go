// Package moderation はDiscordを使ったチケット審査と監査ログの送信、
// およびインタラクションWebhookの検証を提供する。
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/upstream"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"
	maxErrorBody   = 512
)

// 埋め込みの色。
const (
	colorRequest = 0x00FFFF
	colorSuccess = 0x00FF00
	colorDanger  = 0xFF0000
)

// ClientConfig はClientの設定。
type ClientConfig struct {
	BaseURL         string
	BotToken        string
	VerifyChannelID string
	LogChannelID    string
}

// Client はDiscord REST APIのボットクライアント。
type Client struct {
	httpClient      *http.Client
	logger          *slog.Logger
	metrics         metrics.MetricsCollector
	baseURL         string
	botToken        string
	verifyChannelID string
	logChannelID    string
	now             func() time.Time
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, cfg ClientConfig, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		httpClient:      httpClient,
		logger:          logger,
		metrics:         metrics.OrNop(m),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		botToken:        cfg.BotToken,
		verifyChannelID: cfg.VerifyChannelID,
		logChannelID:    cfg.LogChannelID,
		now:             time.Now,
	}
}

type createMessage struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}

// RequestReview は審査チャンネルへ承認・却下ボタン付きのチケットを投稿する。
func (c *Client) RequestReview(ctx context.Context, ticket *model.DomainTicket, owner *model.User) error {
	embed := Embed{
		Title:       ticket.Record.Name + " 도메인 등록 요청",
		Description: renderRecord(ticket.Record),
		Color:       colorRequest,
		Author:      authorOf(owner),
		Footer:      &EmbedFooter{Text: "Ticket ID: " + ticket.ID},
		Timestamp:   c.now().UTC().Format(time.RFC3339),
	}
	msg := createMessage{
		Embeds:     []Embed{embed},
		Components: []ActionRow{reviewButtons(ticket.ID)},
	}
	return c.post(ctx, c.verifyChannelID, msg)
}

// Audit は運用ログチャンネルへ監査イベントを投稿する。
func (c *Client) Audit(ctx context.Context, ev model.AuditEvent) error {
	content, embed := renderAudit(ev)
	embed.Author = authorOf(ev.Actor)
	embed.Timestamp = c.now().UTC().Format(time.RFC3339)
	return c.post(ctx, c.logChannelID, createMessage{
		Content: content,
		Embeds:  []Embed{embed},
	})
}

func (c *Client) post(ctx context.Context, channelID string, msg createMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode discord message: %w", err)
	}

	endpoint := c.baseURL + "/channels/" + url.PathEscape(channelID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency("discord", time.Since(start))
	if err != nil {
		c.logger.Error("Discord APIの呼び出しに失敗しました",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Discord APIがエラーステータスを返しました",
			slog.String("channel_id", channelID),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(detail)),
		)
		return &upstream.StatusError{Service: "discord", StatusCode: resp.StatusCode}
	}
	return nil
}

func authorOf(u *model.User) *EmbedAuthor {
	if u == nil {
		return nil
	}
	return &EmbedAuthor{
		Name:    fmt.Sprintf("%s (%s)", u.Nickname, u.Email),
		IconURL: u.Avatar,
	}
}

// renderRecord はレコードをYAML風のコードブロックに整形する。
func renderRecord(rec model.Record) string {
	out := rec.Output()
	var b strings.Builder
	b.WriteString("```yaml\n")
	fmt.Fprintf(&b, "name: %s\n", out.Name)
	fmt.Fprintf(&b, "type: %s\n", out.Type)
	if out.Content != "" {
		fmt.Fprintf(&b, "content: %s\n", out.Content)
	}
	if len(out.Data) > 0 {
		fmt.Fprintf(&b, "data: %s\n", out.Data)
	}
	fmt.Fprintf(&b, "ttl: %d\n", out.TTL)
	fmt.Fprintf(&b, "proxied: %t\n", out.Proxied)
	b.WriteString("```")
	return b.String()
}

func detailBlock(detail map[string]string, keys ...string) string {
	var b strings.Builder
	b.WriteString("```yaml\n")
	for _, k := range keys {
		if v, ok := detail[k]; ok {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	b.WriteString("```")
	return b.String()
}

// renderAudit は監査イベントの種類ごとに本文と埋め込みを組み立てる。
func renderAudit(ev model.AuditEvent) (string, Embed) {
	d := ev.Detail
	switch ev.Kind {
	case model.AuditUserCreated:
		return "[유저 생성] " + ev.Subject, Embed{
			Title:       "[유저 생성] " + ev.Subject,
			Description: "사용자가 생성됨.",
			Color:       colorSuccess,
		}
	case model.AuditTicketApproved:
		return fmt.Sprintf("[새 도메인 등록] 도메인 ID=``%s``\n티켓 ID=``%s``", d["domain_id"], d["ticket_id"]), Embed{
			Title:       "[새 도메인 등록] " + ev.Subject,
			Description: detailBlock(d, "type", "content", "data", "ttl", "proxied", "record_id"),
			Color:       colorSuccess,
		}
	case model.AuditTicketRejected:
		return fmt.Sprintf("[도메인 거절] 티켓 ID=``%s``", d["ticket_id"]), Embed{
			Title:       "[도메인 거절] " + ev.Subject,
			Description: detailBlock(d, "type", "content", "data", "ttl", "proxied", "reason"),
			Color:       colorDanger,
		}
	case model.AuditTicketClosed:
		return fmt.Sprintf("[티켓 종료] 티켓 ID=``%s``", d["ticket_id"]), Embed{
			Title:       "[티켓 종료] " + ev.Subject,
			Description: "사용자가 티켓을 종료함.",
			Color:       colorSuccess,
		}
	case model.AuditProvisioningFailed:
		return "[서비스 에러] Cloudflare Record 생성 실패", Embed{
			Title:       "[서비스 에러] Cloudflare Record 생성 실패",
			Description: fmt.Sprintf("Ticket ID: %s\n%s", d["ticket_id"], detailBlock(d, "domain", "error")),
			Color:       colorDanger,
		}
	case model.AuditDomainUpdated:
		return fmt.Sprintf("[도메인 업데이트] 도메인 ID=``%s``\n도메인 Cloudflare Record ID = ``%s``", d["domain_id"], d["record_id"]), Embed{
			Title:       "[도메인 업데이트] " + ev.Subject,
			Description: detailBlock(d, "type", "content", "data", "ttl", "proxied"),
			Color:       colorSuccess,
		}
	case model.AuditDomainDeleted:
		return "[도메인 삭제]", Embed{
			Title:       "[도메인 삭제] " + ev.Subject,
			Description: fmt.Sprintf("도메인 삭제됨. %s이 삭제됨.", ev.Subject),
			Color:       colorDanger,
		}
	case model.AuditTransferInvited:
		return "[도메인 이전 링크 생성]", Embed{
			Title:       "[도메인 이전 링크 생성] " + ev.Subject,
			Description: fmt.Sprintf(" %s 도메인을 %s에게 이전할 수 있는 링크 생성됨.", ev.Subject, d["target_email"]),
			Color:       colorDanger,
		}
	case model.AuditTransferAccepted:
		return "[도메인 이전]", Embed{
			Title:       "[도메인 이전] " + ev.Subject,
			Description: fmt.Sprintf("도메인 이전됨. %s이 %s로 이전됨.", ev.Subject, d["target_email"]),
			Color:       colorDanger,
		}
	default:
		return "[" + string(ev.Kind) + "] " + ev.Subject, Embed{
			Title: "[" + string(ev.Kind) + "] " + ev.Subject,
			Color: colorSuccess,
		}
	}
}
